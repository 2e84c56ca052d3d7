package cloud

import "errors"

// Domain errors for cloud operations.
// Use errors.Is() to check for these errors in calling code; transport
// failures are wrapped together with the operation's own error, so
// errors.Is(err, ErrTransport) distinguishes "network trouble" from
// "the cloud said no".
var (
	// ErrAuth is returned when the identity exchange fails or its response
	// is missing the token fields.
	ErrAuth = errors.New("cloud: authentication failed")

	// ErrLease is returned when a broker lease cannot be issued.
	ErrLease = errors.New("cloud: lease issuance failed")

	// ErrDeviceList is returned when the account's devices cannot be listed.
	ErrDeviceList = errors.New("cloud: device listing failed")

	// ErrCommand is returned when a command submission is not accepted.
	ErrCommand = errors.New("cloud: command failed")

	// ErrTransport is returned alongside the errors above when the HTTPS
	// call itself failed (timeout, connection refused, non-2xx status).
	ErrTransport = errors.New("cloud: transport error")
)
