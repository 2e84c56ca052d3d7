package cloud

import "time"

// Credentials are the account username and password. They are forwarded to
// the identity provider and never stored anywhere else.
type Credentials struct {
	Username string
	Password string
}

// Token is a bearer token and the instant it stops being accepted.
type Token struct {
	Value  string
	Expiry time.Time

	// Subject is the account subject decoded from the token, if any.
	Subject string
}

// IsZero reports whether no token has been obtained.
func (t Token) IsZero() bool {
	return t.Value == ""
}

// Lease is a signed broker URL and the instant the signature expires.
type Lease struct {
	URL    string
	Expiry time.Time
}

// IsZero reports whether no lease has been obtained.
func (l Lease) IsZero() bool {
	return l.URL == ""
}

// Device is one entry of the account's device listing.
// The listing is fetched once per session start and not refreshed.
type Device struct {
	ThingName    string `json:"thingName"`
	FriendlyName string `json:"friendlyName,omitempty"`

	// Raw holds every field the listing returned for this device.
	Raw map[string]any `json:"-"`
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
