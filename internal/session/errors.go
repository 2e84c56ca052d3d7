package session

import "errors"

// Domain errors for session operations.
var (
	// ErrNotStarted is returned by accessors that need a running session.
	ErrNotStarted = errors.New("session: not started")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("session: already started")

	// ErrConnect is returned when the broker connection cannot be opened
	// or subscribed.
	ErrConnect = errors.New("session: broker connect failed")

	// ErrNotConnected is returned by health checks while the broker
	// connection is down.
	ErrNotConnected = errors.New("session: broker not connected")

	// ErrClosed is returned when a Supervisor is used after Shutdown.
	ErrClosed = errors.New("session: supervisor closed")

	// ErrEventDropped is reported when the event buffer is full and an
	// inbound message is discarded.
	ErrEventDropped = errors.New("session: event buffer full, message dropped")
)
