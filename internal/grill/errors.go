package grill

import "errors"

// Domain errors for grill state handling.
var (
	// ErrMalformedPayload is returned when an inbound message cannot be
	// decoded into a Record.
	ErrMalformedPayload = errors.New("grill: malformed payload")
)
