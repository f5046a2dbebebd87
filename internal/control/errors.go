package control

import "errors"

// Domain-specific errors for control requests.
var (
	// ErrMalformedRequest is returned for undecodable or incomplete requests.
	ErrMalformedRequest = errors.New("control: malformed request")

	// ErrUnknownAction is returned for actions other than read and write.
	ErrUnknownAction = errors.New("control: unknown action")

	// ErrUnknownType is returned when a request reaches the wrong endpoint.
	ErrUnknownType = errors.New("control: unknown type")
)
