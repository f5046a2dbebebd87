package mesh

import "errors"

// Domain-specific errors for mesh operations.
var (
	// ErrInvalidFrame is returned for a routing frame with a wrong tag or length.
	ErrInvalidFrame = errors.New("mesh: invalid routing frame")

	// ErrInvalidAddress is returned when a peer address cannot be parsed.
	ErrInvalidAddress = errors.New("mesh: invalid address")

	// ErrTableTooLarge is returned when a routing table exceeds the peer limit.
	ErrTableTooLarge = errors.New("mesh: routing table exceeds peer limit")
)
