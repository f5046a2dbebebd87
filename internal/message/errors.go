package message

import "errors"

// Error kinds shared across the communication substrate.
// Packages wrap these so callers can classify failures with errors.Is.
var (
	// ErrTruncation is returned when a topic or payload exceeds its bound.
	ErrTruncation = errors.New("message: value exceeds bound")

	// ErrEmptyTopic is returned when a message is built without a topic.
	ErrEmptyTopic = errors.New("message: topic cannot be empty")

	// ErrCapacity marks a local drop caused by a full queue or table.
	// It is never fatal; the caller logs and moves on.
	ErrCapacity = errors.New("message: capacity exhausted")

	// ErrEncoding is returned when an envelope payload cannot be encoded.
	ErrEncoding = errors.New("message: payload encoding failed")
)
