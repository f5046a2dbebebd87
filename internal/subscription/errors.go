package subscription

import (
	"errors"
	"fmt"

	"github.com/nerrad567/meshlink/internal/message"
)

// Domain-specific errors for subscription operations.
var (
	// ErrUnknownTopic is returned by PushInbound for a topic with no entry.
	ErrUnknownTopic = errors.New("subscription: unknown topic")

	// ErrQueueFull is returned when a topic's inbound queue has no room.
	ErrQueueFull = fmt.Errorf("subscription: inbound queue full, message dropped: %w", message.ErrCapacity)

	// ErrNilHandler is returned by AddTopic without a handler.
	ErrNilHandler = errors.New("subscription: handler is nil")
)
