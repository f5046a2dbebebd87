package uplink

import (
	"errors"
	"fmt"

	"github.com/nerrad567/meshlink/internal/message"
)

// Domain-specific errors for uplink operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrTransport marks a socket or TLS failure; the session is torn down
	// and a reconnect cycle starts.
	ErrTransport = errors.New("uplink: transport failure")

	// ErrProtocol marks an unexpected or malformed control event; the session
	// is treated as dead.
	ErrProtocol = errors.New("uplink: protocol violation")

	// ErrNoFreeSlot is returned by Publish when all in-flight slots are taken.
	ErrNoFreeSlot = fmt.Errorf("uplink: no free publish slot: %w", message.ErrCapacity)

	// ErrBackoffExhausted ends a connect cycle after the attempt limit.
	ErrBackoffExhausted = errors.New("uplink: reconnect attempts exhausted")

	// ErrNotConnected is returned for operations that need a live session.
	ErrNotConnected = errors.New("uplink: not connected")

	// ErrConnackTimeout is returned when the broker does not acknowledge the
	// session-open request in time.
	ErrConnackTimeout = errors.New("uplink: session open not acknowledged")

	// ErrSubscribeRejected is returned when the broker refuses a filter.
	ErrSubscribeRejected = errors.New("uplink: subscription rejected by broker")

	// ErrNoPacketID is returned when every packet identifier is in use.
	ErrNoPacketID = fmt.Errorf("uplink: packet identifiers exhausted: %w", message.ErrCapacity)

	// ErrInvalidQoS is returned for QoS levels other than 0 and 1.
	ErrInvalidQoS = errors.New("uplink: invalid QoS level (must be 0 or 1)")

	// ErrClosed is returned once the manager has stopped.
	ErrClosed = errors.New("uplink: manager closed")
)
