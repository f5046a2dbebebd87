package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when an operation needs an open connection.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the broker refuses or drops the
	// connect handshake.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish cannot be handed to paho.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe request is lost.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe request is lost.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrNoFilters is returned for subscribe or unsubscribe without filters.
	ErrNoFilters = errors.New("mqtt: at least one topic filter is required")

	// ErrClosed is returned when Close raced an in-progress Open.
	ErrClosed = errors.New("mqtt: session closed")
)
