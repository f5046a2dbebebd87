package uplink

import (
	"context"

	"github.com/nerrad567/meshlink/internal/message"
)

// EventKind identifies what a Session reported.
type EventKind int

// Session event kinds.
const (
	EventPubAck EventKind = iota + 1
	EventSubAck
	EventUnsubAck
	EventPublish
	EventConnectionLost
)

// String returns a readable event name for logs.
func (k EventKind) String() string {
	switch k {
	case EventPubAck:
		return "puback"
	case EventSubAck:
		return "suback"
	case EventUnsubAck:
		return "unsuback"
	case EventPublish:
		return "publish"
	case EventConnectionLost:
		return "connection_lost"
	default:
		return "unknown"
	}
}

// QoSFailure is the SUBACK return code for a refused filter.
const QoSFailure byte = 0x80

// Event is something the broker side of a Session delivered.
type Event struct {
	Kind EventKind

	// PacketID correlates acknowledgements with requests.
	PacketID uint16

	// Granted holds one return code per filter of a SUBACK.
	Granted []byte

	// Message is set for EventPublish.
	Message message.Message

	// Err is set for EventConnectionLost.
	Err error
}

// Session is the broker-facing transport of the uplink.
//
// Packet identifiers are chosen by the Manager; a Session reports the
// acknowledgement for identifier N as an Event carrying N. Implementations
// must be safe for concurrent use, and Events must stay valid across
// Open/Close cycles.
type Session interface {
	// Open performs the transport handshake and the session-open request.
	// It returns whether the broker resumed an existing session.
	Open(ctx context.Context, clean bool) (sessionPresent bool, err error)

	// Publish transmits msg. For QoS 1 the matching EventPubAck arrives later.
	Publish(ctx context.Context, packetID uint16, msg message.Message, qos byte, dup bool) error

	// Subscribe requests filters; an EventSubAck with packetID follows.
	Subscribe(ctx context.Context, packetID uint16, filters []string, qos byte) error

	// Unsubscribe removes filters; an EventUnsubAck with packetID follows.
	Unsubscribe(ctx context.Context, packetID uint16, filters []string) error

	// Events delivers acknowledgements, inbound publishes and connection loss.
	Events() <-chan Event

	// Close tears down the current connection. Open may be called again.
	Close() error
}

// Source is the outbound queue the uplink loop drains.
type Source interface {
	TryDequeue() (message.Message, bool)
}

// InboundSink receives publishes from the broker.
type InboundSink interface {
	PushInbound(msg message.Message) error
}

// KeyValueStore persists whether a broker session exists for this client.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
}
