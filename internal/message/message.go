package message

import "fmt"

// Bounds for topic and payload, in bytes.
const (
	MaxTopicLen   = 254
	MaxPayloadLen = 1023
)

// Message is a topic/payload pair with bounded sizes.
// The zero value is an empty message and is never produced by New.
type Message struct {
	topic   string
	payload string
}

// New builds a Message, copying payload.
//
// Returns ErrEmptyTopic for an empty topic and ErrTruncation when either
// field is longer than its bound.
func New(topic string, payload []byte) (Message, error) {
	if topic == "" {
		return Message{}, ErrEmptyTopic
	}
	if len(topic) > MaxTopicLen {
		return Message{}, fmt.Errorf("%w: topic is %d bytes, max %d", ErrTruncation, len(topic), MaxTopicLen)
	}
	if len(payload) > MaxPayloadLen {
		return Message{}, fmt.Errorf("%w: payload is %d bytes, max %d", ErrTruncation, len(payload), MaxPayloadLen)
	}
	return Message{topic: topic, payload: string(payload)}, nil
}

// NewString is New for string payloads.
func NewString(topic, payload string) (Message, error) {
	return New(topic, []byte(payload))
}

// Topic returns the message topic.
func (m Message) Topic() string { return m.topic }

// Payload returns a fresh copy of the payload bytes.
func (m Message) Payload() []byte { return []byte(m.payload) }

// PayloadString returns the payload as a string without copying.
func (m Message) PayloadString() string { return m.payload }

// IsZero reports whether m is the zero Message.
func (m Message) IsZero() bool { return m.topic == "" && m.payload == "" }

// String implements fmt.Stringer for logging.
func (m Message) String() string {
	return fmt.Sprintf("%s (%d bytes)", m.topic, len(m.payload))
}
