package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope keys added to every outbound payload.
const (
	KeyMeshID    = "mesh_id"
	KeyDeviceID  = "device_id"
	KeyTimestamp = "timestamp_value"
)

// Envelope identifies the sender of an outbound payload.
type Envelope struct {
	MeshID   string
	DeviceID string
}

// Encode merges the envelope with fields into one flat JSON object.
//
// fields may be a map or any value that marshals to a JSON object (a struct
// with json tags, for instance). A nil fields value yields the envelope alone.
// Field values are carried through as raw JSON, so numbers keep their exact
// text. On key collision the envelope wins.
func (e Envelope) Encode(fields any, at time.Time) ([]byte, error) {
	var merged map[string]json.RawMessage

	if fields != nil {
		raw, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
		}
		if err := json.Unmarshal(raw, &merged); err != nil {
			return nil, fmt.Errorf("%w: fields must encode to a JSON object: %w", ErrEncoding, err)
		}
	}
	if merged == nil {
		merged = make(map[string]json.RawMessage, 3)
	}

	for key, value := range map[string]any{
		KeyMeshID:    e.MeshID,
		KeyDeviceID:  e.DeviceID,
		KeyTimestamp: at.Unix(),
	} {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrEncoding, key, err)
		}
		merged[key] = raw
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return data, nil
}

// Build encodes fields under the envelope and wraps the result in a Message.
func (e Envelope) Build(topic string, fields any, at time.Time) (Message, error) {
	payload, err := e.Encode(fields, at)
	if err != nil {
		return Message{}, err
	}
	return New(topic, payload)
}
