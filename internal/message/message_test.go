package message

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Message Tests
// =============================================================================

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload []byte
		wantErr error
	}{
		{name: "valid", topic: "/mesh/X/graph/report", payload: []byte(`{}`)},
		{name: "empty payload", topic: "/mesh/X/config", payload: nil},
		{name: "topic at bound", topic: strings.Repeat("t", MaxTopicLen), payload: []byte("x")},
		{name: "payload at bound", topic: "t", payload: []byte(strings.Repeat("p", MaxPayloadLen))},
		{name: "empty topic", topic: "", payload: []byte("x"), wantErr: ErrEmptyTopic},
		{name: "topic too long", topic: strings.Repeat("t", MaxTopicLen+1), payload: nil, wantErr: ErrTruncation},
		{name: "payload too long", topic: "t", payload: []byte(strings.Repeat("p", MaxPayloadLen+1)), wantErr: ErrTruncation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := New(tt.topic, tt.payload)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
				}
				if !msg.IsZero() {
					t.Errorf("New() returned non-zero message on error: %v", msg)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if msg.Topic() != tt.topic {
				t.Errorf("Topic() = %q, want %q", msg.Topic(), tt.topic)
			}
			if msg.PayloadString() != string(tt.payload) {
				t.Errorf("PayloadString() = %q, want %q", msg.PayloadString(), tt.payload)
			}
		})
	}
}

func TestNew_CopiesPayload(t *testing.T) {
	buf := []byte("abc")
	msg, err := New("t", buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	buf[0] = 'z'
	if msg.PayloadString() != "abc" {
		t.Errorf("payload changed with caller buffer: %q", msg.PayloadString())
	}

	out := msg.Payload()
	out[1] = 'z'
	if msg.PayloadString() != "abc" {
		t.Errorf("payload changed through Payload(): %q", msg.PayloadString())
	}
}

// =============================================================================
// Envelope Tests
// =============================================================================

func TestEnvelope_Encode(t *testing.T) {
	env := Envelope{MeshID: "X", DeviceID: "AABBCCDDEEFF"}
	at := time.Unix(1700000000, 0)

	data, err := env.Encode(map[string]any{
		"sensor_type":  "temperature",
		"sensor_value": 21.5,
	}, at)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}

	want := map[string]any{
		"mesh_id":         "X",
		"device_id":       "AABBCCDDEEFF",
		"timestamp_value": float64(1700000000),
		"sensor_type":     "temperature",
		"sensor_value":    21.5,
	}
	if len(got) != len(want) {
		t.Fatalf("Encode() keys = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}

func TestEnvelope_EncodeEnvelopeWinsOnCollision(t *testing.T) {
	env := Envelope{MeshID: "X", DeviceID: "AABBCCDDEEFF"}

	data, err := env.Encode(map[string]any{
		"mesh_id":   "spoofed",
		"device_id": "000000000000",
		"state":     1,
	}, time.Unix(10, 0))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got["mesh_id"] != "X" || got["device_id"] != "AABBCCDDEEFF" {
		t.Errorf("envelope overridden by payload: %v", got)
	}
	if got["state"] != float64(1) {
		t.Errorf("state = %v, want 1", got["state"])
	}
}

func TestEnvelope_EncodeKeepsNumbersExact(t *testing.T) {
	env := Envelope{MeshID: "m", DeviceID: "d"}

	tests := []struct {
		name   string
		fields any
		want   string
	}{
		{"int64 above 2^53", map[string]any{"counter": int64(9007199254740993)}, `"counter":9007199254740993`},
		{"uint64 max", map[string]any{"counter": uint64(18446744073709551615)}, `"counter":18446744073709551615`},
		{"raw number", json.RawMessage(`{"counter":12345678901234567890}`), `"counter":12345678901234567890`},
		{"nested object", map[string]any{"pool": map[string]int64{"actual_time": 9007199254740993}}, `"pool":{"actual_time":9007199254740993}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := env.Encode(tt.fields, time.Unix(1, 0))
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if !strings.Contains(string(data), tt.want) {
				t.Errorf("Encode() = %s, want it to contain %s", data, tt.want)
			}
		})
	}
}

func TestEnvelope_EncodeStructAndNil(t *testing.T) {
	env := Envelope{MeshID: "m", DeviceID: "d"}

	type sample struct {
		Layer int  `json:"layer"`
		Root  bool `json:"root"`
	}
	data, err := env.Encode(sample{Layer: 2}, time.Unix(1, 0))
	if err != nil {
		t.Fatalf("Encode(struct) error = %v", err)
	}
	if !strings.Contains(string(data), `"layer":2`) || !strings.Contains(string(data), `"root":false`) {
		t.Errorf("Encode(struct) = %s", data)
	}

	data, err = env.Encode(nil, time.Unix(1, 0))
	if err != nil {
		t.Fatalf("Encode(nil) error = %v", err)
	}
	if string(data) != `{"device_id":"d","mesh_id":"m","timestamp_value":1}` {
		t.Errorf("Encode(nil) = %s", data)
	}
}

func TestEnvelope_EncodeRejectsNonObject(t *testing.T) {
	env := Envelope{MeshID: "m", DeviceID: "d"}
	if _, err := env.Encode([]int{1, 2}, time.Now()); !errors.Is(err, ErrEncoding) {
		t.Errorf("Encode(array) error = %v, want ErrEncoding", err)
	}
}

func TestEnvelope_BuildTruncation(t *testing.T) {
	env := Envelope{MeshID: "m", DeviceID: "d"}
	big := map[string]any{"blob": strings.Repeat("x", MaxPayloadLen)}
	if _, err := env.Build("t", big, time.Now()); !errors.Is(err, ErrTruncation) {
		t.Errorf("Build() error = %v, want ErrTruncation", err)
	}
}
