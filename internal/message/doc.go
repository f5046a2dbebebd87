// Package message defines the bounded topic/payload pair that flows through
// every queue in meshlink, and the JSON envelope attached to outbound payloads.
//
// # Bounds
//
// A Message carries at most MaxTopicLen bytes of topic and MaxPayloadLen bytes
// of payload. Construction fails with ErrTruncation instead of silently
// cutting data, so a producer always learns that its sample was not sent.
//
// Messages have value semantics: queues copy them, and no two components ever
// share the same backing buffer.
//
// # Envelope
//
// Outbound payloads are flat JSON objects. Envelope adds mesh_id, device_id and
// timestamp_value at the same level as the domain fields. When a domain field
// uses one of those keys, the envelope value is kept.
//
// # Usage
//
//	env := message.Envelope{MeshID: "X", DeviceID: "AABBCCDDEEFF"}
//	body, err := env.Encode(map[string]any{"sensor_type": "temperature", "sensor_value": 21.5}, now)
//	msg, err := message.New(topic, body)
package message
