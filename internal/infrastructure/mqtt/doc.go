// Package mqtt connects the uplink manager to an MQTT broker through
// paho.mqtt.golang, and names the topics a mesh node uses.
//
// # Session
//
// Session implements uplink.Session. The uplink manager owns everything
// above the wire: reconnect backoff, in-flight slots, packet identifiers and
// re-subscription. Session therefore disables paho's auto-reconnect and
// builds a fresh paho client for each Open, translating paho's token
// completions into uplink events keyed by the manager's packet identifiers.
//
//	session := mqtt.NewSession(cfg.MQTT, topics.Status())
//	session.SetLogger(logger)
//	manager, err := uplink.New(uplink.Options{Session: session, ...})
//
// A retained Last Will on the node status topic reports unexpected
// disconnects; Close overwrites it with a graceful offline notice.
//
// # Topics
//
// Topics builds per-device and mesh-wide topic names:
//
//	/mesh/<mesh_id>/devices/<DEVICE_HEX>/<kind>[/<suffix>]
//	/mesh/<mesh_id>/<kind>[/<suffix>]
//
// # Security Considerations
//
//   - Enable TLS (mqtt.broker.tls) for brokers outside the local network.
//   - Never log broker credentials.
package mqtt
