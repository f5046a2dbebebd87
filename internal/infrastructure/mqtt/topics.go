package mqtt

import "strings"

// TopicRoot prefixes every mesh topic.
const TopicRoot = "/mesh"

// Topic kinds and suffixes.
const (
	KindConfig  = "config"
	KindRelay   = "relay"
	KindSensor  = "sensor"
	KindStatus  = "status"
	KindDevices = "devices"
	KindGraph   = "graph"

	SuffixDashboard = "dashboard"
	SuffixReport    = "report"
)

// Topics builds the topic names of one node.
//
// Per-device topics follow /mesh/<mesh_id>/devices/<DEVICE_HEX>/<kind>[/<suffix>],
// mesh-wide topics follow /mesh/<mesh_id>/<kind>[/<suffix>]:
//
//	topics := mqtt.Topics{MeshID: "greenhouse", DeviceID: "AABBCCDDEEFF"}
//	topics.Sensor("temperature")
//	// Returns: "/mesh/greenhouse/devices/AABBCCDDEEFF/sensor/temperature"
type Topics struct {
	MeshID   string
	DeviceID string
}

// =============================================================================
// Generic builders
// =============================================================================

// Mesh returns a mesh-wide topic.
func (t Topics) Mesh(kind string, suffix ...string) string {
	return join(append([]string{TopicRoot, t.MeshID, kind}, suffix...))
}

// Device returns a topic scoped to this node.
func (t Topics) Device(kind string, suffix ...string) string {
	return join(append([]string{TopicRoot, t.MeshID, KindDevices, t.DeviceID, kind}, suffix...))
}

func join(parts []string) string {
	return strings.Join(parts, "/")
}

// =============================================================================
// Control topics
// =============================================================================

// DeviceConfig is where configuration requests for this node arrive.
//
// Example: /mesh/greenhouse/devices/AABBCCDDEEFF/config
func (t Topics) DeviceConfig() string { return t.Device(KindConfig) }

// MeshConfig is where configuration requests for every node arrive.
//
// Example: /mesh/greenhouse/config
func (t Topics) MeshConfig() string { return t.Mesh(KindConfig) }

// ConfigDashboard receives configuration responses.
//
// Example: /mesh/greenhouse/config/dashboard
func (t Topics) ConfigDashboard() string { return t.Mesh(KindConfig, SuffixDashboard) }

// Relay is where relay requests for this node arrive.
func (t Topics) Relay() string { return t.Device(KindRelay) }

// RelayDashboard receives relay responses.
func (t Topics) RelayDashboard() string { return t.Device(KindRelay, SuffixDashboard) }

// =============================================================================
// Telemetry topics
// =============================================================================

// Sensor returns the topic a sensor type publishes readings to.
func (t Topics) Sensor(sensorType string) string { return t.Device(KindSensor, sensorType) }

// DevicesReport receives device announcements.
//
// Example: /mesh/greenhouse/devices/report
func (t Topics) DevicesReport() string { return t.Mesh(KindDevices, SuffixReport) }

// GraphReport receives mesh topology reports.
func (t Topics) GraphReport() string { return t.Mesh(KindGraph, SuffixReport) }

// Status carries the retained online/offline notice of this node.
func (t Topics) Status() string { return t.Device(KindStatus) }
