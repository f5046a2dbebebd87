package mqtt

import "testing"

func TestTopics(t *testing.T) {
	topics := Topics{MeshID: "greenhouse", DeviceID: "AABBCCDDEEFF"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"device config", topics.DeviceConfig(), "/mesh/greenhouse/devices/AABBCCDDEEFF/config"},
		{"mesh config", topics.MeshConfig(), "/mesh/greenhouse/config"},
		{"config dashboard", topics.ConfigDashboard(), "/mesh/greenhouse/config/dashboard"},
		{"relay", topics.Relay(), "/mesh/greenhouse/devices/AABBCCDDEEFF/relay"},
		{"relay dashboard", topics.RelayDashboard(), "/mesh/greenhouse/devices/AABBCCDDEEFF/relay/dashboard"},
		{"sensor", topics.Sensor("temperature"), "/mesh/greenhouse/devices/AABBCCDDEEFF/sensor/temperature"},
		{"devices report", topics.DevicesReport(), "/mesh/greenhouse/devices/report"},
		{"graph report", topics.GraphReport(), "/mesh/greenhouse/graph/report"},
		{"status", topics.Status(), "/mesh/greenhouse/devices/AABBCCDDEEFF/status"},
		{"generic device", topics.Device("ota", "progress", "1"), "/mesh/greenhouse/devices/AABBCCDDEEFF/ota/progress/1"},
		{"generic mesh", topics.Mesh("graph"), "/mesh/greenhouse/graph"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
