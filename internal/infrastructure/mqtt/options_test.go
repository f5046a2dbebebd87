package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nerrad567/meshlink/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "broker.local",
			Port:     1883,
			ClientID: "node-AABBCCDDEEFF",
		},
		QoS:            1,
		KeepAlive:      30 * time.Second,
		ConnackTimeout: time.Second,
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "node", Password: "secret"}

	opts := buildClientOptions(cfg, false)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://broker.local:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "node-AABBCCDDEEFF" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "node" || opts.Password != "secret" {
		t.Errorf("credentials not applied")
	}
	if opts.CleanSession {
		t.Error("CleanSession = true, want false")
	}
	if opts.AutoReconnect || opts.ConnectRetry {
		t.Error("paho reconnect must be disabled")
	}
	if opts.KeepAlive != 30 {
		t.Errorf("KeepAlive = %d, want 30", opts.KeepAlive)
	}
	if opts.ConnectTimeout != time.Second {
		t.Errorf("ConnectTimeout = %v, want 1s", opts.ConnectTimeout)
	}
	if opts.TLSConfig != nil {
		t.Error("TLSConfig set without tls")
	}
}

func TestBuildClientOptions_TLSAndDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	cfg.KeepAlive = 0
	cfg.ConnackTimeout = 0

	opts := buildClientOptions(cfg, true)

	if opts.Servers[0].String() != "ssl://broker.local:8883" {
		t.Errorf("Servers[0] = %v", opts.Servers[0])
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS 1.2 minimum not configured")
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if opts.KeepAlive != int64(defaultKeepAlive/time.Second) {
		t.Errorf("KeepAlive = %d, want default", opts.KeepAlive)
	}
	if opts.ConnectTimeout != defaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want default", opts.ConnectTimeout)
	}
}

func TestConfigureLWT(t *testing.T) {
	cfg := testConfig()
	opts := buildClientOptions(cfg, true)
	configureLWT(opts, "/mesh/m/devices/AABBCCDDEEFF/status", cfg.Broker.ClientID)

	if !opts.WillEnabled || !opts.WillRetained || opts.WillQos != 1 {
		t.Fatalf("will = enabled:%v retained:%v qos:%d", opts.WillEnabled, opts.WillRetained, opts.WillQos)
	}
	if opts.WillTopic != "/mesh/m/devices/AABBCCDDEEFF/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}

	var payload map[string]string
	if err := json.Unmarshal(opts.WillPayload, &payload); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if payload["status"] != "offline" || payload["reason"] != "unexpected_disconnect" {
		t.Errorf("will payload = %v", payload)
	}

	bare := buildClientOptions(cfg, true)
	configureLWT(bare, "", cfg.Broker.ClientID)
	if bare.WillEnabled {
		t.Error("will enabled without a status topic")
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var payload map[string]string
	if err := json.Unmarshal([]byte(buildStatusPayload("online", "c1", "")), &payload); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if payload["status"] != "online" || payload["client_id"] != "c1" {
		t.Errorf("payload = %v", payload)
	}
	if _, ok := payload["reason"]; ok {
		t.Error("online payload should not carry a reason")
	}
	if _, err := time.Parse(time.RFC3339, payload["timestamp"]); err != nil {
		t.Errorf("timestamp %q: %v", payload["timestamp"], err)
	}
}

func TestBuildStatusPayload_EscapesFields(t *testing.T) {
	tests := []struct {
		name     string
		clientID string
		reason   string
	}{
		{"quote", `node"1`, "graceful_shutdown"},
		{"backslash", `node\1`, ""},
		{"control characters", "node\n1\t", `said "bye"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payload map[string]string
			if err := json.Unmarshal([]byte(buildStatusPayload("offline", tt.clientID, tt.reason)), &payload); err != nil {
				t.Fatalf("json.Unmarshal() error = %v", err)
			}
			if payload["client_id"] != tt.clientID || payload["reason"] != tt.reason {
				t.Errorf("payload = %v, want client_id %q reason %q", payload, tt.clientID, tt.reason)
			}
		})
	}
}
