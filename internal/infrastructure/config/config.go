package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/meshlink/internal/mesh"
)

// Config is the root configuration structure for a meshlink node.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Mesh     MeshConfig     `yaml:"mesh"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Queues   QueuesConfig   `yaml:"queues"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tasks    TasksConfig    `yaml:"tasks"`
	Relays   []RelayConfig  `yaml:"relays"`
}

// MeshConfig identifies the node and its mesh.
type MeshConfig struct {
	// ID is the mesh identifier used in every topic.
	ID string `yaml:"id"`

	// DeviceID is 12 hex digits; empty means the link's own address.
	DeviceID string `yaml:"device_id"`

	MaxPeers      int           `yaml:"max_peers"`
	SyncInterval  time.Duration `yaml:"sync_interval"`
	GraphInterval time.Duration `yaml:"graph_interval"`
	Link          LinkConfig    `yaml:"link"`
}

// LinkConfig configures the UDP mesh link.
type LinkConfig struct {
	Self   string       `yaml:"self"`
	Listen string       `yaml:"listen"`
	Root   bool         `yaml:"root"`
	Parent string       `yaml:"parent"`
	Layer  int          `yaml:"layer"`
	Peers  []PeerConfig `yaml:"peers"`
}

// PeerConfig maps a mesh address to a UDP endpoint.
type PeerConfig struct {
	Address  string `yaml:"address"`
	Endpoint string `yaml:"endpoint"`
}

// MQTTConfig contains MQTT broker connection and uplink settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	KeepAlive time.Duration       `yaml:"keepalive"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	ConnackTimeout time.Duration `yaml:"connack_timeout"`
	AckTimeout     time.Duration `yaml:"ack_timeout"`
	ProcessWindow  time.Duration `yaml:"process_window"`
	LoopInterval   time.Duration `yaml:"loop_interval"`
	MaxInflight    int           `yaml:"max_inflight"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`

	// ClientID defaults to the device id.
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains the reconnect backoff settings.
type MQTTReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
	IdleDelay   time.Duration `yaml:"idle_delay"`
}

// QueuesConfig sizes the publish queue and the inbound dispatch.
type QueuesConfig struct {
	PublishCapacity int           `yaml:"publish_capacity"`
	InboundCapacity int           `yaml:"inbound_capacity"`
	HandlerWorkers  int           `yaml:"handler_workers"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// AuditRetention is how long control-write audit entries are kept.
	AuditRetention time.Duration `yaml:"audit_retention"`

	// AuditPruneSchedule is a cron expression for pruning old entries.
	AuditPruneSchedule string `yaml:"audit_prune_schedule"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig contains Prometheus exporter settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TasksConfig configures the periodic producers.
type TasksConfig struct {
	// AnnounceSchedule is a cron spec for the device announcement.
	AnnounceSchedule string `yaml:"announce_schedule"`

	Sensors []SensorTaskConfig `yaml:"sensors"`
}

// SensorTaskConfig configures one sensor task. Times are milliseconds.
type SensorTaskConfig struct {
	Name        string   `yaml:"name"`
	Kind        string   `yaml:"kind"`
	Metrics     []string `yaml:"metrics"`
	PollingTime int64    `yaml:"polling_time"`
	MinPolling  int64    `yaml:"min_polling_time"`
	MaxPolling  int64    `yaml:"max_polling_time"`
	Active      int      `yaml:"active"`
}

// MaxMeshPeers is the largest routing table one 2048-byte mesh datagram
// carries: a 6-byte sender address, the tag byte, then 6 bytes per peer.
const MaxMeshPeers = 340

// Sensor task kinds.
const (
	SensorKindMock        = "mock"
	SensorKindPerformance = "performance"
)

// RelayConfig names one relay output.
type RelayConfig struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MESHLINK_SECTION_KEY
// For example: MESHLINK_MESH_ID, MESHLINK_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Mesh: MeshConfig{
			MaxPeers:      mesh.DefaultMaxPeers,
			SyncInterval:  2 * time.Second,
			GraphInterval: 2 * time.Second,
			Link: LinkConfig{
				Listen: "0.0.0.0:4560",
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS:       1,
			KeepAlive: 60 * time.Second,
			Reconnect: MQTTReconnectConfig{
				BaseDelay:   500 * time.Millisecond,
				MaxDelay:    5 * time.Second,
				MaxAttempts: 5,
				IdleDelay:   time.Second,
			},
			ConnackTimeout: time.Second,
			AckTimeout:     5 * time.Second,
			ProcessWindow:  500 * time.Millisecond,
			LoopInterval:   200 * time.Millisecond,
			MaxInflight:    5,
		},
		Queues: QueuesConfig{
			PublishCapacity: 10,
			InboundCapacity: 3,
			HandlerWorkers:  4,
			HandlerTimeout:  5 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/meshlink.db",
			WALMode:     true,
			BusyTimeout: 5,

			AuditRetention:     30 * 24 * time.Hour,
			AuditPruneSchedule: "@daily",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9100",
			Path:   "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Tasks: TasksConfig{
			AnnounceSchedule: "@every 24h",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MESHLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Mesh
	if v := os.Getenv("MESHLINK_MESH_ID"); v != "" {
		cfg.Mesh.ID = v
	}
	if v := os.Getenv("MESHLINK_DEVICE_ID"); v != "" {
		cfg.Mesh.DeviceID = v
	}
	if v := os.Getenv("MESHLINK_LINK_ROOT"); v != "" {
		if root, err := strconv.ParseBool(v); err == nil {
			cfg.Mesh.Link.Root = root
		}
	}

	// MQTT
	if v := os.Getenv("MESHLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MESHLINK_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("MESHLINK_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("MESHLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MESHLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("MESHLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("MESHLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("MESHLINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
// Every problem found is reported in a single error.
func (c *Config) Validate() error {
	var errs []string

	// Mesh validation
	if c.Mesh.ID == "" {
		errs = append(errs, "mesh.id is required")
	}
	if c.Mesh.DeviceID != "" && !isDeviceID(c.Mesh.DeviceID) {
		errs = append(errs, "mesh.device_id must be 12 hex digits")
	}
	if c.Mesh.MaxPeers < 1 || c.Mesh.MaxPeers > MaxMeshPeers {
		errs = append(errs, fmt.Sprintf("mesh.max_peers must be between 1 and %d", MaxMeshPeers))
	}
	if c.Mesh.SyncInterval <= 0 {
		errs = append(errs, "mesh.sync_interval must be positive")
	}
	if c.Mesh.Link.Self == "" && c.Mesh.DeviceID == "" {
		errs = append(errs, "mesh.link.self or mesh.device_id is required")
	}
	for i, p := range c.Mesh.Link.Peers {
		if p.Address == "" || p.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("mesh.link.peers[%d] needs address and endpoint", i))
		}
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 1 {
		errs = append(errs, "mqtt.qos must be 0 or 1")
	}
	if c.MQTT.MaxInflight < 1 {
		errs = append(errs, "mqtt.max_inflight must be positive")
	}
	if c.MQTT.Reconnect.BaseDelay <= 0 || c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.BaseDelay {
		errs = append(errs, "mqtt.reconnect delays must satisfy 0 < base_delay <= max_delay")
	}

	// Queue validation
	if c.Queues.PublishCapacity < 1 || c.Queues.InboundCapacity < 1 {
		errs = append(errs, "queues capacities must be positive")
	}
	if c.Queues.HandlerWorkers < 1 {
		errs = append(errs, "queues.handler_workers must be positive")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.AuditRetention <= 0 {
		errs = append(errs, "database.audit_retention must be positive")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when enabled")
	}

	// Metrics validation
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when enabled")
	}

	// Logging validation
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}

	// Task validation
	seen := make(map[string]bool)
	for i, s := range c.Tasks.Sensors {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("tasks.sensors[%d].name is required", i))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Sprintf("tasks.sensors[%d].name %q is duplicated", i, s.Name))
		}
		seen[s.Name] = true
		if s.Kind != SensorKindMock && s.Kind != SensorKindPerformance {
			errs = append(errs, fmt.Sprintf("tasks.sensors[%d].kind must be %q or %q", i, SensorKindMock, SensorKindPerformance))
		}
		if len(s.Metrics) == 0 {
			errs = append(errs, fmt.Sprintf("tasks.sensors[%d].metrics must not be empty", i))
		}
	}

	// Relay validation
	ids := make(map[int]bool)
	for i, r := range c.Relays {
		if r.ID < 1 || ids[r.ID] {
			errs = append(errs, fmt.Sprintf("relays[%d].id must be positive and unique", i))
		}
		ids[r.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func isDeviceID(s string) bool {
	if len(s) != 12 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// BrokerURL returns the paho broker URL.
func (c MQTTConfig) BrokerURL() string {
	scheme := "tcp"
	if c.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Broker.Host, c.Broker.Port)
}
