// Package logging provides structured logging for the meshlink daemon.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version, mesh_id, device_id) and the same level filtering.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version).ForNode(cfg.Mesh.ID, deviceHex)
//	uplinkLog := logger.Component("uplink")
//	uplinkLog.Info("connected", "session_present", true)
//
// *Logger satisfies the small Logger interfaces declared by the uplink,
// subscription, mesh and control packages, so it can be handed to their
// SetLogger methods directly.
//
// Never log broker passwords or InfluxDB tokens.
package logging
