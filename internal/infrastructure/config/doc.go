// Package config handles loading and validating meshlink node configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with MESHLINK_* environment variables
//   - Validation of required fields, collecting every problem at once
//   - Default value handling
//
// Security Considerations:
//   - Broker credentials and the InfluxDB token should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Mesh.ID)
package config
