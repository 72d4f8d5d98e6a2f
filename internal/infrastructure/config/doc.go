// Package config handles loading and validating Lithium store configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with LITHIUM_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// The database package reads no configuration itself. Callers translate
// DatabaseConfig into database.Open options, usually through
// EffectivePragmas and GetBusyTimeout.
//
// Usage:
//
//	cfg, err := config.Load("configs/lithium.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Database.Path)
package config
