// Package config handles loading and validating the Tuya bridge process
// configuration (site, database, MQTT, API, InfluxDB, logging).
//
// The device mapping itself (devices, lights, datapoints) lives in a separate
// file referenced by tuya.config_file and is parsed by the tuya package.
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Site.Name)
package config
