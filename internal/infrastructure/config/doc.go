// Package config handles loading and validating the LCN gateway configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Integration blocks (integrations.lcn) are kept as raw maps; each
// integration decodes its own block during component setup.
//
// Security Considerations:
//   - Sensitive values (MQTT password, PCHK password, InfluxDB token) should
//     be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Name)
package config
