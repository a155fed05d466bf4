// Package config handles loading and validating Fieldlink Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Picking up a local .env file for secrets
//   - Overriding with FIELDLINK_* environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - Broker passwords, InfluxDB tokens and the JWT secret should be set via
//     environment variables or a .env file, never committed to config.yaml
//   - Variables already present in the process environment win over .env
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Timezone)
package config
