// Package config handles loading and validating the overlay service configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (OVERLAY_*)
//   - Validation of required fields, collected into one error
//   - Default value handling
//
// Security Considerations:
//   - Backend tokens and broker passwords should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Overlay.Device)
package config
