// Package config handles loading and validating halirc configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with HALIRC_* environment variables
//   - Validation of devices, triggers and timers against each other
//   - Default value handling
//
// Durations are written as Go duration strings ("500ms", "10s").
//
// Usage:
//
//	cfg, err := config.Load(config.ResolvePath(flagPath))
//	if err != nil {
//	    return err
//	}
//	for _, d := range cfg.Devices {
//	    fmt.Println(d.DeviceName(), d.Driver)
//	}
package config
