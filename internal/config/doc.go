// Package config holds the ScanGuard configuration model: YAML loading,
// environment overrides, validation, and the configuration fingerprint
// that keys cached analysis results.
package config
