// Package config provides configuration loading and validation for the
// voice notes service. It handles YAML-based configuration with per-section
// struct validation and duration accessors.
package config
