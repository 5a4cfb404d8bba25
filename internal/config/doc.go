// Package config provides configuration loading and validation for the
// voice relay service. It handles YAML-based configuration with struct
// validation and environment overrides for upstream credentials.
package config
