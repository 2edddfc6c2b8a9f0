// Package config loads the swapper runtime configuration from a YAML or JSON
// file, applies SWAPPER_ prefixed environment overrides and fills defaults.
package config
