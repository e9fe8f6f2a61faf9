// Package config loads, normalizes, and validates the TOML configuration
// shared by the montage CLI and daemon. Defaults come first, the config file
// overlays them, and a handful of secrets fall back to environment variables.
package config
