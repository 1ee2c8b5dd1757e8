// Package config loads taskboard settings from defaults, an optional
// config.yaml and TASKBOARD_* environment variables, and validates them
// before any component starts.
package config
