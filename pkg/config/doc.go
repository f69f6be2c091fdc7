// Package config defines the engine configuration: YAML-backed
// per-component sections with defaults tuned for a 1-second tick.
// Load reads and validates a file; Default returns the baseline
// configuration tests and the CLI start from.
package config
