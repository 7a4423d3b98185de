// Package config provides configuration loading and validation for the speaker bridge.
// It handles YAML-based configuration with per-section validation and defaults for
// the server, speaker identity, audio conversion, broadcast and logging settings.
package config
