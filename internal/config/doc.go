// Package config provides configuration loading and validation for the prop.
// It handles YAML-based configuration with per-section validation, rejects
// settings that cannot run together, and can watch the file so edits made
// between sessions are picked up without a restart.
package config
