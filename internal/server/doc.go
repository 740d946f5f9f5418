// Package server exposes an optional HTTP surface for watching the prop:
// health, controller and engine status, the live configuration snapshot and
// Prometheus metrics.
package server
