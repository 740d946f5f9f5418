//go:build !portaudio

package stream

import "log/slog"

// DefaultBackend returns the backend compiled into this binary. Builds without
// the portaudio tag use the software backend.
func DefaultBackend(logger *slog.Logger) Backend {
	logger.Info("Using software audio backend; build with -tags portaudio for real audio devices")
	return NewSoftwareBackend(logger)
}
