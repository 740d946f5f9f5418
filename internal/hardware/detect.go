package hardware

import (
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

const deviceTreeModel = "/proc/device-tree/model"

// Options control platform construction
type Options struct {
	// Simulation forces the simulated platform regardless of Kind
	Simulation bool
	// SensorInterval makes simulated buttons assert periodically; zero disables
	SensorInterval time.Duration
}

// Detect inspects the running system once and returns its platform kind
func Detect() Kind {
	return detect(deviceTreeModel, runtime.GOOS)
}

func detect(modelPath, goos string) Kind {
	if model, err := os.ReadFile(modelPath); err == nil {
		if strings.Contains(strings.ToLower(string(model)), "raspberry pi") {
			return RaspberryPi
		}
	}

	switch goos {
	case "linux":
		return LinuxSoftware
	case "darwin":
		return MacOSSoftware
	default:
		return Simulated
	}
}

// New returns the platform for kind. Failing to bring up real GPIO is not
// fatal: the simulated platform is returned with a warning instead.
func New(kind Kind, opts Options, logger *slog.Logger) Platform {
	if opts.Simulation {
		logger.Info("Hardware simulation enabled", slog.String("detected", kind.String()))
		return NewSimulated(Simulated, opts, logger)
	}

	if kind != RaspberryPi {
		return NewSimulated(kind, opts, logger)
	}

	p, err := newPeriphPlatform(opts, logger)
	if err != nil {
		logger.Warn("GPIO backend unavailable, falling back to simulation",
			slog.String("error", err.Error()),
		)
		return NewSimulated(Simulated, opts, logger)
	}

	return p
}
