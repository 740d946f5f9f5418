package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/joliva/XChatterPi/internal/config"
	"github.com/joliva/XChatterPi/internal/hardware"
	"github.com/joliva/XChatterPi/internal/metrics"
	"github.com/joliva/XChatterPi/internal/server"
	"github.com/joliva/XChatterPi/internal/stream"
	"github.com/joliva/XChatterPi/internal/tracks"
	"github.com/joliva/XChatterPi/internal/trigger"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "chatterpi"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-config path] [file.wav]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Load configuration; FILES with START is rejected here
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	var playFile string
	if flag.NArg() > 0 {
		playFile = flag.Arg(0)
		if _, err := os.Stat(playFile); err != nil {
			fmt.Fprintf(os.Stderr, "Cannot play %s: %v\n", playFile, err)
			os.Exit(1)
		}
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("style", string(cfg.Controller.Style)),
		slog.String("source", string(cfg.Audio.Source)),
		slog.String("trigger", string(cfg.Prop.Trigger)),
		slog.Bool("ambient", cfg.Audio.Ambient),
		slog.Int("buffer_size", cfg.Audio.BufferSize),
		slog.Int("jaw_pin", cfg.Pins.JawPin),
		slog.Bool("simulation", cfg.Hardware.Simulation),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()

	// Bring up the hardware platform, falling back to simulation
	kind := hardware.Detect()
	platform := hardware.New(kind, hardware.Options{
		Simulation:     cfg.Hardware.Simulation,
		SensorInterval: cfg.Hardware.GetSensorInterval(),
	}, logger)
	sysInfo := platform.SystemInfo()
	logger.Info("Hardware platform initialized",
		slog.String("detected", kind.String()),
		slog.String("platform", platform.Kind().String()),
		slog.String("model", sysInfo.Model),
	)

	// Watch the configuration file so the next session picks up edits
	var configs trigger.ConfigSource = cfg
	watcher, err := config.NewWatcher(*configPath, cfg, logger,
		config.WithReloadHook(appMetrics.RecordConfigReload),
	)
	if err != nil {
		logger.Warn("Configuration reload disabled", slog.String("error", err.Error()))
	} else {
		defer watcher.Close()
		configs = watcher
	}

	backend := stream.DefaultBackend(logger)
	engine := stream.NewEngine(backend, platform, logger, stream.WithMetrics(appMetrics))
	logger.Info("Audio engine initialized", slog.String("backend", backend.Name()))

	var sensor hardware.SensorPort
	if cfg.Prop.Trigger == config.TriggerPIR && playFile == "" {
		sensor, err = platform.CreateButton(cfg.Pins.PIRPin, false)
		if err != nil {
			logger.Error("Failed to claim motion sensor",
				slog.Int("pin", cfg.Pins.PIRPin),
				slog.String("error", err.Error()),
			)
			engine.Close()
			os.Exit(1)
		}
	}

	var eyes, triggerOut hardware.OutputPort
	if cfg.Prop.Eyes {
		if eyes, err = platform.CreateOutput(cfg.Pins.EyesPin); err != nil {
			logger.Warn("Eyes output unavailable", slog.String("error", err.Error()))
			eyes = nil
		}
	}
	if cfg.Prop.TriggerOut {
		if triggerOut, err = platform.CreateOutput(cfg.Pins.TriggerOutPin); err != nil {
			logger.Warn("Trigger out unavailable", slog.String("error", err.Error()))
			triggerOut = nil
		}
	}

	library := tracks.Scan(cfg.Tracks.VocalDir, cfg.Tracks.AmbientDir)
	logger.Info("Track library scanned",
		slog.Int("vocals", len(library.Vocals())),
		slog.Int("ambients", len(library.Ambients())),
	)

	controller := trigger.New(engine, configs, library, sensor, logger,
		trigger.WithOutputs(eyes, triggerOut),
		trigger.WithMetrics(appMetrics),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// The controller finishing ends the process, including the HTTP server
		defer cancel()
		if playFile != "" {
			logger.Info("Playing file", slog.String("path", playFile))
			return controller.PlayOnce(gctx, playFile)
		}
		return controller.Run(gctx)
	})

	// Initialize HTTP API server (if enabled)
	if cfg.Metrics.Enabled {
		httpServer := server.NewHTTPServer(cfg.Metrics, logger, configs, engine, controller, sysInfo, appMetrics)
		g.Go(func() error {
			return httpServer.Serve(gctx)
		})
	}

	err = g.Wait()

	stats := engine.Stats()
	logger.Info("Final engine statistics",
		slog.Int64("sessions", stats.Sessions),
		slog.Int64("failures", stats.Failures),
		slog.Int64("servo_writes", stats.ServoWrites),
	)

	if err != nil {
		logger.Error("Service stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
