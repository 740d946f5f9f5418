package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joliva/XChatterPi/internal/config"
	"github.com/joliva/XChatterPi/internal/hardware"
	"github.com/joliva/XChatterPi/internal/metrics"
	"github.com/joliva/XChatterPi/internal/stream"
	"github.com/joliva/XChatterPi/internal/trigger"
)

// EngineStats provides audio engine statistics
type EngineStats interface {
	Stats() stream.Stats
}

// ControllerStatus provides controller state
type ControllerStatus interface {
	Status() trigger.Status
}

// ConfigSource provides the current configuration snapshot
type ConfigSource interface {
	Current() *config.Config
}

// HTTPServer provides HTTP endpoints for monitoring the prop
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	configs    ConfigSource
	engine     EngineStats
	controller ControllerStatus
	system     hardware.SystemInfo
	metrics    *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.MetricsConfig, logger *slog.Logger, configs ConfigSource,
	engine EngineStats, controller ControllerStatus, system hardware.SystemInfo, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		configs:    configs,
		engine:     engine,
		controller: controller,
		system:     system,
		metrics:    m,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the HTTP handler serving all routes
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/status", h.withMetrics("/status", h.handleStatus))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if reg := h.metrics.Registry(); reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Serve runs the server until ctx is cancelled, then shuts it down gracefully
func (h *HTTPServer) Serve(ctx context.Context) error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.Stop(shutdownCtx)
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "chatterpi",
			"version": "1.0.0",
		},
		"platform": h.system.Platform,
	})
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"timestamp":  time.Now().UTC(),
		"uptime":     time.Since(h.startTime).String(),
		"controller": h.controller.Status(),
		"engine":     h.engine.Stats(),
		"system":     h.system,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := h.configs.Current()
	writeJSON(w, map[string]interface{}{
		"servo": map[string]interface{}{
			"servo_min": cfg.Servo.ServoMin,
			"servo_max": cfg.Servo.ServoMax,
			"min_angle": cfg.Servo.MinAngle,
			"max_angle": cfg.Servo.MaxAngle,
		},
		"controller": map[string]interface{}{
			"style":           cfg.Controller.Style,
			"threshold":       cfg.Controller.Threshold,
			"levels":          []int{cfg.Controller.Level1, cfg.Controller.Level2, cfg.Controller.Level3},
			"filtered_levels": []int{cfg.Controller.FilteredLevel1, cfg.Controller.FilteredLevel2, cfg.Controller.FilteredLevel3},
		},
		"audio": map[string]interface{}{
			"buffer_size":     cfg.Audio.BufferSize,
			"source":          cfg.Audio.Source,
			"mic_time":        cfg.Audio.MicTime,
			"output_channels": cfg.Audio.OutputChannels,
			"input_device":    cfg.Audio.InputDevice,
			"ambient":         cfg.Audio.Ambient,
		},
		"prop": map[string]interface{}{
			"trigger":     cfg.Prop.Trigger,
			"eyes":        cfg.Prop.Eyes,
			"trigger_out": cfg.Prop.TriggerOut,
			"delay":       cfg.Prop.Delay,
		},
		"pins": map[string]interface{}{
			"jaw_pin":         cfg.Pins.JawPin,
			"pir_pin":         cfg.Pins.PIRPin,
			"eyes_pin":        cfg.Pins.EyesPin,
			"trigger_out_pin": cfg.Pins.TriggerOutPin,
		},
		"hardware": map[string]interface{}{
			"simulation": cfg.Hardware.Simulation,
		},
		"logging": map[string]interface{}{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"output": cfg.Logging.Output,
		},
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, map[string]interface{}{
		"service": "ChatterPi animatronic jaw",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":        "API documentation",
			"GET /health":  "Service health check",
			"GET /status":  "Controller state, engine statistics and system info",
			"GET /config":  "Current configuration snapshot",
			"GET /metrics": "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
