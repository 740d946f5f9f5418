package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the prop. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsStarted *prometheus.CounterVec
	SessionsEnded   *prometheus.CounterVec
	SessionsFailed  *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec

	// Audio callback metrics
	BuffersProcessed   prometheus.Counter
	BuffersRateLimited prometheus.Counter
	CallbackDuration   prometheus.Histogram
	Loudness           prometheus.Histogram

	// Servo metrics
	ServoWrites prometheus.Counter
	ServoErrors prometheus.Counter

	// Controller metrics
	TriggerEvents   *prometheus.CounterVec
	ControllerState prometheus.Gauge
	ConfigReloads   *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Session metrics
		SessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatterpi_sessions_started_total",
			Help: "Total number of audio sessions opened",
		}, []string{"kind"}),
		SessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatterpi_sessions_ended_total",
			Help: "Total number of audio sessions closed, by reason",
		}, []string{"kind", "reason"}),
		SessionsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatterpi_sessions_failed_total",
			Help: "Total number of audio sessions aborted by an error",
		}, []string{"kind"}),
		SessionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatterpi_session_duration_seconds",
			Help:    "Duration of audio sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}, []string{"kind"}),

		// Audio callback metrics
		BuffersProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatterpi_buffers_processed_total",
			Help: "Total number of audio buffers handled by the stream callback",
		}),
		BuffersRateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatterpi_buffers_rate_limited_total",
			Help: "Total number of buffers passed through without a jaw update",
		}),
		CallbackDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatterpi_callback_duration_seconds",
			Help:    "Time spent inside the audio callback",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 12), // 10us to ~20ms
		}),
		Loudness: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatterpi_loudness",
			Help:    "Loudness values used for jaw updates",
			Buckets: prometheus.ExponentialBuckets(16, 2, 11), // 16 to ~16k
		}),

		// Servo metrics
		ServoWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatterpi_servo_writes_total",
			Help: "Total number of jaw angle commands issued",
		}),
		ServoErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatterpi_servo_errors_total",
			Help: "Total number of failed jaw angle commands",
		}),

		// Controller metrics
		TriggerEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatterpi_trigger_events_total",
			Help: "Total number of trigger events, by kind",
		}, []string{"event"}),
		ControllerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatterpi_controller_state",
			Help: "Current controller state (0 idle, 1 ambient, 2 vocal)",
		}),
		ConfigReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatterpi_config_reloads_total",
			Help: "Total number of configuration reload attempts",
		}, []string{"result"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatterpi_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatterpi_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatterpi_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Registry returns the registry holding these metrics
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted(kind string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(kind).Inc()
}

// RecordSessionEnded records a closed session and its duration
func (m *Metrics) RecordSessionEnded(kind, reason string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(kind, reason).Inc()
	m.SessionDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordSessionFailed increments the failed sessions counter
func (m *Metrics) RecordSessionFailed(kind string) {
	if m == nil {
		return
	}
	m.SessionsFailed.WithLabelValues(kind).Inc()
}

// RecordBuffer records one callback invocation
func (m *Metrics) RecordBuffer(rateLimited bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.BuffersProcessed.Inc()
	if rateLimited {
		m.BuffersRateLimited.Inc()
	}
	m.CallbackDuration.Observe(durationSeconds)
}

// RecordServoWrite records one jaw update
func (m *Metrics) RecordServoWrite(loudness float64, err error) {
	if m == nil {
		return
	}
	m.Loudness.Observe(loudness)
	if err != nil {
		m.ServoErrors.Inc()
		return
	}
	m.ServoWrites.Inc()
}

// RecordTriggerEvent increments the trigger events counter
func (m *Metrics) RecordTriggerEvent(event string) {
	if m == nil {
		return
	}
	m.TriggerEvents.WithLabelValues(event).Inc()
}

// SetControllerState sets the controller state gauge
func (m *Metrics) SetControllerState(state int) {
	if m == nil {
		return
	}
	m.ControllerState.Set(float64(state))
}

// RecordConfigReload records a configuration reload attempt
func (m *Metrics) RecordConfigReload(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.ConfigReloads.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
