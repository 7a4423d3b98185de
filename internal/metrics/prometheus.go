package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the speaker service.
// Every Record/Set method is safe to call on a nil *Metrics.
type Metrics struct {
	// Session metrics
	SessionsStarted   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsFailed    prometheus.Counter
	SessionsRejected  *prometheus.CounterVec
	SessionDuration   prometheus.Histogram

	// Conversion metrics
	ChunksProduced prometheus.Counter
	BytesProduced  prometheus.Counter

	// Broadcast metrics
	ChunksDispatched    prometheus.Counter
	ChunksDropped       prometheus.Counter
	SendFailures        *prometheus.CounterVec
	ClientsConnected    prometheus.Gauge
	ClientRegistrations prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "habspeaker_sessions_started_total",
			Help: "Total number of playback sessions started",
		}),
		SessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "habspeaker_sessions_completed_total",
			Help: "Total number of playback sessions that reached end of stream",
		}),
		SessionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "habspeaker_sessions_failed_total",
			Help: "Total number of playback sessions ended by a read or decode error",
		}),
		SessionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "habspeaker_sessions_rejected_total",
			Help: "Total number of streams rejected before playback",
		}, []string{"reason"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "habspeaker_session_duration_seconds",
			Help:    "Duration of playback sessions",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}),

		// Conversion metrics
		ChunksProduced: factory.NewCounter(prometheus.CounterOpts{
			Name: "habspeaker_chunks_produced_total",
			Help: "Total number of PCM chunks produced by the converter",
		}),
		BytesProduced: factory.NewCounter(prometheus.CounterOpts{
			Name: "habspeaker_pcm_bytes_produced_total",
			Help: "Total number of PCM payload bytes produced by the converter",
		}),

		// Broadcast metrics
		ChunksDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "habspeaker_chunks_dispatched_total",
			Help: "Total number of frames queued to clients",
		}),
		ChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "habspeaker_chunks_dropped_total",
			Help: "Total number of frames dropped for slow clients",
		}),
		SendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "habspeaker_send_failures_total",
			Help: "Total number of failed frame sends",
		}, []string{"reason"}),
		ClientsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "habspeaker_clients_connected",
			Help: "Current number of registered speaker clients",
		}),
		ClientRegistrations: factory.NewCounter(prometheus.CounterOpts{
			Name: "habspeaker_client_registrations_total",
			Help: "Total number of client registrations",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "habspeaker_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "habspeaker_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "habspeaker_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// RecordSessionEnded records a finished session and its duration
func (m *Metrics) RecordSessionEnded(failed bool, durationSeconds float64) {
	if m == nil {
		return
	}
	if failed {
		m.SessionsFailed.Inc()
	} else {
		m.SessionsCompleted.Inc()
	}
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionRejected increments the rejection counter for reason
func (m *Metrics) RecordSessionRejected(reason string) {
	if m == nil {
		return
	}
	m.SessionsRejected.WithLabelValues(reason).Inc()
}

// RecordChunkProduced records a converted chunk
func (m *Metrics) RecordChunkProduced(payloadBytes int) {
	if m == nil {
		return
	}
	m.ChunksProduced.Inc()
	m.BytesProduced.Add(float64(payloadBytes))
}

// RecordChunkDispatched increments the dispatched counter
func (m *Metrics) RecordChunkDispatched() {
	if m == nil {
		return
	}
	m.ChunksDispatched.Inc()
}

// RecordChunkDropped increments the dropped counter
func (m *Metrics) RecordChunkDropped() {
	if m == nil {
		return
	}
	m.ChunksDropped.Inc()
}

// RecordSendFailure increments the send failure counter ("timeout" or "error")
func (m *Metrics) RecordSendFailure(reason string) {
	if m == nil {
		return
	}
	m.SendFailures.WithLabelValues(reason).Inc()
}

// SetClientsConnected sets the current number of registered clients
func (m *Metrics) SetClientsConnected(count int) {
	if m == nil {
		return
	}
	m.ClientsConnected.Set(float64(count))
}

// RecordClientRegistered increments the registrations counter
func (m *Metrics) RecordClientRegistered() {
	if m == nil {
		return
	}
	m.ClientRegistrations.Inc()
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
