package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice relay service
type Metrics struct {
	// Session lifecycle metrics
	SessionsCreated prometheus.Counter
	SessionsDeleted prometheus.Counter
	ActiveSessions  prometheus.Gauge

	// Relay metrics
	ClientFramesReceived  prometheus.Counter
	AudioFramesForwarded  prometheus.Counter
	UpstreamFramesRelayed prometheus.Counter
	PingsAnswered         prometheus.Counter
	RelayTasksStarted     prometheus.Counter
	RelayTasksExited      prometheus.Counter

	// Context injection metrics
	InjectionsSent    prometheus.Counter
	InjectionsSkipped prometheus.Counter
	ScrapeFrames      prometheus.Counter

	// Evaluation metrics
	EvaluationsTriggered prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics on the given registerer. Tests use
// this with a private registry to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Session lifecycle metrics
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_deleted_total",
			Help: "Total number of sessions deleted",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Current number of registered sessions",
		}),

		// Relay metrics
		ClientFramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_client_frames_received_total",
			Help: "Total number of frames received on client channels",
		}),
		AudioFramesForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_audio_frames_forwarded_total",
			Help: "Total number of audio frames forwarded to the upstream",
		}),
		UpstreamFramesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_upstream_frames_relayed_total",
			Help: "Total number of upstream frames relayed to clients",
		}),
		PingsAnswered: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_pings_answered_total",
			Help: "Total number of client pings answered with pong",
		}),
		RelayTasksStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_tasks_started_total",
			Help: "Total number of relay pump tasks started",
		}),
		RelayTasksExited: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_tasks_exited_total",
			Help: "Total number of relay pump tasks exited",
		}),

		// Context injection metrics
		InjectionsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_context_injections_sent_total",
			Help: "Total number of context injections sent upstream",
		}),
		InjectionsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_context_injections_skipped_total",
			Help: "Total number of context injections skipped (empty text or no addressable session)",
		}),
		ScrapeFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_scrape_frames_total",
			Help: "Total number of frames received on the scrape ingress",
		}),

		// Evaluation metrics
		EvaluationsTriggered: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_evaluations_triggered_total",
			Help: "Total number of end-of-interview evaluations triggered",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request processing time",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_errors_total",
			Help: "Total number of HTTP error responses",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, status string, duration float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordHTTPError records one HTTP error response.
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
