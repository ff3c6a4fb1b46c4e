package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the playground engine.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Engine metrics
	Activations        *prometheus.CounterVec
	ActivationDuration *prometheus.HistogramVec
	EngineStatus       *prometheus.GaugeVec

	// Install gate metrics
	InstallsRun     prometheus.Counter
	InstallsSkipped prometheus.Counter

	// Snapshot metrics
	SnapshotsSaved    prometheus.Counter
	SnapshotsRestored prometheus.Counter

	// Sandbox metrics
	ProcessesSpawned prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates a metrics collector with its own registry, so multiple
// instances (tests) never collide on registration.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry:  registry,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playground_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playground_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		Activations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playground_activations_total",
				Help: "Total number of template activations",
			},
			[]string{"kind", "status"},
		),
		ActivationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playground_activation_duration_seconds",
				Help:    "Template activation duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		EngineStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "playground_engine_status",
				Help: "Current engine status (1 for the active status)",
			},
			[]string{"status"},
		),

		InstallsRun: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "playground_installs_run_total",
				Help: "Total number of dependency installs executed",
			},
		),
		InstallsSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "playground_installs_skipped_total",
				Help: "Total number of dependency installs skipped by the gate",
			},
		),

		SnapshotsSaved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "playground_snapshots_saved_total",
				Help: "Total number of snapshots saved",
			},
		),
		SnapshotsRestored: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "playground_snapshots_restored_total",
				Help: "Total number of snapshots restored",
			},
		),

		ProcessesSpawned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "playground_processes_spawned_total",
				Help: "Total number of sandbox processes spawned",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "playground_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
	}
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordActivation records an initialize or switch outcome.
func (m *Metrics) RecordActivation(kind, status string, duration time.Duration) {
	m.Activations.WithLabelValues(kind, status).Inc()
	m.ActivationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// SetStatus marks the current engine status gauge.
func (m *Metrics) SetStatus(status string, all []string) {
	for _, s := range all {
		value := 0.0
		if s == status {
			value = 1.0
		}
		m.EngineStatus.WithLabelValues(s).Set(value)
	}
}

// Uptime returns time since metrics creation.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Handler serves the Prometheus exposition endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
