package observability

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Worker metrics
	WorkerRunsTotal     *prometheus.CounterVec
	WorkerSkipsTotal    *prometheus.CounterVec
	WorkerRunDuration   *prometheus.HistogramVec
	WorkerRowsProcessed *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxo_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxo_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		WorkerRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxo_worker_runs_total",
				Help: "Total number of worker ticks by outcome",
			},
			[]string{"worker", "result"},
		),
		WorkerSkipsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxo_worker_skips_total",
				Help: "Ticks skipped because the previous tick was still running",
			},
			[]string{"worker"},
		),
		WorkerRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxo_worker_run_duration_seconds",
				Help:    "Worker tick duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"worker"},
		),
		WorkerRowsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxo_worker_rows_processed_total",
				Help: "Rows processed by workers, by outcome",
			},
			[]string{"worker", "result"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxo_cache_hits_total",
				Help: "Cache hits by namespace",
			},
			[]string{"namespace"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxo_cache_misses_total",
				Help: "Cache misses by namespace",
			},
			[]string{"namespace"},
		),
		DBConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fluxo_db_connections_active",
			Help: "Active database connections",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fluxo_db_connections_idle",
			Help: "Idle database connections",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WorkerRunsTotal,
		m.WorkerSkipsTotal,
		m.WorkerRunDuration,
		m.WorkerRowsProcessed,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns the metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveWorkerRun records a completed worker tick
func (m *Metrics) ObserveWorkerRun(worker string, err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.WorkerRunsTotal.WithLabelValues(worker, result).Inc()
	m.WorkerRunDuration.WithLabelValues(worker).Observe(duration.Seconds())
}

// CollectDBStats copies the sql pool stats into the gauges. Intended to run
// on a timer.
func (m *Metrics) CollectDBStats(db *sql.DB) {
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}
