package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry wraps a Prometheus registry with the gauges/counters the hub
// exposes at its /metrics endpoint (pkg/httpapi).
type Registry struct {
	registry *prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Sync run metrics
	syncTotal       *prometheus.CounterVec
	syncDuration    *prometheus.HistogramVec
	syncBytesTotal  *prometheus.CounterVec
	syncFilesTotal  *prometheus.CounterVec
	syncErrorsTotal *prometheus.CounterVec

	// File copy metrics
	fileCopyTotal      *prometheus.CounterVec
	fileCopyDuration   *prometheus.HistogramVec
	fileCopyBytesTotal *prometheus.CounterVec

	// Scheduler metrics
	schedulerRunsTotal *prometheus.CounterVec
	schedulerDuration  *prometheus.HistogramVec
	leavesActive       prometheus.Gauge

	// Session manager (worker pool) metrics
	workerPoolSize   prometheus.Gauge
	workerPoolActive prometheus.Gauge
	workerPoolQueued prometheus.Gauge

	// System metrics
	memoryUsage    prometheus.Gauge
	goroutineCount prometheus.Gauge
	panicTotal     *prometheus.CounterVec

	// Transport metrics
	authFailuresTotal *prometheus.CounterVec
}

// NewRegistry creates a new metrics registry with every metric this binary
// exposes.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bkoverssh_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bkoverssh_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bkoverssh_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		syncTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bkoverssh_sync_runs_total",
				Help: "Total number of per-leaf sync runs",
			},
			[]string{"leaf", "mode", "status"},
		),
		syncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bkoverssh_sync_duration_seconds",
				Help:    "Sync run duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
			},
			[]string{"leaf", "mode"},
		),
		syncBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bkoverssh_sync_bytes_total",
				Help: "Total bytes transferred by sync runs",
			},
			[]string{"leaf", "mode"},
		),
		syncFilesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bkoverssh_sync_files_total",
				Help: "Total files transferred by sync runs",
			},
			[]string{"leaf", "mode"},
		),
		syncErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bkoverssh_sync_errors_total",
				Help: "Total number of sync run failures",
			},
			[]string{"leaf", "error_type"},
		),

		fileCopyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bkoverssh_file_copy_total",
				Help: "Total number of file copy operations",
			},
			[]string{"leaf", "directory", "status"},
		),
		fileCopyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bkoverssh_file_copy_duration_seconds",
				Help:    "File copy operation duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"leaf", "directory"},
		),
		fileCopyBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bkoverssh_file_copy_bytes_total",
				Help: "Total bytes transferred during file copy",
			},
			[]string{"leaf", "directory"},
		),

		schedulerRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bkoverssh_scheduler_runs_total",
				Help: "Total number of scheduler gate decisions",
			},
			[]string{"leaf", "decision"},
		),
		schedulerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bkoverssh_scheduler_claim_duration_seconds",
				Help:    "Time between a scheduler claim firing and being marked done",
				Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
			},
			[]string{"leaf"},
		),
		leavesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bkoverssh_leaves_active",
				Help: "Number of leaves currently syncing",
			},
		),

		workerPoolSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bkoverssh_worker_pool_size",
				Help: "Total number of session manager goroutines",
			},
		),
		workerPoolActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bkoverssh_worker_pool_active",
				Help: "Number of session manager goroutines currently syncing a leaf",
			},
		),
		workerPoolQueued: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bkoverssh_worker_pool_queued",
				Help: "Number of leaves waiting for a session manager goroutine",
			},
		),

		memoryUsage: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bkoverssh_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),
		goroutineCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bkoverssh_goroutines_count",
				Help: "Current number of goroutines",
			},
		),
		panicTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bkoverssh_panics_total",
				Help: "Total number of recovered panics, by component",
			},
			[]string{"component"},
		),

		authFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bkoverssh_auth_failures_total",
				Help: "Total number of SSH authentication failures to a leaf",
			},
			[]string{"leaf"},
		),
	}

	r.registerMetrics()

	return r
}

func (r *Registry) registerMetrics() {
	collectors := []prometheus.Collector{
		r.httpRequestsTotal,
		r.httpRequestDuration,
		r.httpRequestsInFlight,
		r.syncTotal,
		r.syncDuration,
		r.syncBytesTotal,
		r.syncFilesTotal,
		r.syncErrorsTotal,
		r.fileCopyTotal,
		r.fileCopyDuration,
		r.fileCopyBytesTotal,
		r.schedulerRunsTotal,
		r.schedulerDuration,
		r.leavesActive,
		r.workerPoolSize,
		r.workerPoolActive,
		r.workerPoolQueued,
		r.memoryUsage,
		r.goroutineCount,
		r.panicTotal,
		r.authFailuresTotal,
	}

	for _, c := range collectors {
		r.registry.MustRegister(c)
	}
}

// GetRegistry returns the underlying Prometheus registry, for handing to
// promhttp.HandlerFor.
func (r *Registry) GetRegistry() *prometheus.Registry {
	return r.registry
}

func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func (r *Registry) IncHTTPRequestsInFlight() {
	r.httpRequestsInFlight.Inc()
}

func (r *Registry) DecHTTPRequestsInFlight() {
	r.httpRequestsInFlight.Dec()
}

// RecordSync records one completed (or failed) per-leaf sync run.
func (r *Registry) RecordSync(leaf, mode, status string, duration time.Duration, bytes int64, files int) {
	r.syncTotal.WithLabelValues(leaf, mode, status).Inc()
	r.syncDuration.WithLabelValues(leaf, mode).Observe(duration.Seconds())
	if bytes > 0 {
		r.syncBytesTotal.WithLabelValues(leaf, mode).Add(float64(bytes))
	}
	if files > 0 {
		r.syncFilesTotal.WithLabelValues(leaf, mode).Add(float64(files))
	}
}

func (r *Registry) RecordSyncError(leaf, errorType string) {
	r.syncErrorsTotal.WithLabelValues(leaf, errorType).Inc()
}

func (r *Registry) RecordFileCopy(leaf, directory, status string, duration time.Duration, bytes int64) {
	r.fileCopyTotal.WithLabelValues(leaf, directory, status).Inc()
	r.fileCopyDuration.WithLabelValues(leaf, directory).Observe(duration.Seconds())
	if bytes > 0 {
		r.fileCopyBytesTotal.WithLabelValues(leaf, directory).Add(float64(bytes))
	}
}

// RecordSchedulerDecision records a scheduler.Gate decision for leaf (one of
// "run", "wait", or "already-done").
func (r *Registry) RecordSchedulerDecision(leaf, decision string) {
	r.schedulerRunsTotal.WithLabelValues(leaf, decision).Inc()
}

func (r *Registry) ObserveSchedulerClaimDuration(leaf string, duration time.Duration) {
	r.schedulerDuration.WithLabelValues(leaf).Observe(duration.Seconds())
}

func (r *Registry) SetLeavesActive(count int) {
	r.leavesActive.Set(float64(count))
}

func (r *Registry) SetWorkerPoolSize(size int) {
	r.workerPoolSize.Set(float64(size))
}

func (r *Registry) SetWorkerPoolActive(active int) {
	r.workerPoolActive.Set(float64(active))
}

func (r *Registry) SetWorkerPoolQueued(queued int) {
	r.workerPoolQueued.Set(float64(queued))
}

func (r *Registry) SetMemoryUsage(bytes uint64) {
	r.memoryUsage.Set(float64(bytes))
}

func (r *Registry) SetGoroutineCount(count int) {
	r.goroutineCount.Set(float64(count))
}

func (r *Registry) RecordPanic(component string) {
	r.panicTotal.WithLabelValues(component).Inc()
}

func (r *Registry) RecordAuthFailure(leaf string) {
	r.authFailuresTotal.WithLabelValues(leaf).Inc()
}
