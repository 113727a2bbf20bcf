package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRegistry holds all Prometheus metrics for syncd.
// All helper methods are safe to call on a nil registry.
type MetricsRegistry struct {
	registry *prometheus.Registry

	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Drain Metrics
	DrainAttemptsTotal  *prometheus.CounterVec
	DrainLoopRunsTotal  *prometheus.CounterVec
	CheckInDuration     prometheus.Histogram
	ConsecutiveFailures prometheus.Gauge
	QueueDepth          *prometheus.GaugeVec
	OldestPendingAge    prometheus.Gauge

	// Mutation Metrics
	MutationOutcomesTotal *prometheus.CounterVec

	// Reconciliation Metrics
	ReconcileRowsTotal *prometheus.CounterVec

	// Background jobs
	NotificationsRelayedTotal prometheus.Counter
	RetentionPurgedTotal      prometheus.Counter
	JobDuration               *prometheus.HistogramVec
}

// NewMetricsRegistry initializes all metrics on a private registry
func NewMetricsRegistry() *MetricsRegistry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &MetricsRegistry{
		registry: reg,

		// HTTP Metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syncd_http_requests_total",
				Help: "Total control API requests by endpoint, method, and status code",
			},
			[]string{"endpoint", "method", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "syncd_http_request_duration_seconds",
				Help:    "Control API latency distribution in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"endpoint", "method"},
		),
		HTTPRequestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "syncd_http_requests_in_flight",
				Help: "Number of control API requests currently being processed",
			},
			[]string{"endpoint"},
		),

		// Drain Metrics
		DrainAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syncd_drain_attempts_total",
				Help: "Single drain attempts by queue and outcome",
			},
			[]string{"queue", "outcome"},
		),
		DrainLoopRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syncd_drain_loop_runs_total",
				Help: "Drain loop runs by queue and exit reason",
			},
			[]string{"queue", "exit"},
		),
		CheckInDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "syncd_checkin_duration_seconds",
				Help:    "Remote check-in latency including retries",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		ConsecutiveFailures: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "syncd_consecutive_failures",
				Help: "Current consecutive transient failure count of the sample drain",
			},
		),
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "syncd_queue_depth",
				Help: "Queued samples by state",
			},
			[]string{"state"},
		),
		OldestPendingAge: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "syncd_oldest_pending_age_seconds",
				Help: "Age of the oldest pending sample by capture time",
			},
		),

		// Mutation Metrics
		MutationOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syncd_mutation_outcomes_total",
				Help: "Timeline mutation outcomes by operation and result",
			},
			[]string{"operation", "outcome"},
		),

		// Reconciliation Metrics
		ReconcileRowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syncd_reconcile_rows_total",
				Help: "Rows repaired by startup reconciliation by step",
			},
			[]string{"step"},
		),

		NotificationsRelayedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "syncd_notifications_relayed_total",
				Help: "Notifications appended to the Redis stream",
			},
		),
		RetentionPurgedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "syncd_retention_purged_total",
				Help: "Synced samples deleted by the retention job",
			},
		),
		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "syncd_job_duration_seconds",
				Help:    "Background job execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"job_name"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *MetricsRegistry) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsRegistry) DrainAttempt(queue, outcome string) {
	if m == nil {
		return
	}
	m.DrainAttemptsTotal.WithLabelValues(queue, outcome).Inc()
}

func (m *MetricsRegistry) DrainLoopExit(queue, reason string) {
	if m == nil {
		return
	}
	m.DrainLoopRunsTotal.WithLabelValues(queue, reason).Inc()
}

func (m *MetricsRegistry) CheckInObserved(d time.Duration) {
	if m == nil {
		return
	}
	m.CheckInDuration.Observe(d.Seconds())
}

func (m *MetricsRegistry) SetConsecutiveFailures(n int) {
	if m == nil {
		return
	}
	m.ConsecutiveFailures.Set(float64(n))
}

func (m *MetricsRegistry) SetQueueDepth(state string, n int64) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(state).Set(float64(n))
}

func (m *MetricsRegistry) SetOldestPendingAge(d time.Duration) {
	if m == nil {
		return
	}
	m.OldestPendingAge.Set(d.Seconds())
}

func (m *MetricsRegistry) MutationOutcome(op, outcome string) {
	if m == nil {
		return
	}
	m.MutationOutcomesTotal.WithLabelValues(op, outcome).Inc()
}

func (m *MetricsRegistry) ReconcileRows(step string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ReconcileRowsTotal.WithLabelValues(step).Add(float64(n))
}

func (m *MetricsRegistry) NotificationRelayed() {
	if m == nil {
		return
	}
	m.NotificationsRelayedTotal.Inc()
}

func (m *MetricsRegistry) RetentionPurged(n int64) {
	if m == nil {
		return
	}
	m.RetentionPurgedTotal.Add(float64(n))
}

func (m *MetricsRegistry) JobFinished(name string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobDuration.WithLabelValues(name).Observe(d.Seconds())
}
