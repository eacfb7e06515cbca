// Package metrics exposes the Prometheus instrumentation for the GAIA
// orchestration core: handoff outcomes, route flips, checkpoint latency,
// queue depth, sleep-state gauges, and promotion stage duration. The
// registration and Timer pattern mirrors the teacher's pkg/metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// GPU handoff metrics
	HandoffsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaia_handoffs_total",
			Help: "Total number of GPU handoffs by from, to, and result",
		},
		[]string{"from", "to", "result"},
	)

	HandoffDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gaia_handoff_duration_seconds",
			Help:    "Time taken to complete a GPU handoff in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 90, 120, 180, 300},
		},
		[]string{"result"},
	)

	HandoffPhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gaia_handoff_phase_duration_seconds",
			Help:    "Time spent in each handoff phase in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	HandoffInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gaia_handoff_in_flight",
			Help: "Whether a GPU handoff is currently in flight (1) or not (0)",
		},
	)

	// Sleep/wake metrics
	ServiceState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gaia_service_state",
			Help: "Current lifecycle state of a cognitive service (1 = active in that state)",
		},
		[]string{"service", "state"},
	)

	SleepTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaia_sleep_transitions_total",
			Help: "Total number of state transitions by service, from, and to",
		},
		[]string{"service", "from", "to"},
	)

	WakeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gaia_wake_latency_seconds",
			Help:    "Time from wake trigger to ACTIVE in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"service", "path"},
	)

	WakeBackoffSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gaia_wake_backoff_seconds",
			Help: "Current wake retry backoff interval in seconds",
		},
		[]string{"service"},
	)

	// Sleep task scheduler metrics
	SleepTasksRunTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaia_sleep_tasks_run_total",
			Help: "Total number of sleep tasks run by service, task, and outcome",
		},
		[]string{"service", "task", "outcome"},
	)

	SleepTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gaia_sleep_task_duration_seconds",
			Help:    "Duration of a sleep task run in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	// Message queue metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gaia_queue_depth",
			Help: "Number of messages currently queued by service",
		},
		[]string{"service"},
	)

	QueueWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gaia_queue_wait_duration_seconds",
			Help:    "Time a message spent queued before delivery in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// Checkpoint metrics
	CheckpointWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gaia_checkpoint_write_duration_seconds",
			Help:    "Time taken to atomically write a checkpoint in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CheckpointWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaia_checkpoint_writes_total",
			Help: "Total number of checkpoint writes by service and outcome",
		},
		[]string{"service", "outcome"},
	)

	// Health / watchdog metrics
	HealthCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gaia_health_check_duration_seconds",
			Help:    "Duration of a single health probe in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"target"},
	)

	HealthStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gaia_health_status",
			Help: "Current health status by target (1 = healthy, 0 = unhealthy)",
		},
		[]string{"target"},
	)

	DistractionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaia_distraction_events_total",
			Help: "Total number of sustained-resource-contention (distraction) events by worker",
		},
		[]string{"worker"},
	)

	// Routing metrics
	RouteFlipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaia_route_flips_total",
			Help: "Total number of HA route changes by role and new target",
		},
		[]string{"role", "target"},
	)

	CurrentRoute = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gaia_current_route",
			Help: "Whether a role is currently routed to primary (1) or fallback (0)",
		},
		[]string{"role"},
	)

	// Promotion pipeline metrics
	PromotionStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gaia_promotion_stage_duration_seconds",
			Help:    "Time spent in each promotion stage in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"stage", "status"},
	)

	PromotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaia_promotions_total",
			Help: "Total number of promotion runs by outcome",
		},
		[]string{"outcome"},
	)

	PromotionRollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaia_promotion_rollbacks_total",
			Help: "Total number of promotion rollbacks by reason",
		},
		[]string{"reason"},
	)

	// Ledger metrics
	LedgerApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gaia_ledger_apply_duration_seconds",
			Help:    "Time taken to apply a raft log entry to the ledger FSM in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	LedgerAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gaia_ledger_applied_index",
			Help: "Last applied raft log index of the handoff ledger",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HandoffsTotal,
		HandoffDuration,
		HandoffPhaseDuration,
		HandoffInFlight,
		ServiceState,
		SleepTransitionsTotal,
		WakeLatency,
		WakeBackoffSeconds,
		SleepTasksRunTotal,
		SleepTaskDuration,
		QueueDepth,
		QueueWaitDuration,
		CheckpointWriteDuration,
		CheckpointWritesTotal,
		HealthCheckDuration,
		HealthStatus,
		DistractionEventsTotal,
		RouteFlipsTotal,
		CurrentRoute,
		PromotionStageDuration,
		PromotionsTotal,
		PromotionRollbacksTotal,
		LedgerApplyDuration,
		LedgerAppliedIndex,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an in-flight operation and records the elapsed duration to a
// histogram on completion.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a plain histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
