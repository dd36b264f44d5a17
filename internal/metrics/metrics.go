package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus collectors for stack-updater.
type Metrics struct {
	registry             *prometheus.Registry
	runsTotal            *prometheus.CounterVec
	runDurationSeconds   *prometheus.HistogramVec
	versionChecksTotal   *prometheus.CounterVec
	healthRatio          *prometheus.GaugeVec
	containers           *prometheus.GaugeVec
	checkCycleSeconds    prometheus.Histogram
	lastCheckCycleGauge  prometheus.Gauge
	dockerAPIErrorsTotal prometheus.Counter
	notifyFailuresTotal  *prometheus.CounterVec
	inFlightUpdates      prometheus.Gauge
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_updater_runs_total",
			Help: "Update runs by stack and terminal state.",
		}, []string{"stack", "state"}),
		runDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stack_updater_run_duration_seconds",
			Help:    "Duration of update runs in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900, 1800},
		}, []string{"stack"}),
		versionChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_updater_version_checks_total",
			Help: "Version checks by stack and outcome.",
		}, []string{"stack", "outcome"}),
		healthRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stack_updater_health_ratio",
			Help: "Running over expected containers after the last update.",
		}, []string{"stack"}),
		containers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stack_updater_containers",
			Help: "Containers observed after the last update by stack and kind (running or total).",
		}, []string{"stack", "kind"}),
		checkCycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stack_updater_check_cycle_duration_seconds",
			Help:    "Duration of periodic version check cycles in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		lastCheckCycleGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stack_updater_last_check_cycle_timestamp",
			Help: "Unix timestamp of the last completed check cycle.",
		}),
		dockerAPIErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stack_updater_docker_api_errors_total",
			Help: "Total Docker Engine API errors.",
		}),
		notifyFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_updater_notification_failures_total",
			Help: "Notifications that could not be delivered, by stack.",
		}, []string{"stack"}),
		inFlightUpdates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stack_updater_updates_in_flight",
			Help: "Update runs currently executing.",
		}),
	}

	registry.MustRegister(
		m.runsTotal,
		m.runDurationSeconds,
		m.versionChecksTotal,
		m.healthRatio,
		m.containers,
		m.checkCycleSeconds,
		m.lastCheckCycleGauge,
		m.dockerAPIErrorsTotal,
		m.notifyFailuresTotal,
		m.inFlightUpdates,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun records a finished update run.
func (m *Metrics) ObserveRun(stack, state string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(stack, state).Inc()
	m.runDurationSeconds.WithLabelValues(stack).Observe(duration.Seconds())
}

// ObserveHealth records the post-update container counts.
func (m *Metrics) ObserveHealth(stack string, running, total int) {
	if m == nil {
		return
	}
	ratio := 0.0
	if total > 0 {
		ratio = float64(running) / float64(total)
	}
	m.healthRatio.WithLabelValues(stack).Set(ratio)
	m.containers.WithLabelValues(stack, "running").Set(float64(running))
	m.containers.WithLabelValues(stack, "total").Set(float64(total))
}

// IncVersionCheck counts a version check outcome ("update_needed", "up_to_date" or "error").
func (m *Metrics) IncVersionCheck(stack, outcome string) {
	if m == nil {
		return
	}
	m.versionChecksTotal.WithLabelValues(stack, outcome).Inc()
}

// ObserveCheckCycle records a completed periodic check cycle.
func (m *Metrics) ObserveCheckCycle(duration time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.checkCycleSeconds.Observe(duration.Seconds())
	m.lastCheckCycleGauge.Set(float64(finished.Unix()))
}

// IncDockerAPIErrors increments the Docker API error counter.
func (m *Metrics) IncDockerAPIErrors() {
	if m == nil {
		return
	}
	m.dockerAPIErrorsTotal.Inc()
}

// IncNotifyFailures counts an undelivered notification.
func (m *Metrics) IncNotifyFailures(stack string) {
	if m == nil {
		return
	}
	m.notifyFailuresTotal.WithLabelValues(stack).Inc()
}

// TrackInFlight marks an update as running and returns a func that marks it done.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.inFlightUpdates.Inc()
	return m.inFlightUpdates.Dec
}
