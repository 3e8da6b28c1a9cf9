// Package metrics exports engine activity in Prometheus format, grounded on
// 88lin-divinesense/ai/metrics/prometheus.go's PrometheusExporter shape:
// one Registry, a handful of CounterVec/HistogramVec/Gauge instruments
// registered up front, small Record*/Set* methods, and an http.Handler for
// scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exports executor/hooks/store activity for Prometheus scraping.
type Exporter struct {
	registry *prometheus.Registry

	instancesSubmitted prometheus.Counter
	instancesCompleted prometheus.Counter
	instancesFailed    prometheus.Counter
	instancesCancelled prometheus.Counter
	instancesBusy      prometheus.Counter

	tasksExecuted *prometheus.CounterVec
	taskLatency   *prometheus.HistogramVec
	tasksRetried  prometheus.Counter
	tasksTimedOut prometheus.Counter

	// Hook registry metrics mirror hooks.Registry.Metrics()'s cumulative
	// snapshot, so they're Gauges set to the latest observed total rather
	// than Counters incremented per call (the registry, not this exporter,
	// owns the counting).
	hookEventsEmitted    prometheus.Gauge
	hookMatches          prometheus.Gauge
	hookInstancesSpawned prometheus.Gauge
	hookDepthExceeded    prometheus.Gauge

	runningInstances prometheus.Gauge
}

// Config configures the Exporter.
type Config struct {
	Registry       *prometheus.Registry
	LatencyBuckets []float64
}

// DefaultConfig returns sensible latency bucket defaults for task execution.
func DefaultConfig() Config {
	return Config{LatencyBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120}}
}

// New creates an Exporter and registers every instrument.
func New(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.instancesSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "munistream", Subsystem: "engine", Name: "instances_submitted_total",
		Help: "Total instances submitted to the executor.",
	})
	e.instancesCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "munistream", Subsystem: "engine", Name: "instances_completed_total",
		Help: "Total instances that reached status completed.",
	})
	e.instancesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "munistream", Subsystem: "engine", Name: "instances_failed_total",
		Help: "Total instances that reached status failed.",
	})
	e.instancesCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "munistream", Subsystem: "engine", Name: "instances_cancelled_total",
		Help: "Total instances that reached status cancelled.",
	})
	e.instancesBusy = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "munistream", Subsystem: "engine", Name: "instances_busy_rejections_total",
		Help: "Total instance submissions rejected due to the ready queue soft cap.",
	})

	e.tasksExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "munistream", Subsystem: "engine", Name: "tasks_executed_total",
		Help: "Total task executions by resulting kind.",
	}, []string{"result"})
	e.taskLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "munistream", Subsystem: "engine", Name: "task_duration_seconds",
		Help: "Task execution latency in seconds.", Buckets: cfg.LatencyBuckets,
	}, []string{"dag_id", "task_id"})
	e.tasksRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "munistream", Subsystem: "engine", Name: "tasks_retried_total",
		Help: "Total task executions that transitioned to retry.",
	})
	e.tasksTimedOut = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "munistream", Subsystem: "engine", Name: "tasks_timed_out_total",
		Help: "Total tasks that exceeded their timeout while waiting.",
	})

	e.hookEventsEmitted = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "munistream", Subsystem: "hooks", Name: "events_emitted_total",
		Help: "Total events submitted to the hook registry for dispatch.",
	})
	e.hookMatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "munistream", Subsystem: "hooks", Name: "matches_total",
		Help: "Total hook matches across all dispatched events.",
	})
	e.hookInstancesSpawned = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "munistream", Subsystem: "hooks", Name: "instances_spawned_total",
		Help: "Total listener instances created by hook dispatch.",
	})
	e.hookDepthExceeded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "munistream", Subsystem: "hooks", Name: "depth_exceeded_total",
		Help: "Total hook matches skipped for exceeding the expansion depth limit.",
	})

	e.runningInstances = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "munistream", Subsystem: "engine", Name: "instances_running",
		Help: "Instances currently cached in the running set.",
	})

	registry.MustRegister(
		e.instancesSubmitted, e.instancesCompleted, e.instancesFailed, e.instancesCancelled, e.instancesBusy,
		e.tasksExecuted, e.taskLatency, e.tasksRetried, e.tasksTimedOut,
		e.hookEventsEmitted, e.hookMatches, e.hookInstancesSpawned, e.hookDepthExceeded,
		e.runningInstances,
	)

	return e
}

func (e *Exporter) RecordInstanceSubmitted() { e.instancesSubmitted.Inc() }
func (e *Exporter) RecordInstanceCompleted() { e.instancesCompleted.Inc() }
func (e *Exporter) RecordInstanceFailed()    { e.instancesFailed.Inc() }
func (e *Exporter) RecordInstanceCancelled() { e.instancesCancelled.Inc() }
func (e *Exporter) RecordBusyRejection()     { e.instancesBusy.Inc() }
func (e *Exporter) RecordTaskRetried()       { e.tasksRetried.Inc() }
func (e *Exporter) RecordTaskTimedOut()      { e.tasksTimedOut.Inc() }
func (e *Exporter) SetRunningInstances(n int) { e.runningInstances.Set(float64(n)) }

// RecordTaskExecution records one operator invocation's outcome and latency.
func (e *Exporter) RecordTaskExecution(dagID, taskID, resultKind string, latency time.Duration) {
	e.tasksExecuted.WithLabelValues(resultKind).Inc()
	e.taskLatency.WithLabelValues(dagID, taskID).Observe(latency.Seconds())
}

// RecordHookDispatch sets the hook registry gauges to the latest cumulative
// totals from hooks.Registry.Metrics().
func (e *Exporter) RecordHookDispatch(eventsEmitted, matched, spawned, depthExceeded int64) {
	e.hookEventsEmitted.Set(float64(eventsEmitted))
	e.hookMatches.Set(float64(matched))
	e.hookInstancesSpawned.Set(float64(spawned))
	e.hookDepthExceeded.Set(float64(depthExceeded))
}

// Handler returns the promhttp handler for this Exporter's registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying prometheus.Registry for advanced callers.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }
