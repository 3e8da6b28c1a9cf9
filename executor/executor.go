// Package executor implements the Executor/Scheduler (spec §4.3, §5): the
// bounded worker pool that advances instances through their DAG, applies
// operator TaskResults, persists every transition, and dispatches emitted
// events through the Hook Registry. Grounded on orchestrate/state/graph.go's
// single dispatch loop (pop ready nodes, run, apply transition, re-derive
// status), generalized from one linear path to a DAG's multi-task readiness
// frontier, and on orchestrate/config/workflows.go's ParallelConfig for the
// worker-pool sizing pattern.
package executor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/munistream/engine/config"
	"github.com/munistream/engine/hooks"
	"github.com/munistream/engine/observability"
	"github.com/munistream/engine/store"
	"github.com/munistream/engine/workflow"
)

// Metrics counts executor activity, surfaced to the metrics package.
type Metrics struct {
	mu sync.Mutex

	instancesSubmitted int64
	instancesCompleted int64
	instancesFailed    int64
	instancesCancelled int64
	tasksExecuted      int64
	tasksRetried       int64
	tasksTimedOut      int64
	busyRejections     int64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	InstancesSubmitted int64
	InstancesCompleted int64
	InstancesFailed    int64
	InstancesCancelled int64
	TasksExecuted      int64
	TasksRetried       int64
	TasksTimedOut      int64
	BusyRejections     int64
}

func (m *Metrics) snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		InstancesSubmitted: m.instancesSubmitted,
		InstancesCompleted: m.instancesCompleted,
		InstancesFailed:    m.instancesFailed,
		InstancesCancelled: m.instancesCancelled,
		TasksExecuted:      m.tasksExecuted,
		TasksRetried:       m.tasksRetried,
		TasksTimedOut:      m.tasksTimedOut,
		BusyRejections:     m.busyRejections,
	}
}

// Executor is the Executor/Scheduler. One Executor serves one Bag/Store/
// Registry triple for the lifetime of the process.
type Executor struct {
	cfg      config.ExecutorConfig
	dagBag   *workflow.Bag
	st       store.Store
	hookReg  *hooks.Registry
	observer observability.Observer
	logger   *slog.Logger

	ready chan string

	instMu    sync.Mutex
	instances map[string]*workflow.Instance

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	instanceCreator hookCreator
	metricsSink     MetricsSink

	metrics *Metrics

	wg        sync.WaitGroup
	stopOnce  sync.Once
	runCtx    context.Context
	runCancel context.CancelFunc
}

// New creates an Executor. Call Start to begin processing.
func New(cfg config.ExecutorConfig, dagBag *workflow.Bag, st store.Store, hookReg *hooks.Registry, observer observability.Observer) *Executor {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	if cfg.MaxConcurrentInstances <= 0 {
		cfg.MaxConcurrentInstances = 32
	}
	if cfg.ReadyQueueSoftCap <= 0 {
		cfg.ReadyQueueSoftCap = 1000
	}
	return &Executor{
		cfg:       cfg,
		dagBag:    dagBag,
		st:        st,
		hookReg:   hookReg,
		observer:  observer,
		logger:    slog.Default(),
		ready:     make(chan string, cfg.ReadyQueueSoftCap),
		instances: make(map[string]*workflow.Instance),
		locks:     make(map[string]*sync.Mutex),
		metrics:   &Metrics{},
	}
}

// Metrics returns a snapshot of executor activity counters.
func (e *Executor) Metrics() MetricsSnapshot { return e.metrics.snapshot() }

// MetricsSink is the narrow interface metrics.Exporter satisfies, kept here
// (rather than importing the metrics package directly) so executor has no
// dependency on Prometheus wiring choices; the engine installs one via
// SetMetricsSink when it wants Prometheus-backed observability.
type MetricsSink interface {
	RecordTaskExecution(dagID, taskID, resultKind string, latency time.Duration)
	RecordTaskRetried()
	RecordInstanceSubmitted()
	RecordInstanceCompleted()
	RecordInstanceFailed()
	RecordInstanceCancelled()
	RecordBusyRejection()
	RecordHookDispatch(eventsEmitted, matched, spawned, depthExceeded int64)
}

// SetMetricsSink installs a Prometheus (or other) metrics sink.
func (e *Executor) SetMetricsSink(sink MetricsSink) {
	e.metricsSink = sink
}

// Start spins up the worker pool and the wait-table sweeper. A run context
// derived from ctx governs both; Stop cancels it and waits for workers to drain.
func (e *Executor) Start(ctx context.Context) {
	e.runCtx, e.runCancel = context.WithCancel(ctx)

	for i := 0; i < e.cfg.MaxConcurrentInstances; i++ {
		e.wg.Add(1)
		go e.worker()
	}

	e.wg.Add(1)
	go e.sweepLoop()
}

// Stop cancels the run context and blocks until all workers and the
// sweeper have returned.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		if e.runCancel != nil {
			e.runCancel()
		}
	})
	e.wg.Wait()
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.runCtx.Done():
			return
		case instanceID, ok := <-e.ready:
			if !ok {
				return
			}
			e.runInstance(instanceID)
		}
	}
}

func (e *Executor) sweepLoop() {
	defer e.wg.Done()
	interval := e.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

// sweep scans every cached non-terminal instance for elapsed timed wakes and
// re-enqueues any that woke (spec §5, "low-frequency sweeper of the wait
// table").
func (e *Executor) sweep() {
	now := time.Now()

	e.instMu.Lock()
	ids := make([]string, 0, len(e.instances))
	for id, inst := range e.instances {
		if inst.Status == workflow.StatusPaused || inst.Status == workflow.StatusRunning {
			ids = append(ids, id)
		}
	}
	e.instMu.Unlock()

	for _, id := range ids {
		e.instMu.Lock()
		inst := e.instances[id]
		e.instMu.Unlock()
		if inst == nil {
			continue
		}
		d, ok := e.dagBag.Get(inst.DAGID)
		if !ok {
			continue
		}
		woke, timedOut := workflow.ApplyTimedWakes(d, inst.TaskStates, now)
		for _, taskID := range timedOut {
			e.observe(workflow.EventTaskTimeout, observability.LevelWarning, inst.InstanceID, taskID, nil)
		}
		if woke {
			e.requeue(id)
		}
	}
}

// instanceLock returns the per-instance mutex serializing task execution
// within one instance (spec §4.3: "tasks of one instance never execute
// concurrently").
func (e *Executor) instanceLock(instanceID string) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	l, ok := e.locks[instanceID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[instanceID] = l
	}
	return l
}

// Submit registers a freshly created instance and enqueues it for dispatch,
// rejecting with workflow.ErrBusy once the ready queue's soft cap is reached
// (spec §5, Backpressure).
func (e *Executor) Submit(inst *workflow.Instance) error {
	e.instMu.Lock()
	e.instances[inst.InstanceID] = inst
	e.instMu.Unlock()

	e.metrics.mu.Lock()
	e.metrics.instancesSubmitted++
	e.metrics.mu.Unlock()
	if e.metricsSink != nil {
		e.metricsSink.RecordInstanceSubmitted()
	}
	e.observe(workflow.EventInstanceCreate, observability.LevelInfo, inst.InstanceID, "", map[string]any{"dag_id": inst.DAGID})

	select {
	case e.ready <- inst.InstanceID:
		return nil
	default:
		e.metrics.mu.Lock()
		e.metrics.busyRejections++
		e.metrics.mu.Unlock()
		if e.metricsSink != nil {
			e.metricsSink.RecordBusyRejection()
		}
		return workflow.ErrBusy
	}
}

// requeue re-enqueues an already-known instance (an input delivery, a hook
// re-wake, or a sweep-discovered timed wake). Unlike Submit it never counts
// toward the soft-cap rejection path: waking an existing instance is not new
// load creation.
func (e *Executor) requeue(instanceID string) {
	select {
	case e.ready <- instanceID:
	default:
		// Ready channel momentarily full; a goroutine blocks on the send until
		// there is room or the executor stops.
		go func() {
			select {
			case e.ready <- instanceID:
			case <-e.runCtx.Done():
			}
		}()
	}
}

// Get returns the cached instance, if known.
func (e *Executor) Get(instanceID string) (*workflow.Instance, bool) {
	e.instMu.Lock()
	defer e.instMu.Unlock()
	inst, ok := e.instances[instanceID]
	return inst, ok
}

// Cache installs inst into the in-memory cache without enqueuing it, used by
// the engine when hydrating an instance loaded from the store (e.g. on
// DeliverInput/DeliverDecision for an instance not already cached).
func (e *Executor) Cache(inst *workflow.Instance) {
	e.instMu.Lock()
	e.instances[inst.InstanceID] = inst
	e.instMu.Unlock()
}

// Wake re-enqueues instanceID for dispatch, used after a successful external
// input delivery (spec §4.6) or a hook-driven context update.
func (e *Executor) Wake(instanceID string) {
	e.requeue(instanceID)
}

// Cancel sets the instance's cancellation flag; it takes effect the next
// time the instance is dispatched (spec §4.3: "cancellation observed at next
// dispatch; tasks already executing run to completion but their results are
// discarded").
func (e *Executor) Cancel(instanceID string) {
	e.instMu.Lock()
	inst, ok := e.instances[instanceID]
	e.instMu.Unlock()
	if ok {
		inst.Cancelled = true
	}
	e.requeue(instanceID)
}

// observe emits an observability.Event for one of workflow/events.go's
// lifecycle EventType constants, letting an embedder watch task/instance
// transitions via its configured Observer (spec §6).
func (e *Executor) observe(eventType observability.EventType, level observability.Level, instanceID, taskID string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["instance_id"] = instanceID
	if taskID != "" {
		data["task_id"] = taskID
	}
	e.observer.OnEvent(e.runCtx, observability.Event{
		Type:      eventType,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "executor",
		Data:      data,
	})
}

func sortedCopy(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}
