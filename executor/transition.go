package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/munistream/engine/hooks"
	"github.com/munistream/engine/observability"
	"github.com/munistream/engine/workflow"
)

// hookCreator adapts the Executor's instance-creation callback to
// hooks.InstanceCreator; set by the engine package via SetInstanceCreator to
// avoid an executor -> engine import cycle.
type hookCreator interface {
	CreateListenerInstance(ctx context.Context, listenerWorkflowID string, initialContext map[string]any, parentInstanceID string, triggeringEvent *workflow.Event) (string, error)
}

// SetInstanceCreator installs the callback used to materialize listener
// instances spawned by hooks. The engine calls this once during construction.
func (e *Executor) SetInstanceCreator(c hookCreator) {
	e.instanceCreator = c
}

// runInstance advances inst through as many ready tasks as are currently
// executable, persisting after each pass and dispatching any events emitted
// along the way, until the instance blocks (paused), reaches a terminal
// status, or has no further executable work this pass (spec §4.3 steps 1-5).
func (e *Executor) runInstance(instanceID string) {
	lock := e.instanceLock(instanceID)
	lock.Lock()
	defer lock.Unlock()

	e.instMu.Lock()
	inst := e.instances[instanceID]
	e.instMu.Unlock()
	if inst == nil {
		loaded, err := e.st.LoadInstance(e.runCtx, instanceID)
		if err != nil {
			e.logger.Error("executor: instance not found for dispatch", "instance_id", instanceID, "error", err)
			return
		}
		inst = loaded
		e.instMu.Lock()
		e.instances[instanceID] = inst
		e.instMu.Unlock()
	}

	d, ok := e.dagBag.Get(inst.DAGID)
	if !ok {
		e.logger.Error("executor: dag not found for instance", "instance_id", instanceID, "dag_id", inst.DAGID)
		return
	}

	// A cancelled instance is final: re-dispatching it must not re-derive its
	// status from the task table, which has no cancelled outcome.
	if inst.Status == workflow.StatusCancelled {
		return
	}

	if inst.Cancelled && inst.Status != workflow.StatusCancelled && inst.Status != workflow.StatusCompleted && inst.Status != workflow.StatusFailed {
		e.applyCancellation(d, inst)
		e.persistAndFinalize(inst, d, nil)
		return
	}

	var allEvents []workflow.Event
	now := time.Now()
	_, timedOut := workflow.ApplyTimedWakes(d, inst.TaskStates, now)
	for _, taskID := range timedOut {
		e.observe(workflow.EventTaskTimeout, observability.LevelWarning, inst.InstanceID, taskID, nil)
	}

	for {
		workflow.RefreshReady(d, inst.TaskStates)
		ready := sortedCopy(workflow.ExecutableTasks(inst.TaskStates))
		if len(ready) == 0 {
			break
		}

		for _, taskID := range ready {
			if inst.Cancelled {
				break
			}
			e.observe(workflow.EventTaskReady, observability.LevelVerbose, inst.InstanceID, taskID, nil)
			events := e.executeTask(inst, d, taskID)
			allEvents = append(allEvents, events...)
		}

		if inst.Cancelled {
			e.applyCancellation(d, inst)
			e.persistAndFinalize(inst, d, allEvents)
			return
		}
	}

	inst.Status = workflow.DeriveStatus(d, inst.TaskStates)
	e.persistAndFinalize(inst, d, allEvents)
}

// executeTask runs one ready task's operator and applies the resulting
// TaskResult to its TaskState (spec §4.1, §4.3 step 3). It returns any
// events the operator buffered plus implicit lifecycle events for this task.
func (e *Executor) executeTask(inst *workflow.Instance, d *workflow.DAG, taskID string) []workflow.Event {
	cfg := d.Tasks[taskID]
	ts := inst.TaskStates[taskID]

	ts.Status = workflow.TaskExecuting
	ts.AttemptCount++
	if ts.InputSnapshot == nil {
		ts.InputSnapshot = inst.Context.Raw()
	}
	if ts.Metadata == nil {
		ts.Metadata = map[string]any{}
	}
	now := time.Now()
	if ts.StartedAt == nil {
		ts.StartedAt = &now
	}
	e.observe(workflow.EventTaskStart, observability.LevelInfo, inst.InstanceID, taskID, map[string]any{"attempt": ts.AttemptCount})

	tc := workflow.NewTaskContext(taskID, inst.Context, ts.AttemptCount, ts.Metadata, newTaskLogSink(e.runCtx, e.observer, inst.InstanceID, taskID), e.observer)

	execStart := time.Now()
	result := e.safeExecute(cfg.Operator, tc)
	elapsed := time.Since(execStart)

	e.metrics.mu.Lock()
	e.metrics.tasksExecuted++
	e.metrics.mu.Unlock()
	if e.metricsSink != nil {
		e.metricsSink.RecordTaskExecution(inst.DAGID, taskID, result.Kind.String(), elapsed)
	}

	// Cancellation observed while the operator ran: its result (and any
	// events it buffered) is discarded, and the task is left for
	// applyCancellation to mark cancelled.
	if inst.Cancelled {
		return nil
	}

	e.applyResult(inst, cfg, ts, result)

	return tc.DrainEvents()
}

// safeExecute runs op.ExecuteAsync when op implements workflow.AsyncOperator,
// else op.Execute, and recovers a panic into ResultFailed (spec §7: "an
// uncaught panic is trapped by the executor").
func (e *Executor) safeExecute(op workflow.Operator, tc *workflow.TaskContext) (result workflow.TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			result = workflow.Failed(fmt.Sprintf("panic: %v", r))
		}
	}()
	if aop, ok := op.(workflow.AsyncOperator); ok {
		return aop.ExecuteAsync(e.runCtx, tc)
	}
	return op.Execute(e.runCtx, tc)
}

func (e *Executor) applyResult(inst *workflow.Instance, cfg *workflow.TaskConfig, ts *workflow.TaskState, result workflow.TaskResult) {
	now := time.Now()
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.cfg.DefaultMaxAttempts
	}

	switch result.Kind {
	case workflow.ResultContinue:
		inst.Context = inst.Context.Merge(result.Data)
		ts.Output = result.Data
		ts.Status = workflow.TaskCompleted
		ts.CompletedAt = &now
		ts.ErrorMessage = ""
		e.observe(workflow.EventTaskContinue, observability.LevelInfo, inst.InstanceID, ts.TaskID, nil)

	case workflow.ResultWaiting:
		inst.Context = inst.Context.Merge(result.Data)
		ts.Status = workflow.TaskWaiting
		ts.WaitingFor = result.WaitingFor
		if ts.WaitingSince == nil {
			ts.WaitingSince = &now
		}
		if result.RetryDelaySeconds != nil {
			eligible := now.Add(time.Duration(*result.RetryDelaySeconds) * time.Second)
			ts.NextEligible = &eligible
		} else {
			ts.NextEligible = nil
		}
		e.observe(workflow.EventTaskWaiting, observability.LevelInfo, inst.InstanceID, ts.TaskID, map[string]any{"waiting_for": ts.WaitingFor})

	case workflow.ResultRetry:
		ts.ErrorMessage = result.RetryError
		if maxAttempts > 0 && ts.AttemptCount > maxAttempts {
			ts.Status = workflow.TaskFailed
			ts.ErrorMessage = fmt.Sprintf("max_attempts (%d) exceeded: %s", maxAttempts, result.RetryError)
			e.observe(workflow.EventTaskFailed, observability.LevelError, inst.InstanceID, ts.TaskID, map[string]any{"error": ts.ErrorMessage})
			break
		}
		e.metrics.mu.Lock()
		e.metrics.tasksRetried++
		e.metrics.mu.Unlock()
		if e.metricsSink != nil {
			e.metricsSink.RecordTaskRetried()
		}
		ts.Status = workflow.TaskRetry
		delay := e.retryDelay(result, ts.AttemptCount)
		eligible := now.Add(delay)
		ts.NextEligible = &eligible
		e.observe(workflow.EventTaskRetry, observability.LevelWarning, inst.InstanceID, ts.TaskID, map[string]any{"attempt": ts.AttemptCount, "error": result.RetryError})

	case workflow.ResultSkip:
		ts.Status = workflow.TaskSkipped
		ts.ErrorMessage = ""
		if result.SkipReason != "" {
			if ts.Metadata == nil {
				ts.Metadata = map[string]any{}
			}
			ts.Metadata["skip_reason"] = result.SkipReason
		}
		e.observe(workflow.EventTaskSkip, observability.LevelInfo, inst.InstanceID, ts.TaskID, map[string]any{"skip_reason": result.SkipReason})

	case workflow.ResultFailed:
		ts.Status = workflow.TaskFailed
		ts.ErrorMessage = result.Error
		e.observe(workflow.EventTaskFailed, observability.LevelError, inst.InstanceID, ts.TaskID, map[string]any{"error": result.Error})
	}
}

func (e *Executor) retryDelay(result workflow.TaskResult, attempt int) time.Duration {
	if result.RetryDelay != nil {
		return time.Duration(*result.RetryDelay) * time.Second
	}
	return workflow.Backoff(attempt, e.cfg.BackoffBase, e.cfg.BackoffMax)
}

// applyCancellation marks every non-terminal task cancelled and the instance
// cancelled, discarding any further pending work (spec §4.3, Cancellation).
func (e *Executor) applyCancellation(d *workflow.DAG, inst *workflow.Instance) {
	for id := range d.Tasks {
		ts := inst.TaskStates[id]
		if !ts.Status.IsTerminal() {
			ts.Status = workflow.TaskCancelled
		}
	}
	inst.Status = workflow.StatusCancelled
}

// persistAndFinalize saves inst, then — if it reached a terminal status —
// emits the implicit lifecycle event and dispatches every collected event
// through the hook registry (spec §4.7: "events emitted during one
// instance's transition are dispatched after that transition is persisted").
func (e *Executor) persistAndFinalize(inst *workflow.Instance, d *workflow.DAG, events []workflow.Event) {
	if err := e.st.SaveInstance(e.runCtx, inst); err != nil {
		e.logger.Error("executor: failed to persist instance", "instance_id", inst.InstanceID, "error", err)
	}

	switch inst.Status {
	case workflow.StatusCompleted:
		now := time.Now()
		inst.CompletedAt = &now
		e.metrics.mu.Lock()
		e.metrics.instancesCompleted++
		e.metrics.mu.Unlock()
		if e.metricsSink != nil {
			e.metricsSink.RecordInstanceCompleted()
		}
		e.observe(workflow.EventInstanceComplete, observability.LevelInfo, inst.InstanceID, "", nil)
		if d.EmitEvents {
			events = append(events, e.lifecycleEvent(inst, workflow.EventWorkflowCompleted))
		}
	case workflow.StatusFailed:
		now := time.Now()
		inst.CompletedAt = &now
		e.metrics.mu.Lock()
		e.metrics.instancesFailed++
		e.metrics.mu.Unlock()
		if e.metricsSink != nil {
			e.metricsSink.RecordInstanceFailed()
		}
		e.observe(workflow.EventInstanceFailed, observability.LevelError, inst.InstanceID, "", nil)
		if d.EmitEvents {
			events = append(events, e.lifecycleEvent(inst, workflow.EventWorkflowFailed))
		}
	case workflow.StatusCancelled:
		e.metrics.mu.Lock()
		e.metrics.instancesCancelled++
		e.metrics.mu.Unlock()
		if e.metricsSink != nil {
			e.metricsSink.RecordInstanceCancelled()
		}
		e.observe(workflow.EventInstanceCancel, observability.LevelWarning, inst.InstanceID, "", nil)
	}

	if len(events) == 0 || e.hookReg == nil || e.instanceCreator == nil {
		return
	}
	// Dispatch carries this instance's own hook-expansion depth (how many
	// hook hops already created it) so a cyclic hook chain is bounded across
	// instances, not just within one Dispatch call (spec §4.7).
	dispatchCtx := hooks.WithDepth(e.runCtx, inst.HookDepth)
	for _, ev := range events {
		if ev.SourceWorkflowID == "" {
			ev.SourceWorkflowID = inst.DAGID
		}
		if ev.SourceInstanceID == "" {
			ev.SourceInstanceID = inst.InstanceID
		}
		if err := e.hookReg.Dispatch(dispatchCtx, ev, e.instanceCreator); err != nil {
			e.logger.Error("executor: hook dispatch failed", "instance_id", inst.InstanceID, "event_type", ev.EventType, "error", err)
		}
	}

	if e.metricsSink != nil {
		snap := e.hookReg.Metrics()
		e.metricsSink.RecordHookDispatch(snap.EventsEmitted, snap.HooksMatched, snap.InstancesSpawned, snap.DepthExceeded)
	}
}

func (e *Executor) lifecycleEvent(inst *workflow.Instance, eventType workflow.EventType) workflow.Event {
	return workflow.Event{
		EventType:        eventType,
		SourceWorkflowID: inst.DAGID,
		SourceInstanceID: inst.InstanceID,
		Payload:          inst.Context.Raw(),
		Timestamp:        time.Now(),
	}
}
