package engine

import (
	"context"
	"fmt"

	"github.com/munistream/engine/store"
	"github.com/munistream/engine/workflow"
)

// CreateInstance creates a new instance of dagID owned by ownerUserID, seeds
// its context with initialContext, submits it for dispatch, and returns its
// id (spec §6, create_instance).
func (e *Engine) CreateInstance(ctx context.Context, dagID, ownerUserID string, initialContext map[string]any) (string, error) {
	d, ok := e.bag.Get(dagID)
	if !ok {
		return "", workflow.ErrDAGNotFound
	}

	inst := workflow.NewInstance(newInstanceID(), d, ownerUserID, initialContext)
	if err := e.st.SaveInstance(ctx, inst); err != nil {
		return "", fmt.Errorf("engine: persist new instance: %w", err)
	}
	if err := e.exec.Submit(inst); err != nil {
		return inst.InstanceID, err
	}
	return inst.InstanceID, nil
}

// DeliverResult is the {accepted | rejected, reason} shape of spec §6's
// deliver_input return value.
type DeliverResult struct {
	Accepted bool
	Reason   string
}

// DeliverInput writes payload at the task's reserved input key and re-queues
// the instance, rejecting if the task is not currently waiting (spec §4.6,
// §6's idempotency requirement: a second delivery to a since-advanced task
// is rejected rather than silently re-applied).
func (e *Engine) DeliverInput(ctx context.Context, instanceID, taskID string, payload map[string]any) (DeliverResult, error) {
	inst, err := e.loadInstance(ctx, instanceID)
	if err != nil {
		return DeliverResult{}, err
	}

	ts, ok := inst.TaskStates[taskID]
	if !ok {
		return DeliverResult{Accepted: false, Reason: "unknown task_id"}, nil
	}
	if ts.Status != workflow.TaskWaiting {
		return DeliverResult{Accepted: false, Reason: "task is not waiting"}, workflow.ErrTaskNotWaiting
	}

	inst.Context = inst.Context.Set(workflow.InputKey(taskID), payload)
	ts.Status = workflow.TaskReady

	if err := e.st.SaveInstance(ctx, inst); err != nil {
		return DeliverResult{}, fmt.Errorf("engine: persist delivered input: %w", err)
	}
	e.exec.Cache(inst)
	e.exec.Wake(instanceID)
	return DeliverResult{Accepted: true}, nil
}

// DeliverDecision delivers an approval decision at the same "{task_id}_input"
// key DeliverInput writes, which is where Approval operators read it (spec
// §6, deliver_decision).
func (e *Engine) DeliverDecision(ctx context.Context, instanceID, taskID string, decision map[string]any) (DeliverResult, error) {
	return e.DeliverInput(ctx, instanceID, taskID, decision)
}

// CancelInstance flags the instance cancelled; the flag takes effect at the
// instance's next dispatch (spec §4.3, §6 cancel_instance).
func (e *Engine) CancelInstance(ctx context.Context, instanceID string) error {
	inst, err := e.loadInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	inst.Cancelled = true
	e.exec.Cache(inst)
	e.exec.Cancel(instanceID)
	return nil
}

// GetInstance returns a snapshot of the instance's persisted state (spec §6,
// get_instance), preferring the executor's in-memory cache over the store
// since the cache always holds the latest in-flight transition.
func (e *Engine) GetInstance(ctx context.Context, instanceID string) (*workflow.Instance, error) {
	return e.loadInstance(ctx, instanceID)
}

// ListFilter filters ListInstances (spec §6, list_instances).
type ListFilter struct {
	Status workflow.Status
	Page   store.Page
}

// ListInstances lists instances matching filter (spec §6, list_instances).
func (e *Engine) ListInstances(ctx context.Context, filter ListFilter) ([]*workflow.Instance, store.Page, error) {
	return e.st.ListByStatus(ctx, filter.Status, filter.Page)
}

// EmitEvent lets callers outside the operator layer inject an event for hook
// dispatch (spec §6, emit_event) — e.g. an external system signalling a
// domain occurrence the engine did not itself produce.
func (e *Engine) EmitEvent(ctx context.Context, ev workflow.Event) error {
	return e.hookReg.Dispatch(ctx, ev, e)
}

// loadInstance returns the executor's cached copy if present, else loads
// from the store and seeds the cache so subsequent calls hit memory.
func (e *Engine) loadInstance(ctx context.Context, instanceID string) (*workflow.Instance, error) {
	if inst, ok := e.exec.Get(instanceID); ok {
		return inst, nil
	}
	inst, err := e.st.LoadInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	e.exec.Cache(inst)
	return inst, nil
}
