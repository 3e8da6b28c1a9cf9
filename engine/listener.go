package engine

import (
	"context"
	"fmt"

	"github.com/munistream/engine/hooks"
	"github.com/munistream/engine/workflow"
)

// CreateListenerInstance implements hooks.InstanceCreator and the executor's
// hookCreator: it materializes a child instance of listenerWorkflowID when a
// registered hook matches an emitted event (spec §4.7). initialContext has
// already had its hook-mapped fields applied by the registry; here it is
// additionally stripped of any "_"-prefixed internal keys before seeding the
// child (spec §3(d): internal keys "must not be propagated into child
// instances").
func (e *Engine) CreateListenerInstance(ctx context.Context, listenerWorkflowID string, initialContext map[string]any, parentInstanceID string, triggeringEvent *workflow.Event) (string, error) {
	d, ok := e.bag.Get(listenerWorkflowID)
	if !ok {
		return "", fmt.Errorf("engine: listener workflow %q not registered", listenerWorkflowID)
	}

	inst := workflow.NewInstance(newInstanceID(), d, "", workflow.StripInternal(initialContext))
	inst.ParentInstanceID = parentInstanceID
	inst.TriggeringEvent = triggeringEvent
	// Persist the depth this instance was created at so that, when it later
	// emits its own events, the executor can thread that depth back into
	// Dispatch instead of always starting a cyclic hook chain back at 0.
	inst.HookDepth = hooks.DepthFromContext(ctx)

	if err := e.st.SaveInstance(ctx, inst); err != nil {
		return "", fmt.Errorf("engine: persist listener instance: %w", err)
	}
	if err := e.exec.Submit(inst); err != nil {
		return inst.InstanceID, err
	}
	return inst.InstanceID, nil
}
