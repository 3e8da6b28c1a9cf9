// Package hooks implements the Hook Registry & Event Bus (spec §4.7): event
// matching against registered hooks and listener-instance creation, grounded
// on orchestrate/hub's publish-subscribe pattern (topic subscription,
// priority-ordered fan-out, metrics) generalized from agent topics to
// dotted workflow event types matched by regex.
package hooks

import "github.com/munistream/engine/workflow"

// TriggerType labels a hook as immediate or conditional (spec §3, Hook).
// Registry.Match does not consult it: a hook's Conditions, when non-empty,
// are evaluated whatever its TriggerType.
type TriggerType string

const (
	TriggerImmediate  TriggerType = "immediate"
	TriggerConditional TriggerType = "conditional"
)

// Hook is a rule: "when event matching event_pattern fires (optionally from
// source_workflow_id, optionally matching conditions), create an instance
// of listener_workflow_id" (spec §3, Hook).
type Hook struct {
	HookID             string
	ListenerWorkflowID string
	SourceWorkflowID   string // "*" or empty means any source
	EventPattern       string // regex matched against the full event type
	Conditions         map[string]any
	TriggerType        TriggerType
	Priority           int

	// ContextMapping renames/copies keys from the firing event's payload
	// into the new instance's initial context: destination key -> source
	// payload key.
	ContextMapping map[string]string
}

// MapContext applies ContextMapping to an event payload, producing the
// child instance's initial context (spec §4.7).
func (h Hook) MapContext(payload map[string]any) map[string]any {
	out := make(map[string]any, len(h.ContextMapping))
	for dest, src := range h.ContextMapping {
		if v, ok := payload[src]; ok {
			out[dest] = v
		}
	}
	return workflow.StripInternal(out)
}
