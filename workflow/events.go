package workflow

import (
	"time"

	"github.com/munistream/engine/observability"
)

// Observability event types for task/instance lifecycle transitions, emitted
// by the executor as it advances instances, named after the teacher's
// orchestrate/state/events.go convention (dotted, subsystem-scoped).
const (
	EventInstanceCreate   observability.EventType = "instance.create"
	EventTaskReady        observability.EventType = "task.ready"
	EventTaskStart        observability.EventType = "task.start"
	EventTaskContinue     observability.EventType = "task.continue"
	EventTaskWaiting      observability.EventType = "task.waiting"
	EventTaskRetry        observability.EventType = "task.retry"
	EventTaskSkip         observability.EventType = "task.skip"
	EventTaskFailed       observability.EventType = "task.failed"
	EventTaskTimeout      observability.EventType = "task.timeout"
	EventInstanceComplete observability.EventType = "instance.complete"
	EventInstanceFailed   observability.EventType = "instance.failed"
	EventInstanceCancel   observability.EventType = "instance.cancel"
)

// EventType names the dotted wire grammar of spec §6: engine-emitted
// lifecycle events and operator-emitted domain events, dispatched through
// the hook registry.
type EventType string

const (
	EventWorkflowCompleted EventType = "WORKFLOW_COMPLETED"
	EventWorkflowFailed    EventType = "WORKFLOW_FAILED"
	EventApprovalRequested EventType = "APPROVAL_REQUESTED"
	EventApprovalDecided   EventType = "APPROVAL_DECIDED"
)

// EntityCreatedEvent builds the dotted "ENTITY_CREATED.<entity_type>" event type.
func EntityCreatedEvent(entityType string) EventType {
	return EventType("ENTITY_CREATED." + entityType)
}

// EntityUpdatedEvent builds the dotted "ENTITY_UPDATED.<entity_type>" event type.
func EntityUpdatedEvent(entityType string) EventType {
	return EventType("ENTITY_UPDATED." + entityType)
}

// Event is a transient dispatch unit (spec §3, Event): never persisted as a
// durable log, only its effects (child instances created by hooks) are.
type Event struct {
	EventType        EventType      `json:"event_type"`
	SourceWorkflowID string         `json:"source_workflow_id"`
	SourceInstanceID string         `json:"source_instance_id"`
	Payload          map[string]any `json:"payload"`
	Timestamp        time.Time      `json:"timestamp"`
}
