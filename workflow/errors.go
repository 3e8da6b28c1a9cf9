package workflow

import (
	"fmt"

	"github.com/pkg/errors"
)

// TaskError captures rich context when a task transitions to failed,
// mirroring the teacher's ExecutionError (full path + node + state) but
// scoped to one instance/task pair and carrying a stack trace via
// github.com/pkg/errors so operators log a useful trace without the
// executor needing to know how the underlying error was produced.
type TaskError struct {
	InstanceID string
	TaskID     string
	Reason     string // "operator_failed" | "retry_exhausted" | "timeout" | "panic"
	Err        error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("instance %s task %s: %s: %v", e.InstanceID, e.TaskID, e.Reason, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// NewTaskError wraps msg with a stack trace and attaches instance/task
// context. The executor does not build one: it records a failed task's
// reason as a plain TaskState.ErrorMessage string.
func NewTaskError(instanceID, taskID, reason, msg string) *TaskError {
	return &TaskError{
		InstanceID: instanceID,
		TaskID:     taskID,
		Reason:     reason,
		Err:        errors.New(msg),
	}
}

// ErrTaskNotWaiting is returned by the intake layer when delivery targets a
// task that is not currently suspended (spec §4.6 idempotency requirement).
var ErrTaskNotWaiting = errors.New("workflow: task is not in waiting state")

// ErrInstanceNotFound is returned when an instance id is unknown to the store.
var ErrInstanceNotFound = errors.New("workflow: instance not found")

// ErrDAGNotFound is returned when a dag_id is unknown to the Bag.
var ErrDAGNotFound = errors.New("workflow: dag not found")

// ErrBusy is returned by instance creation when the ready queue's soft cap
// is exceeded (spec §5, Backpressure).
var ErrBusy = errors.New("workflow: engine is busy, ready queue at capacity")
