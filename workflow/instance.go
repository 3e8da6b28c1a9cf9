package workflow

import "time"

// TaskStatus is the per-(instance, task) state (spec §4.2).
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskReady     TaskStatus = "ready"
	TaskExecuting TaskStatus = "executing"
	TaskCompleted TaskStatus = "completed"
	TaskWaiting   TaskStatus = "waiting"
	TaskRetry     TaskStatus = "retry"
	TaskSkipped   TaskStatus = "skipped"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// satisfiesUpstream reports whether s is one of the statuses that satisfy a downstream task's
// "all upstream tasks complete" readiness condition (spec §4.2: "in
// {completed, skipped}").
func (s TaskStatus) satisfiesUpstream() bool {
	return s == TaskCompleted || s == TaskSkipped
}

// IsTerminal reports whether no further transition is possible for this task.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskSkipped, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// TaskState is the per-instance, per-task execution record (spec §3).
type TaskState struct {
	TaskID        string         `json:"task_id"`
	Status        TaskStatus     `json:"status"`
	InputSnapshot map[string]any `json:"input_snapshot,omitempty"`
	Output        map[string]any `json:"output,omitempty"` // written exactly once, at the transition into completed
	AssignedTo    string         `json:"assigned_to,omitempty"`
	WaitingFor    string         `json:"waiting_for,omitempty"`
	AttemptCount  int            `json:"attempt_count"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	WaitingSince  *time.Time     `json:"waiting_since,omitempty"` // when the task first entered waiting; timeout clock anchor
	NextEligible  *time.Time     `json:"next_eligible,omitempty"` // earliest wall-clock time a retry/poll wake may re-run this task
	Metadata      map[string]any `json:"metadata,omitempty"`      // operator-controlled scratch space
}

// Status is the instance's lifecycle state, derived via DeriveStatus (spec
// §4.2); the one exception is StatusCancelled, which the executor sets
// directly when it applies a cancellation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Instance is one execution of a DAG for one request (spec §3).
type Instance struct {
	InstanceID       string
	DAGID            string
	OwnerUserID      string
	Tenant           string
	Status           Status
	Context          Context
	TaskStates       map[string]*TaskState
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ParentInstanceID string
	TriggeringEvent  *Event
	Cancelled        bool // cancellation flag observed at next dispatch (spec §4.3)
	HookDepth        int  // hook-expansion depth this instance was created at (spec §4.7)
}

// NewInstance creates a pending Instance for dag with every task in
// TaskPending, seeded with initialContext.
func NewInstance(instanceID string, d *DAG, ownerUserID string, initialContext map[string]any) *Instance {
	states := make(map[string]*TaskState, len(d.Tasks))
	for id := range d.Tasks {
		states[id] = &TaskState{TaskID: id, Status: TaskPending}
	}
	inst := &Instance{
		InstanceID: instanceID,
		DAGID:      d.DAGID,
		OwnerUserID: ownerUserID,
		Context:    NewContext(initialContext),
		TaskStates: states,
		CreatedAt:  time.Now(),
	}
	inst.Status = DeriveStatus(d, inst.TaskStates)
	return inst
}

// RefreshReady promotes every TaskPending task whose upstream dependencies
// are all satisfied (completed or skipped) to TaskReady (spec §4.2: "A task
// is ready when all upstream tasks are in {completed, skipped}").
func RefreshReady(d *DAG, states map[string]*TaskState) {
	for id, t := range d.Tasks {
		st := states[id]
		if st.Status != TaskPending {
			continue
		}
		ready := true
		for _, up := range t.UpstreamIDs {
			if !states[up].Status.satisfiesUpstream() {
				ready = false
				break
			}
		}
		if ready {
			st.Status = TaskReady
		}
	}
}

// ExecutableTasks returns the task ids currently in TaskReady (spec §4.3 step 2).
func ExecutableTasks(states map[string]*TaskState) []string {
	var out []string
	for id, st := range states {
		if st.Status == TaskReady {
			out = append(out, id)
		}
	}
	return out
}

// DeriveStatus is the authority for instance status (spec §4.2 table). It
// never returns StatusCancelled; the executor assigns that status directly
// when it applies a cancellation.
func DeriveStatus(d *DAG, states map[string]*TaskState) Status {
	allDone := true
	anyFailed := false
	anyWaiting := false
	anyReadyOrExecuting := false

	for _, t := range d.Tasks {
		st := states[t.TaskID].Status
		switch st {
		case TaskCompleted, TaskSkipped:
			// counts toward allDone
		case TaskFailed:
			anyFailed = true
			allDone = false
		case TaskWaiting:
			anyWaiting = true
			allDone = false
		case TaskReady, TaskExecuting, TaskRetry:
			anyReadyOrExecuting = true
			allDone = false
		case TaskCancelled:
			allDone = false
		default: // pending
			allDone = false
		}
	}

	switch {
	case allDone:
		return StatusCompleted
	case anyFailed:
		return StatusFailed
	case anyWaiting && !anyReadyOrExecuting:
		return StatusPaused
	case anyReadyOrExecuting:
		return StatusRunning
	default:
		return StatusPending
	}
}
