package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/munistream/engine/workflow"
)

func TestDeriveStatus_AllPendingIsPending(t *testing.T) {
	d := buildLinearDAG(t)
	inst := workflow.NewInstance("i1", d, "user-1", nil)
	assert.Equal(t, workflow.StatusPending, inst.Status)
}

func TestDeriveStatus_RootReadyIsRunning(t *testing.T) {
	d := buildLinearDAG(t)
	inst := workflow.NewInstance("i1", d, "user-1", nil)
	workflow.RefreshReady(d, inst.TaskStates)
	inst.Status = workflow.DeriveStatus(d, inst.TaskStates)

	assert.Equal(t, workflow.TaskReady, inst.TaskStates["a"].Status)
	assert.Equal(t, workflow.StatusRunning, inst.Status)
}

func TestDeriveStatus_AllCompletedIsCompleted(t *testing.T) {
	d := buildLinearDAG(t)
	inst := workflow.NewInstance("i1", d, "user-1", nil)
	for _, st := range inst.TaskStates {
		st.Status = workflow.TaskCompleted
	}
	assert.Equal(t, workflow.StatusCompleted, workflow.DeriveStatus(d, inst.TaskStates))
}

func TestDeriveStatus_AnyFailedIsFailed(t *testing.T) {
	d := buildLinearDAG(t)
	inst := workflow.NewInstance("i1", d, "user-1", nil)
	inst.TaskStates["a"].Status = workflow.TaskCompleted
	inst.TaskStates["b"].Status = workflow.TaskFailed
	assert.Equal(t, workflow.StatusFailed, workflow.DeriveStatus(d, inst.TaskStates))
}

func TestDeriveStatus_WaitingWithNoReadyIsPaused(t *testing.T) {
	d := buildLinearDAG(t)
	inst := workflow.NewInstance("i1", d, "user-1", nil)
	inst.TaskStates["a"].Status = workflow.TaskWaiting
	inst.TaskStates["b"].Status = workflow.TaskPending
	inst.TaskStates["c"].Status = workflow.TaskPending
	assert.Equal(t, workflow.StatusPaused, workflow.DeriveStatus(d, inst.TaskStates))
}

func TestRefreshReady_FanInWaitsForAllUpstream(t *testing.T) {
	b := workflow.NewBuilder("fanin", workflow.WorkflowTypeProcess)
	for _, id := range []string{"a", "b", "c", "d"} {
		b.AddTask(workflow.TaskConfig{TaskID: id, Operator: noopOperator()})
	}
	b.FanOut("a", "b", "c")
	b.FanIn("d", "b", "c")
	d := b.Build()
	require.NoError(t, workflow.NewBag().Register(d))

	inst := workflow.NewInstance("i1", d, "user-1", nil)
	inst.TaskStates["a"].Status = workflow.TaskCompleted
	inst.TaskStates["b"].Status = workflow.TaskCompleted
	inst.TaskStates["c"].Status = workflow.TaskPending
	workflow.RefreshReady(d, inst.TaskStates)

	assert.Equal(t, workflow.TaskPending, inst.TaskStates["d"].Status, "d must wait for c too")

	inst.TaskStates["c"].Status = workflow.TaskCompleted
	workflow.RefreshReady(d, inst.TaskStates)
	assert.Equal(t, workflow.TaskReady, inst.TaskStates["d"].Status)
}
