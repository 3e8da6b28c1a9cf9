package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/munistream/engine/config"
	"github.com/munistream/engine/executor"
	"github.com/munistream/engine/hooks"
	"github.com/munistream/engine/store"
	"github.com/munistream/engine/workflow"
)

// fakeCreator satisfies the executor's hookCreator interface for tests that
// don't need a real engine.
type fakeCreator struct{}

func (fakeCreator) CreateListenerInstance(ctx context.Context, listenerWorkflowID string, initialContext map[string]any, parentInstanceID string, triggeringEvent *workflow.Event) (string, error) {
	return "listener-1", nil
}

func testCfg() config.ExecutorConfig {
	cfg := config.DefaultExecutorConfig()
	cfg.SweepInterval = 20 * time.Millisecond
	cfg.BackoffBase = 10 * time.Millisecond
	cfg.BackoffMax = 50 * time.Millisecond
	return cfg
}

func newHarness(t *testing.T) (*executor.Executor, *workflow.Bag, store.Store) {
	t.Helper()
	bag := workflow.NewBag()
	st := store.NewMemoryStore()
	hookReg := hooks.New(8, nil)
	exec := executor.New(testCfg(), bag, st, hookReg, nil)
	exec.SetInstanceCreator(fakeCreator{})
	exec.Start(context.Background())
	t.Cleanup(exec.Stop)
	return exec, bag, st
}

func waitForStatus(t *testing.T, exec *executor.Executor, instanceID string, want workflow.Status) *workflow.Instance {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if inst, ok := exec.Get(instanceID); ok && inst.Status == want {
			return inst
		}
		time.Sleep(5 * time.Millisecond)
	}
	inst, _ := exec.Get(instanceID)
	t.Fatalf("instance %s did not reach status %s (last: %+v)", instanceID, want, inst)
	return nil
}

func TestExecutor_LinearCompletion(t *testing.T) {
	exec, bag, _ := newHarness(t)

	d := workflow.NewBuilder("linear", workflow.WorkflowTypeProcess).
		AddTask(workflow.TaskConfig{TaskID: "a", Operator: workflow.OperatorFunc(func(ctx context.Context, tc *workflow.TaskContext) workflow.TaskResult {
			return workflow.Continue(map[string]any{"a_out": 1})
		})}).
		AddTask(workflow.TaskConfig{TaskID: "b", Operator: workflow.OperatorFunc(func(ctx context.Context, tc *workflow.TaskContext) workflow.TaskResult {
			v, _ := tc.Context.Get("a_out")
			return workflow.Continue(map[string]any{"b_out": v})
		})}).
		Then("a", "b").
		Build()
	require.NoError(t, bag.Register(d))

	inst := workflow.NewInstance("inst-1", d, "user-1", nil)
	require.NoError(t, exec.Submit(inst))

	done := waitForStatus(t, exec, "inst-1", workflow.StatusCompleted)
	v, ok := done.Context.Get("b_out")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestExecutor_WaitingSuspendsInstance(t *testing.T) {
	exec, bag, _ := newHarness(t)

	d := workflow.NewBuilder("suspend", workflow.WorkflowTypeProcess).
		AddTask(workflow.TaskConfig{TaskID: "form", Operator: workflow.OperatorFunc(func(ctx context.Context, tc *workflow.TaskContext) workflow.TaskResult {
			if _, ok := tc.Context.Get(workflow.InputKey("form")); ok {
				return workflow.Continue(map[string]any{"form_done": true})
			}
			return workflow.Waiting(nil, "form_input", nil)
		})}).
		Build()
	require.NoError(t, bag.Register(d))

	inst := workflow.NewInstance("inst-2", d, "user-1", nil)
	require.NoError(t, exec.Submit(inst))

	paused := waitForStatus(t, exec, "inst-2", workflow.StatusPaused)
	assert.Equal(t, workflow.TaskWaiting, paused.TaskStates["form"].Status)
	assert.Equal(t, "form_input", paused.TaskStates["form"].WaitingFor)

	paused.Context = paused.Context.Set(workflow.InputKey("form"), map[string]any{"ok": true})
	paused.TaskStates["form"].Status = workflow.TaskReady
	exec.Wake("inst-2")

	done := waitForStatus(t, exec, "inst-2", workflow.StatusCompleted)
	v, _ := done.Context.Get("form_done")
	assert.Equal(t, true, v)
}

func TestExecutor_RetryExhaustionFails(t *testing.T) {
	exec, bag, _ := newHarness(t)

	d := workflow.NewBuilder("retry", workflow.WorkflowTypeProcess).
		AddTask(workflow.TaskConfig{TaskID: "flaky", MaxAttempts: 2, Operator: workflow.OperatorFunc(func(ctx context.Context, tc *workflow.TaskContext) workflow.TaskResult {
			return workflow.Retry("transient failure", seconds(0))
		})}).
		Build()
	require.NoError(t, bag.Register(d))

	inst := workflow.NewInstance("inst-3", d, "user-1", nil)
	require.NoError(t, exec.Submit(inst))

	done := waitForStatus(t, exec, "inst-3", workflow.StatusFailed)
	ts := done.TaskStates["flaky"]
	assert.Equal(t, workflow.TaskFailed, ts.Status)
	assert.Equal(t, 3, ts.AttemptCount)
	assert.Contains(t, ts.ErrorMessage, "max_attempts")
}

func TestExecutor_SkipPropagatesToFanIn(t *testing.T) {
	exec, bag, _ := newHarness(t)

	d := workflow.NewBuilder("skip", workflow.WorkflowTypeProcess).
		AddTask(workflow.TaskConfig{TaskID: "root", Operator: workflow.OperatorFunc(func(ctx context.Context, tc *workflow.TaskContext) workflow.TaskResult {
			return workflow.Continue(nil)
		})}).
		AddTask(workflow.TaskConfig{TaskID: "skipped", Operator: workflow.OperatorFunc(func(ctx context.Context, tc *workflow.TaskContext) workflow.TaskResult {
			return workflow.Skip("not applicable")
		})}).
		AddTask(workflow.TaskConfig{TaskID: "sink", Operator: workflow.OperatorFunc(func(ctx context.Context, tc *workflow.TaskContext) workflow.TaskResult {
			return workflow.Continue(nil)
		})}).
		FanOut("root", "skipped").
		Then("skipped", "sink").
		Build()
	require.NoError(t, bag.Register(d))

	inst := workflow.NewInstance("inst-4", d, "user-1", nil)
	require.NoError(t, exec.Submit(inst))

	done := waitForStatus(t, exec, "inst-4", workflow.StatusCompleted)
	assert.Equal(t, workflow.TaskSkipped, done.TaskStates["skipped"].Status)
	assert.Equal(t, workflow.TaskCompleted, done.TaskStates["sink"].Status)
}

func TestExecutor_CancelStopsInstance(t *testing.T) {
	exec, bag, _ := newHarness(t)

	d := workflow.NewBuilder("cancellable", workflow.WorkflowTypeProcess).
		AddTask(workflow.TaskConfig{TaskID: "wait", Operator: workflow.OperatorFunc(func(ctx context.Context, tc *workflow.TaskContext) workflow.TaskResult {
			return workflow.Waiting(nil, "never", nil)
		})}).
		Build()
	require.NoError(t, bag.Register(d))

	inst := workflow.NewInstance("inst-5", d, "user-1", nil)
	require.NoError(t, exec.Submit(inst))
	waitForStatus(t, exec, "inst-5", workflow.StatusPaused)

	exec.Cancel("inst-5")
	done := waitForStatus(t, exec, "inst-5", workflow.StatusCancelled)
	assert.Equal(t, workflow.TaskCancelled, done.TaskStates["wait"].Status)
}

func TestExecutor_CancelDuringFanOutStaysCancelled(t *testing.T) {
	exec, bag, _ := newHarness(t)

	started := make(chan struct{})
	d := workflow.NewBuilder("cancel-fanout", workflow.WorkflowTypeProcess).
		AddTask(workflow.TaskConfig{TaskID: "a", Operator: workflow.OperatorFunc(func(ctx context.Context, tc *workflow.TaskContext) workflow.TaskResult {
			return workflow.Continue(nil)
		})}).
		AddTask(workflow.TaskConfig{TaskID: "b", Operator: workflow.OperatorFunc(func(ctx context.Context, tc *workflow.TaskContext) workflow.TaskResult {
			close(started)
			time.Sleep(100 * time.Millisecond)
			return workflow.Continue(nil)
		})}).
		AddTask(workflow.TaskConfig{TaskID: "c", Operator: workflow.OperatorFunc(func(ctx context.Context, tc *workflow.TaskContext) workflow.TaskResult {
			return workflow.Continue(nil)
		})}).
		AddTask(workflow.TaskConfig{TaskID: "d", Operator: workflow.OperatorFunc(func(ctx context.Context, tc *workflow.TaskContext) workflow.TaskResult {
			return workflow.Continue(nil)
		})}).
		FanOut("a", "b", "c", "d").
		Build()
	require.NoError(t, bag.Register(d))

	inst := workflow.NewInstance("inst-cancel-fanout", d, "user-1", nil)
	require.NoError(t, exec.Submit(inst))

	<-started
	exec.Cancel("inst-cancel-fanout")

	done := waitForStatus(t, exec, "inst-cancel-fanout", workflow.StatusCancelled)
	assert.Equal(t, workflow.TaskCancelled, done.TaskStates["c"].Status)
	assert.Equal(t, workflow.TaskCancelled, done.TaskStates["d"].Status)

	// A stuck/resurrected instance would flip back to pending on the next
	// sweep because DeriveStatus has no StatusCancelled case; confirm it
	// stays cancelled and is never re-enqueued.
	time.Sleep(150 * time.Millisecond)
	still, ok := exec.Get("inst-cancel-fanout")
	require.True(t, ok)
	assert.Equal(t, workflow.StatusCancelled, still.Status)
}

func TestExecutor_PanicRecoversToFailed(t *testing.T) {
	exec, bag, _ := newHarness(t)

	d := workflow.NewBuilder("panics", workflow.WorkflowTypeProcess).
		AddTask(workflow.TaskConfig{TaskID: "boom", Operator: workflow.OperatorFunc(func(ctx context.Context, tc *workflow.TaskContext) workflow.TaskResult {
			panic("unexpected")
		})}).
		Build()
	require.NoError(t, bag.Register(d))

	inst := workflow.NewInstance("inst-6", d, "user-1", nil)
	require.NoError(t, exec.Submit(inst))

	done := waitForStatus(t, exec, "inst-6", workflow.StatusFailed)
	assert.Contains(t, done.TaskStates["boom"].ErrorMessage, "panic")
}

func seconds(n int) *int { return &n }
