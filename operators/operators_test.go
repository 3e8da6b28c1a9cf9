package operators_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/munistream/engine/operators"
	"github.com/munistream/engine/workflow"
)

type noopLog struct{}

func (noopLog) LogInfo(string, map[string]any)    {}
func (noopLog) LogWarning(string, map[string]any) {}
func (noopLog) LogError(string, map[string]any)   {}

func newTC(taskID string, ctxData map[string]any) *workflow.TaskContext {
	tc := workflow.NewTaskContext(taskID, workflow.NewContext(ctxData), 1, map[string]any{}, noopLog{}, nil)
	return tc
}

func TestFuncOperator_RetriesOnError(t *testing.T) {
	op := operators.NewFuncOperator(func(ctx context.Context, tc *workflow.TaskContext) (map[string]any, error) {
		return nil, errors.New("boom")
	})
	result := op.Execute(context.Background(), newTC("t1", nil))
	assert.Equal(t, workflow.ResultRetry, result.Kind)
}

func TestFuncOperator_FailingVariantFails(t *testing.T) {
	op := operators.NewFailingFuncOperator(func(ctx context.Context, tc *workflow.TaskContext) (map[string]any, error) {
		return nil, errors.New("fatal")
	})
	result := op.Execute(context.Background(), newTC("t1", nil))
	assert.Equal(t, workflow.ResultFailed, result.Kind)
}

func TestForm_WaitsThenValidatesThenContinues(t *testing.T) {
	form := &operators.Form{RequiredFields: []string{"name"}}

	tc := newTC("collect", nil)
	result := form.Execute(context.Background(), tc)
	require.Equal(t, workflow.ResultWaiting, result.Kind)
	assert.Equal(t, "user_input", result.WaitingFor)

	tc = newTC("collect", map[string]any{workflow.InputKey("collect"): map[string]any{}})
	result = form.Execute(context.Background(), tc)
	require.Equal(t, workflow.ResultWaiting, result.Kind)
	assert.Contains(t, result.Data["validation_errors"], "name is required")

	tc = newTC("collect", map[string]any{workflow.InputKey("collect"): map[string]any{"name": "Ada"}})
	result = form.Execute(context.Background(), tc)
	require.Equal(t, workflow.ResultContinue, result.Kind)
	assert.Equal(t, "Ada", result.Data["name"])
}

func TestApproval_RequestThenApprove(t *testing.T) {
	appr := &operators.Approval{ApproverRole: "manager"}

	tc := newTC("approve", nil)
	result := appr.Execute(context.Background(), tc)
	require.Equal(t, workflow.ResultWaiting, result.Kind)
	assert.Equal(t, "approval", result.WaitingFor)
	assert.Len(t, tc.DrainEvents(), 1)

	tc = newTC("approve", map[string]any{
		workflow.InputKey("approve"): map[string]any{"decision": "approved", "decided_by": "u1"},
	})
	result = appr.Execute(context.Background(), tc)
	require.Equal(t, workflow.ResultContinue, result.Kind)
	assert.Equal(t, "approved", result.Data["approval_status"])
}

func TestApproval_Rejection(t *testing.T) {
	appr := &operators.Approval{}
	tc := newTC("approve", map[string]any{
		workflow.InputKey("approve"): map[string]any{"decision": "rejected", "decided_by": "u1", "rejection_reason": "bad data"},
	})
	result := appr.Execute(context.Background(), tc)
	assert.Equal(t, workflow.ResultFailed, result.Kind)
	assert.Contains(t, result.Error, "bad data")
}

func TestApproval_RequiresNApprovers(t *testing.T) {
	appr := &operators.Approval{RequiredApprovers: 2}
	metadata := map[string]any{}

	tc := workflow.NewTaskContext("approve", workflow.NewContext(map[string]any{
		workflow.InputKey("approve"): map[string]any{"decision": "approved", "decided_by": "u1"},
	}), 1, metadata, noopLog{}, nil)
	result := appr.Execute(context.Background(), tc)
	require.Equal(t, workflow.ResultWaiting, result.Kind)
	assert.Equal(t, 1, result.Data["approvals_received"])

	tc = workflow.NewTaskContext("approve", workflow.NewContext(map[string]any{
		workflow.InputKey("approve"): map[string]any{"decision": "approved", "decided_by": "u2"},
	}), 1, metadata, noopLog{}, nil)
	result = appr.Execute(context.Background(), tc)
	require.Equal(t, workflow.ResultContinue, result.Kind)
	assert.ElementsMatch(t, []string{"u1", "u2"}, result.Data["approved_by"])
}

type fakePoller struct {
	startCalls int
	checkCalls int
	done       bool
}

func (f *fakePoller) Start(ctx context.Context, tc *workflow.TaskContext) (string, error) {
	f.startCalls++
	return "run-1", nil
}

func (f *fakePoller) Check(ctx context.Context, tc *workflow.TaskContext, runID string) (bool, map[string]any, error) {
	f.checkCalls++
	if !f.done {
		return false, nil, nil
	}
	return true, map[string]any{"result": "ok"}, nil
}

func TestPoll_StartsThenWaitsThenCompletes(t *testing.T) {
	poller := &fakePoller{}
	op := &operators.Poll{Poller: poller, PollIntervalSec: 5}
	metadata := map[string]any{}

	tc := workflow.NewTaskContext("poll", workflow.NewContext(nil), 1, metadata, noopLog{}, nil)
	result := op.Execute(context.Background(), tc)
	require.Equal(t, workflow.ResultWaiting, result.Kind)
	assert.Equal(t, 1, poller.startCalls)
	assert.Equal(t, "run-1", metadata["remote_run_id"])

	tc = workflow.NewTaskContext("poll", workflow.NewContext(nil), 2, metadata, noopLog{}, nil)
	result = op.Execute(context.Background(), tc)
	require.Equal(t, workflow.ResultWaiting, result.Kind)
	assert.Equal(t, 1, poller.checkCalls)

	poller.done = true
	tc = workflow.NewTaskContext("poll", workflow.NewContext(nil), 3, metadata, noopLog{}, nil)
	result = op.Execute(context.Background(), tc)
	require.Equal(t, workflow.ResultContinue, result.Kind)
	assert.Equal(t, "ok", result.Data["result"])
}

type fakeEntityStore struct {
	created map[string]map[string]any
	updated map[string]map[string]any
	nextID  int
}

func newFakeEntityStore() *fakeEntityStore {
	return &fakeEntityStore{created: map[string]map[string]any{}, updated: map[string]map[string]any{}}
}

func (f *fakeEntityStore) CreateEntity(ctx context.Context, entityType string, data map[string]any) (string, error) {
	f.nextID++
	id := "ent-1"
	f.created[id] = data
	return id, nil
}

func (f *fakeEntityStore) UpdateEntity(ctx context.Context, entityType, entityID string, data map[string]any) error {
	f.updated[entityID] = data
	return nil
}

func TestEntity_CreateEmitsEvent(t *testing.T) {
	store := newFakeEntityStore()
	op := &operators.Entity{EntityType: "property", Store: store}

	tc := newTC("create_property", map[string]any{"address": "123 Main St", "_internal": "skip"})
	result := op.Execute(context.Background(), tc)
	require.Equal(t, workflow.ResultContinue, result.Kind)
	assert.Equal(t, "ent-1", result.Data["property_id"])
	assert.Equal(t, "123 Main St", store.created["ent-1"]["address"])
	_, leaked := store.created["ent-1"]["_internal"]
	assert.False(t, leaked)

	events := tc.DrainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, workflow.EntityCreatedEvent("property"), events[0].EventType)
}

func TestEntity_UpdateRequiresEntityIDSource(t *testing.T) {
	store := newFakeEntityStore()
	op := &operators.Entity{EntityType: "property", Store: store, Update: true, EntityIDSource: "property_id"}

	tc := newTC("update_property", map[string]any{"property_id": "ent-1", "address": "456 Oak Ave"})
	result := op.Execute(context.Background(), tc)
	require.Equal(t, workflow.ResultContinue, result.Kind)
	assert.Equal(t, "456 Oak Ave", store.updated["ent-1"]["address"])
}
