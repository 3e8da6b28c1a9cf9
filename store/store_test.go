package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/munistream/engine/store"
	"github.com/munistream/engine/workflow"
)

func sampleInstance() *workflow.Instance {
	d := workflow.NewBuilder("sample", workflow.WorkflowTypeProcess).
		AddTask(workflow.TaskConfig{TaskID: "a"}).
		Build()
	return workflow.NewInstance("inst-1", d, "user-1", map[string]any{"seed": true})
}

func TestMemoryStore_SaveLoadRoundTrip(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	inst := sampleInstance()
	require.NoError(t, s.SaveInstance(ctx, inst))

	loaded, err := s.LoadInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, inst.DAGID, loaded.DAGID)
	v, ok := loaded.Context.Get("seed")
	assert.True(t, ok)
	assert.Equal(t, true, v)
}

func TestMemoryStore_LoadMissingReturnsErrInstanceNotFound(t *testing.T) {
	s := store.NewMemoryStore()
	_, err := s.LoadInstance(context.Background(), "missing")
	assert.ErrorIs(t, err, workflow.ErrInstanceNotFound)
}

func TestMemoryStore_ListByStatus(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	running := sampleInstance()
	running.InstanceID = "running-1"
	running.Status = workflow.StatusRunning
	require.NoError(t, s.SaveInstance(ctx, running))

	paused := sampleInstance()
	paused.InstanceID = "paused-1"
	paused.Status = workflow.StatusPaused
	require.NoError(t, s.SaveInstance(ctx, paused))

	out, page, err := s.ListByStatus(ctx, workflow.StatusRunning, store.Page{})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, "running-1", out[0].InstanceID)
	assert.Equal(t, 1, page.Total)
}

func TestSQLiteStore_SaveLoadRoundTrip(t *testing.T) {
	s, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	inst := sampleInstance()
	inst.TaskStates["a"].Status = workflow.TaskWaiting
	inst.TaskStates["a"].WaitingFor = "user_input"
	require.NoError(t, s.SaveInstance(ctx, inst))

	loaded, err := s.LoadInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.TaskWaiting, loaded.TaskStates["a"].Status)
	assert.Equal(t, "user_input", loaded.TaskStates["a"].WaitingFor)

	v, ok := loaded.Context.Get("seed")
	assert.True(t, ok)
	assert.Equal(t, true, v)
}

func TestSQLiteStore_SaveIsUpsert(t *testing.T) {
	s, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	inst := sampleInstance()
	require.NoError(t, s.SaveInstance(ctx, inst))

	inst.Status = workflow.StatusCompleted
	require.NoError(t, s.SaveInstance(ctx, inst))

	loaded, err := s.LoadInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, loaded.Status)
}
