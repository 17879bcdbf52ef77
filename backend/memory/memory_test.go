package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stepflow-dev/stepflow/backend"
	"github.com/stepflow-dev/stepflow/core"
)

func TestMemoryBackendRoundTrip(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	workflow := core.NewWorkflow("deploy", "rolling deploy", "alice")
	workflow.AddStep(&core.Step{
		ID:     "build",
		Name:   "build",
		Type:   core.StepTypeTask,
		Status: core.StepStatusPending,
	})

	require.NoError(t, b.SaveWorkflow(ctx, workflow))

	got, err := b.GetWorkflow(ctx, workflow.ID)
	require.NoError(t, err)
	require.Equal(t, workflow, got)

	// the stored copy is isolated from later mutations
	workflow.Name = "changed"
	got, err = b.GetWorkflow(ctx, workflow.ID)
	require.NoError(t, err)
	require.Equal(t, "deploy", got.Name)

	_, err = b.GetWorkflow(ctx, "missing")
	require.ErrorIs(t, err, backend.ErrWorkflowNotFound)
}

func TestMemoryBackendListAndDelete(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	older := core.NewWorkflow("older", "", "alice")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := core.NewWorkflow("newer", "", "bob")
	newer.Status = core.WorkflowStatusRunning

	require.NoError(t, b.SaveWorkflow(ctx, older))
	require.NoError(t, b.SaveWorkflow(ctx, newer))

	all, err := b.ListWorkflows(ctx, backend.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "newer", all[0].Name)

	byCreator, err := b.ListWorkflows(ctx, backend.ListOptions{CreatedBy: "alice"})
	require.NoError(t, err)
	require.Len(t, byCreator, 1)
	require.Equal(t, "older", byCreator[0].Name)

	active, err := b.ActiveWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "newer", active[0].Name)

	deleted, err := b.DeleteWorkflow(ctx, older.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = b.DeleteWorkflow(ctx, older.ID)
	require.NoError(t, err)
	require.False(t, deleted)
}
