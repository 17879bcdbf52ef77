package client

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/stepflow-dev/stepflow/backend"
	"github.com/stepflow-dev/stepflow/backend/memory"
	"github.com/stepflow-dev/stepflow/core"
	"github.com/stepflow-dev/stepflow/engine"
	"github.com/stepflow-dev/stepflow/events"
	"github.com/stepflow-dev/stepflow/executor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type execFunc func(ctx context.Context, workflow *core.Workflow, step *core.Step) (map[string]any, error)

type funcExecutor struct {
	fn execFunc
}

func (e *funcExecutor) Type() core.StepType {
	return core.StepTypeTask
}

func (e *funcExecutor) Execute(ctx context.Context, workflow *core.Workflow, step *core.Step) (map[string]any, error) {
	return e.fn(ctx, workflow, step)
}

type harness struct {
	backend backend.Backend
	engine  *engine.Engine
	client  *Client
	events  *events.ChannelPublisher
}

func newHarness(t *testing.T, fn execFunc) *harness {
	t.Helper()

	if fn == nil {
		fn = func(context.Context, *core.Workflow, *core.Step) (map[string]any, error) {
			return nil, nil
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	b := memory.NewMemoryBackend()

	registry := executor.NewRegistry(executor.Services{}, nil, nil)
	registry.Register(&funcExecutor{fn: fn})

	e := engine.New(b, registry, &engine.Options{
		PollingInterval:   time.Millisecond,
		PausePollInterval: time.Millisecond,
		Logger:            logger,
	})
	require.NoError(t, e.Start(context.Background()))

	publisher := events.NewChannelPublisher(64)
	c := New(b, e, &Options{Logger: logger, Publisher: publisher})

	t.Cleanup(func() {
		require.NoError(t, c.Close())
		require.NoError(t, e.Stop(context.Background()))
	})

	return &harness{backend: b, engine: e, client: c, events: publisher}
}

func taskStep(id string, deps ...string) *core.Step {
	return &core.Step{
		ID:         id,
		Name:       id,
		Type:       core.StepTypeTask,
		Status:     core.StepStatusPending,
		DependsOn:  deps,
		MaxRetries: 3,
	}
}

func TestCreateWorkflow(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	workflow, err := h.client.CreateWorkflow(ctx, "deploy", CreateWorkflowOptions{
		Description:      "rolling deploy",
		CreatedBy:        "alice",
		Timeout:          time.Hour,
		MaxParallelSteps: 3,
		Metadata:         map[string]any{"env": "staging"},
	})
	require.NoError(t, err)

	got, err := h.client.GetWorkflow(ctx, workflow.ID)
	require.NoError(t, err)
	require.Equal(t, "deploy", got.Name)
	require.Equal(t, "alice", got.CreatedBy)
	require.Equal(t, time.Hour, got.Timeout)
	require.Equal(t, 3, got.MaxParallelSteps)
	require.Equal(t, core.WorkflowStatusPending, got.Status)

	event := <-h.events.Events()
	require.Equal(t, events.WorkflowCreated, event.Type)
	require.Equal(t, workflow.ID, event.WorkflowID)

	status, err := h.client.GetWorkflowStatus(ctx, workflow.ID)
	require.NoError(t, err)
	require.Equal(t, core.WorkflowStatusPending, status.Status)
	require.Zero(t, status.TotalSteps)
}

func TestAddAndRemoveStep(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	workflow, err := h.client.CreateWorkflow(ctx, "w", CreateWorkflowOptions{})
	require.NoError(t, err)

	require.NoError(t, h.client.AddStep(ctx, workflow.ID, taskStep("a")))
	require.NoError(t, h.client.AddStep(ctx, workflow.ID, taskStep("b", "a")))

	// invalid changes are rejected and not persisted
	err = h.client.AddStep(ctx, workflow.ID, taskStep("c", "missing"))
	require.ErrorContains(t, err, "invalid workflow")

	steps, err := h.client.GetWorkflowSteps(ctx, workflow.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Equal(t, "a", steps[0].ID)
	require.Equal(t, "b", steps[1].ID)

	require.NoError(t, h.client.RemoveStep(ctx, workflow.ID, "a"))

	steps, err = h.client.GetWorkflowSteps(ctx, workflow.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	require.Equal(t, "b", steps[0].ID)
	require.Empty(t, steps[0].DependsOn)

	require.ErrorContains(t, h.client.RemoveStep(ctx, workflow.ID, "a"), "not found")
}

func TestAddStepLockedWhileExecuting(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	h := newHarness(t, func(ctx context.Context, _ *core.Workflow, _ *core.Step) (map[string]any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})
	ctx := context.Background()

	workflow, err := h.client.CreateWorkflow(ctx, "w", CreateWorkflowOptions{})
	require.NoError(t, err)
	require.NoError(t, h.client.AddStep(ctx, workflow.ID, taskStep("a")))
	require.NoError(t, h.client.ExecuteWorkflow(ctx, workflow.ID))

	require.Eventually(t, func() bool {
		_, active := h.engine.WorkflowStatus(workflow.ID)
		return active
	}, 2*time.Second, 2*time.Millisecond)

	require.ErrorIs(t, h.client.AddStep(ctx, workflow.ID, taskStep("b")), ErrWorkflowLocked)
	require.ErrorIs(t, h.client.RemoveStep(ctx, workflow.ID, "a"), ErrWorkflowLocked)
}

func TestExecuteAndWait(t *testing.T) {
	h := newHarness(t, func(_ context.Context, _ *core.Workflow, step *core.Step) (map[string]any, error) {
		return map[string]any{"step": step.ID}, nil
	})
	ctx := context.Background()

	workflow, err := h.client.CreateSequentialWorkflow(ctx, "pipeline", CreateWorkflowOptions{CreatedBy: "alice"},
		[]*core.Step{taskStep("fetch"), taskStep("build"), taskStep("publish")})
	require.NoError(t, err)

	require.Equal(t, []string{"fetch"}, workflow.Steps["build"].DependsOn)
	require.Equal(t, []string{"build"}, workflow.Steps["publish"].DependsOn)

	require.NoError(t, h.client.ExecuteWorkflow(ctx, workflow.ID))

	status, err := h.client.WaitForWorkflow(ctx, workflow.ID, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, core.WorkflowStatusCompleted, status.Status)
	require.Equal(t, 3, status.TotalSteps)
	require.Equal(t, 3, status.CompletedSteps)

	// a finished workflow is answered from the status cache
	cached, err := h.client.GetWorkflowStatus(ctx, workflow.ID)
	require.NoError(t, err)
	require.Equal(t, status.Status, cached.Status)
	require.Equal(t, 1, h.client.statusCache.Len())
}

func TestCancelPendingWorkflow(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	workflow, err := h.client.CreateWorkflow(ctx, "w", CreateWorkflowOptions{})
	require.NoError(t, err)
	require.NoError(t, h.client.AddStep(ctx, workflow.ID, taskStep("a")))

	require.True(t, h.client.CancelWorkflow(ctx, workflow.ID))

	got, err := h.client.GetWorkflow(ctx, workflow.ID)
	require.NoError(t, err)
	require.Equal(t, core.WorkflowStatusCancelled, got.Status)

	require.False(t, h.client.CancelWorkflow(ctx, workflow.ID))
	require.ErrorIs(t, h.client.ExecuteWorkflow(ctx, workflow.ID), engine.ErrWorkflowNotActive)
}

func TestDeleteWorkflow(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	h := newHarness(t, func(ctx context.Context, _ *core.Workflow, _ *core.Step) (map[string]any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})
	ctx := context.Background()

	workflow, err := h.client.CreateWorkflow(ctx, "w", CreateWorkflowOptions{})
	require.NoError(t, err)
	require.NoError(t, h.client.AddStep(ctx, workflow.ID, taskStep("a")))
	require.NoError(t, h.client.ExecuteWorkflow(ctx, workflow.ID))

	deleted, err := h.client.DeleteWorkflow(ctx, workflow.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = h.client.GetWorkflow(ctx, workflow.ID)
	require.ErrorIs(t, err, backend.ErrWorkflowNotFound)

	deleted, err = h.client.DeleteWorkflow(ctx, workflow.ID)
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestStatistics(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.client.CreateWorkflow(ctx, "idle", CreateWorkflowOptions{})
	require.NoError(t, err)

	workflow, err := h.client.CreateWorkflow(ctx, "busy", CreateWorkflowOptions{})
	require.NoError(t, err)
	require.NoError(t, h.client.AddStep(ctx, workflow.ID, taskStep("a")))
	require.NoError(t, h.client.ExecuteWorkflow(ctx, workflow.ID))

	_, err = h.client.WaitForWorkflow(ctx, workflow.ID, 5*time.Second)
	require.NoError(t, err)

	stats, err := h.client.Statistics(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.TotalWorkflows)
	require.Equal(t, int64(1), stats.ByStatus[string(core.WorkflowStatusCompleted)])
	require.Equal(t, int64(1), stats.ByStatus[string(core.WorkflowStatusPending)])
	require.Zero(t, stats.ActiveWorkflows)
}

func TestWaitForWorkflowTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	h := newHarness(t, func(ctx context.Context, _ *core.Workflow, _ *core.Step) (map[string]any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})
	ctx := context.Background()

	workflow, err := h.client.CreateWorkflow(ctx, "w", CreateWorkflowOptions{})
	require.NoError(t, err)
	require.NoError(t, h.client.AddStep(ctx, workflow.ID, taskStep("a")))
	require.NoError(t, h.client.ExecuteWorkflow(ctx, workflow.ID))

	_, err = h.client.WaitForWorkflow(ctx, workflow.ID, 50*time.Millisecond)
	require.Error(t, err)
}
