package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-dev/stepflow/backend"
	"github.com/stepflow-dev/stepflow/core"
)

const address = "localhost:6379"

// Requires a running redis instance; skipped in short mode.
func getBackend(t *testing.T) *redisBackend {
	t.Helper()

	if testing.Short() {
		t.Skip()
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{address},
	})

	prefix := "stepflow-test-" + t.Name() + ":"
	b, err := NewRedisBackend(client, WithKeyPrefix(prefix))
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		client.Close()
	})

	return b
}

func testWorkflow(name, createdBy string, status core.WorkflowStatus) *core.Workflow {
	w := core.NewWorkflow(name, "", createdBy)
	w.Status = status

	return w
}

func TestRedisBackend_SaveGetRoundTrip(t *testing.T) {
	b := getBackend(t)
	ctx := context.Background()

	w := testWorkflow("report", "me", core.WorkflowStatusPending)
	require.NoError(t, b.SaveWorkflow(ctx, w))

	got, err := b.GetWorkflow(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, w, got)

	_, err = b.GetWorkflow(ctx, "missing")
	require.ErrorIs(t, err, backend.ErrWorkflowNotFound)
}

func TestRedisBackend_StatusIndexFollowsUpdates(t *testing.T) {
	b := getBackend(t)
	ctx := context.Background()

	w := testWorkflow("a", "", core.WorkflowStatusRunning)
	require.NoError(t, b.SaveWorkflow(ctx, w))

	active, err := b.ActiveWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	w.Status = core.WorkflowStatusCompleted
	require.NoError(t, b.SaveWorkflow(ctx, w))

	active, err = b.ActiveWorkflows(ctx)
	require.NoError(t, err)
	require.Empty(t, active)

	completed, err := b.ListWorkflows(ctx, backend.ListOptions{Status: core.WorkflowStatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
}

func TestRedisBackend_ListAndDelete(t *testing.T) {
	b := getBackend(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, name := range []string{"a", "b", "c"} {
		w := testWorkflow(name, "alice", core.WorkflowStatusPending)
		w.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, b.SaveWorkflow(ctx, w))
	}

	all, err := b.ListWorkflows(ctx, backend.ListOptions{CreatedBy: "alice"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "c", all[0].Name)

	deleted, err := b.DeleteWorkflow(ctx, all[0].ID)
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = b.DeleteWorkflow(ctx, all[0].ID)
	require.NoError(t, err)
	require.False(t, deleted)

	all, err = b.ListWorkflows(ctx, backend.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestRedisBackend_Stats(t *testing.T) {
	b := getBackend(t)
	ctx := context.Background()

	c := testWorkflow("a", "", core.WorkflowStatusCompleted)
	c.ExecutionTime = 2 * time.Second
	require.NoError(t, b.SaveWorkflow(ctx, c))
	require.NoError(t, b.SaveWorkflow(ctx, testWorkflow("b", "", core.WorkflowStatusFailed)))

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.TotalWorkflows)
	require.Equal(t, int64(1), stats.ByStatus["completed"])
	require.Equal(t, 2*time.Second, stats.AvgExecutionTime)
}
