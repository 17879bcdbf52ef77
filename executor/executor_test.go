package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-dev/stepflow/core"
	"github.com/stepflow-dev/stepflow/events"
)

type fakeTaskService struct {
	executed TaskRequest
	created  TaskRequest

	createID   string
	results    map[string]any
	executeErr error
}

func (f *fakeTaskService) ExecuteTask(_ context.Context, req TaskRequest) (map[string]any, error) {
	f.executed = req
	return f.results, f.executeErr
}

func (f *fakeTaskService) CreateTask(_ context.Context, req TaskRequest) (string, error) {
	f.created = req
	return f.createID, nil
}

type fakeIntegrationService struct {
	req    IntegrationRequest
	result *IntegrationResult
	err    error
}

func (f *fakeIntegrationService) ExecuteRequest(_ context.Context, req IntegrationRequest) (*IntegrationResult, error) {
	f.req = req
	return f.result, f.err
}

type fakeNotificationService struct {
	sent []Notification
	err  error
}

func (f *fakeNotificationService) Send(_ context.Context, n Notification) error {
	f.sent = append(f.sent, n)
	return f.err
}

func testWorkflow() *core.Workflow {
	return core.NewWorkflow("test", "", "")
}

func TestTaskExecutor_ExistingTask(t *testing.T) {
	tasks := &fakeTaskService{results: map[string]any{"out": "done"}}
	e := &taskExecutor{tasks: tasks}

	w := testWorkflow()
	step := &core.Step{ID: "s", Name: "run", Type: core.StepTypeTask, TaskID: "t-1"}

	results, err := e.Execute(context.Background(), w, step)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"out": "done"}, results)
	require.Equal(t, "t-1", tasks.executed.TaskID)
	require.Empty(t, tasks.created.Title, "no task should be created")
}

func TestTaskExecutor_CreatesTaskWhenOnlyAgentGiven(t *testing.T) {
	tasks := &fakeTaskService{createID: "t-new", results: map[string]any{}}
	e := &taskExecutor{tasks: tasks}

	w := testWorkflow()
	step := &core.Step{ID: "s", Name: "run", Type: core.StepTypeTask, AgentID: "agent-1"}

	_, err := e.Execute(context.Background(), w, step)
	require.NoError(t, err)
	require.Equal(t, "run", tasks.created.Title)
	require.Equal(t, "t-new", tasks.executed.TaskID)
	require.Equal(t, "workflow_"+w.ID, tasks.created.AssignedBy)
}

func TestTaskExecutor_RequiresTaskOrAgent(t *testing.T) {
	e := &taskExecutor{tasks: &fakeTaskService{}}

	_, err := e.Execute(context.Background(), testWorkflow(), &core.Step{ID: "s", Type: core.StepTypeTask})
	require.Error(t, err)
}

func TestTaskExecutor_PropagatesFailure(t *testing.T) {
	tasks := &fakeTaskService{executeErr: errors.New("agent crashed")}
	e := &taskExecutor{tasks: tasks}

	_, err := e.Execute(context.Background(), testWorkflow(), &core.Step{ID: "s", Type: core.StepTypeTask, TaskID: "t-1"})
	require.ErrorContains(t, err, "agent crashed")
}

func TestIntegrationExecutor(t *testing.T) {
	integrations := &fakeIntegrationService{
		result: &IntegrationResult{StatusCode: 200, Data: map[string]any{"ok": true}, Duration: time.Second},
	}
	e := &integrationExecutor{integrations: integrations}

	step := &core.Step{
		ID:                  "s",
		Type:                core.StepTypeIntegration,
		IntegrationID:       "slack",
		IntegrationMethod:   "POST",
		IntegrationEndpoint: "/api/send",
		Parameters: map[string]any{
			"data":    map[string]any{"text": "hi"},
			"headers": map[string]any{"X-Token": "abc"},
		},
	}

	results, err := e.Execute(context.Background(), testWorkflow(), step)
	require.NoError(t, err)
	require.Equal(t, 200, results["status_code"])
	require.Equal(t, "POST", integrations.req.Method)
	require.Equal(t, map[string]string{"X-Token": "abc"}, integrations.req.Headers)
}

func TestIntegrationExecutor_NonSuccessStatusFails(t *testing.T) {
	e := &integrationExecutor{integrations: &fakeIntegrationService{
		result: &IntegrationResult{StatusCode: 503},
	}}

	step := &core.Step{
		ID: "s", Type: core.StepTypeIntegration,
		IntegrationID: "x", IntegrationMethod: "GET", IntegrationEndpoint: "/",
	}

	_, err := e.Execute(context.Background(), testWorkflow(), step)
	require.ErrorContains(t, err, "status 503")
}

func TestIntegrationExecutor_RequiresParameters(t *testing.T) {
	e := &integrationExecutor{integrations: &fakeIntegrationService{}}

	_, err := e.Execute(context.Background(), testWorkflow(), &core.Step{ID: "s", Type: core.StepTypeIntegration})
	require.Error(t, err)
}

func TestNotificationExecutor(t *testing.T) {
	notifications := &fakeNotificationService{}
	publisher := events.NewChannelPublisher(4)
	e := &notificationExecutor{notifications: notifications, publisher: publisher}

	w := testWorkflow()
	step := &core.Step{
		ID:   "s",
		Type: core.StepTypeNotification,
		Parameters: map[string]any{
			"message":   "done",
			"recipient": "ops",
		},
	}

	results, err := e.Execute(context.Background(), w, step)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"notification_sent": true}, results)

	require.Len(t, notifications.sent, 1)
	require.Equal(t, "done", notifications.sent[0].Message)
	require.Equal(t, "system", notifications.sent[0].Channel)

	event := <-publisher.Events()
	require.Equal(t, events.NotificationSent, event.Type)
	require.Equal(t, w.ID, event.WorkflowID)
}

func TestWaitExecutor(t *testing.T) {
	mock := clock.NewMock()
	e := &waitExecutor{clock: mock}

	step := &core.Step{ID: "s", Type: core.StepTypeWait, Parameters: map[string]any{"seconds": float64(5)}}

	done := make(chan struct{})
	var results map[string]any
	var err error
	go func() {
		results, err = e.Execute(context.Background(), testWorkflow(), step)
		close(done)
	}()

	// give the goroutine a chance to arm the timer
	for mock.Add(time.Second); ; mock.Add(time.Second) {
		select {
		case <-done:
			require.NoError(t, err)
			require.Equal(t, float64(5), results["waited_seconds"])
			return
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestWaitExecutor_CancelledContext(t *testing.T) {
	e := &waitExecutor{clock: clock.NewMock()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Execute(ctx, testWorkflow(), &core.Step{ID: "s", Type: core.StepTypeWait})
	require.ErrorIs(t, err, context.Canceled)
}

func TestConditionExecutor(t *testing.T) {
	w := testWorkflow()
	fetch := &core.Step{ID: "fetch", Type: core.StepTypeTask, Status: core.StepStatusCompleted}
	fetch.Results = map[string]any{"rows": float64(42)}
	w.AddStep(fetch)

	e := &conditionExecutor{}

	t.Run("true condition", func(t *testing.T) {
		step := &core.Step{ID: "s", Type: core.StepTypeCondition, Condition: `steps.fetch.results.rows > 10`}
		results, err := e.Execute(context.Background(), w, step)
		require.NoError(t, err)
		require.Equal(t, true, results["condition_result"])
	})

	t.Run("false condition is a successful step", func(t *testing.T) {
		step := &core.Step{ID: "s", Type: core.StepTypeCondition, Condition: `steps.fetch.results.rows > 100`}
		results, err := e.Execute(context.Background(), w, step)
		require.NoError(t, err)
		require.Equal(t, false, results["condition_result"])
	})

	t.Run("evaluation error fails the step", func(t *testing.T) {
		step := &core.Step{ID: "s", Type: core.StepTypeCondition, Condition: `steps.missing.results.x > 1`}
		_, err := e.Execute(context.Background(), w, step)
		require.Error(t, err)
	})

	t.Run("empty condition fails", func(t *testing.T) {
		_, err := e.Execute(context.Background(), w, &core.Step{ID: "s", Type: core.StepTypeCondition})
		require.Error(t, err)
	})
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry(Services{}, events.NewNoopPublisher(), clock.NewMock())

	for _, st := range []core.StepType{
		core.StepTypeTask, core.StepTypeIntegration, core.StepTypeNotification,
		core.StepTypeWait, core.StepTypeCondition, core.StepTypeParallel,
	} {
		e, err := r.Resolve(st)
		require.NoError(t, err)
		require.Equal(t, st, e.Type())
	}

	_, err := r.Resolve(core.StepType("bogus"))
	require.Error(t, err)
}
