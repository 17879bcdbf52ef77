// Sample that runs a small build pipeline end to end: an in-memory sqlite
// backend, the default executors with a toy task service, the engine and
// the client façade.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/stepflow-dev/stepflow/backend/sqlite"
	"github.com/stepflow-dev/stepflow/client"
	"github.com/stepflow-dev/stepflow/core"
	"github.com/stepflow-dev/stepflow/engine"
	"github.com/stepflow-dev/stepflow/events"
	"github.com/stepflow-dev/stepflow/executor"
)

type echoTasks struct{}

func (echoTasks) ExecuteTask(_ context.Context, req executor.TaskRequest) (map[string]any, error) {
	fmt.Printf("executing task %s\n", req.TaskID)
	return map[string]any{"echo": req.TaskID}, nil
}

func (echoTasks) CreateTask(_ context.Context, req executor.TaskRequest) (string, error) {
	return "task-for-" + req.AgentID, nil
}

type logNotifications struct{}

func (logNotifications) Send(_ context.Context, n executor.Notification) error {
	fmt.Printf("notification to %s: %s\n", n.Recipient, n.Message)
	return nil
}

func main() {
	ctx := context.Background()

	b := sqlite.NewInMemoryBackend()
	defer b.Close()

	publisher := events.NewChannelPublisher(64)
	go func() {
		for event := range publisher.Events() {
			slog.Info("event", "type", event.Type, "workflow", event.WorkflowID)
		}
	}()

	registry := executor.NewRegistry(executor.Services{
		Tasks:         echoTasks{},
		Notifications: logNotifications{},
	}, publisher, nil)

	e := engine.New(b, registry, &engine.Options{Publisher: publisher})
	if err := e.Start(ctx); err != nil {
		slog.Error("starting engine", "error", err)
		os.Exit(1)
	}
	defer e.Stop(ctx)

	c := client.New(b, e, &client.Options{Publisher: publisher})
	defer c.Close()

	workflow, err := c.CreateSequentialWorkflow(ctx, "build-pipeline",
		client.CreateWorkflowOptions{CreatedBy: "sample"},
		[]*core.Step{
			{ID: "fetch", Name: "fetch sources", Type: core.StepTypeTask, Status: core.StepStatusPending, TaskID: "fetch", MaxRetries: 2},
			{ID: "build", Name: "build", Type: core.StepTypeTask, Status: core.StepStatusPending, TaskID: "build", MaxRetries: 2},
			{ID: "notify", Name: "notify team", Type: core.StepTypeNotification, Status: core.StepStatusPending,
				Parameters: map[string]any{"message": "pipeline finished", "recipient": "team"}},
		})
	if err != nil {
		slog.Error("creating workflow", "error", err)
		os.Exit(1)
	}

	if err := c.ExecuteWorkflow(ctx, workflow.ID); err != nil {
		slog.Error("executing workflow", "error", err)
		os.Exit(1)
	}

	status, err := c.WaitForWorkflow(ctx, workflow.ID, 30*time.Second)
	if err != nil {
		slog.Error("waiting for workflow", "error", err)
		os.Exit(1)
	}

	fmt.Printf("workflow %s finished with status %s in %s\n",
		status.Name, status.Status, status.ExecutionTime)
}
