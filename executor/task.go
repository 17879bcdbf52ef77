package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/stepflow-dev/stepflow/core"
)

type taskExecutor struct {
	tasks TaskService
}

func (e *taskExecutor) Type() core.StepType { return core.StepTypeTask }

func (e *taskExecutor) Execute(ctx context.Context, workflow *core.Workflow, step *core.Step) (map[string]any, error) {
	if e.tasks == nil {
		return nil, errors.New("no task service configured")
	}

	if step.TaskID == "" && step.AgentID == "" {
		return nil, errors.New("task step requires either task_id or agent_id")
	}

	req := TaskRequest{
		TaskID:        step.TaskID,
		AgentID:       step.AgentID,
		Title:         step.Name,
		Description:   fmt.Sprintf("Task created by workflow %s", workflow.ID),
		AssignedBy:    "workflow_" + workflow.ID,
		Parameters:    step.Parameters,
		RequiredTools: step.RequiredTools,
		Timeout:       step.Timeout,
	}

	// Without an existing task id, create one first and execute that.
	if req.TaskID == "" {
		taskID, err := e.tasks.CreateTask(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("creating task: %w", err)
		}

		req.TaskID = taskID
	}

	results, err := e.tasks.ExecuteTask(ctx, req)
	if err != nil {
		return nil, err
	}

	return results, nil
}
