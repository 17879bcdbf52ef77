package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/stepflow-dev/stepflow/core"
)

type integrationExecutor struct {
	integrations IntegrationService
}

func (e *integrationExecutor) Type() core.StepType { return core.StepTypeIntegration }

func (e *integrationExecutor) Execute(ctx context.Context, workflow *core.Workflow, step *core.Step) (map[string]any, error) {
	if e.integrations == nil {
		return nil, errors.New("no integration service configured")
	}

	if step.IntegrationID == "" || step.IntegrationMethod == "" || step.IntegrationEndpoint == "" {
		return nil, errors.New("integration step requires integration_id, method, and endpoint")
	}

	req := IntegrationRequest{
		IntegrationID: step.IntegrationID,
		Method:        step.IntegrationMethod,
		Endpoint:      step.IntegrationEndpoint,
		TriggeredBy:   "workflow_" + workflow.ID,
		Data:          mapParam(step.Parameters, "data"),
		Headers:       stringMapParam(step.Parameters, "headers"),
		Params:        stringMapParam(step.Parameters, "params"),
	}

	result, err := e.integrations.ExecuteRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	if result.StatusCode < 200 || result.StatusCode >= 300 {
		return nil, fmt.Errorf("integration request failed with status %d", result.StatusCode)
	}

	return map[string]any{
		"status_code":    result.StatusCode,
		"data":           result.Data,
		"headers":        result.Headers,
		"execution_time": result.Duration.Seconds(),
	}, nil
}

func mapParam(params map[string]any, key string) map[string]any {
	if m, ok := params[key].(map[string]any); ok {
		return m
	}

	return nil
}

func stringMapParam(params map[string]any, key string) map[string]string {
	m, ok := params[key].(map[string]any)
	if !ok {
		return nil
	}

	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}

	return out
}
