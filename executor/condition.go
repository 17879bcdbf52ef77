package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/stepflow-dev/stepflow/core"
	"github.com/stepflow-dev/stepflow/expr"
)

type conditionExecutor struct{}

func (e *conditionExecutor) Type() core.StepType { return core.StepTypeCondition }

// Execute evaluates the step's condition expression against the workflow
// context. Evaluating to false is not a failure: the step succeeds and the
// boolean lands in the results as condition_result.
func (e *conditionExecutor) Execute(ctx context.Context, workflow *core.Workflow, step *core.Step) (map[string]any, error) {
	if step.Condition == "" {
		return nil, errors.New("condition step requires a condition expression")
	}

	result, err := expr.EvalBool(step.Condition, ConditionContext(workflow))
	if err != nil {
		return nil, fmt.Errorf("condition evaluation failed: %w", err)
	}

	return map[string]any{"condition_result": result}, nil
}

// ConditionContext builds the read-only evaluation context for condition
// expressions: prior step results under steps.<id>.results and a few
// workflow fields under workflow.
func ConditionContext(workflow *core.Workflow) map[string]any {
	steps := map[string]any{}
	for id, step := range workflow.Steps {
		if step.Results != nil {
			steps[id] = map[string]any{
				"results": step.Results,
				"status":  string(step.Status),
			}
		}
	}

	return map[string]any{
		"steps": steps,
		"workflow": map[string]any{
			"id":         workflow.ID,
			"name":       workflow.Name,
			"status":     string(workflow.Status),
			"created_by": workflow.CreatedBy,
		},
	}
}
