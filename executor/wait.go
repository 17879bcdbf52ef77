package executor

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/stepflow-dev/stepflow/core"
)

type waitExecutor struct {
	clock clock.Clock
}

func (e *waitExecutor) Type() core.StepType { return core.StepTypeWait }

func (e *waitExecutor) Execute(ctx context.Context, workflow *core.Workflow, step *core.Step) (map[string]any, error) {
	seconds := 1.0
	if v, ok := step.Parameters["seconds"]; ok {
		if f, ok := asFloat(v); ok {
			seconds = f
		}
	}

	timer := e.clock.Timer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return map[string]any{"waited_seconds": seconds}, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}

	return 0, false
}
