// Package executor contains the per-step-type executors. Executors perform
// the actual work of a step, usually by calling an external collaborator;
// sequencing, retries, and state transitions stay with the engine.
package executor

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/stepflow-dev/stepflow/core"
	"github.com/stepflow-dev/stepflow/events"
)

// Executor runs a single step and returns its results. A returned error
// marks the step as failed; the engine decides whether to retry.
type Executor interface {
	Type() core.StepType

	Execute(ctx context.Context, workflow *core.Workflow, step *core.Step) (map[string]any, error)
}

// Registry maps step types to executors.
type Registry struct {
	executors map[core.StepType]Executor
}

// Services bundles the external collaborators the default executors call.
type Services struct {
	Tasks         TaskService
	Integrations  IntegrationService
	Notifications NotificationService
}

// NewRegistry creates a registry with the default executor per step type.
// Parallel group steps carry no work of their own; they complete immediately
// and exist to give their dependents a common dependency.
func NewRegistry(services Services, publisher events.Publisher, clk clock.Clock) *Registry {
	if publisher == nil {
		publisher = events.NewNoopPublisher()
	}
	if clk == nil {
		clk = clock.New()
	}

	r := &Registry{executors: map[core.StepType]Executor{}}

	r.Register(&taskExecutor{tasks: services.Tasks})
	r.Register(&integrationExecutor{integrations: services.Integrations})
	r.Register(&notificationExecutor{notifications: services.Notifications, publisher: publisher})
	r.Register(&waitExecutor{clock: clk})
	r.Register(&conditionExecutor{})
	r.Register(&parallelExecutor{})

	return r
}

// Register adds or replaces the executor for a step type.
func (r *Registry) Register(e Executor) {
	r.executors[e.Type()] = e
}

// Resolve returns the executor for the given step type.
func (r *Registry) Resolve(stepType core.StepType) (Executor, error) {
	e, ok := r.executors[stepType]
	if !ok {
		return nil, fmt.Errorf("unsupported step type: %s", stepType)
	}

	return e, nil
}

type parallelExecutor struct{}

func (e *parallelExecutor) Type() core.StepType { return core.StepTypeParallel }

func (e *parallelExecutor) Execute(ctx context.Context, workflow *core.Workflow, step *core.Step) (map[string]any, error) {
	return map[string]any{"group": step.Name}, nil
}
