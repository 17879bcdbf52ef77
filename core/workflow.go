package core

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus is the lifecycle status of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusPaused    WorkflowStatus = "paused"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
)

// Terminal reports whether the status is a terminal one.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	}

	return false
}

// Workflow is a DAG of steps with shared execution state.
//
// While a workflow is active it is owned exclusively by the engine's
// supervisory goroutine; the backend only ever holds serialized copies.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Status      WorkflowStatus `json:"status"`

	Steps    map[string]*Step `json:"steps"`
	Metadata map[string]any   `json:"metadata,omitempty"`

	CreatedBy        string        `json:"created_by,omitempty"`
	Timeout          time.Duration `json:"timeout,omitempty"`
	MaxParallelSteps int           `json:"max_parallel_steps"`
	AutoRetryFailed  bool          `json:"auto_retry_failed"`

	CompletedStepIDs map[string]bool `json:"completed_step_ids"`
	FailedStepIDs    map[string]bool `json:"failed_step_ids"`

	CreatedAt     time.Time     `json:"created_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	ExecutionTime time.Duration `json:"execution_time,omitempty"`

	Results      map[string]any `json:"results,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// NewWorkflow creates a new pending workflow.
func NewWorkflow(name, description, createdBy string) *Workflow {
	return &Workflow{
		ID:               uuid.NewString(),
		Name:             name,
		Description:      description,
		Status:           WorkflowStatusPending,
		Steps:            map[string]*Step{},
		CreatedBy:        createdBy,
		MaxParallelSteps: 5,
		AutoRetryFailed:  true,
		CompletedStepIDs: map[string]bool{},
		FailedStepIDs:    map[string]bool{},
		CreatedAt:        time.Now().UTC(),
	}
}

// AddStep adds a step to the workflow.
func (w *Workflow) AddStep(step *Step) {
	w.Steps[step.ID] = step
}

// RemoveStep removes a step and prunes it from the dependency lists of the
// remaining steps.
func (w *Workflow) RemoveStep(stepID string) bool {
	if _, ok := w.Steps[stepID]; !ok {
		return false
	}

	for _, step := range w.Steps {
		deps := step.DependsOn[:0]
		for _, dep := range step.DependsOn {
			if dep != stepID {
				deps = append(deps, dep)
			}
		}
		step.DependsOn = deps
	}

	delete(w.Steps, stepID)

	return true
}

// ReadySteps transitions all pending steps whose dependencies are satisfied
// to ready and returns them.
func (w *Workflow) ReadySteps() []*Step {
	var ready []*Step

	for _, step := range w.Steps {
		if step.Status == StepStatusPending && step.CanExecute(w.CompletedStepIDs) {
			step.Status = StepStatusReady
			ready = append(ready, step)
		}
	}

	return ready
}

// RunningSteps returns all currently running steps.
func (w *Workflow) RunningSteps() []*Step {
	var running []*Step

	for _, step := range w.Steps {
		if step.Status == StepStatusRunning {
			running = append(running, step)
		}
	}

	return running
}

// StartExecution transitions the workflow to running.
func (w *Workflow) StartExecution(now time.Time) {
	w.Status = WorkflowStatusRunning
	t := now
	w.StartedAt = &t
}

// CompleteExecution transitions the workflow to completed and collects
// per-step results.
func (w *Workflow) CompleteExecution(now time.Time) {
	w.Status = WorkflowStatusCompleted
	w.finish(now)

	stepResults := map[string]any{}
	for id, step := range w.Steps {
		if step.Results != nil {
			stepResults[id] = step.Results
		}
	}

	w.Results = map[string]any{
		"completed_steps": len(w.CompletedStepIDs),
		"failed_steps":    len(w.FailedStepIDs),
		"step_results":    stepResults,
	}
}

// FailExecution transitions the workflow to failed.
func (w *Workflow) FailExecution(now time.Time, errorMessage string) {
	w.Status = WorkflowStatusFailed
	w.ErrorMessage = errorMessage
	w.finish(now)
}

// CancelExecution transitions the workflow to cancelled.
func (w *Workflow) CancelExecution(now time.Time) {
	w.Status = WorkflowStatusCancelled
	w.finish(now)
}

// PauseExecution transitions a running workflow to paused. It reports
// whether the transition happened.
func (w *Workflow) PauseExecution() bool {
	if w.Status != WorkflowStatusRunning {
		return false
	}

	w.Status = WorkflowStatusPaused
	return true
}

// ResumeExecution transitions a paused workflow back to running. It reports
// whether the transition happened.
func (w *Workflow) ResumeExecution() bool {
	if w.Status != WorkflowStatusPaused {
		return false
	}

	w.Status = WorkflowStatusRunning
	return true
}

func (w *Workflow) finish(now time.Time) {
	t := now
	w.CompletedAt = &t

	if w.StartedAt != nil {
		w.ExecutionTime = w.CompletedAt.Sub(*w.StartedAt)
	}
}

// IsFinished reports whether every step reached the completed or failed set.
func (w *Workflow) IsFinished() bool {
	return len(w.CompletedStepIDs)+len(w.FailedStepIDs) == len(w.Steps)
}

// HasCriticalFailures reports whether any failed step cannot recover
// anymore: its retry budget is exhausted, or retries are disabled for the
// workflow.
func (w *Workflow) HasCriticalFailures() bool {
	for id := range w.FailedStepIDs {
		step := w.Steps[id]
		if step != nil && (!w.AutoRetryFailed || step.RetryCount >= step.MaxRetries) {
			return true
		}
	}

	return false
}

// DependencyGraph returns a copy of the step dependency graph.
func (w *Workflow) DependencyGraph() map[string][]string {
	graph := make(map[string][]string, len(w.Steps))
	for id, step := range w.Steps {
		graph[id] = append([]string(nil), step.DependsOn...)
	}

	return graph
}
