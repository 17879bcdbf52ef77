package core

import (
	"time"
)

// StepStatus is the execution status of a single workflow step.
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	// StepStatusReady indicates that all dependencies of the step are satisfied.
	StepStatusReady     StepStatus = "ready"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepType determines which executor runs a step.
type StepType string

const (
	// StepTypeTask executes a task through the task collaborator.
	StepTypeTask StepType = "task"
	// StepTypeCondition evaluates a condition expression.
	StepTypeCondition StepType = "condition"
	// StepTypeParallel groups steps for parallel execution.
	StepTypeParallel StepType = "parallel"
	// StepTypeWait delays for a configured duration.
	StepTypeWait StepType = "wait"
	// StepTypeNotification sends a notification.
	StepTypeNotification StepType = "notification"
	// StepTypeIntegration calls an external integration.
	StepTypeIntegration StepType = "integration"
)

// Step is a single unit of work in a workflow.
type Step struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Type   StepType   `json:"step_type"`
	Status StepStatus `json:"status"`

	// DependsOn lists step IDs that have to complete before this step becomes ready.
	DependsOn []string `json:"depends_on,omitempty"`

	// Condition is the expression evaluated by condition steps.
	Condition string `json:"condition,omitempty"`

	Parameters map[string]any `json:"parameters,omitempty"`
	Timeout    time.Duration  `json:"timeout,omitempty"`
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`

	// Task step assignment
	TaskID        string   `json:"task_id,omitempty"`
	AgentID       string   `json:"agent_id,omitempty"`
	RequiredTools []string `json:"required_tools,omitempty"`

	// Integration step parameters
	IntegrationID       string `json:"integration_id,omitempty"`
	IntegrationMethod   string `json:"integration_method,omitempty"`
	IntegrationEndpoint string `json:"integration_endpoint,omitempty"`

	Results      map[string]any `json:"results,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`

	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	ExecutionTime time.Duration `json:"execution_time,omitempty"`
}

// StartExecution marks the step as running.
func (s *Step) StartExecution(now time.Time) {
	s.Status = StepStatusRunning
	t := now
	s.StartedAt = &t
}

// CompleteExecution marks the step as completed with the given results.
func (s *Step) CompleteExecution(now time.Time, results map[string]any) {
	s.Status = StepStatusCompleted
	t := now
	s.CompletedAt = &t
	s.Results = results

	if s.StartedAt != nil {
		s.ExecutionTime = s.CompletedAt.Sub(*s.StartedAt)
	}
}

// FailExecution marks the step as failed.
func (s *Step) FailExecution(now time.Time, errorMessage string) {
	s.Status = StepStatusFailed
	t := now
	s.CompletedAt = &t
	s.ErrorMessage = errorMessage

	if s.StartedAt != nil {
		s.ExecutionTime = s.CompletedAt.Sub(*s.StartedAt)
	}
}

// SkipExecution marks the step as skipped.
func (s *Step) SkipExecution(now time.Time, reason string) {
	s.Status = StepStatusSkipped
	t := now
	s.CompletedAt = &t
	s.ErrorMessage = "skipped: " + reason
}

// CanExecute reports whether all dependencies of the step are in the given
// completed set.
func (s *Step) CanExecute(completed map[string]bool) bool {
	for _, dep := range s.DependsOn {
		if !completed[dep] {
			return false
		}
	}

	return true
}

// Finished reports whether the step reached a terminal status.
func (s *Step) Finished() bool {
	switch s.Status {
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped:
		return true
	}

	return false
}
