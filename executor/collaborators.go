package executor

import (
	"context"
	"time"
)

// TaskRequest describes a task to execute or create through the task
// collaborator.
type TaskRequest struct {
	TaskID      string
	AgentID     string
	Title       string
	Description string
	AssignedBy  string

	Parameters    map[string]any
	RequiredTools []string
	Timeout       time.Duration
}

// TaskService executes tasks on behalf of task steps.
type TaskService interface {
	// ExecuteTask runs the task identified by TaskID and returns its
	// result data.
	ExecuteTask(ctx context.Context, req TaskRequest) (map[string]any, error)

	// CreateTask creates a new task and returns its id.
	CreateTask(ctx context.Context, req TaskRequest) (string, error)
}

// IntegrationRequest describes an external integration call.
type IntegrationRequest struct {
	IntegrationID string
	Method        string
	Endpoint      string
	TriggeredBy   string

	Data    map[string]any
	Headers map[string]string
	Params  map[string]string
}

// IntegrationResult is the outcome of an integration call.
type IntegrationResult struct {
	StatusCode int
	Data       map[string]any
	Headers    map[string]string
	Duration   time.Duration
}

// IntegrationService performs external HTTP-style requests.
type IntegrationService interface {
	ExecuteRequest(ctx context.Context, req IntegrationRequest) (*IntegrationResult, error)
}

// Notification is a message sent by a notification step.
type Notification struct {
	Message   string
	Recipient string
	Channel   string
}

// NotificationService accepts notifications for delivery. Acceptance is
// enough for the step to succeed; delivery failures are out of scope.
type NotificationService interface {
	Send(ctx context.Context, n Notification) error
}
