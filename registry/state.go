package registry

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle status of a tracked task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusReady      TaskStatus = "ready"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

var validTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusReady, TaskStatusFailed},
	TaskStatusReady:      {TaskStatusInProgress, TaskStatusFailed},
	TaskStatusInProgress: {TaskStatusCompleted, TaskStatusFailed},
	TaskStatusCompleted:  {},
	// failed tasks can be retried by moving back to pending
	TaskStatusFailed: {TaskStatusPending},
}

// TaskState tracks a single task and its dependencies. Unlike a workflow
// step it is not persisted; the registry owns it until Clear is called.
type TaskState struct {
	TaskID       string
	AgentID      string
	TaskType     string
	Status       TaskStatus
	Dependencies map[string]bool
	Data         map[string]any
	Result       map[string]any
	Error        string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

func newTaskState(taskID, agentID, taskType string, dependencies map[string]bool, data map[string]any) *TaskState {
	if taskID == "" {
		taskID = uuid.NewString()
	}

	deps := make(map[string]bool, len(dependencies))
	for id := range dependencies {
		deps[id] = true
	}

	d := make(map[string]any, len(data))
	for k, v := range data {
		d[k] = v
	}

	return &TaskState{
		TaskID:       taskID,
		AgentID:      agentID,
		TaskType:     taskType,
		Status:       TaskStatusPending,
		Dependencies: deps,
		Data:         d,
		CreatedAt:    time.Now().UTC(),
	}
}

// CanTransitionTo reports whether moving to the given status is valid.
func (t *TaskState) CanTransitionTo(status TaskStatus) bool {
	for _, s := range validTransitions[t.Status] {
		if s == status {
			return true
		}
	}

	return false
}

// IsReady reports whether the task is pending with all dependencies in the
// given completed set.
func (t *TaskState) IsReady(completed map[string]bool) bool {
	if t.Status != TaskStatusPending {
		return false
	}

	for dep := range t.Dependencies {
		if !completed[dep] {
			return false
		}
	}

	return true
}

func (t *TaskState) updateStatus(status TaskStatus) {
	t.Status = status

	if status == TaskStatusCompleted || status == TaskStatusFailed {
		now := time.Now().UTC()
		t.CompletedAt = &now
	}
}
