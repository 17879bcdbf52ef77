// Package registry provides a lightweight in-memory dependency tracker for
// single-task coordination outside of the full workflow model. It has no run
// loop of its own; callers poll ReadyTasks and decide when to act.
package registry

import (
	"log/slog"
	"sync"
)

// Registry tracks tasks and resolves their readiness as dependencies
// complete. Construct one per process and pass it explicitly.
type Registry struct {
	logger *slog.Logger

	mu         sync.Mutex
	tasks      map[string]*TaskState
	dependents map[string]map[string]bool // task id -> ids depending on it
	completed  map[string]bool
}

// New creates a new task registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		logger:     logger,
		tasks:      map[string]*TaskState{},
		dependents: map[string]map[string]bool{},
		completed:  map[string]bool{},
	}
}

// CreateTaskOptions configures a task created in the registry.
type CreateTaskOptions struct {
	// TaskID is the id for the new task. Generated when empty.
	TaskID string

	AgentID  string
	TaskType string

	// Dependencies are task ids that have to complete before the task
	// becomes ready.
	Dependencies map[string]bool

	Data map[string]any
}

// CreateTask registers a new task. A task without dependencies (or whose
// dependencies are already completed) is ready immediately.
func (r *Registry) CreateTask(options CreateTaskOptions) *TaskState {
	r.mu.Lock()
	defer r.mu.Unlock()

	task := newTaskState(options.TaskID, options.AgentID, options.TaskType, options.Dependencies, options.Data)
	r.tasks[task.TaskID] = task

	for dep := range task.Dependencies {
		if r.dependents[dep] == nil {
			r.dependents[dep] = map[string]bool{}
		}
		r.dependents[dep][task.TaskID] = true
	}

	r.refreshReadiness(task.TaskID)

	r.logger.Debug("created task", "task_id", task.TaskID, "dependencies", len(task.Dependencies))

	return task
}

// GetTask returns the task with the given id, or nil.
func (r *Registry) GetTask(taskID string) *TaskState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.tasks[taskID]
}

// UpdateTaskStatus moves a task to a new status, optionally recording a
// result or error. Completion propagates readiness to dependent tasks;
// failure removes the task from the completed set again, so a
// failure-after-completion correction un-readies nothing that already ran
// but stops future dependents.
func (r *Registry) UpdateTaskStatus(taskID string, status TaskStatus, result map[string]any, errMsg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	task := r.tasks[taskID]
	if task == nil {
		r.logger.Warn("task not found", "task_id", taskID)
		return false
	}

	oldStatus := task.Status
	task.updateStatus(status)

	if result != nil {
		task.Result = result
	}
	if errMsg != "" {
		task.Error = errMsg
	}

	switch status {
	case TaskStatusCompleted:
		r.completed[taskID] = true
		for dependent := range r.dependents[taskID] {
			r.refreshReadiness(dependent)
		}
	case TaskStatusFailed:
		delete(r.completed, taskID)
	}

	r.logger.Debug("updated task status", "task_id", taskID, "from", oldStatus, "to", status)

	return true
}

// ReadyTasks returns all tasks ready to be started.
func (r *Registry) ReadyTasks() []*TaskState {
	return r.TasksByStatus(TaskStatusReady)
}

// TasksByStatus returns all tasks with the given status.
func (r *Registry) TasksByStatus(status TaskStatus) []*TaskState {
	r.mu.Lock()
	defer r.mu.Unlock()

	var tasks []*TaskState
	for _, task := range r.tasks {
		if task.Status == status {
			tasks = append(tasks, task)
		}
	}

	return tasks
}

// Clear removes all tasks and resets the registry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks = map[string]*TaskState{}
	r.dependents = map[string]map[string]bool{}
	r.completed = map[string]bool{}

	r.logger.Debug("cleared task registry")
}

func (r *Registry) refreshReadiness(taskID string) {
	task := r.tasks[taskID]
	if task == nil {
		return
	}

	if task.IsReady(r.completed) {
		task.updateStatus(TaskStatusReady)
	}
}
