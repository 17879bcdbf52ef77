// Package memory provides a non-durable in-memory backend, mainly for
// tests and local experiments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stepflow-dev/stepflow/backend"
	"github.com/stepflow-dev/stepflow/core"
	"github.com/stepflow-dev/stepflow/metrics"
)

type memoryBackend struct {
	options backend.Options

	mu        sync.Mutex
	workflows map[string]*core.Workflow
}

var _ backend.Backend = (*memoryBackend)(nil)

func NewMemoryBackend(opts ...backend.BackendOption) backend.Backend {
	return &memoryBackend{
		options:   backend.ApplyOptions(opts...),
		workflows: map[string]*core.Workflow{},
	}
}

func (mb *memoryBackend) SaveWorkflow(_ context.Context, workflow *core.Workflow) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.workflows[workflow.ID] = workflow.Clone()

	return nil
}

func (mb *memoryBackend) GetWorkflow(_ context.Context, id string) (*core.Workflow, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	workflow, ok := mb.workflows[id]
	if !ok {
		return nil, backend.ErrWorkflowNotFound
	}

	return workflow.Clone(), nil
}

func (mb *memoryBackend) ListWorkflows(_ context.Context, options backend.ListOptions) ([]*core.Workflow, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	var matched []*core.Workflow
	for _, workflow := range mb.workflows {
		if options.Status != "" && workflow.Status != options.Status {
			continue
		}
		if options.CreatedBy != "" && workflow.CreatedBy != options.CreatedBy {
			continue
		}
		matched = append(matched, workflow)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	offset := options.Offset
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]

	limit := options.Limit
	if limit <= 0 {
		limit = backend.DefaultListLimit
	}
	if limit < len(matched) {
		matched = matched[:limit]
	}

	result := make([]*core.Workflow, len(matched))
	for i, workflow := range matched {
		result[i] = workflow.Clone()
	}

	return result, nil
}

func (mb *memoryBackend) DeleteWorkflow(_ context.Context, id string) (bool, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if _, ok := mb.workflows[id]; !ok {
		return false, nil
	}

	delete(mb.workflows, id)

	return true, nil
}

func (mb *memoryBackend) ActiveWorkflows(_ context.Context) ([]*core.Workflow, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	var active []*core.Workflow
	for _, workflow := range mb.workflows {
		if workflow.Status == core.WorkflowStatusRunning || workflow.Status == core.WorkflowStatusPaused {
			active = append(active, workflow.Clone())
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})

	return active, nil
}

func (mb *memoryBackend) Stats(_ context.Context) (*backend.Stats, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	stats := &backend.Stats{
		ByStatus: map[string]int64{},
	}

	var completed int64
	var totalExecution time.Duration
	for _, workflow := range mb.workflows {
		stats.TotalWorkflows++
		stats.ByStatus[string(workflow.Status)]++

		if workflow.Status == core.WorkflowStatusCompleted {
			completed++
			totalExecution += workflow.ExecutionTime
		}
	}

	if completed > 0 {
		stats.AvgExecutionTime = totalExecution / time.Duration(completed)
	}

	return stats, nil
}

func (mb *memoryBackend) Metrics() metrics.Client {
	return mb.options.Metrics
}

func (mb *memoryBackend) Tracer() trace.Tracer {
	return mb.options.TracerProvider.Tracer(backend.TracerName)
}

func (mb *memoryBackend) Close() error {
	return nil
}
