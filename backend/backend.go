package backend

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"

	"github.com/stepflow-dev/stepflow/core"
	"github.com/stepflow-dev/stepflow/metrics"
)

var (
	ErrWorkflowNotFound = errors.New("workflow not found")
)

const TracerName = "stepflow"

// DefaultListLimit is applied when ListOptions.Limit is not positive.
const DefaultListLimit = 50

// ListOptions filters and pages ListWorkflows results.
type ListOptions struct {
	// Status filters by workflow status when non-empty.
	Status core.WorkflowStatus

	// CreatedBy filters by creator when non-empty.
	CreatedBy string

	Limit  int
	Offset int
}

// Backend is the persistence contract for workflows. The engine owns active
// workflows in memory; the backend owns the durable copy, always in the
// serialized form produced by core.Workflow.Serialize.
type Backend interface {
	// SaveWorkflow inserts or replaces a workflow.
	SaveWorkflow(ctx context.Context, workflow *core.Workflow) error

	// GetWorkflow returns a workflow by id, or ErrWorkflowNotFound.
	GetWorkflow(ctx context.Context, id string) (*core.Workflow, error)

	// ListWorkflows returns workflows ordered by creation time, newest first.
	ListWorkflows(ctx context.Context, options ListOptions) ([]*core.Workflow, error)

	// DeleteWorkflow removes a workflow. It returns false when no workflow
	// with the given id exists.
	DeleteWorkflow(ctx context.Context, id string) (bool, error)

	// ActiveWorkflows returns all running or paused workflows.
	ActiveWorkflows(ctx context.Context) ([]*core.Workflow, error)

	// Stats returns aggregate statistics about stored workflows.
	Stats(ctx context.Context) (*Stats, error)

	// Metrics returns the configured metrics client for the backend
	Metrics() metrics.Client

	// Tracer returns the configured tracer for the backend
	Tracer() trace.Tracer

	// Close closes any underlying resources
	Close() error
}
