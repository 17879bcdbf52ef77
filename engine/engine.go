package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stepflow-dev/stepflow/backend"
	"github.com/stepflow-dev/stepflow/core"
	"github.com/stepflow-dev/stepflow/events"
	"github.com/stepflow-dev/stepflow/executor"
	"github.com/stepflow-dev/stepflow/internal/metrickeys"
	"github.com/stepflow-dev/stepflow/log"
	"github.com/stepflow-dev/stepflow/metrics"
)

var (
	// ErrEngineNotRunning is returned when a workflow is submitted before
	// Start or after Stop.
	ErrEngineNotRunning = errors.New("engine is not running")

	// ErrTooManyWorkflows is returned when the engine is already executing
	// the configured maximum of concurrent workflows.
	ErrTooManyWorkflows = errors.New("too many concurrent workflows")

	// ErrWorkflowNotActive is returned when a workflow is submitted in a
	// state other than pending.
	ErrWorkflowNotActive = errors.New("workflow is not in a runnable state")
)

// WorkflowStatus is a point-in-time snapshot of an executing workflow.
type WorkflowStatus struct {
	ID             string
	Name           string
	Status         core.WorkflowStatus
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ExecutionTime  time.Duration
	TotalSteps     int
	CompletedSteps int
	FailedSteps    int
	RunningSteps   int
	ErrorMessage   string
}

// Engine drives workflows to completion. Each submitted workflow gets its
// own supervisory goroutine that dispatches ready steps to the registered
// executors and reacts to their results.
type Engine struct {
	backend   backend.Backend
	executors *executor.Registry
	options   *Options

	logger    *slog.Logger
	metrics   metrics.Client
	tracer    trace.Tracer
	publisher events.Publisher

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	runs    map[string]*workflowRun
	wg      sync.WaitGroup
}

func New(b backend.Backend, executors *executor.Registry, options *Options) *Engine {
	options = applyDefaults(options)

	return &Engine{
		backend:   b,
		executors: executors,
		options:   options,
		logger:    options.Logger,
		metrics:   b.Metrics(),
		tracer:    b.Tracer(),
		publisher: options.Publisher,
		runs:      map[string]*workflowRun{},
	}
}

// Start makes the engine accept workflows. It is idempotent.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.running = true

	e.publish(ctx, events.EngineStarted, "", "", nil)
	e.logger.InfoContext(ctx, "workflow engine started",
		slog.Int("max_concurrent_workflows", e.options.MaxConcurrentWorkflows))

	return nil
}

// Stop cancels all active workflows and waits for their supervisory
// goroutines to exit.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()

	e.publish(ctx, events.EngineStopped, "", "", nil)
	e.logger.InfoContext(ctx, "workflow engine stopped")

	return nil
}

// ExecuteWorkflow validates the workflow and starts executing it in the
// background. The workflow is rejected when the engine is stopped, when the
// concurrency bound is reached, or when validation fails.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflow *core.Workflow) error {
	if workflow == nil {
		return errors.New("workflow is nil")
	}

	if workflow.Status != core.WorkflowStatusPending {
		e.metrics.Counter(metrickeys.WorkflowRejected, metrics.Tags{metrickeys.RejectReason: "not_pending"}, 1)
		return ErrWorkflowNotActive
	}

	if verrs := workflow.Validate(); len(verrs) > 0 {
		e.metrics.Counter(metrickeys.WorkflowRejected, metrics.Tags{metrickeys.RejectReason: "validation"}, 1)
		return fmt.Errorf("workflow validation failed: %w", errors.Join(verrs...))
	}

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		e.metrics.Counter(metrickeys.WorkflowRejected, metrics.Tags{metrickeys.RejectReason: "stopped"}, 1)
		return ErrEngineNotRunning
	}

	if len(e.runs) >= e.options.MaxConcurrentWorkflows {
		e.mu.Unlock()
		e.metrics.Counter(metrickeys.WorkflowRejected, metrics.Tags{metrickeys.RejectReason: "capacity"}, 1)
		return ErrTooManyWorkflows
	}

	if _, ok := e.runs[workflow.ID]; ok {
		e.mu.Unlock()
		return fmt.Errorf("workflow %s is already executing", workflow.ID)
	}

	runCtx, runCancel := context.WithCancel(e.ctx)
	run := newWorkflowRun(workflow, runCancel)
	e.runs[workflow.ID] = run
	e.wg.Add(1)
	e.mu.Unlock()

	e.metrics.Counter(metrickeys.WorkflowStarted, metrics.Tags{}, 1)
	e.metrics.Gauge(metrickeys.ActiveWorkflows, metrics.Tags{}, int64(e.activeCount()))

	go func() {
		defer e.wg.Done()
		e.supervise(runCtx, run)
	}()

	return nil
}

// PauseWorkflow pauses a running workflow. Steps already dispatched keep
// running; no new steps are started until the workflow is resumed.
func (e *Engine) PauseWorkflow(ctx context.Context, id string) bool {
	run, ok := e.run(id)
	if !ok {
		return false
	}

	run.mu.Lock()
	paused := run.workflow.PauseExecution()
	run.mu.Unlock()

	if paused {
		e.publish(ctx, events.WorkflowPaused, id, "", nil)
		e.logger.InfoContext(ctx, "workflow paused", slog.String(log.WorkflowIDKey, id))
	}

	return paused
}

// ResumeWorkflow resumes a paused workflow.
func (e *Engine) ResumeWorkflow(ctx context.Context, id string) bool {
	run, ok := e.run(id)
	if !ok {
		return false
	}

	run.mu.Lock()
	resumed := run.workflow.ResumeExecution()
	run.mu.Unlock()

	if resumed {
		e.publish(ctx, events.WorkflowResumed, id, "", nil)
		e.logger.InfoContext(ctx, "workflow resumed", slog.String(log.WorkflowIDKey, id))
	}

	return resumed
}

// CancelWorkflow cancels an active workflow. It returns false when the
// workflow is not active anymore, so cancelling a finished workflow is a
// no-op.
func (e *Engine) CancelWorkflow(ctx context.Context, id string) bool {
	run, ok := e.run(id)
	if !ok {
		return false
	}

	run.requestCancel()
	<-run.done

	return true
}

// WorkflowStatus reports the state of an active workflow.
func (e *Engine) WorkflowStatus(id string) (*WorkflowStatus, bool) {
	run, ok := e.run(id)
	if !ok {
		return nil, false
	}

	return run.snapshot(), true
}

// ActiveWorkflows lists snapshots of all workflows the engine currently
// supervises.
func (e *Engine) ActiveWorkflows() []*WorkflowStatus {
	e.mu.Lock()
	runs := make([]*workflowRun, 0, len(e.runs))
	for _, run := range e.runs {
		runs = append(runs, run)
	}
	e.mu.Unlock()

	statuses := make([]*WorkflowStatus, 0, len(runs))
	for _, run := range runs {
		statuses = append(statuses, run.snapshot())
	}

	return statuses
}

func (e *Engine) run(id string) (*workflowRun, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	run, ok := e.runs[id]
	return run, ok
}

func (e *Engine) activeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.runs)
}

func (e *Engine) remove(id string) {
	e.mu.Lock()
	delete(e.runs, id)
	e.mu.Unlock()

	e.metrics.Gauge(metrickeys.ActiveWorkflows, metrics.Tags{}, int64(e.activeCount()))
}

func (e *Engine) publish(ctx context.Context, eventType events.EventType, workflowID, stepID string, data map[string]any) {
	event := events.New(eventType, workflowID, stepID, data)
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.ErrorContext(ctx, "publishing event",
			slog.String(log.EventTypeKey, string(eventType)), slog.Any("error", err))
	}
}
