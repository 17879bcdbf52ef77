package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	goerrors "github.com/go-errors/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stepflow-dev/stepflow/core"
	"github.com/stepflow-dev/stepflow/events"
	"github.com/stepflow-dev/stepflow/internal/metrickeys"
	"github.com/stepflow-dev/stepflow/log"
	"github.com/stepflow-dev/stepflow/metrics"
)

type stepResult struct {
	stepID  string
	results map[string]any
	err     error
}

// workflowRun is the engine-side state of one active workflow. The workflow
// itself is only ever mutated under mu, and only by the supervisory
// goroutine except for the pause and resume transitions.
type workflowRun struct {
	mu       sync.Mutex
	workflow *core.Workflow
	cancel   context.CancelFunc
	results  chan stepResult
	retryAt  map[string]time.Time
	steps    sync.WaitGroup
	done     chan struct{}
}

func newWorkflowRun(workflow *core.Workflow, cancel context.CancelFunc) *workflowRun {
	return &workflowRun{
		workflow: workflow,
		cancel:   cancel,
		results:  make(chan stepResult),
		retryAt:  map[string]time.Time{},
		done:     make(chan struct{}),
	}
}

func (r *workflowRun) requestCancel() {
	r.cancel()
}

func (r *workflowRun) snapshot() *WorkflowStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.workflow

	status := &WorkflowStatus{
		ID:             w.ID,
		Name:           w.Name,
		Status:         w.Status,
		CreatedAt:      w.CreatedAt,
		ExecutionTime:  w.ExecutionTime,
		TotalSteps:     len(w.Steps),
		CompletedSteps: len(w.CompletedStepIDs),
		FailedSteps:    len(w.FailedStepIDs),
		RunningSteps:   len(w.RunningSteps()),
		ErrorMessage:   w.ErrorMessage,
	}

	if w.StartedAt != nil {
		t := *w.StartedAt
		status.StartedAt = &t
	}
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		status.CompletedAt = &t
	}

	return status
}

// supervise drives a single workflow to a terminal status.
func (e *Engine) supervise(ctx context.Context, run *workflowRun) {
	workflow := run.workflow
	logger := e.logger.With(
		slog.String(log.WorkflowIDKey, workflow.ID),
		slog.String(log.WorkflowNameKey, workflow.Name))

	sctx, span := e.tracer.Start(ctx, "ExecuteWorkflow", trace.WithAttributes(
		attribute.String(log.WorkflowIDKey, workflow.ID),
		attribute.String(log.WorkflowNameKey, workflow.Name),
	))

	defer close(run.done)

	defer func() {
		if r := recover(); r != nil {
			werr := goerrors.Wrap(r, 1)
			logger.Error("workflow scheduler panic", slog.String("stack", werr.ErrorStack()))

			run.mu.Lock()
			if !workflow.Status.Terminal() {
				workflow.FailExecution(e.now(), fmt.Sprintf("internal error: %v", r))
			}
			run.mu.Unlock()

			e.finalize(sctx, run, span, logger)
		}
	}()

	run.mu.Lock()
	workflow.StartExecution(e.now())
	run.mu.Unlock()

	e.publish(sctx, events.WorkflowStarted, workflow.ID, "", nil)
	logger.Info("workflow execution started", slog.Int("steps", len(workflow.Steps)))

loop:
	for {
		if e.tick(sctx, run, logger) {
			break
		}

		run.mu.Lock()
		paused := workflow.Status == core.WorkflowStatusPaused
		run.mu.Unlock()

		interval := e.options.PollingInterval
		if paused {
			interval = e.options.PausePollInterval
		}

		timer := e.options.Clock.Timer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()

			run.mu.Lock()
			if !workflow.Status.Terminal() {
				workflow.CancelExecution(e.now())
			}
			run.mu.Unlock()

			break loop

		case res := <-run.results:
			timer.Stop()
			e.handleResult(sctx, run, res, logger)

		case <-timer.C:
		}
	}

	e.finalize(sctx, run, span, logger)
}

// tick runs one pass of the scheduling state machine. It reports whether
// the workflow reached a terminal status.
func (e *Engine) tick(ctx context.Context, run *workflowRun, logger *slog.Logger) bool {
	run.mu.Lock()

	workflow := run.workflow
	now := e.now()

	if workflow.Status.Terminal() {
		run.mu.Unlock()
		return true
	}

	// A paused workflow keeps its in-flight steps but dispatches nothing new.
	if workflow.Status == core.WorkflowStatusPaused {
		run.mu.Unlock()
		return false
	}

	if workflow.Timeout > 0 && workflow.StartedAt != nil && now.Sub(*workflow.StartedAt) > workflow.Timeout {
		workflow.FailExecution(now, fmt.Sprintf("workflow timed out after %s", workflow.Timeout))
		run.mu.Unlock()
		return true
	}

	if workflow.IsFinished() {
		if len(workflow.FailedStepIDs) > 0 {
			workflow.FailExecution(now, fmt.Sprintf("%d step(s) failed", len(workflow.FailedStepIDs)))
		} else {
			workflow.CompleteExecution(now)
		}
		run.mu.Unlock()
		return true
	}

	if critical := criticalStep(workflow); critical != nil {
		workflow.FailExecution(now, fmt.Sprintf("step %q failed after %d attempts: %s",
			critical.Name, critical.RetryCount+1, critical.ErrorMessage))
		run.mu.Unlock()
		return true
	}

	workflow.ReadySteps()

	slots := workflow.MaxParallelSteps - len(workflow.RunningSteps())
	if slots <= 0 {
		run.mu.Unlock()
		return false
	}

	ready := dispatchable(workflow, run.retryAt, now)
	if len(ready) > slots {
		ready = ready[:slots]
	}

	for _, step := range ready {
		step.StartExecution(now)
		delete(run.retryAt, step.ID)
	}

	var snapshot *core.Workflow
	if len(ready) > 0 {
		snapshot = workflow.Clone()
	}
	run.mu.Unlock()

	for _, step := range ready {
		e.metrics.Counter(metrickeys.StepDispatched, metrics.Tags{metrickeys.StepType: string(step.Type)}, 1)
		e.publish(ctx, events.StepStarted, workflow.ID, step.ID, map[string]any{
			"step_name": step.Name,
			"step_type": string(step.Type),
		})
		logger.Info("step dispatched",
			slog.String(log.StepIDKey, step.ID),
			slog.String(log.StepNameKey, step.Name),
			slog.String(log.StepTypeKey, string(step.Type)))

		run.steps.Add(1)
		go func(step *core.Step) {
			defer run.steps.Done()
			e.executeStep(ctx, run, snapshot, step)
		}(snapshot.Steps[step.ID])
	}

	return false
}

// executeStep runs a single step against a workflow snapshot and reports
// the outcome back to the supervisory loop. Results arriving after the run
// was cancelled are dropped.
func (e *Engine) executeStep(ctx context.Context, run *workflowRun, workflow *core.Workflow, step *core.Step) {
	sctx, span := e.tracer.Start(ctx, "ExecuteStep", trace.WithAttributes(
		attribute.String(log.WorkflowIDKey, workflow.ID),
		attribute.String(log.StepIDKey, step.ID),
		attribute.String(log.StepTypeKey, string(step.Type)),
	))
	defer span.End()

	if step.Timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(sctx, step.Timeout)
		defer cancel()
	}

	start := e.now()
	results, err := e.runExecutor(sctx, workflow, step)
	e.metrics.Timing(metrickeys.StepDuration, metrics.Tags{metrickeys.StepType: string(step.Type)}, e.now().Sub(start))

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	select {
	case run.results <- stepResult{stepID: step.ID, results: results, err: err}:
	case <-ctx.Done():
	}
}

// runExecutor resolves and invokes the executor, converting a panic into a
// step failure so a broken executor cannot take the engine down.
func (e *Engine) runExecutor(ctx context.Context, workflow *core.Workflow, step *core.Step) (results map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			werr := goerrors.Wrap(r, 1)
			e.logger.Error("step executor panic",
				slog.String(log.WorkflowIDKey, workflow.ID),
				slog.String(log.StepIDKey, step.ID),
				slog.String("stack", werr.ErrorStack()))

			results, err = nil, fmt.Errorf("executor panic: %v", r)
		}
	}()

	exec, err := e.executors.Resolve(step.Type)
	if err != nil {
		return nil, err
	}

	return exec.Execute(ctx, workflow, step)
}

// handleResult applies a step outcome to the workflow. Failed steps with
// retry budget left bounce back to pending; their next attempt is delayed
// by the retry policy.
func (e *Engine) handleResult(ctx context.Context, run *workflowRun, res stepResult, logger *slog.Logger) {
	run.mu.Lock()

	workflow := run.workflow
	step := workflow.Steps[res.stepID]
	if step == nil || step.Status != core.StepStatusRunning || workflow.Status.Terminal() {
		run.mu.Unlock()
		return
	}

	now := e.now()
	tags := metrics.Tags{metrickeys.StepType: string(step.Type)}

	if res.err == nil {
		step.CompleteExecution(now, res.results)
		workflow.CompletedStepIDs[step.ID] = true
		duration := step.ExecutionTime
		run.mu.Unlock()

		e.metrics.Counter(metrickeys.StepCompleted, tags, 1)
		e.publish(ctx, events.StepCompleted, workflow.ID, step.ID, map[string]any{
			"execution_time": duration.Seconds(),
		})
		logger.Info("step completed",
			slog.String(log.StepIDKey, step.ID),
			slog.Duration(log.DurationKey, duration))

		return
	}

	step.FailExecution(now, res.err.Error())
	workflow.FailedStepIDs[step.ID] = true

	retried := false
	attempt := step.RetryCount + 1
	if workflow.AutoRetryFailed && step.RetryCount < step.MaxRetries {
		step.RetryCount++
		step.Status = core.StepStatusPending
		// a pending step carries no terminal state
		step.CompletedAt = nil
		step.ErrorMessage = ""
		delete(workflow.FailedStepIDs, step.ID)
		run.retryAt[step.ID] = now.Add(e.options.RetryPolicy.Delay(step.RetryCount))
		retried = true
		attempt = step.RetryCount + 1
	}
	run.mu.Unlock()

	e.metrics.Counter(metrickeys.StepFailed, tags, 1)
	e.publish(ctx, events.StepFailed, workflow.ID, step.ID, map[string]any{
		"error":      res.err.Error(),
		"will_retry": retried,
	})

	if retried {
		e.metrics.Counter(metrickeys.StepRetried, tags, 1)
		logger.Info("retrying failed step",
			slog.String(log.StepIDKey, step.ID),
			slog.Int(log.AttemptKey, attempt),
			slog.Any("error", res.err))
	} else {
		logger.Error("step failed",
			slog.String(log.StepIDKey, step.ID),
			slog.Any("error", res.err))
	}
}

// finalize persists the terminal workflow state, emits the terminal event
// and removes the run from the active set.
func (e *Engine) finalize(ctx context.Context, run *workflowRun, span trace.Span, logger *slog.Logger) {
	run.cancel()
	run.steps.Wait()

	run.mu.Lock()
	workflow := run.workflow
	if !workflow.Status.Terminal() {
		workflow.CancelExecution(e.now())
	}
	status := workflow.Status
	duration := workflow.ExecutionTime
	errorMessage := workflow.ErrorMessage
	persisted := workflow.Clone()
	run.mu.Unlock()

	saveCtx := context.WithoutCancel(ctx)
	if err := e.backend.SaveWorkflow(saveCtx, persisted); err != nil {
		logger.Error("persisting finished workflow", slog.Any("error", err))
	}

	var eventType events.EventType
	switch status {
	case core.WorkflowStatusCompleted:
		eventType = events.WorkflowCompleted
	case core.WorkflowStatusFailed:
		eventType = events.WorkflowFailed
	default:
		eventType = events.WorkflowCancelled
	}

	data := map[string]any{
		"status":         string(status),
		"execution_time": duration.Seconds(),
	}
	if errorMessage != "" {
		data["error"] = errorMessage
	}
	e.publish(saveCtx, eventType, workflow.ID, "", data)

	e.metrics.Counter(metrickeys.WorkflowFinished, metrics.Tags{metrickeys.Status: string(status)}, 1)
	e.metrics.Timing(metrickeys.WorkflowDuration, metrics.Tags{metrickeys.Status: string(status)}, duration)

	span.SetAttributes(attribute.String(log.WorkflowStatusKey, string(status)))
	if status == core.WorkflowStatusFailed {
		span.SetStatus(codes.Error, errorMessage)
	}
	span.End()

	e.remove(workflow.ID)

	logger.Info("workflow finished",
		slog.String(log.WorkflowStatusKey, string(status)),
		slog.Duration(log.DurationKey, duration))
}

func (e *Engine) now() time.Time {
	return e.options.Clock.Now().UTC()
}

// criticalStep returns a failed step that cannot recover, either because
// its retry budget is exhausted or because retries are disabled for the
// workflow. IDs are visited in order so the reported step is deterministic.
func criticalStep(w *core.Workflow) *core.Step {
	ids := make([]string, 0, len(w.FailedStepIDs))
	for id := range w.FailedStepIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		step := w.Steps[id]
		if step != nil && (!w.AutoRetryFailed || step.RetryCount >= step.MaxRetries) {
			return step
		}
	}

	return nil
}

// dispatchable returns the ready steps whose retry delay has elapsed,
// ordered by step ID.
func dispatchable(w *core.Workflow, retryAt map[string]time.Time, now time.Time) []*core.Step {
	var ready []*core.Step
	for _, step := range w.Steps {
		if step.Status != core.StepStatusReady {
			continue
		}
		if at, ok := retryAt[step.ID]; ok && at.After(now) {
			continue
		}
		ready = append(ready, step)
	}

	sort.Slice(ready, func(i, j int) bool {
		return ready[i].ID < ready[j].ID
	})

	return ready
}
