// Package client is the public orchestration surface. It combines the
// backend, the engine and the event publisher into one façade for creating,
// mutating, executing and querying workflows.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jellydator/ttlcache/v3"

	"github.com/stepflow-dev/stepflow/backend"
	"github.com/stepflow-dev/stepflow/core"
	"github.com/stepflow-dev/stepflow/engine"
	"github.com/stepflow-dev/stepflow/events"
	"github.com/stepflow-dev/stepflow/internal/metrickeys"
	"github.com/stepflow-dev/stepflow/log"
	"github.com/stepflow-dev/stepflow/metrics"
)

// ErrWorkflowLocked is returned when a running or paused workflow is
// modified. Structural changes are only allowed before execution starts.
var ErrWorkflowLocked = errors.New("workflow cannot be modified while executing")

// Statistics aggregates backend storage stats with the live engine state.
type Statistics struct {
	*backend.Stats

	ActiveWorkflows int
}

type Client struct {
	backend   backend.Backend
	engine    *engine.Engine
	options   *Options
	logger    *slog.Logger
	publisher events.Publisher
	metrics   metrics.Client

	statusCache *ttlcache.Cache[string, *engine.WorkflowStatus]
}

func New(b backend.Backend, e *engine.Engine, options *Options) *Client {
	options = applyDefaults(options)

	cache := ttlcache.New[string, *engine.WorkflowStatus](
		ttlcache.WithTTL[string, *engine.WorkflowStatus](options.StatusCacheTTL),
	)
	go cache.Start()

	return &Client{
		backend:     b,
		engine:      e,
		options:     options,
		logger:      options.Logger,
		publisher:   options.Publisher,
		metrics:     b.Metrics(),
		statusCache: cache,
	}
}

// Close stops the status cache janitor. It does not close the backend.
func (c *Client) Close() error {
	c.statusCache.Stop()
	return nil
}

// CreateWorkflowOptions carries the optional attributes of a new workflow.
type CreateWorkflowOptions struct {
	Description      string
	CreatedBy        string
	Timeout          time.Duration
	MaxParallelSteps int
	DisableAutoRetry bool
	Metadata         map[string]any
}

// CreateWorkflow creates and persists a new pending workflow.
func (c *Client) CreateWorkflow(ctx context.Context, name string, options CreateWorkflowOptions) (*core.Workflow, error) {
	workflow := core.NewWorkflow(name, options.Description, options.CreatedBy)

	if options.Timeout > 0 {
		workflow.Timeout = options.Timeout
	}
	if options.MaxParallelSteps > 0 {
		workflow.MaxParallelSteps = options.MaxParallelSteps
	}
	if options.DisableAutoRetry {
		workflow.AutoRetryFailed = false
	}
	if options.Metadata != nil {
		workflow.Metadata = options.Metadata
	}

	if err := c.backend.SaveWorkflow(ctx, workflow); err != nil {
		return nil, fmt.Errorf("saving workflow: %w", err)
	}

	c.publish(ctx, events.WorkflowCreated, workflow.ID, "", map[string]any{"name": name})
	c.logger.DebugContext(ctx, "workflow created",
		slog.String(log.WorkflowIDKey, workflow.ID),
		slog.String(log.WorkflowNameKey, name))

	return workflow, nil
}

// CreateSequentialWorkflow creates a workflow in which every step depends
// on the previous one.
func (c *Client) CreateSequentialWorkflow(ctx context.Context, name string, options CreateWorkflowOptions, steps []*core.Step) (*core.Workflow, error) {
	workflow, err := c.CreateWorkflow(ctx, name, options)
	if err != nil {
		return nil, err
	}

	var previous string
	for _, step := range steps {
		if previous != "" {
			step.DependsOn = append(step.DependsOn, previous)
		}
		workflow.AddStep(step)
		previous = step.ID
	}

	if verrs := workflow.Validate(); len(verrs) > 0 {
		return nil, fmt.Errorf("invalid workflow: %w", errors.Join(verrs...))
	}

	if err := c.backend.SaveWorkflow(ctx, workflow); err != nil {
		return nil, fmt.Errorf("saving workflow: %w", err)
	}

	return workflow, nil
}

// AddStep adds a step to a workflow that has not started executing. The
// change is validated and persisted.
func (c *Client) AddStep(ctx context.Context, workflowID string, step *core.Step) error {
	workflow, err := c.editable(ctx, workflowID)
	if err != nil {
		return err
	}

	workflow.AddStep(step)

	if verrs := workflow.Validate(); len(verrs) > 0 {
		return fmt.Errorf("invalid workflow: %w", errors.Join(verrs...))
	}

	return c.backend.SaveWorkflow(ctx, workflow)
}

// RemoveStep removes a step from a workflow that has not started executing.
func (c *Client) RemoveStep(ctx context.Context, workflowID, stepID string) error {
	workflow, err := c.editable(ctx, workflowID)
	if err != nil {
		return err
	}

	if !workflow.RemoveStep(stepID) {
		return fmt.Errorf("step %s not found in workflow %s", stepID, workflowID)
	}

	if verrs := workflow.Validate(); len(verrs) > 0 {
		return fmt.Errorf("invalid workflow: %w", errors.Join(verrs...))
	}

	return c.backend.SaveWorkflow(ctx, workflow)
}

// ExecuteWorkflow hands a pending workflow to the engine.
func (c *Client) ExecuteWorkflow(ctx context.Context, id string) error {
	workflow, err := c.backend.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}

	return c.engine.ExecuteWorkflow(ctx, workflow)
}

// PauseWorkflow pauses a running workflow.
func (c *Client) PauseWorkflow(ctx context.Context, id string) bool {
	return c.engine.PauseWorkflow(ctx, id)
}

// ResumeWorkflow resumes a paused workflow.
func (c *Client) ResumeWorkflow(ctx context.Context, id string) bool {
	return c.engine.ResumeWorkflow(ctx, id)
}

// CancelWorkflow cancels an active workflow, or a pending one that never
// reached the engine. The terminal state is persisted.
func (c *Client) CancelWorkflow(ctx context.Context, id string) bool {
	if c.engine.CancelWorkflow(ctx, id) {
		return true
	}

	workflow, err := c.backend.GetWorkflow(ctx, id)
	if err != nil || workflow.Status != core.WorkflowStatusPending {
		return false
	}

	workflow.CancelExecution(time.Now().UTC())
	if err := c.backend.SaveWorkflow(ctx, workflow); err != nil {
		c.logger.ErrorContext(ctx, "persisting cancelled workflow",
			slog.String(log.WorkflowIDKey, id), slog.Any("error", err))
		return false
	}

	c.publish(ctx, events.WorkflowCancelled, id, "", nil)

	return true
}

// GetWorkflow returns the durable copy of a workflow.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*core.Workflow, error) {
	return c.backend.GetWorkflow(ctx, id)
}

// GetWorkflowSteps returns the steps of a workflow ordered by step ID.
func (c *Client) GetWorkflowSteps(ctx context.Context, id string) ([]*core.Step, error) {
	workflow, err := c.backend.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	steps := make([]*core.Step, 0, len(workflow.Steps))
	for _, step := range workflow.Steps {
		steps = append(steps, step)
	}

	sort.Slice(steps, func(i, j int) bool {
		return steps[i].ID < steps[j].ID
	})

	return steps, nil
}

// GetWorkflowStatus answers from the engine for active workflows, from the
// status cache for recently finished ones, and from the backend otherwise.
func (c *Client) GetWorkflowStatus(ctx context.Context, id string) (*engine.WorkflowStatus, error) {
	if status, ok := c.engine.WorkflowStatus(id); ok {
		return status, nil
	}

	if item := c.statusCache.Get(id); item != nil {
		return item.Value(), nil
	}

	workflow, err := c.backend.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	status := statusFromWorkflow(workflow)

	if workflow.Status.Terminal() {
		c.statusCache.Set(id, status, ttlcache.DefaultTTL)
		c.metrics.Gauge(metrickeys.StatusCacheSize, metrics.Tags{}, int64(c.statusCache.Len()))
	}

	return status, nil
}

// ListWorkflows lists stored workflows, newest first.
func (c *Client) ListWorkflows(ctx context.Context, options backend.ListOptions) ([]*core.Workflow, error) {
	return c.backend.ListWorkflows(ctx, options)
}

// ListActiveWorkflows returns snapshots of the workflows the engine is
// currently executing.
func (c *Client) ListActiveWorkflows(context.Context) []*engine.WorkflowStatus {
	return c.engine.ActiveWorkflows()
}

// DeleteWorkflow cancels a workflow if it is still active and deletes its
// durable copy.
func (c *Client) DeleteWorkflow(ctx context.Context, id string) (bool, error) {
	c.engine.CancelWorkflow(ctx, id)

	deleted, err := c.backend.DeleteWorkflow(ctx, id)
	if err != nil {
		return false, err
	}

	if deleted {
		c.statusCache.Delete(id)
		c.publish(ctx, events.WorkflowDeleted, id, "", nil)
	}

	return deleted, nil
}

// Statistics returns aggregate workflow statistics.
func (c *Client) Statistics(ctx context.Context) (*Statistics, error) {
	stats, err := c.backend.Stats(ctx)
	if err != nil {
		return nil, err
	}

	return &Statistics{
		Stats:           stats,
		ActiveWorkflows: len(c.engine.ActiveWorkflows()),
	}, nil
}

// WaitForWorkflow polls until the workflow reaches a terminal status and
// returns that status. A non-positive timeout waits until ctx is done.
func (c *Client) WaitForWorkflow(ctx context.Context, id string, timeout time.Duration) (*engine.WorkflowStatus, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = 0

	var status *engine.WorkflowStatus
	err := backoff.Retry(func() error {
		s, err := c.GetWorkflowStatus(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}

		if !s.Status.Terminal() {
			return fmt.Errorf("workflow %s is still %s", id, s.Status)
		}

		status = s
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, err
	}

	return status, nil
}

// editable loads a workflow for mutation, rejecting workflows that are
// executing.
func (c *Client) editable(ctx context.Context, id string) (*core.Workflow, error) {
	if _, active := c.engine.WorkflowStatus(id); active {
		return nil, ErrWorkflowLocked
	}

	workflow, err := c.backend.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow.Status == core.WorkflowStatusRunning || workflow.Status == core.WorkflowStatusPaused {
		return nil, ErrWorkflowLocked
	}

	return workflow, nil
}

func statusFromWorkflow(w *core.Workflow) *engine.WorkflowStatus {
	return &engine.WorkflowStatus{
		ID:             w.ID,
		Name:           w.Name,
		Status:         w.Status,
		CreatedAt:      w.CreatedAt,
		StartedAt:      w.StartedAt,
		CompletedAt:    w.CompletedAt,
		ExecutionTime:  w.ExecutionTime,
		TotalSteps:     len(w.Steps),
		CompletedSteps: len(w.CompletedStepIDs),
		FailedSteps:    len(w.FailedStepIDs),
		RunningSteps:   len(w.RunningSteps()),
		ErrorMessage:   w.ErrorMessage,
	}
}

func (c *Client) publish(ctx context.Context, eventType events.EventType, workflowID, stepID string, data map[string]any) {
	event := events.New(eventType, workflowID, stepID, data)
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.ErrorContext(ctx, "publishing event",
			slog.String(log.EventTypeKey, string(eventType)), slog.Any("error", err))
	}
}
