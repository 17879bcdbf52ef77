// Package redis contains a redis-backed workflow store. Workflows are kept
// as JSON documents with secondary index sets per status and creator, and a
// ZSET ordered by creation time for listing.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/stepflow-dev/stepflow/backend"
	"github.com/stepflow-dev/stepflow/core"
	"github.com/stepflow-dev/stepflow/internal/metrickeys"
	"github.com/stepflow-dev/stepflow/metrics"
)

var allStatuses = []core.WorkflowStatus{
	core.WorkflowStatusPending,
	core.WorkflowStatusRunning,
	core.WorkflowStatusPaused,
	core.WorkflowStatusCompleted,
	core.WorkflowStatusFailed,
	core.WorkflowStatusCancelled,
}

var _ backend.Backend = (*redisBackend)(nil)

func NewRedisBackend(client redis.UniversalClient, opts ...RedisBackendOption) (*redisBackend, error) {
	options := &RedisOptions{
		Options: backend.ApplyOptions(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return &redisBackend{
		rdb:     client,
		options: options,
	}, nil
}

type redisBackend struct {
	rdb     redis.UniversalClient
	options *RedisOptions
}

func (rb *redisBackend) Metrics() metrics.Client {
	return rb.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "redis"})
}

func (rb *redisBackend) Tracer() trace.Tracer {
	return rb.options.TracerProvider.Tracer(backend.TracerName)
}

func (rb *redisBackend) Close() error {
	return rb.rdb.Close()
}

func (rb *redisBackend) SaveWorkflow(ctx context.Context, workflow *core.Workflow) error {
	t := metrics.Timer(rb.Metrics(), metrickeys.WorkflowSaved, metrics.Tags{})
	defer t.Stop()

	data, err := workflow.Serialize()
	if err != nil {
		return fmt.Errorf("serializing workflow: %w", err)
	}

	prefix := rb.options.KeyPrefix

	// Status may have changed since the last save; drop the id from all
	// other status sets in the same transaction.
	p := rb.rdb.TxPipeline()
	p.Set(ctx, workflowKey(prefix, workflow.ID), data, 0)
	p.ZAdd(ctx, workflowsByCreation(prefix), redis.Z{
		Score:  float64(workflow.CreatedAt.UnixMilli()),
		Member: workflow.ID,
	})

	for _, status := range allStatuses {
		if status == workflow.Status {
			p.SAdd(ctx, workflowsByStatus(prefix, string(status)), workflow.ID)
		} else {
			p.SRem(ctx, workflowsByStatus(prefix, string(status)), workflow.ID)
		}
	}

	if workflow.CreatedBy != "" {
		p.SAdd(ctx, workflowsByCreator(prefix, workflow.CreatedBy), workflow.ID)
	}

	if _, err := p.Exec(ctx); err != nil {
		return fmt.Errorf("saving workflow: %w", err)
	}

	return nil
}

func (rb *redisBackend) GetWorkflow(ctx context.Context, id string) (*core.Workflow, error) {
	data, err := rb.rdb.Get(ctx, workflowKey(rb.options.KeyPrefix, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, backend.ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting workflow: %w", err)
	}

	return core.DeserializeWorkflow(data)
}

func (rb *redisBackend) ListWorkflows(ctx context.Context, options backend.ListOptions) ([]*core.Workflow, error) {
	prefix := rb.options.KeyPrefix

	// Newest first
	ids, err := rb.rdb.ZRevRange(ctx, workflowsByCreation(prefix), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}

	var statusFilter, creatorFilter map[string]bool

	if options.Status != "" {
		statusFilter, err = rb.memberSet(ctx, workflowsByStatus(prefix, string(options.Status)))
		if err != nil {
			return nil, err
		}
	}

	if options.CreatedBy != "" {
		creatorFilter, err = rb.memberSet(ctx, workflowsByCreator(prefix, options.CreatedBy))
		if err != nil {
			return nil, err
		}
	}

	limit := options.Limit
	if limit <= 0 {
		limit = backend.DefaultListLimit
	}

	var selected []string
	skipped := 0
	for _, id := range ids {
		if statusFilter != nil && !statusFilter[id] {
			continue
		}
		if creatorFilter != nil && !creatorFilter[id] {
			continue
		}

		if skipped < options.Offset {
			skipped++
			continue
		}

		selected = append(selected, id)
		if len(selected) == limit {
			break
		}
	}

	return rb.getWorkflows(ctx, selected)
}

func (rb *redisBackend) DeleteWorkflow(ctx context.Context, id string) (bool, error) {
	prefix := rb.options.KeyPrefix

	workflow, err := rb.GetWorkflow(ctx, id)
	if errors.Is(err, backend.ErrWorkflowNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	p := rb.rdb.TxPipeline()
	p.Del(ctx, workflowKey(prefix, id))
	p.ZRem(ctx, workflowsByCreation(prefix), id)
	for _, status := range allStatuses {
		p.SRem(ctx, workflowsByStatus(prefix, string(status)), id)
	}
	if workflow.CreatedBy != "" {
		p.SRem(ctx, workflowsByCreator(prefix, workflow.CreatedBy), id)
	}

	if _, err := p.Exec(ctx); err != nil {
		return false, fmt.Errorf("deleting workflow: %w", err)
	}

	return true, nil
}

func (rb *redisBackend) ActiveWorkflows(ctx context.Context) ([]*core.Workflow, error) {
	prefix := rb.options.KeyPrefix

	ids, err := rb.rdb.SUnion(ctx,
		workflowsByStatus(prefix, string(core.WorkflowStatusRunning)),
		workflowsByStatus(prefix, string(core.WorkflowStatusPaused)),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("getting active workflows: %w", err)
	}

	return rb.getWorkflows(ctx, ids)
}

func (rb *redisBackend) Stats(ctx context.Context) (*backend.Stats, error) {
	prefix := rb.options.KeyPrefix

	s := &backend.Stats{
		ByStatus: map[string]int64{},
	}

	for _, status := range allStatuses {
		count, err := rb.rdb.SCard(ctx, workflowsByStatus(prefix, string(status))).Result()
		if err != nil {
			return nil, fmt.Errorf("counting workflows: %w", err)
		}

		if count > 0 {
			s.ByStatus[string(status)] = count
		}
		s.TotalWorkflows += count
	}

	completedIDs, err := rb.rdb.SMembers(ctx, workflowsByStatus(prefix, string(core.WorkflowStatusCompleted))).Result()
	if err != nil {
		return nil, err
	}

	if len(completedIDs) > 0 {
		completed, err := rb.getWorkflows(ctx, completedIDs)
		if err != nil {
			return nil, err
		}

		var total time.Duration
		for _, w := range completed {
			total += w.ExecutionTime
		}
		s.AvgExecutionTime = total / time.Duration(len(completed))
	}

	return s, nil
}

func (rb *redisBackend) memberSet(ctx context.Context, key string) (map[string]bool, error) {
	members, err := rb.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("reading index set: %w", err)
	}

	set := make(map[string]bool, len(members))
	for _, m := range members {
		set[m] = true
	}

	return set, nil
}

func (rb *redisBackend) getWorkflows(ctx context.Context, ids []string) ([]*core.Workflow, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = workflowKey(rb.options.KeyPrefix, id)
	}

	docs, err := rb.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("getting workflows: %w", err)
	}

	var workflows []*core.Workflow
	for _, doc := range docs {
		// index sets can briefly reference deleted documents
		if doc == nil {
			continue
		}

		data, ok := doc.(string)
		if !ok {
			continue
		}

		w, err := core.DeserializeWorkflow([]byte(data))
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, w)
	}

	return workflows, nil
}
