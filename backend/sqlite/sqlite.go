package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/stepflow-dev/stepflow/backend"
	"github.com/stepflow-dev/stepflow/core"
	"github.com/stepflow-dev/stepflow/internal/metrickeys"
	"github.com/stepflow-dev/stepflow/metrics"
)

//go:embed db/migrations/*.sql
var migrationsFS embed.FS

// NewInMemoryBackend creates a sqlite backend backed by an in-memory
// database. Mainly useful for tests.
func NewInMemoryBackend(opts ...backend.BackendOption) *sqliteBackend {
	b, err := newSqliteBackend("file::memory:", opts...)
	if err != nil {
		panic(err)
	}

	b.db.SetMaxOpenConns(1)

	return b
}

// NewSqliteBackend creates a sqlite backend storing workflows in the file at
// the given path, applying any pending schema migrations.
func NewSqliteBackend(path string, opts ...backend.BackendOption) (*sqliteBackend, error) {
	return newSqliteBackend(fmt.Sprintf("file:%v?_pragma=busy_timeout(5000)", path), opts...)
}

func newSqliteBackend(dsn string, opts ...backend.BackendOption) (*sqliteBackend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	b := &sqliteBackend{
		db:      db,
		options: backend.ApplyOptions(opts...),
	}

	if err := b.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return b, nil
}

type sqliteBackend struct {
	db      *sql.DB
	options backend.Options
}

var _ backend.Backend = (*sqliteBackend)(nil)

func (sb *sqliteBackend) migrate() error {
	dbi, err := msqlite.WithInstance(sb.db, &msqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	migrations, err := iofs.New(migrationsFS, "db/migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrations, "sqlite", dbi)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	return nil
}

func (sb *sqliteBackend) Metrics() metrics.Client {
	return sb.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "sqlite"})
}

func (sb *sqliteBackend) Tracer() trace.Tracer {
	return sb.options.TracerProvider.Tracer(backend.TracerName)
}

func (sb *sqliteBackend) Close() error {
	return sb.db.Close()
}

func (sb *sqliteBackend) SaveWorkflow(ctx context.Context, workflow *core.Workflow) error {
	t := metrics.Timer(sb.Metrics(), metrickeys.WorkflowSaved, metrics.Tags{})
	defer t.Stop()

	data, err := workflow.Serialize()
	if err != nil {
		return fmt.Errorf("serializing workflow: %w", err)
	}

	var executionTime *int64
	if workflow.ExecutionTime > 0 {
		ms := workflow.ExecutionTime.Milliseconds()
		executionTime = &ms
	}

	_, err = sb.db.ExecContext(
		ctx,
		`INSERT INTO workflows (id, name, status, created_by, created_at, execution_time_ms, data)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				status = excluded.status,
				created_by = excluded.created_by,
				execution_time_ms = excluded.execution_time_ms,
				data = excluded.data`,
		workflow.ID,
		workflow.Name,
		string(workflow.Status),
		workflow.CreatedBy,
		workflow.CreatedAt,
		executionTime,
		data,
	)
	if err != nil {
		return fmt.Errorf("saving workflow: %w", err)
	}

	return nil
}

func (sb *sqliteBackend) GetWorkflow(ctx context.Context, id string) (*core.Workflow, error) {
	var data []byte

	err := sb.db.QueryRowContext(ctx, "SELECT data FROM workflows WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, backend.ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting workflow: %w", err)
	}

	return core.DeserializeWorkflow(data)
}

func (sb *sqliteBackend) ListWorkflows(ctx context.Context, options backend.ListOptions) ([]*core.Workflow, error) {
	query := "SELECT data FROM workflows WHERE 1 = 1"
	var args []any

	if options.Status != "" {
		query += " AND status = ?"
		args = append(args, string(options.Status))
	}

	if options.CreatedBy != "" {
		query += " AND created_by = ?"
		args = append(args, options.CreatedBy)
	}

	query += " ORDER BY created_at DESC"

	limit := options.Limit
	if limit <= 0 {
		limit = backend.DefaultListLimit
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, options.Offset)

	rows, err := sb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	defer rows.Close()

	return scanWorkflows(rows)
}

func (sb *sqliteBackend) DeleteWorkflow(ctx context.Context, id string) (bool, error) {
	res, err := sb.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("deleting workflow: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

func (sb *sqliteBackend) ActiveWorkflows(ctx context.Context) ([]*core.Workflow, error) {
	rows, err := sb.db.QueryContext(
		ctx, "SELECT data FROM workflows WHERE status IN (?, ?)",
		string(core.WorkflowStatusRunning), string(core.WorkflowStatusPaused))
	if err != nil {
		return nil, fmt.Errorf("getting active workflows: %w", err)
	}
	defer rows.Close()

	return scanWorkflows(rows)
}

func (sb *sqliteBackend) Stats(ctx context.Context) (*backend.Stats, error) {
	s := &backend.Stats{
		ByStatus: map[string]int64{},
	}

	rows, err := sb.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM workflows GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("counting workflows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}

		s.ByStatus[status] = count
		s.TotalWorkflows += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var avgMs sql.NullFloat64
	err = sb.db.QueryRowContext(
		ctx, "SELECT AVG(execution_time_ms) FROM workflows WHERE status = ?",
		string(core.WorkflowStatusCompleted)).Scan(&avgMs)
	if err != nil {
		return nil, fmt.Errorf("averaging execution time: %w", err)
	}

	if avgMs.Valid {
		s.AvgExecutionTime = time.Duration(avgMs.Float64 * float64(time.Millisecond))
	}

	return s, nil
}

func scanWorkflows(rows *sql.Rows) ([]*core.Workflow, error) {
	var workflows []*core.Workflow

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}

		w, err := core.DeserializeWorkflow(data)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, w)
	}

	return workflows, rows.Err()
}
