// Package postgres provides the Postgres-backed scan job store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lalchand07/Auditly/internal/audit"
)

const defaultTable = "scan_jobs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// JobStoreConfig controls the Postgres connection pool used for scan jobs.
type JobStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// JobStore reads and mutates rows of the scan job table.
type JobStore struct {
	pool  querier
	table string
}

var _ audit.JobStore = (*JobStore)(nil)

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &JobStore{pool: pool, table: table}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool querier, table string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// FetchOldestPending returns the pending row with the earliest created_at.
func (s *JobStore) FetchOldestPending(ctx context.Context) (audit.Job, error) {
	query := fmt.Sprintf(`
SELECT id::text, url, workspace_id::text, status, created_at
FROM %s
WHERE status = $1
ORDER BY created_at ASC
LIMIT 1`, s.table)

	var (
		job    audit.Job
		status string
	)
	err := s.pool.QueryRow(ctx, query, string(audit.JobStatusPending)).
		Scan(&job.ID, &job.URL, &job.WorkspaceID, &status, &job.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return audit.Job{}, audit.ErrNoPendingJob
	}
	if err != nil {
		return audit.Job{}, fmt.Errorf("select pending job: %w", err)
	}
	job.Status = audit.JobStatus(status)
	return job, nil
}

// TryLease flips pending to running in one conditional UPDATE. Exactly one
// concurrent caller observes a modified row.
func (s *JobStore) TryLease(ctx context.Context, jobID string, startedAt time.Time) (bool, error) {
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, started_at = $2
WHERE id = $3 AND status = $4`, s.table)

	tag, err := s.pool.Exec(ctx, query,
		string(audit.JobStatusRunning),
		startedAt,
		jobID,
		string(audit.JobStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("lease job %s: %w", jobID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Finalize writes status, finished_at, summary_json and pdf_url for a
// running job.
func (s *JobStore) Finalize(ctx context.Context, fin audit.Finalization) error {
	payload, err := audit.EncodeResult(fin.Status, fin.Summary, fin.Failure)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, finished_at = $2, summary_json = $3, pdf_url = $4
WHERE id = $5 AND status = $6`, s.table)

	tag, err := s.pool.Exec(ctx, query,
		string(fin.Status),
		fin.FinishedAt,
		payload,
		fin.ArtifactURL,
		fin.JobID,
		string(audit.JobStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("finalize job %s: %w", fin.JobID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("finalize job %s: %w", fin.JobID, audit.ErrJobNotRunning)
	}
	return nil
}
