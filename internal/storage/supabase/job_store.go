// Package supabase stores scan jobs and report artifacts in a Supabase
// project through its REST and Storage APIs.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"

	"github.com/lalchand07/Auditly/internal/audit"
)

const defaultTable = "scan_jobs"

// Config locates the Supabase project.
type Config struct {
	URL        string
	ServiceKey string
	Schema     string
	Table      string
	Bucket     string
}

func (c Config) validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("supabase.url is required")
	}
	if strings.TrimSpace(c.ServiceKey) == "" {
		return fmt.Errorf("supabase.service_key is required")
	}
	return nil
}

func (c Config) endpoint(suffix string) string {
	return strings.TrimRight(c.URL, "/") + suffix
}

func (c Config) headers() map[string]string {
	return map[string]string{
		"apikey":        c.ServiceKey,
		"Authorization": "Bearer " + c.ServiceKey,
	}
}

// jobRow mirrors the scan_jobs columns the worker reads.
type jobRow struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	WorkspaceID string    `json:"workspace_id"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// JobStore implements audit.JobStore over PostgREST.
type JobStore struct {
	client *postgrest.Client
	table  string
}

var _ audit.JobStore = (*JobStore)(nil)

// NewJobStore builds a PostgREST client for cfg.
func NewJobStore(cfg Config) (*JobStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	client := postgrest.NewClient(cfg.endpoint("/rest/v1"), cfg.Schema, cfg.headers())
	if client.ClientError != nil {
		return nil, fmt.Errorf("create postgrest client: %w", client.ClientError)
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	return &JobStore{client: client, table: table}, nil
}

// FetchOldestPending selects one pending row ordered by created_at.
func (s *JobStore) FetchOldestPending(ctx context.Context) (audit.Job, error) {
	if err := ctx.Err(); err != nil {
		return audit.Job{}, err
	}
	var rows []jobRow
	_, err := s.client.From(s.table).
		Select("id,url,workspace_id,status,created_at", "", false).
		Eq("status", string(audit.JobStatusPending)).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return audit.Job{}, fmt.Errorf("select pending job: %w", err)
	}
	if len(rows) == 0 {
		return audit.Job{}, audit.ErrNoPendingJob
	}
	r := rows[0]
	return audit.Job{
		ID:          r.ID,
		URL:         r.URL,
		WorkspaceID: r.WorkspaceID,
		Status:      audit.JobStatus(r.Status),
		CreatedAt:   r.CreatedAt,
	}, nil
}

// TryLease PATCHes the row filtered on both id and status=pending and asks
// for the updated representation; an empty result means another worker won.
func (s *JobStore) TryLease(ctx context.Context, jobID string, startedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var rows []jobRow
	_, err := s.client.From(s.table).
		Update(map[string]any{
			"status":     string(audit.JobStatusRunning),
			"started_at": startedAt.UTC().Format(time.RFC3339Nano),
		}, "representation", "").
		Eq("id", jobID).
		Eq("status", string(audit.JobStatusPending)).
		ExecuteTo(&rows)
	if err != nil {
		return false, fmt.Errorf("lease job %s: %w", jobID, err)
	}
	return len(rows) == 1, nil
}

// Finalize writes the terminal columns for a running job.
func (s *JobStore) Finalize(ctx context.Context, fin audit.Finalization) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := audit.EncodeResult(fin.Status, fin.Summary, fin.Failure)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	update := map[string]any{
		"status":       string(fin.Status),
		"finished_at":  fin.FinishedAt.UTC().Format(time.RFC3339Nano),
		"summary_json": json.RawMessage(payload),
		"pdf_url":      fin.ArtifactURL,
	}
	var rows []jobRow
	_, err = s.client.From(s.table).
		Update(update, "representation", "").
		Eq("id", fin.JobID).
		Eq("status", string(audit.JobStatusRunning)).
		ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("finalize job %s: %w", fin.JobID, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("finalize job %s: %w", fin.JobID, audit.ErrJobNotRunning)
	}
	return nil
}
