package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lalchand07/Auditly/internal/audit"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]audit.Job
}

var _ audit.JobStore = (*JobStore)(nil)

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]audit.Job)}
}

// Seed inserts a pending job. Missing status and creation time are filled in.
func (s *JobStore) Seed(job audit.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if job.Status == "" {
		job.Status = audit.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	s.jobs[job.ID] = job
	return nil
}

// Get returns a copy of the job.
func (s *JobStore) Get(jobID string) (audit.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	return job, ok
}

// FetchOldestPending returns the pending job with the earliest CreatedAt.
// Ties are broken by ID so the choice is stable.
func (s *JobStore) FetchOldestPending(ctx context.Context) (audit.Job, error) {
	if err := ctx.Err(); err != nil {
		return audit.Job{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	pending := make([]audit.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if job.Status == audit.JobStatusPending {
			pending = append(pending, job)
		}
	}
	if len(pending) == 0 {
		return audit.Job{}, audit.ErrNoPendingJob
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending[0], nil
}

// TryLease moves the job to running if it is still pending.
func (s *JobStore) TryLease(ctx context.Context, jobID string, startedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != audit.JobStatusPending {
		return false, nil
	}
	job.Status = audit.JobStatusRunning
	job.StartedAt = pointerTime(startedAt)
	s.jobs[jobID] = job
	return true, nil
}

// Finalize writes the terminal state of a running job.
func (s *JobStore) Finalize(ctx context.Context, fin audit.Finalization) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !fin.Status.Terminal() {
		return fmt.Errorf("finalize with non-terminal status %q", fin.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[fin.JobID]
	if !ok || !job.Status.CanTransition(fin.Status) {
		return fmt.Errorf("finalize job %s: %w", fin.JobID, audit.ErrJobNotRunning)
	}
	job.Status = fin.Status
	job.FinishedAt = pointerTime(fin.FinishedAt)
	job.Summary = nil
	job.Failure = nil
	job.ArtifactURL = nil
	if fin.Summary != nil {
		summary := *fin.Summary
		job.Summary = &summary
	}
	if fin.Failure != nil {
		failure := *fin.Failure
		job.Failure = &failure
	}
	if fin.ArtifactURL != nil {
		job.ArtifactURL = pointerString(*fin.ArtifactURL)
	}
	s.jobs[fin.JobID] = job
	return nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func pointerString(v string) *string {
	return &v
}
