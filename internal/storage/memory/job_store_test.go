package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lalchand07/Auditly/internal/audit"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := store.Seed(audit.Job{ID: "newer", URL: "https://b.example", CreatedAt: base.Add(time.Minute)}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if err := store.Seed(audit.Job{ID: "older", URL: "https://a.example", CreatedAt: base}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if err := store.Seed(audit.Job{ID: "older"}); err == nil {
		t.Fatal("expected duplicate job error")
	}

	job, err := store.FetchOldestPending(ctx)
	if err != nil {
		t.Fatalf("FetchOldestPending() error = %v", err)
	}
	if job.ID != "older" {
		t.Fatalf("expected oldest job, got %s", job.ID)
	}

	started := base.Add(2 * time.Minute)
	ok, err := store.TryLease(ctx, job.ID, started)
	if err != nil || !ok {
		t.Fatalf("TryLease() = %v, %v", ok, err)
	}
	ok, err = store.TryLease(ctx, job.ID, started)
	if err != nil || ok {
		t.Fatalf("second TryLease() = %v, %v; want false", ok, err)
	}

	next, err := store.FetchOldestPending(ctx)
	if err != nil || next.ID != "newer" {
		t.Fatalf("FetchOldestPending() after lease = %v, %v", next.ID, err)
	}

	artifact := "https://cdn.example/ws/older.pdf"
	err = store.Finalize(ctx, audit.Finalization{
		JobID:       job.ID,
		Status:      audit.JobStatusDone,
		FinishedAt:  started.Add(time.Minute),
		Summary:     &audit.Summary{TechStack: []string{"React"}},
		ArtifactURL: &artifact,
	})
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	final, ok := store.Get(job.ID)
	if !ok {
		t.Fatal("expected job to exist")
	}
	if final.Status != audit.JobStatusDone || final.StartedAt == nil || final.FinishedAt == nil {
		t.Fatalf("expected timestamps set, got %+v", final)
	}
	if final.ArtifactURL == nil || *final.ArtifactURL != artifact || final.Summary == nil {
		t.Fatalf("expected summary and artifact to persist, got %+v", final)
	}

	err = store.Finalize(ctx, audit.Finalization{JobID: job.ID, Status: audit.JobStatusFailed, FinishedAt: started})
	if !errors.Is(err, audit.ErrJobNotRunning) {
		t.Fatalf("expected ErrJobNotRunning for terminal job, got %v", err)
	}
}

func TestJobStoreFetchEmpty(t *testing.T) {
	t.Parallel()

	_, err := NewJobStore().FetchOldestPending(context.Background())
	if !errors.Is(err, audit.ErrNoPendingJob) {
		t.Fatalf("expected ErrNoPendingJob, got %v", err)
	}
}

func TestJobStoreFinalizeRequiresTerminalStatus(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	if err := store.Seed(audit.Job{ID: "j"}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if _, err := store.TryLease(context.Background(), "j", time.Now()); err != nil {
		t.Fatalf("TryLease() error = %v", err)
	}
	err := store.Finalize(context.Background(), audit.Finalization{JobID: "j", Status: audit.JobStatusPending})
	if err == nil {
		t.Fatal("expected error for non-terminal status")
	}
}

func TestJobStoreConcurrentLeaseHasSingleWinner(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	if err := store.Seed(audit.Job{ID: "contended"}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	const workers = 32
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		start   = make(chan struct{})
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := store.TryLease(context.Background(), "contended", time.Now())
			if err != nil {
				t.Errorf("TryLease() error = %v", err)
				return
			}
			if ok {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := winners.Load(); got != 1 {
		t.Fatalf("expected exactly one lease winner, got %d", got)
	}
}
