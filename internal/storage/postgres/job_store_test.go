package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/lalchand07/Auditly/internal/audit"
)

// jsonArg matches a []byte argument carrying the given JSON object keys.
type jsonArg struct {
	keys []string
}

func (j jsonArg) Match(v any) bool {
	raw, ok := v.([]byte)
	if !ok {
		return false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}
	if len(obj) != len(j.keys) {
		return false
	}
	for _, k := range j.keys {
		if _, ok := obj[k]; !ok {
			return false
		}
	}
	return true
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *JobStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewJobStoreWithPool(mock, "")
	require.NoError(t, err)
	return mock, store
}

func TestFetchOldestPending(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	created := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("FROM scan_jobs").
		WithArgs("pending").
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "workspace_id", "status", "created_at"}).
			AddRow("job-1", "https://example.com", "ws-1", "pending", created))

	job, err := store.FetchOldestPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, audit.Job{
		ID:          "job-1",
		URL:         "https://example.com",
		WorkspaceID: "ws-1",
		Status:      audit.JobStatusPending,
		CreatedAt:   created,
	}, job)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchOldestPendingEmpty(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery("FROM scan_jobs").WithArgs("pending").WillReturnError(pgx.ErrNoRows)

	_, err := store.FetchOldestPending(context.Background())
	require.ErrorIs(t, err, audit.ErrNoPendingJob)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchOldestPendingStoreError(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery("FROM scan_jobs").WithArgs("pending").WillReturnError(errors.New("connection refused"))

	_, err := store.FetchOldestPending(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, audit.ErrNoPendingJob)
}

func TestTryLease(t *testing.T) {
	t.Parallel()

	started := time.Unix(1700000100, 0).UTC()
	cases := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "won", affected: 1, want: true},
		{name: "lost", affected: 0, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			mock, store := newMockStore(t)
			mock.ExpectExec(`UPDATE scan_jobs\s+SET status = \$1, started_at = \$2\s+WHERE id = \$3 AND status = \$4`).
				WithArgs("running", started, "job-1", "pending").
				WillReturnResult(pgxmock.NewResult("UPDATE", tc.affected))

			ok, err := store.TryLease(context.Background(), "job-1", started)
			require.NoError(t, err)
			require.Equal(t, tc.want, ok)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestFinalizeDone(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	finished := time.Unix(1700000200, 0).UTC()
	artifact := "https://cdn.example/ws-1/job-1.pdf"

	mock.ExpectExec("UPDATE scan_jobs").
		WithArgs("done", finished,
			jsonArg{keys: []string{"scores", "headers", "seo", "techStack", "brokenLinks"}},
			&artifact, "job-1", "running").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.Finalize(context.Background(), audit.Finalization{
		JobID:       "job-1",
		Status:      audit.JobStatusDone,
		FinishedAt:  finished,
		Summary:     &audit.Summary{},
		ArtifactURL: &artifact,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeFailed(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	finished := time.Unix(1700000200, 0).UTC()

	mock.ExpectExec("UPDATE scan_jobs").
		WithArgs("failed", finished, []byte(`{"error":"headers check failed: boom"}`), (*string)(nil), "job-1", "running").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.Finalize(context.Background(), audit.Finalization{
		JobID:      "job-1",
		Status:     audit.JobStatusFailed,
		FinishedAt: finished,
		Failure:    &audit.Failure{Error: "headers check failed: boom"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeNotRunning(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectExec("UPDATE scan_jobs").
		WithArgs("failed", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "job-1", "running").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.Finalize(context.Background(), audit.Finalization{
		JobID:      "job-1",
		Status:     audit.JobStatusFailed,
		FinishedAt: time.Now(),
		Failure:    &audit.Failure{Error: "x"},
	})
	require.ErrorIs(t, err, audit.ErrJobNotRunning)
}

func TestFinalizeRejectsInconsistentResult(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	err := store.Finalize(context.Background(), audit.Finalization{
		JobID:  "job-1",
		Status: audit.JobStatusDone,
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewJobStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewJobStore(context.Background(), JobStoreConfig{})
	require.Error(t, err)

	_, err = NewJobStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewJobStoreWithPool(mock, "scan_jobs; DROP TABLE x")
	require.Error(t, err)
}
