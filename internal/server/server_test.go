package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalchand07/Auditly/internal/audit"
	"github.com/lalchand07/Auditly/internal/config"
	"github.com/lalchand07/Auditly/internal/metrics"
	memorypublisher "github.com/lalchand07/Auditly/internal/publisher/memory"
	memorystorage "github.com/lalchand07/Auditly/internal/storage/memory"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	cfg.Report.Engine = "native"
	return cfg
}

func TestOpsHandler(t *testing.T) {
	t.Parallel()
	metrics.Init()

	var ready error
	h := NewOpsHandler(func(context.Context) error { return ready }, zap.NewNop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	ready = errors.New("worker is not polling")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "worker is not polling")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "auditly_active_jobs")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestBuildWithMemoryBackends(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Progress.Enabled = true
	app, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	require.NotNil(t, app.poller)
	require.Error(t, app.Ready(context.Background()))

	processed, err := app.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
	require.NoError(t, app.Close(context.Background()))
	require.NoError(t, app.Close(context.Background()))
}

func TestBuildRejectsUnknownBackends(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*config.Config){
		"jobs":      func(c *config.Config) { c.Jobs.Backend = "mysql" },
		"artifacts": func(c *config.Config) { c.Artifacts.Backend = "s3" },
		"pipeline":  func(c *config.Config) { c.Pipeline.Engine = "selenium" },
		"report":    func(c *config.Config) { c.Report.Engine = "latex" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t)
			mutate(&cfg)
			_, err := Build(context.Background(), cfg,
				WithLogger(zap.NewNop()),
				WithRegisterer(prometheus.NewRegistry()),
			)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "unsupported")
		})
	}
}

func TestBuildUsesInjectedStores(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Jobs.Backend = "postgres" // ignored: a store is injected
	jobs := memorystorage.NewJobStore()
	require.NoError(t, jobs.Seed(audit.Job{
		ID:          "job-1",
		URL:         "ftp://example.com",
		WorkspaceID: "ws-1",
		Status:      audit.JobStatusPending,
		CreatedAt:   time.Now().UTC(),
	}))
	blobs := memorystorage.NewBlobStore("")
	pub := memorypublisher.New()

	app, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
		WithJobStore(jobs),
		WithArtifactStore(blobs),
		WithPublisher(pub),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	processed, err := app.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	job, ok := jobs.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, audit.JobStatusFailed, job.Status)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, defaultTopic, msgs[0].Topic)
}

func TestRunOnceExits(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Worker.Once = true
	app, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Run(ctx))
	require.Error(t, app.Ready(ctx))
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Worker.PollInterval = 10 * time.Millisecond
	app, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return app.Ready(ctx) == nil }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
