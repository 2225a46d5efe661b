package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalchand07/Auditly/internal/audit"
	"github.com/lalchand07/Auditly/internal/audit/audittest"
	"github.com/lalchand07/Auditly/internal/checks"
	"github.com/lalchand07/Auditly/internal/progress"
)

type stubScores struct {
	scores audit.Scores
	err    error
	block  bool
	calls  int
}

func (s *stubScores) Scores(ctx context.Context, _ string) (audit.Scores, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return audit.Scores{}, ctx.Err()
	}
	return s.scores, s.err
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, string(evt.Stage)+":"+evt.Check)
	}
	return out
}

func strPtr(s string) *string { return &s }

func healthySession() *audittest.Session {
	evals := map[string]any{"document.title": "Example Domain"}
	for _, m := range checks.DefaultMarkers {
		evals[m.Script] = m.Label == "Next.js"
	}
	headers := http.Header{}
	headers.Set("Strict-Transport-Security", "max-age=63072000")
	return &audittest.Session{
		Response: audit.Response{Status: http.StatusOK, Headers: headers},
		Texts:    map[string][]string{"h1": {"Welcome"}},
		Attrs:    map[string]*string{`meta[name="description"]`: strPtr("An example")},
		AttrAll:  map[string][]string{"a[href]": {"/a", "https://other.com/b", "/c"}},
		Evals:    evals,
		Probes:   map[string]int{"https://example.com/c": http.StatusNotFound},
	}
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func testJob() audit.Job {
	return audit.Job{ID: "job-1", URL: "https://example.com", WorkspaceID: "ws-1", Status: audit.JobStatusRunning}
}

func TestPipelineRunAggregatesSummary(t *testing.T) {
	t.Parallel()

	sess := healthySession()
	factory := &audittest.Factory{Session: sess}
	scores := &stubScores{scores: audit.Scores{Performance: 91, SEO: 100, BestPractices: 78, Accessibility: 0}}
	emitter := &recordingEmitter{}

	p, err := New(Config{LinkConcurrency: 2}, factory, scores, WithEmitter(emitter))
	require.NoError(t, err)

	summary, err := p.Run(context.Background(), testJob(), mustURL(t, "https://example.com"))
	require.NoError(t, err)

	assert.Equal(t, scores.scores, summary.Scores)
	require.NotNil(t, summary.Headers.StrictTransportSecurity)
	assert.Equal(t, "max-age=63072000", *summary.Headers.StrictTransportSecurity)
	assert.Nil(t, summary.Headers.ContentSecurityPolicy)
	assert.Equal(t, "Example Domain", summary.Seo.Title.Text)
	assert.Equal(t, 14, summary.Seo.Title.Length)
	assert.Equal(t, 1, summary.Seo.H1Tags.Count)
	assert.Equal(t, []string{"Next.js"}, summary.TechStack)
	assert.Equal(t, audit.BrokenLinks{
		Count: 1,
		Links: []audit.BrokenLink{{URL: "https://example.com/c", Status: http.StatusNotFound}},
	}, summary.BrokenLinks)

	assert.Equal(t, []string{"https://example.com"}, sess.Visited())
	assert.Equal(t, 1, factory.Opened())
	assert.Equal(t, 1, sess.Closed())

	assert.Equal(t, []string{
		"CHECK_START:score", "CHECK_DONE:score",
		"CHECK_START:headers", "CHECK_DONE:headers",
		"CHECK_START:seo", "CHECK_DONE:seo",
		"CHECK_START:techstack", "CHECK_DONE:techstack",
		"CHECK_START:brokenlinks", "CHECK_DONE:brokenlinks",
	}, emitter.stages())
}

func TestPipelineAbortsOnFirstFailure(t *testing.T) {
	t.Parallel()

	sess := healthySession()
	sess.NavigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	emitter := &recordingEmitter{}

	p, err := New(Config{}, &audittest.Factory{Session: sess}, &stubScores{}, WithEmitter(emitter))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), testJob(), mustURL(t, "https://example.com"))
	require.Error(t, err)

	var checkErr *audit.CheckError
	require.ErrorAs(t, err, &checkErr)
	assert.Equal(t, checks.NameHeaders, checkErr.Check)
	assert.Contains(t, err.Error(), "ERR_NAME_NOT_RESOLVED")

	assert.Empty(t, sess.Probed(), "later checks must not run")
	assert.Equal(t, 1, sess.Closed())
	assert.Equal(t, []string{
		"CHECK_START:score", "CHECK_DONE:score",
		"CHECK_START:headers", "CHECK_ERROR:headers",
	}, emitter.stages())
}

func TestPipelineScoreFailureSkipsNavigation(t *testing.T) {
	t.Parallel()

	sess := healthySession()
	p, err := New(Config{}, &audittest.Factory{Session: sess}, &stubScores{err: errors.New("lighthouse exited 1")})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), testJob(), mustURL(t, "https://example.com"))

	var checkErr *audit.CheckError
	require.ErrorAs(t, err, &checkErr)
	assert.Equal(t, checks.NameScore, checkErr.Check)
	assert.Empty(t, sess.Visited())
	assert.Equal(t, 1, sess.Closed())
}

func TestPipelineCheckTimeout(t *testing.T) {
	t.Parallel()

	sess := healthySession()
	p, err := New(Config{CheckTimeout: 20 * time.Millisecond}, &audittest.Factory{Session: sess}, &stubScores{block: true})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), testJob(), mustURL(t, "https://example.com"))

	var checkErr *audit.CheckError
	require.ErrorAs(t, err, &checkErr)
	assert.Equal(t, checks.NameScore, checkErr.Check)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, sess.Closed())
}

func TestPipelineOpenFailure(t *testing.T) {
	t.Parallel()

	scores := &stubScores{}
	p, err := New(Config{}, &audittest.Factory{Err: errors.New("chrome not found")}, scores)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), testJob(), mustURL(t, "https://example.com"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open session")
	assert.Zero(t, scores.calls)
}

func TestPipelineCanceledContext(t *testing.T) {
	t.Parallel()

	sess := healthySession()
	scores := &stubScores{}
	p, err := New(Config{}, &audittest.Factory{Session: sess}, scores)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Run(ctx, testJob(), mustURL(t, "https://example.com"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, scores.calls)
	assert.Equal(t, 1, sess.Closed())
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, &stubScores{})
	require.Error(t, err)
	_, err = New(Config{}, &audittest.Factory{}, nil)
	require.Error(t, err)

	p, err := New(Config{}, &audittest.Factory{}, &stubScores{})
	require.NoError(t, err)
	assert.Equal(t, defaultCheckTimeout, p.cfg.CheckTimeout)
}
