package checks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalchand07/Auditly/internal/audit"
	"github.com/lalchand07/Auditly/internal/audit/audittest"
	"github.com/lalchand07/Auditly/internal/browser"
)

func strPtr(s string) *string { return &s }

func TestHeaderInspectorAlwaysReturnsFourKeys(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		headers http.Header
		want    audit.SecurityHeaders
	}{
		{
			name:    "none set",
			headers: http.Header{"Content-Type": {"text/html"}},
			want:    audit.SecurityHeaders{},
		},
		{
			name: "all set",
			headers: http.Header{
				"Content-Security-Policy":   {"default-src 'self'"},
				"Strict-Transport-Security": {"max-age=63072000"},
				"X-Frame-Options":           {"DENY"},
				"X-Content-Type-Options":    {"nosniff"},
			},
			want: audit.SecurityHeaders{
				ContentSecurityPolicy:   strPtr("default-src 'self'"),
				StrictTransportSecurity: strPtr("max-age=63072000"),
				XFrameOptions:           strPtr("DENY"),
				XContentTypeOptions:     strPtr("nosniff"),
			},
		},
		{
			name: "repeated header joined",
			headers: http.Header{
				"X-Frame-Options": {"DENY", "SAMEORIGIN"},
			},
			want: audit.SecurityHeaders{XFrameOptions: strPtr("DENY, SAMEORIGIN")},
		},
		{
			name:    "empty value is unset",
			headers: http.Header{"X-Content-Type-Options": {""}},
			want:    audit.SecurityHeaders{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sess := &audittest.Session{Response: audit.Response{Headers: tc.headers}}
			got, err := HeaderInspector{}.Run(context.Background(), sess, "https://example.com")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Len(t, got.Entries(), 4)
			assert.Equal(t, []string{"https://example.com"}, sess.Visited())
		})
	}
}

func TestHeaderInspectorNavigationError(t *testing.T) {
	t.Parallel()

	sess := &audittest.Session{NavigateErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	_, err := HeaderInspector{}.Run(context.Background(), sess, "https://nope.invalid")
	require.ErrorContains(t, err, "ERR_NAME_NOT_RESOLVED")
}

func TestSeoInspector(t *testing.T) {
	t.Parallel()

	sess := &audittest.Session{
		Evals: map[string]any{"document.title": "Héllo shop"},
		Attrs: map[string]*string{metaDescriptionSelector: strPtr("Great prices")},
		Texts: map[string][]string{h1Selector: {"Welcome", "Deals"}},
	}
	facts, err := SeoInspector{}.Run(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, audit.TextStat{Text: "Héllo shop", Length: 10}, facts.Title)
	require.NotNil(t, facts.MetaDescription.Text)
	assert.Equal(t, "Great prices", *facts.MetaDescription.Text)
	assert.Equal(t, 12, facts.MetaDescription.Length)
	assert.Equal(t, audit.H1Tags{Count: 2, Tags: []string{"Welcome", "Deals"}}, facts.H1Tags)
}

func TestSeoInspectorAbsentValues(t *testing.T) {
	t.Parallel()

	facts, err := SeoInspector{}.Run(context.Background(), &audittest.Session{})
	require.NoError(t, err)
	assert.Equal(t, audit.TextStat{}, facts.Title)
	assert.Nil(t, facts.MetaDescription.Text)
	assert.Zero(t, facts.MetaDescription.Length)
	assert.Equal(t, audit.H1Tags{Count: 0, Tags: []string{}}, facts.H1Tags)
}

func TestSeoInspectorEmptyDescriptionIsUnset(t *testing.T) {
	t.Parallel()

	sess := &audittest.Session{
		Evals: map[string]any{"document.title": ""},
		Attrs: map[string]*string{metaDescriptionSelector: strPtr("")},
	}
	facts, err := SeoInspector{}.Run(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, audit.OptionalTextStat{}, facts.MetaDescription)
}

func TestSeoInspectorTimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := SeoInspector{}.Run(ctx, &audittest.Session{Block: true})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func techSession(matches ...string) *audittest.Session {
	evals := map[string]any{}
	for _, m := range DefaultMarkers {
		evals[m.Script] = false
	}
	for _, label := range matches {
		for _, m := range DefaultMarkers {
			if m.Label == label {
				evals[m.Script] = true
			}
		}
	}
	return &audittest.Session{Evals: evals}
}

func TestTechStackDetector(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		markers []string
		want    []string
	}{
		{"nothing", nil, []string{}},
		{"react only", []string{"React"}, []string{"React"}},
		{"next suppresses react", []string{"Next.js", "React"}, []string{"Next.js"}},
		{"next alone", []string{"Next.js"}, []string{"Next.js"}},
		{"ordered", []string{"Shopify", "WordPress", "React"}, []string{"React", "WordPress", "Shopify"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := TechStackDetector{}.Run(context.Background(), techSession(tc.markers...))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.False(t, contains(got, "Next.js") && contains(got, "React"))
		})
	}
}

func TestTechStackDetectorDeduplicatesLabels(t *testing.T) {
	t.Parallel()

	markers := []Marker{
		{Label: "Shopify", Script: "a"},
		{Label: "Shopify", Script: "b"},
	}
	sess := &audittest.Session{Evals: map[string]any{"a": true, "b": true}}
	got, err := TechStackDetector{Markers: markers}.Run(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, []string{"Shopify"}, got)
}

func TestTechStackDetectorEvalError(t *testing.T) {
	t.Parallel()

	_, err := TechStackDetector{}.Run(context.Background(), &audittest.Session{EvalErr: errors.New("target closed")})
	require.ErrorContains(t, err, "detect Next.js")
}

func TestSameOriginLinks(t *testing.T) {
	t.Parallel()

	got := SameOriginLinks("https://example.com", []string{"/a", "https://other.com/b", "/c"})
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/c"}, got)

	got = SameOriginLinks("https://example.com", []string{
		"/a",
		"https://EXAMPLE.com/a",
		"https://example.com:443/a",
		" /a ",
		"http://example.com/a",
		"mailto:hi@example.com",
		"javascript:void(0)",
		"http://[::1",
		"https://example.com",
		"/a#top",
	})
	assert.Equal(t, []string{
		"https://example.com/a",
		"https://example.com/",
		"https://example.com/a#top",
	}, got)
}

func TestSameOriginLinksBackslashes(t *testing.T) {
	t.Parallel()

	got := SameOriginLinks("https://example.com/docs/", []string{
		`\d`,
		`\\example.com\e`,
		`https:\\example.com\f?q=a\b`,
		`\\other.com\g`,
		`mailto:a\b@example.com`,
	})
	assert.Equal(t, []string{
		"https://example.com/d",
		"https://example.com/e",
		`https://example.com/f?q=a\b`,
	}, got)
}

func TestBrokenLinkCrawler(t *testing.T) {
	t.Parallel()

	sess := &audittest.Session{
		AttrAll: map[string][]string{"a[href]": {"/a", "https://other.com/b", "/c"}},
		Probes: map[string]int{
			"https://example.com/a": http.StatusOK,
			"https://example.com/c": http.StatusNotFound,
		},
	}
	got, err := BrokenLinkCrawler{Concurrency: 2}.Run(context.Background(), sess, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, audit.BrokenLinks{
		Count: 1,
		Links: []audit.BrokenLink{{URL: "https://example.com/c", Status: http.StatusNotFound}},
	}, got)
	assert.ElementsMatch(t, []string{"https://example.com/a", "https://example.com/c"}, sess.Probed())
}

func TestBrokenLinkCrawlerSentinelAndOrder(t *testing.T) {
	t.Parallel()

	sess := &audittest.Session{
		AttrAll: map[string][]string{"a[href]": {"/z", "/a", "/m", "/ok", "/z"}},
		Probes: map[string]int{
			"https://example.com/z": http.StatusGone,
			"https://example.com/m": http.StatusBadRequest,
		},
		ProbeErrs: map[string]error{"https://example.com/a": errors.New("connection reset")},
	}
	got, err := BrokenLinkCrawler{Concurrency: 3, SentinelStatus: 599}.Run(context.Background(), sess, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Count)
	assert.Equal(t, []audit.BrokenLink{
		{URL: "https://example.com/z", Status: http.StatusGone},
		{URL: "https://example.com/a", Status: 599},
		{URL: "https://example.com/m", Status: http.StatusBadRequest},
	}, got.Links)
	assert.Len(t, sess.Probed(), 4)
	assert.LessOrEqual(t, sess.PeakProbes(), 3)
}

func TestBrokenLinkCrawlerDefaultSentinel(t *testing.T) {
	t.Parallel()

	sess := &audittest.Session{
		AttrAll:   map[string][]string{"a[href]": {"/down"}},
		ProbeErrs: map[string]error{"https://example.com/down": errors.New("dial tcp: timeout")},
	}
	got, err := BrokenLinkCrawler{}.Run(context.Background(), sess, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, []audit.BrokenLink{{URL: "https://example.com/down", Status: DefaultSentinelStatus}}, got.Links)
}

func TestBrokenLinkCrawlerNoLinks(t *testing.T) {
	t.Parallel()

	got, err := BrokenLinkCrawler{}.Run(context.Background(), &audittest.Session{}, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, audit.BrokenLinks{Count: 0, Links: []audit.BrokenLink{}}, got)
}

func TestBrokenLinkCrawlerCanceled(t *testing.T) {
	t.Parallel()

	sess := &audittest.Session{
		AttrAll: map[string][]string{"a[href]": {"/slow"}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := BrokenLinkCrawler{}.Run(ctx, sess, "https://example.com")
	require.ErrorIs(t, err, context.Canceled)
}

// probingSession sends link probes through a real Prober.
type probingSession struct {
	*audittest.Session
	prober *browser.Prober
}

func (s probingSession) ProbeHead(ctx context.Context, url string) (int, error) {
	return s.prober.Head(ctx, url)
}

func TestBrokenLinkCrawlerPacingPastDeadlineFailsCheck(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	limiter := browser.NewHostLimiter(browser.LimiterConfig{RPS: 1, Burst: 1})
	sess := probingSession{
		Session: &audittest.Session{AttrAll: map[string][]string{"a[href]": {"/a", "/b", "/c"}}},
		prober:  browser.NewProber(browser.ProberConfig{Timeout: time.Second}, limiter),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	got, err := BrokenLinkCrawler{Concurrency: 1}.Run(ctx, sess, srv.URL)
	require.ErrorIs(t, err, audit.ErrProbeBudget)
	assert.Empty(t, got.Links)
}

type stubScores struct {
	scores audit.Scores
	err    error
	url    string
}

func (s *stubScores) Scores(_ context.Context, url string) (audit.Scores, error) {
	s.url = url
	return s.scores, s.err
}

func TestScoreCheckDelegates(t *testing.T) {
	t.Parallel()

	runner := &stubScores{scores: audit.Scores{Performance: 88}}
	got, err := ScoreCheck{Runner: runner}.Run(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, 88, got.Performance)
	assert.Equal(t, "https://example.com", runner.url)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
