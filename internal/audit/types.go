// Package audit holds the scan job model, the summary record persisted for
// each job, and the collaborator interfaces the worker is built against.
package audit

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf16"
)

// JobStatus enumerates lifecycle states for scan jobs.
type JobStatus string

// Supported job statuses.
const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next follows
// pending -> running -> {done, failed}.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning
	case JobStatusRunning:
		return next.Terminal()
	default:
		return false
	}
}

// Job is one requested audit of a URL.
type Job struct {
	ID          string
	URL         string
	WorkspaceID string
	Status      JobStatus
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	// Summary is set for done jobs, Failure for failed ones. Never both.
	Summary     *Summary
	Failure     *Failure
	ArtifactURL *string
}

// ArtifactPath returns the deterministic storage key for the job's report.
func (j Job) ArtifactPath() string {
	return fmt.Sprintf("%s/%s.pdf", j.WorkspaceID, j.ID)
}

// Finalization is the terminal write applied to a leased job.
type Finalization struct {
	JobID       string
	Status      JobStatus
	FinishedAt  time.Time
	Summary     *Summary
	Failure     *Failure
	ArtifactURL *string
}

// Scores holds Lighthouse category scores on a 0-100 scale.
type Scores struct {
	Performance   int `json:"performance"`
	SEO           int `json:"seo"`
	BestPractices int `json:"bestPractices"`
	Accessibility int `json:"accessibility"`
}

// Security header names inspected on the document response.
const (
	HeaderContentSecurityPolicy   = "content-security-policy"
	HeaderStrictTransportSecurity = "strict-transport-security"
	HeaderXFrameOptions           = "x-frame-options"
	HeaderXContentTypeOptions     = "x-content-type-options"
)

// SecurityHeaderNames lists the inspected headers in report order.
var SecurityHeaderNames = []string{
	HeaderContentSecurityPolicy,
	HeaderStrictTransportSecurity,
	HeaderXFrameOptions,
	HeaderXContentTypeOptions,
}

// SecurityHeaders carries the four inspected headers. A nil value means the
// response did not set the header and serializes as JSON null.
type SecurityHeaders struct {
	ContentSecurityPolicy   *string `json:"content-security-policy"`
	StrictTransportSecurity *string `json:"strict-transport-security"`
	XFrameOptions           *string `json:"x-frame-options"`
	XContentTypeOptions     *string `json:"x-content-type-options"`
}

// HeaderEntry is one row of the header table.
type HeaderEntry struct {
	Name  string
	Value *string
}

// Entries returns the headers in SecurityHeaderNames order.
func (h SecurityHeaders) Entries() []HeaderEntry {
	return []HeaderEntry{
		{Name: HeaderContentSecurityPolicy, Value: h.ContentSecurityPolicy},
		{Name: HeaderStrictTransportSecurity, Value: h.StrictTransportSecurity},
		{Name: HeaderXFrameOptions, Value: h.XFrameOptions},
		{Name: HeaderXContentTypeOptions, Value: h.XContentTypeOptions},
	}
}

// TextStat is a piece of page text and its length.
type TextStat struct {
	Text   string `json:"text"`
	Length int    `json:"length"`
}

// OptionalTextStat is TextStat for text that may be absent.
type OptionalTextStat struct {
	Text   *string `json:"text"`
	Length int     `json:"length"`
}

// H1Tags lists the page's h1 texts in document order.
type H1Tags struct {
	Count int      `json:"count"`
	Tags  []string `json:"tags"`
}

// SeoFacts are the on-page SEO observations.
type SeoFacts struct {
	Title           TextStat         `json:"title"`
	MetaDescription OptionalTextStat `json:"metaDescription"`
	H1Tags          H1Tags           `json:"h1Tags"`
}

// BrokenLink is a same-origin link whose probe failed.
type BrokenLink struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
}

// BrokenLinks aggregates failed probes.
type BrokenLinks struct {
	Count int          `json:"count"`
	Links []BrokenLink `json:"links"`
}

// Summary is the aggregated result of all checks for a job.
type Summary struct {
	Scores      Scores          `json:"scores"`
	Headers     SecurityHeaders `json:"headers"`
	Seo         SeoFacts        `json:"seo"`
	TechStack   []string        `json:"techStack"`
	BrokenLinks BrokenLinks     `json:"brokenLinks"`
}

// Failure is persisted in place of a Summary when a job fails.
type Failure struct {
	Error string `json:"error"`
}

// TextLength counts UTF-16 code units, which is how browsers report string
// length.
func TextLength(s string) int {
	return len(utf16.Encode([]rune(s)))
}

// ParseTargetURL validates a job URL as absolute http or https.
func ParseTargetURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

// Origin returns the serialized origin of u: lowercase scheme and host,
// with the scheme's default port omitted.
func Origin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	port := u.Port()
	if port == "" || (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		return scheme + "://" + host
	}
	return scheme + "://" + host + ":" + port
}
