package audit

import (
	"context"
	"net/http"
	"time"
)

// JobStore persists scan job records.
type JobStore interface {
	// FetchOldestPending returns the oldest pending job or ErrNoPendingJob.
	FetchOldestPending(ctx context.Context) (Job, error)
	// TryLease atomically moves a pending job to running and stamps
	// startedAt. It returns false when the job is no longer pending.
	TryLease(ctx context.Context, jobID string, startedAt time.Time) (bool, error)
	// Finalize writes the terminal status for a running job.
	Finalize(ctx context.Context, fin Finalization) error
}

// ArtifactStore persists rendered reports. Put always overwrites.
type ArtifactStore interface {
	Put(ctx context.Context, path, contentType string, data []byte) error
	PublicURL(ctx context.Context, path string) (string, error)
}

// Response is the metadata of a navigation's document response.
type Response struct {
	URL     string
	Status  int
	Headers http.Header
}

// Session is a controllable browsing context. Implementations are not safe
// for concurrent navigation or evaluation.
type Session interface {
	Navigate(ctx context.Context, url string) (Response, error)
	// QueryText returns the text content of every match in document order.
	QueryText(ctx context.Context, selector string) ([]string, error)
	// QueryAttribute returns the attribute of the first match, or nil when
	// there is no match or the attribute is missing.
	QueryAttribute(ctx context.Context, selector, name string) (*string, error)
	// QueryAttributeAll returns the attribute of every match that has it.
	QueryAttributeAll(ctx context.Context, selector, name string) ([]string, error)
	// Evaluate runs a JavaScript expression and decodes its JSON value into out.
	Evaluate(ctx context.Context, expression string, out any) error
	// ProbeHead issues a HEAD request and returns the status code.
	ProbeHead(ctx context.Context, url string) (int, error)
	Close(ctx context.Context) error
}

// SessionFactory opens browsing sessions.
type SessionFactory interface {
	Open(ctx context.Context) (Session, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Publisher emits job completion notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
