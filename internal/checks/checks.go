// Package checks implements the individual audit checks. Each check reads
// from an audit.Session and returns a typed result; aggregation into a
// Summary happens in the pipeline.
package checks

import (
	"context"

	"github.com/lalchand07/Auditly/internal/audit"
)

// Check names, used in logs, metrics and CheckError messages.
const (
	NameScore       = "score"
	NameHeaders     = "headers"
	NameSeo         = "seo"
	NameTechStack   = "techstack"
	NameBrokenLinks = "brokenlinks"
)

// ScoreRunner produces Lighthouse category scores for a URL.
type ScoreRunner interface {
	Scores(ctx context.Context, url string) (audit.Scores, error)
}

// ScoreCheck delegates to a ScoreRunner that owns its own browser.
type ScoreCheck struct {
	Runner ScoreRunner
}

// Run scores url.
func (c ScoreCheck) Run(ctx context.Context, url string) (audit.Scores, error) {
	return c.Runner.Scores(ctx, url)
}
