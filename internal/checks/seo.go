package checks

import (
	"context"
	"fmt"

	"github.com/lalchand07/Auditly/internal/audit"
)

const (
	metaDescriptionSelector = `meta[name="description"]`
	h1Selector              = "h1"
)

// SeoInspector reads the title, meta description and h1 texts of the
// current page.
type SeoInspector struct{}

// Run assumes the session has already navigated to the target.
func (SeoInspector) Run(ctx context.Context, sess audit.Session) (audit.SeoFacts, error) {
	var title string
	if err := sess.Evaluate(ctx, "document.title", &title); err != nil {
		return audit.SeoFacts{}, fmt.Errorf("read title: %w", err)
	}
	desc, err := sess.QueryAttribute(ctx, metaDescriptionSelector, "content")
	if err != nil {
		return audit.SeoFacts{}, fmt.Errorf("read meta description: %w", err)
	}
	h1s, err := sess.QueryText(ctx, h1Selector)
	if err != nil {
		return audit.SeoFacts{}, fmt.Errorf("read h1 tags: %w", err)
	}
	if h1s == nil {
		h1s = []string{}
	}
	if desc != nil && *desc == "" {
		desc = nil
	}

	facts := audit.SeoFacts{
		Title:           audit.TextStat{Text: title, Length: audit.TextLength(title)},
		MetaDescription: audit.OptionalTextStat{Text: desc},
		H1Tags:          audit.H1Tags{Count: len(h1s), Tags: h1s},
	}
	if desc != nil {
		facts.MetaDescription.Length = audit.TextLength(*desc)
	}
	return facts, nil
}
