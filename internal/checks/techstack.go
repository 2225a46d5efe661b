package checks

import (
	"context"
	"fmt"
	"slices"

	"github.com/lalchand07/Auditly/internal/audit"
)

// Marker is one technology heuristic evaluated in the page.
type Marker struct {
	Label  string
	Script string
	// SuppressedBy names labels that, when already detected, prevent this
	// marker from being evaluated.
	SuppressedBy []string
}

// DefaultMarkers is the ordered marker list. Order decides precedence.
var DefaultMarkers = []Marker{
	{
		Label:  "Next.js",
		Script: `!!document.querySelector("#__next")`,
	},
	{
		Label:        "React",
		Script:       `!!(window.React || document.querySelector("[data-reactroot]"))`,
		SuppressedBy: []string{"Next.js"},
	},
	{
		Label:  "WordPress",
		Script: `!!document.querySelector('meta[name="generator"][content*="WordPress"]')`,
	},
	{
		Label:  "Shopify",
		Script: `!!(window.Shopify && window.Shopify.shop)`,
	},
}

// TechStackDetector evaluates markers in order and returns the matched
// labels without duplicates.
type TechStackDetector struct {
	Markers []Marker
}

// Run evaluates every marker against the current page.
func (d TechStackDetector) Run(ctx context.Context, sess audit.Session) ([]string, error) {
	markers := d.Markers
	if markers == nil {
		markers = DefaultMarkers
	}
	stack := []string{}
	for _, m := range markers {
		if slices.Contains(stack, m.Label) || suppressed(stack, m.SuppressedBy) {
			continue
		}
		var found bool
		if err := sess.Evaluate(ctx, m.Script, &found); err != nil {
			return nil, fmt.Errorf("detect %s: %w", m.Label, err)
		}
		if found {
			stack = append(stack, m.Label)
		}
	}
	return stack, nil
}

func suppressed(stack, by []string) bool {
	for _, label := range by {
		if slices.Contains(stack, label) {
			return true
		}
	}
	return false
}
