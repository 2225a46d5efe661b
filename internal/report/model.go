// Package report turns a job Summary into a self-contained HTML document and
// prints it to an A4 PDF with one of the configured engines.
package report

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"time"

	"github.com/lalchand07/Auditly/internal/audit"
)

// DefaultLayout mirrors a browser's default en-US toLocaleString output.
const DefaultLayout = "Jan 2, 2006, 3:04:05 PM"

const notSet = "Not set"

// Grade buckets a Lighthouse score.
type Grade string

// Score grades.
const (
	GradeGood   Grade = "good"
	GradeMedium Grade = "medium"
	GradePoor   Grade = "poor"
)

// Classify grades score: >=90 good, >=50 medium, otherwise poor.
func Classify(score int) Grade {
	switch {
	case score >= 90:
		return GradeGood
	case score >= 50:
		return GradeMedium
	default:
		return GradePoor
	}
}

// CSSClass returns the card background class for g.
func (g Grade) CSSClass() string {
	switch g {
	case GradeGood:
		return "bg-green"
	case GradeMedium:
		return "bg-orange"
	default:
		return "bg-red"
	}
}

// RGB returns the card fill colour used by the native printer.
func (g Grade) RGB() (int, int, int) {
	switch g {
	case GradeGood:
		return 0x28, 0xa7, 0x45
	case GradeMedium:
		return 0xfd, 0x7e, 0x14
	default:
		return 0xdc, 0x35, 0x45
	}
}

// ScoreCard is one Lighthouse category tile.
type ScoreCard struct {
	Label string
	Score int
	Grade Grade
}

// HeaderRow is one security header line.
type HeaderRow struct {
	Name  string
	Value string
}

// Model is everything the report shows, already formatted.
type Model struct {
	URL                   string
	ScannedAt             string
	Cards                 []ScoreCard
	Headers               []HeaderRow
	Title                 string
	TitleLength           int
	MetaDescription       string
	MetaDescriptionLength int
	H1Count               int
	TechStack             []string
}

// NewModel formats job and summary for rendering. StartedAt is shown in loc
// using layout; a missing StartedAt falls back to CreatedAt.
func NewModel(job audit.Job, summary audit.Summary, loc *time.Location, layout string) Model {
	if loc == nil {
		loc = time.UTC
	}
	if layout == "" {
		layout = DefaultLayout
	}
	scanned := job.CreatedAt
	if job.StartedAt != nil {
		scanned = *job.StartedAt
	}

	s := summary.Scores
	m := Model{
		URL:       job.URL,
		ScannedAt: scanned.In(loc).Format(layout),
		Cards: []ScoreCard{
			{Label: "Performance", Score: s.Performance, Grade: Classify(s.Performance)},
			{Label: "SEO", Score: s.SEO, Grade: Classify(s.SEO)},
			{Label: "Best Practices", Score: s.BestPractices, Grade: Classify(s.BestPractices)},
			{Label: "Accessibility", Score: s.Accessibility, Grade: Classify(s.Accessibility)},
		},
		Title:                 summary.Seo.Title.Text,
		TitleLength:           summary.Seo.Title.Length,
		MetaDescription:       notSet,
		MetaDescriptionLength: summary.Seo.MetaDescription.Length,
		H1Count:               summary.Seo.H1Tags.Count,
		TechStack:             append([]string{}, summary.TechStack...),
	}
	// An empty value is shown as unset, matching how the header table reads.
	if d := summary.Seo.MetaDescription.Text; d != nil && *d != "" {
		m.MetaDescription = *d
	}
	for _, h := range summary.Headers.Entries() {
		row := HeaderRow{Name: h.Name, Value: notSet}
		if h.Value != nil && *h.Value != "" {
			row.Value = *h.Value
		}
		m.Headers = append(m.Headers, row)
	}
	return m
}

//go:embed template.html
var templateSource string

var reportTemplate = template.Must(template.New("report").Parse(templateSource))

// HTML renders m into the report document.
func HTML(m Model) ([]byte, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, m); err != nil {
		return nil, fmt.Errorf("execute report template: %w", err)
	}
	return buf.Bytes(), nil
}
