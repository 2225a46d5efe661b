package report

import (
	"context"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata" // report.timezone must resolve in slim containers

	"go.uber.org/zap"

	"github.com/lalchand07/Auditly/internal/audit"
	"github.com/lalchand07/Auditly/internal/metrics"
)

// ContentType is the media type of rendered reports.
const ContentType = "application/pdf"

// Document is what a Printer receives: the HTML and the model it came from.
type Document struct {
	HTML  []byte
	Model Model
}

// Printer captures a Document as an A4 PDF.
type Printer interface {
	Print(ctx context.Context, doc Document) ([]byte, error)
}

// Config controls formatting.
type Config struct {
	// Timezone is an IANA name. Empty means UTC.
	Timezone string
	// Layout is a time layout for the scan time. Empty uses DefaultLayout.
	Layout string
}

// Renderer builds the report and prints it.
type Renderer struct {
	printer Printer
	loc     *time.Location
	layout  string
	logger  *zap.Logger
}

// NewRenderer validates cfg and wraps printer.
func NewRenderer(cfg Config, printer Printer, logger *zap.Logger) (*Renderer, error) {
	if printer == nil {
		return nil, errors.New("printer is required")
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load report timezone %q: %w", cfg.Timezone, err)
		}
	}
	layout := cfg.Layout
	if layout == "" {
		layout = DefaultLayout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{printer: printer, loc: loc, layout: layout, logger: logger}, nil
}

// Render produces PDF bytes for job. Every failure is an *audit.RenderError.
func (r *Renderer) Render(ctx context.Context, job audit.Job, summary audit.Summary) ([]byte, error) {
	model := NewModel(job, summary, r.loc, r.layout)
	html, err := HTML(model)
	if err != nil {
		return nil, &audit.RenderError{Err: err}
	}
	start := time.Now()
	pdf, err := r.printer.Print(ctx, Document{HTML: html, Model: model})
	if err != nil {
		return nil, &audit.RenderError{Err: err}
	}
	if len(pdf) == 0 {
		return nil, &audit.RenderError{Err: errors.New("printer returned an empty document")}
	}
	metrics.ObserveReportSize(len(pdf))
	r.logger.Debug("report rendered",
		zap.String("job_id", job.ID),
		zap.Int("bytes", len(pdf)),
		zap.Duration("dur", time.Since(start)),
	)
	return pdf, nil
}
