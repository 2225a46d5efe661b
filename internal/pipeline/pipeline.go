// Package pipeline runs the audit checks for one job against a single
// browsing session and aggregates their results into a Summary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lalchand07/Auditly/internal/audit"
	"github.com/lalchand07/Auditly/internal/checks"
	"github.com/lalchand07/Auditly/internal/metrics"
	"github.com/lalchand07/Auditly/internal/progress"
)

const (
	defaultCheckTimeout = 2 * time.Minute
	closeTimeout        = 10 * time.Second
	tracerName          = "github.com/lalchand07/Auditly/internal/pipeline"
)

// Config tunes the pipeline.
type Config struct {
	// CheckTimeout bounds each check. Zero uses two minutes.
	CheckTimeout time.Duration
	// LinkConcurrency bounds in-flight HEAD probes.
	LinkConcurrency int
	// SentinelStatus is recorded for links whose probe errors.
	SentinelStatus int
}

// Pipeline orchestrates the five checks in fixed order.
type Pipeline struct {
	cfg      Config
	sessions audit.SessionFactory
	score    checks.ScoreCheck
	headers  checks.HeaderInspector
	seo      checks.SeoInspector
	tech     checks.TechStackDetector
	links    checks.BrokenLinkCrawler
	logger   *zap.Logger
	emitter  progress.Emitter
	tracer   trace.Tracer
	now      func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithEmitter publishes CHECK_* progress events.
func WithEmitter(e progress.Emitter) Option {
	return func(p *Pipeline) {
		if e != nil {
			p.emitter = e
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithMarkers replaces the default tech-stack markers.
func WithMarkers(markers []checks.Marker) Option {
	return func(p *Pipeline) {
		p.tech.Markers = markers
	}
}

// New builds a Pipeline. Sessions and scores are required.
func New(cfg Config, sessions audit.SessionFactory, scores checks.ScoreRunner, opts ...Option) (*Pipeline, error) {
	if sessions == nil {
		return nil, errors.New("session factory is required")
	}
	if scores == nil {
		return nil, errors.New("score runner is required")
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = defaultCheckTimeout
	}
	p := &Pipeline{
		cfg:      cfg,
		sessions: sessions,
		score:    checks.ScoreCheck{Runner: scores},
		tech:     checks.TechStackDetector{Markers: checks.DefaultMarkers},
		links: checks.BrokenLinkCrawler{
			Concurrency:    cfg.LinkConcurrency,
			SentinelStatus: cfg.SentinelStatus,
		},
		logger:  zap.NewNop(),
		emitter: progress.NopEmitter{},
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run audits target for job. Any check failure aborts the run and is
// returned as an *audit.CheckError; no partial Summary is produced.
func (p *Pipeline) Run(ctx context.Context, job audit.Job, target *url.URL) (summary audit.Summary, err error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.url", target.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger := p.logger.With(zap.String("job_id", job.ID), zap.String("url", target.String()))

	sess, err := p.sessions.Open(ctx)
	if err != nil {
		return audit.Summary{}, fmt.Errorf("open session: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if cerr := sess.Close(closeCtx); cerr != nil {
			logger.Warn("close session", zap.Error(cerr))
		}
	}()

	pageURL := target.String()
	r := runner{p: p, job: job, logger: logger}

	scores, err := step(ctx, r, checks.NameScore, func(ctx context.Context) (audit.Scores, error) {
		return p.score.Run(ctx, pageURL)
	})
	if err != nil {
		return audit.Summary{}, err
	}
	headers, err := step(ctx, r, checks.NameHeaders, func(ctx context.Context) (audit.SecurityHeaders, error) {
		return p.headers.Run(ctx, sess, pageURL)
	})
	if err != nil {
		return audit.Summary{}, err
	}
	seo, err := step(ctx, r, checks.NameSeo, func(ctx context.Context) (audit.SeoFacts, error) {
		return p.seo.Run(ctx, sess)
	})
	if err != nil {
		return audit.Summary{}, err
	}
	stack, err := step(ctx, r, checks.NameTechStack, func(ctx context.Context) ([]string, error) {
		return p.tech.Run(ctx, sess)
	})
	if err != nil {
		return audit.Summary{}, err
	}
	origin := audit.Origin(target)
	broken, err := step(ctx, r, checks.NameBrokenLinks, func(ctx context.Context) (audit.BrokenLinks, error) {
		return p.links.Run(ctx, sess, origin)
	})
	if err != nil {
		return audit.Summary{}, err
	}

	summary = audit.Summary{
		Scores:      scores,
		Headers:     headers,
		Seo:         seo,
		TechStack:   stack,
		BrokenLinks: broken,
	}
	return summary.Normalized(), nil
}

type runner struct {
	p      *Pipeline
	job    audit.Job
	logger *zap.Logger
}

func (r runner) emit(stage progress.Stage, check string, dur time.Duration, note string) {
	r.p.emitter.Emit(progress.Event{
		JobID: r.job.ID,
		TS:    r.p.now().UTC(),
		Stage: stage,
		Check: check,
		URL:   r.job.URL,
		Dur:   dur,
		Note:  note,
	})
}

// step runs one check under the per-check timeout and wraps its failure.
func step[T any](ctx context.Context, r runner, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, &audit.CheckError{Check: name, Err: err}
	}

	ctx, span := r.p.tracer.Start(ctx, "check."+name)
	defer span.End()

	checkCtx, cancel := context.WithTimeout(ctx, r.p.cfg.CheckTimeout)
	defer cancel()

	r.emit(progress.StageCheckStart, name, 0, "")
	r.logger.Debug("check started", zap.String("check", name))
	start := r.p.now()

	out, err := fn(checkCtx)
	dur := r.p.now().Sub(start)
	if err != nil {
		// Surface the deadline rather than whatever the engine made of it.
		if cerr := checkCtx.Err(); cerr != nil && !errors.Is(err, cerr) {
			err = fmt.Errorf("%w: %v", cerr, err)
		}
		cerr := &audit.CheckError{Check: name, Err: err}
		span.RecordError(cerr)
		span.SetStatus(codes.Error, cerr.Error())
		metrics.ObserveCheck(name, false, dur)
		r.emit(progress.StageCheckError, name, dur, cerr.Error())
		r.logger.Warn("check failed", zap.String("check", name), zap.Duration("dur", dur), zap.Error(err))
		return zero, cerr
	}

	metrics.ObserveCheck(name, true, dur)
	r.emit(progress.StageCheckDone, name, dur, "")
	r.logger.Debug("check done", zap.String("check", name), zap.Duration("dur", dur))
	return out, nil
}
