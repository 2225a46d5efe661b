// Package worker implements the job queue poller: it leases the oldest
// pending scan job, audits it, stores the report and finalizes the record.
package worker

import (
	"context"
	"errors"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lalchand07/Auditly/internal/audit"
	"github.com/lalchand07/Auditly/internal/metrics"
	"github.com/lalchand07/Auditly/internal/progress"
	"github.com/lalchand07/Auditly/internal/report"
)

const (
	defaultPollInterval = 10 * time.Second
	finalizeTimeout     = 30 * time.Second
	tracerName          = "github.com/lalchand07/Auditly/internal/worker"
)

// Pipeline produces the Summary for a leased job.
type Pipeline interface {
	Run(ctx context.Context, job audit.Job, target *url.URL) (audit.Summary, error)
}

// Renderer turns a Summary into report bytes.
type Renderer interface {
	Render(ctx context.Context, job audit.Job, summary audit.Summary) ([]byte, error)
}

// Config controls Poller behavior.
type Config struct {
	// PollInterval is the delay between ticks. Zero uses ten seconds.
	PollInterval time.Duration
	// JobTimeout bounds pipeline, render and upload for one job. Zero
	// disables the budget.
	JobTimeout time.Duration
	// Topic receives completion notifications when a publisher is set.
	Topic string
}

// Notification is published after a job is finalized.
type Notification struct {
	JobID       string          `json:"job_id"`
	Status      audit.JobStatus `json:"status"`
	ArtifactURL *string         `json:"artifact_url"`
}

// Attributes exposes job_id and status as message attributes.
func (n Notification) Attributes() map[string]string {
	return map[string]string{"job_id": n.JobID, "status": string(n.Status)}
}

// Poller leases and processes one job per tick.
type Poller struct {
	store     audit.JobStore
	artifacts audit.ArtifactStore
	pipeline  Pipeline
	renderer  Renderer
	clock     audit.Clock
	publisher audit.Publisher
	emitter   progress.Emitter
	tracer    trace.Tracer
	cfg       Config
	logger    *zap.Logger
}

// Option customizes a Poller.
type Option func(*Poller)

// WithLogger sets the poller logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithEmitter publishes JOB_* progress events.
func WithEmitter(e progress.Emitter) Option {
	return func(p *Poller) {
		if e != nil {
			p.emitter = e
		}
	}
}

// WithPublisher enables completion notifications on cfg.Topic.
func WithPublisher(pub audit.Publisher) Option {
	return func(p *Poller) {
		p.publisher = pub
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(p *Poller) {
		if t != nil {
			p.tracer = t
		}
	}
}

// New constructs a Poller. Every collaborator is required.
func New(
	store audit.JobStore,
	artifacts audit.ArtifactStore,
	pipeline Pipeline,
	renderer Renderer,
	clock audit.Clock,
	cfg Config,
	opts ...Option,
) (*Poller, error) {
	switch {
	case store == nil:
		return nil, errors.New("job store is required")
	case artifacts == nil:
		return nil, errors.New("artifact store is required")
	case pipeline == nil:
		return nil, errors.New("pipeline is required")
	case renderer == nil:
		return nil, errors.New("renderer is required")
	case clock == nil:
		return nil, errors.New("clock is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	p := &Poller{
		store:     store,
		artifacts: artifacts,
		pipeline:  pipeline,
		renderer:  renderer,
		clock:     clock,
		emitter:   progress.NopEmitter{},
		tracer:    otel.Tracer(tracerName),
		cfg:       cfg,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run ticks until ctx is canceled, waiting PollInterval after each tick.
// Lease errors are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started", zap.Duration("poll_interval", p.cfg.PollInterval))
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case <-timer.C:
		}
		if _, err := p.Tick(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("tick failed", zap.Error(err))
		}
		timer.Reset(p.cfg.PollInterval)
	}
}

// Tick leases the oldest pending job and processes it. It reports whether
// a job was processed. An empty queue and a lost lease are not errors;
// store failures are returned as *audit.LeaseError and leave no trace.
func (p *Poller) Tick(ctx context.Context) (bool, error) {
	job, err := p.store.FetchOldestPending(ctx)
	if errors.Is(err, audit.ErrNoPendingJob) {
		return false, nil
	}
	if err != nil {
		return false, &audit.LeaseError{Err: err}
	}

	startedAt := p.clock.Now()
	leased, err := p.store.TryLease(ctx, job.ID, startedAt)
	if err != nil {
		return false, &audit.LeaseError{JobID: job.ID, Err: err}
	}
	if !leased {
		p.logger.Debug("lease lost", zap.String("job_id", job.ID))
		return false, nil
	}
	job.Status = audit.JobStatusRunning
	job.StartedAt = &startedAt

	p.process(ctx, job)
	return true, nil
}

func (p *Poller) process(ctx context.Context, job audit.Job) {
	logger := p.logger.With(zap.String("job_id", job.ID), zap.String("url", job.URL))
	ctx, span := p.tracer.Start(ctx, "job.process", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.workspace_id", job.WorkspaceID),
	))
	defer span.End()

	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()
	p.emit(job, progress.StageJobLeased, 0, "")
	logger.Info("job leased")
	start := p.clock.Now()

	summary, artifactURL, err := p.execute(ctx, job)

	fin := audit.Finalization{JobID: job.ID, FinishedAt: p.clock.Now()}
	if err != nil {
		fin.Status = audit.JobStatusFailed
		fin.Failure = audit.FailureFromError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("job failed", zap.Error(err))
	} else {
		fin.Status = audit.JobStatusDone
		fin.Summary = &summary
		fin.ArtifactURL = &artifactURL
		logger.Info("job done", zap.String("artifact_url", artifactURL))
	}
	dur := fin.FinishedAt.Sub(start)

	// The job's own deadline must not prevent the terminal write.
	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if ferr := p.store.Finalize(finCtx, fin); ferr != nil {
		metrics.ObserveFinalizeFailure()
		logger.Error("finalize failed", zap.String("status", string(fin.Status)), zap.Error(ferr))
	} else {
		p.notify(finCtx, fin, logger)
	}

	metrics.ObserveJob(string(fin.Status), dur)
	if fin.Status == audit.JobStatusDone {
		p.emit(job, progress.StageJobDone, dur, "")
	} else {
		p.emit(job, progress.StageJobError, dur, fin.Failure.Error)
	}
}

// execute runs pipeline, render and upload under the job budget.
func (p *Poller) execute(ctx context.Context, job audit.Job) (audit.Summary, string, error) {
	target, err := audit.ParseTargetURL(job.URL)
	if err != nil {
		return audit.Summary{}, "", err
	}
	if p.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
		defer cancel()
	}

	summary, err := p.pipeline.Run(ctx, job, target)
	if err != nil {
		return audit.Summary{}, "", err
	}
	pdf, err := p.renderer.Render(ctx, job, summary)
	if err != nil {
		return audit.Summary{}, "", err
	}

	path := job.ArtifactPath()
	if err := p.artifacts.Put(ctx, path, report.ContentType, pdf); err != nil {
		return audit.Summary{}, "", &audit.StorageError{Path: path, Err: err}
	}
	publicURL, err := p.artifacts.PublicURL(ctx, path)
	if err == nil && publicURL == "" {
		err = errors.New("empty url")
	}
	if err != nil {
		return audit.Summary{}, "", &audit.URLResolutionError{Path: path, Err: err}
	}
	return summary, publicURL, nil
}

func (p *Poller) notify(ctx context.Context, fin audit.Finalization, logger *zap.Logger) {
	if p.publisher == nil || p.cfg.Topic == "" {
		return
	}
	msg := Notification{JobID: fin.JobID, Status: fin.Status, ArtifactURL: fin.ArtifactURL}
	id, err := p.publisher.Publish(ctx, p.cfg.Topic, msg)
	if err != nil {
		logger.Warn("publish notification failed", zap.String("topic", p.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("notification published", zap.String("topic", p.cfg.Topic), zap.String("message_id", id))
}

func (p *Poller) emit(job audit.Job, stage progress.Stage, dur time.Duration, note string) {
	p.emitter.Emit(progress.Event{
		JobID: job.ID,
		TS:    p.clock.Now().UTC(),
		Stage: stage,
		URL:   job.URL,
		Dur:   dur,
		Note:  note,
	})
}

