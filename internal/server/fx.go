// Package server wires configuration into a runnable scan worker.
package server

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lalchand07/Auditly/internal/audit"
	"github.com/lalchand07/Auditly/internal/browser"
	"github.com/lalchand07/Auditly/internal/clock/system"
	"github.com/lalchand07/Auditly/internal/config"
	"github.com/lalchand07/Auditly/internal/lighthouse"
	"github.com/lalchand07/Auditly/internal/logging"
	"github.com/lalchand07/Auditly/internal/metrics"
	"github.com/lalchand07/Auditly/internal/pipeline"
	"github.com/lalchand07/Auditly/internal/progress"
	progresssinks "github.com/lalchand07/Auditly/internal/progress/sinks"
	gcppublisher "github.com/lalchand07/Auditly/internal/publisher/pubsub"
	"github.com/lalchand07/Auditly/internal/report"
	gcsstorage "github.com/lalchand07/Auditly/internal/storage/gcs"
	localstorage "github.com/lalchand07/Auditly/internal/storage/local"
	memorystorage "github.com/lalchand07/Auditly/internal/storage/memory"
	pgstore "github.com/lalchand07/Auditly/internal/storage/postgres"
	"github.com/lalchand07/Auditly/internal/storage/supabase"
	"github.com/lalchand07/Auditly/internal/telemetry"
	"github.com/lalchand07/Auditly/internal/worker"
)

const (
	shutdownTimeout = 30 * time.Second
	// defaultTopic labels notifications when a publisher is injected
	// without a configured Pub/Sub topic.
	defaultTopic = "scan-complete"
)

// Version is stamped into telemetry resources.
var Version = "dev"

// App contains the worker's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	poller *worker.Poller

	ready     atomic.Bool
	closers   []closer
	closeOnce sync.Once
	closeErr  error
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Option overrides a dependency Build would otherwise create from config.
type Option func(*buildOptions)

type buildOptions struct {
	logger     *zap.Logger
	jobs       audit.JobStore
	artifacts  audit.ArtifactStore
	publisher  audit.Publisher
	registerer prometheus.Registerer
}

// WithLogger uses logger instead of building one from config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithJobStore replaces the configured job backend.
func WithJobStore(store audit.JobStore) Option {
	return func(o *buildOptions) { o.jobs = store }
}

// WithArtifactStore replaces the configured artifact backend.
func WithArtifactStore(store audit.ArtifactStore) Option {
	return func(o *buildOptions) { o.artifacts = store }
}

// WithPublisher replaces the configured Pub/Sub publisher.
func WithPublisher(pub audit.Publisher) Option {
	return func(o *buildOptions) { o.publisher = pub }
}

// WithRegisterer registers progress and telemetry collectors on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) { o.registerer = reg }
}

// Build creates the application's dependencies. On error, everything built
// so far is released.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (app *App, err error) {
	o := buildOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger, err = logging.New(logging.Config{
			Development: cfg.Logging.Development,
			Level:       cfg.Logging.Level,
			Service:     cfg.Tracing.ServiceName,
		})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx))
			app = nil
		}
	}()

	metrics.Init()

	providers, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     Version,
		ProjectID:   cfg.Tracing.ProjectID,
		Registerer:  o.registerer,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	app.addCloser("telemetry", providers.Shutdown)

	app.logger.Info("building application dependencies",
		zap.String("jobs_backend", cfg.Jobs.Backend),
		zap.String("artifacts_backend", cfg.Artifacts.Backend),
		zap.String("pipeline_engine", cfg.Pipeline.Engine),
		zap.String("report_engine", cfg.Report.Engine),
	)

	jobs := o.jobs
	if jobs == nil {
		if jobs, err = app.setupJobs(ctx); err != nil {
			return nil, err
		}
	}
	artifacts := o.artifacts
	if artifacts == nil {
		if artifacts, err = app.setupArtifacts(ctx); err != nil {
			return nil, err
		}
	}
	publisher := o.publisher
	topic := cfg.PubSub.TopicName
	if publisher == nil {
		if publisher, err = app.setupPublisher(ctx); err != nil {
			return nil, err
		}
	} else if topic == "" {
		topic = defaultTopic
	}
	emitter, err := app.setupProgress(o.registerer)
	if err != nil {
		return nil, err
	}
	sessions, printer, err := app.setupBrowser()
	if err != nil {
		return nil, err
	}

	scores := lighthouse.New(lighthouse.Config{
		Binary:     cfg.Lighthouse.Binary,
		Port:       cfg.Lighthouse.Port,
		ChromePath: cfg.Lighthouse.ChromePath,
		Categories: cfg.Lighthouse.Categories,
		Timeout:    cfg.Lighthouse.Timeout,
	}, logger.Named("lighthouse"))

	pipe, err := pipeline.New(pipeline.Config{
		CheckTimeout:    cfg.Pipeline.CheckTimeout,
		LinkConcurrency: cfg.Links.Concurrency,
		SentinelStatus:  cfg.Links.SentinelStatus,
	}, sessions, scores,
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithEmitter(emitter),
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	renderer, err := report.NewRenderer(report.Config{
		Timezone: cfg.Report.Timezone,
		Layout:   cfg.Report.LocaleLayout,
	}, printer, logger.Named("report"))
	if err != nil {
		return nil, fmt.Errorf("report renderer init failed: %w", err)
	}

	workerCfg := worker.Config{
		PollInterval: cfg.Worker.PollInterval,
		JobTimeout:   cfg.Worker.JobTimeout,
		Topic:        topic,
	}
	app.logger.Info("worker config",
		zap.Duration("poll_interval", workerCfg.PollInterval),
		zap.Duration("job_timeout", workerCfg.JobTimeout),
		zap.Duration("check_timeout", cfg.Pipeline.CheckTimeout),
		zap.String("topic", workerCfg.Topic),
	)
	app.poller, err = worker.New(jobs, artifacts, pipe, renderer, system.New(), workerCfg,
		worker.WithLogger(logger.Named("worker")),
		worker.WithEmitter(emitter),
		worker.WithPublisher(publisher),
	)
	if err != nil {
		return nil, fmt.Errorf("worker init failed: %w", err)
	}
	return app, nil
}

// Run polls for jobs until ctx is canceled or a termination signal arrives,
// then releases every dependency. With worker.once set it runs one tick.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ops *opsServer
	if a.cfg.Ops.Enabled {
		ops = newOpsServer(a.cfg.Ops.Port, NewOpsHandler(a.Ready, a.logger.Named("ops")), a.logger.Named("ops"))
		ops.start(stop)
	}

	a.ready.Store(true)
	var runErr error
	if a.cfg.Worker.Once {
		var processed bool
		processed, runErr = a.poller.Tick(ctx)
		a.logger.Info("single tick finished", zap.Bool("processed", processed))
	} else {
		runErr = a.poller.Run(ctx)
	}
	a.ready.Store(false)
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if ops != nil {
		if err := ops.shutdown(shutdownCtx); err != nil {
			a.logger.Warn("ops server shutdown failed", zap.Error(err))
		}
	}
	return errors.Join(runErr, a.Close(shutdownCtx))
}

// Tick leases and processes at most one job.
func (a *App) Tick(ctx context.Context) (bool, error) {
	processed, err := a.poller.Tick(ctx)
	if err != nil {
		return processed, fmt.Errorf("tick: %w", err)
	}
	return processed, nil
}

// Ready reports whether the poll loop is running.
func (a *App) Ready(context.Context) error {
	if !a.ready.Load() {
		return errors.New("worker is not polling")
	}
	return nil
}

// Close releases dependencies in reverse order of construction. Later calls
// return the first result.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		var errs []error
		for i := len(a.closers) - 1; i >= 0; i-- {
			c := a.closers[i]
			if err := c.fn(ctx); err != nil {
				a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
				errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			}
		}
		_ = a.logger.Sync()
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) setupJobs(ctx context.Context) (audit.JobStore, error) {
	cfg := a.cfg
	switch cfg.Jobs.Backend {
	case "postgres":
		store, err := pgstore.NewJobStore(ctx, pgstore.JobStoreConfig{
			DSN:             cfg.Database.DSN,
			Table:           cfg.Jobs.Table,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres job store init failed: %w", err)
		}
		a.addCloser("postgres", func(context.Context) error {
			store.Close()
			return nil
		})
		a.logger.Info("using postgres job store", zap.String("table", cfg.Jobs.Table))
		return store, nil
	case "supabase":
		store, err := supabase.NewJobStore(a.supabaseConfig())
		if err != nil {
			return nil, fmt.Errorf("supabase job store init failed: %w", err)
		}
		a.logger.Info("using supabase job store", zap.String("table", cfg.Jobs.Table))
		return store, nil
	case "memory":
		a.logger.Warn("using in-memory job store; jobs are lost on exit")
		return memorystorage.NewJobStore(), nil
	default:
		return nil, fmt.Errorf("unsupported jobs backend %q", cfg.Jobs.Backend)
	}
}

func (a *App) setupArtifacts(ctx context.Context) (audit.ArtifactStore, error) {
	cfg := a.cfg
	switch cfg.Artifacts.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.addCloser("gcs", func(context.Context) error { return client.Close() })
		store, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:        cfg.Artifacts.Bucket,
			PublicBaseURL: cfg.Artifacts.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs artifact store init failed: %w", err)
		}
		a.logger.Info("using GCS artifact store", zap.String("bucket", cfg.Artifacts.Bucket))
		return store, nil
	case "local":
		store, err := localstorage.New(cfg.Artifacts.Local)
		if err != nil {
			return nil, fmt.Errorf("local artifact store init failed: %w", err)
		}
		a.logger.Info("using local artifact store", zap.String("path", cfg.Artifacts.Local.BaseDir))
		return store, nil
	case "supabase":
		store, err := supabase.NewArtifactStore(a.supabaseConfig())
		if err != nil {
			return nil, fmt.Errorf("supabase artifact store init failed: %w", err)
		}
		a.logger.Info("using supabase artifact store", zap.String("bucket", cfg.Artifacts.Bucket))
		return store, nil
	case "memory":
		a.logger.Warn("using in-memory artifact store; reports are lost on exit")
		return memorystorage.NewBlobStore(cfg.Artifacts.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported artifacts backend %q", cfg.Artifacts.Backend)
	}
}

func (a *App) supabaseConfig() supabase.Config {
	return supabase.Config{
		URL:        a.cfg.Supabase.URL,
		ServiceKey: a.cfg.Supabase.ServiceKey,
		Schema:     a.cfg.Supabase.Schema,
		Table:      a.cfg.Jobs.Table,
		Bucket:     a.cfg.Artifacts.Bucket,
	}
}

// setupPublisher returns nil when Pub/Sub is not configured; the worker then
// skips notifications.
func (a *App) setupPublisher(ctx context.Context) (audit.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, completion notifications disabled")
		return nil, nil
	}
	pub, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.addCloser("pubsub", func(context.Context) error { return pub.Close() })
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

// setupProgress returns nil when progress tracking is off.
func (a *App) setupProgress(reg prometheus.Registerer) (progress.Emitter, error) {
	cfg := a.cfg.Progress
	if !cfg.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil, nil
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{promSink}
	if cfg.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	hubCfg := progress.Config{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(cfg.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(cfg.SinkTimeoutMs) * time.Millisecond,
		Logger:         a.logger.Named("progress_hub"),
	}
	hub := progress.NewHub(hubCfg, sinkList...)
	a.addCloser("progress", hub.Close)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return hub, nil
}

// setupBrowser builds the session factory for the checks and the printer
// for reports. A factory is shared when both use the same engine.
func (a *App) setupBrowser() (audit.SessionFactory, report.Printer, error) {
	cfg := a.cfg
	limiter := browser.NewHostLimiter(browser.LimiterConfig{RPS: cfg.Links.RPS, Burst: cfg.Links.Burst})
	prober := browser.NewProber(browser.ProberConfig{
		UserAgent: cfg.Pipeline.UserAgent,
		Timeout:   cfg.Links.ProbeTimeout,
	}, limiter)
	bcfg := browser.Config{
		UserAgent:         cfg.Pipeline.UserAgent,
		NavigationTimeout: cfg.Pipeline.NavTimeout,
		ExecPath:          cfg.Pipeline.ChromePath,
	}

	var (
		chrome *browser.ChromedpFactory
		pw     *browser.PlaywrightFactory
	)
	chromedpFactory := func() (*browser.ChromedpFactory, error) {
		if chrome != nil {
			return chrome, nil
		}
		f, err := browser.NewChromedp(bcfg, prober)
		if err != nil {
			return nil, fmt.Errorf("chromedp init failed: %w", err)
		}
		a.addCloser("chromedp", func(context.Context) error {
			f.Close()
			return nil
		})
		chrome = f
		return f, nil
	}
	playwrightFactory := func() (*browser.PlaywrightFactory, error) {
		if pw != nil {
			return pw, nil
		}
		f, err := browser.NewPlaywright(bcfg, prober)
		if err != nil {
			return nil, fmt.Errorf("playwright init failed: %w", err)
		}
		a.addCloser("playwright", func(context.Context) error { return f.Close() })
		pw = f
		return f, nil
	}

	var sessions audit.SessionFactory
	switch cfg.Pipeline.Engine {
	case "playwright":
		f, err := playwrightFactory()
		if err != nil {
			return nil, nil, err
		}
		sessions = f
	case "chromedp":
		f, err := chromedpFactory()
		if err != nil {
			return nil, nil, err
		}
		sessions = f
	default:
		return nil, nil, fmt.Errorf("unsupported pipeline engine %q", cfg.Pipeline.Engine)
	}

	var printer report.Printer
	switch cfg.Report.Engine {
	case "native":
		printer = report.NativePrinter{}
	case "playwright":
		f, err := playwrightFactory()
		if err != nil {
			return nil, nil, err
		}
		printer = report.NewPlaywrightPrinter(f)
	case "chromedp":
		f, err := chromedpFactory()
		if err != nil {
			return nil, nil, err
		}
		printer = report.NewChromedpPrinter(f)
	default:
		return nil, nil, fmt.Errorf("unsupported report engine %q", cfg.Report.Engine)
	}
	return sessions, printer, nil
}
