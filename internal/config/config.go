// Package config loads and validates worker configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata" // report.timezone is validated on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/lalchand07/Auditly/internal/storage/local"
)

// DefaultEnvFiles are loaded, when present, before the environment is read.
// Earlier files win because godotenv never overrides a variable already set.
var DefaultEnvFiles = []string{".env.local", ".env"}

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Worker     WorkerConfig     `mapstructure:"worker"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Lighthouse LighthouseConfig `mapstructure:"lighthouse"`
	Links      LinksConfig      `mapstructure:"links"`
	Report     ReportConfig     `mapstructure:"report"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Supabase   SupabaseConfig   `mapstructure:"supabase"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Ops        OpsConfig        `mapstructure:"ops"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// WorkerConfig governs the poll loop.
type WorkerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	JobTimeout   time.Duration `mapstructure:"job_timeout"`
	Once         bool          `mapstructure:"once"`
}

// PipelineConfig selects the session engine and per-check limits.
type PipelineConfig struct {
	CheckTimeout time.Duration `mapstructure:"check_timeout"`
	Engine       string        `mapstructure:"engine"`
	UserAgent    string        `mapstructure:"user_agent"`
	NavTimeout   time.Duration `mapstructure:"nav_timeout"`
	ChromePath   string        `mapstructure:"chrome_path"`
}

// LighthouseConfig configures the score check.
type LighthouseConfig struct {
	Binary     string        `mapstructure:"binary"`
	Port       int           `mapstructure:"port"`
	ChromePath string        `mapstructure:"chrome_path"`
	Categories []string      `mapstructure:"categories"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LinksConfig tunes the broken-link probes.
type LinksConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	RPS            float64       `mapstructure:"rps"`
	Burst          int           `mapstructure:"burst"`
	SentinelStatus int           `mapstructure:"sentinel_status"`
}

// ReportConfig selects the PDF printer and time formatting.
type ReportConfig struct {
	Engine       string `mapstructure:"engine"`
	Timezone     string `mapstructure:"timezone"`
	LocaleLayout string `mapstructure:"locale_layout"`
}

// JobsConfig selects the job record backend.
type JobsConfig struct {
	Backend string `mapstructure:"backend"`
	Table   string `mapstructure:"table"`
}

// ArtifactsConfig selects the report storage backend.
type ArtifactsConfig struct {
	Backend       string       `mapstructure:"backend"`
	Bucket        string       `mapstructure:"bucket"`
	PublicBaseURL string       `mapstructure:"public_base_url"`
	Local         local.Config `mapstructure:"local"`
}

// DatabaseConfig controls the Postgres pool.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// SupabaseConfig locates the Supabase project.
type SupabaseConfig struct {
	URL        string `mapstructure:"url"`
	ServiceKey string `mapstructure:"service_key"`
	Schema     string `mapstructure:"schema"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig toggles the progress hub and its sinks.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	BufferSize    int                 `mapstructure:"buffer_size"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int                 `mapstructure:"sink_timeout_ms"`
}

// ProgressBatchConfig bounds hub batches.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// OpsConfig controls the health and metrics listener.
type OpsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// TracingConfig toggles OpenTelemetry.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	ProjectID   string `mapstructure:"project_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from env files, an optional YAML file and the
// environment. With no envFiles, DefaultEnvFiles are tried.
func Load(path string, envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = DefaultEnvFiles
	}
	if err := loadEnvFiles(envFiles); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("AUDITLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindSupabaseEnv(v); err != nil {
		return Config{}, err
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Artifacts.Local.PublicBaseURL == "" {
		cfg.Artifacts.Local.PublicBaseURL = cfg.Artifacts.PublicBaseURL
	}
	if cfg.Lighthouse.Timeout == 0 {
		cfg.Lighthouse.Timeout = cfg.Pipeline.CheckTimeout
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadEnvFiles(files []string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}

// bindSupabaseEnv accepts the variable names the Supabase tooling uses.
func bindSupabaseEnv(v *viper.Viper) error {
	if err := v.BindEnv("supabase.url", "AUDITLY_SUPABASE_URL", "SUPABASE_URL"); err != nil {
		return fmt.Errorf("bind supabase.url: %w", err)
	}
	if err := v.BindEnv("supabase.service_key", "AUDITLY_SUPABASE_SERVICE_KEY", "SUPABASE_SERVICE_ROLE_KEY"); err != nil {
		return fmt.Errorf("bind supabase.service_key: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("worker.poll_interval", 10*time.Second)
	v.SetDefault("worker.job_timeout", 10*time.Minute)
	v.SetDefault("worker.once", false)
	v.SetDefault("pipeline.check_timeout", 2*time.Minute)
	v.SetDefault("pipeline.engine", "chromedp")
	v.SetDefault("pipeline.user_agent", "Auditly/1.0 (+https://auditly.app)")
	v.SetDefault("pipeline.nav_timeout", 45*time.Second)
	v.SetDefault("lighthouse.binary", "lighthouse")
	v.SetDefault("lighthouse.port", 9222)
	v.SetDefault("lighthouse.categories", []string{"performance", "seo", "best-practices", "accessibility"})
	v.SetDefault("links.concurrency", 4)
	v.SetDefault("links.probe_timeout", 10*time.Second)
	v.SetDefault("links.rps", 5.0)
	v.SetDefault("links.burst", 2)
	v.SetDefault("links.sentinel_status", 500)
	v.SetDefault("report.engine", "chromedp")
	v.SetDefault("report.timezone", "UTC")
	v.SetDefault("report.locale_layout", "Jan 2, 2006, 3:04:05 PM")
	v.SetDefault("jobs.backend", "memory")
	v.SetDefault("jobs.table", "scan_jobs")
	v.SetDefault("artifacts.backend", "memory")
	v.SetDefault("artifacts.bucket", "reports")
	v.SetDefault("artifacts.local.base_dir", "reports")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("supabase.schema", "public")
	v.SetDefault("progress.enabled", false)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 256)
	v.SetDefault("progress.batch.max_events", 32)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 2000)
	v.SetDefault("ops.enabled", false)
	v.SetDefault("ops.port", 9090)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "auditly-worker")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be > 0")
	}
	if c.Worker.JobTimeout < 0 {
		return fmt.Errorf("worker.job_timeout must be >= 0")
	}
	if c.Pipeline.CheckTimeout <= 0 {
		return fmt.Errorf("pipeline.check_timeout must be > 0")
	}
	if !oneOf(c.Pipeline.Engine, "chromedp", "playwright") {
		return fmt.Errorf("pipeline.engine %q is not supported", c.Pipeline.Engine)
	}
	if !oneOf(c.Report.Engine, "chromedp", "playwright", "native") {
		return fmt.Errorf("report.engine %q is not supported", c.Report.Engine)
	}
	if _, err := time.LoadLocation(c.Report.Timezone); err != nil {
		return fmt.Errorf("report.timezone: %w", err)
	}
	if c.Links.Concurrency <= 0 {
		return fmt.Errorf("links.concurrency must be > 0")
	}
	if c.Lighthouse.Port <= 0 {
		return fmt.Errorf("lighthouse.port must be > 0")
	}
	// The check deadline would cut the run short before this one fires.
	if c.Lighthouse.Timeout < 0 || c.Lighthouse.Timeout > c.Pipeline.CheckTimeout {
		return fmt.Errorf("lighthouse.timeout must be between 0 and pipeline.check_timeout")
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateArtifacts(); err != nil {
		return err
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Ops.Enabled && c.Ops.Port <= 0 {
		return fmt.Errorf("ops.port must be > 0 when ops is enabled")
	}
	return nil
}

func (c Config) validateJobs() error {
	switch c.Jobs.Backend {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres job backend")
		}
	case "supabase":
		if err := c.requireSupabase("jobs"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("jobs.backend %q is not supported", c.Jobs.Backend)
	}
	return nil
}

func (c Config) validateArtifacts() error {
	switch c.Artifacts.Backend {
	case "memory":
	case "local":
		if c.Artifacts.Local.BaseDir == "" {
			return fmt.Errorf("artifacts.local.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Artifacts.Bucket == "" {
			return fmt.Errorf("artifacts.bucket is required for the gcs backend")
		}
	case "supabase":
		if err := c.requireSupabase("artifacts"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("artifacts.backend %q is not supported", c.Artifacts.Backend)
	}
	return nil
}

func (c Config) requireSupabase(section string) error {
	if c.Supabase.URL == "" || c.Supabase.ServiceKey == "" {
		return fmt.Errorf("supabase.url and supabase.service_key are required for the %s supabase backend", section)
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
