// Package lighthouse scores a page by attaching the Lighthouse CLI to a
// dedicated headless Chrome that lives only for the duration of one run.
package lighthouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/lalchand07/Auditly/internal/audit"
	"github.com/lalchand07/Auditly/internal/browser"
)

// Category identifiers as Lighthouse reports them.
const (
	CategoryPerformance   = "performance"
	CategorySEO           = "seo"
	CategoryBestPractices = "best-practices"
	CategoryAccessibility = "accessibility"
)

// DefaultCategories lists the scored categories.
var DefaultCategories = []string{
	CategoryPerformance,
	CategorySEO,
	CategoryBestPractices,
	CategoryAccessibility,
}

// Config controls a Lighthouse run.
type Config struct {
	Binary     string
	Port       int
	ChromePath string
	Categories []string
	Timeout    time.Duration
}

// CommandRunner executes an external program and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// BrowserLauncher starts a browser exposing a DevTools port. Stop must
// terminate the process.
type BrowserLauncher interface {
	Launch(ctx context.Context, port int) (stop func(), err error)
}

// Runner produces category scores for a URL.
type Runner struct {
	cfg      Config
	cmd      CommandRunner
	launcher BrowserLauncher
	logger   *zap.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithCommandRunner replaces the process runner.
func WithCommandRunner(cmd CommandRunner) Option {
	return func(r *Runner) { r.cmd = cmd }
}

// WithLauncher replaces the browser launcher.
func WithLauncher(l BrowserLauncher) Option {
	return func(r *Runner) { r.launcher = l }
}

// New builds a Runner with defaults applied.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Runner {
	if cfg.Binary == "" {
		cfg.Binary = "lighthouse"
	}
	if cfg.Port <= 0 {
		cfg.Port = 9222
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = DefaultCategories
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		cfg:      cfg,
		cmd:      execRunner{},
		launcher: &ChromeLauncher{ExecPath: cfg.ChromePath},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Scores launches Chrome, runs Lighthouse against url and shuts Chrome down
// before returning.
func (r *Runner) Scores(ctx context.Context, url string) (audit.Scores, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	stop, err := r.launcher.Launch(ctx, r.cfg.Port)
	if err != nil {
		return audit.Scores{}, fmt.Errorf("launch chrome for lighthouse: %w", err)
	}
	defer stop()

	start := time.Now()
	out, err := r.cmd.Run(ctx, r.cfg.Binary, r.args(url)...)
	if err != nil {
		return audit.Scores{}, fmt.Errorf("run lighthouse: %w", err)
	}
	scores, err := ParseReport(out)
	if err != nil {
		return audit.Scores{}, err
	}
	r.logger.Debug("lighthouse finished",
		zap.String("url", url),
		zap.Duration("duration", time.Since(start)),
		zap.Int("performance", scores.Performance),
		zap.Int("seo", scores.SEO),
	)
	return scores, nil
}

func (r *Runner) args(url string) []string {
	return []string{
		url,
		"--port=" + strconv.Itoa(r.cfg.Port),
		"--output=json",
		"--output-path=stdout",
		"--only-categories=" + strings.Join(r.cfg.Categories, ","),
		"--quiet",
	}
}

type report struct {
	Categories map[string]struct {
		Score *float64 `json:"score"`
	} `json:"categories"`
	RuntimeError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"runtimeError"`
}

// ParseReport extracts the four scores from a Lighthouse JSON report. A null
// score maps to 0.
func ParseReport(data []byte) (audit.Scores, error) {
	var rep report
	if err := json.Unmarshal(data, &rep); err != nil {
		return audit.Scores{}, fmt.Errorf("decode lighthouse report: %w", err)
	}
	if rep.RuntimeError != nil && rep.RuntimeError.Code != "" {
		return audit.Scores{}, fmt.Errorf("lighthouse runtime error %s: %s", rep.RuntimeError.Code, rep.RuntimeError.Message)
	}
	score := func(name string) (int, error) {
		cat, ok := rep.Categories[name]
		if !ok {
			return 0, fmt.Errorf("lighthouse report missing category %q", name)
		}
		return ToPercent(cat.Score), nil
	}
	var (
		scores audit.Scores
		errs   []error
		err    error
	)
	if scores.Performance, err = score(CategoryPerformance); err != nil {
		errs = append(errs, err)
	}
	if scores.SEO, err = score(CategorySEO); err != nil {
		errs = append(errs, err)
	}
	if scores.BestPractices, err = score(CategoryBestPractices); err != nil {
		errs = append(errs, err)
	}
	if scores.Accessibility, err = score(CategoryAccessibility); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return audit.Scores{}, errors.Join(errs...)
	}
	return scores, nil
}

// ToPercent maps a fractional score to 0..100. Halves round away from zero.
func ToPercent(score *float64) int {
	if score == nil || math.IsNaN(*score) {
		return 0
	}
	v := int(math.Round(*score * 100))
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, lastLine(msg))
		}
		return nil, err
	}
	return out, nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// ChromeLauncher starts headless Chrome through chromedp with a fixed
// remote debugging port.
type ChromeLauncher struct {
	ExecPath string
}

// Launch implements BrowserLauncher.
func (l *ChromeLauncher) Launch(ctx context.Context, port int) (func(), error) {
	opts := append(browser.AllocatorOptions(l.ExecPath),
		chromedp.Flag("remote-debugging-port", strconv.Itoa(port)),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	stop := func() {
		browserCancel()
		allocCancel()
	}
	release := context.AfterFunc(ctx, stop)
	defer release()
	if err := chromedp.Run(browserCtx); err != nil {
		stop()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return stop, nil
}
