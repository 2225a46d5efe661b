package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/lalchand07/Auditly/internal/audit"
)

// PlaywrightFactory opens pages in a Playwright-driven Chromium.
type PlaywrightFactory struct {
	cfg    Config
	prober *Prober

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewPlaywright creates a session factory. The driver and browser start
// lazily with the first session.
func NewPlaywright(cfg Config, prober *Prober) (*PlaywrightFactory, error) {
	if prober == nil {
		return nil, errors.New("prober is required")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	return &PlaywrightFactory{cfg: cfg, prober: prober}, nil
}

func (f *PlaywrightFactory) ensureBrowser() (playwright.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil && f.browser.IsConnected() {
		return f.browser, nil
	}
	if f.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return nil, fmt.Errorf("start playwright: %w", err)
		}
		f.pw = pw
	}
	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args:     []string{"--no-sandbox", "--disable-dev-shm-usage", "--disable-gpu"},
	}
	if f.cfg.ExecPath != "" {
		opts.ExecutablePath = playwright.String(f.cfg.ExecPath)
	}
	browser, err := f.pw.Chromium.Launch(opts)
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	f.browser = browser
	return browser, nil
}

// Page opens a page in a fresh browser context. Closing the context closes
// the page.
func (f *PlaywrightFactory) Page(_ context.Context) (playwright.BrowserContext, playwright.Page, error) {
	browser, err := f.ensureBrowser()
	if err != nil {
		return nil, nil, err
	}
	ctxOpts := playwright.BrowserNewContextOptions{}
	if f.cfg.UserAgent != "" {
		ctxOpts.UserAgent = playwright.String(f.cfg.UserAgent)
	}
	bctx, err := browser.NewContext(ctxOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("new browser context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, nil, fmt.Errorf("new page: %w", err)
	}
	return bctx, page, nil
}

// Open implements audit.SessionFactory.
func (f *PlaywrightFactory) Open(ctx context.Context) (audit.Session, error) {
	bctx, page, err := f.Page(ctx)
	if err != nil {
		return nil, err
	}
	return &playwrightSession{
		bctx:       bctx,
		page:       page,
		prober:     f.prober,
		navTimeout: f.cfg.NavigationTimeout,
	}, nil
}

// Close stops the browser and the driver.
func (f *PlaywrightFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	if f.browser != nil {
		if err := f.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		f.browser = nil
	}
	if f.pw != nil {
		if err := f.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
		f.pw = nil
	}
	return errors.Join(errs...)
}

// Budget converts the time left on ctx into a Playwright timeout in
// milliseconds, capped at ceiling when ceiling is positive. Playwright reads
// 0 as no timeout, so a spent budget is an error and shorter budgets round
// up to 1ms. A nil result leaves Playwright's default in place.
func Budget(ctx context.Context, ceiling time.Duration) (*float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timeout := ceiling
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, context.DeadlineExceeded
		}
		if timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, nil
	}
	return playwright.Float(float64(max(timeout.Milliseconds(), 1))), nil
}

// Await runs fn until it returns or ctx ends. Playwright calls without a
// timeout option block until the page answers, so on ctx end abort is
// called to unblock fn and ctx's error is returned.
func Await[T any](ctx context.Context, abort func(), fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{value: v, err: err}
	}()
	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		abort()
		var zero T
		return zero, ctx.Err()
	}
}

type playwrightSession struct {
	bctx       playwright.BrowserContext
	page       playwright.Page
	prober     *Prober
	navTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func (s *playwrightSession) Navigate(ctx context.Context, url string) (audit.Response, error) {
	timeout, err := Budget(ctx, s.navTimeout)
	if err != nil {
		return audit.Response{}, fmt.Errorf("navigate %s: %w", url, err)
	}
	resp, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   timeout,
	})
	if err != nil {
		return audit.Response{}, fmt.Errorf("navigate %s: %w", url, err)
	}
	if resp == nil {
		return audit.Response{}, fmt.Errorf("navigate %s: no document response", url)
	}
	raw, err := resp.AllHeaders()
	if err != nil {
		return audit.Response{}, fmt.Errorf("read response headers: %w", err)
	}
	headers := http.Header{}
	for key, value := range raw {
		headers.Add(key, value)
	}
	return audit.Response{URL: resp.URL(), Status: resp.Status(), Headers: headers}, nil
}

func (s *playwrightSession) QueryText(ctx context.Context, selector string) ([]string, error) {
	var out []string
	if err := s.Evaluate(ctx, queryTextScript(selector), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *playwrightSession) QueryAttribute(ctx context.Context, selector, name string) (*string, error) {
	var out *string
	if err := s.Evaluate(ctx, queryAttributeScript(selector, name), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *playwrightSession) QueryAttributeAll(ctx context.Context, selector, name string) ([]string, error) {
	var out []string
	if err := s.Evaluate(ctx, queryAttributeAllScript(selector, name), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *playwrightSession) Evaluate(ctx context.Context, expression string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Closing the context is the only way to interrupt a script that never
	// settles; the session is unusable afterwards.
	value, err := Await(ctx, s.abort, func() (any, error) {
		return s.page.Evaluate(expression)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("evaluate script: %w", err)
	}
	return decodeValue(value, out)
}

func (s *playwrightSession) ProbeHead(ctx context.Context, url string) (int, error) {
	return s.prober.Head(ctx, url)
}

func (s *playwrightSession) abort() {
	s.closeOnce.Do(func() {
		if err := s.bctx.Close(); err != nil {
			s.closeErr = fmt.Errorf("close browser context: %w", err)
		}
	})
}

func (s *playwrightSession) Close(context.Context) error {
	s.abort()
	return s.closeErr
}

// decodeValue copies a loosely typed evaluation result into out.
func decodeValue(value any, out any) error {
	if out == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode evaluation result: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode evaluation result: %w", err)
	}
	return nil
}
