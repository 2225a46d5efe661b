// Package browser provides the headless browsing sessions used by audit
// checks and report printing, plus the HEAD prober used for link checks.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/lalchand07/Auditly/internal/audit"
)

// Config controls the headless browser.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	// ExecPath overrides the Chrome binary. Empty uses chromedp's lookup.
	ExecPath string
}

// ChromedpFactory opens tabs in a shared headless Chrome.
type ChromedpFactory struct {
	cfg         Config
	prober      *Prober
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a session factory backed by chromedp. The browser
// process starts lazily with the first tab.
func NewChromedp(cfg Config, prober *Prober) (*ChromedpFactory, error) {
	if prober == nil {
		return nil, errors.New("prober is required")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), AllocatorOptions(cfg.ExecPath)...)
	return &ChromedpFactory{
		cfg:         cfg,
		prober:      prober,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// AllocatorOptions returns the Chrome flags shared by every headless launch.
func AllocatorOptions(execPath string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}
	return opts
}

// Close shuts the browser down.
func (f *ChromedpFactory) Close() {
	f.allocCancel()
}

// Tab starts a browser with a blank tab and applies the configured user
// agent. The returned context drives the tab; cancel closes it.
func (f *ChromedpFactory) Tab(ctx context.Context) (context.Context, context.CancelFunc, error) {
	tabCtx, cancel := chromedp.NewContext(f.allocator)
	// The first Run allocates the browser and binds its lifetime to tabCtx,
	// so it must not run on a derived context.
	stop := context.AfterFunc(ctx, cancel)
	err := chromedp.Run(tabCtx, f.networkSetupAction())
	stop()
	if err != nil {
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, nil, fmt.Errorf("open browser tab: %w", err)
	}
	return tabCtx, cancel, nil
}

// Open implements audit.SessionFactory.
func (f *ChromedpFactory) Open(ctx context.Context) (audit.Session, error) {
	tabCtx, cancel, err := f.Tab(ctx)
	if err != nil {
		return nil, err
	}
	return &chromedpSession{
		tab:        tabCtx,
		cancel:     cancel,
		prober:     f.prober,
		navTimeout: f.cfg.NavigationTimeout,
	}, nil
}

func (f *ChromedpFactory) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

type chromedpSession struct {
	tab        context.Context
	cancel     context.CancelFunc
	prober     *Prober
	navTimeout time.Duration
}

func (s *chromedpSession) Navigate(ctx context.Context, url string) (audit.Response, error) {
	var resp *network.Response
	err := run(ctx, s.tab, chromedp.ActionFunc(func(runCtx context.Context) error {
		navCtx, cancel := context.WithTimeout(runCtx, s.navTimeout)
		defer cancel()
		r, err := chromedp.RunResponse(navCtx, chromedp.Navigate(url))
		if err != nil {
			return err
		}
		resp = r
		return nil
	}))
	if err != nil {
		return audit.Response{}, fmt.Errorf("navigate %s: %w", url, err)
	}
	if resp == nil {
		return audit.Response{}, fmt.Errorf("navigate %s: no document response", url)
	}
	return audit.Response{
		URL:     resp.URL,
		Status:  int(resp.Status),
		Headers: flattenHeaders(resp.Headers),
	}, nil
}

func (s *chromedpSession) QueryText(ctx context.Context, selector string) ([]string, error) {
	var out []string
	if err := s.Evaluate(ctx, queryTextScript(selector), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *chromedpSession) QueryAttribute(ctx context.Context, selector, name string) (*string, error) {
	var out *string
	if err := s.Evaluate(ctx, queryAttributeScript(selector, name), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *chromedpSession) QueryAttributeAll(ctx context.Context, selector, name string) ([]string, error) {
	var out []string
	if err := s.Evaluate(ctx, queryAttributeAllScript(selector, name), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *chromedpSession) Evaluate(ctx context.Context, expression string, out any) error {
	if err := run(ctx, s.tab, chromedp.Evaluate(expression, out)); err != nil {
		return fmt.Errorf("evaluate script: %w", err)
	}
	return nil
}

func (s *chromedpSession) ProbeHead(ctx context.Context, url string) (int, error) {
	return s.prober.Head(ctx, url)
}

func (s *chromedpSession) Close(context.Context) error {
	s.cancel()
	return nil
}

// RunInTab runs actions on a tab opened by Tab, bounded by ctx.
func RunInTab(ctx, tab context.Context, actions ...chromedp.Action) error {
	return run(ctx, tab, actions...)
}

// run executes actions on tab while honoring the caller's cancellation and
// deadline. Canceling the derived context does not close the tab.
func run(ctx, tab context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(tab)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var stop context.CancelFunc
		runCtx, stop = context.WithDeadline(runCtx, deadline)
		defer stop()
	}
	release := context.AfterFunc(ctx, cancel)
	defer release()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func flattenHeaders(src network.Headers) http.Header {
	headers := http.Header{}
	for key, value := range src {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	return headers
}
