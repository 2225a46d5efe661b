package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/lalchand07/Auditly/internal/metrics"
)

// ProberConfig controls link probe behavior.
type ProberConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// Prober issues HEAD requests through a Colly collector.
type Prober struct {
	cfg           ProberConfig
	limiter       *HostLimiter
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type probeResult struct {
	status int
	err    error
}

// NewProber builds a Prober. A nil limiter disables per-host pacing.
func NewProber(cfg ProberConfig, limiter *HostLimiter) *Prober {
	c := colly.NewCollector(
		colly.Async(false),
		colly.ParseHTTPErrorResponse(),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(newHTTPTransport())
	p := &Prober{
		cfg:           cfg,
		limiter:       limiter,
		baseCollector: c,
	}
	// Clones share the base backend, so the client is configured once here.
	c.SetRequestTimeout(p.timeout())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return p
}

// Head probes url and returns the final status code after redirects.
func (p *Prober) Head(ctx context.Context, url string) (int, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, url); err != nil {
			metrics.ObserveLinkProbe(url, "error")
			return 0, err
		}
	}

	var result probeResult
	collector := p.buildCollector(ctx, &result)
	if err := p.runCollector(ctx, collector, url, &result); err != nil {
		metrics.ObserveLinkProbe(url, "error")
		return 0, err
	}
	outcome := "ok"
	if result.status >= http.StatusBadRequest {
		outcome = "broken"
	}
	metrics.ObserveLinkProbe(url, outcome)
	return result.status, nil
}

func (p *Prober) buildCollector(ctx context.Context, result *probeResult) *colly.Collector {
	collector := p.baseCollector.Clone()
	collector.Context = ctx
	configureProbeHooks(collector, result)
	return collector
}

func configureProbeHooks(hooks collectorHooks, result *probeResult) {
	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			result.status = r.StatusCode
			return
		}
		result.err = err
	})
}

func (p *Prober) runCollector(ctx context.Context, collector *colly.Collector, url string, result *probeResult) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Head(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("head probe canceled: %w", ctx.Err())
	case err := <-done:
		if result.err != nil {
			return fmt.Errorf("head probe failed: %w", result.err)
		}
		if err != nil && result.status == 0 {
			return fmt.Errorf("head probe failed: %w", err)
		}
		if result.status == 0 {
			return errors.New("head probe returned no response")
		}
		return nil
	}
}

func (p *Prober) timeout() time.Duration {
	if p.cfg.Timeout > 0 {
		return p.cfg.Timeout
	}
	return 10 * time.Second
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
