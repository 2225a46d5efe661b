package checks

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/lalchand07/Auditly/internal/audit"
)

// DefaultSentinelStatus is recorded for links whose probe fails at the
// network level.
const DefaultSentinelStatus = http.StatusInternalServerError

// BrokenLinkCrawler probes every same-origin link on the current page.
type BrokenLinkCrawler struct {
	// Concurrency bounds in-flight probes. Values below 1 mean 1.
	Concurrency int
	// SentinelStatus replaces the status of probes that raise an error.
	SentinelStatus int
}

// Run collects anchors, resolves them against origin and reports every
// probe with status >= 400, in discovery order.
func (c BrokenLinkCrawler) Run(ctx context.Context, sess audit.Session, origin string) (audit.BrokenLinks, error) {
	hrefs, err := sess.QueryAttributeAll(ctx, "a[href]", "href")
	if err != nil {
		return audit.BrokenLinks{}, err
	}
	candidates := SameOriginLinks(origin, hrefs)

	statuses := make([]int, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.Concurrency, 1))
	for i, link := range candidates {
		g.Go(func() error {
			status, err := sess.ProbeHead(gctx, link)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				if errors.Is(err, audit.ErrProbeBudget) {
					return err
				}
				status = c.sentinel()
			}
			statuses[i] = status
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return audit.BrokenLinks{}, err
	}

	result := audit.BrokenLinks{Links: []audit.BrokenLink{}}
	for i, status := range statuses {
		if status >= http.StatusBadRequest {
			result.Links = append(result.Links, audit.BrokenLink{URL: candidates[i], Status: status})
		}
	}
	result.Count = len(result.Links)
	return result, nil
}

func (c BrokenLinkCrawler) sentinel() int {
	if c.SentinelStatus > 0 {
		return c.SentinelStatus
	}
	return DefaultSentinelStatus
}

// SameOriginLinks resolves hrefs against origin and returns the unique
// absolute URLs that share that origin, in first-seen order. Hrefs that do
// not resolve are skipped.
func SameOriginLinks(origin string, hrefs []string) []string {
	base, err := url.Parse(origin)
	if err != nil {
		return nil
	}
	want := audit.Origin(base)
	seen := make(map[string]struct{}, len(hrefs))
	links := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		resolved, err := base.Parse(browserSlashes(strings.TrimSpace(href)))
		if err != nil || resolved.Host == "" {
			continue
		}
		got := audit.Origin(resolved)
		if got != want {
			continue
		}
		resolved.Host = strings.TrimPrefix(got, resolved.Scheme+"://")
		if resolved.Path == "" {
			resolved.Path = "/"
		}
		abs := resolved.String()
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	}
	return links
}

// browserSlashes rewrites backslashes before the query or fragment to
// slashes, as browsers do for http and https URLs. Hrefs with another
// scheme are returned unchanged.
func browserSlashes(href string) string {
	if i := strings.IndexByte(href, ':'); i > 0 && !strings.ContainsAny(href[:i], `/\?#`) {
		scheme := strings.ToLower(href[:i])
		if scheme != "http" && scheme != "https" {
			return href
		}
	}
	end := strings.IndexAny(href, "?#")
	if end < 0 {
		end = len(href)
	}
	return strings.ReplaceAll(href[:end], `\`, "/") + href[end:]
}
