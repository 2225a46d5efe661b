package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// DefaultQuietPeriod is how long a tab must go without requests to count as
// idle. It matches Playwright's networkidle.
const DefaultQuietPeriod = 500 * time.Millisecond

const idlePoll = 50 * time.Millisecond

// NetworkIdle tracks in-flight requests on a tab.
type NetworkIdle struct {
	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	last     time.Time
	now      func() time.Time
}

// WatchNetwork starts tracking requests on a tab opened by Tab. Call it
// before the actions whose traffic should be awaited.
func WatchNetwork(tab context.Context) *NetworkIdle {
	w := newNetworkIdle(time.Now)
	chromedp.ListenTarget(tab, w.observe)
	return w
}

func newNetworkIdle(now func() time.Time) *NetworkIdle {
	return &NetworkIdle{
		inflight: make(map[network.RequestID]struct{}),
		last:     now(),
		now:      now,
	}
}

func (w *NetworkIdle) observe(ev any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		w.inflight[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(w.inflight, e.RequestID)
	case *network.EventLoadingFailed:
		delete(w.inflight, e.RequestID)
	default:
		return
	}
	w.last = w.now()
}

func (w *NetworkIdle) idle(quiet time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inflight) == 0 && w.now().Sub(w.last) >= quiet
}

// Wait returns an action that blocks until no request has been in flight
// for quiet.
func (w *NetworkIdle) Wait(quiet time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(idlePoll)
		defer ticker.Stop()
		for !w.idle(quiet) {
			select {
			case <-ctx.Done():
				return fmt.Errorf("wait for network idle: %w", ctx.Err())
			case <-ticker.C:
			}
		}
		return nil
	})
}
