// Package audittest provides in-memory fakes of the audit collaborator
// interfaces for use in tests.
package audittest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/lalchand07/Auditly/internal/audit"
)

// Session is a scripted audit.Session. Zero values answer with empty
// results; set the Err fields to force failures.
type Session struct {
	Response audit.Response
	// Texts maps selector to QueryText results.
	Texts map[string][]string
	// Attrs maps selector to the first-match attribute value.
	Attrs map[string]*string
	// AttrAll maps selector to QueryAttributeAll results.
	AttrAll map[string][]string
	// Evals maps an expression to the value it evaluates to.
	Evals map[string]any
	// Probes maps URL to HEAD status. Missing URLs return 200.
	Probes map[string]int
	// ProbeErrs maps URL to a network-level probe failure.
	ProbeErrs map[string]error

	NavigateErr error
	QueryErr    error
	EvalErr     error
	// Block makes every call wait for ctx cancellation.
	Block bool
	// BlockQueries limits Block to the Query* methods.
	BlockQueries bool

	mu       sync.Mutex
	visited  []string
	probed   []string
	closed   int
	inFlight int
	peak     int
}

var _ audit.Session = (*Session)(nil)

func (s *Session) wait(ctx context.Context) error {
	if !s.Block {
		return ctx.Err()
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *Session) waitQuery(ctx context.Context) error {
	if s.BlockQueries {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.wait(ctx)
}

// Navigate records the URL and returns Response.
func (s *Session) Navigate(ctx context.Context, url string) (audit.Response, error) {
	if err := s.wait(ctx); err != nil {
		return audit.Response{}, err
	}
	s.mu.Lock()
	s.visited = append(s.visited, url)
	s.mu.Unlock()
	if s.NavigateErr != nil {
		return audit.Response{}, s.NavigateErr
	}
	resp := s.Response
	if resp.Headers == nil {
		resp.Headers = http.Header{}
	}
	if resp.URL == "" {
		resp.URL = url
	}
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	return resp, nil
}

// QueryText returns Texts[selector].
func (s *Session) QueryText(ctx context.Context, selector string) ([]string, error) {
	if err := s.waitQuery(ctx); err != nil {
		return nil, err
	}
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	return append([]string(nil), s.Texts[selector]...), nil
}

// QueryAttribute returns Attrs[selector].
func (s *Session) QueryAttribute(ctx context.Context, selector, _ string) (*string, error) {
	if err := s.waitQuery(ctx); err != nil {
		return nil, err
	}
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	return s.Attrs[selector], nil
}

// QueryAttributeAll returns AttrAll[selector].
func (s *Session) QueryAttributeAll(ctx context.Context, selector, _ string) ([]string, error) {
	if err := s.waitQuery(ctx); err != nil {
		return nil, err
	}
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	return append([]string(nil), s.AttrAll[selector]...), nil
}

// Evaluate decodes Evals[expression] into out. Unknown expressions evaluate
// to false for *bool and to the zero value otherwise.
func (s *Session) Evaluate(ctx context.Context, expression string, out any) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	if s.EvalErr != nil {
		return s.EvalErr
	}
	value, ok := s.Evals[expression]
	if !ok || out == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode fake value: %w", err)
	}
	return json.Unmarshal(data, out)
}

// ProbeHead returns Probes[url] or ProbeErrs[url].
func (s *Session) ProbeHead(ctx context.Context, url string) (int, error) {
	s.mu.Lock()
	s.probed = append(s.probed, url)
	s.inFlight++
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	if err := s.ProbeErrs[url]; err != nil {
		return 0, err
	}
	if status, ok := s.Probes[url]; ok {
		return status, nil
	}
	return http.StatusOK, nil
}

// Close counts calls.
func (s *Session) Close(context.Context) error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

// Visited returns navigated URLs in order.
func (s *Session) Visited() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visited...)
}

// Probed returns probed URLs in call order.
func (s *Session) Probed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.probed...)
}

// Closed reports how many times Close was called.
func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// PeakProbes reports the highest number of concurrent probes observed.
func (s *Session) PeakProbes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

// Factory hands out a fixed Session.
type Factory struct {
	Session *Session
	Err     error

	mu     sync.Mutex
	opened int
}

// Open returns Session or Err.
func (f *Factory) Open(context.Context) (audit.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.opened++
	return f.Session, nil
}

// Opened reports successful Open calls.
func (f *Factory) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}
