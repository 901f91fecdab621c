package bot

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/basketman23/suno-automation/internal/browser"
	"github.com/basketman23/suno-automation/internal/locator"
	"github.com/basketman23/suno-automation/internal/status"
)

// funcProbe routes visibility probes through a closure so tests can
// change page state mid-flow.
type funcProbe struct {
	mu          sync.Mutex
	fn          func(selector string) (bool, error)
	diagnostics []string
}

func (p *funcProbe) VisibleMatch(_ context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fn == nil {
		return false, nil
	}
	return p.fn(selector)
}

func (p *funcProbe) CaptureDiagnostics(_ context.Context, label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.diagnostics = append(p.diagnostics, label)
}

// fakeSurface scripts the browser session.
type fakeSurface struct {
	mu          sync.Mutex
	alive       bool
	currentURL  string
	navigations []string
	reloads     int
	screenshots []string

	// evalFn answers Evaluate by expression; the result is marshalled
	// into the caller's pointer.
	evalFn func(expr string) (any, error)

	// downloads is the queue AwaitDownload drains. With deferDelivery
	// set, queued downloads are handed out only by deliver().
	downloads     []browser.Download
	deferDelivery bool
	waiting       []chan browser.Download
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{alive: true, currentURL: "https://suno.test/create"}
}

func (s *fakeSurface) Navigate(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigations = append(s.navigations, url)
	s.currentURL = url
	return nil
}

func (s *fakeSurface) CurrentURL() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentURL, nil
}

func (s *fakeSurface) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloads++
	return nil
}

func (s *fakeSurface) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

func (s *fakeSurface) setAlive(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = v
}

func (s *fakeSurface) Screenshot(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screenshots = append(s.screenshots, label)
}

func (s *fakeSurface) Evaluate(_ context.Context, expr string, res interface{}) error {
	s.mu.Lock()
	fn := s.evalFn
	s.mu.Unlock()
	if fn == nil {
		return nil
	}
	out, err := fn(expr)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	switch typed := res.(type) {
	case *int:
		*typed = out.(int)
	case *bool:
		*typed = out.(bool)
	case *string:
		*typed = out.(string)
	default:
		raw, err := json.Marshal(out)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, res)
	}
	return nil
}

func (s *fakeSurface) AwaitDownload() (<-chan browser.Download, func()) {
	ch := make(chan browser.Download, 1)
	s.mu.Lock()
	if !s.deferDelivery && len(s.downloads) > 0 {
		d := s.downloads[0]
		s.downloads = s.downloads[1:]
		ch <- d
		close(ch)
	} else {
		s.waiting = append(s.waiting, ch)
	}
	s.mu.Unlock()
	return ch, func() {}
}

// deliver hands the next queued download to the oldest waiter.
func (s *fakeSurface) deliver() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.downloads) == 0 || len(s.waiting) == 0 {
		return
	}
	d := s.downloads[0]
	s.downloads = s.downloads[1:]
	ch := s.waiting[0]
	s.waiting = s.waiting[1:]
	ch <- d
	close(ch)
}

// fakeInteractor records interactions and can fail per selector.
type fakeInteractor struct {
	mu      sync.Mutex
	clicks  []string
	hovers  []string
	typed   map[string]string
	scrolls []string
	keys    []string

	failClick map[string]error
	failType  map[string]error

	// onClick runs after each successful click, letting tests mutate
	// page state in response.
	onClick func(selector string)
}

func newFakeInteractor() *fakeInteractor {
	return &fakeInteractor{typed: map[string]string{}}
}

func (f *fakeInteractor) Click(_ context.Context, selector string) error {
	f.mu.Lock()
	if err := f.failClick[selector]; err != nil {
		f.mu.Unlock()
		return err
	}
	f.clicks = append(f.clicks, selector)
	hook := f.onClick
	f.mu.Unlock()
	if hook != nil {
		hook(selector)
	}
	return nil
}

func (f *fakeInteractor) Hover(_ context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hovers = append(f.hovers, selector)
	return nil
}

func (f *fakeInteractor) Type(_ context.Context, selector, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failType[selector]; err != nil {
		return err
	}
	f.typed[selector] = text
	return nil
}

func (f *fakeInteractor) PressKeys(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, keys...)
	return nil
}

func (f *fakeInteractor) ScrollIntoView(_ context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrolls = append(f.scrolls, selector)
	return nil
}

func (f *fakeInteractor) clickCount(selector string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.clicks {
		if c == selector {
			n++
		}
	}
	return n
}

// recordingSink captures emitted status events.
type recordingSink struct {
	mu     sync.Mutex
	events []status.Event
}

func (r *recordingSink) Emit(e status.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) statuses() []status.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]status.Status, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Status)
	}
	return out
}

func (r *recordingSink) has(s status.Status) bool {
	for _, got := range r.statuses() {
		if got == s {
			return true
		}
	}
	return false
}

func testResolver(t *testing.T, roles map[locator.Role][]string, probe locator.Probe) *locator.Resolver {
	t.Helper()
	cs := &locator.CandidateSet{Roles: roles}
	return locator.NewResolver(cs, probe, zaptest.NewLogger(t)).
		WithTimeouts(30*time.Millisecond, 5*time.Millisecond)
}

// visibleSet builds a probe where exactly the given selectors match.
func visibleSet(selectors ...string) *funcProbe {
	set := map[string]bool{}
	for _, s := range selectors {
		set[s] = true
	}
	return &funcProbe{fn: func(sel string) (bool, error) { return set[sel], nil }}
}
