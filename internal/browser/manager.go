// File: internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/basketman23/suno-automation/internal/browser/stealth"
	"github.com/basketman23/suno-automation/internal/config"
	"github.com/basketman23/suno-automation/internal/locator"
)

// Manager owns one Chrome process and one page for the lifetime of a
// batch. The persisted user-data-dir profile makes the authenticated
// session survive process restarts, which is the whole point: login is
// the most detection-sensitive step and we want to do it rarely.
//
// The profile directory is exclusive to one live process; a second
// process on the same profile is an operator error, not something the
// manager tries to lock against.
type Manager struct {
	cfg         config.BrowserConfig
	logger      *zap.Logger
	downloadDir string
	debugDir    string

	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	startOnce sync.Once
	startErr  error
	closeOnce sync.Once

	mu      sync.Mutex
	waiters []*downloadWaiter
}

// Download describes one completed browser download.
type Download struct {
	GUID              string
	SuggestedFilename string
	Path              string
}

type downloadWaiter struct {
	ch   chan Download
	once sync.Once
}

// NewManager creates a manager; the browser is not launched until
// Start.
func NewManager(cfg config.BrowserConfig, downloadDir string, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		logger:      logger.Named("browser"),
		downloadDir: downloadDir,
		debugDir:    filepath.Join(downloadDir, "debug"),
	}
}

// Start launches Chrome on the persisted profile, applies the stealth
// persona, and wires download events. Safe to call more than once; the
// first result wins.
func (m *Manager) Start(parent context.Context) error {
	m.startOnce.Do(func() {
		m.startErr = m.start(parent)
	})
	return m.startErr
}

func (m *Manager) start(parent context.Context) error {
	if err := os.MkdirAll(m.downloadDir, 0o755); err != nil {
		return fmt.Errorf("browser: creating download dir: %w", err)
	}
	if err := os.MkdirAll(m.debugDir, 0o755); err != nil {
		return fmt.Errorf("browser: creating debug dir: %w", err)
	}
	if m.cfg.ProfileDir != "" {
		if err := os.MkdirAll(m.cfg.ProfileDir, 0o755); err != nil {
			return fmt.Errorf("browser: creating profile dir: %w", err)
		}
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.UserDataDir(m.cfg.ProfileDir),
		chromedp.WindowSize(m.cfg.WindowWidth, m.cfg.WindowHeight),
	)
	opts = append(opts, stealth.LaunchFlags()...)
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}
	for _, arg := range m.cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(parent, opts...)
	m.ctx, m.cancel = chromedp.NewContext(m.allocCtx,
		chromedp.WithLogf(func(format string, v ...interface{}) {
			m.logger.Debug(fmt.Sprintf("[chrome] "+format, v...))
		}),
	)

	// First Run starts the browser process.
	if err := chromedp.Run(m.ctx, stealth.Apply(stealth.DefaultPersona, m.logger)); err != nil {
		m.teardown()
		return fmt.Errorf("browser: launching chrome: %w", err)
	}

	// Route downloads into our directory, named by GUID, with events
	// so the artifact retriever can observe completion.
	err := chromedp.Run(m.ctx,
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(m.downloadDir).
			WithEventsEnabled(true),
	)
	if err != nil {
		m.teardown()
		return fmt.Errorf("browser: configuring download behavior: %w", err)
	}

	m.listenDownloads()

	m.logger.Info("Browser session started",
		zap.Bool("headless", m.cfg.Headless),
		zap.String("profile", m.cfg.ProfileDir),
	)
	return nil
}

// listenDownloads forwards completed-download events to registered
// waiters.
func (m *Manager) listenDownloads() {
	type pending struct {
		guid     string
		filename string
	}
	var pmu sync.Mutex
	inFlight := map[string]pending{}

	chromedp.ListenTarget(m.ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *cdpbrowser.EventDownloadWillBegin:
			pmu.Lock()
			inFlight[e.GUID] = pending{guid: e.GUID, filename: e.SuggestedFilename}
			pmu.Unlock()
			m.logger.Debug("Download beginning",
				zap.String("guid", e.GUID),
				zap.String("filename", e.SuggestedFilename),
			)
		case *cdpbrowser.EventDownloadProgress:
			if e.State != cdpbrowser.DownloadProgressStateCompleted {
				return
			}
			pmu.Lock()
			p, ok := inFlight[e.GUID]
			delete(inFlight, e.GUID)
			pmu.Unlock()
			if !ok {
				p = pending{guid: e.GUID}
			}
			m.deliverDownload(Download{
				GUID:              p.guid,
				SuggestedFilename: p.filename,
				Path:              filepath.Join(m.downloadDir, p.guid),
			})
		}
	})
}

func (m *Manager) deliverDownload(d Download) {
	m.mu.Lock()
	waiters := m.waiters
	m.waiters = nil
	m.mu.Unlock()

	for _, w := range waiters {
		w.once.Do(func() {
			w.ch <- d
			close(w.ch)
		})
	}
}

// AwaitDownload registers interest in the next completed download and
// returns a channel that yields it. Register before triggering the
// download interaction, or the event can be missed. The returned
// cancel function releases the waiter if no download arrives.
func (m *Manager) AwaitDownload() (<-chan Download, func()) {
	w := &downloadWaiter{ch: make(chan Download, 1)}
	m.mu.Lock()
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		for i, cur := range m.waiters {
			if cur == w {
				m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
	}
	return w.ch, cancel
}

// Context returns the page context for running chromedp actions.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Alive reports whether the page/browser is still open. The operator
// closing the window kills the context, which every polling loop must
// treat as fatal.
func (m *Manager) Alive() bool {
	return m.ctx != nil && m.ctx.Err() == nil
}

// Navigate drives the page to url, bounded by the configured
// navigation timeout.
func (m *Manager) Navigate(url string) error {
	timeout := m.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	ctx, cancel := context.WithTimeout(m.ctx, timeout)
	defer cancel()

	m.logger.Debug("Navigating", zap.String("url", url))
	if err := chromedp.Run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("browser: navigating to %s: %w", url, err)
	}
	return nil
}

// CurrentURL returns the page's current location.
func (m *Manager) CurrentURL() (string, error) {
	ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()

	var loc string
	if err := chromedp.Run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("browser: reading location: %w", err)
	}
	return loc, nil
}

// Reload refreshes the current page.
func (m *Manager) Reload() error {
	timeout := m.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	ctx, cancel := context.WithTimeout(m.ctx, timeout)
	defer cancel()

	if err := chromedp.Run(ctx, chromedp.Reload()); err != nil {
		return fmt.Errorf("browser: reloading page: %w", err)
	}
	return nil
}

// Screenshot writes a full-viewport capture under the debug directory,
// named by label and timestamp. Best effort: failures are logged, not
// returned, because screenshots only ever accompany another error.
func (m *Manager) Screenshot(label string) {
	if !m.Alive() {
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		m.logger.Warn("Screenshot capture failed", zap.String("label", label), zap.Error(err))
		return
	}

	name := fmt.Sprintf("%s-%s.png", label, time.Now().Format("20060102-150405"))
	path := filepath.Join(m.debugDir, name)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		m.logger.Warn("Screenshot write failed", zap.String("path", path), zap.Error(err))
		return
	}
	m.logger.Info("Debug screenshot written", zap.String("path", path))
}

// Evaluate runs a JavaScript expression on the page and decodes the
// result into res. A nil res discards the result.
func (m *Manager) Evaluate(ctx context.Context, expr string, res interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
	defer cancel()

	action := chromedp.Evaluate(expr, res)
	if res == nil {
		var discard interface{}
		action = chromedp.Evaluate(expr, &discard)
	}
	if err := chromedp.Run(runCtx, action); err != nil {
		return fmt.Errorf("browser: evaluating expression: %w", err)
	}
	return nil
}

// Close releases the browser. The profile directory persists so the
// next run can reuse the session. Idempotent.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.logger.Info("Closing browser session")
		m.teardown()
	})
}

func (m *Manager) teardown() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}
}

// -- locator.Probe implementation --

var _ locator.Probe = (*Manager)(nil)

// VisibleMatch evaluates the visibility probe for one selector.
func (m *Manager) VisibleMatch(ctx context.Context, selector string) (bool, error) {
	runCtx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()

	// Caller cancellation still applies even though chromedp actions
	// run on the manager's context.
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var ok bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(locator.VisibleMatchJS(selector), &ok)); err != nil {
		return false, fmt.Errorf("browser: visibility probe for %q: %w", selector, err)
	}
	return ok, nil
}

// CaptureDiagnostics records a screenshot and a census of interactable
// elements so selector drift can be debugged from logs alone.
func (m *Manager) CaptureDiagnostics(ctx context.Context, label string) {
	m.Screenshot(label)

	if err := ctx.Err(); err != nil {
		return
	}
	runCtx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()

	census := `(() => {
		const tags = ['button', 'input', 'textarea', 'a', 'iframe'];
		const out = {};
		for (const t of tags) out[t] = document.querySelectorAll(t).length;
		out.url = location.href;
		return JSON.stringify(out);
	})()`

	var summary string
	if err := chromedp.Run(runCtx, chromedp.Evaluate(census, &summary)); err != nil {
		m.logger.Warn("Element census failed", zap.String("label", label), zap.Error(err))
		return
	}
	m.logger.Warn("Page diagnostics",
		zap.String("label", label),
		zap.String("census", summary),
	)
}
