// File: internal/humanoid/executor.go
package humanoid

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

// Executor is the seam between the interaction model and the live
// browser. Production uses CDPExecutor; tests substitute a recorder.
type Executor interface {
	// Sleep pauses execution for a given duration (context-aware).
	Sleep(ctx context.Context, d time.Duration) error

	// DispatchMouseEvent sends a raw low-level mouse event.
	DispatchMouseEvent(ctx context.Context, p *input.DispatchMouseEventParams) error

	// SendKeys types text into the currently focused element.
	SendKeys(ctx context.Context, keys string) error

	// Evaluate runs a JavaScript expression, optionally decoding the
	// result into res.
	Evaluate(ctx context.Context, expression string, res any) error
}

// CDPExecutor is the production implementation backed by chromedp.
type CDPExecutor struct{}

// NewCDPExecutor creates a production-ready executor.
func NewCDPExecutor() *CDPExecutor {
	return &CDPExecutor{}
}

func (e *CDPExecutor) Sleep(ctx context.Context, d time.Duration) error {
	return chromedp.Sleep(d).Do(ctx)
}

func (e *CDPExecutor) DispatchMouseEvent(ctx context.Context, p *input.DispatchMouseEventParams) error {
	return p.Do(ctx)
}

func (e *CDPExecutor) SendKeys(ctx context.Context, keys string) error {
	return chromedp.SendKeys("document.activeElement", keys, chromedp.ByJSPath).Do(ctx)
}

func (e *CDPExecutor) Evaluate(ctx context.Context, expression string, res any) error {
	if res == nil {
		return chromedp.Evaluate(expression, nil).Do(ctx)
	}
	return chromedp.Evaluate(expression, res).Do(ctx)
}
