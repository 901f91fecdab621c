// File: internal/browser/executor.go
package browser

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"github.com/basketman23/suno-automation/internal/humanoid"
)

// execBridge adapts the manager's page context to the interaction
// executor: every primitive runs through chromedp.Run so the CDP
// target is attached, while the caller's context still cancels waits.
type execBridge struct {
	m *Manager
}

var _ humanoid.Executor = (*execBridge)(nil)

// Executor returns the interaction executor bound to this session.
func (m *Manager) Executor() humanoid.Executor {
	return &execBridge{m: m}
}

func (b *execBridge) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.m.ctx.Done():
		return b.m.ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (b *execBridge) DispatchMouseEvent(ctx context.Context, p *input.DispatchMouseEventParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(b.m.ctx, chromedp.ActionFunc(func(c context.Context) error {
		return p.Do(c)
	}))
}

func (b *execBridge) SendKeys(ctx context.Context, keys string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(b.m.ctx, chromedp.SendKeys("document.activeElement", keys, chromedp.ByJSPath))
}

func (b *execBridge) Evaluate(ctx context.Context, expression string, res any) error {
	return b.m.Evaluate(ctx, expression, res)
}
