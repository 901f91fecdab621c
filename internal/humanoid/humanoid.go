// Package humanoid wraps raw pointer and keyboard primitives with
// randomized pacing and curved cursor travel so scripted interaction
// resembles a person at a desk. The delays are detection-evasion
// heuristics; a cooperative page behaves identically without them.
package humanoid

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"github.com/chromedp/cdproto/input"
	"go.uber.org/zap"

	"github.com/basketman23/suno-automation/internal/config"
)

// Humanoid drives one page's pointer and keyboard. Not safe for
// concurrent use; the whole system interacts with one page at a time.
type Humanoid struct {
	cfg    config.HumanoidConfig
	exec   Executor
	logger *zap.Logger

	mu          sync.Mutex
	pos         Vector2D
	rng         *rand.Rand
	noiseX      *perlin.Perlin
	noiseY      *perlin.Perlin
	noiseOffset float64
}

// New creates a Humanoid. A nil executor defaults to the production
// CDP-backed one.
func New(cfg config.HumanoidConfig, exec Executor, logger *zap.Logger) *Humanoid {
	if exec == nil {
		exec = NewCDPExecutor()
	}
	seed := time.Now().UnixNano()
	return &Humanoid{
		cfg:    cfg,
		exec:   exec,
		logger: logger.Named("humanoid"),
		rng:    rand.New(rand.NewSource(seed)),
		noiseX: perlin.NewPerlin(2, 2, 3, seed),
		noiseY: perlin.NewPerlin(2, 2, 3, seed+1),
		// Start off-screen-ish top left, as a fresh window would.
		pos: Vector2D{X: 12, Y: 12},
	}
}

// ElementBox is the viewport-relative geometry of an element.
type ElementBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the box.
func (b ElementBox) Center() Vector2D {
	return Vector2D{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Click moves the pointer to the element in two legs (approach point
// near the box, then center with jitter) with randomized pauses, then
// presses.
func (h *Humanoid) Click(ctx context.Context, selector string) error {
	box, err := h.elementBox(ctx, selector)
	if err != nil {
		return fmt.Errorf("humanoid: locating %q for click: %w", selector, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Leg one: approach a point just off the element.
	approach := Vector2D{
		X: box.X + h.rng.Float64()*box.Width,
		Y: box.Y - 8 - h.rng.Float64()*24,
	}
	if err := h.moveTo(ctx, approach); err != nil {
		return err
	}
	if err := h.pause(ctx); err != nil {
		return err
	}

	// Leg two: settle on the center, never pixel-perfect.
	target := box.Center()
	target.X += (h.rng.Float64() - 0.5) * minf(box.Width/3, 8)
	target.Y += (h.rng.Float64() - 0.5) * minf(box.Height/3, 6)
	if err := h.moveTo(ctx, target); err != nil {
		return err
	}
	if err := h.pause(ctx); err != nil {
		return err
	}

	return h.press(ctx, target)
}

// Hover moves the pointer onto the element without pressing. Needed to
// reveal hover-only controls such as contextual menu triggers.
func (h *Humanoid) Hover(ctx context.Context, selector string) error {
	box, err := h.elementBox(ctx, selector)
	if err != nil {
		return fmt.Errorf("humanoid: locating %q for hover: %w", selector, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.moveTo(ctx, box.Center()); err != nil {
		return err
	}
	return h.pause(ctx)
}

// Type focuses the element with a click, clears any existing content,
// inserts text character by character with randomized delay, then
// dispatches input and change events explicitly. The explicit dispatch
// matters: some frontend frameworks only react to synthetic events,
// not to the value landing in the field.
func (h *Humanoid) Type(ctx context.Context, selector string, text string) error {
	if err := h.Click(ctx, selector); err != nil {
		return err
	}

	if err := h.exec.Evaluate(ctx, clearFieldJS(selector), nil); err != nil {
		return fmt.Errorf("humanoid: clearing %q: %w", selector, err)
	}

	for _, r := range text {
		if err := h.exec.SendKeys(ctx, string(r)); err != nil {
			return fmt.Errorf("humanoid: typing into %q: %w", selector, err)
		}
		delay := h.randomDelay(h.cfg.KeyDelayMinMs, h.cfg.KeyDelayMaxMs)
		if err := h.exec.Sleep(ctx, delay); err != nil {
			return err
		}
	}

	if err := h.exec.Evaluate(ctx, notifyFieldJS(selector), nil); err != nil {
		return fmt.Errorf("humanoid: dispatching input events on %q: %w", selector, err)
	}
	return nil
}

// PressKeys sends key chords (literal runes or the chromedp/kb special
// key strings) to the focused element, pacing between presses.
func (h *Humanoid) PressKeys(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if err := h.exec.SendKeys(ctx, k); err != nil {
			return fmt.Errorf("humanoid: pressing key: %w", err)
		}
		if err := h.exec.Sleep(ctx, h.randomDelay(h.cfg.KeyDelayMinMs, h.cfg.KeyDelayMaxMs)); err != nil {
			return err
		}
	}
	return nil
}

// ScrollIntoView brings the element into the viewport with smooth
// behavior and waits for the scroll to settle.
func (h *Humanoid) ScrollIntoView(ctx context.Context, selector string) error {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.scrollIntoView({behavior: 'smooth', block: 'center'});
		return true;
	})()`, strconv.Quote(selector))

	var ok bool
	if err := h.exec.Evaluate(ctx, js, &ok); err != nil {
		return fmt.Errorf("humanoid: scrolling to %q: %w", selector, err)
	}
	if !ok {
		return fmt.Errorf("humanoid: scroll target %q not found", selector)
	}
	// Smooth scrolling is asynchronous; give it time to finish.
	return h.exec.Sleep(ctx, h.randomDelay(350, 700))
}

// moveTo walks the pointer along a generated path, emitting one CDP
// mousemove per step.
func (h *Humanoid) moveTo(ctx context.Context, target Vector2D) error {
	if !h.cfg.Enabled {
		// Pacing disabled: jump straight there with a single move.
		h.pos = target
		return h.exec.DispatchMouseEvent(ctx, input.DispatchMouseEvent(input.MouseMoved, target.X, target.Y))
	}

	steps := h.cfg.PathSteps
	if steps < 2 {
		steps = 12
	}
	h.noiseOffset += 7.3
	path := GeneratePath(h.pos, target, steps, h.cfg.JitterPx, h.noiseX, h.noiseY, h.noiseOffset)

	stepPause := time.Duration(3+h.rng.Intn(6)) * time.Millisecond
	for _, p := range path {
		if err := h.exec.DispatchMouseEvent(ctx, input.DispatchMouseEvent(input.MouseMoved, p.X, p.Y)); err != nil {
			return err
		}
		if err := h.exec.Sleep(ctx, stepPause); err != nil {
			return err
		}
	}
	h.pos = target
	return nil
}

// press dispatches the press/release pair with a short randomized hold.
func (h *Humanoid) press(ctx context.Context, at Vector2D) error {
	down := input.DispatchMouseEvent(input.MousePressed, at.X, at.Y).
		WithButton(input.Left).
		WithClickCount(1)
	if err := h.exec.DispatchMouseEvent(ctx, down); err != nil {
		return err
	}

	hold := time.Duration(40+h.rng.Intn(80)) * time.Millisecond
	if err := h.exec.Sleep(ctx, hold); err != nil {
		return err
	}

	up := input.DispatchMouseEvent(input.MouseReleased, at.X, at.Y).
		WithButton(input.Left).
		WithClickCount(1)
	return h.exec.DispatchMouseEvent(ctx, up)
}

func (h *Humanoid) pause(ctx context.Context) error {
	if !h.cfg.Enabled {
		return nil
	}
	return h.exec.Sleep(ctx, h.randomDelay(h.cfg.MoveDelayMinMs, h.cfg.MoveDelayMaxMs))
}

// randomDelay draws from [minMs, maxMs]. Disabled pacing collapses to
// a minimal fixed delay so event ordering is preserved.
func (h *Humanoid) randomDelay(minMs, maxMs int) time.Duration {
	if !h.cfg.Enabled {
		return time.Millisecond
	}
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	return time.Duration(minMs+h.rng.Intn(maxMs-minMs)) * time.Millisecond
}

func (h *Humanoid) elementBox(ctx context.Context, selector string) (ElementBox, error) {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return null;
		const r = el.getBoundingClientRect();
		return {x: r.x, y: r.y, width: r.width, height: r.height};
	})()`, strconv.Quote(selector))

	var box *ElementBox
	if err := h.exec.Evaluate(ctx, js, &box); err != nil {
		return ElementBox{}, err
	}
	if box == nil {
		return ElementBox{}, fmt.Errorf("element %q not in DOM", selector)
	}
	return *box, nil
}

// clearFieldJS empties the field through the native value setter so
// framework-managed inputs notice, then announces the change.
func clearFieldJS(selector string) string {
	return fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return;
		const proto = el.tagName === 'TEXTAREA'
			? window.HTMLTextAreaElement.prototype
			: window.HTMLInputElement.prototype;
		const setter = Object.getOwnPropertyDescriptor(proto, 'value');
		if (setter && setter.set) {
			setter.set.call(el, '');
		} else {
			el.value = '';
		}
		el.dispatchEvent(new Event('input', {bubbles: true}));
	})()`, strconv.Quote(selector))
}

// notifyFieldJS dispatches the input/change pair after typing.
func notifyFieldJS(selector string) string {
	return fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
	})()`, strconv.Quote(selector))
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
