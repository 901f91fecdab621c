// File: internal/bot/challenge.go
package bot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/basketman23/suno-automation/internal/locator"
	"github.com/basketman23/suno-automation/internal/status"
)

// ChallengeHandler detects human-verification challenges and waits for
// a person to clear them. Solving is out of scope on purpose: the
// challenge exists to be solved by a human, and the tool's job is only
// to notice it, hold the pipeline, and resume afterwards.
type ChallengeHandler struct {
	wait     time.Duration
	surface  Surface
	resolver *locator.Resolver
	sink     status.Sink
	logger   *zap.Logger

	poll time.Duration
}

// NewChallengeHandler wires a handler with the configured resolution
// window.
func NewChallengeHandler(wait time.Duration, surface Surface, resolver *locator.Resolver, sink status.Sink, logger *zap.Logger) *ChallengeHandler {
	if wait <= 0 {
		wait = 5 * time.Minute
	}
	return &ChallengeHandler{
		wait:     wait,
		surface:  surface,
		resolver: resolver,
		sink:     sink,
		logger:   logger.Named("challenge"),
		poll:     3 * time.Second,
	}
}

// Detect reports whether a challenge is currently on screen.
func (c *ChallengeHandler) Detect(ctx context.Context) bool {
	return c.resolver.Present(ctx, locator.RoleCaptchaFrame) ||
		c.resolver.Present(ctx, locator.RoleCaptchaBanner)
}

// Intercept checks for a live challenge and, when one is present,
// blocks until it is resolved. Returns whether a challenge was handled
// so callers can decide if a submission needs re-verification.
func (c *ChallengeHandler) Intercept(ctx context.Context) (bool, error) {
	if !c.Detect(ctx) {
		return false, nil
	}
	if err := c.awaitResolution(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// awaitResolution holds until the challenge markers disappear or the
// window closes.
func (c *ChallengeHandler) awaitResolution(ctx context.Context) error {
	c.logger.Warn("Challenge detected, waiting for human resolution",
		zap.Duration("window", c.wait))
	c.surface.Screenshot("challenge-presented")
	c.sink.Emit(status.New(status.StatusChallengePresented,
		"solve the challenge in the browser window", nil))

	deadline := time.Now().Add(c.wait)
	for {
		if !c.surface.Alive() {
			return ErrSessionLost
		}
		if !c.Detect(ctx) {
			c.logger.Info("Challenge cleared")
			c.sink.Emit(status.New(status.StatusChallengeResolved, "challenge cleared", nil))
			return nil
		}
		if time.Now().After(deadline) {
			c.surface.Screenshot("challenge-timeout")
			return ErrChallengeTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.poll):
		}
	}
}
