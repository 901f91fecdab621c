package bot

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/basketman23/suno-automation/internal/locator"
	"github.com/basketman23/suno-automation/internal/status"
)

const captchaSel = `iframe[src*="hcaptcha"]`

func challengeRoles() map[locator.Role][]string {
	return map[locator.Role][]string{
		locator.RoleCaptchaFrame:  {captchaSel},
		locator.RoleCaptchaBanner: {`[class*="captcha" i]`},
	}
}

func TestInterceptNoChallenge(t *testing.T) {
	surface := newFakeSurface()
	sink := &recordingSink{}
	resolver := testResolver(t, challengeRoles(), visibleSet())
	h := NewChallengeHandler(time.Second, surface, resolver, sink, zaptest.NewLogger(t))

	handled, err := h.Intercept(context.Background())
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Empty(t, sink.statuses())
}

func TestInterceptWaitsForResolution(t *testing.T) {
	var solved atomic.Bool
	probe := &funcProbe{fn: func(sel string) (bool, error) {
		return sel == captchaSel && !solved.Load(), nil
	}}
	surface := newFakeSurface()
	sink := &recordingSink{}
	resolver := testResolver(t, challengeRoles(), probe)
	h := NewChallengeHandler(5*time.Second, surface, resolver, sink, zaptest.NewLogger(t))
	h.poll = 10 * time.Millisecond

	go func() {
		time.Sleep(30 * time.Millisecond)
		solved.Store(true)
	}()

	handled, err := h.Intercept(context.Background())
	require.NoError(t, err)
	assert.True(t, handled)
	assert.True(t, sink.has(status.StatusChallengePresented))
	assert.True(t, sink.has(status.StatusChallengeResolved))
	assert.Contains(t, surface.screenshots, "challenge-presented")
}

func TestInterceptTimesOut(t *testing.T) {
	probe := visibleSet(captchaSel)
	surface := newFakeSurface()
	sink := &recordingSink{}
	resolver := testResolver(t, challengeRoles(), probe)
	h := NewChallengeHandler(50*time.Millisecond, surface, resolver, sink, zaptest.NewLogger(t))
	h.poll = 10 * time.Millisecond

	handled, err := h.Intercept(context.Background())
	assert.True(t, handled)
	require.ErrorIs(t, err, ErrChallengeTimeout)
	assert.Contains(t, surface.screenshots, "challenge-timeout")
	assert.False(t, sink.has(status.StatusChallengeResolved))
}

func TestInterceptSessionLost(t *testing.T) {
	probe := visibleSet(captchaSel)
	surface := newFakeSurface()
	resolver := testResolver(t, challengeRoles(), probe)
	h := NewChallengeHandler(time.Minute, surface, resolver, &recordingSink{}, zaptest.NewLogger(t))
	h.poll = 10 * time.Millisecond

	go func() {
		time.Sleep(20 * time.Millisecond)
		surface.setAlive(false)
	}()

	_, err := h.Intercept(context.Background())
	require.ErrorIs(t, err, ErrSessionLost)
}

func TestInterceptHonorsCancellation(t *testing.T) {
	probe := visibleSet(captchaSel)
	surface := newFakeSurface()
	resolver := testResolver(t, challengeRoles(), probe)
	h := NewChallengeHandler(time.Minute, surface, resolver, &recordingSink{}, zaptest.NewLogger(t))
	h.poll = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := h.Intercept(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
