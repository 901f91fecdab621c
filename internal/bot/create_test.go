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

const (
	customTabSel   = `button[data-testid="custom-mode-tab"]`
	lyricsSel      = `textarea[data-testid="lyrics-input"]`
	styleSel       = `textarea[data-testid="tag-input"]`
	titleRevealSel = `button[data-testid="show-title"]`
	titleSel       = `input[data-testid="title-input"]`
	createSel      = `button[data-testid="create-button"]`
)

func createRoles() map[locator.Role][]string {
	return map[locator.Role][]string{
		locator.RoleCustomModeTab:    {customTabSel},
		locator.RoleLyricsInput:      {lyricsSel},
		locator.RoleStyleInput:       {styleSel},
		locator.RoleTitleReveal:      {titleRevealSel},
		locator.RoleTitleInput:       {titleSel},
		locator.RoleCreateButton:     {createSel},
		locator.RoleAutomationMarker: {automationSel},
		locator.RoleCaptchaFrame:     {captchaSel},
		locator.RoleCaptchaBanner:    {`[class*="captcha" i]`},
	}
}

func newDirector(t *testing.T, surface *fakeSurface, interact Interactor, probe locator.Probe, sink status.Sink) *Director {
	t.Helper()
	resolver := testResolver(t, createRoles(), probe)
	challenge := NewChallengeHandler(200*time.Millisecond, surface, resolver, sink, zaptest.NewLogger(t))
	challenge.poll = 10 * time.Millisecond
	d := NewDirector("https://suno.test", surface, interact, resolver, challenge, sink, zaptest.NewLogger(t))
	d.settle = 0
	return d
}

func fullFormProbe() *funcProbe {
	return visibleSet(customTabSel, lyricsSel, styleSel, titleSel, createSel)
}

func TestSubmitFillsFormInOrder(t *testing.T) {
	surface := newFakeSurface()
	interact := newFakeInteractor()
	sink := &recordingSink{}
	d := newDirector(t, surface, interact, fullFormProbe(), sink)

	job := JobRequest{ID: "j1", Title: "Midnight Drive", Style: "synthwave", Lyrics: "city lights"}
	require.NoError(t, d.Submit(context.Background(), job))

	assert.Equal(t, []string{"https://suno.test/create"}, surface.navigations)
	assert.Equal(t, 1, interact.clickCount(customTabSel))
	assert.Equal(t, "city lights", interact.typed[lyricsSel])
	assert.Equal(t, "synthwave", interact.typed[styleSel])
	assert.Equal(t, "Midnight Drive", interact.typed[titleSel])
	assert.Equal(t, 1, interact.clickCount(createSel))
	assert.True(t, sink.has(status.StatusSubmitting))
	assert.True(t, sink.has(status.StatusSubmitted))
}

func TestSubmitRejectsJobWithoutStyle(t *testing.T) {
	d := newDirector(t, newFakeSurface(), newFakeInteractor(), fullFormProbe(), &recordingSink{})
	err := d.Submit(context.Background(), JobRequest{ID: "j1", Title: "No Style"})
	require.Error(t, err)
}

func TestSubmitFailsWhenStyleFieldMissing(t *testing.T) {
	probe := visibleSet(customTabSel, createSel)
	d := newDirector(t, newFakeSurface(), newFakeInteractor(), probe, &recordingSink{})

	err := d.Submit(context.Background(), JobRequest{ID: "j1", Style: "ambient"})
	require.ErrorIs(t, err, locator.ErrNotFound)
}

func TestSubmitFailsWhenLyricsProvidedButFieldMissing(t *testing.T) {
	probe := visibleSet(customTabSel, styleSel, createSel)
	d := newDirector(t, newFakeSurface(), newFakeInteractor(), probe, &recordingSink{})

	err := d.Submit(context.Background(), JobRequest{ID: "j1", Style: "ambient", Lyrics: "verse one"})
	require.ErrorIs(t, err, locator.ErrNotFound)
}

func TestSubmitToleratesMissingCustomTabAndTitle(t *testing.T) {
	probe := visibleSet(styleSel, createSel)
	surface := newFakeSurface()
	interact := newFakeInteractor()
	d := newDirector(t, surface, interact, probe, &recordingSink{})

	require.NoError(t, d.Submit(context.Background(), JobRequest{ID: "j1", Title: "Lost Title", Style: "jazz"}))
	assert.Equal(t, "jazz", interact.typed[styleSel])
	assert.NotContains(t, interact.typed, titleSel)
}

func TestSubmitRevealsHiddenTitleField(t *testing.T) {
	var revealed atomic.Bool
	probe := &funcProbe{fn: func(sel string) (bool, error) {
		switch sel {
		case styleSel, createSel, titleRevealSel:
			return true, nil
		case titleSel:
			return revealed.Load(), nil
		}
		return false, nil
	}}
	interact := newFakeInteractor()
	interact.onClick = func(sel string) {
		if sel == titleRevealSel {
			revealed.Store(true)
		}
	}
	d := newDirector(t, newFakeSurface(), interact, probe, &recordingSink{})

	require.NoError(t, d.Submit(context.Background(), JobRequest{ID: "j1", Title: "Hidden", Style: "lofi"}))
	assert.Equal(t, "Hidden", interact.typed[titleSel])
}

func TestSubmitDetectsRateLimitRoute(t *testing.T) {
	surface := newFakeSurface()
	interact := newFakeInteractor()
	interact.onClick = func(sel string) {
		if sel == createSel {
			surface.mu.Lock()
			surface.currentURL = "https://suno.test/rate-limit"
			surface.mu.Unlock()
		}
	}
	d := newDirector(t, surface, interact, fullFormProbe(), &recordingSink{})

	err := d.Submit(context.Background(), JobRequest{ID: "j1", Style: "rock"})
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Contains(t, surface.screenshots, "post-submit-error-route")
}

func TestSubmitSurvivesPostSubmitChallengeWithoutResubmitting(t *testing.T) {
	var submitted, solved atomic.Bool
	probe := &funcProbe{fn: func(sel string) (bool, error) {
		switch sel {
		case styleSel, createSel:
			return true, nil
		case captchaSel:
			return submitted.Load() && !solved.Load(), nil
		}
		return false, nil
	}}
	surface := newFakeSurface()
	interact := newFakeInteractor()
	interact.onClick = func(sel string) {
		if sel == createSel {
			submitted.Store(true)
		}
	}
	sink := &recordingSink{}
	d := newDirector(t, surface, interact, probe, sink)

	go func() {
		time.Sleep(40 * time.Millisecond)
		solved.Store(true)
	}()

	require.NoError(t, d.Submit(context.Background(), JobRequest{ID: "j1", Style: "edm"}))
	assert.Equal(t, 1, interact.clickCount(createSel), "challenge resolution must not resubmit")
	assert.True(t, sink.has(status.StatusChallengePresented))
	assert.True(t, sink.has(status.StatusChallengeResolved))
	assert.True(t, sink.has(status.StatusSubmitted))
}
