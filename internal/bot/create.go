// File: internal/bot/create.go
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/basketman23/suno-automation/internal/locator"
	"github.com/basketman23/suno-automation/internal/status"
)

// JobRequest is one song to create. Style is the only hard
// requirement; the site itself refuses a submission without one.
type JobRequest struct {
	ID     string `yaml:"id"`
	Title  string `yaml:"title"`
	Style  string `yaml:"style"`
	Lyrics string `yaml:"lyrics"`
}

// Validate rejects jobs the director cannot submit.
func (j JobRequest) Validate() error {
	if strings.TrimSpace(j.Style) == "" {
		return fmt.Errorf("job %q: style must not be empty", j.ID)
	}
	return nil
}

// Director drives the creation form: mode selection, field fill,
// submission, and the immediate post-submit checks.
type Director struct {
	baseURL   string
	surface   Surface
	interact  Interactor
	resolver  *locator.Resolver
	challenge *ChallengeHandler
	sink      status.Sink
	logger    *zap.Logger

	// settle is the pause after submission before post-submit checks;
	// the site needs a beat to route or raise a challenge.
	settle time.Duration
}

// NewDirector wires a creation director.
func NewDirector(baseURL string, surface Surface, interact Interactor, resolver *locator.Resolver, challenge *ChallengeHandler, sink status.Sink, logger *zap.Logger) *Director {
	return &Director{
		baseURL:   baseURL,
		surface:   surface,
		interact:  interact,
		resolver:  resolver,
		challenge: challenge,
		sink:      sink,
		logger:    logger.Named("create"),
		settle:    2 * time.Second,
	}
}

// Submit fills and submits the creation form for one job. On return
// the submission is accepted by the site; completion is the poller's
// problem.
func (d *Director) Submit(ctx context.Context, job JobRequest) error {
	if err := job.Validate(); err != nil {
		return err
	}

	d.sink.Emit(status.New(status.StatusSubmitting, "filling creation form", map[string]any{
		"job_id": job.ID, "title": job.Title,
	}))

	if err := d.surface.Navigate(d.baseURL + "/create"); err != nil {
		if !d.surface.Alive() {
			return fmt.Errorf("%w: %v", ErrSessionLost, err)
		}
		return fmt.Errorf("opening creation page: %w", err)
	}

	// A challenge can sit on the creation page before we touch anything.
	if _, err := d.challenge.Intercept(ctx); err != nil {
		return err
	}

	if err := d.enterCustomMode(ctx); err != nil {
		return err
	}
	if err := d.fillLyrics(ctx, job); err != nil {
		return err
	}
	if err := d.fillStyle(ctx, job); err != nil {
		return err
	}
	d.fillTitle(ctx, job)

	if err := d.clickCreate(ctx); err != nil {
		return err
	}

	if err := sleepCtx(ctx, d.settle); err != nil {
		return err
	}
	if err := d.postSubmitChecks(ctx); err != nil {
		return err
	}

	d.sink.Emit(status.New(status.StatusSubmitted, "creation form submitted", map[string]any{
		"job_id": job.ID,
	}))
	return nil
}

// enterCustomMode switches the form to custom mode. The tab is absent
// when the site already defaults to custom, so a miss is tolerated.
func (d *Director) enterCustomMode(ctx context.Context) error {
	m, ok, err := d.resolver.TryResolve(ctx, locator.RoleCustomModeTab)
	if err != nil {
		return err
	}
	if !ok {
		d.logger.Debug("Custom mode tab not present, assuming custom form is active")
		return nil
	}
	if err := d.interact.Click(ctx, m.Selector); err != nil {
		return fmt.Errorf("switching to custom mode: %w", err)
	}
	return nil
}

// fillLyrics types the lyrics when the job carries any. A job with
// lyrics but no reachable lyrics field is a failed job: silently
// generating the wrong song is worse than failing loudly.
func (d *Director) fillLyrics(ctx context.Context, job JobRequest) error {
	if strings.TrimSpace(job.Lyrics) == "" {
		return nil
	}
	m, err := d.resolver.Resolve(ctx, locator.RoleLyricsInput)
	if err != nil {
		return fmt.Errorf("locating lyrics field: %w", err)
	}
	if err := d.interact.ScrollIntoView(ctx, m.Selector); err != nil {
		d.logger.Debug("Lyrics scroll failed, typing anyway", zap.Error(err))
	}
	if err := d.interact.Type(ctx, m.Selector, job.Lyrics); err != nil {
		return fmt.Errorf("entering lyrics: %w", err)
	}
	return nil
}

func (d *Director) fillStyle(ctx context.Context, job JobRequest) error {
	m, err := d.resolver.Resolve(ctx, locator.RoleStyleInput)
	if err != nil {
		return fmt.Errorf("locating style field: %w", err)
	}
	if err := d.interact.Type(ctx, m.Selector, job.Style); err != nil {
		return fmt.Errorf("entering style: %w", err)
	}
	return nil
}

// fillTitle is best effort. The site auto-titles untitled songs, so a
// missing or broken title field degrades the result without killing
// the job.
func (d *Director) fillTitle(ctx context.Context, job JobRequest) {
	if strings.TrimSpace(job.Title) == "" {
		return
	}

	m, ok, err := d.resolver.TryResolve(ctx, locator.RoleTitleInput)
	if err != nil || !ok {
		// Some layouts hide the title behind a reveal control.
		reveal, revealOK, rerr := d.resolver.TryResolve(ctx, locator.RoleTitleReveal)
		if rerr != nil || !revealOK {
			d.logger.Warn("Title field unreachable, relying on site auto-title",
				zap.String("title", job.Title))
			return
		}
		if cerr := d.interact.Click(ctx, reveal.Selector); cerr != nil {
			d.logger.Warn("Title reveal click failed", zap.Error(cerr))
			return
		}
		m, ok, err = d.resolver.TryResolve(ctx, locator.RoleTitleInput)
		if err != nil || !ok {
			d.logger.Warn("Title field still unreachable after reveal")
			return
		}
	}

	if err := d.interact.Type(ctx, m.Selector, job.Title); err != nil {
		d.logger.Warn("Title entry failed, relying on site auto-title", zap.Error(err))
	}
}

func (d *Director) clickCreate(ctx context.Context) error {
	m, err := d.resolver.Resolve(ctx, locator.RoleCreateButton)
	if err != nil {
		return fmt.Errorf("locating create button: %w", err)
	}
	if err := d.interact.ScrollIntoView(ctx, m.Selector); err != nil {
		d.logger.Debug("Create button scroll failed, clicking anyway", zap.Error(err))
	}
	if err := d.interact.Click(ctx, m.Selector); err != nil {
		return fmt.Errorf("clicking create: %w", err)
	}
	return nil
}

// postSubmitChecks looks for the two ways a submission dies right
// after the click: a challenge, or a rate-limit/error route. A
// challenge resolved here does not require re-submission; the site
// holds the request while the human solves it.
func (d *Director) postSubmitChecks(ctx context.Context) error {
	if _, err := d.challenge.Intercept(ctx); err != nil {
		return err
	}

	if d.resolver.Present(ctx, locator.RoleAutomationMarker) {
		d.surface.Screenshot("post-submit-blocked")
		return fmt.Errorf("automation block after submit: %w", ErrRateLimited)
	}

	url, err := d.surface.CurrentURL()
	if err != nil {
		if !d.surface.Alive() {
			return fmt.Errorf("%w: %v", ErrSessionLost, err)
		}
		return err
	}
	lower := strings.ToLower(url)
	if strings.Contains(lower, "error") || strings.Contains(lower, "limit") {
		d.surface.Screenshot("post-submit-error-route")
		return fmt.Errorf("post-submit route %q: %w", url, ErrRateLimited)
	}
	return nil
}

// sleepCtx is a cancellation-aware sleep.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
