// File: internal/bot/poll.go
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/basketman23/suno-automation/internal/config"
	"github.com/basketman23/suno-automation/internal/locator"
	"github.com/basketman23/suno-automation/internal/status"
)

// listingEntry is one row of the song listing as scanned from the DOM.
// The listing does not reliably expose the submitted title, so an entry
// carries only its generation state.
type listingEntry struct {
	Generating bool `json:"generating"`
	Complete   bool `json:"complete"`
}

// Poller waits for a submitted job to finish generating by watching
// the song listing. There is no completion API to ask; the listing is
// the only signal, so classification is strictly positional: the
// freshly submitted job occupies the newest row, wearing a generating
// badge until done. Identity is ordering, never title text.
type Poller struct {
	cfg       config.GenerationConfig
	surface   Surface
	resolver  *locator.Resolver
	challenge *ChallengeHandler
	sink      status.Sink
	logger    *zap.Logger

	// scanWindow bounds how deep into the listing each scan looks. The
	// job we wait for is always near the top; a deep scan only risks
	// matching stale rows.
	scanWindow int
}

// NewPoller wires a completion poller.
func NewPoller(cfg config.GenerationConfig, surface Surface, resolver *locator.Resolver, challenge *ChallengeHandler, sink status.Sink, logger *zap.Logger) *Poller {
	return &Poller{
		cfg:        cfg,
		surface:    surface,
		resolver:   resolver,
		challenge:  challenge,
		sink:       sink,
		logger:     logger.Named("poll"),
		scanWindow: 10,
	}
}

// AwaitCompletion blocks until the newest listing row stops generating
// and shows a completion control, a challenge times out, the session
// dies, or the polling budget runs out. Each iteration refreshes the
// listing view; challenge resolution time is credited back to the
// budget.
func (p *Poller) AwaitCompletion(ctx context.Context, job JobRequest) error {
	deadline := time.Now().Add(p.cfg.MaxWait)
	p.sink.Emit(status.New(status.StatusGenerating, "waiting for generation to finish", map[string]any{
		"job_id": job.ID, "max_wait": p.cfg.MaxWait.String(),
	}))

	for {
		if !p.surface.Alive() {
			return ErrSessionLost
		}

		challengeStart := time.Now()
		handled, err := p.challenge.Intercept(ctx)
		if err != nil {
			return err
		}
		if handled {
			deadline = deadline.Add(time.Since(challengeStart))
		}

		// The listing does not update itself reliably while generation
		// runs in the background; a stale DOM would poll forever.
		if err := p.surface.Reload(); err != nil {
			if !p.surface.Alive() {
				return ErrSessionLost
			}
			p.logger.Debug("Listing refresh failed, scanning current DOM", zap.Error(err))
		}

		entries, err := p.scanListing(ctx)
		if err != nil {
			p.logger.Debug("Listing scan failed, will retry", zap.Error(err))
		} else if done := p.classify(entries); done {
			p.logger.Info("Generation complete", zap.String("job_id", job.ID))
			return nil
		}

		if time.Now().After(deadline) {
			p.surface.Screenshot("generation-timeout")
			return fmt.Errorf("job %q: %w", job.ID, ErrGenerationTimeout)
		}
		if err := sleepCtx(ctx, p.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// classify decides completion from one scan: the newest row must have
// shed its generating badge and show a positive completion control.
// Badge absence alone is not enough; a failed generation also loses
// its badge but never gains the play/edit controls.
func (p *Poller) classify(entries []listingEntry) bool {
	if len(entries) == 0 {
		return false
	}
	head := entries[0]
	return !head.Generating && head.Complete
}

// scanListing reads the top of the song listing in one page evaluation.
func (p *Poller) scanListing(ctx context.Context) ([]listingEntry, error) {
	rowMatch, err := p.resolver.Resolve(ctx, locator.RoleListingRow)
	if err != nil {
		// No rows yet is a normal early state, not a failure.
		return nil, nil
	}

	js := listingScanJS(
		rowMatch.Selector,
		p.resolver.Union(locator.RoleGeneratingBadge),
		p.resolver.Union(locator.RoleCompletionMarker),
		p.scanWindow,
	)

	var raw string
	if err := p.surface.Evaluate(ctx, js, &raw); err != nil {
		return nil, err
	}

	var entries []listingEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decoding listing scan: %w", err)
	}
	return entries, nil
}

// listingScanJS builds the one-shot scan expression. The duration
// regex backs up the completion selectors: a rendered m:ss runtime is
// as strong a done-signal as any control the row exposes.
func listingScanJS(rowSelector, badgeSelector, completeSelector string, window int) string {
	return fmt.Sprintf(`(() => {
		const rows = Array.from(document.querySelectorAll(%s)).slice(0, %d);
		return JSON.stringify(rows.map(row => ({
			generating: !!row.querySelector(%s),
			complete: !!row.querySelector(%s) || /\b\d+:\d{2}\b/.test(row.textContent || ''),
		})));
	})()`, strconv.Quote(rowSelector), window, strconv.Quote(badgeSelector), strconv.Quote(completeSelector))
}
