// Package locator resolves semantic UI roles against a page whose
// markup is undocumented and drifts without notice. Each role carries
// an ordered list of selector candidates; resolution takes the first
// candidate with a visible, interactable match. Breadth of candidates
// plus loud diagnostics on exhaustion stand in for markup guarantees
// the target site never made.
package locator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound reports that every candidate for a role was exhausted.
// Callers decide whether that is fatal: a missing title field is
// cosmetic, a missing style field kills the job.
var ErrNotFound = errors.New("locator: no visible match for role")

// NotFoundError carries the exhaustion details for diagnostics.
type NotFoundError struct {
	Role  Role
	Tried []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("locator: no visible match for role %q (tried %d candidates: %s)",
		e.Role, len(e.Tried), strings.Join(e.Tried, ", "))
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Match is a successful resolution: the selector that matched, kept
// for diagnostics and for driving the actual interaction.
type Match struct {
	Role     Role
	Selector string
}

// Probe is the seam to the live page. Production backs it with
// chromedp; tests substitute a scripted fake.
type Probe interface {
	// VisibleMatch reports whether the selector currently has at least
	// one visible, enabled match.
	VisibleMatch(ctx context.Context, selector string) (bool, error)

	// CaptureDiagnostics records the page state (screenshot, live
	// element census) under the given label. Best effort.
	CaptureDiagnostics(ctx context.Context, label string)
}

// Resolver resolves roles using a candidate set and a probe.
type Resolver struct {
	candidates *CandidateSet
	probe      Probe
	logger     *zap.Logger

	// perCandidate bounds how long a single candidate may take to
	// become visible before the next one is tried.
	perCandidate time.Duration

	// pollInterval is how often a candidate is re-probed within its
	// window.
	pollInterval time.Duration
}

// NewResolver builds a Resolver with the standard 1.5s per-candidate
// window.
func NewResolver(candidates *CandidateSet, probe Probe, logger *zap.Logger) *Resolver {
	return &Resolver{
		candidates:   candidates,
		probe:        probe,
		logger:       logger.Named("locator"),
		perCandidate: 1500 * time.Millisecond,
		pollInterval: 150 * time.Millisecond,
	}
}

// WithTimeouts overrides the per-candidate window and poll interval.
// Mainly for tests and for roles known to render slowly.
func (r *Resolver) WithTimeouts(perCandidate, pollInterval time.Duration) *Resolver {
	clone := *r
	clone.perCandidate = perCandidate
	clone.pollInterval = pollInterval
	return &clone
}

// Resolve tries each candidate for the role in priority order and
// returns the first that reports a visible match. On exhaustion it
// captures diagnostics and returns a *NotFoundError wrapping
// ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, role Role) (Match, error) {
	candidates := r.candidates.Candidates(role)
	if len(candidates) == 0 {
		return Match{}, &NotFoundError{Role: role}
	}

	for _, selector := range candidates {
		ok, err := r.awaitVisible(ctx, selector)
		if err != nil {
			// Context cancellation outranks the fallback walk.
			if ctx.Err() != nil {
				return Match{}, ctx.Err()
			}
			r.logger.Debug("Candidate probe errored, trying next",
				zap.String("role", string(role)),
				zap.String("selector", selector),
				zap.Error(err),
			)
			continue
		}
		if ok {
			r.logger.Debug("Role resolved",
				zap.String("role", string(role)),
				zap.String("selector", selector),
			)
			return Match{Role: role, Selector: selector}, nil
		}
	}

	r.logger.Warn("Role exhausted all selector candidates",
		zap.String("role", string(role)),
		zap.Int("candidates", len(candidates)),
	)
	r.probe.CaptureDiagnostics(ctx, "locator-miss-"+string(role))
	return Match{}, &NotFoundError{Role: role, Tried: candidates}
}

// TryResolve is Resolve for optional elements: a clean miss returns a
// zero Match and false instead of an error.
func (r *Resolver) TryResolve(ctx context.Context, role Role) (Match, bool, error) {
	m, err := r.Resolve(ctx, role)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Match{}, false, nil
		}
		return Match{}, false, err
	}
	return m, true, nil
}

// Present reports whether a role currently has a visible match, using
// a single probe pass rather than the full per-candidate window. Used
// by pollers that run on their own schedule.
func (r *Resolver) Present(ctx context.Context, role Role) bool {
	for _, selector := range r.candidates.Candidates(role) {
		ok, err := r.probe.VisibleMatch(ctx, selector)
		if err == nil && ok {
			return true
		}
	}
	return false
}

// CandidatesFor exposes the ordered candidate list for a role, for
// callers that need to scope selectors under a parent match.
func (r *Resolver) CandidatesFor(role Role) []string {
	return r.candidates.Candidates(role)
}

// Union joins every candidate for a role into one selector group,
// usable wherever a single querySelector argument is needed and
// priority order does not matter.
func (r *Resolver) Union(role Role) string {
	return strings.Join(r.candidates.Candidates(role), ", ")
}

// awaitVisible re-probes one selector until it matches or its window
// closes.
func (r *Resolver) awaitVisible(ctx context.Context, selector string) (bool, error) {
	deadline := time.Now().Add(r.perCandidate)
	for {
		ok, err := r.probe.VisibleMatch(ctx, selector)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}
}

// VisibleMatchJS builds the JavaScript expression the production probe
// evaluates: the selector must match an element that takes up space,
// is not display:none/visibility:hidden, and is not disabled. Exported
// for the browser package's probe implementation.
func VisibleMatchJS(selector string) string {
	return fmt.Sprintf(`(() => {
		const els = document.querySelectorAll(%s);
		for (const el of els) {
			const r = el.getBoundingClientRect();
			if (r.width === 0 || r.height === 0) continue;
			const cs = window.getComputedStyle(el);
			if (cs.display === 'none' || cs.visibility === 'hidden') continue;
			if (el.disabled) continue;
			return true;
		}
		return false;
	})()`, strconv.Quote(selector))
}
