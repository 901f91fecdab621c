// File: internal/bot/errors.go
package bot

import "errors"

// Sentinel errors separating failures that kill a single job from
// failures that kill the whole session. Callers classify with
// errors.Is; FatalToSession is the canonical classifier.
var (
	// ErrSessionLost means the browser or page is gone, usually because
	// the operator closed the window. Nothing else can run.
	ErrSessionLost = errors.New("browser session lost")

	// ErrRateLimited means the site signalled throttling or an
	// automation block. Fatal to the job, not the batch; the distinct
	// status lets the external caller decide whether to back off.
	ErrRateLimited = errors.New("rate limited or blocked by target site")

	// ErrLoginTimeout means authentication did not complete within the
	// manual-intervention window. Login is never auto-retried.
	ErrLoginTimeout = errors.New("login did not complete in time")

	// ErrChallengeTimeout means a human challenge stayed unresolved past
	// the configured wait. Fatal to the job, not the session.
	ErrChallengeTimeout = errors.New("challenge not resolved in time")

	// ErrGenerationTimeout means the submission never reached a
	// completed state within the polling budget.
	ErrGenerationTimeout = errors.New("generation did not complete in time")

	// ErrEmptyArtifact means a download produced a zero-byte file. The
	// variant is counted as failed; a truncated song is worse than none.
	ErrEmptyArtifact = errors.New("downloaded artifact is empty")

	// ErrBatchInFlight rejects a second concurrent batch. One browser,
	// one page, one batch.
	ErrBatchInFlight = errors.New("a batch is already running")
)

// FatalToSession reports whether the error means the remaining jobs in
// the batch cannot proceed.
func FatalToSession(err error) bool {
	return errors.Is(err, ErrSessionLost) ||
		errors.Is(err, ErrLoginTimeout)
}
