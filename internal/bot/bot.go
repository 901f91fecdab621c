// Package bot orchestrates one browser session through a batch of
// song-creation jobs: authenticate once, then for each job submit the
// form, wait out generation, and pull the artifacts. Jobs fail in
// isolation; the session-level failures (lost browser, broken login)
// abort whatever remains.
package bot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/basketman23/suno-automation/internal/config"
	"github.com/basketman23/suno-automation/internal/status"
)

// Authenticator establishes the logged-in session.
type Authenticator interface {
	EnsureAuthenticated(ctx context.Context) error
}

// Submitter fills and submits the creation form.
type Submitter interface {
	Submit(ctx context.Context, job JobRequest) error
}

// CompletionWaiter blocks until a submission finishes generating.
type CompletionWaiter interface {
	AwaitCompletion(ctx context.Context, job JobRequest) error
}

// ArtifactFetcher downloads the finished variants.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, job JobRequest, variantCount int) ([]Artifact, error)
}

// JobResult is the outcome of one job.
type JobResult struct {
	Job       JobRequest
	Artifacts []Artifact
	Err       error
}

// BatchResult is the outcome of a whole run.
type BatchResult struct {
	Results   []JobResult
	Completed int
	Failed    int

	// Aborted is set when a session-fatal error cut the batch short;
	// the remaining jobs carry that error as their result.
	Aborted bool
}

// Bot runs batches. One batch at a time; Busy answers status queries
// from the outside while a batch is in flight.
type Bot struct {
	cfg       *config.Config
	auth      Authenticator
	director  Submitter
	poller    CompletionWaiter
	retriever ArtifactFetcher
	sink      status.Sink
	logger    *zap.Logger

	// release tears down the browser session. Runs exactly once, no
	// matter how the batch ends.
	release     func()
	releaseOnce sync.Once

	busy atomic.Bool

	// jobGrace pads the gap after a failed job before the next one
	// starts. Back-to-back failures look scripted.
	jobGrace time.Duration
}

// New wires an orchestrator. release may be nil.
func New(cfg *config.Config, auth Authenticator, director Submitter, poller CompletionWaiter, retriever ArtifactFetcher, sink status.Sink, release func(), logger *zap.Logger) *Bot {
	if release == nil {
		release = func() {}
	}
	return &Bot{
		cfg:       cfg,
		auth:      auth,
		director:  director,
		poller:    poller,
		retriever: retriever,
		sink:      sink,
		logger:    logger.Named("bot"),
		release:   release,
		jobGrace:  10 * time.Second,
	}
}

// Busy reports whether a batch is currently running.
func (b *Bot) Busy() bool {
	return b.busy.Load()
}

// Release tears the session down. Idempotent; RunBatch also calls it
// on the way out.
func (b *Bot) Release() {
	b.releaseOnce.Do(b.release)
}

// RunBatch authenticates once and runs the jobs sequentially. The
// returned error is the session-fatal error when the batch aborted,
// nil otherwise; per-job failures live in the results.
func (b *Bot) RunBatch(ctx context.Context, jobs []JobRequest) (BatchResult, error) {
	if !b.busy.CompareAndSwap(false, true) {
		return BatchResult{}, ErrBatchInFlight
	}
	defer b.busy.Store(false)
	defer b.Release()

	b.sink.Emit(status.New(status.StatusInitializing, "starting batch", map[string]any{
		"jobs": len(jobs),
	}))

	var result BatchResult
	if err := b.auth.EnsureAuthenticated(ctx); err != nil {
		b.logger.Error("Authentication failed, aborting batch", zap.Error(err))
		b.abortRemaining(&result, jobs, err)
		b.sink.Emit(status.New(status.StatusStopped, "batch aborted before any job ran", nil))
		return result, err
	}

	// Pacing between submissions; the first job passes immediately.
	limiter := rate.NewLimiter(rate.Every(b.cfg.Generation.InterJobDelay), 1)

	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			b.abortRemaining(&result, jobs[i:], err)
			return result, err
		}
		if err := limiter.Wait(ctx); err != nil {
			b.abortRemaining(&result, jobs[i:], err)
			return result, err
		}

		res := b.runJob(ctx, job)
		result.Results = append(result.Results, res)
		if res.Err == nil {
			result.Completed++
			b.sink.Emit(status.New(status.StatusJobComplete, "job finished", map[string]any{
				"job_id": res.Job.ID, "artifacts": len(res.Artifacts),
			}))
			continue
		}

		result.Failed++
		b.sink.Emit(status.New(status.StatusJobFailed, res.Err.Error(), map[string]any{
			"job_id": res.Job.ID,
		}))
		if errors.Is(res.Err, ErrRateLimited) {
			// Distinct signal so the caller can back off; the batch
			// itself keeps its fixed pacing and moves on.
			b.sink.Emit(status.New(status.StatusRateLimited, "target site throttled the submission", map[string]any{
				"job_id": res.Job.ID,
			}))
		}

		if FatalToSession(res.Err) {
			b.logger.Error("Session-fatal failure, aborting remaining jobs",
				zap.String("job_id", res.Job.ID), zap.Error(res.Err))
			b.abortRemaining(&result, jobs[i+1:], res.Err)
			b.sink.Emit(status.New(status.StatusStopped, "batch aborted", nil))
			return result, res.Err
		}

		b.logger.Warn("Job failed, continuing batch after grace period",
			zap.String("job_id", res.Job.ID), zap.Error(res.Err))
		if err := sleepCtx(ctx, b.jobGrace); err != nil {
			b.abortRemaining(&result, jobs[i+1:], err)
			return result, err
		}
	}

	b.sink.Emit(status.New(status.StatusBatchComplete, "batch finished", map[string]any{
		"completed": result.Completed, "failed": result.Failed,
	}))
	return result, nil
}

// runJob takes one job through submit, poll and fetch.
func (b *Bot) runJob(ctx context.Context, job JobRequest) JobResult {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	b.logger.Info("Starting job",
		zap.String("job_id", job.ID),
		zap.String("title", job.Title),
	)

	if err := b.director.Submit(ctx, job); err != nil {
		return JobResult{Job: job, Err: err}
	}
	if err := b.poller.AwaitCompletion(ctx, job); err != nil {
		return JobResult{Job: job, Err: err}
	}
	artifacts, err := b.retriever.Fetch(ctx, job, b.cfg.Generation.VariantCount)
	return JobResult{Job: job, Artifacts: artifacts, Err: err}
}

// abortRemaining records the fatal error against every job that never
// ran.
func (b *Bot) abortRemaining(result *BatchResult, remaining []JobRequest, err error) {
	result.Aborted = true
	for _, job := range remaining {
		result.Results = append(result.Results, JobResult{Job: job, Err: err})
		result.Failed++
	}
}
