package bot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/basketman23/suno-automation/internal/config"
	"github.com/basketman23/suno-automation/internal/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubAuth struct {
	err   error
	calls atomic.Int32
	block chan struct{} // when non-nil, EnsureAuthenticated waits on it
}

func (s *stubAuth) EnsureAuthenticated(ctx context.Context) error {
	s.calls.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

type stubDirector struct {
	mu        sync.Mutex
	submitted []string
	errByID   map[string]error
}

func (s *stubDirector) Submit(_ context.Context, job JobRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, job.ID)
	return s.errByID[job.ID]
}

type stubPoller struct {
	errByID map[string]error
}

func (s *stubPoller) AwaitCompletion(_ context.Context, job JobRequest) error {
	return s.errByID[job.ID]
}

type stubFetcher struct {
	errByID map[string]error
	perJob  int
}

func (s *stubFetcher) Fetch(_ context.Context, job JobRequest, variantCount int) ([]Artifact, error) {
	if err := s.errByID[job.ID]; err != nil {
		return nil, err
	}
	n := s.perJob
	if n == 0 {
		n = variantCount
	}
	out := make([]Artifact, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Artifact{VariantIndex: i, Path: "x", Size: 1})
	}
	return out, nil
}

func testBatchConfig() *config.Config {
	return &config.Config{
		Generation: config.GenerationConfig{
			InterJobDelay: time.Millisecond,
			VariantCount:  2,
		},
	}
}

func newTestBot(t *testing.T, auth Authenticator, dir Submitter, poll CompletionWaiter, fetch ArtifactFetcher, sink status.Sink, release func()) *Bot {
	t.Helper()
	if sink == nil {
		sink = status.NopSink
	}
	b := New(testBatchConfig(), auth, dir, poll, fetch, sink, release, zaptest.NewLogger(t))
	b.jobGrace = 0
	return b
}

func jobs(ids ...string) []JobRequest {
	out := make([]JobRequest, 0, len(ids))
	for _, id := range ids {
		out = append(out, JobRequest{ID: id, Style: "any"})
	}
	return out
}

func TestRunBatchCompletesAllJobs(t *testing.T) {
	dir := &stubDirector{}
	sink := &recordingSink{}
	b := newTestBot(t, &stubAuth{}, dir, &stubPoller{}, &stubFetcher{}, sink, nil)

	result, err := b.RunBatch(context.Background(), jobs("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, 3, result.Completed)
	assert.Equal(t, 0, result.Failed)
	assert.False(t, result.Aborted)
	assert.Equal(t, []string{"a", "b", "c"}, dir.submitted)
	assert.True(t, sink.has(status.StatusBatchComplete))

	for _, r := range result.Results {
		assert.Len(t, r.Artifacts, 2, "variant count flows from config")
	}
}

func TestRunBatchIsolatesJobFailures(t *testing.T) {
	dir := &stubDirector{errByID: map[string]error{"b": errors.New("style field vanished")}}
	sink := &recordingSink{}
	b := newTestBot(t, &stubAuth{}, dir, &stubPoller{}, &stubFetcher{}, sink, nil)

	result, err := b.RunBatch(context.Background(), jobs("a", "b", "c"))
	require.NoError(t, err, "per-job failures must not surface as batch errors")
	assert.Equal(t, 2, result.Completed)
	assert.Equal(t, 1, result.Failed)
	assert.False(t, result.Aborted)
	assert.Equal(t, []string{"a", "b", "c"}, dir.submitted, "the batch keeps going past a failed job")
	assert.True(t, sink.has(status.StatusJobFailed))
	assert.True(t, sink.has(status.StatusBatchComplete))
}

func TestRunBatchAbortsOnSessionFatalError(t *testing.T) {
	dir := &stubDirector{errByID: map[string]error{"b": ErrSessionLost}}
	sink := &recordingSink{}
	b := newTestBot(t, &stubAuth{}, dir, &stubPoller{}, &stubFetcher{}, sink, nil)

	result, err := b.RunBatch(context.Background(), jobs("a", "b", "c"))
	require.ErrorIs(t, err, ErrSessionLost)
	assert.True(t, result.Aborted)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, []string{"a", "b"}, dir.submitted, "job c must never run")

	// The job that never ran still carries the fatal error.
	require.Len(t, result.Results, 3)
	assert.ErrorIs(t, result.Results[2].Err, ErrSessionLost)
	assert.True(t, sink.has(status.StatusStopped))
}

func TestRunBatchContinuesAfterRateLimitedJob(t *testing.T) {
	dir := &stubDirector{errByID: map[string]error{"a": ErrRateLimited}}
	sink := &recordingSink{}
	b := newTestBot(t, &stubAuth{}, dir, &stubPoller{}, &stubFetcher{}, sink, nil)

	result, err := b.RunBatch(context.Background(), jobs("a", "b"))
	require.NoError(t, err, "a rate-limited job must not surface as a batch error")
	assert.False(t, result.Aborted)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"a", "b"}, dir.submitted, "the batch moves on to the next job")
	assert.True(t, sink.has(status.StatusRateLimited), "the caller still gets the distinct back-off signal")
	assert.True(t, sink.has(status.StatusBatchComplete))
}

func TestRunBatchAbortsWhenAuthFails(t *testing.T) {
	dir := &stubDirector{}
	b := newTestBot(t, &stubAuth{err: ErrLoginTimeout}, dir, &stubPoller{}, &stubFetcher{}, nil, nil)

	result, err := b.RunBatch(context.Background(), jobs("a", "b"))
	require.ErrorIs(t, err, ErrLoginTimeout)
	assert.True(t, result.Aborted)
	assert.Equal(t, 2, result.Failed)
	assert.Empty(t, dir.submitted)
}

func TestRunBatchReleasesExactlyOnce(t *testing.T) {
	var releases atomic.Int32
	b := newTestBot(t, &stubAuth{}, &stubDirector{}, &stubPoller{}, &stubFetcher{}, nil, func() {
		releases.Add(1)
	})

	_, err := b.RunBatch(context.Background(), jobs("a"))
	require.NoError(t, err)
	b.Release()
	b.Release()
	assert.Equal(t, int32(1), releases.Load())
}

func TestRunBatchRejectsConcurrentBatch(t *testing.T) {
	block := make(chan struct{})
	auth := &stubAuth{block: block}
	b := newTestBot(t, auth, &stubDirector{}, &stubPoller{}, &stubFetcher{}, nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = b.RunBatch(context.Background(), jobs("a"))
	}()

	// Wait until the first batch is inside authentication.
	require.Eventually(t, b.Busy, time.Second, 5*time.Millisecond)

	_, err := b.RunBatch(context.Background(), jobs("b"))
	require.ErrorIs(t, err, ErrBatchInFlight)

	close(block)
	<-done
	assert.False(t, b.Busy())
}

func TestRunBatchAssignsJobIDs(t *testing.T) {
	dir := &stubDirector{}
	b := newTestBot(t, &stubAuth{}, dir, &stubPoller{}, &stubFetcher{}, nil, nil)

	result, err := b.RunBatch(context.Background(), []JobRequest{{Style: "ambient"}})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.NotEmpty(t, result.Results[0].Job.ID)
	require.Len(t, dir.submitted, 1)
	assert.NotEmpty(t, dir.submitted[0])
}

func TestRunBatchStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dir := &stubDirector{}
	poller := &blockingPoller{release: make(chan struct{})}
	b := newTestBot(t, &stubAuth{}, dir, poller, &stubFetcher{}, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := b.RunBatch(ctx, jobs("a", "b"))
		done <- err
	}()

	require.Eventually(t, func() bool { return poller.waiting.Load() }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("batch did not stop on cancellation")
	}
	assert.Equal(t, []string{"a"}, dir.submitted, "job b must never start")
}

type blockingPoller struct {
	waiting atomic.Bool
	release chan struct{}
}

func (p *blockingPoller) AwaitCompletion(ctx context.Context, _ JobRequest) error {
	p.waiting.Store(true)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.release:
		return nil
	}
}
