package services

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabgraph/gitminer/internal/core/domain"
	"github.com/collabgraph/gitminer/internal/core/ports/driven"
)

// schedMockFetcher implements driven.Fetcher with a per-call script,
// keyed by unit key. Safe for concurrent workers.
type schedMockFetcher struct {
	mu      sync.Mutex
	scripts map[string][]schedCall
	calls   int

	inFlight    int32
	maxInFlight int32
	delay       time.Duration

	tokens []string
}

type schedCall struct {
	result *driven.FetchResult
	err    error
}

func newSchedMockFetcher() *schedMockFetcher {
	return &schedMockFetcher{scripts: make(map[string][]schedCall)}
}

func (m *schedMockFetcher) script(key string, calls ...schedCall) {
	m.scripts[key] = calls
}

func (m *schedMockFetcher) Fetch(ctx context.Context, spec domain.FetchSpec, token string) (*driven.FetchResult, error) {
	cur := atomic.AddInt32(&m.inFlight, 1)
	defer atomic.AddInt32(&m.inFlight, -1)
	for {
		max := atomic.LoadInt32(&m.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt32(&m.maxInFlight, max, cur) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.tokens = append(m.tokens, token)

	key := domain.UnitKey(spec)
	script := m.scripts[key]
	if len(script) == 0 {
		// Default: success with one record, no further pages.
		return &driven.FetchResult{
			Records: []domain.Record{{UnitKey: key, Kind: spec.Kind, Fields: map[string]any{"id": key}}},
		}, nil
	}
	call := script[0]
	m.scripts[key] = script[1:]
	return call.result, call.err
}

func (m *schedMockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func fastConfig() Config {
	return Config{
		BaseBackoff:   time.Millisecond,
		MaxBackoff:    10 * time.Millisecond,
		ProactiveRate: 10000,
	}
}

func newSchedFixture(t *testing.T, fetcher driven.Fetcher, tokens []string, cfg Config) *Scheduler {
	t.Helper()
	limiter := NewRateLimiter(cfg)
	pool, err := NewCredentialPool(tokens, limiter, cfg)
	require.NoError(t, err)
	exec := NewRequestExecutor(fetcher, pool, cfg)
	policy := NewRetryPolicy(cfg)
	return NewScheduler(pool, limiter, exec, policy, cfg)
}

func seedsFor(kinds []domain.EntityKind, targets ...string) []domain.WorkUnit {
	units, err := SeedUnits(targets, kinds, 100)
	if err != nil {
		panic(err)
	}
	return units
}

func collect(results <-chan Result) map[string]Result {
	out := make(map[string]Result)
	for r := range results {
		out[r.Unit.Key] = r
	}
	return out
}

// TestScheduler_AllUnitsResolve tests that every seed produces exactly
// one result and the stream closes.
func TestScheduler_AllUnitsResolve(t *testing.T) {
	fetcher := newSchedMockFetcher()
	sched := newSchedFixture(t, fetcher, []string{"tok-a"}, fastConfig())

	seeds := seedsFor([]domain.EntityKind{domain.KindPulls, domain.KindIssues},
		"golang/go", "torvalds/linux")

	results, errFn := sched.Run(context.Background(), seeds)
	got := collect(results)

	require.NoError(t, errFn())
	require.Len(t, got, len(seeds))
	for key, r := range got {
		assert.Equal(t, domain.WorkDone, r.Unit.State, "unit %s", key)
	}
}

// TestScheduler_DynamicPagination tests that next pages discovered from
// outcomes are admitted without pre-enumeration.
func TestScheduler_DynamicPagination(t *testing.T) {
	fetcher := newSchedMockFetcher()
	// Page 1 points at page 2, page 2 at page 3, page 3 terminates.
	fetcher.script("prs:golang/go:1", schedCall{result: &driven.FetchResult{
		Records: []domain.Record{{UnitKey: "prs:golang/go:1"}}, NextPage: 2,
	}})
	fetcher.script("prs:golang/go:2", schedCall{result: &driven.FetchResult{
		Records: []domain.Record{{UnitKey: "prs:golang/go:2"}}, NextPage: 3,
	}})

	sched := newSchedFixture(t, fetcher, []string{"tok-a"}, fastConfig())
	seeds := seedsFor([]domain.EntityKind{domain.KindPulls}, "golang/go")

	results, errFn := sched.Run(context.Background(), seeds)
	got := collect(results)

	require.NoError(t, errFn())
	require.Len(t, got, 3)
	assert.Equal(t, domain.WorkDone, got["prs:golang/go:1"].Unit.State)
	assert.Equal(t, domain.WorkDone, got["prs:golang/go:2"].Unit.State)
	assert.Equal(t, domain.WorkDone, got["prs:golang/go:3"].Unit.State)

	// The follow-up page records its parent.
	assert.Equal(t, "prs:golang/go:1", got["prs:golang/go:2"].Unit.ParentKey)
	assert.Equal(t, "prs:golang/go:2", got["prs:golang/go:3"].Unit.ParentKey)
}

// TestScheduler_BoundedConcurrency tests the in-flight invariant under a
// worker pool larger than one.
func TestScheduler_BoundedConcurrency(t *testing.T) {
	fetcher := newSchedMockFetcher()
	fetcher.delay = 5 * time.Millisecond

	cfg := fastConfig()
	cfg.MaxConcurrency = 4
	sched := newSchedFixture(t, fetcher, []string{"tok-a"}, cfg)

	targets := []string{
		"a/1", "a/2", "a/3", "a/4", "a/5",
		"b/1", "b/2", "b/3", "b/4", "b/5",
	}
	seeds := seedsFor([]domain.EntityKind{domain.KindCommits, domain.KindForks}, targets...)

	results, errFn := sched.Run(context.Background(), seeds)
	got := collect(results)

	require.NoError(t, errFn())
	assert.Len(t, got, len(seeds))
	assert.LessOrEqual(t, atomic.LoadInt32(&fetcher.maxInFlight), int32(4))
}

// TestScheduler_TransientRetrySucceeds tests that a unit surviving a
// transient failure is retried and resolves Done.
func TestScheduler_TransientRetrySucceeds(t *testing.T) {
	fetcher := newSchedMockFetcher()
	fetcher.script("issues:golang/go:1",
		schedCall{err: &driven.APIError{StatusCode: http.StatusBadGateway, Message: "bad gateway"}},
		schedCall{result: &driven.FetchResult{Records: []domain.Record{{UnitKey: "issues:golang/go:1"}}}},
	)

	sched := newSchedFixture(t, fetcher, []string{"tok-a"}, fastConfig())
	seeds := seedsFor([]domain.EntityKind{domain.KindIssues}, "golang/go")

	results, errFn := sched.Run(context.Background(), seeds)
	got := collect(results)

	require.NoError(t, errFn())
	r := got["issues:golang/go:1"]
	assert.Equal(t, domain.WorkDone, r.Unit.State)
	assert.Equal(t, 1, r.Unit.Attempts, "one transient attempt consumed")
	assert.Equal(t, 2, fetcher.callCount())
}

// TestScheduler_TransientBudgetExhausted tests that a persistently
// failing unit fails after exactly MaxAttempts executions.
func TestScheduler_TransientBudgetExhausted(t *testing.T) {
	fetcher := newSchedMockFetcher()
	boom := &driven.APIError{StatusCode: http.StatusInternalServerError, Message: "boom"}
	fetcher.script("repo:golang/go",
		schedCall{err: boom}, schedCall{err: boom}, schedCall{err: boom}, schedCall{err: boom},
	)

	cfg := fastConfig()
	cfg.MaxAttempts = 3
	sched := newSchedFixture(t, fetcher, []string{"tok-a"}, cfg)
	seeds := seedsFor([]domain.EntityKind{domain.KindRepo}, "golang/go")

	results, errFn := sched.Run(context.Background(), seeds)
	got := collect(results)

	require.NoError(t, errFn())
	r := got["repo:golang/go"]
	assert.Equal(t, domain.WorkFailed, r.Unit.State)
	assert.NotEmpty(t, r.FailReason)
	assert.Equal(t, 3, fetcher.callCount(), "exactly the attempt budget, no more")
}

// TestScheduler_PermanentFailsImmediately tests that a 404 consumes one
// request and never retries.
func TestScheduler_PermanentFailsImmediately(t *testing.T) {
	fetcher := newSchedMockFetcher()
	fetcher.script("repo:gone/gone",
		schedCall{err: &driven.APIError{StatusCode: http.StatusNotFound, Message: "not found"}},
	)

	sched := newSchedFixture(t, fetcher, []string{"tok-a"}, fastConfig())
	seeds := seedsFor([]domain.EntityKind{domain.KindRepo}, "gone/gone")

	results, errFn := sched.Run(context.Background(), seeds)
	got := collect(results)

	require.NoError(t, errFn())
	assert.Equal(t, domain.WorkFailed, got["repo:gone/gone"].Unit.State)
	assert.Equal(t, 1, fetcher.callCount())
}

// TestScheduler_RateLimitedRetriesAfterCooldown tests that a limited
// unit is requeued and eventually resolves without consuming the retry
// budget.
func TestScheduler_RateLimitedRetriesAfterCooldown(t *testing.T) {
	fetcher := newSchedMockFetcher()
	fetcher.script("stars:golang/go:1",
		schedCall{err: &driven.RateLimitError{RetryAfter: 20 * time.Millisecond}},
		schedCall{result: &driven.FetchResult{Records: []domain.Record{{UnitKey: "stars:golang/go:1"}}}},
	)

	sched := newSchedFixture(t, fetcher, []string{"tok-a"}, fastConfig())
	seeds := seedsFor([]domain.EntityKind{domain.KindStargazers}, "golang/go")

	start := time.Now()
	results, errFn := sched.Run(context.Background(), seeds)
	got := collect(results)

	require.NoError(t, errFn())
	r := got["stars:golang/go:1"]
	assert.Equal(t, domain.WorkDone, r.Unit.State)
	assert.Zero(t, r.Unit.Attempts, "rate limiting does not consume the retry budget")
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond, "cooldown honored")
}

// TestScheduler_AuthRotatesCredential tests that an auth failure retries
// once on a different credential.
func TestScheduler_AuthRotatesCredential(t *testing.T) {
	fetcher := newSchedMockFetcher()
	fetcher.script("repo:golang/go",
		schedCall{err: &driven.APIError{StatusCode: http.StatusUnauthorized, Message: "bad credentials"}},
		schedCall{result: &driven.FetchResult{Records: []domain.Record{{UnitKey: "repo:golang/go"}}}},
	)

	sched := newSchedFixture(t, fetcher, []string{"tok-a", "tok-b"}, fastConfig())
	seeds := seedsFor([]domain.EntityKind{domain.KindRepo}, "golang/go")

	results, errFn := sched.Run(context.Background(), seeds)
	got := collect(results)

	require.NoError(t, errFn())
	assert.Equal(t, domain.WorkDone, got["repo:golang/go"].Unit.State)

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	require.Len(t, fetcher.tokens, 2)
	assert.NotEqual(t, fetcher.tokens[0], fetcher.tokens[1], "second attempt on a different credential")
}

// TestScheduler_AuthFailsAfterRotation tests that a unit rejected by two
// different credentials ends Failed, and the run continues.
func TestScheduler_AuthFailsAfterRotation(t *testing.T) {
	fetcher := newSchedMockFetcher()
	badCreds := &driven.APIError{StatusCode: http.StatusUnauthorized, Message: "bad credentials"}
	fetcher.script("repo:golang/go", schedCall{err: badCreds}, schedCall{err: badCreds})

	sched := newSchedFixture(t, fetcher, []string{"tok-a", "tok-b"}, fastConfig())
	seeds := seedsFor([]domain.EntityKind{domain.KindRepo}, "golang/go", "torvalds/linux")

	results, errFn := sched.Run(context.Background(), seeds)
	got := collect(results)

	require.NoError(t, errFn())
	assert.Equal(t, domain.WorkFailed, got["repo:golang/go"].Unit.State)
	assert.Contains(t, got["repo:golang/go"].FailReason, "authentication")
	assert.Equal(t, domain.WorkDone, got["repo:torvalds/linux"].Unit.State,
		"other units are unaffected")
}

// TestScheduler_AllCredentialsRevokedAborts tests the fatal path: every
// credential dead means the run stops and unfinished units surface as
// Pending.
func TestScheduler_AllCredentialsRevokedAborts(t *testing.T) {
	fetcher := newSchedMockFetcher()
	fetcher.script("repo:golang/go",
		schedCall{err: &driven.APIError{StatusCode: http.StatusUnauthorized, Message: "bad credentials"}},
	)

	cfg := fastConfig()
	cfg.AuthFailureThreshold = 1
	sched := newSchedFixture(t, fetcher, []string{"tok-a"}, cfg)
	seeds := seedsFor([]domain.EntityKind{domain.KindRepo}, "golang/go")

	results, errFn := sched.Run(context.Background(), seeds)
	got := collect(results)

	assert.ErrorIs(t, errFn(), domain.ErrNoCredentials)
	require.Len(t, got, 1)
	assert.Equal(t, domain.WorkPending, got["repo:golang/go"].Unit.State)
}

// TestScheduler_CancellationFlushesQueued tests that cancellation settles
// queued units as Pending instead of dropping them.
func TestScheduler_CancellationFlushesQueued(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	fetcher := newSchedMockFetcher()
	fetcher.delay = 5 * time.Millisecond

	cfg := fastConfig()
	cfg.MaxConcurrency = 1
	sched := newSchedFixture(t, fetcher, []string{"tok-a"}, cfg)

	seeds := seedsFor([]domain.EntityKind{domain.KindRepo},
		"a/1", "a/2", "a/3", "a/4", "a/5")

	results, errFn := sched.Run(ctx, seeds)

	first := <-results
	cancel()
	got := collect(results)
	got[first.Unit.Key] = first

	assert.Error(t, errFn())
	require.Len(t, got, len(seeds), "every seed settles exactly once")

	pending := 0
	for _, r := range got {
		if r.Unit.State == domain.WorkPending {
			pending++
		}
	}
	assert.Greater(t, pending, 0, "queued units surface as Pending")
}

// blockingFetcher parks every request until its context is done, then
// surfaces the context error, mimicking a connector interrupted mid-flight.
type blockingFetcher struct {
	started chan struct{}
	once    sync.Once
}

func (f *blockingFetcher) Fetch(ctx context.Context, _ domain.FetchSpec, _ string) (*driven.FetchResult, error) {
	f.once.Do(func() { close(f.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

// TestScheduler_CancelledInFlightStaysPending tests that cancelling the
// run while a request is in flight settles the unit as Pending rather
// than Failed, even when no retry budget remains.
func TestScheduler_CancelledInFlightStaysPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &blockingFetcher{started: make(chan struct{})}

	cfg := fastConfig()
	cfg.MaxAttempts = 1
	cfg.MaxConcurrency = 1
	sched := newSchedFixture(t, fetcher, []string{"tok-a"}, cfg)
	seeds := seedsFor([]domain.EntityKind{domain.KindRepo}, "golang/go")

	results, errFn := sched.Run(ctx, seeds)
	<-fetcher.started
	cancel()
	got := collect(results)

	assert.ErrorIs(t, errFn(), context.Canceled)
	require.Len(t, got, 1)
	r := got["repo:golang/go"]
	assert.Equal(t, domain.WorkPending, r.Unit.State, "interrupted unit stays resumable")
	assert.Zero(t, r.Unit.Attempts, "cancellation does not consume the retry budget")
}

// TestScheduler_ResultBackpressure tests that a slow result consumer
// never causes unbounded buffering: the run completes regardless.
func TestScheduler_ResultBackpressure(t *testing.T) {
	fetcher := newSchedMockFetcher()
	cfg := fastConfig()
	cfg.MaxConcurrency = 2
	sched := newSchedFixture(t, fetcher, []string{"tok-a"}, cfg)

	seeds := seedsFor([]domain.EntityKind{domain.KindRepo, domain.KindForks},
		"a/1", "a/2", "a/3")

	results, errFn := sched.Run(context.Background(), seeds)
	count := 0
	for range results {
		count++
		time.Sleep(2 * time.Millisecond)
	}
	require.NoError(t, errFn())
	assert.Equal(t, len(seeds), count)
}
