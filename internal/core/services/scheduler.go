package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/collabgraph/gitminer/internal/core/domain"
)

// Result is one streamed (unit, outcome) pair. Completion order is not
// submission order; callers needing order must sort by unit key.
// Unit.State carries the resolution: Done, Failed, or Pending when the
// run was cancelled before the unit could resolve.
type Result struct {
	Unit    domain.WorkUnit
	Outcome domain.RequestOutcome

	// FailReason is the terminal failure reason for Failed units.
	FailReason string
}

// Scheduler fans work units out to a bounded pool of workers and fans
// results back on an unbuffered stream. At most maxConcurrency units
// are in flight; a slow consumer of the result stream blocks workers,
// which blocks admission, so memory stays bounded on runs of tens of
// thousands of units.
//
// Follow-up units (next pages) discovered from outcomes are admitted
// dynamically; pagination never requires pre-enumerating the full set.
type Scheduler struct {
	pool    *CredentialPool
	limiter *RateLimiter
	exec    *RequestExecutor
	policy  RetryPolicy

	maxConcurrency int
}

// task wraps a work unit with scheduling metadata that is not part of
// the unit's identity.
type task struct {
	unit        domain.WorkUnit
	notBefore   time.Time
	avoidCred   string
	authRetries int
}

// feedback is what a worker reports to the coordinator after handling
// an admitted task.
type feedback struct {
	// settled means a Result was emitted for the task's unit.
	settled bool

	// requeue re-admits the same unit (retry, cooldown, rotation).
	requeue *task

	// spawned holds newly discovered follow-up units.
	spawned []task

	// fatal aborts the run (no usable credentials remain).
	fatal error
}

// NewScheduler wires a scheduler over the pool, limiter and executor.
func NewScheduler(pool *CredentialPool, limiter *RateLimiter, exec *RequestExecutor, policy RetryPolicy, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		pool:           pool,
		limiter:        limiter,
		exec:           exec,
		policy:         policy,
		maxConcurrency: cfg.MaxConcurrency,
	}
}

// Run executes the seed units and streams results until every admitted
// unit is resolved or the context is cancelled. The returned channel is
// closed when the run is over; errFn reports the fatal error, if any,
// once the channel has closed.
func (s *Scheduler) Run(ctx context.Context, seeds []domain.WorkUnit) (<-chan Result, func() error) {
	results := make(chan Result)
	work := make(chan task)
	fb := make(chan feedback)

	var wg sync.WaitGroup
	for i := 0; i < s.maxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range work {
				s.process(ctx, t, results, fb)
			}
		}()
	}

	var runErr error
	go func() {
		runErr = s.coordinate(ctx, seeds, work, results, fb)
		close(work)
		wg.Wait()
		close(results)
	}()

	return results, func() error { return runErr }
}

// coordinate owns the frontier: ready tasks, delayed tasks waiting on a
// backoff or cooldown timer, and the outstanding count of admitted
// units not yet settled. It returns when outstanding reaches zero.
func (s *Scheduler) coordinate(ctx context.Context, seeds []domain.WorkUnit, work chan<- task, results chan<- Result, fb <-chan feedback) error {
	ready := make([]task, 0, len(seeds))
	for _, u := range seeds {
		ready = append(ready, task{unit: u})
	}

	var delayed []task
	outstanding := len(seeds)
	admitting := true
	ctxDone := ctx.Done()
	var fatal error

	// flush settles queued tasks as Pending once admission stops.
	flush := func(tasks []task) []task {
		for _, t := range tasks {
			t.unit.State = domain.WorkPending
			results <- Result{Unit: t.unit}
			outstanding--
		}
		return nil
	}

	for outstanding > 0 {
		now := time.Now()

		// Promote due delayed tasks.
		kept := delayed[:0]
		for _, t := range delayed {
			if !now.Before(t.notBefore) {
				ready = append(ready, t)
			} else {
				kept = append(kept, t)
			}
		}
		delayed = kept

		var workOut chan<- task
		var next task
		if admitting && len(ready) > 0 {
			workOut = work
			next = ready[0]
		}

		var timerC <-chan time.Time
		var timer *time.Timer
		if admitting && workOut == nil && len(delayed) > 0 {
			earliest := delayed[0].notBefore
			for _, t := range delayed[1:] {
				if t.notBefore.Before(earliest) {
					earliest = t.notBefore
				}
			}
			timer = time.NewTimer(earliest.Sub(now))
			timerC = timer.C
		}

		select {
		case workOut <- next:
			ready = ready[1:]

		case f := <-fb:
			if f.fatal != nil && fatal == nil {
				fatal = f.fatal
				admitting = false
				ready = flush(ready)
				delayed = flush(delayed)
			}
			if f.settled {
				outstanding--
			}
			if f.requeue != nil {
				if admitting {
					if time.Now().Before(f.requeue.notBefore) {
						delayed = append(delayed, *f.requeue)
					} else {
						ready = append(ready, *f.requeue)
					}
				} else {
					ready = flush([]task{*f.requeue})
				}
			}
			if len(f.spawned) > 0 {
				if admitting {
					outstanding += len(f.spawned)
					ready = append(ready, f.spawned...)
				}
				// Follow-ups discovered after cancellation are
				// dropped: they were never admitted, so they do
				// not appear in the summary.
			}

		case <-timerC:
			// Loop re-promotes due tasks.

		case <-ctxDone:
			admitting = false
			ctxDone = nil
			ready = flush(ready)
			delayed = flush(delayed)
		}

		if timer != nil {
			timer.Stop()
		}
	}

	if fatal != nil {
		return fatal
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// process handles one admitted task end to end: credential acquisition,
// proactive throttle, execution, and the retry decision.
func (s *Scheduler) process(ctx context.Context, t task, results chan<- Result, fb chan<- feedback) {
	var (
		cred domain.Credential
		err  error
	)
	if t.avoidCred != "" {
		cred, err = s.pool.AcquireExcept(t.avoidCred)
	} else {
		cred, err = s.pool.Acquire()
	}
	if err != nil {
		if wb, ok := domain.IsWouldBlock(err); ok {
			// Wait for the earliest cooldown instead of busy-polling.
			// Drop the exclusion so a lone surviving credential can
			// still be reused on the next attempt.
			requeue := t
			requeue.notBefore = wb.RetryAt
			requeue.avoidCred = ""
			fb <- feedback{requeue: &requeue}
			return
		}
		if errors.Is(err, domain.ErrNoCredentials) {
			requeue := t
			fb <- feedback{fatal: err, requeue: &requeue}
			return
		}
		t.unit.State = domain.WorkFailed
		results <- Result{Unit: t.unit, FailReason: err.Error()}
		fb <- feedback{settled: true}
		return
	}

	if err := s.limiter.Wait(ctx, cred.ID); err != nil {
		// Cancelled while throttled; hand the unit back so it is
		// settled as pending.
		requeue := t
		fb <- feedback{requeue: &requeue}
		return
	}

	t.unit.State = domain.WorkInFlight
	outcome := s.exec.Execute(ctx, t.unit, cred)
	if outcome.Kind == domain.OutcomeTransient && ctx.Err() != nil {
		// The run was cancelled while the request was in flight. That
		// is not a failure of the unit: hand it back without touching
		// the retry budget so it settles as pending.
		requeue := t
		fb <- feedback{requeue: &requeue}
		return
	}
	if outcome.Kind == domain.OutcomeTransient {
		t.unit.Attempts++
	}

	decision := s.policy.Decide(outcome, t.unit.Attempts, t.authRetries)
	switch decision.Action {
	case ActionDone:
		t.unit.State = domain.WorkDone
		var spawned []task
		if outcome.NextPage > 0 {
			spawned = []task{{unit: t.unit.NextPage(outcome.NextPage)}}
		}
		results <- Result{Unit: t.unit, Outcome: outcome}
		fb <- feedback{settled: true, spawned: spawned}

	case ActionFail:
		t.unit.State = domain.WorkFailed
		results <- Result{Unit: t.unit, Outcome: outcome, FailReason: decision.Reason}
		fb <- feedback{settled: true}

	case ActionRotate:
		requeue := t
		requeue.avoidCred = cred.ID
		requeue.authRetries++
		requeue.notBefore = time.Time{}
		fb <- feedback{requeue: &requeue}

	case ActionRetry:
		requeue := t
		requeue.notBefore = time.Now().Add(decision.Delay)
		if outcome.Kind == domain.OutcomeRateLimited {
			// Prefer a different credential while this one cools.
			requeue.avoidCred = cred.ID
		} else {
			requeue.avoidCred = ""
		}
		fb <- feedback{requeue: &requeue}
	}
}
