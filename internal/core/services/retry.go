package services

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/collabgraph/gitminer/internal/core/domain"
)

// RetryAction says what the scheduler should do with a unit after an
// attempt.
type RetryAction int

const (
	// ActionDone emits the unit as successfully resolved.
	ActionDone RetryAction = iota

	// ActionFail emits the unit as terminally failed.
	ActionFail

	// ActionRetry re-admits the unit after Decision.Delay.
	ActionRetry

	// ActionRotate re-admits the unit immediately on a different
	// credential after an auth failure.
	ActionRotate
)

// Decision is the retry policy's verdict for one attempt.
type Decision struct {
	Action RetryAction

	// Delay to wait before the next attempt (ActionRetry).
	Delay time.Duration

	// Reason is the terminal failure reason (ActionFail).
	Reason string
}

// RetryPolicy is the single decision table mapping outcome variants to
// scheduler actions. Centralizing it here keeps retry behaviour uniform
// across every call site instead of scattered per request.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// jitter returns a random fraction in [0,1). Replaceable in tests.
	jitter func() float64
}

// NewRetryPolicy builds the policy from config.
func NewRetryPolicy(cfg Config) RetryPolicy {
	cfg = cfg.withDefaults()
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseBackoff: cfg.BaseBackoff,
		MaxBackoff:  cfg.MaxBackoff,
		jitter:      rand.Float64,
	}
}

// Decide maps one outcome to the next scheduler action.
//
//   - Success: done.
//   - Transient: retry with exponential backoff until the attempt
//     budget is spent, then fail terminally.
//   - RateLimited: requeue after the server-advised wait; does not
//     consume the retry budget.
//   - Auth: rotate to a different credential once, then fail.
//   - Permanent: fail terminally, never retried.
//
// attempts counts transient attempts already consumed, authRetries
// counts credential rotations already performed for this unit.
func (p RetryPolicy) Decide(outcome domain.RequestOutcome, attempts, authRetries int) Decision {
	switch outcome.Kind {
	case domain.OutcomeSuccess:
		return Decision{Action: ActionDone}

	case domain.OutcomeTransient:
		if attempts >= p.MaxAttempts {
			return Decision{
				Action: ActionFail,
				Reason: fmt.Sprintf("transient retries exhausted after %d attempts: %v", attempts, outcome.Err),
			}
		}
		return Decision{Action: ActionRetry, Delay: p.Backoff(attempts)}

	case domain.OutcomeRateLimited:
		return Decision{Action: ActionRetry, Delay: outcome.RetryAfter}

	case domain.OutcomeAuth:
		if authRetries >= 1 {
			return Decision{
				Action: ActionFail,
				Reason: fmt.Sprintf("authentication failed on rotated credential: %v", outcome.Err),
			}
		}
		return Decision{Action: ActionRotate}

	default:
		return Decision{
			Action: ActionFail,
			Reason: fmt.Sprintf("%v", outcome.Err),
		}
	}
}

// Backoff computes the delay before retry attempt n (0-based): base
// doubling per attempt, capped, plus up to 25% jitter so synchronized
// retries don't stampede.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			d = p.MaxBackoff
			break
		}
	}
	if p.jitter != nil {
		d += time.Duration(p.jitter() * 0.25 * float64(d))
	}
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}
