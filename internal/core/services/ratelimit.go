package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/collabgraph/gitminer/internal/core/domain"
)

// DefaultQuotaCeiling is assumed for a credential before the first
// authoritative header snapshot arrives (GitHub: 5000/hour).
const DefaultQuotaCeiling = 5000

// RateLimiter implements dual-strategy rate limiting per credential:
// a proactive token bucket that smooths request emission, and reactive
// accounting of the server's quota window from response headers.
//
// The quota window refills at the server-declared reset timestamp, not
// by wall-clock extrapolation: real APIs reset on fixed windows.
//
// Accessor methods that take a *domain.Credential mutate it and must be
// called under the credential pool's lock (single-writer discipline).
// Wait is safe to call concurrently; buckets serialize internally.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter

	perSecond rate.Limit
	margin    int
}

// NewRateLimiter creates a rate limiter with the configured proactive
// rate and safety margin.
func NewRateLimiter(cfg Config) *RateLimiter {
	cfg = cfg.withDefaults()
	return &RateLimiter{
		buckets:   make(map[string]*rate.Limiter),
		perSecond: rate.Limit(cfg.ProactiveRate),
		margin:    cfg.SafetyMargin,
	}
}

// Wait blocks until the credential's proactive bucket admits a request.
func (r *RateLimiter) Wait(ctx context.Context, credentialID string) error {
	return r.bucket(credentialID).Wait(ctx)
}

func (r *RateLimiter) bucket(credentialID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[credentialID]
	if !ok {
		b = rate.NewLimiter(r.perSecond, 1)
		r.buckets[credentialID] = b
	}
	return b
}

// TimeUntilSafe predicts how long to wait before the credential can
// carry a request of the given cost without breaching the safety
// margin. Zero means the request is safe now.
func (r *RateLimiter) TimeUntilSafe(cred *domain.Credential, cost int, now time.Time) time.Duration {
	if cred.Remaining-cost >= r.margin {
		return 0
	}
	if cred.ResetAt.IsZero() || !now.Before(cred.ResetAt) {
		// The window has reset (or was never observed); the local
		// estimate is stale and the next response will correct it.
		return 0
	}
	return cred.ResetAt.Sub(now)
}

// RecordUsage debits the local estimate immediately after a request is
// sent. The debit is optimistic: two back-to-back acquisitions must not
// both see quota on a stale read. Authoritative headers correct it later.
func (r *RateLimiter) RecordUsage(cred *domain.Credential, cost int, now time.Time) {
	cred.Remaining -= cost
	cred.Requests++
	cred.LastUsed = now
}

// Correct overrides the local estimate with an authoritative header
// snapshot. Headers are ground truth and always win.
func (r *RateLimiter) Correct(cred *domain.Credential, snap domain.QuotaSnapshot) {
	if snap.Zero() {
		return
	}
	cred.Remaining = snap.Remaining
	if snap.Limit > 0 {
		cred.Limit = snap.Limit
	}
	if !snap.ResetAt.IsZero() {
		cred.ResetAt = snap.ResetAt
	}
}

// Margin returns the configured safety margin.
func (r *RateLimiter) Margin() int {
	return r.margin
}
