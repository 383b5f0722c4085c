package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/collabgraph/gitminer/internal/core/domain"
)

// CredentialPool owns every credential record and is the single source
// of truth for credential scheduling. All mutation is serialized behind
// one mutex even though many requests read concurrently; credential
// records never leave the pool, callers receive value copies.
type CredentialPool struct {
	mu      sync.Mutex
	creds   []*domain.Credential
	byID    map[string]*domain.Credential
	limiter *RateLimiter

	authThreshold int
	now           func() time.Time
}

// NewCredentialPool builds a pool from an ordered list of raw tokens.
// Returns domain.ErrNoCredentials when the list is empty: no progress
// is possible without at least one credential.
func NewCredentialPool(tokens []string, limiter *RateLimiter, cfg Config) (*CredentialPool, error) {
	cfg = cfg.withDefaults()
	if len(tokens) == 0 {
		return nil, domain.ErrNoCredentials
	}

	p := &CredentialPool{
		byID:          make(map[string]*domain.Credential),
		limiter:       limiter,
		authThreshold: cfg.AuthFailureThreshold,
		now:           time.Now,
	}
	for i, token := range tokens {
		p.addLocked(fmt.Sprintf("token-%d", i+1), token)
	}
	return p, nil
}

func (p *CredentialPool) addLocked(id, token string) {
	cred := &domain.Credential{
		ID:        id,
		Token:     token,
		Remaining: DefaultQuotaCeiling,
		Limit:     DefaultQuotaCeiling,
		State:     domain.CredentialActive,
	}
	p.creds = append(p.creds, cred)
	p.byID[id] = cred
}

// Add registers a new token discovered after construction (e.g. the
// credentials file changed mid-run). Duplicate tokens are ignored.
func (p *CredentialPool) Add(token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.creds {
		if c.Token == token {
			return false
		}
	}
	p.addLocked(fmt.Sprintf("token-%d", len(p.creds)+1), token)
	return true
}

// SetClock replaces the pool's time source. Used by tests.
func (p *CredentialPool) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// Acquire selects the best available credential and optimistically
// debits one request from its quota estimate. Selection is greedy:
// the highest remaining-quota-to-reset-time ratio wins, ties broken by
// longest idle time so no single credential is hammered.
//
// When no credential is usable, Acquire returns *domain.WouldBlockError
// carrying the earliest time one becomes available. When every
// credential is revoked it returns domain.ErrNoCredentials.
func (p *CredentialPool) Acquire() (domain.Credential, error) {
	return p.AcquireExcept("")
}

// AcquireExcept behaves like Acquire but skips the named credential,
// used to force rotation after an auth failure.
func (p *CredentialPool) AcquireExcept(excludeID string) (domain.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.promoteLocked(now)

	var (
		best     *domain.Credential
		bestRate float64
		earliest time.Time
		anyAlive bool
	)

	for _, c := range p.creds {
		if c.State == domain.CredentialRevoked {
			continue
		}
		anyAlive = true

		if c.ID == excludeID {
			continue
		}
		if c.State != domain.CredentialActive {
			earliest = minTime(earliest, c.CooldownUntil)
			continue
		}
		if wait := p.limiter.TimeUntilSafe(c, 1, now); wait > 0 {
			earliest = minTime(earliest, now.Add(wait))
			continue
		}

		score := quotaRate(c, now)
		switch {
		case best == nil, score > bestRate:
			best, bestRate = c, score
		case score == bestRate && c.LastUsed.Before(best.LastUsed):
			// Fairness tie-break: longest idle first.
			best = c
		}
	}

	if best == nil {
		if !anyAlive {
			return domain.Credential{}, domain.ErrNoCredentials
		}
		if earliest.IsZero() {
			// Only the excluded credential is usable; retry immediately.
			earliest = now
		}
		return domain.Credential{}, &domain.WouldBlockError{RetryAt: earliest}
	}

	p.limiter.RecordUsage(best, 1, now)
	return *best, nil
}

// quotaRate scores a credential by remaining quota per second until its
// window resets. An unknown or elapsed reset time scores by remaining
// quota alone, favouring the fullest credential.
func quotaRate(c *domain.Credential, now time.Time) float64 {
	remaining := float64(c.Remaining)
	if c.ResetAt.IsZero() || !now.Before(c.ResetAt) {
		return remaining
	}
	secs := c.ResetAt.Sub(now).Seconds()
	if secs < 1 {
		secs = 1
	}
	return remaining / secs
}

// promoteLocked wakes Cooling credentials whose cooldown has elapsed.
// The quota estimate refills to the last known ceiling; the next
// response's headers will correct it.
func (p *CredentialPool) promoteLocked(now time.Time) {
	for _, c := range p.creds {
		if c.State == domain.CredentialCooling && !now.Before(c.CooldownUntil) {
			c.State = domain.CredentialActive
			c.Remaining = c.Limit
			c.ConsecutiveFailures = 0
		}
	}
}

// Release records the authoritative quota snapshot observed on a
// completed request. A successful round trip clears the consecutive
// failure counter; an exhausted quota moves the credential to Cooling
// until the server-declared reset time.
func (p *CredentialPool) Release(id string, snap domain.QuotaSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.byID[id]
	if !ok {
		return
	}

	p.limiter.Correct(c, snap)
	c.ConsecutiveFailures = 0

	if c.State == domain.CredentialActive && !snap.Zero() && snap.Remaining <= 0 {
		c.State = domain.CredentialCooling
		c.CooldownUntil = snap.ResetAt
	}
}

// MarkRateLimited puts the credential into Cooling until retryAt after a
// quota-exhaustion response, folding in any header snapshot observed on
// the limited response.
func (p *CredentialPool) MarkRateLimited(id string, retryAt time.Time, snap domain.QuotaSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.byID[id]
	if !ok || c.State == domain.CredentialRevoked {
		return
	}

	p.limiter.Correct(c, snap)
	c.State = domain.CredentialCooling
	if retryAt.After(c.CooldownUntil) {
		c.CooldownUntil = retryAt
	}
}

// MarkFailed records an authentication failure. After the configured
// threshold of consecutive failures the credential is Revoked and never
// retried automatically, so a dead token cannot silently waste cycles.
func (p *CredentialPool) MarkFailed(id string, reason error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.byID[id]
	if !ok || c.State == domain.CredentialRevoked {
		return
	}

	c.ConsecutiveFailures++
	if c.ConsecutiveFailures >= p.authThreshold {
		c.State = domain.CredentialRevoked
	}
}

// State returns the current state of a credential.
func (p *CredentialPool) State(id string) (domain.CredentialState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.byID[id]
	if !ok {
		return "", false
	}
	return c.State, true
}

// Usage returns per-credential request counts for the run summary.
func (p *CredentialPool) Usage() map[string]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	usage := make(map[string]int64, len(p.creds))
	for _, c := range p.creds {
		usage[c.ID] = c.Requests
	}
	return usage
}

// Snapshot returns value copies of every credential with the raw token
// redacted, for status output.
func (p *CredentialPool) Snapshot() []domain.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.Credential, 0, len(p.creds))
	for _, c := range p.creds {
		copied := *c
		copied.Token = ""
		out = append(out, copied)
	}
	return out
}

// Size returns the number of credentials in the pool.
func (p *CredentialPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

func minTime(a, b time.Time) time.Time {
	if b.IsZero() {
		return a
	}
	if a.IsZero() || b.Before(a) {
		return b
	}
	return a
}
