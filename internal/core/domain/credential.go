package domain

import "time"

// CredentialState represents the lifecycle state of an API credential.
type CredentialState string

const (
	// CredentialActive means the credential can be used for requests.
	CredentialActive CredentialState = "active"

	// CredentialCooling means the credential is waiting out a quota window.
	CredentialCooling CredentialState = "cooling"

	// CredentialExhausted means the credential has no remaining quota.
	// It transitions to Cooling once a server reset time is known.
	CredentialExhausted CredentialState = "exhausted"

	// CredentialRevoked means the credential failed authentication repeatedly
	// and is permanently out of rotation.
	CredentialRevoked CredentialState = "revoked"
)

// Credential is one unit of API authorization with its own quota window.
// The raw token is held in memory only and is never persisted; checkpoint
// and summary output carry the credential ID, not the secret.
type Credential struct {
	// ID identifies the credential in logs and summaries (e.g. "token-3").
	ID string

	// Token is the raw secret used to authenticate requests.
	Token string

	// Remaining is the locally-estimated remaining quota. Debited
	// optimistically at send time, corrected from response headers.
	Remaining int

	// Limit is the last known quota ceiling for this credential.
	Limit int

	// ResetAt is the server-declared end of the current quota window.
	ResetAt time.Time

	// ConsecutiveFailures counts auth failures since the last success.
	ConsecutiveFailures int

	// CooldownUntil is when a Cooling credential becomes usable again.
	CooldownUntil time.Time

	// State is the current lifecycle state.
	State CredentialState

	// LastUsed is when the credential last carried a request.
	LastUsed time.Time

	// Requests counts total requests issued with this credential.
	Requests int64
}

// Usable reports whether the credential can carry a request right now.
func (c *Credential) Usable(now time.Time) bool {
	switch c.State {
	case CredentialActive:
		return true
	case CredentialCooling:
		return !now.Before(c.CooldownUntil)
	default:
		return false
	}
}

// QuotaSnapshot is a point-in-time view of a credential's quota, derived
// from authoritative response headers. It is used for scheduling decisions
// only and always overrides local estimates.
type QuotaSnapshot struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Zero reports whether the snapshot carries no header information.
func (q QuotaSnapshot) Zero() bool {
	return q.Limit == 0 && q.Remaining == 0 && q.ResetAt.IsZero()
}
