package domain

import "time"

// OutcomeKind classifies the result of one execution attempt. Classification
// is by response category, never by transport exception type, so retry
// policy stays uniform regardless of transport.
type OutcomeKind string

const (
	// OutcomeSuccess means records were fetched.
	OutcomeSuccess OutcomeKind = "success"

	// OutcomeRateLimited means the credential's quota was exhausted.
	// Not counted against the retry budget.
	OutcomeRateLimited OutcomeKind = "rate-limited"

	// OutcomeTransient means a retryable failure (network blip, 5xx, timeout).
	OutcomeTransient OutcomeKind = "transient"

	// OutcomePermanent means a terminal failure (not found, forbidden).
	OutcomePermanent OutcomeKind = "permanent"

	// OutcomeAuth means the credential itself was rejected.
	OutcomeAuth OutcomeKind = "auth"
)

// Record is one normalized row emitted to the downstream sink.
type Record struct {
	// UnitKey is the key of the work unit that produced this record.
	UnitKey string

	// Kind is the entity kind of the record.
	Kind EntityKind

	// Fields holds the normalized payload. The core is agnostic to the
	// concrete schema; sinks serialize it as-is.
	Fields map[string]any
}

// RequestOutcome is the transient result of one execution attempt. It is
// never persisted beyond the attempt.
type RequestOutcome struct {
	Kind OutcomeKind

	// Records holds fetched rows on success.
	Records []Record

	// NextPage is the follow-up page number on success, 0 when the
	// target is fully paginated.
	NextPage int

	// RetryAfter is the server-advised wait on rate limiting.
	RetryAfter time.Duration

	// CredentialID identifies the credential used for the attempt.
	CredentialID string

	// Err carries the underlying cause for non-success outcomes.
	Err error
}

// Retryable reports whether the outcome may lead to another attempt.
func (o RequestOutcome) Retryable() bool {
	switch o.Kind {
	case OutcomeTransient, OutcomeRateLimited, OutcomeAuth:
		return true
	default:
		return false
	}
}
