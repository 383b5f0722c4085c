package services

import "time"

const (
	// DefaultTimeout is the default wall-clock timeout for one request.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxAttempts is the default retry budget for transient errors.
	DefaultMaxAttempts = 3

	// DefaultBaseBackoff is the initial delay between transient retries.
	DefaultBaseBackoff = time.Second

	// DefaultMaxBackoff caps the exponential backoff delay.
	DefaultMaxBackoff = 30 * time.Second

	// DefaultSafetyMargin is the quota kept in reserve per credential.
	// A credential is not scheduled when its estimated remaining quota
	// after the request would fall below this margin.
	DefaultSafetyMargin = 100

	// DefaultAuthFailureThreshold is the number of consecutive auth
	// failures after which a credential is permanently revoked.
	DefaultAuthFailureThreshold = 3

	// DefaultProactiveRate is the per-credential proactive throttle
	// (~1.2 req/sec = 4320/hr, under the 5000/hr ceiling).
	DefaultProactiveRate = 1.2

	// DefaultConcurrency is the default number of in-flight requests.
	DefaultConcurrency = 8

	// DefaultPerPage is the page size requested from the API.
	DefaultPerPage = 100
)

// Config holds the tunable knobs of the harvest core. The zero value of
// any field falls back to the package default.
type Config struct {
	// MaxConcurrency bounds the number of in-flight work units.
	MaxConcurrency int

	// MaxAttempts is the transient-error retry budget per unit.
	MaxAttempts int

	// BaseBackoff is the initial transient retry delay; it doubles per
	// attempt up to MaxBackoff, plus jitter.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// RequestTimeout bounds one request's wall-clock time.
	RequestTimeout time.Duration

	// SafetyMargin is the per-credential quota reserve.
	SafetyMargin int

	// AuthFailureThreshold revokes a credential after this many
	// consecutive auth failures.
	AuthFailureThreshold int

	// ProactiveRate is the per-credential token bucket rate (req/sec).
	ProactiveRate float64

	// PerPage is the pagination page size.
	PerPage int

	// RetryFailed re-admits units previously marked Failed.
	RetryFailed bool
}

// withDefaults fills zero fields with package defaults.
func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultConcurrency
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultTimeout
	}
	if c.SafetyMargin < 0 {
		c.SafetyMargin = 0
	} else if c.SafetyMargin == 0 {
		c.SafetyMargin = DefaultSafetyMargin
	}
	if c.AuthFailureThreshold <= 0 {
		c.AuthFailureThreshold = DefaultAuthFailureThreshold
	}
	if c.ProactiveRate <= 0 {
		c.ProactiveRate = DefaultProactiveRate
	}
	if c.PerPage <= 0 {
		c.PerPage = DefaultPerPage
	}
	return c
}
