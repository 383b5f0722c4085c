package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/collabgraph/gitminer/internal/core/domain"
	"github.com/collabgraph/gitminer/internal/core/ports/driven"
)

// RequestExecutor issues one logical request through a chosen credential
// and classifies the outcome. The executor is stateless with respect to
// retries: the retry policy is applied by the scheduler so that policy
// stays uniform and independently testable.
//
// Every outcome is reported to the credential pool (Release/MarkFailed/
// MarkRateLimited) before the caller sees the result, so scheduling
// state is always current.
type RequestExecutor struct {
	fetcher driven.Fetcher
	pool    *CredentialPool
	timeout time.Duration
	now     func() time.Time
}

// NewRequestExecutor creates an executor over the given transport.
func NewRequestExecutor(fetcher driven.Fetcher, pool *CredentialPool, cfg Config) *RequestExecutor {
	cfg = cfg.withDefaults()
	return &RequestExecutor{
		fetcher: fetcher,
		pool:    pool,
		timeout: cfg.RequestTimeout,
		now:     time.Now,
	}
}

// SetClock replaces the executor's time source. Used by tests.
func (e *RequestExecutor) SetClock(now func() time.Time) {
	e.now = now
}

// Execute performs one attempt for the unit with the given credential
// and classifies the response into exactly one outcome variant.
// Classification is by status category, not by transport exception
// type, so retry policy is uniform regardless of transport.
func (e *RequestExecutor) Execute(ctx context.Context, unit domain.WorkUnit, cred domain.Credential) domain.RequestOutcome {
	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := e.fetcher.Fetch(reqCtx, unit.Spec, cred.Token)
	if err == nil {
		e.pool.Release(cred.ID, res.Quota)
		return domain.RequestOutcome{
			Kind:         domain.OutcomeSuccess,
			Records:      res.Records,
			NextPage:     res.NextPage,
			CredentialID: cred.ID,
		}
	}

	return e.classify(err, cred)
}

func (e *RequestExecutor) classify(err error, cred domain.Credential) domain.RequestOutcome {
	outcome := domain.RequestOutcome{CredentialID: cred.ID, Err: err}

	var rl *driven.RateLimitError
	if errors.As(err, &rl) {
		retryAfter := rl.RetryAfter
		if retryAfter <= 0 && !rl.Quota.ResetAt.IsZero() {
			retryAfter = rl.Quota.ResetAt.Sub(e.now())
		}
		if retryAfter < 0 {
			retryAfter = 0
		}
		outcome.Kind = domain.OutcomeRateLimited
		outcome.RetryAfter = retryAfter
		e.pool.MarkRateLimited(cred.ID, e.now().Add(retryAfter), rl.Quota)
		return outcome
	}

	var api *driven.APIError
	if errors.As(err, &api) {
		switch {
		case api.StatusCode == http.StatusUnauthorized:
			outcome.Kind = domain.OutcomeAuth
			e.pool.MarkFailed(cred.ID, err)
		case api.StatusCode >= http.StatusInternalServerError,
			api.StatusCode == http.StatusRequestTimeout:
			outcome.Kind = domain.OutcomeTransient
			e.pool.Release(cred.ID, api.Quota)
		default:
			// 403 forbidden, 404, 410 and other client errors are
			// terminal for the target; the connector maps quota 403s
			// to RateLimitError before they get here.
			outcome.Kind = domain.OutcomePermanent
			e.pool.Release(cred.ID, api.Quota)
		}
		return outcome
	}

	// Timeouts, cancellation and raw network failures are transient.
	outcome.Kind = domain.OutcomeTransient
	e.pool.Release(cred.ID, domain.QuotaSnapshot{})
	return outcome
}
