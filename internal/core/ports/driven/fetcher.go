package driven

import (
	"context"
	"fmt"
	"time"

	"github.com/collabgraph/gitminer/internal/core/domain"
)

// FetchResult is the transport-level result of one successful fetch.
type FetchResult struct {
	// Records holds the normalized rows extracted from the response.
	Records []domain.Record

	// NextPage is the follow-up page number, 0 when pagination is done.
	NextPage int

	// Quota is the authoritative quota snapshot from response headers.
	Quota domain.QuotaSnapshot
}

// Fetcher issues one API request with the given credential token and
// normalizes the response. Failures are reported as typed errors
// (RateLimitError, APIError) so the executor can classify them by
// category rather than by transport exception type.
type Fetcher interface {
	Fetch(ctx context.Context, spec domain.FetchSpec, token string) (*FetchResult, error)
}

// RateLimitError reports quota exhaustion on the credential that carried
// the request. RetryAfter is the server-advised wait; Quota carries the
// header snapshot observed on the limited response.
type RateLimitError struct {
	RetryAfter time.Duration
	Quota      domain.QuotaSnapshot
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// APIError represents a non-2xx API response.
type APIError struct {
	StatusCode int
	Message    string
	URL        string
	Quota      domain.QuotaSnapshot
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s (URL: %s)", e.StatusCode, e.Message, e.URL)
}
