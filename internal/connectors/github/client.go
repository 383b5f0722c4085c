package github

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"

	"github.com/collabgraph/gitminer/internal/core/domain"
	"github.com/collabgraph/gitminer/internal/core/ports/driven"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// Fetcher issues GitHub API requests. It implements driven.Fetcher.
type Fetcher struct {
	mu      sync.Mutex
	clients map[string]*gh.Client

	// baseURL overrides the API endpoint, for tests.
	baseURL string
	now     func() time.Time
}

var _ driven.Fetcher = (*Fetcher)(nil)

// NewFetcher creates a fetcher against api.github.com.
func NewFetcher() *Fetcher {
	return &Fetcher{
		clients: make(map[string]*gh.Client),
		now:     time.Now,
	}
}

// NewFetcherWithBaseURL creates a fetcher against a custom API endpoint.
// Used by tests running against a local HTTP server.
func NewFetcherWithBaseURL(baseURL string) *Fetcher {
	f := NewFetcher()
	f.baseURL = baseURL
	return f
}

// client returns the cached go-github client for a token, building it
// on first use.
func (f *Fetcher) client(token string) (*gh.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[token]; ok {
		return c, nil
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultTimeout

	client := gh.NewClient(tc)
	if f.baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(f.baseURL, f.baseURL)
		if err != nil {
			return nil, err
		}
	}

	f.clients[token] = client
	return client, nil
}

// quotaFromResponse extracts the authoritative quota snapshot from
// response headers. Returns the zero snapshot when no response exists.
func quotaFromResponse(resp *gh.Response) domain.QuotaSnapshot {
	if resp == nil {
		return domain.QuotaSnapshot{}
	}
	return domain.QuotaSnapshot{
		Remaining: resp.Rate.Remaining,
		Limit:     resp.Rate.Limit,
		ResetAt:   resp.Rate.Reset.Time,
	}
}

// wrapError maps go-github errors to the typed transport errors the
// executor classifies on. Transport-level failures pass through
// unchanged and classify as transient.
func (f *Fetcher) wrapError(err error) error {
	if err == nil {
		return nil
	}

	var rlErr *gh.RateLimitError
	if errors.As(err, &rlErr) {
		quota := domain.QuotaSnapshot{
			Remaining: rlErr.Rate.Remaining,
			Limit:     rlErr.Rate.Limit,
			ResetAt:   rlErr.Rate.Reset.Time,
		}
		retryAfter := time.Duration(0)
		if !quota.ResetAt.IsZero() {
			retryAfter = quota.ResetAt.Sub(f.now())
		}
		if retryAfter < 0 {
			retryAfter = 0
		}
		return &driven.RateLimitError{RetryAfter: retryAfter, Quota: quota}
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		retryAfter := time.Minute
		if abuseErr.RetryAfter != nil {
			retryAfter = *abuseErr.RetryAfter
		}
		return &driven.RateLimitError{RetryAfter: retryAfter}
	}

	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		apiErr := &driven.APIError{
			StatusCode: ghErr.Response.StatusCode,
			Message:    ghErr.Message,
		}
		if ghErr.Response.Request != nil && ghErr.Response.Request.URL != nil {
			apiErr.URL = ghErr.Response.Request.URL.String()
		}
		apiErr.Quota = quotaFromHTTP(ghErr.Response)
		return apiErr
	}

	return err
}

const (
	// HeaderRateLimit is the rate limit header.
	HeaderRateLimit = "X-RateLimit-Limit"

	// HeaderRateRemaining is the remaining requests header.
	HeaderRateRemaining = "X-RateLimit-Remaining"

	// HeaderRateReset is the reset timestamp header (Unix seconds).
	HeaderRateReset = "X-RateLimit-Reset"
)

// quotaFromHTTP parses the X-RateLimit headers off a raw response.
func quotaFromHTTP(resp *http.Response) domain.QuotaSnapshot {
	if resp == nil {
		return domain.QuotaSnapshot{}
	}

	var snap domain.QuotaSnapshot
	if v := resp.Header.Get(HeaderRateRemaining); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			snap.Remaining = n
		}
	}
	if v := resp.Header.Get(HeaderRateLimit); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			snap.Limit = n
		}
	}
	if v := resp.Header.Get(HeaderRateReset); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			snap.ResetAt = time.Unix(n, 0)
		}
	}
	return snap
}

// CheckToken validates a token against the API and returns the quota
// snapshot for its core rate limit. Used by `credentials check`.
func (f *Fetcher) CheckToken(ctx context.Context, token string) (domain.QuotaSnapshot, error) {
	client, err := f.client(token)
	if err != nil {
		return domain.QuotaSnapshot{}, err
	}

	limits, _, err := client.RateLimit.Get(ctx)
	if err != nil {
		return domain.QuotaSnapshot{}, f.wrapError(err)
	}

	core := limits.GetCore()
	if core == nil {
		return domain.QuotaSnapshot{}, nil
	}
	return domain.QuotaSnapshot{
		Remaining: core.Remaining,
		Limit:     core.Limit,
		ResetAt:   core.Reset.Time,
	}, nil
}
