package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabgraph/gitminer/internal/core/domain"
)

// TestRateLimiter_TimeUntilSafe tests the safety margin prediction.
func TestRateLimiter_TimeUntilSafe(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(Config{SafetyMargin: 100})

	tests := []struct {
		name string
		cred domain.Credential
		want time.Duration
	}{
		{
			name: "well above margin",
			cred: domain.Credential{Remaining: 4000, ResetAt: now.Add(time.Hour)},
			want: 0,
		},
		{
			name: "exactly at margin after debit",
			cred: domain.Credential{Remaining: 101, ResetAt: now.Add(time.Hour)},
			want: 0,
		},
		{
			name: "below margin waits for reset",
			cred: domain.Credential{Remaining: 100, ResetAt: now.Add(20 * time.Minute)},
			want: 20 * time.Minute,
		},
		{
			name: "below margin but reset unknown",
			cred: domain.Credential{Remaining: 50},
			want: 0,
		},
		{
			name: "below margin but window already reset",
			cred: domain.Credential{Remaining: 50, ResetAt: now.Add(-time.Minute)},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := tt.cred
			assert.Equal(t, tt.want, limiter.TimeUntilSafe(&cred, 1, now))
		})
	}
}

// TestRateLimiter_DisabledMargin tests that a negative configured margin
// turns the reserve off entirely.
func TestRateLimiter_DisabledMargin(t *testing.T) {
	now := time.Now()
	limiter := NewRateLimiter(Config{SafetyMargin: -1})
	require.Equal(t, 0, limiter.Margin())

	cred := domain.Credential{Remaining: 1, ResetAt: now.Add(time.Hour)}
	assert.Zero(t, limiter.TimeUntilSafe(&cred, 1, now))
}

// TestRateLimiter_RecordUsage tests the optimistic debit at send time.
func TestRateLimiter_RecordUsage(t *testing.T) {
	now := time.Now()
	limiter := NewRateLimiter(Config{})

	cred := domain.Credential{Remaining: 5000}
	limiter.RecordUsage(&cred, 1, now)

	assert.Equal(t, 4999, cred.Remaining)
	assert.EqualValues(t, 1, cred.Requests)
	assert.Equal(t, now, cred.LastUsed)
}

// TestRateLimiter_Correct tests that header snapshots always override the
// local estimate, in both directions.
func TestRateLimiter_Correct(t *testing.T) {
	limiter := NewRateLimiter(Config{})
	reset := time.Now().Add(time.Hour)

	cred := domain.Credential{Remaining: 10, Limit: 5000}
	limiter.Correct(&cred, domain.QuotaSnapshot{Remaining: 4800, Limit: 5000, ResetAt: reset})
	assert.Equal(t, 4800, cred.Remaining, "headers win even when higher than the estimate")
	assert.Equal(t, reset, cred.ResetAt)

	limiter.Correct(&cred, domain.QuotaSnapshot{Remaining: 7, Limit: 5000, ResetAt: reset})
	assert.Equal(t, 7, cred.Remaining)
}

// TestRateLimiter_CorrectIgnoresEmptySnapshot tests that a response
// without quota headers leaves the estimate untouched.
func TestRateLimiter_CorrectIgnoresEmptySnapshot(t *testing.T) {
	limiter := NewRateLimiter(Config{})

	cred := domain.Credential{Remaining: 1234, Limit: 5000}
	limiter.Correct(&cred, domain.QuotaSnapshot{})
	assert.Equal(t, 1234, cred.Remaining)
	assert.Equal(t, 5000, cred.Limit)
}

// TestRateLimiter_WaitThrottles tests that the proactive bucket spaces
// requests on the same credential.
func TestRateLimiter_WaitThrottles(t *testing.T) {
	// 10 req/s keeps the test fast while still measurable.
	limiter := NewRateLimiter(Config{ProactiveRate: 10})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Wait(ctx, "token-1"))
	}
	elapsed := time.Since(start)

	// Burst of 1, so requests 2 and 3 each wait ~100ms.
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
}

// TestRateLimiter_WaitPerCredential tests that buckets are independent:
// a fresh credential is not delayed by another credential's traffic.
func TestRateLimiter_WaitPerCredential(t *testing.T) {
	limiter := NewRateLimiter(Config{ProactiveRate: 0.5})
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx, "token-1"))

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx, "token-2"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

// TestRateLimiter_WaitCancelled tests that a cancelled context unblocks
// a throttled waiter.
func TestRateLimiter_WaitCancelled(t *testing.T) {
	limiter := NewRateLimiter(Config{ProactiveRate: 0.001})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, limiter.Wait(ctx, "token-1"))
	cancel()
	assert.Error(t, limiter.Wait(ctx, "token-1"))
}
