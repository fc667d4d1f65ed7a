package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowRequestWithinBurst(t *testing.T) {
	// rpm=0 isolates the burst headroom: with no steady refill, exactly
	// capacity=max(rpm,1)+burst=1+2=3 requests can go through before denial.
	l := New(Config{RequestsPerMinute: 0, Burst: 2})
	defer l.Close()
	key := Key{UserID: "u1", LimitType: LimitRequests}

	assert.True(t, l.AllowRequest(key).Allowed)
	assert.True(t, l.AllowRequest(key).Allowed)
	assert.True(t, l.AllowRequest(key).Allowed)
	assert.False(t, l.AllowRequest(key).Allowed, "fourth request exceeds capacity=rpm+burst")
}

func TestAllowRequestDenialReportsLimitTypeAndZeroRemaining(t *testing.T) {
	l := New(Config{RequestsPerMinute: 2})
	defer l.Close()
	key := Key{UserID: "u1", LimitType: LimitRequests}

	require.True(t, l.AllowRequest(key).Allowed)
	require.True(t, l.AllowRequest(key).Allowed)

	third := l.AllowRequest(key)
	require.False(t, third.Allowed)
	assert.Equal(t, LimitType("rpm"), third.LimitType)
	assert.Equal(t, 0, third.Remaining)
	assert.Greater(t, third.RetryAfter, time.Duration(0))
}

func TestAllowRequestDifferentKeysIndependent(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, Burst: 1})
	defer l.Close()

	assert.True(t, l.AllowRequest(Key{UserID: "a"}).Allowed)
	assert.True(t, l.AllowRequest(Key{UserID: "b"}).Allowed, "separate users must not share a bucket")
}

func TestAllowTokensRespectsEstimate(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, TokensPerMinute: 600, Burst: 1})
	defer l.Close()
	key := Key{UserID: "u1"}

	assert.True(t, l.AllowTokens(key, 5).Allowed)
	assert.False(t, l.AllowTokens(key, 5000).Allowed, "a request far exceeding the per-minute token budget should be rejected")
}

func TestConcurrencyAcquireRelease(t *testing.T) {
	l := New(Config{MaxConcurrent: 1})
	defer l.Close()
	key := Key{UserID: "u1"}

	ok, err := l.AcquireConcurrency(key)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = l.AcquireConcurrency(key)
	assert.Error(t, err)

	l.ReleaseConcurrency(key)
	ok, err = l.AcquireConcurrency(key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSlidingWindowDailyCap(t *testing.T) {
	sw := newSlidingWindow(50*time.Millisecond, 2)

	assert.True(t, sw.Allow())
	assert.True(t, sw.Allow())
	assert.False(t, sw.Allow())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, sw.Allow(), "events should expire out of the window")
}

func TestWaitRespectsContextTimeout(t *testing.T) {
	l := New(Config{RequestsPerMinute: 1, Burst: 1})
	defer l.Close()
	key := Key{UserID: "u1"}

	// capacity=max(rpm,1)+burst=2: drain both tokens before waiting.
	require.True(t, l.AllowRequest(key).Allowed)
	require.True(t, l.AllowRequest(key).Allowed)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, key)
	assert.Error(t, err)
}
