package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/unigate/internal/gatewayerr"
)

func TestCallSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Call(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestCallRetriesRetryableError(t *testing.T) {
	calls := 0
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffMultiplier: 2, JitterFactor: 0.1}

	err := Call(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return gatewayerr.New(gatewayerr.Timeout, "slow upstream")
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestCallStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	err := Call(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return gatewayerr.New(gatewayerr.BadRequest, "malformed request")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable error must not be retried")
}

func TestCallExhaustsMaxAttempts(t *testing.T) {
	calls := 0
	cfg := Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffMultiplier: 2, JitterFactor: 0.1}

	err := Call(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return gatewayerr.New(gatewayerr.Network, "connection reset")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestCallRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{MaxAttempts: 5, BaseDelay: time.Hour}
	calls := 0
	err := Call(ctx, cfg, func(ctx context.Context) error {
		calls++
		return gatewayerr.New(gatewayerr.Timeout, "slow")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, calls, "first attempt still runs before the context is checked again")
}

func TestCallReportsEachAttempt(t *testing.T) {
	var attempts []Attempt
	cfg := Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 1, JitterFactor: 0}

	_ = Call(context.Background(), cfg, func(ctx context.Context) error {
		return errors.New("plain error treated as non-retryable")
	}, func(a Attempt) {
		attempts = append(attempts, a)
	})

	require.Len(t, attempts, 1)
	assert.Equal(t, 1, attempts[0].Number)
}

func TestJitterStaysWithinTenPercent(t *testing.T) {
	base := 1000 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := jitter(base, 0.1)
		assert.InDelta(t, float64(base), float64(d), float64(base)*0.1+1)
	}
}
