package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTripsOpenWhenMinRequestsAndFailureThresholdBothMet(t *testing.T) {
	b := New(Config{FailureThreshold: 3, MinRequests: 3, RecoveryTimeout: time.Hour, WindowSize: time.Hour})

	for i := 0; i < 2; i++ {
		ok, err := b.Allow()
		require.True(t, ok)
		require.NoError(t, err)
		b.RecordFailure()
	}
	assert.Equal(t, Closed, b.State())

	ok, _ := b.Allow()
	require.True(t, ok)
	b.RecordFailure()

	assert.Equal(t, Open, b.State())
	ok, err := b.Allow()
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestStaysClosedBelowMinRequestsEvenIfAllFailed(t *testing.T) {
	b := New(Config{FailureThreshold: 1, MinRequests: 10, RecoveryTimeout: time.Hour, WindowSize: time.Hour})

	for i := 0; i < 5; i++ {
		ok, _ := b.Allow()
		require.True(t, ok)
		b.RecordFailure()
	}
	assert.Equal(t, Closed, b.State(), "request_count never reached min_requests so the circuit must not trip")
}

func TestFailuresAccumulateAcrossInterspersedSuccesses(t *testing.T) {
	b := New(Config{FailureThreshold: 2, MinRequests: 2, RecoveryTimeout: time.Hour, WindowSize: time.Hour})

	b.Allow()
	b.RecordFailure()
	b.Allow()
	b.RecordSuccess()
	b.Allow()
	b.RecordFailure()

	assert.Equal(t, Open, b.State(), "a success mid-window must not reset the windowed failure count")
}

func TestWindowExpiryResetsCounters(t *testing.T) {
	b := New(Config{FailureThreshold: 2, MinRequests: 2, RecoveryTimeout: time.Hour, WindowSize: time.Millisecond})

	b.Allow()
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	b.Allow()
	b.RecordFailure()

	assert.Equal(t, Closed, b.State(), "the window rolled over, so only one failure counts toward the new window")
}

func TestHalfOpenAfterRecoveryTimeout(t *testing.T) {
	b := New(Config{FailureThreshold: 1, MinRequests: 1, RecoveryTimeout: time.Millisecond, WindowSize: time.Hour, SuccessThreshold: 1})

	b.Allow()
	b.RecordFailure()
	assert.Equal(t, Open, b.State())

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, HalfOpen, b.State())

	ok, err := b.Allow()
	require.True(t, ok)
	require.NoError(t, err)

	b.RecordSuccess()
	assert.Equal(t, Closed, b.State())
}

func TestHalfOpenRequiresSuccessThresholdConsecutiveSuccesses(t *testing.T) {
	b := New(Config{FailureThreshold: 1, MinRequests: 1, RecoveryTimeout: time.Millisecond, WindowSize: time.Hour, SuccessThreshold: 3})

	b.Allow()
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, HalfOpen, b.State())

	b.RecordSuccess()
	b.RecordSuccess()
	assert.Equal(t, HalfOpen, b.State(), "only two of three required successes seen")

	b.RecordSuccess()
	assert.Equal(t, Closed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, MinRequests: 1, RecoveryTimeout: time.Millisecond, WindowSize: time.Hour})

	b.Allow()
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, HalfOpen, b.State())

	ok, err := b.Allow()
	require.True(t, ok)
	require.NoError(t, err)

	b.RecordFailure()
	assert.Equal(t, Open, b.State())
}

func TestRegistryIsolatesProviders(t *testing.T) {
	reg := NewRegistry(Config{FailureThreshold: 1, MinRequests: 1, RecoveryTimeout: time.Hour, WindowSize: time.Hour})

	reg.For("a").Allow()
	reg.For("a").RecordFailure()

	assert.Equal(t, Open, reg.For("a").State())
	assert.Equal(t, Closed, reg.For("b").State())
}
