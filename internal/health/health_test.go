package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUnregisteredProviderIsUnknown(t *testing.T) {
	m := New(Config{})
	assert.Equal(t, Unknown, m.Status("nope"))
}

func TestBecomesUnhealthyAfterConsecutiveFailures(t *testing.T) {
	m := New(Config{FailureThreshold: 2, RecoveryThreshold: 2, ProbeInterval: time.Hour})
	m.Register("p", func(ctx context.Context) error { return errors.New("boom") })

	m.probeAll(context.Background())
	assert.Equal(t, Unknown, m.Status("p"), "one failure should not flip status yet")

	m.probeAll(context.Background())
	assert.Equal(t, Unhealthy, m.Status("p"))
}

func TestRecoversAfterConsecutiveSuccesses(t *testing.T) {
	m := New(Config{FailureThreshold: 1, RecoveryThreshold: 2, ProbeInterval: time.Hour})
	fail := true
	m.Register("p", func(ctx context.Context) error {
		if fail {
			return errors.New("boom")
		}
		return nil
	})

	m.probeAll(context.Background())
	assert.Equal(t, Unhealthy, m.Status("p"))

	fail = false
	m.probeAll(context.Background())
	assert.Equal(t, Unhealthy, m.Status("p"), "single recovery probe should not flip back yet")

	m.probeAll(context.Background())
	assert.Equal(t, Healthy, m.Status("p"))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	m := New(Config{ProbeInterval: time.Millisecond})
	var calls int32
	m.Register("p", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
	assert.Greater(t, atomic.LoadInt32(&calls), int32(0))
}
