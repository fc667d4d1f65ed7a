// Package breaker implements a per-provider circuit breaker (spec §4.4):
// closed → open → half-open → closed, guarding callers from hammering a
// backend that is already failing.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/howard-nolan/unigate/internal/gatewayerr"
)

// State is one of the three circuit states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config tunes one breaker instance, grounded on
// original_source/src/utils/error/recovery.rs's CircuitBreakerConfig.
type Config struct {
	// FailureThreshold is the failure_count a rolling window must reach,
	// alongside MinRequests, to trip Closed -> Open.
	FailureThreshold int
	// SuccessThreshold consecutive successes in HalfOpen close the circuit.
	SuccessThreshold int
	// MinRequests is the request_count a rolling window must reach before
	// a failure rate is even considered — avoids tripping on a handful of
	// calls at low traffic.
	MinRequests int
	// RecoveryTimeout is how long the breaker stays Open before allowing a
	// HalfOpen probe call through.
	RecoveryTimeout time.Duration
	// WindowSize is the rolling window duration over which request/failure
	// counts are accumulated before resetting.
	WindowSize time.Duration
}

// Breaker guards a single provider instance. Safe for concurrent use: the
// hot-path counters (failure/success/request counts) are atomics; only the
// state transition and window bookkeeping take the mutex.
type Breaker struct {
	cfg Config

	mu          sync.Mutex
	state       State
	openedAt    time.Time
	windowStart time.Time

	failureCount atomic.Int64
	successCount atomic.Int64
	requestCount atomic.Int64
}

// New creates a Breaker starting Closed.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 3
	}
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = 10
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 60 * time.Second
	}
	return &Breaker{cfg: cfg, state: Closed, windowStart: time.Now()}
}

// State returns the current state, transitioning Open → HalfOpen as a side
// effect if the recovery timeout has elapsed. This mirrors the original's
// lazy transition: there is no background timer, the check happens on the
// next call attempt.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpenLocked()
	return b.state
}

func (b *Breaker) maybeTransitionToHalfOpenLocked() {
	if b.state == Open && time.Since(b.openedAt) >= b.cfg.RecoveryTimeout {
		b.state = HalfOpen
		b.successCount.Store(0)
	}
}

// Allow reports whether a call may proceed right now, and if not, returns
// the ProviderUnavailable error the caller should surface instead of
// attempting the call. An allowed call counts toward the rolling window's
// request_count, whether it's Closed or HalfOpen.
func (b *Breaker) Allow() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpenLocked()

	if b.state == Open {
		return false, gatewayerr.New(gatewayerr.ProviderUnavailable, "circuit open, recovery in %s", b.cfg.RecoveryTimeout-time.Since(b.openedAt))
	}
	b.requestCount.Add(1)
	return true, nil
}

// RecordSuccess reports a successful call. In HalfOpen, enough consecutive
// successes close the circuit again and reset failure_count; a success
// while Closed never resets failure_count on its own — only the window
// rollover in RecordFailure does, so a steady trickle of failures across
// many successes still accumulates toward the threshold.
func (b *Breaker) RecordSuccess() {
	successes := b.successCount.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen && successes >= int64(b.cfg.SuccessThreshold) {
		b.state = Closed
		b.failureCount.Store(0)
		b.successCount.Store(0)
	}
}

// RecordFailure reports a failed call. Within a window, enough failures
// against enough total requests trip (or re-trip) the circuit open; any
// failure in HalfOpen reopens it immediately.
func (b *Breaker) RecordFailure() {
	failures := b.failureCount.Add(1)
	requests := b.requestCount.Load()

	b.mu.Lock()
	defer b.mu.Unlock()

	if time.Since(b.windowStart) >= b.cfg.WindowSize {
		b.windowStart = time.Now()
		b.failureCount.Store(1)
		b.requestCount.Store(1)
		return
	}

	if b.state == HalfOpen {
		b.trip()
		return
	}
	if requests >= int64(b.cfg.MinRequests) && failures >= int64(b.cfg.FailureThreshold) {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
}

// Registry holds one Breaker per provider name, created lazily.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a Registry that builds each provider's Breaker from
// the same Config on first use.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// For returns the Breaker for a provider name, creating one if needed.
func (r *Registry) For(providerName string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[providerName]
	if !ok {
		b = New(r.cfg)
		r.breakers[providerName] = b
	}
	return b
}
