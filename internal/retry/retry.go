// Package retry implements the exponential-backoff retry engine (spec
// §4.7), grounded on original_source's utils/error/recovery/retry.rs: delay
// doubles (or ×BackoffMultiplier) each attempt up to MaxDelay, perturbed by
// ±10% jitter so a fleet of clients retrying the same failure don't all
// hammer the backend on the same tick.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/howard-nolan/unigate/internal/gatewayerr"
)

// Config tunes one retry loop.
type Config struct {
	MaxAttempts       int // total attempts including the first, not "extra" retries
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterFactor      float64 // e.g. 0.1 for ±10%
}

// DefaultConfig matches spec §4.7's suggested defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		BaseDelay:         200 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.1,
	}
}

// Attempt is what Call reports to the caller's observer (if any) after
// each attempt, useful for building a response's retry_info.
type Attempt struct {
	Number int
	Err    error
	Delay  time.Duration // delay slept before this attempt, 0 for the first
}

// Call runs fn, retrying on errors fn itself (or the caller) deems
// retryable, until MaxAttempts is exhausted, ctx is cancelled, or fn
// succeeds. onAttempt, if non-nil, is invoked after every attempt including
// the last.
func Call(ctx context.Context, cfg Config, fn func(ctx context.Context) error, onAttempt func(Attempt)) error {
	cfg = withDefaults(cfg)

	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		var slept time.Duration
		if attempt > 1 {
			slept = delay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay = nextDelay(delay, cfg)
		}

		err := fn(ctx)
		if onAttempt != nil {
			onAttempt(Attempt{Number: attempt, Err: err, Delay: slept})
		}
		if err == nil {
			return nil
		}
		lastErr = err

		ge, ok := gatewayerr.As(err)
		if !ok || !ge.Retryable() {
			// Unclassified errors are treated as non-retryable: retrying a
			// failure mode the taxonomy doesn't recognize could retry
			// something like a programming error indefinitely.
			return err
		}
	}

	return lastErr
}

func withDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = d.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = d.MaxDelay
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = d.BackoffMultiplier
	}
	if cfg.JitterFactor <= 0 {
		cfg.JitterFactor = d.JitterFactor
	}
	return cfg
}

// nextDelay applies the backoff multiplier, caps at MaxDelay, then
// perturbs by up to ±jitterFactor:
//
//	jitter = delay_ms * jitter_factor * (2*rand() - 1)
//	actual_delay = delay_ms + jitter
func nextDelay(current time.Duration, cfg Config) time.Duration {
	grown := time.Duration(float64(current) * cfg.BackoffMultiplier)
	if grown > cfg.MaxDelay {
		grown = cfg.MaxDelay
	}
	return jitter(grown, cfg.JitterFactor)
}

func jitter(d time.Duration, factor float64) time.Duration {
	ms := float64(d.Milliseconds())
	perturbation := ms * factor * (2*rand.Float64() - 1)
	actual := ms + perturbation
	if actual < 0 {
		actual = 0
	}
	return time.Duration(actual) * time.Millisecond
}
