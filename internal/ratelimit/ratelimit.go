// Package ratelimit implements the composite rate limiter (spec §4.10):
// per-key token buckets for request/token-per-minute admission plus a
// sliding window for daily caps, keyed by the RateLimitKey composite from
// original_source/src/utils/net/limiter/types.rs.
//
// The token-bucket half is grounded on taipm-go-deep-agent's
// rate_limiter_token_bucket.go — one golang.org/x/time/rate.Limiter per
// key, with a cleanup goroutine evicting limiters that haven't been touched
// in a while so a gateway serving many distinct users/keys doesn't leak
// one limiter per key forever.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/howard-nolan/unigate/internal/gatewayerr"
)

// LimitType distinguishes which quota a Key/Result refers to.
type LimitType string

const (
	LimitRequests    LimitType = "requests"
	LimitTokens      LimitType = "tokens"
	LimitConcurrency LimitType = "concurrency"
)

// Key is the composite identity a limit is tracked against, adopted
// verbatim from original_source's RateLimitKey.
type Key struct {
	UserID    string
	TeamID    string
	APIKeyID  string
	IPAddress string
	LimitType LimitType
}

func (k Key) cacheKey() string {
	// Prefer the most specific identifier available, falling back down the
	// chain, so a request with only an IP still gets limited.
	switch {
	case k.APIKeyID != "":
		return "apikey:" + k.APIKeyID
	case k.UserID != "":
		return "user:" + k.UserID
	case k.TeamID != "":
		return "team:" + k.TeamID
	default:
		return "ip:" + k.IPAddress
	}
}

// Config tunes the default quotas applied when a caller doesn't carry a
// per-key override.
type Config struct {
	RequestsPerMinute int
	TokensPerMinute   int
	RequestsPerDay    int
	MaxConcurrent     int
	Burst             int

	// KeyTTL is how long an idle per-key limiter is kept before the
	// cleanup goroutine evicts it.
	KeyTTL time.Duration
}

// Result reports the outcome of an admission check. On denial, LimitType
// names the dimension that tripped and Remaining is that dimension's
// headroom at the moment of denial (0 for a hard trip), so callers can
// surface both in the 429 body (spec §4.10: "a denial returns the
// limit_type that tripped, remaining counts...").
type Result struct {
	Allowed    bool
	LimitType  LimitType
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type perKeyState struct {
	requests   *rate.Limiter
	tokens     *rate.Limiter
	day        *slidingWindow
	concurrent int
	lastAccess time.Time
	mu         sync.Mutex
}

// Limiter is the gateway-wide rate limiter: one perKeyState per Key,
// created lazily on first use.
type Limiter struct {
	cfg Config

	mu    sync.RWMutex
	state map[string]*perKeyState

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// New creates a Limiter and starts its idle-key cleanup goroutine.
func New(cfg Config) *Limiter {
	if cfg.Burst < 0 {
		cfg.Burst = 0
	}
	if cfg.KeyTTL <= 0 {
		cfg.KeyTTL = 10 * time.Minute
	}
	l := &Limiter{
		cfg:         cfg,
		state:       make(map[string]*perKeyState),
		stopCleanup: make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.stopCleanup) })
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.KeyTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCleanup:
			return
		case <-ticker.C:
			l.evictIdle()
		}
	}
}

func (l *Limiter) evictIdle() {
	cutoff := time.Now().Add(-l.cfg.KeyTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, st := range l.state {
		st.mu.Lock()
		idle := st.lastAccess.Before(cutoff) && st.concurrent == 0
		st.mu.Unlock()
		if idle {
			delete(l.state, k)
		}
	}
}

func (l *Limiter) stateFor(key Key) *perKeyState {
	ck := key.cacheKey()

	l.mu.RLock()
	st, ok := l.state[ck]
	l.mu.RUnlock()
	if ok {
		return st
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.state[ck]; ok {
		return st
	}
	st = &perKeyState{
		// capacity=limit per §4.10: the bucket holds one minute's worth of
		// quota, refilling at limit/60s. cfg.Burst adds headroom on top of
		// that floor for a short spike above the steady rate, rather than
		// replacing it as the bucket's whole capacity.
		requests:   rate.NewLimiter(rate.Limit(float64(l.cfg.RequestsPerMinute)/60.0), maxInt(l.cfg.RequestsPerMinute, 1)+l.cfg.Burst),
		tokens:     rate.NewLimiter(rate.Limit(float64(l.cfg.TokensPerMinute)/60.0), maxInt(l.cfg.TokensPerMinute, 1)+l.cfg.Burst*1000),
		day:        newSlidingWindow(24*time.Hour, l.cfg.RequestsPerDay),
		lastAccess: time.Now(),
	}
	l.state[ck] = st
	return st
}

// AllowRequest admits or rejects one request against the per-minute and
// per-day request quotas for key.
func (l *Limiter) AllowRequest(key Key) Result {
	st := l.stateFor(key)
	st.mu.Lock()
	st.lastAccess = time.Now()
	st.mu.Unlock()

	if l.cfg.RequestsPerDay > 0 && !st.day.Allow() {
		return Result{Allowed: false, LimitType: "rpd", Remaining: st.day.Remaining(), RetryAfter: st.day.RetryAfter()}
	}
	if !st.requests.Allow() {
		return Result{Allowed: false, LimitType: "rpm", Remaining: 0, RetryAfter: reservationDelay(st.requests)}
	}
	return Result{Allowed: true}
}

// AllowTokens admits or rejects a request that is estimated to cost
// estimatedTokens against the per-minute token quota for key (spec §4.10:
// "admission is checked against the pre-call token estimate").
func (l *Limiter) AllowTokens(key Key, estimatedTokens int) Result {
	st := l.stateFor(key)
	if l.cfg.TokensPerMinute <= 0 {
		return Result{Allowed: true}
	}
	if !st.tokens.AllowN(time.Now(), estimatedTokens) {
		return Result{Allowed: false, LimitType: "tpm", Remaining: 0, RetryAfter: reservationDelay(st.tokens)}
	}
	return Result{Allowed: true}
}

// Reconcile adjusts the token bucket after the real usage is known (spec
// §9, Open Question b: "real usage always overwrites the estimate"). When
// the actual cost exceeds the pre-call estimate, the difference is debited
// from future capacity immediately rather than retroactively failing a
// request that already completed; golang.org/x/time/rate has no credit-back
// primitive, so an over-estimate is simply left unclaimed for this window.
func (l *Limiter) Reconcile(key Key, estimatedTokens, actualTokens int) {
	if l.cfg.TokensPerMinute <= 0 {
		return
	}
	delta := actualTokens - estimatedTokens
	if delta <= 0 {
		return
	}
	st := l.stateFor(key)
	st.tokens.AllowN(time.Now(), delta)
}

// AcquireConcurrency reports whether another concurrent call may start for
// key, incrementing the in-flight count on success. Call ReleaseConcurrency
// when the call finishes.
func (l *Limiter) AcquireConcurrency(key Key) (bool, error) {
	if l.cfg.MaxConcurrent <= 0 {
		return true, nil
	}
	st := l.stateFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.concurrent >= l.cfg.MaxConcurrent {
		return false, gatewayerr.New(gatewayerr.RateLimit, "concurrency limit reached (%d)", l.cfg.MaxConcurrent).WithRateLimit("concurrency", 0)
	}
	st.concurrent++
	return true, nil
}

// ReleaseConcurrency decrements the in-flight count for key.
func (l *Limiter) ReleaseConcurrency(key Key) {
	st := l.stateFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.concurrent > 0 {
		st.concurrent--
	}
}

func reservationDelay(lim *rate.Limiter) time.Duration {
	r := lim.ReserveN(time.Now(), 1)
	defer r.Cancel()
	return r.Delay()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Wait blocks until key's request quota admits one more call or ctx ends.
func (l *Limiter) Wait(ctx context.Context, key Key) error {
	st := l.stateFor(key)
	if err := st.requests.Wait(ctx); err != nil {
		return gatewayerr.Wrap(gatewayerr.RateLimit, err, "rate limit wait")
	}
	return nil
}
