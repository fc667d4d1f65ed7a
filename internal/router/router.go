// Package router implements the C6 load balancer: given the candidate
// providers able to serve a model, pick one eligible instance according to
// a configurable strategy, and build the fallback chain to try if it
// fails. Eligibility consults the circuit breaker (C4) and health monitor
// (C5) registries directly — the router never talks to a provider itself.
package router

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/howard-nolan/unigate/internal/breaker"
	"github.com/howard-nolan/unigate/internal/config"
	"github.com/howard-nolan/unigate/internal/gatewayerr"
	"github.com/howard-nolan/unigate/internal/health"
	"github.com/howard-nolan/unigate/internal/provider"
)

// Candidate is one eligible provider instance plus the live stats a
// strategy picks among.
type Candidate struct {
	Provider provider.Provider
	Weight   int

	stats *stats
}

// stats are the running per-provider numbers strategies read from and the
// pipeline writes to via Router.Record. All fields are atomics so Record
// and a concurrent strategy Pick never need a lock between them.
type stats struct {
	latencyEWMAMicros atomic.Int64
	inFlight          atomic.Int64
	totalCalls        atomic.Int64
	totalCost         atomic.Float64 // cents, accumulated for cost_optimized
}

// LatencyEWMA returns the exponentially-weighted average latency observed
// for this candidate, or zero if it has never been called.
func (c *Candidate) LatencyEWMA() time.Duration {
	return time.Duration(c.stats.latencyEWMAMicros.Load()) * time.Microsecond
}

// InFlight returns how many calls are currently outstanding against this
// candidate.
func (c *Candidate) InFlight() int64 { return c.stats.inFlight.Load() }

// AverageCost returns the running average per-call cost in cents.
func (c *Candidate) AverageCost() float64 {
	calls := c.stats.totalCalls.Load()
	if calls == 0 {
		return 0
	}
	return c.stats.totalCost.Load() / float64(calls)
}

// Strategy picks one candidate from an already-eligibility-filtered,
// non-empty slice. Implementations must not mutate candidates.
type Strategy interface {
	Pick(candidates []*Candidate) *Candidate
	Name() string
}

// Router resolves a model name to an ordered fallback chain of eligible
// provider instances (spec §4.6).
type Router struct {
	registry *provider.Registry
	breakers *breaker.Registry
	health   *health.Monitor
	strategy Strategy

	mu      sync.RWMutex
	stats   map[string]*stats // keyed by provider name
	weights map[string]int    // keyed by provider name
}

// New builds a Router. strategy is resolved by name via NewStrategy in
// strategies.go; pass the already-constructed Strategy here to keep this
// constructor free of config-parsing concerns.
func New(registry *provider.Registry, breakers *breaker.Registry, monitor *health.Monitor, strategy Strategy) *Router {
	return &Router{
		registry: registry,
		breakers: breakers,
		health:   monitor,
		strategy: strategy,
		stats:    make(map[string]*stats),
		weights:  make(map[string]int),
	}
}

func (r *Router) statsFor(name string) *stats {
	r.mu.RLock()
	s, ok := r.stats[name]
	r.mu.RUnlock()
	if ok {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stats[name]; ok {
		return s
	}
	s = &stats{}
	r.stats[name] = s
	return s
}

// RegisterWeights records each provider's configured weight, used by the
// weighted strategy. Call once at startup with the same entries passed to
// provider.NewRegistry.
func (r *Router) RegisterWeights(entries []config.ProviderConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pc := range entries {
		w := pc.Weight
		if w <= 0 {
			w = 1
		}
		r.weights[pc.Name] = w
	}
}

func (r *Router) weightFor(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if w, ok := r.weights[name]; ok && w > 0 {
		return w
	}
	return 1
}

// Resolve builds the ordered candidate chain for a chat request. A
// PreferredProvider pin, or else a caller-supplied FallbackOrder, decides
// the head of the chain, with the remaining eligible candidates following
// in registration order (spec §4.6: "a caller-supplied fallback order takes
// precedence over the strategy's own ordering"). Only when neither is given
// does the strategy order the chain, by picking repeatedly from the
// eligible candidates.
func (r *Router) Resolve(ctx context.Context, modelName string, preferred string, explicitFallback []string) ([]*Candidate, error) {
	all := r.registry.Candidates(modelName)
	if len(all) == 0 {
		return nil, gatewayerr.New(gatewayerr.NotFound, "no provider registered for model %q", modelName)
	}

	eligible := r.eligible(all)
	if len(eligible) == 0 {
		return nil, gatewayerr.New(gatewayerr.ProviderUnavailable, "no healthy, closed-circuit provider available for model %q", modelName)
	}

	if preferred != "" {
		if p, ok := r.registry.ByName(preferred); ok {
			return r.pinnedChain(p, eligible), nil
		}
	}

	if len(explicitFallback) > 0 {
		return r.namedChain(explicitFallback, eligible), nil
	}

	return r.strategyChain(eligible), nil
}

func (r *Router) eligible(all []provider.Provider) []*Candidate {
	out := make([]*Candidate, 0, len(all))
	for _, p := range all {
		name := p.Name()
		if allow, _ := r.breakers.For(name).Allow(); !allow {
			continue
		}
		if r.health.Status(name) == health.Unhealthy {
			continue
		}
		out = append(out, &Candidate{Provider: p, Weight: r.weightFor(name), stats: r.statsFor(name)})
	}
	return out
}

func (r *Router) pinnedChain(pinned provider.Provider, eligible []*Candidate) []*Candidate {
	chain := make([]*Candidate, 0, len(eligible)+1)
	var rest []*Candidate
	for _, c := range eligible {
		if c.Provider.Name() == pinned.Name() {
			chain = append(chain, c)
		} else {
			rest = append(rest, c)
		}
	}
	if len(chain) == 0 {
		// Pinned provider isn't currently eligible; still try it first since
		// a caller pin is an explicit override of the health/breaker gate,
		// then fall back to the other eligible candidates in registration order.
		chain = append(chain, &Candidate{Provider: pinned, Weight: r.weightFor(pinned.Name()), stats: r.statsFor(pinned.Name())})
	}
	return append(chain, rest...)
}

func (r *Router) namedChain(order []string, eligible []*Candidate) []*Candidate {
	byName := make(map[string]*Candidate, len(eligible))
	for _, c := range eligible {
		byName[c.Provider.Name()] = c
	}
	chain := make([]*Candidate, 0, len(eligible))
	used := make(map[string]bool, len(order))
	for _, name := range order {
		if c, ok := byName[name]; ok {
			chain = append(chain, c)
			used[name] = true
		}
	}
	for _, c := range eligible {
		if !used[c.Provider.Name()] {
			chain = append(chain, c)
		}
	}
	return chain
}

func (r *Router) strategyChain(eligible []*Candidate) []*Candidate {
	remaining := append([]*Candidate(nil), eligible...)
	chain := make([]*Candidate, 0, len(eligible))
	for len(remaining) > 0 {
		picked := r.strategy.Pick(remaining)
		if picked == nil {
			break
		}
		chain = append(chain, picked)
		remaining = removeCandidate(remaining, picked)
	}
	return chain
}

func removeCandidate(cands []*Candidate, target *Candidate) []*Candidate {
	out := make([]*Candidate, 0, len(cands)-1)
	for _, c := range cands {
		if c != target {
			out = append(out, c)
		}
	}
	return out
}

// Record reports the outcome of a call against a provider so the breaker
// and this router's own latency/cost stats reflect it; the health monitor
// is not updated here. Call this exactly once per attempt, after the call
// returns (or times out).
func (r *Router) Record(providerName string, latency time.Duration, costCents float64, err error) {
	if err != nil {
		r.breakers.For(providerName).RecordFailure()
	} else {
		r.breakers.For(providerName).RecordSuccess()
	}

	s := r.statsFor(providerName)
	s.totalCalls.Inc()
	s.totalCost.Add(costCents)

	// Exponential moving average with a fixed smoothing factor; this is a
	// stat the router consults to rank candidates, not a billing figure, so
	// a simple fixed-alpha EWMA is enough precision.
	const alpha = 0.2
	newMicros := float64(latency.Microseconds())
	for {
		old := s.latencyEWMAMicros.Load()
		if old == 0 {
			if s.latencyEWMAMicros.CompareAndSwap(0, int64(newMicros)) {
				return
			}
			continue
		}
		updated := int64(alpha*newMicros + (1-alpha)*float64(old))
		if s.latencyEWMAMicros.CompareAndSwap(old, updated) {
			return
		}
	}
}

// AcquireInFlight increments the in-flight counter for providerName; call
// ReleaseInFlight when the call finishes. Used by the least_busy strategy.
func (r *Router) AcquireInFlight(providerName string) {
	r.statsFor(providerName).inFlight.Inc()
}

// ReleaseInFlight decrements the in-flight counter for providerName.
func (r *Router) ReleaseInFlight(providerName string) {
	r.statsFor(providerName).inFlight.Dec()
}
