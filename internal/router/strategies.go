package router

import (
	"math/rand"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"

	"github.com/howard-nolan/unigate/internal/gatewayerr"
)

// xxhashString adapts cespare/xxhash to the func(string) uint64 signature
// go-rendezvous wants for its Hasher.
func xxhashString(s string) uint64 { return xxhash.Sum64String(s) }

// NewStrategy builds a Strategy by name, as configured in
// config.RouterConfig.Strategy. scriptPath is only consulted when name is
// "script".
func NewStrategy(name, scriptPath string) (Strategy, error) {
	switch name {
	case "", "health_based":
		return HealthBased{}, nil
	case "round_robin":
		return NewRoundRobin(), nil
	case "random":
		return Random{}, nil
	case "least_latency":
		return LeastLatency{}, nil
	case "least_busy":
		return LeastBusy{}, nil
	case "cost_optimized":
		return CostOptimized{}, nil
	case "weighted":
		return NewWeighted(), nil
	case "script":
		return NewScriptStrategy(scriptPath)
	default:
		return nil, gatewayerr.New(gatewayerr.Config, "unknown router strategy %q", name)
	}
}

// HealthBased is the default strategy: among the already health/breaker-
// filtered eligible set, prefer the one with the fewest in-flight calls as
// a light-touch proxy for "currently most healthy", falling back to the
// registration order for a stable tie-break.
type HealthBased struct{}

func (HealthBased) Name() string { return "health_based" }

func (HealthBased) Pick(candidates []*Candidate) *Candidate {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.InFlight() < best.InFlight() {
			best = c
		}
	}
	return best
}

// RoundRobin cycles through candidates in the order Resolve presents them,
// remembering its position across calls so repeated requests for the same
// model spread evenly.
type RoundRobin struct {
	counter *uint64Counter
}

func NewRoundRobin() *RoundRobin { return &RoundRobin{counter: &uint64Counter{}} }

func (r *RoundRobin) Name() string { return "round_robin" }

func (r *RoundRobin) Pick(candidates []*Candidate) *Candidate {
	if len(candidates) == 0 {
		return nil
	}
	i := r.counter.next() % uint64(len(candidates))
	return candidates[i]
}

type uint64Counter struct {
	n uint64
}

func (c *uint64Counter) next() uint64 {
	c.n++
	return c.n - 1
}

// Random picks uniformly at random among candidates.
type Random struct{}

func (Random) Name() string { return "random" }

func (Random) Pick(candidates []*Candidate) *Candidate {
	if len(candidates) == 0 {
		return nil
	}
	return candidates[rand.Intn(len(candidates))]
}

// LeastLatency picks the candidate with the lowest observed latency EWMA,
// treating a never-called candidate (zero EWMA) as the best choice so new
// or recently-recovered providers get tried.
type LeastLatency struct{}

func (LeastLatency) Name() string { return "least_latency" }

func (LeastLatency) Pick(candidates []*Candidate) *Candidate {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.LatencyEWMA() == 0 {
			return c
		}
		if best.LatencyEWMA() != 0 && c.LatencyEWMA() < best.LatencyEWMA() {
			best = c
		}
	}
	return best
}

// LeastBusy picks the candidate with the fewest in-flight calls.
type LeastBusy struct{}

func (LeastBusy) Name() string { return "least_busy" }

func (LeastBusy) Pick(candidates []*Candidate) *Candidate {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.InFlight() < best.InFlight() {
			best = c
		}
	}
	return best
}

// CostOptimized picks the candidate with the lowest observed average
// per-call cost, treating a candidate with no recorded calls yet as free
// (cost 0) so it gets a chance to establish a baseline.
type CostOptimized struct{}

func (CostOptimized) Name() string { return "cost_optimized" }

func (CostOptimized) Pick(candidates []*Candidate) *Candidate {
	if len(candidates) == 0 {
		return nil
	}
	sorted := append([]*Candidate(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].AverageCost() < sorted[j].AverageCost()
	})
	return sorted[0]
}

// Weighted uses rendezvous (highest random weight) hashing over the
// candidate set. There is no per-request routing key: each Pick hashes a
// counter that starts at a random seed and increments on every call, so
// successive picks spread across candidates roughly in proportion to
// their weight.
type Weighted struct {
	seed uint64
}

func NewWeighted() *Weighted { return &Weighted{seed: uint64(rand.Int63())} }

func (w *Weighted) Name() string { return "weighted" }

func (w *Weighted) Pick(candidates []*Candidate) *Candidate {
	if len(candidates) == 0 {
		return nil
	}
	byName := make(map[string]*Candidate, len(candidates))

	// go-rendezvous picks one node uniformly per key; repeating a
	// candidate's slot name proportional to its weight approximates
	// weighted rendezvous hashing without vendoring a weighted variant of
	// the algorithm.
	slots := make([]string, 0, len(candidates))
	for _, c := range candidates {
		for i := 0; i < c.Weight; i++ {
			slot := c.Provider.Name() + "#" + strconv.Itoa(i)
			slots = append(slots, slot)
			byName[slot] = c
		}
	}

	hasher := rendezvous.New(slots, xxhashString)
	picked := hasher.Get(strconv.FormatUint(w.seed, 10))
	w.seed++

	if c, ok := byName[picked]; ok {
		return c
	}
	return candidates[0]
}
