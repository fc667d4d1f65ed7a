package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/unigate/internal/breaker"
	"github.com/howard-nolan/unigate/internal/config"
	"github.com/howard-nolan/unigate/internal/health"
	"github.com/howard-nolan/unigate/internal/model"
	"github.com/howard-nolan/unigate/internal/provider"
)

type fakeProvider struct {
	name string
}

func (f *fakeProvider) Name() string                            { return f.name }
func (f *fakeProvider) Type() provider.ProviderType              { return provider.TypeOpenAI }
func (f *fakeProvider) Capabilities() model.ThinkingCapabilities { return model.ThinkingCapabilities{} }
func (f *fakeProvider) ChatCompletion(context.Context, *model.ChatRequest) (*model.ChatCompletionResponse, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeProvider) ChatCompletionStream(context.Context, *model.ChatRequest) (<-chan model.ChatCompletionChunk, error) {
	return nil, errors.New("not implemented")
}

func newTestRegistry(names ...string) *provider.Registry {
	entries := make([]config.ProviderConfig, 0, len(names))
	for _, n := range names {
		entries = append(entries, config.ProviderConfig{Name: n, Type: "openai", BaseURL: "http://x", Models: []string{"test-model"}})
	}
	reg, err := provider.NewRegistry(entries)
	if err != nil {
		panic(err)
	}
	return reg
}

func TestResolveTreatsUnprobedProviderAsEligible(t *testing.T) {
	reg := newTestRegistry("a", "b")
	breakers := breaker.NewRegistry(breaker.Config{})
	mon := health.New(health.Config{})

	r := New(reg, breakers, mon, HealthBased{})
	chain, err := r.Resolve(context.Background(), "test-model", "", nil)
	require.NoError(t, err)
	assert.Len(t, chain, 2, "providers never probed yet (status unknown) must still be eligible")
}

func TestResolveErrorsWhenBreakerOpenForAll(t *testing.T) {
	reg := newTestRegistry("only")
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 1, MinRequests: 1})
	mon := health.New(health.Config{})
	r := New(reg, breakers, mon, HealthBased{})

	breakers.For("only").Allow()
	breakers.For("only").RecordFailure()

	_, err := r.Resolve(context.Background(), "test-model", "", nil)
	assert.Error(t, err)
}

func TestResolveUnknownModel(t *testing.T) {
	reg := newTestRegistry("a")
	breakers := breaker.NewRegistry(breaker.Config{})
	mon := health.New(health.Config{})
	r := New(reg, breakers, mon, HealthBased{})

	_, err := r.Resolve(context.Background(), "nonexistent-model", "", nil)
	assert.Error(t, err)
}

func TestResolvePreferredProviderIsTriedFirst(t *testing.T) {
	reg := newTestRegistry("a", "b")
	breakers := breaker.NewRegistry(breaker.Config{})
	mon := health.New(health.Config{})
	r := New(reg, breakers, mon, HealthBased{})

	chain, err := r.Resolve(context.Background(), "test-model", "b", nil)
	require.NoError(t, err)
	require.NotEmpty(t, chain)
	assert.Equal(t, "b", chain[0].Provider.Name())
}

func TestResolveExplicitFallbackOrder(t *testing.T) {
	reg := newTestRegistry("a", "b", "c")
	breakers := breaker.NewRegistry(breaker.Config{})
	mon := health.New(health.Config{})
	r := New(reg, breakers, mon, HealthBased{})

	chain, err := r.Resolve(context.Background(), "test-model", "", []string{"c", "a"})
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, "c", chain[0].Provider.Name())
	assert.Equal(t, "a", chain[1].Provider.Name())
}

func TestRoundRobinCyclesCandidates(t *testing.T) {
	a := &Candidate{Provider: &fakeProvider{name: "a"}, stats: &stats{}}
	b := &Candidate{Provider: &fakeProvider{name: "b"}, stats: &stats{}}
	strat := NewRoundRobin()

	first := strat.Pick([]*Candidate{a, b})
	second := strat.Pick([]*Candidate{a, b})
	assert.NotEqual(t, first, second)
}

func TestLeastBusyPicksLowestInFlight(t *testing.T) {
	a := &Candidate{Provider: &fakeProvider{name: "a"}, stats: &stats{}}
	b := &Candidate{Provider: &fakeProvider{name: "b"}, stats: &stats{}}
	a.stats.inFlight.Store(5)

	picked := (LeastBusy{}).Pick([]*Candidate{a, b})
	assert.Equal(t, b, picked)
}

func TestRecordUpdatesBreakerAndLatency(t *testing.T) {
	reg := newTestRegistry("a")
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 1, MinRequests: 1})
	mon := health.New(health.Config{})
	r := New(reg, breakers, mon, HealthBased{})

	allow, _ := breakers.For("a").Allow()
	assert.True(t, allow)
	r.Record("a", 10*time.Millisecond, 0.5, nil)

	allow, _ = breakers.For("a").Allow()
	assert.True(t, allow)
	r.Record("a", 10*time.Millisecond, 0.5, errors.New("boom"))

	allow, _ = breakers.For("a").Allow()
	assert.False(t, allow, "a single failure should trip a breaker with threshold 1")
}

func TestWeightedStrategyIsDeterministicForTieBreak(t *testing.T) {
	a := &Candidate{Provider: &fakeProvider{name: "a"}, Weight: 1, stats: &stats{}}
	strat := NewWeighted()
	picked := strat.Pick([]*Candidate{a})
	assert.Equal(t, a, picked)
}
