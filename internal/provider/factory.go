package provider

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/howard-nolan/unigate/internal/config"
	"github.com/howard-nolan/unigate/internal/gatewayerr"
	"github.com/howard-nolan/unigate/internal/model"
)

// New builds a Provider instance from a single configuration entry (C3: the
// tagged-dispatch factory spec §4.3 describes). It is the one place in the
// gateway that knows the mapping from a config "type" string to a concrete
// adapter constructor — everything downstream only ever sees the Provider
// interface.
func New(pc config.ProviderConfig) (Provider, error) {
	client := &http.Client{Timeout: pc.Timeout()}

	caps := model.ThinkingCapabilities{
		SupportsThinking:          pc.SupportsThinking,
		SupportsStreamingThinking: pc.SupportsThinking,
		MaxThinkingTokens:         pc.MaxThinkingTokens,
		ThinkingModels:            pc.ThinkingModels,
		SupportedEfforts:          []model.ThinkingEffort{model.ThinkingEffortLow, model.ThinkingEffortMedium, model.ThinkingEffortHigh},
	}

	switch pc.Type {
	case string(TypeOpenAI):
		return NewOpenAIProvider(pc.Name, pc.BaseURL, pc.APIKey, client, caps, pc.ExtraHeaders), nil
	case string(TypeAnthropic):
		return NewAnthropicProvider(pc.Name, pc.APIKey, pc.BaseURL, client, caps), nil
	case string(TypeGoogle):
		return NewGoogleProvider(pc.Name, pc.APIKey, pc.BaseURL, client, caps), nil
	case string(TypeCloudflare):
		return NewCloudflareProvider(pc.Name, pc.AccountID, pc.APIToken, pc.BaseURL, client), nil
	default:
		return nil, gatewayerr.New(gatewayerr.Config, "unknown provider type %q for provider %q", pc.Type, pc.Name)
	}
}

// Registry resolves a model name to the provider instances eligible to
// serve it (spec §4.3/§4.6 eligibility). A model can be served by more than
// one registered provider instance — e.g. the same "gpt-4o" model behind
// two API keys for capacity — so lookup returns a slice, and the router
// picks among them.
type Registry struct {
	byModel map[string][]Provider
	byName  map[string]Provider
}

// NewRegistry builds providers for every configured entry and indexes them
// by both instance name and served model name. It fails fast on the first
// unconstructable entry rather than silently dropping a misconfigured
// provider the operator expected to be live.
func NewRegistry(entries []config.ProviderConfig) (*Registry, error) {
	reg := &Registry{
		byModel: make(map[string][]Provider),
		byName:  make(map[string]Provider),
	}
	for _, pc := range entries {
		p, err := New(pc)
		if err != nil {
			return nil, fmt.Errorf("building provider %q: %w", pc.Name, err)
		}
		reg.byName[pc.Name] = p
		for _, m := range pc.Models {
			reg.byModel[m] = append(reg.byModel[m], p)
		}
	}
	return reg, nil
}

// NewEmptyRegistry returns a Registry with no providers, for callers that
// build instances themselves (the pipeline's test harness, and any future
// dynamic registration path) rather than from config.ProviderConfig entries.
func NewEmptyRegistry() *Registry {
	return &Registry{
		byModel: make(map[string][]Provider),
		byName:  make(map[string]Provider),
	}
}

// Register adds an already-constructed provider instance under name,
// indexing it against every model it serves. It replaces any previous
// instance in the by-name lookup; the per-model lists keep the earlier
// instance as well.
func (r *Registry) Register(p Provider, models []string) {
	r.byName[p.Name()] = p
	for _, m := range models {
		r.byModel[m] = append(r.byModel[m], p)
	}
}

// Candidates returns the provider instances that can serve model. An empty
// result means the model is unknown to every registered provider.
func (r *Registry) Candidates(modelName string) []Provider {
	return r.byModel[modelName]
}

// ByName looks up a provider instance by its configured name, used when a
// request pins PreferredProvider.
func (r *Registry) ByName(name string) (Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// All returns every registered provider instance.
func (r *Registry) All() []Provider {
	out := make([]Provider, 0, len(r.byName))
	for _, p := range r.byName {
		out = append(out, p)
	}
	return out
}

// Models returns every distinct model name the registry can serve, sorted,
// for the GET /v1/models listing.
func (r *Registry) Models() []string {
	out := make([]string, 0, len(r.byModel))
	for m := range r.byModel {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
