package cache

import (
	"context"

	"github.com/howard-nolan/unigate/internal/config"
	"github.com/howard-nolan/unigate/internal/model"
)

// Manager is the C8 cache manager: it probes the memory tier, then Redis,
// then the semantic tier, and fills all of them on a cold miss. A response
// carrying CacheInfo on the way out tells the caller which tier served it.
type Manager struct {
	cfg config.CacheConfig

	memory   *memoryTier
	redis    *redisTier
	semantic *semanticTier
}

// New builds a Manager from cfg. embedder may be nil, in which case the
// semantic tier is disabled regardless of cfg.SemanticEnabled — there is no
// meaningful semantic cache without something to embed prompts with.
func New(cfg config.CacheConfig, embedder Embedder) (*Manager, error) {
	m := &Manager{cfg: cfg}

	if !cfg.Enabled {
		return m, nil
	}

	m.memory = newMemoryTier(cfg.MemoryMaxItems, cfg.MemoryTTL)

	if cfg.RedisEnabled {
		rt, err := newRedisTier(RedisTierOptions{
			Addr:       cfg.RedisAddr,
			DB:         cfg.RedisDB,
			DefaultTTL: cfg.RedisTTL,
		})
		if err != nil {
			return nil, err
		}
		m.redis = rt
	}

	if cfg.SemanticEnabled && embedder != nil {
		m.semantic = newSemanticTier(embedder, cfg.SimilarityThreshold, cfg.SemanticMinPromptLength, cfg.MemoryMaxItems)
	}

	return m, nil
}

// Close releases any resources held by tiers (currently, the Redis
// connection pool).
func (m *Manager) Close() error {
	if m.redis != nil {
		return m.redis.close()
	}
	return nil
}

// Cacheable reports whether req is eligible for the cache manager at all
// (spec §4.8 Exclusions): streaming responses aren't cached since there is
// no single response object to store, NoCache opts a caller out explicitly,
// and a temperature above zero means the response is non-deterministic and
// a future identical request isn't guaranteed to want the same answer.
func Cacheable(req *model.ChatRequest) bool {
	if req.NoCache || req.Stream {
		return false
	}
	if req.Temperature != nil && *req.Temperature > 0 {
		return false
	}
	return true
}

// Lookup probes the memory tier, then Redis, then (if neither hit) the
// semantic tier, for req. identifiers carries any routing metadata (e.g.
// provider name) the caller wants folded into the key.
func (m *Manager) Lookup(ctx context.Context, req *model.ChatRequest, identifiers map[string]string) (*model.ChatCompletionResponse, bool) {
	if !m.cfg.Enabled || !Cacheable(req) {
		return nil, false
	}

	key := BuildKey(req, identifiers)

	if m.memory != nil {
		if e, ok := m.memory.get(key); ok {
			return withCacheInfo(e.Response, false), true
		}
	}

	if m.redis != nil {
		if e, ok, err := m.redis.get(ctx, key); err == nil && ok {
			if m.memory != nil {
				m.memory.set(key, e)
			}
			return withCacheInfo(e.Response, false), true
		}
	}

	if m.semantic != nil {
		prompt := flattenPrompt(req)
		if m.semantic.eligible(prompt) {
			if e, score, ok, err := m.semantic.lookup(ctx, prompt, req.Model); err == nil && ok {
				return withCacheInfo(e.Response, true, score), true
			}
		}
	}

	return nil, false
}

// Store writes resp into every enabled tier for req, so a later identical
// (or, for the semantic tier, similar) request can be served without a
// round trip to a provider.
func (m *Manager) Store(ctx context.Context, req *model.ChatRequest, identifiers map[string]string, resp *model.ChatCompletionResponse) {
	if !m.cfg.Enabled || !Cacheable(req) {
		return
	}
	key := BuildKey(req, identifiers)
	e := entry{Response: resp, PromptLen: len(flattenPrompt(req))}

	if m.memory != nil {
		m.memory.set(key, e)
	}
	if m.redis != nil {
		_ = m.redis.set(ctx, key, e, m.cfg.RedisTTL)
	}
	if m.semantic != nil {
		prompt := flattenPrompt(req)
		if m.semantic.eligible(prompt) {
			semKey := BuildSemanticKey(req, m.semantic.embedder.ModelName())
			_ = m.semantic.store(ctx, semKey, prompt, req.Model, e)
		}
	}
}

// Fill runs compute at most once per key concurrently (coalescing a
// thundering herd of identical misses), storing and returning its result.
// Use this from the pipeline instead of Lookup+Store when you want miss
// coalescing.
func (m *Manager) Fill(ctx context.Context, req *model.ChatRequest, identifiers map[string]string, compute func() (*model.ChatCompletionResponse, error)) (*model.ChatCompletionResponse, bool, error) {
	if !m.cfg.Enabled || !Cacheable(req) || m.memory == nil {
		resp, err := compute()
		return resp, false, err
	}

	if resp, hit := m.Lookup(ctx, req, identifiers); hit {
		return resp, true, nil
	}

	key := BuildKey(req, identifiers)
	e, err := m.memory.fill(key, func() (entry, error) {
		resp, err := compute()
		if err != nil {
			return entry{}, err
		}
		return entry{Response: resp, PromptLen: len(flattenPrompt(req))}, nil
	})
	if err != nil {
		return nil, false, err
	}

	if m.redis != nil {
		_ = m.redis.set(ctx, key, e, m.cfg.RedisTTL)
	}
	if m.semantic != nil {
		prompt := flattenPrompt(req)
		if m.semantic.eligible(prompt) {
			semKey := BuildSemanticKey(req, m.semantic.embedder.ModelName())
			_ = m.semantic.store(ctx, semKey, prompt, req.Model, e)
		}
	}

	return e.Response, false, nil
}

func flattenPrompt(req *model.ChatRequest) string {
	var out string
	for _, msg := range req.Messages {
		out += msg.Content.AsText()
	}
	return out
}

func withCacheInfo(resp *model.ChatCompletionResponse, semantic bool, similarity ...float64) *model.ChatCompletionResponse {
	clone := *resp
	info := &model.CacheInfo{Hit: true, CacheType: "exact"}
	if semantic {
		info.CacheType = "semantic"
		if len(similarity) > 0 {
			info.Similarity = similarity[0]
		}
	}
	clone.CacheInfo = info
	return &clone
}
