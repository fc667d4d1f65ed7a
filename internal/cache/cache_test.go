package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/unigate/internal/config"
	"github.com/howard-nolan/unigate/internal/model"
)

func chatReq(content string) *model.ChatRequest {
	return &model.ChatRequest{
		Model:    "gpt-test",
		Messages: []model.ChatMessage{{Role: model.RoleUser, Content: model.NewTextContent(content)}},
	}
}

func chatResp(text string) *model.ChatCompletionResponse {
	reason := model.FinishStop
	return &model.ChatCompletionResponse{
		ID:    "resp-1",
		Model: "gpt-test",
		Choices: []model.Choice{{
			Index:        0,
			Message:      model.ChatMessage{Role: model.RoleAssistant, Content: model.NewTextContent(text)},
			FinishReason: &reason,
		}},
	}
}

func TestCacheableExcludesStreamingAndNoCache(t *testing.T) {
	r1 := chatReq("hi")
	r1.Stream = true
	assert.False(t, Cacheable(r1))

	r2 := chatReq("hi")
	r2.NoCache = true
	assert.False(t, Cacheable(r2))

	temp := 0.7
	r3 := chatReq("hi")
	r3.Temperature = &temp
	assert.False(t, Cacheable(r3))

	assert.True(t, Cacheable(chatReq("hi")))
}

func TestMemoryTierHitAfterStore(t *testing.T) {
	m, err := New(config.CacheConfig{Enabled: true, MemoryMaxItems: 10, MemoryTTL: time.Minute}, nil)
	require.NoError(t, err)

	req := chatReq("what is the capital of france")
	resp := chatResp("Paris")

	_, hit := m.Lookup(context.Background(), req, nil)
	assert.False(t, hit)

	m.Store(context.Background(), req, nil, resp)

	got, hit := m.Lookup(context.Background(), req, nil)
	require.True(t, hit)
	assert.True(t, got.CacheInfo.Hit)
	assert.Equal(t, "exact", got.CacheInfo.CacheType)
	assert.Equal(t, "Paris", got.Choices[0].Message.Content.AsText())
}

func TestMemoryTierEvictsLRU(t *testing.T) {
	mt := newMemoryTier(2, time.Minute)
	mt.set(Key{Fingerprint: 1}, entry{Response: chatResp("a")})
	mt.set(Key{Fingerprint: 2}, entry{Response: chatResp("b")})
	mt.set(Key{Fingerprint: 3}, entry{Response: chatResp("c")})

	_, ok := mt.get(Key{Fingerprint: 1})
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = mt.get(Key{Fingerprint: 3})
	assert.True(t, ok)
}

func TestMemoryTierExpiresByTTL(t *testing.T) {
	mt := newMemoryTier(10, 20*time.Millisecond)
	mt.set(Key{Fingerprint: 1}, entry{Response: chatResp("a")})

	_, ok := mt.get(Key{Fingerprint: 1})
	assert.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = mt.get(Key{Fingerprint: 1})
	assert.False(t, ok)
}

func TestMemoryTierFillCoalescesConcurrentMisses(t *testing.T) {
	mt := newMemoryTier(10, time.Minute)
	var calls int32

	compute := func() (entry, error) {
		calls++
		time.Sleep(10 * time.Millisecond)
		return entry{Response: chatResp("computed")}, nil
	}

	done := make(chan struct{}, 5)
	for i := 0; i < 5; i++ {
		go func() {
			_, _ = mt.fill(Key{Fingerprint: 42}, compute)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	assert.LessOrEqual(t, calls, int32(1), "concurrent misses on the same key must coalesce into one compute call")
}

func TestRedisTierRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)

	rt, err := newRedisTier(RedisTierOptions{Addr: mr.Addr(), DefaultTTL: time.Minute})
	require.NoError(t, err)
	defer rt.close()

	key := Key{Fingerprint: 7}
	_, ok, err := rt.get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, rt.set(context.Background(), key, entry{Response: chatResp("cached")}, time.Minute))

	got, ok, err := rt.get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cached", got.Response.Choices[0].Message.Content.AsText())
}

func TestManagerFallsThroughToRedisTier(t *testing.T) {
	mr := miniredis.RunT(t)

	m := &Manager{cfg: config.CacheConfig{Enabled: true}}
	m.memory = newMemoryTier(10, time.Minute)
	rt, err := newRedisTier(RedisTierOptions{Addr: mr.Addr(), DefaultTTL: time.Minute})
	require.NoError(t, err)
	m.redis = rt
	defer m.Close()

	req := chatReq("ping")
	key := BuildKey(req, nil)
	require.NoError(t, rt.set(context.Background(), key, entry{Response: chatResp("pong")}, time.Minute))

	got, hit := m.Lookup(context.Background(), req, nil)
	require.True(t, hit)
	assert.Equal(t, "pong", got.Choices[0].Message.Content.AsText())

	// The memory tier should now be warmed from the Redis hit.
	_, memHit := m.memory.get(key)
	assert.True(t, memHit)
}

type fakeEmbedder struct{ vectors map[string][]float32 }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}
func (f *fakeEmbedder) ModelName() string { return "fake-embed" }

func TestSemanticTierMatchesAboveThreshold(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"what's the capital of france":  {1, 0, 0},
		"what is the capital of france": {0.99, 0.01, 0},
	}}
	st := newSemanticTier(emb, 0.9, 0, 100)

	req := chatReq("what's the capital of france")
	key := BuildSemanticKey(req, "fake-embed")
	require.NoError(t, st.store(context.Background(), key, "what's the capital of france", "gpt-test", entry{Response: chatResp("Paris")}))

	got, score, ok, err := st.lookup(context.Background(), "what is the capital of france", "gpt-test")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, score, 0.9)
	assert.Equal(t, "Paris", got.Response.Choices[0].Message.Content.AsText())
}

func TestSemanticTierRejectsCrossModelMatch(t *testing.T) {
	emb := &fakeEmbedder{}
	st := newSemanticTier(emb, 0.5, 0, 100)

	req := chatReq("hello")
	key := BuildSemanticKey(req, "fake-embed")
	require.NoError(t, st.store(context.Background(), key, "hello", "model-a", entry{Response: chatResp("hi")}))

	_, _, ok, err := st.lookup(context.Background(), "hello", "model-b")
	require.NoError(t, err)
	assert.False(t, ok, "a semantic hit must not cross model boundaries")
}

func TestBuildKeyIsSensitiveToTemperature(t *testing.T) {
	t1, t2 := 0.2, 0.8
	r1 := chatReq("hi")
	r1.Temperature = &t1
	r2 := chatReq("hi")
	r2.Temperature = &t2

	assert.NotEqual(t, BuildKey(r1, nil).Fingerprint, BuildKey(r2, nil).Fingerprint)
}
