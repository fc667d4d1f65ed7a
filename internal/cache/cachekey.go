// Package cache implements the multi-tier cache manager (spec §4.8):
// an in-process tier, a distributed Redis tier, and a semantic
// similarity tier, fronted by one Manager that tries them in order and
// coalesces concurrent misses into a single upstream fill.
package cache

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/howard-nolan/unigate/internal/model"
)

// Type discriminates which tier produced or should produce an entry.
type Type string

const (
	TypeExact    Type = "exact"
	TypeSemantic Type = "semantic"
)

// Key is the cache key shape, generalized from spec §3's 3-tuple to carry
// an open identifiers map the way original_source's CacheKey
// (src/core/types/cache.rs) does — this is how a semantic entry records its
// embedding model and similarity bucket alongside the same fingerprint hash
// an exact-match entry uses.
type Key struct {
	CacheType   Type
	Fingerprint uint64
	Identifiers map[string]string
}

// String renders the key deterministically: identifier keys are sorted
// before hashing/printing so two logically-identical requests that happen
// to populate a map in a different order still produce the same string,
// matching original_source's custom Hash/Display impls.
func (k Key) String() string {
	s := string(k.CacheType) + ":" + strconv.FormatUint(k.Fingerprint, 16)
	names := make([]string, 0, len(k.Identifiers))
	for name := range k.Identifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s += ":" + name + "=" + k.Identifiers[name]
	}
	return s
}

// RedisField returns the full Redis key, namespacing by cache type so
// exact and semantic entries never collide even if a fingerprint collided
// (astronomically unlikely with a 64-bit hash, but free to guard against).
func (k Key) RedisField() string { return k.String() }

// BuildKey fingerprints a chat request into a Key. Sampling parameters that
// affect output (temperature, top_p, etc.) are folded into the hash so a
// cached greedy-decode response is never served for a high-temperature
// request — this is the "fingerprint must be sensitive to every parameter
// that can change the response" invariant from spec §4.8.
func BuildKey(req *model.ChatRequest, identifiers map[string]string) Key {
	h := xxhash.New()

	h.WriteString(req.Model)
	for _, m := range req.Messages {
		h.WriteString(string(m.Role))
		h.WriteString(m.Content.AsText())
		h.WriteString(m.ToolCallID)
	}
	writeOptFloat(h, req.Temperature)
	writeOptFloat(h, req.TopP)
	writeOptUint32(h, req.MaxTokens)
	writeOptFloat(h, req.PresencePenalty)
	writeOptFloat(h, req.FrequencyPenalty)
	for _, s := range req.Stop {
		h.WriteString(s)
	}
	if req.ResponseFormat != nil {
		h.WriteString(string(req.ResponseFormat.Type))
	}
	if req.Seed != nil {
		h.WriteString("seed" + strconv.FormatInt(*req.Seed, 10))
	}
	if req.N != nil {
		h.WriteString("n" + strconv.Itoa(*req.N))
	}
	for _, t := range req.Tools {
		h.WriteString(t.Name)
		h.Write(t.Parameters)
	}
	if req.ToolChoice != nil {
		h.WriteString("tool_choice" + req.ToolChoice.Mode + ":" + req.ToolChoice.Name)
	}
	if req.Thinking != nil {
		h.WriteString("thinking")
		h.WriteString(strconv.FormatBool(req.Thinking.Enabled))
		h.WriteString(strconv.FormatUint(uint64(req.Thinking.Budget()), 10))
	}

	ids := make(map[string]string, len(identifiers)+1)
	for k, v := range identifiers {
		ids[k] = v
	}

	return Key{CacheType: TypeExact, Fingerprint: h.Sum64(), Identifiers: ids}
}

// BuildSemanticKey builds a Key for the semantic tier: the fingerprint
// covers the embedding model and flattened prompt text rather than every
// sampling knob, since a semantic match only needs the prompt to be close,
// not every parameter to be identical bit-for-bit.
func BuildSemanticKey(req *model.ChatRequest, embeddingModel string) Key {
	h := xxhash.New()
	h.WriteString(embeddingModel)
	h.WriteString(req.Model)
	for _, m := range req.Messages {
		h.WriteString(m.Content.AsText())
	}
	return Key{
		CacheType:   TypeSemantic,
		Fingerprint: h.Sum64(),
		Identifiers: map[string]string{"embedding_model": embeddingModel},
	}
}

func writeOptFloat(h *xxhash.Digest, f *float64) {
	if f == nil {
		h.WriteString("_")
		return
	}
	h.WriteString(strconv.FormatFloat(*f, 'f', -1, 64))
}

func writeOptUint32(h *xxhash.Digest, v *uint32) {
	if v == nil {
		h.WriteString("_")
		return
	}
	h.WriteString(strconv.FormatUint(uint64(*v), 10))
}

// entry is what every tier actually stores: the response plus enough
// metadata to populate model.CacheInfo on a hit.
type entry struct {
	Response  *model.ChatCompletionResponse `json:"response"`
	Embedding []float32                     `json:"embedding,omitempty"`
	PromptLen int                           `json:"prompt_len"`
}

func (e entry) marshal() ([]byte, error) { return json.Marshal(e) }

func unmarshalEntry(data []byte) (entry, error) {
	var e entry
	err := json.Unmarshal(data, &e)
	return e, err
}
