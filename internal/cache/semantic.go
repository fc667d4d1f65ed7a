package cache

import (
	"context"
	"sync"

	"github.com/viterin/vek/vek32"
)

// Embedder produces a vector embedding for a prompt. The Manager is
// embedding-model-agnostic: whatever provider the caller wires in here is
// what semantic lookups are computed against.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// semanticRecord is one embedded entry held by the semantic tier.
type semanticRecord struct {
	key       Key
	embedding []float32
	value     entry
}

// semanticTier holds embedded prompts in memory and finds the nearest
// neighbor above a similarity threshold using vek's vectorized cosine
// similarity — a linear scan, which is the right trade for a tier that's
// checked only after an exact-match miss and is bounded by MemoryMaxItems
// in practice.
type semanticTier struct {
	embedder  Embedder
	threshold float64
	minPromptLen int

	mu      sync.RWMutex
	records []semanticRecord
	maxSize int
}

func newSemanticTier(embedder Embedder, threshold float64, minPromptLen, maxSize int) *semanticTier {
	if threshold <= 0 {
		threshold = 0.95
	}
	if maxSize <= 0 {
		maxSize = 5000
	}
	return &semanticTier{embedder: embedder, threshold: threshold, minPromptLen: minPromptLen, maxSize: maxSize}
}

// eligible reports whether prompt is long enough to bother embedding (spec
// §4.8 Exclusions: very short prompts produce embeddings too generic to be
// a meaningful similarity signal).
func (s *semanticTier) eligible(prompt string) bool {
	return len(prompt) >= s.minPromptLen
}

// lookup embeds prompt and returns the best match above the configured
// threshold, if any, along with its similarity score.
func (s *semanticTier) lookup(ctx context.Context, prompt string, sameCacheKeyModel string) (entry, float64, bool, error) {
	vecq, err := s.embedder.Embed(ctx, prompt)
	if err != nil {
		return entry{}, 0, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best      entry
		bestScore float64
		found     bool
	)
	for _, rec := range s.records {
		if rec.key.Identifiers["model"] != sameCacheKeyModel {
			// Matching across different models would serve a response a
			// different model produced for a similar-but-not-identical
			// prompt — never a valid substitute (spec §5 decision a).
			continue
		}
		score := cosineSimilarity(vecq, rec.embedding)
		if score >= s.threshold && score > bestScore {
			best, bestScore, found = rec.value, score, true
		}
	}
	return best, bestScore, found, nil
}

// store embeds prompt and records val under key for future semantic
// lookups, evicting the oldest record if the tier is full.
func (s *semanticTier) store(ctx context.Context, key Key, prompt, model string, val entry) error {
	vecq, err := s.embedder.Embed(ctx, prompt)
	if err != nil {
		return err
	}
	if key.Identifiers == nil {
		key.Identifiers = map[string]string{}
	}
	key.Identifiers["model"] = model

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, semanticRecord{key: key, embedding: vecq, value: val})
	if len(s.records) > s.maxSize {
		s.records = s.records[len(s.records)-s.maxSize:]
	}
	return nil
}

// cosineSimilarity uses vek32's vectorized cosine similarity so a linear
// scan over thousands of embeddings stays cheap.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return float64(vek32.CosineSimilarity(a, b))
}
