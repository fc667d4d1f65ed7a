package model

// ThinkingContentType discriminates ThinkingContent's three variants on the
// wire, mirroring original_source's ThinkingContent enum (text, block,
// redacted) but as a tagged Go struct rather than a Rust enum.
type ThinkingContentType string

const (
	ThinkingText     ThinkingContentType = "text"
	ThinkingBlock    ThinkingContentType = "block"
	ThinkingRedacted ThinkingContentType = "redacted"
)

// ThinkingContent is one unit of a model's extended reasoning output. Only
// the fields matching Type are populated; this mirrors MessageContent's
// sum-type emulation rather than introducing a second marshaling strategy.
type ThinkingContent struct {
	Type ThinkingContentType `json:"type"`

	// Text and Signature are set for Type == ThinkingText.
	Text      string  `json:"text,omitempty"`
	Signature *string `json:"signature,omitempty"`

	// Thinking and BlockType are set for Type == ThinkingBlock.
	Thinking  string  `json:"thinking,omitempty"`
	BlockType *string `json:"block_type,omitempty"`

	// TokenCount is set for Type == ThinkingRedacted — the provider withheld
	// the reasoning text but reported how many tokens it spent on it.
	TokenCount *uint32 `json:"token_count,omitempty"`
}

// IsRedacted reports whether the provider withheld the reasoning text.
func (t ThinkingContent) IsRedacted() bool {
	return t.Type == ThinkingRedacted
}

// AsText returns the visible reasoning text and true, or ("", false) when
// the content is redacted. Invariant (spec §8): for all ThinkingContent c,
// c.IsRedacted() iff c.AsText() is absent.
func (t ThinkingContent) AsText() (string, bool) {
	switch t.Type {
	case ThinkingText:
		return t.Text, true
	case ThinkingBlock:
		return t.Thinking, true
	default:
		return "", false
	}
}

// ThinkingEffort is a coarse budget hint for providers that accept a
// qualitative effort level instead of (or alongside) an explicit token
// budget.
type ThinkingEffort string

const (
	ThinkingEffortLow    ThinkingEffort = "low"
	ThinkingEffortMedium ThinkingEffort = "medium"
	ThinkingEffortHigh   ThinkingEffort = "high"
)

// SuggestedBudget returns the token budget an adapter should substitute when
// the provider wants an explicit number but the caller only gave an effort
// level (spec §4.1).
func (e ThinkingEffort) SuggestedBudget() uint32 {
	switch e {
	case ThinkingEffortLow:
		return 2000
	case ThinkingEffortMedium:
		return 8000
	case ThinkingEffortHigh:
		return 16000
	default:
		return 8000
	}
}

// ThinkingConfig is the caller's request to enable extended reasoning.
type ThinkingConfig struct {
	Enabled bool `json:"enabled"`

	BudgetTokens *uint32         `json:"budget_tokens,omitempty"`
	Effort       *ThinkingEffort `json:"effort,omitempty"`

	// IncludeThinking controls whether the provider's raw reasoning text is
	// surfaced to the caller at all, as opposed to spent but discarded.
	// Defaults to true — see NewThinkingConfig.
	IncludeThinking bool `json:"include_thinking"`

	// ExtraParams passes provider-specific thinking knobs straight through
	// untouched, the same escape hatch ChatRequest.Metadata provides at the
	// request level.
	ExtraParams map[string]any `json:"extra_params,omitempty"`
}

// NewThinkingConfig builds an enabled ThinkingConfig with IncludeThinking
// defaulted to true, matching original_source's Default impl.
func NewThinkingConfig() ThinkingConfig {
	return ThinkingConfig{Enabled: true, IncludeThinking: true}
}

// Budget resolves the effective token budget: an explicit BudgetTokens wins,
// otherwise Effort's suggestion, otherwise Medium's suggestion.
func (c ThinkingConfig) Budget() uint32 {
	if c.BudgetTokens != nil {
		return *c.BudgetTokens
	}
	if c.Effort != nil {
		return c.Effort.SuggestedBudget()
	}
	return ThinkingEffortMedium.SuggestedBudget()
}

// ThinkingUsage reports how many tokens a response spent on reasoning,
// separate from Usage.CompletionTokens so callers can bill it distinctly.
type ThinkingUsage struct {
	ThinkingTokens int  `json:"thinking_tokens"`
	WasRedacted    bool `json:"was_redacted,omitempty"`
}

// ThinkingCapabilities is a provider adapter's static description of its
// thinking support, used by the model-detection helper (spec §4.2) instead
// of an ad-hoc bool check scattered across adapters.
type ThinkingCapabilities struct {
	SupportsThinking          bool
	SupportsStreamingThinking bool
	MaxThinkingTokens         uint32
	SupportedEfforts          []ThinkingEffort

	// ThinkingModels restricts support to specific model name prefixes when
	// a provider only supports thinking on some of its models (e.g. Claude
	// 3.7+ but not earlier Anthropic models). Empty means "all models this
	// adapter serves".
	ThinkingModels []string

	// ThinkingAlwaysOn is true for models that always reason and never
	// accept a thinking toggle (the caller's ThinkingConfig is ignored, not
	// rejected, in that case).
	ThinkingAlwaysOn bool
}

// SupportsModel reports whether these capabilities apply to the given
// model name.
func (c ThinkingCapabilities) SupportsModel(model string) bool {
	if !c.SupportsThinking {
		return false
	}
	if len(c.ThinkingModels) == 0 {
		return true
	}
	for _, prefix := range c.ThinkingModels {
		if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// ThinkingDelta is the thinking-specific increment of a streaming chunk,
// carried alongside (not instead of) ChatCompletionChunkDelta.Content so a
// provider that interleaves reasoning and answer tokens can stream both.
type ThinkingDelta struct {
	Content    string `json:"content,omitempty"`
	IsStart    bool   `json:"is_start,omitempty"`
	IsComplete bool   `json:"is_complete,omitempty"`
}
