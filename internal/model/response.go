package model

// TokenDetails breaks Usage.PromptTokens/CompletionTokens down further, for
// providers that report cached/audio/reasoning sub-counts.
type TokenDetails struct {
	CachedTokens    int `json:"cached_tokens,omitempty"`
	AudioTokens     int `json:"audio_tokens,omitempty"`
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
}

// Usage holds token accounting for one response (spec §3).
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	PromptTokensDetails     *TokenDetails `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails *TokenDetails `json:"completion_tokens_details,omitempty"`

	ThinkingUsage *ThinkingUsage `json:"thinking_usage,omitempty"`

	// IsEstimate is true when no provider usage was available and Usage was
	// synthesized from accumulated content (spec §9, Open Question c).
	IsEstimate bool `json:"is_estimate,omitempty"`
}

// Normalize fixes TotalTokens so invariant 3 of spec §8 always holds: it is
// the adapter's job to call this before returning a response.
func (u *Usage) Normalize() {
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
}

// Choice is one generated alternative in a ChatCompletionResponse.
type Choice struct {
	Index        int           `json:"index"`
	Message      ChatMessage   `json:"message"`
	FinishReason *FinishReason `json:"finish_reason,omitempty"`
}

// ChatCompletionResponse is the unified non-streaming response (spec §3).
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`

	// CacheInfo is attached by the cache manager (C8), never by an adapter.
	CacheInfo *CacheInfo `json:"cache_info,omitempty"`

	// Warnings carries non-fatal notices such as "thinking requested but
	// unsupported by model X, ignored" (spec §4.2).
	Warnings []string `json:"-"`
}

// CacheInfo describes how a response was served from the cache manager.
type CacheInfo struct {
	Hit        bool    `json:"hit"`
	CacheType  string  `json:"cache_type,omitempty"` // "exact" | "semantic"
	Similarity float64 `json:"similarity,omitempty"`
}

// ChatCompletionChunkDelta is the incremental content of one streaming
// chunk (spec §4.9).
type ChatCompletionChunkDelta struct {
	Role      Role            `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	Thinking  *ThinkingDelta  `json:"thinking,omitempty"`
	ToolCalls []ToolCall      `json:"tool_calls,omitempty"`
}

// ChunkChoice is one choice within a streaming chunk.
type ChunkChoice struct {
	Index        int                      `json:"index"`
	Delta        ChatCompletionChunkDelta `json:"delta"`
	FinishReason *FinishReason            `json:"finish_reason,omitempty"`
}

// ChatCompletionChunk is one unit of a normalized streaming response
// (spec §4.9).
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`

	// Err, when non-nil, signals the synthetic error event spec §4.9
	// requires on mid-stream upstream failure. The normalizer closes the
	// sequence immediately after emitting a chunk with Err set.
	Err error `json:"-"`
}
