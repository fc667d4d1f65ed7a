package model

import "strings"

// EstimateTokens approximates token count from raw text when no provider
// tokenizer is available — used for pre-call rate-limit admission (C10) and
// for synthesizing Usage on a stream that never reported real counts
// (spec §9, Open Question c). The teacher's go.mod carries daulet/tokenizers
// and onnxruntime_go for exact BPE counts; neither is wired (see DESIGN.md)
// so this stays a cheap character-ratio heuristic, the same shortcut
// original_source falls back to when no tokenizer is loaded.
func EstimateTokens(text string, model string) int {
	return EstimateTokensForLength(len(text), model)
}

// EstimateTokensForLength is EstimateTokens without requiring the caller to
// hold the text itself — used to synthesize streaming usage from an
// accumulated delta-content byte count (spec §9, Open Question c).
func EstimateTokensForLength(chars int, model string) int {
	if chars == 0 {
		return 0
	}
	charsPerToken := 4.0
	if isClaudeClass(model) {
		charsPerToken = 3.5
	}
	n := int(float64(chars)/charsPerToken + 0.5)
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateMessagesTokens sums EstimateTokens over every message's flattened
// text, plus a small fixed overhead per message for role/formatting tokens.
func EstimateMessagesTokens(msgs []ChatMessage, model string) int {
	const perMessageOverhead = 4
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead + EstimateTokens(m.Content.AsText(), model)
	}
	return total
}

func isClaudeClass(model string) bool {
	return strings.HasPrefix(model, "claude-")
}
