// Package model defines the unified, provider-agnostic request and response
// types every adapter translates to and from (spec §3, §4.1). Nothing in
// this package knows about any specific provider's wire format — that
// translation lives in internal/provider.
package model

import (
	"encoding/json"

	"github.com/howard-nolan/unigate/internal/gatewayerr"
)

// Role is the speaker of a ChatMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleFunction  Role = "function"
)

// FinishReason is why a choice stopped generating.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishFunctionCall  FinishReason = "function_call"
)

// ContentPartType discriminates ContentPart.Type on the wire (spec §4.1:
// "ContentPart variants serialize with a discriminating type tag").
type ContentPartType string

const (
	ContentText        ContentPartType = "text"
	ContentImageURL    ContentPartType = "image_url"
	ContentImageSource ContentPartType = "image"
	ContentAudio       ContentPartType = "audio"
	ContentDocument    ContentPartType = "document"
	ContentToolUse     ContentPartType = "tool_use"
	ContentToolResult  ContentPartType = "tool_result"
)

// ContentPart is one element of a ChatMessage's content when content is a
// sequence rather than a bare string.
type ContentPart struct {
	Type ContentPartType `json:"type"`

	// Text is populated for Type == ContentText.
	Text string `json:"text,omitempty"`

	// ImageURL is populated for Type == ContentImageURL.
	ImageURL string `json:"image_url,omitempty"`

	// ImageSource carries inline base64 image bytes for Type == ContentImageSource.
	ImageSource *ImageSource `json:"image_source,omitempty"`

	// AudioData carries inline base64 audio bytes for Type == ContentAudio.
	AudioData string `json:"audio_data,omitempty"`

	// DocumentData carries inline base64 document bytes for Type == ContentDocument.
	DocumentData string `json:"document_data,omitempty"`

	// ToolUseID/Name/Input are populated for Type == ContentToolUse.
	ToolUseID    string          `json:"tool_use_id,omitempty"`
	ToolUseName  string          `json:"tool_use_name,omitempty"`
	ToolUseInput json.RawMessage `json:"tool_use_input,omitempty"`

	// ToolResultID/Content are populated for Type == ContentToolResult.
	ToolResultID      string `json:"tool_result_id,omitempty"`
	ToolResultContent string `json:"tool_result_content,omitempty"`
	ToolResultIsError bool   `json:"tool_result_is_error,omitempty"`
}

// ImageSource is an inline (base64) image, as opposed to ContentImageURL's
// remote reference.
type ImageSource struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// MessageContent is the sum type spec §3/§4.1 describes: absent, a bare
// string, or a sequence of ContentParts. json.Marshal/Unmarshal on
// ChatMessage.Content handle both wire shapes transparently — see
// MarshalJSON/UnmarshalJSON below.
type MessageContent struct {
	// Text is set when the source/destination used a bare string. Parts is
	// set when it used a content-part sequence. Exactly one is non-zero
	// unless the content was entirely absent (both zero).
	Text  string
	Parts []ContentPart

	// present distinguishes an explicitly-empty string ("") from content
	// that was omitted entirely, since both zero-value the same in Go.
	present bool
}

// NewTextContent builds a MessageContent carrying a bare string.
func NewTextContent(text string) MessageContent {
	return MessageContent{Text: text, present: true}
}

// NewPartsContent builds a MessageContent carrying a content-part sequence.
func NewPartsContent(parts []ContentPart) MessageContent {
	return MessageContent{Parts: parts, present: true}
}

// IsAbsent reports whether content was never set.
func (c MessageContent) IsAbsent() bool { return !c.present }

// IsParts reports whether content is a part sequence rather than a string.
func (c MessageContent) IsParts() bool { return c.present && c.Parts != nil }

// AsText returns the content flattened to plain text, concatenating the
// text of any text parts. Used by the token estimator and by the semantic
// cache's embedding input.
func (c MessageContent) AsText() string {
	if !c.IsParts() {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		if p.Type == ContentText {
			out += p.Text
		}
	}
	return out
}

// MarshalJSON emits a bare string when content is text, a JSON array when
// content is parts, and JSON null when content is absent — this is the
// "omit fields absent at the source" rule from spec §4.1.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	switch {
	case !c.present:
		return []byte("null"), nil
	case c.IsParts():
		return json.Marshal(c.Parts)
	default:
		return json.Marshal(c.Text)
	}
}

// UnmarshalJSON accepts both a bare string and a parts array, per spec
// §4.1's "Deserializers accept both a bare string and a parts sequence."
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = MessageContent{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = MessageContent{Text: s, present: true}
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	*c = MessageContent{Parts: parts, present: true}
	return nil
}

// ToolCall is one function-call the assistant requested.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ChatMessage is one message in a conversation (spec §3).
type ChatMessage struct {
	Role       Role            `json:"role"`
	Content    MessageContent  `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Thinking   *ThinkingContent `json:"thinking,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
}

// ResponseFormatType selects the shape the model must emit.
type ResponseFormatType string

const (
	ResponseFormatText       ResponseFormatType = "text"
	ResponseFormatJSONObject ResponseFormatType = "json_object"
	ResponseFormatJSONSchema ResponseFormatType = "json_schema"
)

// ResponseFormat is the caller's response-shape directive.
type ResponseFormat struct {
	Type   ResponseFormatType `json:"type"`
	Schema json.RawMessage    `json:"schema,omitempty"`
}

// ToolChoice directs whether/which tool the model must call.
type ToolChoice struct {
	Mode string `json:"mode,omitempty"` // "auto", "none", "required"
	Name string `json:"name,omitempty"` // set when Mode selects one tool by name
}

// ToolDeclaration describes one callable tool/function.
type ToolDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatRequest is the unified request every adapter lowers into its wire
// format (spec §3). Zero values for the optional sampling controls mean
// "caller did not set this" — validated in Validate below.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`

	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	MaxTokens        *uint32  `json:"max_tokens,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	Stop             []string `json:"stop,omitempty"`
	Seed             *int64   `json:"seed,omitempty"`
	N                *int     `json:"n,omitempty"`

	Stream bool `json:"stream,omitempty"`

	Tools          []ToolDeclaration `json:"tools,omitempty"`
	ToolChoice     *ToolChoice       `json:"tool_choice,omitempty"`
	ResponseFormat *ResponseFormat   `json:"response_format,omitempty"`

	Thinking *ThinkingConfig `json:"thinking,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	// NoCache bypasses the cache manager entirely regardless of other
	// cacheability rules (spec §4.8 Exclusions).
	NoCache bool `json:"no_cache,omitempty"`

	// PreferredProvider, if set, pins routing to a named provider instance
	// rather than letting the router's strategy pick (spec §4.6 Eligibility).
	PreferredProvider string `json:"preferred_provider,omitempty"`

	// FallbackOrder is the caller-supplied fallback chain (spec §4.6).
	FallbackOrder []string `json:"fallback_order,omitempty"`

	// Region, when set, restricts eligible providers to those matching it.
	Region string `json:"region,omitempty"`
}

// Validate enforces the invariants spec §3/§8 name. It does not touch the
// network or any provider — this is pure input validation run before
// routing.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return gatewayerr.New(gatewayerr.BadRequest, "messages must not be empty")
	}
	last := r.Messages[len(r.Messages)-1]
	if last.Role == RoleTool {
		if !priorAssistantReferencedToolCall(r.Messages, last.ToolCallID) {
			return gatewayerr.New(gatewayerr.BadRequest, "last message has role 'tool' but no prior assistant message referenced tool_call_id %q", last.ToolCallID)
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return gatewayerr.New(gatewayerr.BadRequest, "temperature must be within [0, 2], got %v", *r.Temperature)
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return gatewayerr.New(gatewayerr.BadRequest, "top_p must be within [0, 1], got %v", *r.TopP)
	}
	if r.MaxTokens != nil && *r.MaxTokens == 0 {
		return gatewayerr.New(gatewayerr.BadRequest, "max_tokens must be greater than 0")
	}
	if r.PresencePenalty != nil && (*r.PresencePenalty < -2 || *r.PresencePenalty > 2) {
		return gatewayerr.New(gatewayerr.BadRequest, "presence_penalty must be within [-2, 2], got %v", *r.PresencePenalty)
	}
	if r.FrequencyPenalty != nil && (*r.FrequencyPenalty < -2 || *r.FrequencyPenalty > 2) {
		return gatewayerr.New(gatewayerr.BadRequest, "frequency_penalty must be within [-2, 2], got %v", *r.FrequencyPenalty)
	}
	return nil
}

func priorAssistantReferencedToolCall(msgs []ChatMessage, toolCallID string) bool {
	if toolCallID == "" {
		return false
	}
	for _, m := range msgs {
		if m.Role != RoleAssistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			if tc.ID == toolCallID {
				return true
			}
		}
	}
	return false
}
