package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/howard-nolan/unigate/internal/gatewayerr"
	"github.com/howard-nolan/unigate/internal/model"
)

// ---------------------------------------------------------------------------
// AnthropicProvider struct + constructor
// ---------------------------------------------------------------------------

// AnthropicProvider implements Provider for Anthropic's Messages API. Same
// five-step flow as OpenAIProvider (translate → serialize → POST → decode →
// translate back), but the wire shape diverges enough — system prompt
// pulled to the top level, named SSE events instead of one uniform shape,
// thinking content blocks — that it earns its own adapter rather than a
// branch in the OpenAI one.
type AnthropicProvider struct {
	name    string
	apiKey  string
	baseURL string // e.g. "https://api.anthropic.com/v1"
	client  *http.Client
	caps    model.ThinkingCapabilities
}

// NewAnthropicProvider creates an AnthropicProvider ready to make API calls.
func NewAnthropicProvider(name, apiKey, baseURL string, client *http.Client, caps model.ThinkingCapabilities) *AnthropicProvider {
	return &AnthropicProvider{
		name:    name,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		caps:    caps,
	}
}

func (a *AnthropicProvider) Name() string                             { return a.name }
func (a *AnthropicProvider) Type() ProviderType                       { return TypeAnthropic }
func (a *AnthropicProvider) Capabilities() model.ThinkingCapabilities { return a.caps }

// ---------------------------------------------------------------------------
// Anthropic API types (unexported)
// ---------------------------------------------------------------------------

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Stream    bool               `json:"stream,omitempty"`
	Thinking  *anthropicThinking `json:"thinking,omitempty"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"` // "enabled"
	BudgetTokens uint32 `json:"budget_tokens"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// anthropicMessage is one message in the conversation. Content is always
// sent as an array of content blocks; a plain-text message becomes a single
// text block.
type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

// anthropicContentBlock is one piece of a request or response. Anthropic
// uses the same shape for both directions: text, tool_use, tool_result, and
// the two thinking variants (thinking, redacted_thinking).
type anthropicContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`    // tool_use
	Name  string          `json:"name,omitempty"`  // tool_use
	Input json.RawMessage `json:"input,omitempty"` // tool_use

	ToolUseID string `json:"tool_use_id,omitempty"` // tool_result
	IsError   bool   `json:"is_error,omitempty"`    // tool_result

	Thinking  string `json:"thinking,omitempty"`   // thinking
	Signature string `json:"signature,omitempty"`  // thinking
	Data      string `json:"data,omitempty"`       // redacted_thinking
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- Streaming event types ---
//
// Anthropic sends NAMED events, each a different JSON payload shape:
//   message_start       → response ID, model, input token count
//   content_block_start → which block index begins, and its type
//   content_block_delta → a text/thinking token or partial tool_use JSON
//   content_block_stop  → a block finished (e.g. thinking block complete)
//   message_delta       → stop_reason and output token count
//   message_stop        → stream is done

type anthropicStreamEvent struct {
	Type         string                 `json:"type"`
	Index        int                    `json:"index"`
	Message      *anthropicEventMessage `json:"message,omitempty"`
	ContentBlock *anthropicContentBlock `json:"content_block,omitempty"`
	Delta        *anthropicEventDelta   `json:"delta,omitempty"`
	Usage        *anthropicUsage        `json:"usage,omitempty"`
}

type anthropicEventMessage struct {
	ID    string         `json:"id"`
	Model string         `json:"model"`
	Usage anthropicUsage `json:"usage"`
}

// anthropicEventDelta carries different data depending on the event:
//   content_block_delta (text_delta)      → Text
//   content_block_delta (thinking_delta)  → Thinking
//   content_block_delta (signature_delta) → Signature
//   message_delta                         → StopReason
type anthropicEventDelta struct {
	Type       string `json:"type,omitempty"`
	Text       string `json:"text,omitempty"`
	Thinking   string `json:"thinking,omitempty"`
	Signature  string `json:"signature,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

const anthropicAPIVersion = "2023-06-01"

const defaultMaxTokens = 1024

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

// toAnthropicRequest translates the unified request into Anthropic's shape:
// system messages are pulled into the top-level "system" string, thinking
// config becomes the "thinking" object, and max_tokens gets a default since
// Anthropic requires the field.
func toAnthropicRequest(req *model.ChatRequest) (*anthropicRequest, error) {
	ar := &anthropicRequest{Model: req.Model}

	var systemParts []string
	for _, msg := range req.Messages {
		if msg.Role == model.RoleSystem {
			systemParts = append(systemParts, msg.Content.AsText())
			continue
		}

		blocks, err := toAnthropicContentBlocks(msg)
		if err != nil {
			return nil, err
		}
		ar.Messages = append(ar.Messages, anthropicMessage{
			Role:    string(msg.Role),
			Content: blocks,
		})
	}
	if len(systemParts) > 0 {
		ar.System = strings.Join(systemParts, "\n")
	}

	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		ar.MaxTokens = int(*req.MaxTokens)
	} else {
		ar.MaxTokens = defaultMaxTokens
	}

	for _, t := range req.Tools {
		ar.Tools = append(ar.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	if req.Thinking != nil && req.Thinking.Enabled {
		ar.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: req.Thinking.Budget()}
	}

	return ar, nil
}

func toAnthropicContentBlocks(msg model.ChatMessage) ([]anthropicContentBlock, error) {
	var blocks []anthropicContentBlock

	if msg.Role == model.RoleTool {
		blocks = append(blocks, anthropicContentBlock{
			Type:      "tool_result",
			ToolUseID: msg.ToolCallID,
			Text:      msg.Content.AsText(),
		})
		return blocks, nil
	}

	if text := msg.Content.AsText(); text != "" {
		blocks = append(blocks, anthropicContentBlock{Type: "text", Text: text})
	}
	for _, tc := range msg.ToolCalls {
		blocks = append(blocks, anthropicContentBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Name,
			Input: tc.Arguments,
		})
	}
	return blocks, nil
}

func fromAnthropicContentBlocks(blocks []anthropicContentBlock) (text string, thinking *model.ThinkingContent, toolCalls []model.ToolCall) {
	for _, block := range blocks {
		switch block.Type {
		case "text":
			text += block.Text
		case "thinking":
			sig := block.Signature
			thinking = &model.ThinkingContent{Type: model.ThinkingBlock, Thinking: block.Thinking, BlockType: &sig}
		case "redacted_thinking":
			var count uint32
			thinking = &model.ThinkingContent{Type: model.ThinkingRedacted, TokenCount: &count}
		case "tool_use":
			toolCalls = append(toolCalls, model.ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}
	return text, thinking, toolCalls
}

func mapAnthropicStopReason(r string) model.FinishReason {
	switch r {
	case "max_tokens":
		return model.FinishLength
	case "tool_use":
		return model.FinishToolCalls
	default:
		return model.FinishStop
	}
}

// ---------------------------------------------------------------------------
// Non-streaming: ChatCompletion
// ---------------------------------------------------------------------------

func (a *AnthropicProvider) ChatCompletion(ctx context.Context, req *model.ChatRequest) (*model.ChatCompletionResponse, error) {
	anthropicReq, err := toAnthropicRequest(req)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Internal, err, "translating request").WithProvider(a.name)
	}

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Internal, err, "marshaling request").WithProvider(a.name)
	}

	url := fmt.Sprintf("%s/messages", a.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Internal, err, "creating request").WithProvider(a.name)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(err).WithProvider(a.name)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPStatus(httpResp).WithProvider(a.name)
	}

	var anthropicResp anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&anthropicResp); err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Network, err, "decoding response").WithProvider(a.name)
	}

	text, thinking, toolCalls := fromAnthropicContentBlocks(anthropicResp.Content)
	reason := mapAnthropicStopReason(anthropicResp.StopReason)

	usage := &model.Usage{
		PromptTokens:     anthropicResp.Usage.InputTokens,
		CompletionTokens: anthropicResp.Usage.OutputTokens,
	}
	usage.Normalize()

	resp := &model.ChatCompletionResponse{
		ID:      anthropicResp.ID,
		Object:  "chat.completion",
		Model:   anthropicResp.Model,
		Created: time.Now().Unix(),
		Usage:   usage,
		Choices: []model.Choice{{
			Index: 0,
			Message: model.ChatMessage{
				Role:      model.RoleAssistant,
				Content:   model.NewTextContent(text),
				Thinking:  thinking,
				ToolCalls: toolCalls,
			},
			FinishReason: &reason,
		}},
	}

	return resp, nil
}

// ---------------------------------------------------------------------------
// Streaming: ChatCompletionStream
// ---------------------------------------------------------------------------

func (a *AnthropicProvider) ChatCompletionStream(ctx context.Context, req *model.ChatRequest) (<-chan model.ChatCompletionChunk, error) {
	anthropicReq, err := toAnthropicRequest(req)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Internal, err, "translating request").WithProvider(a.name)
	}
	anthropicReq.Stream = true

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Internal, err, "marshaling request").WithProvider(a.name)
	}

	url := fmt.Sprintf("%s/messages", a.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Internal, err, "creating request").WithProvider(a.name)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(err).WithProvider(a.name)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		return nil, classifyHTTPStatus(httpResp).WithProvider(a.name)
	}

	ch := make(chan model.ChatCompletionChunk)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		var (
			respID       string
			modelName    string
			inputTokens  int
			outputTokens int
			blockTypes   = map[int]string{}
		)

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			jsonData := strings.TrimPrefix(line, "data: ")

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(jsonData), &event); err != nil {
				emit(ctx, ch, model.ChatCompletionChunk{Err: gatewayerr.Wrap(gatewayerr.Network, err, "decoding stream event").WithProvider(a.name)})
				return
			}

			switch event.Type {
			case "message_start":
				if event.Message != nil {
					respID = event.Message.ID
					modelName = event.Message.Model
					inputTokens = event.Message.Usage.InputTokens
				}

			case "content_block_start":
				if event.ContentBlock != nil {
					blockTypes[event.Index] = event.ContentBlock.Type
				}
				if event.ContentBlock != nil && event.ContentBlock.Type == "thinking" {
					if !emitChunk(ctx, ch, respID, modelName, model.ChatCompletionChunkDelta{
						Thinking: &model.ThinkingDelta{IsStart: true},
					}, nil) {
						return
					}
				}

			case "content_block_delta":
				if event.Delta == nil {
					continue
				}
				var delta model.ChatCompletionChunkDelta
				switch event.Delta.Type {
				case "text_delta":
					delta.Content = event.Delta.Text
				case "thinking_delta":
					delta.Thinking = &model.ThinkingDelta{Content: event.Delta.Thinking}
				default:
					continue
				}
				if !emitChunk(ctx, ch, respID, modelName, delta, nil) {
					return
				}

			case "content_block_stop":
				if blockTypes[event.Index] == "thinking" {
					if !emitChunk(ctx, ch, respID, modelName, model.ChatCompletionChunkDelta{
						Thinking: &model.ThinkingDelta{IsComplete: true},
					}, nil) {
						return
					}
				}

			case "message_delta":
				if event.Usage != nil {
					outputTokens = event.Usage.OutputTokens
				}
				if event.Delta != nil && event.Delta.StopReason != "" {
					reason := mapAnthropicStopReason(event.Delta.StopReason)
					if !emitChunk(ctx, ch, respID, modelName, model.ChatCompletionChunkDelta{}, &reason) {
						return
					}
				}

			case "message_stop":
				usage := &model.Usage{PromptTokens: inputTokens, CompletionTokens: outputTokens}
				usage.Normalize()
				if !emit(ctx, ch, model.ChatCompletionChunk{
					ID:      respID,
					Object:  "chat.completion.chunk",
					Model:   modelName,
					Created: time.Now().Unix(),
					Usage:   usage,
				}) {
					return
				}

			// ping and other event types carry nothing we need.
			}
		}

		if err := scanner.Err(); err != nil {
			emit(ctx, ch, model.ChatCompletionChunk{Err: gatewayerr.Wrap(gatewayerr.Network, err, "reading stream").WithProvider(a.name)})
		}
	}()

	return ch, nil
}

func emitChunk(ctx context.Context, ch chan<- model.ChatCompletionChunk, id, modelName string, delta model.ChatCompletionChunkDelta, reason *model.FinishReason) bool {
	return emit(ctx, ch, model.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Model:   modelName,
		Created: time.Now().Unix(),
		Choices: []model.ChunkChoice{{Index: 0, Delta: delta, FinishReason: reason}},
	})
}
