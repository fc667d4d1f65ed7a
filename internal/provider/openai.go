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

// OpenAIProvider implements Provider for every backend that speaks OpenAI's
// /v1/chat/completions wire format — not just OpenAI itself. Groq, xAI,
// DeepSeek, Moonshot, Mistral, and OpenRouter all copy this wire shape, so
// one adapter parameterized by name/baseURL/extraHeaders serves all of them
// instead of duplicating near-identical translation code per vendor.
type OpenAIProvider struct {
	name    string
	ptype   ProviderType
	apiKey  string
	baseURL string
	client  *http.Client
	caps    model.ThinkingCapabilities

	// extraHeaders carries vendor quirks that aren't a bare bearer token,
	// e.g. OpenRouter's "HTTP-Referer"/"X-Title" attribution headers.
	extraHeaders map[string]string
}

// NewOpenAIProvider creates an adapter for any OpenAI-wire-compatible
// backend. caps should reflect what the specific vendor actually supports;
// a vendor with no reasoning support passes a zero-value ThinkingCapabilities.
func NewOpenAIProvider(name string, baseURL, apiKey string, client *http.Client, caps model.ThinkingCapabilities, extraHeaders map[string]string) *OpenAIProvider {
	return &OpenAIProvider{
		name:         name,
		ptype:        TypeOpenAI,
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		caps:         caps,
		extraHeaders: extraHeaders,
	}
}

func (o *OpenAIProvider) Name() string                             { return o.name }
func (o *OpenAIProvider) Type() ProviderType                       { return o.ptype }
func (o *OpenAIProvider) Capabilities() model.ThinkingCapabilities { return o.caps }

// --- wire types -------------------------------------------------------

type openAIMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIToolCallFunc `json:"function"`
}

type openAIToolCallFunc struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openAIRequest struct {
	Model            string          `json:"model"`
	Messages         []openAIMessage `json:"messages"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	MaxTokens        *uint32         `json:"max_tokens,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	Stop             []string        `json:"stop,omitempty"`
	Seed             *int64          `json:"seed,omitempty"`
	N                *int            `json:"n,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	Tools            []openAITool    `json:"tools,omitempty"`
	ReasoningEffort   string         `json:"reasoning_effort,omitempty"`
}

type openAIChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	CompletionTokensDetails *struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details,omitempty"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

type openAIStreamDelta struct {
	Role      string           `json:"role,omitempty"`
	Content   string           `json:"content,omitempty"`
	Reasoning string           `json:"reasoning,omitempty"`
	ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIStreamChoice struct {
	Index        int               `json:"index"`
	Delta        openAIStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openAIStreamEvent struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []openAIStreamChoice `json:"choices"`
	Usage   *openAIUsage         `json:"usage,omitempty"`
}

// --- translation -------------------------------------------------------

func toOpenAIRequest(req *model.ChatRequest) (*openAIRequest, error) {
	or := &openAIRequest{
		Model:            req.Model,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		MaxTokens:        req.MaxTokens,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		Stop:             req.Stop,
		Seed:             req.Seed,
		N:                req.N,
	}

	for _, msg := range req.Messages {
		content, err := msg.Content.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("marshaling message content: %w", err)
		}
		om := openAIMessage{
			Role:       string(msg.Role),
			Content:    content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIToolCallFunc{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		or.Messages = append(or.Messages, om)
	}

	for _, t := range req.Tools {
		or.Tools = append(or.Tools, openAITool{
			Type: "function",
			Function: openAIToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	if req.Thinking != nil && req.Thinking.Enabled && req.Thinking.Effort != nil {
		or.ReasoningEffort = string(*req.Thinking.Effort)
	}

	return or, nil
}

func fromOpenAIResponse(name string, resp *openAIResponse) *model.ChatCompletionResponse {
	out := &model.ChatCompletionResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Model:   resp.Model,
		Created: time.Now().Unix(),
	}
	for _, c := range resp.Choices {
		var reason *model.FinishReason
		if c.FinishReason != "" {
			fr := mapOpenAIFinishReason(c.FinishReason)
			reason = &fr
		}
		msg := model.ChatMessage{
			Role:    model.Role(c.Message.Role),
			Content: model.NewTextContent(stringFromRaw(c.Message.Content)),
		}
		for _, tc := range c.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		out.Choices = append(out.Choices, model.Choice{
			Index:        c.Index,
			Message:      msg,
			FinishReason: reason,
		})
	}
	usage := &model.Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if resp.Usage.CompletionTokensDetails != nil && resp.Usage.CompletionTokensDetails.ReasoningTokens > 0 {
		usage.ThinkingUsage = &model.ThinkingUsage{ThinkingTokens: resp.Usage.CompletionTokensDetails.ReasoningTokens}
	}
	usage.Normalize()
	out.Usage = usage
	return out
}

func stringFromRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func mapOpenAIFinishReason(r string) model.FinishReason {
	switch r {
	case "length":
		return model.FinishLength
	case "tool_calls", "function_call":
		return model.FinishToolCalls
	case "content_filter":
		return model.FinishContentFilter
	default:
		return model.FinishStop
	}
}

// --- Provider methods ----------------------------------------------------

func (o *OpenAIProvider) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	for k, v := range o.extraHeaders {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

func (o *OpenAIProvider) ChatCompletion(ctx context.Context, req *model.ChatRequest) (*model.ChatCompletionResponse, error) {
	wireReq, err := toOpenAIRequest(req)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Internal, err, "translating request").WithProvider(o.name)
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Internal, err, "marshaling request").WithProvider(o.name)
	}

	httpReq, err := o.newRequest(ctx, body)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Internal, err, "creating request").WithProvider(o.name)
	}

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(err).WithProvider(o.name)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPStatus(httpResp).WithProvider(o.name)
	}

	var wireResp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wireResp); err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Network, err, "decoding response").WithProvider(o.name)
	}

	return fromOpenAIResponse(o.name, &wireResp), nil
}

func (o *OpenAIProvider) ChatCompletionStream(ctx context.Context, req *model.ChatRequest) (<-chan model.ChatCompletionChunk, error) {
	wireReq, err := toOpenAIRequest(req)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Internal, err, "translating request").WithProvider(o.name)
	}
	wireReq.Stream = true

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Internal, err, "marshaling request").WithProvider(o.name)
	}

	httpReq, err := o.newRequest(ctx, body)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Internal, err, "creating request").WithProvider(o.name)
	}

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(err).WithProvider(o.name)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		return nil, classifyHTTPStatus(httpResp).WithProvider(o.name)
	}

	ch := make(chan model.ChatCompletionChunk)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue // keep-alive comments and blank separators
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				return
			}

			var event openAIStreamEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				emit(ctx, ch, model.ChatCompletionChunk{Err: gatewayerr.Wrap(gatewayerr.Network, err, "decoding stream event").WithProvider(o.name)})
				return
			}

			chunk := model.ChatCompletionChunk{
				ID:      event.ID,
				Object:  "chat.completion.chunk",
				Model:   event.Model,
				Created: time.Now().Unix(),
			}
			for _, c := range event.Choices {
				var reason *model.FinishReason
				if c.FinishReason != nil && *c.FinishReason != "" {
					fr := mapOpenAIFinishReason(*c.FinishReason)
					reason = &fr
				}
				delta := model.ChatCompletionChunkDelta{
					Role:    model.Role(c.Delta.Role),
					Content: c.Delta.Content,
				}
				if c.Delta.Reasoning != "" {
					delta.Thinking = &model.ThinkingDelta{Content: c.Delta.Reasoning}
				}
				chunk.Choices = append(chunk.Choices, model.ChunkChoice{
					Index:        c.Index,
					Delta:        delta,
					FinishReason: reason,
				})
			}
			if event.Usage != nil {
				chunk.Usage = &model.Usage{
					PromptTokens:     event.Usage.PromptTokens,
					CompletionTokens: event.Usage.CompletionTokens,
					TotalTokens:      event.Usage.TotalTokens,
				}
			}

			if !emit(ctx, ch, chunk) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			emit(ctx, ch, model.ChatCompletionChunk{Err: gatewayerr.Wrap(gatewayerr.Network, err, "reading stream").WithProvider(o.name)})
		}
	}()

	return ch, nil
}

// emit sends a chunk, respecting ctx cancellation, and reports whether the
// stream should keep going.
func emit(ctx context.Context, ch chan<- model.ChatCompletionChunk, chunk model.ChatCompletionChunk) bool {
	select {
	case ch <- chunk:
		return chunk.Err == nil
	case <-ctx.Done():
		return false
	}
}
