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
// GoogleProvider struct + constructor
// ---------------------------------------------------------------------------

// GoogleProvider implements Provider for Google's Gemini API. The model
// goes in the URL path rather than the body, the API key is a query
// parameter instead of a header, and thinking shows up as "thought" parts
// interleaved with regular text parts — all handled in the translation
// below rather than leaking into the rest of the gateway.
type GoogleProvider struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
	caps    model.ThinkingCapabilities
}

// NewGoogleProvider creates a GoogleProvider ready to make API calls. It
// takes an *http.Client as a parameter rather than building one internally
// so tests can inject a fake client and main.go can configure timeouts.
func NewGoogleProvider(name, apiKey, baseURL string, client *http.Client, caps model.ThinkingCapabilities) *GoogleProvider {
	return &GoogleProvider{
		name:    name,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		caps:    caps,
	}
}

func (g *GoogleProvider) Name() string                             { return g.name }
func (g *GoogleProvider) Type() ProviderType                       { return TypeGoogle }
func (g *GoogleProvider) Capabilities() model.ThinkingCapabilities { return g.caps }

// ---------------------------------------------------------------------------
// Gemini API types (unexported — only this file uses them)
// ---------------------------------------------------------------------------

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
}

// geminiContent is one message in the conversation. Gemini always uses
// "parts" (an array) since it's multimodal-native; a text-only message is
// a single text part.
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart is one piece of content. Thought parts carry Thought=true
// alongside the text, rather than a separate content array.
type geminiPart struct {
	Text             string          `json:"text,omitempty"`
	Thought          bool            `json:"thought,omitempty"`
	ThoughtSignature string          `json:"thoughtSignature,omitempty"`
	FunctionCall     *geminiFnCall   `json:"functionCall,omitempty"`
	FunctionResponse *geminiFnResult `json:"functionResponse,omitempty"`
}

type geminiFnCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFnResult struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFnDecl `json:"functionDeclarations"`
}

type geminiFnDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int                    `json:"maxOutputTokens,omitempty"`
	Temperature     *float64               `json:"temperature,omitempty"`
	TopP            *float64               `json:"topP,omitempty"`
	StopSequences   []string               `json:"stopSequences,omitempty"`
	ThinkingConfig  *geminiThinkingConfig  `json:"thinkingConfig,omitempty"`
}

type geminiThinkingConfig struct {
	ThinkingBudget  int  `json:"thinkingBudget"`
	IncludeThoughts bool `json:"includeThoughts"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

// toGeminiRequest translates the unified request into Gemini's format:
// system messages move to systemInstruction, assistant becomes "model",
// max_tokens becomes maxOutputTokens, and ThinkingConfig becomes
// thinkingConfig with includeThoughts set from IncludeThinking.
func toGeminiRequest(req *model.ChatRequest) *geminiRequest {
	gr := &geminiRequest{}

	for _, msg := range req.Messages {
		if msg.Role == model.RoleSystem {
			text := msg.Content.AsText()
			if gr.SystemInstruction == nil {
				gr.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: text}}}
			} else {
				gr.SystemInstruction.Parts = append(gr.SystemInstruction.Parts, geminiPart{Text: text})
			}
			continue
		}

		role := string(msg.Role)
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		if msg.Role == model.RoleTool {
			role = "function"
			gr.Contents = append(gr.Contents, geminiContent{
				Role: role,
				Parts: []geminiPart{{FunctionResponse: &geminiFnResult{
					Name:     msg.Name,
					Response: json.RawMessage(fmt.Sprintf(`{"result":%q}`, msg.Content.AsText())),
				}}},
			})
			continue
		}

		var parts []geminiPart
		if text := msg.Content.AsText(); text != "" {
			parts = append(parts, geminiPart{Text: text})
		}
		for _, tc := range msg.ToolCalls {
			parts = append(parts, geminiPart{FunctionCall: &geminiFnCall{Name: tc.Name, Args: tc.Arguments}})
		}
		gr.Contents = append(gr.Contents, geminiContent{Role: role, Parts: parts})
	}

	cfg := &geminiGenerationConfig{
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int(*req.MaxTokens)
	}
	if req.Thinking != nil && req.Thinking.Enabled {
		cfg.ThinkingConfig = &geminiThinkingConfig{
			ThinkingBudget:  int(req.Thinking.Budget()),
			IncludeThoughts: req.Thinking.IncludeThinking,
		}
	}
	gr.GenerationConfig = cfg

	for _, t := range req.Tools {
		gr.Tools = append(gr.Tools, geminiTool{FunctionDeclarations: []geminiFnDecl{{
			Name: t.Name, Description: t.Description, Parameters: t.Parameters,
		}}})
	}
	if len(gr.Tools) > 1 {
		// Gemini wants one tools entry with all declarations, not one per tool.
		merged := geminiTool{}
		for _, t := range gr.Tools {
			merged.FunctionDeclarations = append(merged.FunctionDeclarations, t.FunctionDeclarations...)
		}
		gr.Tools = []geminiTool{merged}
	}

	return gr
}

func partsToResponse(parts []geminiPart) (text string, thinking *model.ThinkingContent, toolCalls []model.ToolCall) {
	var thoughtText string
	for _, p := range parts {
		switch {
		case p.FunctionCall != nil:
			toolCalls = append(toolCalls, model.ToolCall{Name: p.FunctionCall.Name, Arguments: p.FunctionCall.Args})
		case p.Thought:
			thoughtText += p.Text
		default:
			text += p.Text
		}
	}
	if thoughtText != "" {
		thinking = &model.ThinkingContent{Type: model.ThinkingBlock, Thinking: thoughtText}
	}
	return text, thinking, toolCalls
}

func mapGeminiFinishReason(r string) model.FinishReason {
	switch r {
	case "MAX_TOKENS":
		return model.FinishLength
	case "SAFETY", "RECITATION":
		return model.FinishContentFilter
	default:
		return model.FinishStop
	}
}

// ---------------------------------------------------------------------------
// Non-streaming: ChatCompletion
// ---------------------------------------------------------------------------

func (g *GoogleProvider) ChatCompletion(ctx context.Context, req *model.ChatRequest) (*model.ChatCompletionResponse, error) {
	geminiReq := toGeminiRequest(req)

	body, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Internal, err, "marshaling request").WithProvider(g.name)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, req.Model, g.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Internal, err, "creating request").WithProvider(g.name)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(err).WithProvider(g.name)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPStatus(httpResp).WithProvider(g.name)
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&geminiResp); err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Network, err, "decoding response").WithProvider(g.name)
	}

	if len(geminiResp.Candidates) == 0 {
		return nil, gatewayerr.New(gatewayerr.ProviderUnavailable, "gemini returned no candidates").WithProvider(g.name)
	}

	candidate := geminiResp.Candidates[0]
	text, thinking, toolCalls := partsToResponse(candidate.Content.Parts)
	reason := mapGeminiFinishReason(candidate.FinishReason)
	if len(toolCalls) > 0 {
		reason = model.FinishToolCalls
	}

	usage := &model.Usage{}
	if geminiResp.UsageMetadata != nil {
		usage.PromptTokens = geminiResp.UsageMetadata.PromptTokenCount
		usage.CompletionTokens = geminiResp.UsageMetadata.CandidatesTokenCount
		if geminiResp.UsageMetadata.ThoughtsTokenCount > 0 {
			usage.ThinkingUsage = &model.ThinkingUsage{ThinkingTokens: geminiResp.UsageMetadata.ThoughtsTokenCount}
		}
	}
	usage.Normalize()

	return &model.ChatCompletionResponse{
		Model:   req.Model,
		Object:  "chat.completion",
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
	}, nil
}

// ---------------------------------------------------------------------------
// Streaming: ChatCompletionStream
// ---------------------------------------------------------------------------

func (g *GoogleProvider) ChatCompletionStream(ctx context.Context, req *model.ChatRequest) (<-chan model.ChatCompletionChunk, error) {
	geminiReq := toGeminiRequest(req)

	body, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Internal, err, "marshaling request").WithProvider(g.name)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", g.baseURL, req.Model, g.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Internal, err, "creating request").WithProvider(g.name)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(err).WithProvider(g.name)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		return nil, classifyHTTPStatus(httpResp).WithProvider(g.name)
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
				continue
			}
			jsonData := strings.TrimPrefix(line, "data: ")

			var event geminiResponse
			if err := json.Unmarshal([]byte(jsonData), &event); err != nil {
				emit(ctx, ch, model.ChatCompletionChunk{Err: gatewayerr.Wrap(gatewayerr.Network, err, "decoding stream event").WithProvider(g.name)})
				return
			}
			if len(event.Candidates) == 0 {
				continue
			}
			candidate := event.Candidates[0]
			text, thinking, toolCalls := partsToResponse(candidate.Content.Parts)

			delta := model.ChatCompletionChunkDelta{Content: text, ToolCalls: toolCalls}
			if thinking != nil {
				delta.Thinking = &model.ThinkingDelta{Content: thinking.Thinking}
			}

			var reason *model.FinishReason
			if candidate.FinishReason != "" {
				fr := mapGeminiFinishReason(candidate.FinishReason)
				reason = &fr
			}

			chunk := model.ChatCompletionChunk{
				Model:   req.Model,
				Object:  "chat.completion.chunk",
				Created: time.Now().Unix(),
				Choices: []model.ChunkChoice{{Index: 0, Delta: delta, FinishReason: reason}},
			}
			if event.UsageMetadata != nil && reason != nil {
				usage := &model.Usage{
					PromptTokens:     event.UsageMetadata.PromptTokenCount,
					CompletionTokens: event.UsageMetadata.CandidatesTokenCount,
				}
				usage.Normalize()
				chunk.Usage = usage
			}

			if !emit(ctx, ch, chunk) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			emit(ctx, ch, model.ChatCompletionChunk{Err: gatewayerr.Wrap(gatewayerr.Network, err, "reading stream").WithProvider(g.name)})
		}
	}()

	return ch, nil
}
