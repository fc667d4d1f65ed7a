package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/howard-nolan/unigate/internal/gatewayerr"
	"github.com/howard-nolan/unigate/internal/model"
)

// CloudflareProvider implements Provider for Cloudflare Workers AI. Unlike
// every other adapter, auth is a Bearer token PLUS an account ID baked into
// the URL path, and there is no SSE streaming endpoint in the public API —
// Workers AI buffers and returns one JSON object even when callers expect a
// stream, so ChatCompletionStream here synthesizes a single-chunk stream
// from the non-streaming call rather than leaving the capability unsupported.
type CloudflareProvider struct {
	name      string
	accountID string
	apiToken  string
	baseURL   string // e.g. "https://api.cloudflare.com/client/v4"
	client    *http.Client
}

// NewCloudflareProvider creates a CloudflareProvider ready to make API calls.
func NewCloudflareProvider(name, accountID, apiToken, baseURL string, client *http.Client) *CloudflareProvider {
	return &CloudflareProvider{
		name:      name,
		accountID: accountID,
		apiToken:  apiToken,
		baseURL:   baseURL,
		client:    client,
	}
}

func (c *CloudflareProvider) Name() string       { return c.name }
func (c *CloudflareProvider) Type() ProviderType { return TypeCloudflare }

// Capabilities returns a zero-value ThinkingCapabilities: Workers AI's
// hosted catalog has no extended-reasoning models as of this writing.
func (c *CloudflareProvider) Capabilities() model.ThinkingCapabilities {
	return model.ThinkingCapabilities{}
}

type cloudflareMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type cloudflareRequest struct {
	Messages  []cloudflareMessage `json:"messages"`
	MaxTokens int                 `json:"max_tokens,omitempty"`
}

type cloudflareResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Response string `json:"response"`
		Usage    struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	} `json:"result"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func toCloudflareRequest(req *model.ChatRequest) *cloudflareRequest {
	cr := &cloudflareRequest{}
	for _, msg := range req.Messages {
		cr.Messages = append(cr.Messages, cloudflareMessage{
			Role:    string(msg.Role),
			Content: msg.Content.AsText(),
		})
	}
	if req.MaxTokens != nil {
		cr.MaxTokens = int(*req.MaxTokens)
	}
	return cr
}

func (c *CloudflareProvider) ChatCompletion(ctx context.Context, req *model.ChatRequest) (*model.ChatCompletionResponse, error) {
	wireReq := toCloudflareRequest(req)

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Internal, err, "marshaling request").WithProvider(c.name)
	}

	url := fmt.Sprintf("%s/accounts/%s/ai/run/%s", c.baseURL, c.accountID, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Internal, err, "creating request").WithProvider(c.name)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiToken)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(err).WithProvider(c.name)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPStatus(httpResp).WithProvider(c.name)
	}

	var wireResp cloudflareResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wireResp); err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Network, err, "decoding response").WithProvider(c.name)
	}
	if !wireResp.Success {
		msg := "cloudflare workers ai request failed"
		if len(wireResp.Errors) > 0 {
			msg = wireResp.Errors[0].Message
		}
		return nil, gatewayerr.New(gatewayerr.ProviderUnavailable, "%s", msg).WithProvider(c.name)
	}

	usage := &model.Usage{
		PromptTokens:     wireResp.Result.Usage.PromptTokens,
		CompletionTokens: wireResp.Result.Usage.CompletionTokens,
	}
	usage.Normalize()

	reason := model.FinishStop
	return &model.ChatCompletionResponse{
		Model:   req.Model,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Usage:   usage,
		Choices: []model.Choice{{
			Index: 0,
			Message: model.ChatMessage{
				Role:    model.RoleAssistant,
				Content: model.NewTextContent(wireResp.Result.Response),
			},
			FinishReason: &reason,
		}},
	}, nil
}

// ChatCompletionStream synthesizes a single-chunk stream: one delta chunk
// carrying the full content, followed immediately by a usage-bearing final
// chunk, then channel close. This keeps Cloudflare usable behind the same
// streaming normalizer (C9) every other adapter flows through, at the cost
// of losing incremental delivery — callers see a pause, then the whole
// answer at once.
func (c *CloudflareProvider) ChatCompletionStream(ctx context.Context, req *model.ChatRequest) (<-chan model.ChatCompletionChunk, error) {
	resp, err := c.ChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan model.ChatCompletionChunk, 2)
	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content.AsText()
	}
	ch <- model.ChatCompletionChunk{
		ID:      resp.ID,
		Object:  "chat.completion.chunk",
		Model:   resp.Model,
		Created: resp.Created,
		Choices: []model.ChunkChoice{{Index: 0, Delta: model.ChatCompletionChunkDelta{Role: model.RoleAssistant, Content: content}}},
	}
	reason := model.FinishStop
	ch <- model.ChatCompletionChunk{
		ID:      resp.ID,
		Object:  "chat.completion.chunk",
		Model:   resp.Model,
		Created: resp.Created,
		Choices: []model.ChunkChoice{{Index: 0, FinishReason: &reason}},
		Usage:   resp.Usage,
	}
	close(ch)
	return ch, nil
}
