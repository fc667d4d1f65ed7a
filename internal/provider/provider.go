// Package provider defines the Provider interface, the per-backend adapters
// that implement it, and the factory that builds a Provider from a config
// entry (spec §4.2, §4.3).
//
// Every LLM backend (OpenAI-wire-compatible, Anthropic, Google, Cloudflare)
// implements the Provider interface. The rest of the gateway — cache,
// router, breaker, retry engine — works only with model.ChatRequest /
// model.ChatCompletionResponse, so none of it needs to know which backend
// actually served a request.
package provider

import (
	"context"

	"github.com/howard-nolan/unigate/internal/model"
)

// Provider is the interface every LLM backend adapter must satisfy. Go
// interfaces are implicit: any struct with these methods satisfies Provider
// automatically — there is no "implements" declaration.
type Provider interface {
	// Name returns the provider instance identifier configured by the
	// operator (e.g. "openai-primary", "anthropic-eu") — used for logging,
	// metrics labels, and routing lookups.
	Name() string

	// Type returns the backend kind ("openai", "anthropic", "google",
	// "cloudflare", ...).
	Type() ProviderType

	// Capabilities describes this adapter's static thinking support. Nothing
	// in the request path consults it before a call; thinking settings are
	// forwarded to the backend as the request gives them.
	Capabilities() model.ThinkingCapabilities

	// ChatCompletion sends a request and waits for the complete response.
	// ctx carries cancellation and deadlines: if the caller disconnects,
	// ctx is cancelled and the adapter must stop waiting on the upstream
	// call.
	ChatCompletion(ctx context.Context, req *model.ChatRequest) (*model.ChatCompletionResponse, error)

	// ChatCompletionStream sends a request and returns a channel of
	// normalized chunks. The returned channel is receive-only; the adapter
	// owns writing to it and closes it when the upstream stream ends or
	// ctx is cancelled.
	ChatCompletionStream(ctx context.Context, req *model.ChatRequest) (<-chan model.ChatCompletionChunk, error)
}

// ProviderType identifies which backend wire format an adapter speaks.
type ProviderType string

const (
	TypeOpenAI     ProviderType = "openai"
	TypeAnthropic  ProviderType = "anthropic"
	TypeGoogle     ProviderType = "google"
	TypeCloudflare ProviderType = "cloudflare"
)
