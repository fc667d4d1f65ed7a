// Package pipeline wires C1-C11 together into the single per-request flow:
// admission (rate limiter) → cache probe → provider routing (router +
// breaker + health) → retried provider call → cache fill → response. This
// is the one place in the gateway that calls all the other internal
// packages; nothing downstream of here knows about any of the others.
package pipeline

import (
	"context"
	"time"

	"github.com/howard-nolan/unigate/internal/cache"
	"github.com/howard-nolan/unigate/internal/gatewayerr"
	"github.com/howard-nolan/unigate/internal/metrics"
	"github.com/howard-nolan/unigate/internal/model"
	"github.com/howard-nolan/unigate/internal/provider"
	"github.com/howard-nolan/unigate/internal/ratelimit"
	"github.com/howard-nolan/unigate/internal/reqctx"
	"github.com/howard-nolan/unigate/internal/retry"
	"github.com/howard-nolan/unigate/internal/router"
)

// Pipeline is the orchestrator built once at startup from the gateway's
// registries and handed one (ctx, *reqctx.RequestContext, *model.ChatRequest)
// per inbound call.
type Pipeline struct {
	registry *provider.Registry
	router   *router.Router
	cache    *cache.Manager
	limiter  *ratelimit.Limiter
	retryCfg retry.Config
}

// New builds a Pipeline from its already-constructed collaborators.
func New(registry *provider.Registry, r *router.Router, cacheMgr *cache.Manager, limiter *ratelimit.Limiter, retryCfg retry.Config) *Pipeline {
	return &Pipeline{registry: registry, router: r, cache: cacheMgr, limiter: limiter, retryCfg: retryCfg}
}

// Providers returns every registered provider instance.
func (p *Pipeline) Providers() []provider.Provider {
	return p.registry.All()
}

// Models returns every distinct model name the gateway can serve, for the
// GET /v1/models endpoint.
func (p *Pipeline) Models() []string {
	return p.registry.Models()
}

func limitKeyFor(rc *reqctx.RequestContext, limitType ratelimit.LimitType) ratelimit.Key {
	return ratelimit.Key{
		UserID:    rc.UserID,
		TeamID:    rc.TeamID,
		APIKeyID:  rc.APIKeyID,
		IPAddress: rc.ClientIP,
		LimitType: limitType,
	}
}

// admit runs the rate-limit and concurrency checks every request (streaming
// or not) must pass before anything else happens. It returns a release
// func the caller must invoke exactly once when the call finishes.
func (p *Pipeline) admit(rc *reqctx.RequestContext, req *model.ChatRequest) (func(), error) {
	reqKey := limitKeyFor(rc, ratelimit.LimitRequests)
	if res := p.limiter.AllowRequest(reqKey); !res.Allowed {
		metrics.RateLimitRejectionsTotal.WithLabelValues("requests").Inc()
		return nil, gatewayerr.New(gatewayerr.RateLimit, "request rate limit exceeded").
			WithRetryAfter(res.RetryAfter.Seconds()).WithRateLimit(string(res.LimitType), res.Remaining)
	}

	estimate := model.EstimateMessagesTokens(req.Messages, req.Model)
	tokenKey := limitKeyFor(rc, ratelimit.LimitTokens)
	if res := p.limiter.AllowTokens(tokenKey, estimate); !res.Allowed {
		metrics.RateLimitRejectionsTotal.WithLabelValues("tokens").Inc()
		return nil, gatewayerr.New(gatewayerr.RateLimit, "token rate limit exceeded").
			WithRetryAfter(res.RetryAfter.Seconds()).WithRateLimit(string(res.LimitType), res.Remaining)
	}

	concurrencyKey := limitKeyFor(rc, ratelimit.LimitConcurrency)
	if _, err := p.limiter.AcquireConcurrency(concurrencyKey); err != nil {
		metrics.RateLimitRejectionsTotal.WithLabelValues("concurrency").Inc()
		return nil, err
	}

	release := func() {
		p.limiter.ReleaseConcurrency(concurrencyKey)
	}
	return release, nil
}

// ChatCompletion runs the full non-streaming pipeline for req.
func (p *Pipeline) ChatCompletion(ctx context.Context, rc *reqctx.RequestContext, req *model.ChatRequest) (*model.ChatCompletionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	release, err := p.admit(rc, req)
	if err != nil {
		return nil, err
	}
	defer release()

	identifiers := map[string]string{"model": req.Model}

	resp, _, err := p.cache.Fill(ctx, req, identifiers, func() (*model.ChatCompletionResponse, error) {
		return p.dispatch(ctx, rc, req)
	})
	if err != nil {
		return nil, err
	}

	tokenKey := limitKeyFor(rc, ratelimit.LimitTokens)
	if resp.Usage != nil {
		estimate := model.EstimateMessagesTokens(req.Messages, req.Model)
		p.limiter.Reconcile(tokenKey, estimate, resp.Usage.TotalTokens)
	}

	return resp, nil
}

// dispatch resolves the provider fallback chain and tries each candidate in
// order, retrying transient failures within a candidate before moving to
// the next one (spec §4.6/§4.7: retry exhausts within a provider before
// fallback moves on).
func (p *Pipeline) dispatch(ctx context.Context, rc *reqctx.RequestContext, req *model.ChatRequest) (*model.ChatCompletionResponse, error) {
	chain, err := p.router.Resolve(ctx, req.Model, req.PreferredProvider, req.FallbackOrder)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for i, cand := range chain {
		if i > 0 {
			// A forked context carries its own metadata copy so a fallback
			// attempt's bookkeeping never aliases the one before it, even
			// though nothing downstream reads it yet beyond this record.
			if forked, forkErr := rc.Fork(); forkErr == nil {
				forked.SetMetadata("fallback_from", chain[i-1].Provider.Name())
				rc = forked
			}
		}

		name := cand.Provider.Name()
		p.router.AcquireInFlight(name)
		start := time.Now()

		var resp *model.ChatCompletionResponse
		callErr := retry.Call(ctx, p.retryCfg, func(ctx context.Context) error {
			r, err := cand.Provider.ChatCompletion(ctx, req)
			if err != nil {
				metrics.ProviderCallsTotal.WithLabelValues(name, "error").Inc()
				return err
			}
			if r.Usage != nil {
				r.Usage.Normalize()
			}
			resp = r
			metrics.ProviderCallsTotal.WithLabelValues(name, "success").Inc()
			return nil
		}, func(a retry.Attempt) {
			if a.Err != nil {
				metrics.RetryAttemptsTotal.WithLabelValues(name, "retry").Inc()
			}
		})

		latency := time.Since(start)
		p.router.ReleaseInFlight(name)
		p.router.Record(name, latency, 0, callErr)
		metrics.RequestDuration.WithLabelValues(req.Model, name).Observe(latency.Seconds())

		if callErr == nil {
			metrics.RequestsTotal.WithLabelValues(req.Model, name, "success").Inc()
			return resp, nil
		}
		lastErr = callErr
		metrics.RequestsTotal.WithLabelValues(req.Model, name, "error").Inc()
	}

	if lastErr == nil {
		lastErr = gatewayerr.New(gatewayerr.ProviderUnavailable, "no provider candidates available for model %q", req.Model)
	}
	return nil, lastErr
}

// ChatCompletionStream runs the streaming pipeline: admission and routing
// are identical to ChatCompletion, but the cache is bypassed entirely
// (spec §4.8 Exclusions). A forwarding goroutine relays the provider's
// chunks on a new channel for the caller to pipe into the stream
// normalizer, appending one synthetic finish_reason chunk (with estimated
// usage when none arrived) if the upstream never sent a finish_reason.
func (p *Pipeline) ChatCompletionStream(ctx context.Context, rc *reqctx.RequestContext, req *model.ChatRequest) (<-chan model.ChatCompletionChunk, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	release, err := p.admit(rc, req)
	if err != nil {
		return nil, err
	}

	chain, err := p.router.Resolve(ctx, req.Model, req.PreferredProvider, req.FallbackOrder)
	if err != nil {
		release()
		return nil, err
	}

	// Streaming has no within-request fallback: once the first byte has
	// been written to the client there is no way to restart on a different
	// backend transparently, so the first eligible candidate is used and
	// a mid-stream failure surfaces as a synthetic error chunk instead
	// (spec §4.9).
	cand := chain[0]
	name := cand.Provider.Name()
	start := time.Now()
	p.router.AcquireInFlight(name)

	upstream, err := cand.Provider.ChatCompletionStream(ctx, req)
	if err != nil {
		p.router.ReleaseInFlight(name)
		p.router.Record(name, time.Since(start), 0, err)
		release()
		return nil, err
	}

	out := make(chan model.ChatCompletionChunk)
	go func() {
		defer close(out)
		defer release()
		defer p.router.ReleaseInFlight(name)

		var streamErr error
		var contentLen int
		var sawUsage bool
		var sawFinish bool
		var lastChunk model.ChatCompletionChunk
		for chunk := range upstream {
			if chunk.Err != nil {
				streamErr = chunk.Err
			}
			if chunk.Usage != nil {
				sawUsage = true
			}
			for _, c := range chunk.Choices {
				contentLen += len(c.Delta.Content)
				if c.FinishReason != nil {
					sawFinish = true
				}
			}
			lastChunk = chunk
			select {
			case out <- chunk:
			case <-ctx.Done():
				p.router.Record(name, time.Since(start), 0, ctx.Err())
				return
			}
		}

		// Every stream must terminate with a chunk carrying a non-null
		// finish_reason (spec §4.9 guarantee 4 / §8 invariant 4, scenario
		// S3) — if the upstream adapter never sent one (OpenAI omits it
		// whenever the raw event stream is cut short before its own
		// finish_reason event), synthesize the terminal chunk here, the
		// one place downstream of every adapter. A stream that already
		// produced its own finish_reason chunk is left alone: appending
		// anything after it would make the synthetic chunk the new
		// terminal one and reintroduce the same bug.
		if streamErr == nil && !sawFinish {
			stop := model.FinishStop
			synthetic := model.ChatCompletionChunk{
				ID:      lastChunk.ID,
				Object:  lastChunk.Object,
				Created: lastChunk.Created,
				Model:   req.Model,
				Choices: []model.ChunkChoice{{FinishReason: &stop}},
			}
			// Fold in an estimate from accumulated content length (spec
			// §9, Open Question c) since no real usage ever arrived
			// either, flagged IsEstimate so a caller can tell it apart
			// from billed provider usage.
			if !sawUsage {
				usage := &model.Usage{
					PromptTokens:     model.EstimateMessagesTokens(req.Messages, req.Model),
					CompletionTokens: model.EstimateTokensForLength(contentLen, req.Model),
					IsEstimate:       true,
				}
				usage.Normalize()
				synthetic.Usage = usage
			}
			select {
			case out <- synthetic:
			case <-ctx.Done():
				p.router.Record(name, time.Since(start), 0, ctx.Err())
				return
			}
		}

		p.router.Record(name, time.Since(start), 0, streamErr)
	}()

	return out, nil
}
