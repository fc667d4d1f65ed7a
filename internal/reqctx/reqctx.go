// Package reqctx defines RequestContext (spec §3/§4.11), the per-request
// envelope threaded through the whole pipeline: identity, timing, and an
// append-only metadata bag, grounded on
// original_source/src/core/types/context.rs.
package reqctx

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/copystructure"
)

// RequestContext carries everything the pipeline needs about one inbound
// request that isn't part of the LLM request body itself.
type RequestContext struct {
	RequestID string
	UserID    string
	TeamID    string
	APIKeyID  string
	ClientIP  string
	UserAgent string

	Headers  map[string]string
	Metadata map[string]any

	TraceID string
	SpanID  string

	Priority int
	Debug    bool

	start time.Time
}

// New builds a RequestContext for an inbound HTTP request, generating a
// fresh RequestID (spec §4.11: "request_id uniquely identifies one logical
// call, stable across its retries").
func New(r *http.Request) *RequestContext {
	return &RequestContext{
		RequestID: uuid.NewString(),
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
		Headers:   flattenHeaders(r.Header),
		Metadata:  make(map[string]any),
		start:     time.Now(),
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// WithUser returns a copy of rc with UserID/TeamID/APIKeyID set, following
// the builder-pattern with_* methods of original_source's RequestContext.
func (rc *RequestContext) WithUser(userID, teamID, apiKeyID string) *RequestContext {
	next := *rc
	next.UserID = userID
	next.TeamID = teamID
	next.APIKeyID = apiKeyID
	return &next
}

// WithTrace attaches distributed-tracing identifiers.
func (rc *RequestContext) WithTrace(traceID, spanID string) *RequestContext {
	next := *rc
	next.TraceID = traceID
	next.SpanID = spanID
	return &next
}

// Elapsed returns how long has passed since the request started.
func (rc *RequestContext) Elapsed() time.Duration {
	return time.Since(rc.start)
}

// StartedAt returns the request's start time.
func (rc *RequestContext) StartedAt() time.Time { return rc.start }

// SetMetadata records a key in the append-only metadata bag.
func (rc *RequestContext) SetMetadata(key string, value any) {
	if rc.Metadata == nil {
		rc.Metadata = make(map[string]any)
	}
	rc.Metadata[key] = value
}

type ctxKey struct{}

// Into stores rc on ctx, the way chi's middleware.RequestID carries its
// value through the stdlib context rather than a custom envelope type.
func Into(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// From retrieves the RequestContext a server middleware stored on ctx. ok is
// false if nothing ever called Into — callers should treat that as a bug in
// the middleware chain, not a normal case to silently paper over.
func From(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(ctxKey{}).(*RequestContext)
	return rc, ok
}

// Fork deep-copies rc for a fallback/retry attempt so the new attempt can
// append its own metadata (e.g. "fallback_from": "provider-a") without
// mutating the original caller's map — the concern copystructure exists to
// solve (spec §4.6: fallback attempts must not corrupt the parent request's
// context).
func (rc *RequestContext) Fork() (*RequestContext, error) {
	copied, err := copystructure.Copy(rc.Metadata)
	if err != nil {
		return nil, fmt.Errorf("forking request context metadata: %w", err)
	}

	next := *rc
	if m, ok := copied.(map[string]any); ok {
		next.Metadata = m
	} else {
		next.Metadata = make(map[string]any)
	}
	return &next, nil
}
