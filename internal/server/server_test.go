package server

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/unigate/internal/breaker"
	"github.com/howard-nolan/unigate/internal/cache"
	"github.com/howard-nolan/unigate/internal/config"
	"github.com/howard-nolan/unigate/internal/gatewayerr"
	"github.com/howard-nolan/unigate/internal/health"
	"github.com/howard-nolan/unigate/internal/pipeline"
	"github.com/howard-nolan/unigate/internal/provider"
	"github.com/howard-nolan/unigate/internal/ratelimit"
	"github.com/howard-nolan/unigate/internal/retry"
	"github.com/howard-nolan/unigate/internal/router"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := provider.NewEmptyRegistry()
	breakers := breaker.NewRegistry(breaker.Config{})
	mon := health.New(health.Config{})
	r := router.New(reg, breakers, mon, router.HealthBased{})
	cacheMgr, err := cache.New(config.CacheConfig{Enabled: false}, nil)
	require.NoError(t, err)
	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: 1000, TokensPerMinute: 1_000_000, RequestsPerDay: 1_000_000,
		MaxConcurrent: 10, Burst: 10,
	})
	pl := pipeline.New(reg, r, cacheMgr, limiter, retry.DefaultConfig())
	return New(&config.Config{}, pl)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleListModelsEmpty(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/models", nil)
	s.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "list", body["object"])
	assert.Empty(t, body["data"])
}

func TestHandleChatCompletionsUnknownModel(t *testing.T) {
	s := newTestServer(t)
	payload, _ := json.Marshal(map[string]any{
		"model":    "does-not-exist",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/chat/completions", bytes.NewReader(payload))
	s.ServeHTTP(w, req)
	assert.Equal(t, 404, w.Code)

	var body gatewayerr.Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, gatewayerr.NotFound, body.Error.Type)
}

func TestHandleChatCompletionsInvalidBody(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/chat/completions", bytes.NewReader([]byte("not json")))
	s.ServeHTTP(w, req)
	assert.Equal(t, 400, w.Code)
}

func TestUnsupportedRoutesReturnTypedError(t *testing.T) {
	s := newTestServer(t)
	for _, route := range unsupportedRoutes {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", route, bytes.NewReader([]byte("{}")))
		s.ServeHTTP(w, req)
		assert.Equal(t, 400, w.Code, route)

		var body gatewayerr.Body
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, gatewayerr.UnsupportedFeature, body.Error.Type, route)
	}
}

func TestHealthResponseCarriesRequestIDHeader(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
