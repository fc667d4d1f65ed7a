package provider

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/howard-nolan/unigate/internal/gatewayerr"
)

// classifyHTTPStatus turns an upstream non-200 response into the gateway's
// error taxonomy (spec §7) so the breaker, retry engine, and router can act
// on Kind/Retryable without knowing which backend produced it. Callers own
// closing httpResp.Body.
func classifyHTTPStatus(httpResp *http.Response) *gatewayerr.Error {
	var body map[string]any
	_ = json.NewDecoder(httpResp.Body).Decode(&body)

	var msg string
	if body != nil {
		if e, ok := body["error"].(map[string]any); ok {
			if m, ok := e["message"].(string); ok {
				msg = m
			}
		}
	}
	if msg == "" {
		msg = http.StatusText(httpResp.StatusCode)
	}

	switch httpResp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return gatewayerr.New(gatewayerr.Auth, "%s", msg)
	case http.StatusTooManyRequests:
		return gatewayerr.New(gatewayerr.RateLimit, "%s", msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return gatewayerr.New(gatewayerr.BadRequest, "%s", msg)
	case http.StatusNotFound:
		return gatewayerr.New(gatewayerr.NotFound, "%s", msg)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return gatewayerr.New(gatewayerr.Timeout, "%s", msg)
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return gatewayerr.New(gatewayerr.ProviderUnavailable, "%s", msg)
	default:
		if httpResp.StatusCode >= 500 {
			return gatewayerr.New(gatewayerr.ProviderUnavailable, "%s", msg)
		}
		return gatewayerr.New(gatewayerr.Internal, "%s", msg)
	}
}

// classifyTransportErr turns a client.Do failure (connection refused, DNS,
// TLS, context deadline) into the taxonomy.
func classifyTransportErr(err error) *gatewayerr.Error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return gatewayerr.Wrap(gatewayerr.Timeout, err, "upstream request timed out")
	}
	return gatewayerr.Wrap(gatewayerr.Network, err, "upstream request failed")
}
