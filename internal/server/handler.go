package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/howard-nolan/unigate/internal/gatewayerr"
	"github.com/howard-nolan/unigate/internal/model"
	"github.com/howard-nolan/unigate/internal/reqctx"
	"github.com/howard-nolan/unigate/internal/stream"
)

// unsupportedRoutes are the rest of spec.md §6's OpenAI-compatible wire
// surface (embeddings, completions, images, audio, moderations) that this
// gateway's core only specifies the inbound shape for, not the provider
// adapters behind them — so they're accepted as routes and answered with a
// typed UnsupportedFeature error rather than a bare 404, the same "absent
// at the destination surfaces as unsupported" rule spec.md applies to a
// provider that can't do something a request asks for.
var unsupportedRoutes = []string{
	"/v1/embeddings",
	"/v1/completions",
	"/v1/images/generations",
	"/v1/audio/transcriptions",
	"/v1/moderations",
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("server: writing response body: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	body, status := gatewayerr.ToBody(err)
	writeJSON(w, status, body)
}

// handleHealth responds with a liveness probe. It intentionally does not
// fan out to the health monitor's per-provider status — that's what the
// breaker/health gauges in internal/metrics are for.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListModels responds with every model name some registered provider
// serves, regardless of breaker or health state.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models := s.pl.Models()
	data := make([]map[string]string, 0, len(models))
	for _, m := range models {
		data = append(data, map[string]string{"id": m, "object": "model"})
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

func (s *Server) handleUnsupported(w http.ResponseWriter, r *http.Request) {
	writeError(w, gatewayerr.New(gatewayerr.UnsupportedFeature, "%s is not implemented by this gateway", r.URL.Path))
}

// handleChatCompletions handles POST /v1/chat/completions, branching on
// req.Stream to either hand the response back as one JSON body or stream it
// as Server-Sent Events via internal/stream.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	rc, ok := reqctx.From(r.Context())
	if !ok {
		writeError(w, gatewayerr.New(gatewayerr.Internal, "request context middleware did not run"))
		return
	}

	var req model.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gatewayerr.Wrap(gatewayerr.BadRequest, err, "invalid request body"))
		return
	}

	if req.Stream {
		s.handleChatCompletionsStream(w, r, rc, &req)
		return
	}

	resp, err := s.pl.ChatCompletion(r.Context(), rc, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChatCompletionsStream(w http.ResponseWriter, r *http.Request, rc *reqctx.RequestContext, req *model.ChatRequest) {
	chunks, err := s.pl.ChatCompletionStream(r.Context(), rc, req)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := stream.Write(r.Context(), w, chunks); err != nil {
		log.Printf("server: stream write for request %s: %v", rc.RequestID, err)
	}
}
