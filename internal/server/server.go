// Package server sets up the HTTP router, middleware, and request handlers
// that front the gateway's pipeline.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/howard-nolan/unigate/internal/config"
	"github.com/howard-nolan/unigate/internal/pipeline"
)

// Server holds the HTTP router and the pipeline every handler dispatches
// into. As more cross-cutting concerns show up they become fields here,
// same as the teacher's single-map-of-providers Server grew into this one.
type Server struct {
	router chi.Router
	cfg    *config.Config
	pl     *pipeline.Pipeline
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(cfg *config.Config, pl *pipeline.Pipeline) *Server {
	s := &Server{cfg: cfg, pl: pl}
	s.routes()
	return s
}

// routes builds the chi router with all middleware and route definitions.
func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(requestContextMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/v1/models", s.handleListModels)
	r.Post("/v1/chat/completions", s.handleChatCompletions)

	for _, route := range unsupportedRoutes {
		r.Post(route, s.handleUnsupported)
	}

	s.router = r
}

// ServeHTTP makes Server satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
