package server

import (
	"net/http"

	"github.com/howard-nolan/unigate/internal/reqctx"
)

// requestContextMiddleware builds the gateway's own RequestContext (C11) for
// every inbound request and stores it on r.Context(), the same pattern chi's
// middleware.RequestID uses for its own request-scoped value.
func requestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := reqctx.New(r)
		w.Header().Set("X-Request-ID", rc.RequestID)
		next.ServeHTTP(w, r.WithContext(reqctx.Into(r.Context(), rc)))
	})
}
