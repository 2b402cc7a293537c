package server

import (
	"context"
	"net/http"
	"time"
)

// TimeoutMiddleware bounds every request with a deadline that the
// orchestrator's backend calls inherit. The configured value must
// leave room for the worst-case chain (primary timeout, then the GPU
// wake budget, then the secondary timeout) so a slow fallback ends in
// a degraded reply, not a cancelled one.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
