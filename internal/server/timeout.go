package server

import (
	"context"
	"net/http"
	"time"
)

// TimeoutMiddleware bounds every request with a deadline. Cancellation is
// cooperative: handlers and the model client observe ctx.Done(), nothing
// is forcibly terminated. A hung upstream call therefore cannot pin a
// request past the deadline.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
