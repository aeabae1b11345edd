package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bastionsec/bastion/internal/instrumentation"
)

// Telemetry records request count and latency per route. The chi route
// pattern is used as the endpoint label so path parameters do not explode
// metric cardinality.
func Telemetry(metrics *instrumentation.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrapped, r)

			endpoint := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					endpoint = pattern
				}
			}

			durationMs := float64(time.Since(start).Microseconds()) / 1000.0
			metrics.RecordHTTPRequest(r.Context(), r.Method, endpoint, wrapped.Status(), durationMs)
		})
	}
}
