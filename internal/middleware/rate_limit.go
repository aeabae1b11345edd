package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	pkghttp "github.com/bastionsec/bastion/pkg/http"
)

// EdgeRateLimit applies an in-process per-IP limit in front of the
// store-backed tiers. It is a backstop, not the real policy: it sheds
// floods before they reach the security store, while the tier counters
// enforce the configured limits across instances.
func EdgeRateLimit(requestsPerMinute int) func(next http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Rate limit exceeded", 60)
		}),
	)
}
