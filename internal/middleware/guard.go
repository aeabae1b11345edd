package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/bastionsec/bastion/internal/auth"
	"github.com/bastionsec/bastion/internal/guard"
	"github.com/bastionsec/bastion/internal/instrumentation"
	pkghttp "github.com/bastionsec/bastion/pkg/http"
)

// Shield runs the request guard for routes whose handlers do not call it
// themselves. Credential endpoints gate inline because only they know the
// submitted field values; everything else gets the shared tiers, the
// account stage for the authenticated subject and the block check from
// this middleware.
//
// The endpoint label keys the per-endpoint tier for the whole subtree the
// middleware is mounted on, so one hot admin route cannot starve the rest
// of the API's quota.
func Shield(g *guard.RequestGuard, extractor *pkghttp.IPExtractor, metrics *instrumentation.Metrics, logger *slog.Logger, endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := guard.Request{
				IPAddress: extractor.ClientIP(r),
				Endpoint:  endpoint,
				UserAgent: r.Header.Get("User-Agent"),
				RequestID: middleware.GetReqID(r.Context()),
			}
			if claims := auth.GetUserFromContext(r); claims != nil {
				req.SubjectID = claims.Email
			}

			decision := g.Check(r.Context(), req)

			metrics.RecordGuardDecision(r.Context(), decision.Allowed, string(decision.Reason))
			if !decision.Allowed {
				logger.InfoContext(r.Context(), "request denied",
					slog.String("endpoint", endpoint),
					slog.String("reason", string(decision.Reason)))
				guard.WriteDenial(w, decision)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
