package routes

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/bastionsec/bastion/internal/auth"
	"github.com/bastionsec/bastion/internal/guard"
	"github.com/bastionsec/bastion/internal/handlers"
	"github.com/bastionsec/bastion/internal/instrumentation"
	"github.com/bastionsec/bastion/internal/middleware"
	pkghttp "github.com/bastionsec/bastion/pkg/http"
)

// Deps bundles everything the route tree mounts. Credential endpoints run
// the request guard inline from their handlers; the rest of the tree gets
// it from the Shield middleware.
type Deps struct {
	Auth   *handlers.AuthHandler
	CSRF   *handlers.CSRFHandler
	Users  *handlers.UserHandler
	Admin  *handlers.AdminHandler
	Health *handlers.HealthHandler

	TokenManager *auth.TokenManager
	UserRepo     auth.UserFetcher
	Guard        *guard.RequestGuard
	Extractor    *pkghttp.IPExtractor
	Metrics      *instrumentation.Metrics
	Logger       *slog.Logger

	// EdgeRPM is the per-IP in-process backstop on the credential routes.
	EdgeRPM int
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Deps) {
	router.Get("/health", deps.Health.Health)

	router.Route("/v1", func(r chi.Router) {
		// Token issuance is a safe request: no CSRF yet, but it still
		// burns rate-limit quota and respects IP blocks.
		r.With(
			middleware.EdgeRateLimit(deps.EdgeRPM),
			middleware.Shield(deps.Guard, deps.Extractor, deps.Metrics, deps.Logger, "csrf"),
		).Get("/csrf", deps.CSRF.Issue)

		// Credential endpoints: the handlers run the full guard inline
		// because only they see the submitted field values. The edge
		// limiter in front sheds floods before any store round-trip.
		r.Group(func(r chi.Router) {
			r.Use(middleware.EdgeRateLimit(deps.EdgeRPM))
			r.Post("/auth/login", deps.Auth.Login)
			r.Post("/auth/register", deps.Auth.Register)
			r.Post("/auth/refresh", deps.Auth.RefreshToken)
		})

		// Authenticated surface.
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(deps.TokenManager))
			r.Use(middleware.Shield(deps.Guard, deps.Extractor, deps.Metrics, deps.Logger, "api"))

			r.Post("/auth/logout", deps.Auth.Logout)
			r.Get("/users/me", deps.Users.Me)
			r.Get("/users/{id}", deps.Users.GetUser)
			r.Post("/users/change-password", deps.Auth.ChangePassword)

			// Administrative security surface.
			r.Route("/admin/security", func(r chi.Router) {
				r.Use(auth.RequireRole(deps.UserRepo, "admin"))

				r.Get("/overview", deps.Admin.Overview)

				r.Get("/accounts/status", deps.Admin.AccountStatus)
				r.Post("/accounts/unlock", deps.Admin.UnlockAccount)

				r.Get("/ip/{ip}/analysis", deps.Admin.AnalyzeIP)
				r.Post("/ip/block", deps.Admin.BlockIP)
				r.Post("/ip/unblock", deps.Admin.UnblockIP)

				r.Post("/rate-limits/reset", deps.Admin.ResetRateLimit)

				r.Get("/events", deps.Admin.QueryEvents)
				r.Get("/events/export", deps.Admin.ExportEvents)

				r.Post("/totp/setup", deps.Admin.SetupTOTP)
				r.Post("/totp/confirm", deps.Admin.ConfirmTOTP)
			})
		})
	})
}
