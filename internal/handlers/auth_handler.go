package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/bastionsec/bastion/internal/auth"
	"github.com/bastionsec/bastion/internal/guard"
	"github.com/bastionsec/bastion/internal/models"
	"github.com/bastionsec/bastion/internal/services"
	pkgauth "github.com/bastionsec/bastion/pkg/auth"
	pkghttp "github.com/bastionsec/bastion/pkg/http"
)

// RequestScreener runs the layered request gate ahead of credential
// endpoints. Handlers call it inline because only they know the submitted
// field values and the subject the request names.
type RequestScreener interface {
	Check(ctx context.Context, req guard.Request) *guard.Decision
}

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string, evtCtx models.EventContext) (*services.AuthResponse, error)
	Register(ctx context.Context, email, password, name string, evtCtx models.EventContext) (*services.AuthResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string, evtCtx models.EventContext) error
	Logout(ctx context.Context, accessToken string, evtCtx models.EventContext) error
}

// Settings carries the cookie and CSRF wiring shared by the credential
// handlers.
type Settings struct {
	Cookies        auth.CookieConfig
	RefreshExpiry  time.Duration
	CSRFCookieName string
	CSRFHeaderName string
	CSRFTokenTTL   time.Duration
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service   AuthServiceInterface
	screener  RequestScreener
	csrf      *auth.CSRFGuard
	extractor *pkghttp.IPExtractor
	settings  Settings
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, screener RequestScreener, csrf *auth.CSRFGuard, extractor *pkghttp.IPExtractor, settings Settings) *AuthHandler {
	return &AuthHandler{
		service:   service,
		screener:  screener,
		csrf:      csrf,
		extractor: extractor,
		settings:  settings,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required,min=1,max=64"`
}

// RefreshTokenRequest represents the request body for token refresh. The
// token may come from the body or from the refresh cookie.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ChangePasswordRequest represents the request body for a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// screen runs the request gate for a credential endpoint. All credential
// endpoints require the double-submit CSRF pair.
func (h *AuthHandler) screen(r *http.Request, subjectID, endpoint, clientIP string, fields []guard.Field) *guard.Decision {
	req := guard.Request{
		IPAddress:   clientIP,
		Endpoint:    endpoint,
		SubjectID:   subjectID,
		UserAgent:   r.Header.Get("User-Agent"),
		RequestID:   chimw.GetReqID(r.Context()),
		Fields:      fields,
		RequireCSRF: true,
		CSRFHeader:  r.Header.Get(h.settings.CSRFHeaderName),
	}
	if cookieToken, err := auth.GetCSRFTokenCookie(r, h.settings.CSRFCookieName); err == nil {
		req.CSRFCookie = cookieToken
	}
	return h.screener.Check(r.Context(), req)
}

func (h *AuthHandler) eventContext(r *http.Request, subjectID, clientIP string) models.EventContext {
	return models.EventContext{
		SubjectID: subjectID,
		IPAddress: clientIP,
		UserAgent: r.Header.Get("User-Agent"),
		RequestID: chimw.GetReqID(r.Context()),
	}
}

// Login handles user login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} services.AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /v1/auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	// Normalize email
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	clientIP := h.extractor.ClientIP(r)
	decision := h.screen(r, req.Email, "login", clientIP, []guard.Field{
		{Name: "email", Value: req.Email, Type: models.FieldEmail},
		{Name: "password", Value: req.Password, Type: models.FieldPassword},
	})
	if !decision.Allowed {
		guard.WriteDenial(w, decision)
		return
	}

	authResp, err := h.service.Login(r.Context(), req.Email, req.Password, h.eventContext(r, req.Email, clientIP))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrAccountLocked):
			pkghttp.WriteAccountLocked(w, "Too many failed attempts. Please try again later.", 0)
		case errors.Is(err, models.ErrSecurityStoreUnavailable):
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
		case errors.Is(err, models.ErrUnauthorized), errors.Is(err, models.ErrBadRequest):
			// One generic message for unknown accounts and wrong passwords
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	auth.SetRefreshTokenCookie(w, authResp.RefreshToken, int(h.settings.RefreshExpiry.Seconds()), h.settings.Cookies)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(authResp)
}

// Register handles user registration
// @Summary User registration
// @Accept json
// @Param request body RegisterRequest true "Register request"
// @Produce json
// @Success 202
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /v1/auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)

	clientIP := h.extractor.ClientIP(r)
	decision := h.screen(r, req.Email, "register", clientIP, []guard.Field{
		{Name: "email", Value: req.Email, Type: models.FieldEmail},
		{Name: "password", Value: req.Password, Type: models.FieldPassword},
		{Name: "name", Value: req.Name, Type: models.FieldName},
	})
	if !decision.Allowed {
		guard.WriteDenial(w, decision)
		return
	}

	_, err := h.service.Register(r.Context(), req.Email, req.Password, req.Name, h.eventContext(r, req.Email, clientIP))
	if err != nil {
		// Conflicts and password policy failures get the same response as
		// success so the endpoint cannot be used to probe for accounts.
		var pwErr *pkgauth.PasswordValidationError
		if errors.Is(err, models.ErrConflict) || errors.As(err, &pwErr) {
			writeRegistrationAccepted(w, decision.PasswordStrength)
			return
		}
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "Invalid request")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeRegistrationAccepted(w, decision.PasswordStrength)
}

// writeRegistrationAccepted includes the strength score on every accepted
// response, success or hidden conflict, since it derives only from the
// submitted password and leaks nothing about existing accounts.
func writeRegistrationAccepted(w http.ResponseWriter, strength *models.PasswordStrength) {
	body := map[string]interface{}{
		"message": "Registration received. If the email is not already registered, you will receive a confirmation email.",
	}
	if strength != nil {
		body["password_strength"] = strength
	}
	pkghttp.WriteJSON(w, http.StatusAccepted, body)
}

// RefreshToken handles token refresh. The refresh token is read from the
// request body, falling back to the refresh cookie for browser clients.
// @Summary Refresh access token
// @Accept json
// @Param request body RefreshTokenRequest false "Refresh token request"
// @Produce json
// @Success 200 {object} services.AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /v1/auth/refresh [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest

	if r.Body != nil {
		// An empty or absent body is fine when the cookie carries the token
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.RefreshToken == "" {
		if cookieToken, err := auth.GetRefreshTokenCookie(r); err == nil {
			req.RefreshToken = cookieToken
		}
	}
	if req.RefreshToken == "" {
		pkghttp.WriteBadRequest(w, "Missing refresh token")
		return
	}

	clientIP := h.extractor.ClientIP(r)
	decision := h.screen(r, "", "refresh", clientIP, nil)
	if !decision.Allowed {
		guard.WriteDenial(w, decision)
		return
	}

	authResp, err := h.service.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	auth.SetRefreshTokenCookie(w, authResp.RefreshToken, int(h.settings.RefreshExpiry.Seconds()), h.settings.Cookies)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(authResp)
}

// ChangePassword handles a password change for the authenticated user.
// Wrong current passwords advance the account failure counter the same
// way failed logins do.
// @Summary Change password
// @Accept json
// @Security BearerAuth
// @Param request body ChangePasswordRequest true "Change password request"
// @Produce json
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /v1/users/change-password [post]
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	clientIP := h.extractor.ClientIP(r)
	err = h.service.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword,
		h.eventContext(r, claims.Email, clientIP))
	if err != nil {
		var pwErr *pkgauth.PasswordValidationError
		switch {
		case errors.As(err, &pwErr):
			pkghttp.WriteBadRequest(w, pwErr.Error())
		case errors.Is(err, models.ErrAccountLocked):
			pkghttp.WriteAccountLocked(w, "Too many failed attempts. Please try again later.", 0)
		case errors.Is(err, models.ErrSecurityStoreUnavailable):
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Logout ends the session: the refresh cookie is cleared and the CSRF
// token, if presented, is revoked.
// @Summary User logout
// @Security BearerAuth
// @Produce json
// @Success 204
// @Failure 401 {object} ErrorResponse
// @Router /v1/auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}
	if claims.Type != models.TokenTypeAccess {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	accessToken := auth.BearerToken(r)
	if accessToken == "" {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	clientIP := h.extractor.ClientIP(r)
	if err := h.service.Logout(r.Context(), accessToken, h.eventContext(r, claims.Email, clientIP)); err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Invalid token")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	if cookieToken, err := auth.GetCSRFTokenCookie(r, h.settings.CSRFCookieName); err == nil && cookieToken != "" {
		// Best effort; an expired token is already gone from the store
		_ = h.csrf.Revoke(r.Context(), cookieToken)
	}
	auth.ClearRefreshTokenCookie(w, h.settings.Cookies)
	auth.ClearCSRFTokenCookie(w, h.settings.CSRFCookieName, h.settings.Cookies)

	w.WriteHeader(http.StatusNoContent)
}
