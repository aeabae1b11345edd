package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bastionsec/bastion/internal/auth"
	"github.com/bastionsec/bastion/internal/models"
	pkghttp "github.com/bastionsec/bastion/pkg/http"
)

// UserServiceInterface defines the interface for user lookups
type UserServiceInterface interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// UserHandler handles user-related HTTP requests
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

// UserProfileResponse represents a user in the HTTP response. Security
// material (password hash, TOTP secret) never leaves the service layer.
type UserProfileResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	Role        string     `json:"role"`
	Status      string     `json:"status"`
	TOTPEnabled bool       `json:"totp_enabled"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

func userProfileResponse(user *models.User) UserProfileResponse {
	return UserProfileResponse{
		ID:          user.ID.String(),
		Email:       user.Email,
		Name:        user.Name,
		Role:        user.Role,
		Status:      user.Status,
		TOTPEnabled: user.TOTPEnabled(),
		CreatedAt:   user.CreatedAt,
		LastLoginAt: user.LastLoginAt,
	}
}

// GetUser retrieves a user by ID. Users can read their own record; the
// admin role can read any.
// @Summary Get user by ID
// @Security BearerAuth
// @Param id path string true "User ID"
// @Produce json
// @Success 200 {object} UserProfileResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /v1/users/{id} [get]
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	requestedID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid user ID")
		return
	}

	if err := h.checkUserAccess(r, claims, requestedID); err != nil {
		pkghttp.WriteForbidden(w, "Forbidden: you cannot access this resource")
		return
	}

	user, err := h.service.GetByID(r.Context(), requestedID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "User not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, userProfileResponse(user))
}

// Me retrieves the authenticated user's own record
// @Summary Get current user
// @Security BearerAuth
// @Produce json
// @Success 200 {object} UserProfileResponse
// @Failure 401 {object} ErrorResponse
// @Router /v1/users/me [get]
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
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

	user, err := h.service.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "User not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, userProfileResponse(user))
}

// checkUserAccess enforces resource-level authorization: self access or
// the admin role. The role comes from the user record, not the token.
func (h *UserHandler) checkUserAccess(r *http.Request, claims *models.TokenClaims, requestedID uuid.UUID) error {
	callerID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return err
	}
	if callerID == requestedID {
		return nil
	}

	caller, err := h.service.GetByID(r.Context(), callerID)
	if err != nil {
		return err
	}
	if caller.Role == models.RoleAdmin {
		return nil
	}
	return models.ErrForbidden
}
