package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bastionsec/bastion/internal/auth"
	"github.com/bastionsec/bastion/internal/models"
	pkgauth "github.com/bastionsec/bastion/pkg/auth"
	pkglogger "github.com/bastionsec/bastion/pkg/logger"
)

// AuthService implements the protected authentication surface. It performs
// the actual credential checks and feeds every outcome into the defense
// services: failures advance the subject's lockout counter and the source
// IP's threat record, successes clear the counter. Gating (rate limits,
// active lockouts, IP blocks, CSRF) happens upstream in the request guard;
// the feedback loop lives here because only this layer knows whether the
// credentials were actually wrong.
type AuthService struct {
	repo     UserRepository
	tm       *auth.TokenManager
	security *AccountSecurityService
	threat   *IPThreatService
	events   EventRecorder
	timing   *auth.TimingDelay
	logger   *slog.Logger
}

// NewAuthService creates a new AuthService
func NewAuthService(repo UserRepository, tm *auth.TokenManager, security *AccountSecurityService, threat *IPThreatService, events EventRecorder, timing *auth.TimingDelay, logger *slog.Logger) *AuthService {
	return &AuthService{
		repo:     repo,
		tm:       tm,
		security: security,
		threat:   threat,
		events:   events,
		timing:   timing,
		logger:   logger,
	}
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// AuthResponse represents the response from auth operations
type AuthResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	User         *UserResponse `json:"user"`
}

// Login authenticates a user and returns tokens. The subject identifier
// for failure tracking is the normalized email, so attempts against
// unknown accounts are counted the same as wrong passwords and the two
// cases stay indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string, evtCtx models.EventContext) (*AuthResponse, error) {
	start := time.Now()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		s.logger.WarnContext(ctx, "login attempt with empty email")
		s.timing.WaitFrom(start, false)
		return nil, models.ErrUnauthorized
	}
	evtCtx.SubjectID = email

	// The request guard already gates locked subjects, but the credential
	// surface re-checks so a lockout holds even for a correct password.
	status, err := s.security.Status(ctx, email)
	if err != nil {
		s.timing.WaitFrom(start, false)
		return nil, fmt.Errorf("login denied: %w", err)
	}
	if status.Status == models.StatusLocked {
		s.events.Record(ctx, models.EventLevelWarning, models.CategoryAuthentication, models.EventTypeLoginFailed,
			"login rejected while account locked",
			withMetadata(evtCtx, models.EventMetadata{"reason": "account_locked"}))
		s.timing.WaitFrom(start, false)
		return nil, models.ErrAccountLocked
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Unknown account; treat as an enumeration probe for threat
			// scoring but report plain invalid credentials.
			if evtCtx.IPAddress != "" {
				s.threat.RecordEvent(ctx, evtCtx.IPAddress, models.ThreatEventAccountEnumeration, evtCtx)
			}
			return s.failLogin(ctx, start, email, "invalid_credentials", evtCtx)
		}
		s.logger.ErrorContext(ctx, "failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !user.IsActive() {
		s.logger.InfoContext(ctx, "login blocked due to account state",
			slog.String("user_id", user.ID.String()),
			slog.String("status", user.Status))
		s.events.Record(ctx, models.EventLevelWarning, models.CategoryAuthentication, models.EventTypeLoginFailed,
			"login blocked by account status",
			withMetadata(evtCtx, models.EventMetadata{"reason": "account_" + user.Status}))
		s.timing.WaitFrom(start, false)
		return nil, models.ErrForbidden
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		if evtCtx.IPAddress != "" {
			s.threat.RecordEvent(ctx, evtCtx.IPAddress, models.ThreatEventFailedLogin, evtCtx)
		}
		return s.failLogin(ctx, start, email, "invalid_credentials", evtCtx)
	}

	if err := s.security.RecordSuccess(ctx, email); err != nil {
		s.logger.WarnContext(ctx, "failed to clear failure counter",
			slog.String("subject_id", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
	}

	now := time.Now().UTC()
	if err := s.repo.RecordLogin(ctx, user.ID, now); err != nil {
		s.logger.WarnContext(ctx, "failed to record login time",
			slog.String("user_id", user.ID.String()),
			slog.Any("error", err))
	}

	response, err := s.buildAuthResponse(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID.String()))
	s.events.Record(ctx, models.EventLevelInfo, models.CategoryAuthentication, models.EventTypeLoginSuccess,
		"user authenticated", evtCtx)

	s.timing.WaitFrom(start, true)
	return response, nil
}

// failLogin records a failed attempt against the subject, equalizes the
// response time and maps the outcome to the caller-facing error. A locked
// result surfaces as ErrAccountLocked so handlers can attach the unlock
// metadata; an unreadable security store fails closed.
func (s *AuthService) failLogin(ctx context.Context, start time.Time, subjectID, reason string, evtCtx models.EventContext) (*AuthResponse, error) {
	result, err := s.security.RecordFailure(ctx, subjectID, evtCtx)

	s.logger.InfoContext(ctx, "login failed", slog.String("reason", reason))
	s.events.Record(ctx, models.EventLevelWarning, models.CategoryAuthentication, models.EventTypeLoginFailed,
		"login failed",
		withMetadata(evtCtx, models.EventMetadata{"reason": reason}))

	s.timing.WaitFrom(start, false)

	if err != nil {
		return nil, fmt.Errorf("login denied: %w", err)
	}
	if result.Status == models.StatusLocked {
		return nil, models.ErrAccountLocked
	}
	return nil, models.ErrUnauthorized
}

// Register creates a new user account
func (s *AuthService) Register(ctx context.Context, email, password, name string, evtCtx models.EventContext) (*AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)

	if email == "" {
		return nil, fmt.Errorf("%w: email is required", models.ErrBadRequest)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", models.ErrBadRequest)
	}
	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, err
	}

	_, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		s.logger.InfoContext(ctx, "registration failed: user already exists")
		return nil, models.ErrConflict
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.ErrorContext(ctx, "failed to check if user exists", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hashedPassword, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hashedPassword,
		Name:         name,
		Role:         models.RoleUser,
		Status:       "active",
	}

	createdUser, err := s.repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.ErrorContext(ctx, "failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	response, err := s.buildAuthResponse(ctx, createdUser)
	if err != nil {
		return nil, err
	}

	evtCtx.SubjectID = createdUser.Email
	s.logger.InfoContext(ctx, "user registered", slog.String("user_id", createdUser.ID.String()))
	s.events.Record(ctx, models.EventLevelInfo, models.CategoryAuthentication, models.EventTypeRegistration,
		"user account created", evtCtx)

	return response, nil
}

// RefreshToken generates a new token pair from a refresh token
func (s *AuthService) RefreshToken(ctx context.Context, refreshTokenString string) (*AuthResponse, error) {
	if refreshTokenString = strings.TrimSpace(refreshTokenString); refreshTokenString == "" {
		return nil, models.ErrUnauthorized
	}

	claims, err := s.tm.ValidateToken(refreshTokenString)
	if err != nil {
		s.logger.InfoContext(ctx, "refresh token validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}
	if claims.Type != models.TokenTypeRefresh {
		s.logger.WarnContext(ctx, "refresh attempt with non-refresh token",
			slog.String("user_id", claims.UserID))
		return nil, models.ErrUnauthorized
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, models.ErrUnauthorized
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.ErrorContext(ctx, "failed to get user for token refresh",
			slog.String("user_id", claims.UserID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !user.IsActive() {
		s.logger.InfoContext(ctx, "token refresh blocked due to account state",
			slog.String("user_id", user.ID.String()),
			slog.String("status", user.Status))
		return nil, models.ErrUnauthorized
	}

	response, err := s.buildAuthResponse(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "token refreshed", slog.String("user_id", user.ID.String()))
	return response, nil
}

// ChangePassword rotates a user's password after verifying the current one.
// A wrong current password counts as an authentication failure for the
// subject, same as a failed login.
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string, evtCtx models.EventContext) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		return models.ErrInternalServer
	}
	evtCtx.SubjectID = user.Email

	if err := pkgauth.ComparePassword(user.PasswordHash, currentPassword); err != nil {
		if evtCtx.IPAddress != "" {
			s.threat.RecordEvent(ctx, evtCtx.IPAddress, models.ThreatEventFailedLogin, evtCtx)
		}
		result, secErr := s.security.RecordFailure(ctx, user.Email, evtCtx)
		s.events.Record(ctx, models.EventLevelWarning, models.CategoryAuthentication, models.EventTypeLoginFailed,
			"password change rejected",
			withMetadata(evtCtx, models.EventMetadata{"reason": "invalid_current_password"}))
		if secErr != nil {
			return fmt.Errorf("password change denied: %w", secErr)
		}
		if result.Status == models.StatusLocked {
			return models.ErrAccountLocked
		}
		return models.ErrUnauthorized
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	hashedPassword, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	user.PasswordHash = hashedPassword
	if _, err := s.repo.Update(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to update password",
			slog.String("user_id", userID.String()),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.InfoContext(ctx, "password changed", slog.String("user_id", userID.String()))
	s.events.Record(ctx, models.EventLevelInfo, models.CategoryAuthentication, models.EventTypePasswordReset,
		"password changed", evtCtx)

	return nil
}

// Logout records the end of a session. Access tokens stay valid until
// expiry; the handler clears the refresh cookie and revokes the CSRF token.
func (s *AuthService) Logout(ctx context.Context, accessToken string, evtCtx models.EventContext) error {
	claims, err := s.tm.ValidateToken(accessToken)
	if err != nil {
		return models.ErrUnauthorized
	}

	evtCtx.SubjectID = claims.Email
	s.logger.InfoContext(ctx, "user logged out", slog.String("user_id", claims.UserID))
	s.events.Record(ctx, models.EventLevelInfo, models.CategoryAuthentication, models.EventTypeLogout,
		"user logged out", evtCtx)

	return nil
}

func (s *AuthService) buildAuthResponse(ctx context.Context, user *models.User) (*AuthResponse, error) {
	accessToken, err := s.tm.GenerateAccessToken(user.ID.String(), user.Email, user.Role)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate access token",
			slog.String("user_id", user.ID.String()),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshToken, err := s.tm.GenerateRefreshToken(user.ID.String(), user.Email, user.Role)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate refresh token",
			slog.String("user_id", user.ID.String()),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         userModelToResponse(user),
	}, nil
}

// withMetadata returns a copy of the context with extra metadata merged in
func withMetadata(evtCtx models.EventContext, extra models.EventMetadata) models.EventContext {
	merged := make(models.EventMetadata, len(evtCtx.Metadata)+len(extra))
	for k, v := range evtCtx.Metadata {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	evtCtx.Metadata = merged
	return evtCtx
}

// userModelToResponse converts a user model to its response DTO
func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:        user.ID.String(),
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
		UpdatedAt: user.UpdatedAt.Format(time.RFC3339),
	}
}
