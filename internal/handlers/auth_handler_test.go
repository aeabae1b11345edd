package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionsec/bastion/internal/auth"
	"github.com/bastionsec/bastion/internal/config"
	"github.com/bastionsec/bastion/internal/guard"
	"github.com/bastionsec/bastion/internal/handlers"
	"github.com/bastionsec/bastion/internal/models"
	"github.com/bastionsec/bastion/internal/services"
	pkgauth "github.com/bastionsec/bastion/pkg/auth"
	pkghttp "github.com/bastionsec/bastion/pkg/http"
)

func testSettings() handlers.Settings {
	return handlers.Settings{
		Cookies:        auth.CookieConfig{SameSite: "strict"},
		RefreshExpiry:  7 * 24 * time.Hour,
		CSRFCookieName: "csrf_token",
		CSRFHeaderName: "X-CSRF-Token",
		CSRFTokenTTL:   time.Hour,
	}
}

func newAuthHandler(t *testing.T, svc *handlers.MockAuthService, screener *handlers.MockScreener) *handlers.AuthHandler {
	t.Helper()
	extractor, err := pkghttp.NewIPExtractor(nil)
	require.NoError(t, err)
	csrfGuard := auth.NewCSRFGuard(services.NewMockSecurityStore(), config.CSRFConfig{
		TokenTTL:   time.Hour,
		CookieName: "csrf_token",
		HeaderName: "X-CSRF-Token",
		CookiePath: "/",
	})
	return handlers.NewAuthHandler(svc, screener, csrfGuard, extractor, testSettings())
}

func refreshCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == "refresh_token" {
			return c
		}
	}
	return nil
}

func TestLogin_Success(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, email, password string, evtCtx models.EventContext) (*services.AuthResponse, error) {
			return &services.AuthResponse{
				AccessToken:  "access_token_123",
				RefreshToken: "refresh_token_123",
			}, nil
		},
	}
	screener := &handlers.MockScreener{}

	handler := newAuthHandler(t, mockAuth, screener)
	req := handlers.NewTestRequest(t, "POST", "/v1/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "Password123!",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	var resp services.AuthResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "access_token_123", resp.AccessToken)
	assert.Equal(t, "refresh_token_123", resp.RefreshToken)

	cookie := refreshCookie(t, w)
	require.NotNil(t, cookie, "refresh cookie should be set")
	assert.Equal(t, "refresh_token_123", cookie.Value)
	assert.True(t, cookie.HttpOnly)
}

func TestLogin_ScreensGuardRequest(t *testing.T) {
	screener := &handlers.MockScreener{}
	handler := newAuthHandler(t, &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, email, password string, evtCtx models.EventContext) (*services.AuthResponse, error) {
			return &services.AuthResponse{}, nil
		},
	}, screener)

	req := handlers.NewTestRequest(t, "POST", "/v1/auth/login", handlers.LoginRequest{
		Email:    "  USER@Example.COM ",
		Password: "Password123!",
	})
	req.Header.Set("X-CSRF-Token", "header-token")
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "cookie-token"})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	require.Len(t, screener.Requests, 1)
	screened := screener.Requests[0]
	assert.Equal(t, "user@example.com", screened.SubjectID, "subject should be the normalized email")
	assert.Equal(t, "login", screened.Endpoint)
	assert.True(t, screened.RequireCSRF)
	assert.Equal(t, "header-token", screened.CSRFHeader)
	assert.Equal(t, "cookie-token", screened.CSRFCookie)
	require.Len(t, screened.Fields, 2)
	assert.Equal(t, models.FieldEmail, screened.Fields[0].Type)
	assert.Equal(t, models.FieldPassword, screened.Fields[1].Type)
}

func TestLogin_DeniedByGuard(t *testing.T) {
	screener := &handlers.MockScreener{
		CheckFunc: func(ctx context.Context, req guard.Request) *guard.Decision {
			return &guard.Decision{Reason: guard.DenyRateLimited, RetryAfter: 30}
		},
	}
	called := false
	handler := newAuthHandler(t, &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, email, password string, evtCtx models.EventContext) (*services.AuthResponse, error) {
			called = true
			return nil, models.ErrUnauthorized
		},
	}, screener)

	req := handlers.NewTestRequest(t, "POST", "/v1/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "Password123!",
	})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 429, "rate_limit_exceeded")
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.False(t, called, "service must not run after a guard denial")
}

func TestLogin_AuthenticationFailed(t *testing.T) {
	handler := newAuthHandler(t, &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, email, password string, evtCtx models.EventContext) (*services.AuthResponse, error) {
			return nil, models.ErrUnauthorized
		},
	}, &handlers.MockScreener{})

	req := handlers.NewTestRequest(t, "POST", "/v1/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "wrongpassword",
	})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestLogin_LockedAccount(t *testing.T) {
	handler := newAuthHandler(t, &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, email, password string, evtCtx models.EventContext) (*services.AuthResponse, error) {
			return nil, models.ErrAccountLocked
		},
	}, &handlers.MockScreener{})

	req := handlers.NewTestRequest(t, "POST", "/v1/auth/login", handlers.LoginRequest{
		Email:    "locked@example.com",
		Password: "Password123!",
	})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 429, "account_locked")
}

func TestLogin_StoreUnavailable(t *testing.T) {
	handler := newAuthHandler(t, &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, email, password string, evtCtx models.EventContext) (*services.AuthResponse, error) {
			return nil, models.ErrSecurityStoreUnavailable
		},
	}, &handlers.MockScreener{})

	req := handlers.NewTestRequest(t, "POST", "/v1/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "Password123!",
	})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 503, "service_unavailable")
}

func TestLogin_InvalidBodySkipsGuard(t *testing.T) {
	screener := &handlers.MockScreener{}
	handler := newAuthHandler(t, &handlers.MockAuthService{}, screener)

	req := handlers.NewTestRequest(t, "POST", "/v1/auth/login", handlers.LoginRequest{
		Email: "not-an-email",
	})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
	assert.Empty(t, screener.Requests, "malformed requests are rejected before the guard runs")
}

func TestRegister_SuccessReturnsGenericAccepted(t *testing.T) {
	handler := newAuthHandler(t, &handlers.MockAuthService{
		RegisterFunc: func(ctx context.Context, email, password, name string, evtCtx models.EventContext) (*services.AuthResponse, error) {
			return &services.AuthResponse{AccessToken: "never-returned"}, nil
		},
	}, &handlers.MockScreener{})

	req := handlers.NewTestRequest(t, "POST", "/v1/auth/register", handlers.RegisterRequest{
		Email:    "new@example.com",
		Password: "Password123!",
		Name:     "New User",
	})
	w := httptest.NewRecorder()
	handler.Register(w, req)

	var resp map[string]string
	handlers.AssertJSONResponse(t, w, 202, &resp)
	assert.Contains(t, resp["message"], "Registration received")
	assert.NotContains(t, w.Body.String(), "never-returned")
}

func TestRegister_ConflictIndistinguishableFromSuccess(t *testing.T) {
	success := httptest.NewRecorder()
	newAuthHandler(t, &handlers.MockAuthService{
		RegisterFunc: func(ctx context.Context, email, password, name string, evtCtx models.EventContext) (*services.AuthResponse, error) {
			return &services.AuthResponse{}, nil
		},
	}, &handlers.MockScreener{}).Register(success, handlers.NewTestRequest(t, "POST", "/v1/auth/register", handlers.RegisterRequest{
		Email: "a@example.com", Password: "Password123!", Name: "A",
	}))

	conflict := httptest.NewRecorder()
	newAuthHandler(t, &handlers.MockAuthService{
		RegisterFunc: func(ctx context.Context, email, password, name string, evtCtx models.EventContext) (*services.AuthResponse, error) {
			return nil, models.ErrConflict
		},
	}, &handlers.MockScreener{}).Register(conflict, handlers.NewTestRequest(t, "POST", "/v1/auth/register", handlers.RegisterRequest{
		Email: "a@example.com", Password: "Password123!", Name: "A",
	}))

	assert.Equal(t, success.Code, conflict.Code)
	assert.Equal(t, success.Body.String(), conflict.Body.String())
}

func TestRegister_WeakPasswordHiddenBehindAccepted(t *testing.T) {
	handler := newAuthHandler(t, &handlers.MockAuthService{
		RegisterFunc: func(ctx context.Context, email, password, name string, evtCtx models.EventContext) (*services.AuthResponse, error) {
			return nil, &pkgauth.PasswordValidationError{Errors: []string{"must contain at least one digit"}}
		},
	}, &handlers.MockScreener{})

	req := handlers.NewTestRequest(t, "POST", "/v1/auth/register", handlers.RegisterRequest{
		Email:    "new@example.com",
		Password: "weak",
		Name:     "New User",
	})
	w := httptest.NewRecorder()
	handler.Register(w, req)

	assert.Equal(t, 202, w.Code)
	assert.NotContains(t, w.Body.String(), "digit")
}

func TestRegister_SurfacesPasswordStrength(t *testing.T) {
	screener := &handlers.MockScreener{
		CheckFunc: func(ctx context.Context, req guard.Request) *guard.Decision {
			return &guard.Decision{
				Allowed:          true,
				PasswordStrength: &models.PasswordStrength{Score: 85, Label: "strong"},
			}
		},
	}
	handler := newAuthHandler(t, &handlers.MockAuthService{
		RegisterFunc: func(ctx context.Context, email, password, name string, evtCtx models.EventContext) (*services.AuthResponse, error) {
			return &services.AuthResponse{}, nil
		},
	}, screener)

	req := handlers.NewTestRequest(t, "POST", "/v1/auth/register", handlers.RegisterRequest{
		Email:    "new@example.com",
		Password: "Tr0ub4dor&3-horse-staple",
		Name:     "New User",
	})
	w := httptest.NewRecorder()
	handler.Register(w, req)

	var resp struct {
		Message  string                   `json:"message"`
		Strength *models.PasswordStrength `json:"password_strength"`
	}
	handlers.AssertJSONResponse(t, w, 202, &resp)
	require.NotNil(t, resp.Strength, "accepted registrations should echo the strength score")
	assert.Equal(t, 85, resp.Strength.Score)
	assert.Equal(t, "strong", resp.Strength.Label)
}

func TestRefreshToken_FromBody(t *testing.T) {
	var got string
	handler := newAuthHandler(t, &handlers.MockAuthService{
		RefreshTokenFunc: func(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
			got = refreshToken
			return &services.AuthResponse{AccessToken: "new_access", RefreshToken: "rotated"}, nil
		},
	}, &handlers.MockScreener{})

	req := handlers.NewTestRequest(t, "POST", "/v1/auth/refresh", handlers.RefreshTokenRequest{
		RefreshToken: "body-token",
	})
	w := httptest.NewRecorder()
	handler.RefreshToken(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "body-token", got)

	cookie := refreshCookie(t, w)
	require.NotNil(t, cookie)
	assert.Equal(t, "rotated", cookie.Value, "rotation should reset the cookie")
}

func TestRefreshToken_FallsBackToCookie(t *testing.T) {
	var got string
	handler := newAuthHandler(t, &handlers.MockAuthService{
		RefreshTokenFunc: func(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
			got = refreshToken
			return &services.AuthResponse{}, nil
		},
	}, &handlers.MockScreener{})

	req := handlers.NewTestRequest(t, "POST", "/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "cookie-token"})
	w := httptest.NewRecorder()
	handler.RefreshToken(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "cookie-token", got)
}

func TestRefreshToken_MissingToken(t *testing.T) {
	screener := &handlers.MockScreener{}
	handler := newAuthHandler(t, &handlers.MockAuthService{}, screener)

	req := handlers.NewTestRequest(t, "POST", "/v1/auth/refresh", nil)
	w := httptest.NewRecorder()
	handler.RefreshToken(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
	assert.Empty(t, screener.Requests)
}

func TestRefreshToken_InvalidToken(t *testing.T) {
	handler := newAuthHandler(t, &handlers.MockAuthService{
		RefreshTokenFunc: func(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
			return nil, models.ErrUnauthorized
		},
	}, &handlers.MockScreener{})

	req := handlers.NewTestRequest(t, "POST", "/v1/auth/refresh", handlers.RefreshTokenRequest{
		RefreshToken: "expired",
	})
	w := httptest.NewRecorder()
	handler.RefreshToken(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestChangePassword_Success(t *testing.T) {
	userID := uuid.New()
	var gotID uuid.UUID
	handler := newAuthHandler(t, &handlers.MockAuthService{
		ChangePasswordFunc: func(ctx context.Context, id uuid.UUID, currentPassword, newPassword string, evtCtx models.EventContext) error {
			gotID = id
			return nil
		},
	}, &handlers.MockScreener{})

	req := handlers.NewTestRequest(t, "POST", "/v1/users/change-password", handlers.ChangePasswordRequest{
		CurrentPassword: "OldPassword123!",
		NewPassword:     "NewPassword456!",
	})
	req = handlers.WithAuthContext(req, userID.String(), "user@example.com")
	w := httptest.NewRecorder()
	handler.ChangePassword(w, req)

	assert.Equal(t, 204, w.Code)
	assert.Equal(t, userID, gotID)
}

func TestChangePassword_WrongCurrentPassword(t *testing.T) {
	handler := newAuthHandler(t, &handlers.MockAuthService{
		ChangePasswordFunc: func(ctx context.Context, id uuid.UUID, currentPassword, newPassword string, evtCtx models.EventContext) error {
			return models.ErrUnauthorized
		},
	}, &handlers.MockScreener{})

	req := handlers.NewTestRequest(t, "POST", "/v1/users/change-password", handlers.ChangePasswordRequest{
		CurrentPassword: "wrong",
		NewPassword:     "NewPassword456!",
	})
	req = handlers.WithAuthContext(req, uuid.New().String(), "user@example.com")
	w := httptest.NewRecorder()
	handler.ChangePassword(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestChangePassword_WeakNewPasswordSurfaced(t *testing.T) {
	handler := newAuthHandler(t, &handlers.MockAuthService{
		ChangePasswordFunc: func(ctx context.Context, id uuid.UUID, currentPassword, newPassword string, evtCtx models.EventContext) error {
			return &pkgauth.PasswordValidationError{Errors: []string{"must be at least 12 characters"}}
		},
	}, &handlers.MockScreener{})

	req := handlers.NewTestRequest(t, "POST", "/v1/users/change-password", handlers.ChangePasswordRequest{
		CurrentPassword: "OldPassword123!",
		NewPassword:     "short",
	})
	req = handlers.WithAuthContext(req, uuid.New().String(), "user@example.com")
	w := httptest.NewRecorder()
	handler.ChangePassword(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestChangePassword_Unauthenticated(t *testing.T) {
	handler := newAuthHandler(t, &handlers.MockAuthService{}, &handlers.MockScreener{})

	req := handlers.NewTestRequest(t, "POST", "/v1/users/change-password", handlers.ChangePasswordRequest{
		CurrentPassword: "a", NewPassword: "b",
	})
	w := httptest.NewRecorder()
	handler.ChangePassword(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestLogout_ClearsSessionCookies(t *testing.T) {
	handler := newAuthHandler(t, &handlers.MockAuthService{}, &handlers.MockScreener{})

	req := handlers.NewTestRequest(t, "POST", "/v1/auth/logout", nil)
	req = handlers.WithAuthContext(req, uuid.New().String(), "user@example.com")
	req.Header.Set("Authorization", "Bearer some-access-token")
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "live"})
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "csrf-live"})

	w := httptest.NewRecorder()
	handler.Logout(w, req)

	assert.Equal(t, 204, w.Code)

	cleared := map[string]bool{}
	for _, c := range w.Result().Cookies() {
		if c.MaxAge < 0 {
			cleared[c.Name] = true
		}
	}
	assert.True(t, cleared["refresh_token"])
	assert.True(t, cleared["csrf_token"])
}

func TestLogout_MissingBearerToken(t *testing.T) {
	handler := newAuthHandler(t, &handlers.MockAuthService{}, &handlers.MockScreener{})

	req := handlers.NewTestRequest(t, "POST", "/v1/auth/logout", nil)
	req = handlers.WithAuthContext(req, uuid.New().String(), "user@example.com")
	w := httptest.NewRecorder()
	handler.Logout(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}
