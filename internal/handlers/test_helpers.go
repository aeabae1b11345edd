package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/bastionsec/bastion/internal/auth"
	"github.com/bastionsec/bastion/internal/guard"
	"github.com/bastionsec/bastion/internal/models"
	"github.com/bastionsec/bastion/internal/services"
	pkghttp "github.com/bastionsec/bastion/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Email:  email,
		Type:   "access",
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// WithAdminContext adds admin user claims to request context
func WithAdminContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Email:  email,
		Role:   models.RoleAdmin,
		Type:   "access",
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockScreener implements RequestScreener for testing. The zero value
// allows every request.
type MockScreener struct {
	CheckFunc func(ctx context.Context, req guard.Request) *guard.Decision
	Requests  []guard.Request
}

func (m *MockScreener) Check(ctx context.Context, req guard.Request) *guard.Decision {
	m.Requests = append(m.Requests, req)
	if m.CheckFunc == nil {
		return &guard.Decision{Allowed: true}
	}
	return m.CheckFunc(ctx, req)
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc          func(ctx context.Context, email, password string, evtCtx models.EventContext) (*services.AuthResponse, error)
	RegisterFunc       func(ctx context.Context, email, password, name string, evtCtx models.EventContext) (*services.AuthResponse, error)
	RefreshTokenFunc   func(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	ChangePasswordFunc func(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string, evtCtx models.EventContext) error
	LogoutFunc         func(ctx context.Context, accessToken string, evtCtx models.EventContext) error
}

func (m *MockAuthService) Login(ctx context.Context, email, password string, evtCtx models.EventContext) (*services.AuthResponse, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, email, password, evtCtx)
}

func (m *MockAuthService) Register(ctx context.Context, email, password, name string, evtCtx models.EventContext) (*services.AuthResponse, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, email, password, name, evtCtx)
}

func (m *MockAuthService) RefreshToken(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
	if m.RefreshTokenFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.RefreshTokenFunc(ctx, refreshToken)
}

func (m *MockAuthService) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string, evtCtx models.EventContext) error {
	if m.ChangePasswordFunc == nil {
		return nil
	}
	return m.ChangePasswordFunc(ctx, userID, currentPassword, newPassword, evtCtx)
}

func (m *MockAuthService) Logout(ctx context.Context, accessToken string, evtCtx models.EventContext) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, accessToken, evtCtx)
}

// MockAccountSecurityService implements AccountSecurityInterface for testing
type MockAccountSecurityService struct {
	StatusFunc      func(ctx context.Context, subjectID string) (models.AccountSecurityResult, error)
	AdminUnlockFunc func(ctx context.Context, subjectID, actorID string) error
}

func (m *MockAccountSecurityService) Status(ctx context.Context, subjectID string) (models.AccountSecurityResult, error) {
	if m.StatusFunc == nil {
		return models.AccountSecurityResult{Status: models.StatusNormal}, nil
	}
	return m.StatusFunc(ctx, subjectID)
}

func (m *MockAccountSecurityService) AdminUnlock(ctx context.Context, subjectID, actorID string) error {
	if m.AdminUnlockFunc == nil {
		return nil
	}
	return m.AdminUnlockFunc(ctx, subjectID, actorID)
}

// MockRateLimitService implements RateLimitAdminInterface for testing
type MockRateLimitService struct {
	ResetFunc func(ctx context.Context, tier models.RateLimitTier, identifier, actorID string) error
}

func (m *MockRateLimitService) Reset(ctx context.Context, tier models.RateLimitTier, identifier, actorID string) error {
	if m.ResetFunc == nil {
		return nil
	}
	return m.ResetFunc(ctx, tier, identifier, actorID)
}

// MockIPThreatService implements IPThreatInterface for testing
type MockIPThreatService struct {
	AnalyzeFunc func(ctx context.Context, ip string) (models.IPThreatAnalysis, error)
	BlockFunc   func(ctx context.Context, ip, reason string, duration time.Duration, actorID string) (*models.BlockRecord, error)
	UnblockFunc func(ctx context.Context, ip, actorID string) error
}

func (m *MockIPThreatService) Analyze(ctx context.Context, ip string) (models.IPThreatAnalysis, error) {
	if m.AnalyzeFunc == nil {
		return models.IPThreatAnalysis{IPAddress: ip, ThreatLevel: models.ThreatLevelLow}, nil
	}
	return m.AnalyzeFunc(ctx, ip)
}

func (m *MockIPThreatService) Block(ctx context.Context, ip, reason string, duration time.Duration, actorID string) (*models.BlockRecord, error) {
	if m.BlockFunc == nil {
		return &models.BlockRecord{IPAddress: ip, Reason: reason}, nil
	}
	return m.BlockFunc(ctx, ip, reason, duration, actorID)
}

func (m *MockIPThreatService) Unblock(ctx context.Context, ip, actorID string) error {
	if m.UnblockFunc == nil {
		return nil
	}
	return m.UnblockFunc(ctx, ip, actorID)
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	SetupTOTPFunc    func(ctx context.Context, adminID uuid.UUID) (*services.TOTPSetup, error)
	ConfirmTOTPFunc  func(ctx context.Context, adminID uuid.UUID, code string) error
	VerifyStepUpFunc func(ctx context.Context, adminID uuid.UUID, code string) error
	OverviewFunc     func(ctx context.Context) *services.SecurityOverview
}

func (m *MockAdminService) SetupTOTP(ctx context.Context, adminID uuid.UUID) (*services.TOTPSetup, error) {
	if m.SetupTOTPFunc == nil {
		return &services.TOTPSetup{Secret: "JBSWY3DPEHPK3PXP"}, nil
	}
	return m.SetupTOTPFunc(ctx, adminID)
}

func (m *MockAdminService) ConfirmTOTP(ctx context.Context, adminID uuid.UUID, code string) error {
	if m.ConfirmTOTPFunc == nil {
		return nil
	}
	return m.ConfirmTOTPFunc(ctx, adminID, code)
}

func (m *MockAdminService) VerifyStepUp(ctx context.Context, adminID uuid.UUID, code string) error {
	if m.VerifyStepUpFunc == nil {
		return nil
	}
	return m.VerifyStepUpFunc(ctx, adminID, code)
}

func (m *MockAdminService) Overview(ctx context.Context) *services.SecurityOverview {
	if m.OverviewFunc == nil {
		return &services.SecurityOverview{GeneratedAt: time.Now().UTC(), StoreReachable: true}
	}
	return m.OverviewFunc(ctx)
}

// MockSecurityLogService implements EventQueryInterface for testing
type MockSecurityLogService struct {
	QueryFunc      func(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)
	ExportJSONFunc func(ctx context.Context, filter models.EventFilter) ([]byte, error)
	ExportCSVFunc  func(ctx context.Context, filter models.EventFilter) ([]byte, error)
}

func (m *MockSecurityLogService) Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	if m.QueryFunc == nil {
		return []*models.SecurityEvent{}, nil
	}
	return m.QueryFunc(ctx, filter)
}

func (m *MockSecurityLogService) ExportJSON(ctx context.Context, filter models.EventFilter) ([]byte, error) {
	if m.ExportJSONFunc == nil {
		return []byte("[]"), nil
	}
	return m.ExportJSONFunc(ctx, filter)
}

func (m *MockSecurityLogService) ExportCSV(ctx context.Context, filter models.EventFilter) ([]byte, error) {
	if m.ExportCSVFunc == nil {
		return []byte(""), nil
	}
	return m.ExportCSVFunc(ctx, filter)
}

// MockUserService implements UserServiceInterface for testing
type MockUserService struct {
	GetByIDFunc func(ctx context.Context, id uuid.UUID) (*models.User, error)
}

func (m *MockUserService) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if m.GetByIDFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetByIDFunc(ctx, id)
}

// WithChiRouteContext adds chi URL parameters to request context for testing
// This helper allows tests to set URL parameters that would normally be extracted
// by the Chi router from the URL path.
//
// Example usage:
//
//	req := httptest.NewRequest("POST", "/v1/admin/security/ip/203.0.113.5/unblock", nil)
//	req = WithChiRouteContext(req, map[string]string{
//	    "ip": "203.0.113.5",
//	})
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
