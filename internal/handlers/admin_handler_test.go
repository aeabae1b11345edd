package handlers_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionsec/bastion/internal/handlers"
	"github.com/bastionsec/bastion/internal/models"
	"github.com/bastionsec/bastion/internal/services"
)

type adminMocks struct {
	admin    *handlers.MockAdminService
	security *handlers.MockAccountSecurityService
	threat   *handlers.MockIPThreatService
	limiter  *handlers.MockRateLimitService
	events   *handlers.MockSecurityLogService
}

func newAdminHandler(mocks adminMocks, totpRequired bool) *handlers.AdminHandler {
	if mocks.admin == nil {
		mocks.admin = &handlers.MockAdminService{}
	}
	if mocks.security == nil {
		mocks.security = &handlers.MockAccountSecurityService{}
	}
	if mocks.threat == nil {
		mocks.threat = &handlers.MockIPThreatService{}
	}
	if mocks.limiter == nil {
		mocks.limiter = &handlers.MockRateLimitService{}
	}
	if mocks.events == nil {
		mocks.events = &handlers.MockSecurityLogService{}
	}
	return handlers.NewAdminHandler(mocks.admin, mocks.security, mocks.threat, mocks.limiter, mocks.events, totpRequired)
}

func TestAdminOverview(t *testing.T) {
	mocks := adminMocks{admin: &handlers.MockAdminService{
		OverviewFunc: func(ctx context.Context) *services.SecurityOverview {
			return &services.SecurityOverview{
				LockedSubjects: []string{"locked@example.com"},
				RecentErrors:   3,
				GeneratedAt:    time.Now().UTC(),
				StoreReachable: true,
			}
		},
	}}
	handler := newAdminHandler(mocks, false)

	req := handlers.NewTestRequest(t, "GET", "/v1/admin/security/overview", nil)
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	w := httptest.NewRecorder()
	handler.Overview(w, req)

	var resp services.SecurityOverview
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, []string{"locked@example.com"}, resp.LockedSubjects)
	assert.Equal(t, 3, resp.RecentErrors)
}

func TestAdminUnlockAccount_Success(t *testing.T) {
	var gotSubject, gotActor string
	mocks := adminMocks{security: &handlers.MockAccountSecurityService{
		AdminUnlockFunc: func(ctx context.Context, subjectID, actorID string) error {
			gotSubject, gotActor = subjectID, actorID
			return nil
		},
	}}
	handler := newAdminHandler(mocks, false)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/security/accounts/unlock", handlers.UnlockAccountRequest{
		SubjectID: "locked@example.com",
	})
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	w := httptest.NewRecorder()
	handler.UnlockAccount(w, req)

	assert.Equal(t, 204, w.Code)
	assert.Equal(t, "locked@example.com", gotSubject)
	assert.Equal(t, "admin@example.com", gotActor, "the audit actor is the admin's subject id")
}

func TestAdminUnlockAccount_StepUpRequired(t *testing.T) {
	unlocked := false
	mocks := adminMocks{security: &handlers.MockAccountSecurityService{
		AdminUnlockFunc: func(ctx context.Context, subjectID, actorID string) error {
			unlocked = true
			return nil
		},
	}}
	handler := newAdminHandler(mocks, true)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/security/accounts/unlock", handlers.UnlockAccountRequest{
		SubjectID: "locked@example.com",
	})
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	w := httptest.NewRecorder()
	handler.UnlockAccount(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
	assert.False(t, unlocked, "unlock must not run without step-up")
}

func TestAdminUnlockAccount_StepUpInvalidCode(t *testing.T) {
	mocks := adminMocks{admin: &handlers.MockAdminService{
		VerifyStepUpFunc: func(ctx context.Context, adminID uuid.UUID, code string) error {
			return models.ErrUnauthorized
		},
	}}
	handler := newAdminHandler(mocks, true)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/security/accounts/unlock", handlers.UnlockAccountRequest{
		SubjectID: "locked@example.com",
	})
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	req.Header.Set(handlers.StepUpHeader, "000000")
	w := httptest.NewRecorder()
	handler.UnlockAccount(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestAdminUnlockAccount_StepUpSatisfied(t *testing.T) {
	var gotCode string
	mocks := adminMocks{
		admin: &handlers.MockAdminService{
			VerifyStepUpFunc: func(ctx context.Context, adminID uuid.UUID, code string) error {
				gotCode = code
				return nil
			},
		},
		security: &handlers.MockAccountSecurityService{},
	}
	handler := newAdminHandler(mocks, true)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/security/accounts/unlock", handlers.UnlockAccountRequest{
		SubjectID: "locked@example.com",
	})
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	req.Header.Set(handlers.StepUpHeader, "123456")
	w := httptest.NewRecorder()
	handler.UnlockAccount(w, req)

	assert.Equal(t, 204, w.Code)
	assert.Equal(t, "123456", gotCode)
}

func TestAdminUnlockAccount_NotEnrolled(t *testing.T) {
	mocks := adminMocks{admin: &handlers.MockAdminService{
		VerifyStepUpFunc: func(ctx context.Context, adminID uuid.UUID, code string) error {
			return models.ErrForbidden
		},
	}}
	handler := newAdminHandler(mocks, true)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/security/accounts/unlock", handlers.UnlockAccountRequest{
		SubjectID: "locked@example.com",
	})
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	req.Header.Set(handlers.StepUpHeader, "123456")
	w := httptest.NewRecorder()
	handler.UnlockAccount(w, req)

	handlers.AssertErrorResponse(t, w, 403, "forbidden")
}

func TestAdminAccountStatus(t *testing.T) {
	mocks := adminMocks{security: &handlers.MockAccountSecurityService{
		StatusFunc: func(ctx context.Context, subjectID string) (models.AccountSecurityResult, error) {
			return models.AccountSecurityResult{Status: models.StatusLocked, FailedAttempts: 5}, nil
		},
	}}
	handler := newAdminHandler(mocks, false)

	req := handlers.NewTestRequest(t, "GET", "/v1/admin/security/accounts/status?subject_id=locked@example.com", nil)
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	w := httptest.NewRecorder()
	handler.AccountStatus(w, req)

	var resp models.AccountSecurityResult
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, models.StatusLocked, resp.Status)
}

func TestAdminAccountStatus_MissingSubject(t *testing.T) {
	handler := newAdminHandler(adminMocks{}, false)

	req := handlers.NewTestRequest(t, "GET", "/v1/admin/security/accounts/status", nil)
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	w := httptest.NewRecorder()
	handler.AccountStatus(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestAdminBlockIP(t *testing.T) {
	var gotDuration time.Duration
	mocks := adminMocks{threat: &handlers.MockIPThreatService{
		BlockFunc: func(ctx context.Context, ip, reason string, duration time.Duration, actorID string) (*models.BlockRecord, error) {
			gotDuration = duration
			return &models.BlockRecord{IPAddress: ip, Reason: reason, DurationSecs: int64(duration.Seconds())}, nil
		},
	}}
	handler := newAdminHandler(mocks, false)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/security/ip/block", handlers.BlockIPRequest{
		IPAddress:       "203.0.113.50",
		Reason:          "manual review",
		DurationSeconds: 3600,
	})
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	w := httptest.NewRecorder()
	handler.BlockIP(w, req)

	var record models.BlockRecord
	handlers.AssertJSONResponse(t, w, 201, &record)
	assert.Equal(t, "203.0.113.50", record.IPAddress)
	assert.Equal(t, time.Hour, gotDuration)
}

func TestAdminBlockIP_RejectsInvalidAddress(t *testing.T) {
	handler := newAdminHandler(adminMocks{}, false)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/security/ip/block", handlers.BlockIPRequest{
		IPAddress: "not-an-ip",
		Reason:    "manual review",
	})
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	w := httptest.NewRecorder()
	handler.BlockIP(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestAdminUnblockIP(t *testing.T) {
	var gotIP string
	mocks := adminMocks{threat: &handlers.MockIPThreatService{
		UnblockFunc: func(ctx context.Context, ip, actorID string) error {
			gotIP = ip
			return nil
		},
	}}
	handler := newAdminHandler(mocks, false)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/security/ip/unblock", handlers.UnblockIPRequest{
		IPAddress: "203.0.113.50",
	})
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	w := httptest.NewRecorder()
	handler.UnblockIP(w, req)

	assert.Equal(t, 204, w.Code)
	assert.Equal(t, "203.0.113.50", gotIP)
}

func TestAdminAnalyzeIP(t *testing.T) {
	mocks := adminMocks{threat: &handlers.MockIPThreatService{
		AnalyzeFunc: func(ctx context.Context, ip string) (models.IPThreatAnalysis, error) {
			return models.IPThreatAnalysis{IPAddress: ip, RiskScore: 42, ThreatLevel: models.ThreatLevelHigh}, nil
		},
	}}
	handler := newAdminHandler(mocks, false)

	req := handlers.NewTestRequest(t, "GET", "/v1/admin/security/ip/203.0.113.50/analysis", nil)
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	req = handlers.WithChiRouteContext(req, map[string]string{"ip": "203.0.113.50"})
	w := httptest.NewRecorder()
	handler.AnalyzeIP(w, req)

	var analysis models.IPThreatAnalysis
	handlers.AssertJSONResponse(t, w, 200, &analysis)
	assert.Equal(t, "203.0.113.50", analysis.IPAddress)
	assert.Equal(t, models.ThreatLevelHigh, analysis.ThreatLevel)
}

func TestAdminResetRateLimit(t *testing.T) {
	var gotTier models.RateLimitTier
	var gotIdentifier string
	mocks := adminMocks{limiter: &handlers.MockRateLimitService{
		ResetFunc: func(ctx context.Context, tier models.RateLimitTier, identifier, actorID string) error {
			gotTier, gotIdentifier = tier, identifier
			return nil
		},
	}}
	handler := newAdminHandler(mocks, false)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/security/rate-limits/reset", handlers.ResetRateLimitRequest{
		Tier:       "ip",
		Identifier: "203.0.113.50",
	})
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	w := httptest.NewRecorder()
	handler.ResetRateLimit(w, req)

	assert.Equal(t, 204, w.Code)
	assert.Equal(t, models.TierIP, gotTier)
	assert.Equal(t, "203.0.113.50", gotIdentifier)
}

func TestAdminResetRateLimit_RejectsUnknownTier(t *testing.T) {
	handler := newAdminHandler(adminMocks{}, false)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/security/rate-limits/reset", handlers.ResetRateLimitRequest{
		Tier:       "bogus",
		Identifier: "203.0.113.50",
	})
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	w := httptest.NewRecorder()
	handler.ResetRateLimit(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestAdminQueryEvents(t *testing.T) {
	var gotFilter models.EventFilter
	mocks := adminMocks{events: &handlers.MockSecurityLogService{
		QueryFunc: func(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
			gotFilter = filter
			return []*models.SecurityEvent{{EventType: models.EventTypeLoginFailed}}, nil
		},
	}}
	handler := newAdminHandler(mocks, false)

	req := handlers.NewTestRequest(t, "GET",
		"/v1/admin/security/events?level=warning&category=authentication&subject_id=user@example.com&limit=50", nil)
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	w := httptest.NewRecorder()
	handler.QueryEvents(w, req)

	var events []*models.SecurityEvent
	handlers.AssertJSONResponse(t, w, 200, &events)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventLevelWarning, gotFilter.Level)
	assert.Equal(t, models.CategoryAuthentication, gotFilter.Category)
	assert.Equal(t, "user@example.com", gotFilter.SubjectID)
	assert.Equal(t, 50, gotFilter.Limit)
}

func TestAdminQueryEvents_RejectsUnknownLevel(t *testing.T) {
	handler := newAdminHandler(adminMocks{}, false)

	req := handlers.NewTestRequest(t, "GET", "/v1/admin/security/events?level=noisy", nil)
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	w := httptest.NewRecorder()
	handler.QueryEvents(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestAdminQueryEvents_ParsesTimeRange(t *testing.T) {
	var gotFilter models.EventFilter
	mocks := adminMocks{events: &handlers.MockSecurityLogService{
		QueryFunc: func(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
			gotFilter = filter
			return nil, nil
		},
	}}
	handler := newAdminHandler(mocks, false)

	req := handlers.NewTestRequest(t, "GET",
		"/v1/admin/security/events?from=2026-08-01T00:00:00Z&to=2026-08-02T00:00:00Z", nil)
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	w := httptest.NewRecorder()
	handler.QueryEvents(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), gotFilter.From)
	assert.Equal(t, time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC), gotFilter.To)
}

func TestAdminExportEvents_CSV(t *testing.T) {
	mocks := adminMocks{events: &handlers.MockSecurityLogService{
		ExportCSVFunc: func(ctx context.Context, filter models.EventFilter) ([]byte, error) {
			return []byte("event_id,timestamp\n"), nil
		},
	}}
	handler := newAdminHandler(mocks, false)

	req := handlers.NewTestRequest(t, "GET", "/v1/admin/security/events/export?format=csv", nil)
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	w := httptest.NewRecorder()
	handler.ExportEvents(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "security-events.csv")
	assert.Contains(t, w.Body.String(), "event_id")
}

func TestAdminExportEvents_DefaultsToJSON(t *testing.T) {
	mocks := adminMocks{events: &handlers.MockSecurityLogService{
		ExportJSONFunc: func(ctx context.Context, filter models.EventFilter) ([]byte, error) {
			return []byte(`[{"type":"login_failed"}]`), nil
		},
	}}
	handler := newAdminHandler(mocks, false)

	req := handlers.NewTestRequest(t, "GET", "/v1/admin/security/events/export", nil)
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	w := httptest.NewRecorder()
	handler.ExportEvents(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestAdminExportEvents_RejectsUnknownFormat(t *testing.T) {
	handler := newAdminHandler(adminMocks{}, false)

	req := handlers.NewTestRequest(t, "GET", "/v1/admin/security/events/export?format=xml", nil)
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	w := httptest.NewRecorder()
	handler.ExportEvents(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestAdminSetupTOTP(t *testing.T) {
	mocks := adminMocks{admin: &handlers.MockAdminService{
		SetupTOTPFunc: func(ctx context.Context, adminID uuid.UUID) (*services.TOTPSetup, error) {
			return &services.TOTPSetup{Secret: "JBSWY3DPEHPK3PXP", QRCode: "data:image/png;base64,xyz"}, nil
		},
	}}
	handler := newAdminHandler(mocks, false)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/security/totp/setup", nil)
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	w := httptest.NewRecorder()
	handler.SetupTOTP(w, req)

	var setup services.TOTPSetup
	handlers.AssertJSONResponse(t, w, 200, &setup)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", setup.Secret)
}

func TestAdminSetupTOTP_AlreadyEnrolled(t *testing.T) {
	mocks := adminMocks{admin: &handlers.MockAdminService{
		SetupTOTPFunc: func(ctx context.Context, adminID uuid.UUID) (*services.TOTPSetup, error) {
			return nil, models.ErrConflict
		},
	}}
	handler := newAdminHandler(mocks, false)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/security/totp/setup", nil)
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	w := httptest.NewRecorder()
	handler.SetupTOTP(w, req)

	handlers.AssertErrorResponse(t, w, 409, "conflict")
}

func TestAdminConfirmTOTP(t *testing.T) {
	var gotCode string
	mocks := adminMocks{admin: &handlers.MockAdminService{
		ConfirmTOTPFunc: func(ctx context.Context, adminID uuid.UUID, code string) error {
			gotCode = code
			return nil
		},
	}}
	handler := newAdminHandler(mocks, false)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/security/totp/confirm", handlers.ConfirmTOTPRequest{
		Code: "123456",
	})
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	w := httptest.NewRecorder()
	handler.ConfirmTOTP(w, req)

	assert.Equal(t, 204, w.Code)
	assert.Equal(t, "123456", gotCode)
}

func TestAdminConfirmTOTP_InvalidCode(t *testing.T) {
	mocks := adminMocks{admin: &handlers.MockAdminService{
		ConfirmTOTPFunc: func(ctx context.Context, adminID uuid.UUID, code string) error {
			return models.ErrUnauthorized
		},
	}}
	handler := newAdminHandler(mocks, false)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/security/totp/confirm", handlers.ConfirmTOTPRequest{
		Code: "999999",
	})
	req = handlers.WithAdminContext(req, uuid.New().String(), "admin@example.com")
	w := httptest.NewRecorder()
	handler.ConfirmTOTP(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestAdminMutations_RejectUnauthenticated(t *testing.T) {
	handler := newAdminHandler(adminMocks{}, false)

	req := handlers.NewTestRequest(t, "POST", "/v1/admin/security/accounts/unlock", handlers.UnlockAccountRequest{
		SubjectID: "a@example.com",
	})
	w := httptest.NewRecorder()
	handler.UnlockAccount(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}
