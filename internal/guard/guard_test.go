package guard_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionsec/bastion/internal/auth"
	"github.com/bastionsec/bastion/internal/config"
	"github.com/bastionsec/bastion/internal/guard"
	"github.com/bastionsec/bastion/internal/models"
	"github.com/bastionsec/bastion/internal/services"
	"github.com/bastionsec/bastion/internal/store"
	"github.com/bastionsec/bastion/internal/validation"
)

type guardDeps struct {
	guard         *guard.RequestGuard
	csrf          *auth.CSRFGuard
	security      *services.AccountSecurityService
	threat        *services.IPThreatService
	securityStore *services.MockSecurityStore
	recorder      *services.MockEventRecorder
}

func newTestGuard(t *testing.T) guardDeps {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	securityStore := services.NewMockSecurityStore()
	recorder := services.NewMockEventRecorder()

	limiter := services.NewRateLimitService(securityStore, config.RateLimitConfig{
		GlobalMax:      100,
		GlobalWindow:   time.Minute,
		IPMax:          5,
		IPWindow:       time.Minute,
		AccountMax:     10,
		AccountWindow:  30 * time.Minute,
		EndpointMax:    3,
		EndpointWindow: time.Minute,
		FallbackRPS:    50,
		FallbackBurst:  100,
	}, logger, recorder)

	security := services.NewAccountSecurityService(securityStore, config.AccountSecurityConfig{
		WarningThreshold:  3,
		MaxFailedAttempts: 5,
		FailureWindow:     30 * time.Minute,
		LockoutSchedule:   []time.Duration{5 * time.Minute, 15 * time.Minute, 30 * time.Minute, time.Hour},
		HistoryWindow:     24 * time.Hour,
	}, logger, recorder)

	threat := services.NewIPThreatService(securityStore, config.ThreatConfig{
		Window:        time.Hour,
		AutoBlock:     true,
		BlockSchedule: []time.Duration{5 * time.Minute, 15 * time.Minute, time.Hour},
		HistoryWindow: 24 * time.Hour,
	}, logger, recorder)

	csrfGuard := auth.NewCSRFGuard(securityStore, config.CSRFConfig{
		TokenTTL:    time.Hour,
		CookieName:  "csrf_token",
		HeaderName:  "X-CSRF-Token",
		CookiePath:  "/",
		BindContext: true,
	})

	g := guard.NewRequestGuard(validation.NewValidator(), csrfGuard, limiter, security, threat, recorder, logger)
	return guardDeps{
		guard:         g,
		csrf:          csrfGuard,
		security:      security,
		threat:        threat,
		securityStore: securityStore,
		recorder:      recorder,
	}
}

func TestRequestGuardCheck_AllowsCleanRequest(t *testing.T) {
	deps := newTestGuard(t)
	ctx := context.Background()

	token, _, err := deps.csrf.Issue(ctx, models.CSRFBinding{})
	require.NoError(t, err)

	decision := deps.guard.Check(ctx, guard.Request{
		IPAddress: "203.0.113.7",
		Endpoint:  "login",
		SubjectID: "alice@example.com",
		Fields: []guard.Field{
			{Name: "email", Value: "alice@example.com", Type: models.FieldEmail},
			{Name: "password", Value: "SecurePassword123!", Type: models.FieldPassword},
		},
		RequireCSRF: true,
		CSRFHeader:  token,
		CSRFCookie:  token,
	})

	require.True(t, decision.Allowed)
	assert.NoError(t, decision.Err())

	// A password field was screened, so the decision carries its score.
	require.NotNil(t, decision.PasswordStrength)
	assert.Greater(t, decision.PasswordStrength.Score, 0)

	// Each applicable tier consumed exactly one slot.
	count, err := deps.securityStore.Get(ctx, store.RateLimitKey(string(models.TierGlobal), "global"))
	assert.NoError(t, err)
	assert.Equal(t, "1", count)
	count, err = deps.securityStore.Get(ctx, store.RateLimitKey(string(models.TierIP), "203.0.113.7"))
	assert.NoError(t, err)
	assert.Equal(t, "1", count)
	count, err = deps.securityStore.Get(ctx, store.RateLimitKey(string(models.TierAccount), "alice@example.com"))
	assert.NoError(t, err)
	assert.Equal(t, "1", count)
	count, err = deps.securityStore.Get(ctx, store.RateLimitKey(string(models.TierEndpoint), "login:203.0.113.7"))
	assert.NoError(t, err)
	assert.Equal(t, "1", count)
}

func TestRequestGuardCheck_BlocksInjectionPayload(t *testing.T) {
	deps := newTestGuard(t)
	ctx := context.Background()

	decision := deps.guard.Check(ctx, guard.Request{
		IPAddress: "203.0.113.7",
		Endpoint:  "login",
		Fields: []guard.Field{
			{Name: "email", Value: `'; DROP TABLE users; --`, Type: models.FieldEmail},
		},
	})

	require.False(t, decision.Allowed)
	assert.Equal(t, guard.DenyInputRejected, decision.Reason)
	assert.Equal(t, "email", decision.Field)
	require.NotNil(t, decision.Validation)
	assert.Equal(t, models.ValidationBlocked, decision.Validation.Result)
	assert.Contains(t, decision.Validation.Threats, models.ThreatSQLInjection)
	assert.ErrorIs(t, decision.Err(), models.ErrInputRejected)

	blocked := deps.recorder.ByType(models.EventTypeInputBlocked)
	require.Len(t, blocked, 1)
	assert.Equal(t, "email", blocked[0].Context.Metadata["field"])

	// Screening runs before any quota is consumed.
	_, err := deps.securityStore.Get(ctx, store.RateLimitKey(string(models.TierGlobal), "global"))
	assert.ErrorIs(t, err, models.ErrNotFound)

	members, err := deps.securityStore.ZCard(ctx, store.ThreatEventsKey("203.0.113.7"))
	assert.NoError(t, err)
	assert.Equal(t, int64(1), members)
}

func TestRequestGuardCheck_SuspiciousInputDenied(t *testing.T) {
	deps := newTestGuard(t)

	decision := deps.guard.Check(context.Background(), guard.Request{
		IPAddress: "203.0.113.7",
		Fields: []guard.Field{
			{Name: "search", Value: "javascript:void(0)", Type: models.FieldSearch},
		},
	})

	require.False(t, decision.Allowed)
	assert.Equal(t, guard.DenyInputRejected, decision.Reason)
	require.NotNil(t, decision.Validation)
	assert.Equal(t, models.ValidationSuspicious, decision.Validation.Result)
	assert.Equal(t, 1, deps.recorder.CountByType(models.EventTypeInputSuspicious))
}

func TestRequestGuardCheck_RequiresValidCSRF(t *testing.T) {
	deps := newTestGuard(t)
	ctx := context.Background()

	decision := deps.guard.Check(ctx, guard.Request{
		IPAddress:   "203.0.113.7",
		RequireCSRF: true,
	})
	require.False(t, decision.Allowed)
	assert.Equal(t, guard.DenyCSRF, decision.Reason)
	require.NotNil(t, decision.CSRF)
	assert.Equal(t, models.CSRFFailureMissingTokens, decision.CSRF.FailureCode)
	assert.ErrorIs(t, decision.Err(), models.ErrCSRFValidationFailed)

	decision = deps.guard.Check(ctx, guard.Request{
		IPAddress:   "203.0.113.7",
		RequireCSRF: true,
		CSRFHeader:  "aaaa",
		CSRFCookie:  "bbbb",
	})
	require.NotNil(t, decision.CSRF)
	assert.Equal(t, models.CSRFFailureTokenMismatch, decision.CSRF.FailureCode)

	unknown := strings.Repeat("ab", 32)
	decision = deps.guard.Check(ctx, guard.Request{
		IPAddress:   "203.0.113.7",
		RequireCSRF: true,
		CSRFHeader:  unknown,
		CSRFCookie:  unknown,
	})
	require.NotNil(t, decision.CSRF)
	assert.Equal(t, models.CSRFFailureTokenNotFound, decision.CSRF.FailureCode)

	assert.Equal(t, 3, deps.recorder.CountByType(models.EventTypeCSRFFailure))

	// The tiers run before CSRF, so each failed attempt still spent quota.
	count, err := deps.securityStore.Get(ctx, store.RateLimitKey(string(models.TierGlobal), "global"))
	assert.NoError(t, err)
	assert.Equal(t, "3", count)
}

func TestRequestGuardCheck_RateLimitDeniesBeforeCSRF(t *testing.T) {
	deps := newTestGuard(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		decision := deps.guard.Check(ctx, guard.Request{IPAddress: "203.0.113.7"})
		require.True(t, decision.Allowed)
	}

	// The IP tier is exhausted and the CSRF pair is missing; the tier
	// denies first, so the client sees the throttle, not a CSRF error.
	decision := deps.guard.Check(ctx, guard.Request{
		IPAddress:   "203.0.113.7",
		RequireCSRF: true,
	})

	require.False(t, decision.Allowed)
	assert.Equal(t, guard.DenyRateLimited, decision.Reason)
	assert.Nil(t, decision.CSRF)
	assert.Equal(t, 0, deps.recorder.CountByType(models.EventTypeCSRFFailure))
}

func TestRequestGuardCheck_EnforcesIPTier(t *testing.T) {
	deps := newTestGuard(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		decision := deps.guard.Check(ctx, guard.Request{IPAddress: "203.0.113.7"})
		require.True(t, decision.Allowed)
	}

	decision := deps.guard.Check(ctx, guard.Request{IPAddress: "203.0.113.7"})

	require.False(t, decision.Allowed)
	assert.Equal(t, guard.DenyRateLimited, decision.Reason)
	require.NotNil(t, decision.RateLimit)
	assert.Equal(t, models.TierIP, decision.RateLimit.Tier)
	assert.Equal(t, int64(60), decision.RetryAfter)
	assert.ErrorIs(t, decision.Err(), models.ErrRateLimitExceeded)

	events := deps.recorder.ByType(models.EventTypeRateLimitExceeded)
	require.Len(t, events, 1)
	assert.Equal(t, "ip", events[0].Context.Metadata["tier"])

	members, err := deps.securityStore.ZCard(ctx, store.ThreatEventsKey("203.0.113.7"))
	assert.NoError(t, err)
	assert.Equal(t, int64(1), members)
}

func TestRequestGuardCheck_EnforcesAccountTier(t *testing.T) {
	deps := newTestGuard(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		decision := deps.guard.Check(ctx, guard.Request{SubjectID: "alice@example.com"})
		require.True(t, decision.Allowed, "attempt %d should pass", i+1)
	}

	decision := deps.guard.Check(ctx, guard.Request{SubjectID: "alice@example.com"})

	require.False(t, decision.Allowed)
	assert.Equal(t, guard.DenyRateLimited, decision.Reason)
	require.NotNil(t, decision.RateLimit)
	assert.Equal(t, models.TierAccount, decision.RateLimit.Tier)
	assert.Equal(t, "alice@example.com", decision.RateLimit.Identifier)
	assert.ErrorIs(t, decision.Err(), models.ErrRateLimitExceeded)

	events := deps.recorder.ByType(models.EventTypeRateLimitExceeded)
	require.Len(t, events, 1)
	assert.Equal(t, "account", events[0].Context.Metadata["tier"])

	// Another subject keeps its own budget.
	decision = deps.guard.Check(ctx, guard.Request{SubjectID: "bob@example.com"})
	assert.True(t, decision.Allowed)
}

func TestRequestGuardCheck_EndpointTierScopedPerIP(t *testing.T) {
	deps := newTestGuard(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision := deps.guard.Check(ctx, guard.Request{IPAddress: "203.0.113.7", Endpoint: "login"})
		require.True(t, decision.Allowed)
	}

	decision := deps.guard.Check(ctx, guard.Request{IPAddress: "203.0.113.7", Endpoint: "login"})
	require.False(t, decision.Allowed)
	assert.Equal(t, guard.DenyRateLimited, decision.Reason)
	require.NotNil(t, decision.RateLimit)
	assert.Equal(t, models.TierEndpoint, decision.RateLimit.Tier)
	assert.Equal(t, "login:203.0.113.7", decision.RateLimit.Identifier)

	// Another address keeps its own endpoint budget.
	decision = deps.guard.Check(ctx, guard.Request{IPAddress: "203.0.113.8", Endpoint: "login"})
	assert.True(t, decision.Allowed)
}

func TestRequestGuardCheck_DeniesLockedSubject(t *testing.T) {
	deps := newTestGuard(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := deps.security.RecordFailure(ctx, "alice@example.com", models.EventContext{})
		require.NoError(t, err)
	}

	decision := deps.guard.Check(ctx, guard.Request{
		IPAddress: "203.0.113.7",
		SubjectID: " Alice@Example.com ",
	})

	require.False(t, decision.Allowed)
	assert.Equal(t, guard.DenyAccountLocked, decision.Reason)
	require.NotNil(t, decision.Account)
	assert.Equal(t, int64(300), decision.Account.SecondsToUnlock)
	assert.Equal(t, int64(300), decision.RetryAfter)
	assert.ErrorIs(t, decision.Err(), models.ErrAccountLocked)
}

func TestRequestGuardCheck_FailsClosedOnAccountStoreFault(t *testing.T) {
	deps := newTestGuard(t)
	deps.securityStore.Err = errors.New("connection refused")

	decision := deps.guard.Check(context.Background(), guard.Request{
		IPAddress: "203.0.113.7",
		SubjectID: "alice@example.com",
	})

	require.False(t, decision.Allowed)
	assert.Equal(t, guard.DenyStoreUnavailable, decision.Reason)
	assert.ErrorIs(t, decision.Err(), models.ErrSecurityStoreUnavailable)

	// Global and IP tiers degraded open before the account stage denied.
	assert.Equal(t, 3, deps.recorder.CountByType(models.EventTypeDegradedMode))
}

func TestRequestGuardCheck_DeniesBlockedIP(t *testing.T) {
	deps := newTestGuard(t)
	ctx := context.Background()

	_, err := deps.threat.Block(ctx, "203.0.113.9", "manual_review", 10*time.Minute, "admin-1")
	require.NoError(t, err)

	decision := deps.guard.Check(ctx, guard.Request{IPAddress: "203.0.113.9"})

	require.False(t, decision.Allowed)
	assert.Equal(t, guard.DenyIPBlocked, decision.Reason)
	require.NotNil(t, decision.Block)
	assert.Equal(t, "manual_review", decision.Block.Reason)
	assert.Greater(t, decision.RetryAfter, int64(0))
	assert.LessOrEqual(t, decision.RetryAfter, int64(600))
	assert.ErrorIs(t, decision.Err(), models.ErrIPBlocked)

	// The block list is the last stage, so earlier tiers still consumed
	// quota for the denied request.
	count, err := deps.securityStore.Get(ctx, store.RateLimitKey(string(models.TierIP), "203.0.113.9"))
	assert.NoError(t, err)
	assert.Equal(t, "1", count)
}
