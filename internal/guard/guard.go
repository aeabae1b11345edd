// Package guard chains the defense components into a single pre-flight
// check for authentication-sensitive requests. The order is fixed: field
// screening, the rate limit tiers (global, per-IP), account lockout state
// and the per-account tier, the per-endpoint tier, CSRF, and finally the
// IP block list. The first failing stage denies the request and no later
// stage runs, so a denied request consumes no quota beyond the stage that
// rejected it.
package guard

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bastionsec/bastion/internal/auth"
	"github.com/bastionsec/bastion/internal/models"
	"github.com/bastionsec/bastion/internal/services"
	"github.com/bastionsec/bastion/internal/validation"
)

// DenyReason identifies the stage that rejected a request.
type DenyReason string

const (
	DenyInputRejected    DenyReason = "input_rejected"
	DenyCSRF             DenyReason = "csrf_failed"
	DenyRateLimited      DenyReason = "rate_limited"
	DenyAccountLocked    DenyReason = "account_locked"
	DenyIPBlocked        DenyReason = "ip_blocked"
	DenyStoreUnavailable DenyReason = "store_unavailable"
)

// Field is one request field submitted for threat screening. Fields are
// checked in order and the first rejection stops the scan.
type Field struct {
	Name  string
	Value string
	Type  models.FieldType
}

// Request describes the authentication-sensitive request being gated.
// SubjectID is the account identifier when the endpoint names one (login,
// password change); it is normalized the same way the credential surface
// normalizes it. An empty SubjectID skips the account stage.
type Request struct {
	IPAddress   string
	Endpoint    string
	SubjectID   string
	SessionID   string
	UserAgent   string
	RequestID   string
	Fields      []Field
	RequireCSRF bool
	CSRFHeader  string
	CSRFCookie  string
}

// Decision is the single outcome handed to the HTTP layer. Exactly one of
// the detail pointers is set on a denial, matching the reason.
type Decision struct {
	Allowed    bool
	Reason     DenyReason
	Field      string
	Validation *models.ValidationAnalysis
	CSRF       *models.CSRFValidationResult
	RateLimit  *models.RateLimitResult
	Account    *models.AccountSecurityResult
	Block      *models.BlockRecord
	// RetryAfter is the client-facing wait in seconds, where the denying
	// stage can name one.
	RetryAfter int64
	// PasswordStrength is populated on allowed requests that carried a
	// password field, so the surface can echo composition feedback.
	PasswordStrength *models.PasswordStrength
}

// Err maps a denial to its sentinel error so handlers can dispatch with
// errors.Is.
func (d *Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case DenyInputRejected:
		return models.ErrInputRejected
	case DenyCSRF:
		return models.ErrCSRFValidationFailed
	case DenyRateLimited:
		return models.ErrRateLimitExceeded
	case DenyAccountLocked:
		return models.ErrAccountLocked
	case DenyIPBlocked:
		return models.ErrIPBlocked
	case DenyStoreUnavailable:
		return models.ErrSecurityStoreUnavailable
	}
	return models.ErrForbidden
}

// RequestGuard wires the defense components together. It owns no state of
// its own; every stage delegates to the service that owns the policy.
type RequestGuard struct {
	validator *validation.Validator
	csrf      *auth.CSRFGuard
	limiter   *services.RateLimitService
	security  *services.AccountSecurityService
	threat    *services.IPThreatService
	events    services.EventRecorder
	logger    *slog.Logger
}

// NewRequestGuard creates a new RequestGuard
func NewRequestGuard(validator *validation.Validator, csrfGuard *auth.CSRFGuard, limiter *services.RateLimitService, security *services.AccountSecurityService, threat *services.IPThreatService, events services.EventRecorder, logger *slog.Logger) *RequestGuard {
	return &RequestGuard{
		validator: validator,
		csrf:      csrfGuard,
		limiter:   limiter,
		security:  security,
		threat:    threat,
		events:    events,
		logger:    logger,
	}
}

// Check runs the full gate. Expected denials come back as a Decision, not
// an error; only the account stage can fail closed on a store fault, and
// that too is expressed as a Decision so the HTTP layer has one path.
func (g *RequestGuard) Check(ctx context.Context, req Request) *Decision {
	req.SubjectID = strings.ToLower(strings.TrimSpace(req.SubjectID))
	evtCtx := g.eventContext(req)

	if decision := g.screenFields(ctx, req, evtCtx); decision != nil {
		return decision
	}
	if decision := g.checkTier(ctx, models.TierGlobal, "global", req, evtCtx); decision != nil {
		return decision
	}
	if req.IPAddress != "" {
		if decision := g.checkTier(ctx, models.TierIP, req.IPAddress, req, evtCtx); decision != nil {
			return decision
		}
	}
	if req.SubjectID != "" {
		if decision := g.checkAccount(ctx, req); decision != nil {
			return decision
		}
		if decision := g.checkTier(ctx, models.TierAccount, req.SubjectID, req, evtCtx); decision != nil {
			return decision
		}
	}
	if req.Endpoint != "" {
		if decision := g.checkTier(ctx, models.TierEndpoint, g.endpointIdentifier(req), req, evtCtx); decision != nil {
			return decision
		}
	}
	if decision := g.checkCSRF(ctx, req, evtCtx); decision != nil {
		return decision
	}
	if decision := g.checkBlocklist(ctx, req); decision != nil {
		return decision
	}

	return g.allow(req)
}

// allow builds the passing Decision, scoring the first password field so
// callers that create or rotate credentials can surface the strength.
func (g *RequestGuard) allow(req Request) *Decision {
	decision := &Decision{Allowed: true}
	for _, field := range req.Fields {
		if field.Type == models.FieldPassword {
			strength := g.validator.ScorePassword(field.Value)
			decision.PasswordStrength = &strength
			break
		}
	}
	return decision
}

// screenFields rejects the request on the first field whose content
// matches an attack pattern or exceeds its length budget. The raw value is
// never logged; the event carries the category list and score instead.
func (g *RequestGuard) screenFields(ctx context.Context, req Request, evtCtx models.EventContext) *Decision {
	for _, field := range req.Fields {
		analysis := g.validator.Validate(field.Value, field.Type)
		if analysis.Valid {
			continue
		}

		if req.IPAddress != "" {
			g.threat.RecordEvent(ctx, req.IPAddress, models.ThreatEventSuspiciousPattern, evtCtx)
		}

		eventType := models.EventTypeInputSuspicious
		if analysis.Result == models.ValidationBlocked {
			eventType = models.EventTypeInputBlocked
		}
		g.events.Record(ctx, models.EventLevelWarning, models.CategoryInputValidation, eventType,
			"request field rejected",
			mergeMetadata(evtCtx, models.EventMetadata{
				"field":      field.Name,
				"threats":    strings.Join(analysis.Threats, ","),
				"risk_score": analysis.RiskScore,
			}))

		g.logger.WarnContext(ctx, "input rejected",
			slog.String("field", field.Name),
			slog.String("result", string(analysis.Result)),
			slog.Float64("risk_score", analysis.RiskScore))

		return &Decision{
			Reason:     DenyInputRejected,
			Field:      field.Name,
			Validation: &analysis,
		}
	}
	return nil
}

func (g *RequestGuard) checkCSRF(ctx context.Context, req Request, evtCtx models.EventContext) *Decision {
	if !req.RequireCSRF {
		return nil
	}

	result, err := g.csrf.Validate(ctx, req.CSRFHeader, req.CSRFCookie, auth.CSRFRequestContext{
		SubjectID: req.SubjectID,
		SessionID: req.SessionID,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		// Token state is unreadable; a forged request must not slip
		// through while the store is down.
		g.logger.ErrorContext(ctx, "csrf validation unavailable", slog.Any("error", err))
		return &Decision{Reason: DenyStoreUnavailable}
	}
	if result.Valid {
		return nil
	}

	if req.IPAddress != "" {
		g.threat.RecordEvent(ctx, req.IPAddress, models.ThreatEventSuspiciousPattern, evtCtx)
	}
	g.events.Record(ctx, models.EventLevelWarning, models.CategoryCSRFProtection, models.EventTypeCSRFFailure,
		"csrf validation failed",
		mergeMetadata(evtCtx, models.EventMetadata{"failure_code": result.FailureCode}))

	return &Decision{
		Reason: DenyCSRF,
		CSRF:   &result,
	}
}

func (g *RequestGuard) checkTier(ctx context.Context, tier models.RateLimitTier, identifier string, req Request, evtCtx models.EventContext) *Decision {
	result, err := g.limiter.Check(ctx, tier, identifier)
	if err != nil {
		// The limiter degrades internally; an error here is unexpected
		// but must not take the gate down with it.
		g.logger.ErrorContext(ctx, "rate limit check failed",
			slog.String("tier", string(tier)),
			slog.Any("error", err))
		return nil
	}
	if result.Allowed {
		return nil
	}

	if req.IPAddress != "" {
		g.threat.RecordEvent(ctx, req.IPAddress, models.ThreatEventRateLimitViolation, evtCtx)
	}
	g.events.Record(ctx, models.EventLevelWarning, models.CategoryRateLimiting, models.EventTypeRateLimitExceeded,
		"rate limit exceeded",
		mergeMetadata(evtCtx, models.EventMetadata{
			"tier":       string(tier),
			"identifier": identifier,
		}))

	return &Decision{
		Reason:     DenyRateLimited,
		RateLimit:  &result,
		RetryAfter: result.SecondsToReset,
	}
}

// checkAccount consults lockout state for endpoints that name a subject.
// Account security is the one stage that fails closed: if the store cannot
// be read the request is denied rather than risking a brute-force window.
func (g *RequestGuard) checkAccount(ctx context.Context, req Request) *Decision {
	if req.SubjectID == "" {
		return nil
	}

	status, err := g.security.Status(ctx, req.SubjectID)
	if err != nil {
		return &Decision{Reason: DenyStoreUnavailable}
	}
	if status.Status != models.StatusLocked {
		return nil
	}

	return &Decision{
		Reason:     DenyAccountLocked,
		Account:    &status,
		RetryAfter: status.SecondsToUnlock,
	}
}

func (g *RequestGuard) checkBlocklist(ctx context.Context, req Request) *Decision {
	if req.IPAddress == "" {
		return nil
	}

	block := g.threat.IsBlocked(ctx, req.IPAddress)
	if block == nil {
		return nil
	}

	retryAfter := int64(time.Until(block.ExpiresAt).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}

	// Block creation was already recorded by the monitor; per-request
	// denials stay out of the event stream to keep it readable.
	g.logger.DebugContext(ctx, "request from blocked address",
		slog.String("ip", req.IPAddress),
		slog.String("reason", block.Reason))

	return &Decision{
		Reason:     DenyIPBlocked,
		Block:      block,
		RetryAfter: retryAfter,
	}
}

// endpointIdentifier scopes the endpoint tier per source address so one
// client cannot exhaust an endpoint's budget for everyone.
func (g *RequestGuard) endpointIdentifier(req Request) string {
	if req.IPAddress == "" {
		return req.Endpoint
	}
	return req.Endpoint + ":" + req.IPAddress
}

func (g *RequestGuard) eventContext(req Request) models.EventContext {
	evtCtx := models.EventContext{
		SubjectID: req.SubjectID,
		IPAddress: req.IPAddress,
		SessionID: req.SessionID,
		UserAgent: req.UserAgent,
		RequestID: req.RequestID,
	}
	if req.Endpoint != "" {
		evtCtx.Metadata = models.EventMetadata{"endpoint": req.Endpoint}
	}
	return evtCtx
}

func mergeMetadata(evtCtx models.EventContext, extra models.EventMetadata) models.EventContext {
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
