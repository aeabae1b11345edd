package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bastionsec/bastion/internal/auth"
	"github.com/bastionsec/bastion/internal/models"
	"github.com/bastionsec/bastion/internal/services"
	pkghttp "github.com/bastionsec/bastion/pkg/http"
)

// AdminServiceInterface defines the admin service contract
type AdminServiceInterface interface {
	SetupTOTP(ctx context.Context, adminID uuid.UUID) (*services.TOTPSetup, error)
	ConfirmTOTP(ctx context.Context, adminID uuid.UUID, code string) error
	VerifyStepUp(ctx context.Context, adminID uuid.UUID, code string) error
	Overview(ctx context.Context) *services.SecurityOverview
}

// AccountSecurityInterface exposes the account lockout admin operations
type AccountSecurityInterface interface {
	Status(ctx context.Context, subjectID string) (models.AccountSecurityResult, error)
	AdminUnlock(ctx context.Context, subjectID, actorID string) error
}

// RateLimitAdminInterface exposes the rate limit admin operations
type RateLimitAdminInterface interface {
	Reset(ctx context.Context, tier models.RateLimitTier, identifier, actorID string) error
}

// IPThreatInterface exposes the IP threat admin operations
type IPThreatInterface interface {
	Analyze(ctx context.Context, ip string) (models.IPThreatAnalysis, error)
	Block(ctx context.Context, ip, reason string, duration time.Duration, actorID string) (*models.BlockRecord, error)
	Unblock(ctx context.Context, ip, actorID string) error
}

// EventQueryInterface exposes the security log retrieval operations
type EventQueryInterface interface {
	Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)
	ExportJSON(ctx context.Context, filter models.EventFilter) ([]byte, error)
	ExportCSV(ctx context.Context, filter models.EventFilter) ([]byte, error)
}

// StepUpHeader carries the TOTP code for sensitive admin operations
const StepUpHeader = "X-Admin-OTP"

// AdminHandler handles the administrative security surface
type AdminHandler struct {
	admin        AdminServiceInterface
	security     AccountSecurityInterface
	threat       IPThreatInterface
	limiter      RateLimitAdminInterface
	events       EventQueryInterface
	totpRequired bool
}

// NewAdminHandler creates a new AdminHandler. When totpRequired is set,
// mutating operations demand a valid TOTP code in the step-up header.
func NewAdminHandler(admin AdminServiceInterface, security AccountSecurityInterface, threat IPThreatInterface, limiter RateLimitAdminInterface, events EventQueryInterface, totpRequired bool) *AdminHandler {
	return &AdminHandler{
		admin:        admin,
		security:     security,
		threat:       threat,
		limiter:      limiter,
		events:       events,
		totpRequired: totpRequired,
	}
}

// Request DTOs

// UnlockAccountRequest names the subject to unlock
type UnlockAccountRequest struct {
	SubjectID string `json:"subject_id" validate:"required,max=254"`
}

// BlockIPRequest describes a manual IP block. A zero duration selects the
// progressive schedule for the address.
type BlockIPRequest struct {
	IPAddress       string `json:"ip_address" validate:"required,ip"`
	Reason          string `json:"reason" validate:"required,max=200"`
	DurationSeconds int64  `json:"duration_seconds" validate:"gte=0,lte=2592000"`
}

// UnblockIPRequest names the address to unblock
type UnblockIPRequest struct {
	IPAddress string `json:"ip_address" validate:"required,ip"`
}

// ResetRateLimitRequest clears one tier counter for one identifier
type ResetRateLimitRequest struct {
	Tier       string `json:"tier" validate:"required,oneof=global ip account endpoint"`
	Identifier string `json:"identifier" validate:"required,max=254"`
}

// ConfirmTOTPRequest carries the first code after enrollment
type ConfirmTOTPRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// adminID resolves the acting administrator from the request context.
// Returns uuid.Nil after writing the response when the claims are absent
// or malformed.
func (h *AdminHandler) adminID(w http.ResponseWriter, r *http.Request) (uuid.UUID, *models.TokenClaims) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return uuid.Nil, nil
	}
	return id, claims
}

// requireStepUp enforces the TOTP step-up on mutating operations. Returns
// false after writing the response when verification fails.
func (h *AdminHandler) requireStepUp(w http.ResponseWriter, r *http.Request, adminID uuid.UUID) bool {
	if !h.totpRequired {
		return true
	}

	code := r.Header.Get(StepUpHeader)
	if code == "" {
		pkghttp.WriteUnauthorized(w, "Admin verification code required")
		return false
	}

	if err := h.admin.VerifyStepUp(r.Context(), adminID, code); err != nil {
		switch {
		case errors.Is(err, models.ErrForbidden):
			pkghttp.WriteForbidden(w, "TOTP enrollment required for this operation")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Invalid verification code")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return false
	}
	return true
}

// Overview returns the live security state for the dashboard
// @Summary Security overview
// @Security BearerAuth
// @Produce json
// @Success 200 {object} services.SecurityOverview
// @Failure 401 {object} ErrorResponse
// @Router /v1/admin/security/overview [get]
func (h *AdminHandler) Overview(w http.ResponseWriter, r *http.Request) {
	overview := h.admin.Overview(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(overview)
}

// AccountStatus reports the lockout state for one subject
// @Summary Account security status
// @Security BearerAuth
// @Param subject_id query string true "Subject identifier"
// @Produce json
// @Success 200 {object} models.AccountSecurityResult
// @Failure 400 {object} ErrorResponse
// @Router /v1/admin/security/accounts/status [get]
func (h *AdminHandler) AccountStatus(w http.ResponseWriter, r *http.Request) {
	subjectID := r.URL.Query().Get("subject_id")
	if subjectID == "" {
		pkghttp.WriteBadRequest(w, "subject_id is required")
		return
	}

	result, err := h.security.Status(r.Context(), subjectID)
	if err != nil {
		if errors.Is(err, models.ErrSecurityStoreUnavailable) {
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// UnlockAccount clears a lockout and its failure counter
// @Summary Unlock account
// @Security BearerAuth
// @Accept json
// @Param request body UnlockAccountRequest true "Unlock request"
// @Produce json
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /v1/admin/security/accounts/unlock [post]
func (h *AdminHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	adminID, claims := h.adminID(w, r)
	if claims == nil {
		return
	}
	if !h.requireStepUp(w, r, adminID) {
		return
	}

	var req UnlockAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.security.AdminUnlock(r.Context(), req.SubjectID, claims.Email); err != nil {
		if errors.Is(err, models.ErrSecurityStoreUnavailable) {
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AnalyzeIP returns the current threat analysis for an address
// @Summary Analyze IP
// @Security BearerAuth
// @Param ip path string true "IP address"
// @Produce json
// @Success 200 {object} models.IPThreatAnalysis
// @Failure 400 {object} ErrorResponse
// @Router /v1/admin/security/ip/{ip}/analysis [get]
func (h *AdminHandler) AnalyzeIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if ip == "" {
		pkghttp.WriteBadRequest(w, "ip is required")
		return
	}

	analysis, err := h.threat.Analyze(r.Context(), ip)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(analysis)
}

// BlockIP applies a manual block
// @Summary Block IP
// @Security BearerAuth
// @Accept json
// @Param request body BlockIPRequest true "Block request"
// @Produce json
// @Success 201 {object} models.BlockRecord
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /v1/admin/security/ip/block [post]
func (h *AdminHandler) BlockIP(w http.ResponseWriter, r *http.Request) {
	adminID, claims := h.adminID(w, r)
	if claims == nil {
		return
	}
	if !h.requireStepUp(w, r, adminID) {
		return
	}

	var req BlockIPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	record, err := h.threat.Block(r.Context(), req.IPAddress, req.Reason,
		time.Duration(req.DurationSeconds)*time.Second, claims.Email)
	if err != nil {
		if errors.Is(err, models.ErrSecurityStoreUnavailable) {
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, record)
}

// UnblockIP lifts an active block. Unblocking an address without one is a
// no-op.
// @Summary Unblock IP
// @Security BearerAuth
// @Accept json
// @Param request body UnblockIPRequest true "Unblock request"
// @Produce json
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /v1/admin/security/ip/unblock [post]
func (h *AdminHandler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	adminID, claims := h.adminID(w, r)
	if claims == nil {
		return
	}
	if !h.requireStepUp(w, r, adminID) {
		return
	}

	var req UnblockIPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.threat.Unblock(r.Context(), req.IPAddress, claims.Email); err != nil {
		if errors.Is(err, models.ErrSecurityStoreUnavailable) {
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ResetRateLimit clears one tier counter for one identifier
// @Summary Reset rate limit
// @Security BearerAuth
// @Accept json
// @Param request body ResetRateLimitRequest true "Reset request"
// @Produce json
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /v1/admin/security/rate-limits/reset [post]
func (h *AdminHandler) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	adminID, claims := h.adminID(w, r)
	if claims == nil {
		return
	}
	if !h.requireStepUp(w, r, adminID) {
		return
	}

	var req ResetRateLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.limiter.Reset(r.Context(), models.RateLimitTier(req.Tier), req.Identifier, claims.Email); err != nil {
		if errors.Is(err, models.ErrSecurityStoreUnavailable) {
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// QueryEvents retrieves security events matching the filter
// @Summary Query security events
// @Security BearerAuth
// @Param level query string false "Severity level"
// @Param category query string false "Event category"
// @Param subject_id query string false "Subject identifier"
// @Param ip query string false "IP address"
// @Param from query string false "Start time (RFC3339)"
// @Param to query string false "End time (RFC3339)"
// @Param limit query int false "Maximum results"
// @Produce json
// @Success 200 {array} models.SecurityEvent
// @Failure 400 {object} ErrorResponse
// @Router /v1/admin/security/events [get]
func (h *AdminHandler) QueryEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := eventFilterFromQuery(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.events.Query(r.Context(), filter)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// ExportEvents streams matching events as a JSON or CSV document
// @Summary Export security events
// @Security BearerAuth
// @Param format query string false "Export format (json or csv)"
// @Produce json
// @Success 200
// @Failure 400 {object} ErrorResponse
// @Router /v1/admin/security/events/export [get]
func (h *AdminHandler) ExportEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := eventFilterFromQuery(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	var (
		payload     []byte
		contentType string
		filename    string
	)
	switch format {
	case "json":
		payload, err = h.events.ExportJSON(r.Context(), filter)
		contentType = "application/json"
		filename = "security-events.json"
	case "csv":
		payload, err = h.events.ExportCSV(r.Context(), filter)
		contentType = "text/csv"
		filename = "security-events.csv"
	default:
		pkghttp.WriteBadRequest(w, "format must be one of: json, csv")
		return
	}
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// SetupTOTP begins TOTP enrollment for the acting administrator
// @Summary Begin TOTP enrollment
// @Security BearerAuth
// @Produce json
// @Success 200 {object} services.TOTPSetup
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /v1/admin/security/totp/setup [post]
func (h *AdminHandler) SetupTOTP(w http.ResponseWriter, r *http.Request) {
	adminID, claims := h.adminID(w, r)
	if claims == nil {
		return
	}

	setup, err := h.admin.SetupTOTP(r.Context(), adminID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "TOTP is already enrolled")
		case errors.Is(err, models.ErrForbidden):
			pkghttp.WriteForbidden(w, "forbidden")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "unauthorized")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(setup)
}

// ConfirmTOTP completes enrollment with a first valid code
// @Summary Confirm TOTP enrollment
// @Security BearerAuth
// @Accept json
// @Param request body ConfirmTOTPRequest true "Confirmation code"
// @Produce json
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /v1/admin/security/totp/confirm [post]
func (h *AdminHandler) ConfirmTOTP(w http.ResponseWriter, r *http.Request) {
	adminID, claims := h.adminID(w, r)
	if claims == nil {
		return
	}

	var req ConfirmTOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.admin.ConfirmTOTP(r.Context(), adminID, req.Code); err != nil {
		switch {
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "TOTP setup has not been started")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Invalid verification code")
		case errors.Is(err, models.ErrForbidden):
			pkghttp.WriteForbidden(w, "forbidden")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// eventFilterFromQuery builds an EventFilter from query parameters.
// Unknown level or category values are rejected rather than silently
// matching nothing.
func eventFilterFromQuery(r *http.Request) (models.EventFilter, error) {
	var filter models.EventFilter
	q := r.URL.Query()

	if level := q.Get("level"); level != "" {
		switch models.EventLevel(level) {
		case models.EventLevelDebug, models.EventLevelInfo, models.EventLevelWarning,
			models.EventLevelError, models.EventLevelCritical:
			filter.Level = models.EventLevel(level)
		default:
			return filter, errors.New("invalid level")
		}
	}

	if category := q.Get("category"); category != "" {
		switch models.EventCategory(category) {
		case models.CategoryAuthentication, models.CategoryInputValidation,
			models.CategoryRateLimiting, models.CategoryCSRFProtection,
			models.CategoryAccountSecurity, models.CategoryIPSecurity,
			models.CategoryAdministrative, models.CategorySystem:
			filter.Category = models.EventCategory(category)
		default:
			return filter, errors.New("invalid category")
		}
	}

	filter.SubjectID = q.Get("subject_id")
	filter.IPAddress = q.Get("ip")

	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return filter, errors.New("from must be RFC3339")
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return filter, errors.New("to must be RFC3339")
		}
		filter.To = t
	}

	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			return filter, errors.New("limit must be a positive integer")
		}
		filter.Limit = n
	}

	return filter, nil
}
