package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bastionsec/bastion/internal/auth"
	"github.com/bastionsec/bastion/internal/models"
	"github.com/bastionsec/bastion/internal/store"
)

// TOTPSetup carries enrollment material back to the administrator. The QR
// data URL is only populated outside production.
type TOTPSetup struct {
	Secret string `json:"secret"`
	QRCode string `json:"qr_code,omitempty"`
}

// SecurityOverview aggregates the live defense state for the admin
// dashboard.
type SecurityOverview struct {
	ActiveBlocks    []*models.BlockRecord   `json:"active_blocks"`
	LockedSubjects  []string                `json:"locked_subjects"`
	RecentCritical  []*models.SecurityEvent `json:"recent_critical"`
	RecentErrors    int                     `json:"recent_errors"`
	GeneratedAt     time.Time               `json:"generated_at"`
	StoreReachable  bool                    `json:"store_reachable"`
}

// AdminService backs the administrative surface: the TOTP step-up check
// required before destructive security operations (unlock, unblock,
// counter reset) and the aggregated security overview. TOTP secrets are
// stored AES-256-GCM encrypted; the last-used timestamp provides replay
// protection within the validation window.
type AdminService struct {
	repo     UserRepository
	totp     *auth.TOTPManager
	store    store.SecurityStore
	logs     *SecurityLogService
	events   EventRecorder
	logger   *slog.Logger
	exposeQR bool
}

// NewAdminService creates a new AdminService
func NewAdminService(repo UserRepository, totpManager *auth.TOTPManager, securityStore store.SecurityStore, logs *SecurityLogService, events EventRecorder, logger *slog.Logger, exposeQR bool) *AdminService {
	return &AdminService{
		repo:     repo,
		totp:     totpManager,
		store:    securityStore,
		logs:     logs,
		events:   events,
		logger:   logger,
		exposeQR: exposeQR,
	}
}

// SetupTOTP begins enrollment for an administrator. Re-running setup
// before confirmation replaces the pending secret; a confirmed enrollment
// cannot be silently replaced.
func (s *AdminService) SetupTOTP(ctx context.Context, adminID uuid.UUID) (*TOTPSetup, error) {
	user, err := s.fetchAdmin(ctx, adminID)
	if err != nil {
		return nil, err
	}
	if user.TOTPEnabled() {
		return nil, models.ErrConflict
	}

	encrypted, nonce, secret, qrDataURL, err := s.totp.GenerateSecretWithQR(user.Email)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate totp secret",
			slog.String("user_id", adminID.String()),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.repo.SaveTOTPSecret(ctx, adminID, encrypted, nonce); err != nil {
		s.logger.ErrorContext(ctx, "failed to store totp secret",
			slog.String("user_id", adminID.String()),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.events.Record(ctx, models.EventLevelInfo, models.CategoryAdministrative, models.EventTypeAdminAction,
		"totp enrollment started",
		models.EventContext{
			SubjectID: user.Email,
			Metadata:  models.EventMetadata{"action": "totp_setup"},
		})

	setup := &TOTPSetup{Secret: secret}
	if s.exposeQR {
		setup.QRCode = qrDataURL
	}
	return setup, nil
}

// ConfirmTOTP completes enrollment by validating a first code against the
// pending secret
func (s *AdminService) ConfirmTOTP(ctx context.Context, adminID uuid.UUID, code string) error {
	user, err := s.fetchAdmin(ctx, adminID)
	if err != nil {
		return err
	}
	if len(user.TOTPSecretEnc) == 0 {
		return models.ErrBadRequest
	}

	secret, err := s.totp.DecryptSecret(user.TOTPSecretEnc, user.TOTPSecretNonce)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to decrypt totp secret",
			slog.String("user_id", adminID.String()),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	valid, err := s.totp.ValidateTOTP(secret, code, user.TOTPLastUsedAt)
	if err != nil || !valid {
		return models.ErrUnauthorized
	}

	now := time.Now().UTC()
	if err := s.repo.ConfirmTOTP(ctx, adminID, now); err != nil {
		return models.ErrInternalServer
	}
	if err := s.repo.TouchTOTPUsage(ctx, adminID, now); err != nil {
		s.logger.WarnContext(ctx, "failed to record totp usage",
			slog.String("user_id", adminID.String()),
			slog.Any("error", err))
	}

	s.events.Record(ctx, models.EventLevelInfo, models.CategoryAdministrative, models.EventTypeAdminAction,
		"totp enrollment confirmed",
		models.EventContext{
			SubjectID: user.Email,
			Metadata:  models.EventMetadata{"action": "totp_confirm"},
		})

	return nil
}

// VerifyStepUp validates a TOTP code for a sensitive administrative
// operation. Codes are single use within the validation window.
func (s *AdminService) VerifyStepUp(ctx context.Context, adminID uuid.UUID, code string) error {
	user, err := s.fetchAdmin(ctx, adminID)
	if err != nil {
		return err
	}
	if !user.TOTPEnabled() {
		return models.ErrForbidden
	}

	secret, err := s.totp.DecryptSecret(user.TOTPSecretEnc, user.TOTPSecretNonce)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to decrypt totp secret",
			slog.String("user_id", adminID.String()),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	valid, err := s.totp.ValidateTOTP(secret, code, user.TOTPLastUsedAt)
	if err != nil || !valid {
		s.events.Record(ctx, models.EventLevelWarning, models.CategoryAdministrative, models.EventTypeAdminAction,
			"admin step-up verification failed",
			models.EventContext{
				SubjectID: user.Email,
				Metadata:  models.EventMetadata{"action": "step_up_failed"},
			})
		return models.ErrUnauthorized
	}

	if err := s.repo.TouchTOTPUsage(ctx, adminID, time.Now().UTC()); err != nil {
		s.logger.WarnContext(ctx, "failed to record totp usage",
			slog.String("user_id", adminID.String()),
			slog.Any("error", err))
	}

	return nil
}

// Overview assembles the live security state: active IP blocks, locked
// subjects and the recent critical feed. Partial store failures degrade
// the overview instead of failing it.
func (s *AdminService) Overview(ctx context.Context) *SecurityOverview {
	overview := &SecurityOverview{
		ActiveBlocks:   []*models.BlockRecord{},
		LockedSubjects: []string{},
		RecentCritical: []*models.SecurityEvent{},
		GeneratedAt:    time.Now().UTC(),
		StoreReachable: true,
	}

	blockKeys, err := s.store.Keys(ctx, "ipblock:*")
	if err != nil {
		s.logger.ErrorContext(ctx, "overview: failed to list blocks", slog.Any("error", err))
		overview.StoreReachable = false
	}
	for _, key := range blockKeys {
		payload, err := s.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var record models.BlockRecord
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			continue
		}
		overview.ActiveBlocks = append(overview.ActiveBlocks, &record)
	}

	lockKeys, err := s.store.Keys(ctx, "lock:*")
	if err != nil {
		s.logger.ErrorContext(ctx, "overview: failed to list lockouts", slog.Any("error", err))
		overview.StoreReachable = false
	}
	for _, key := range lockKeys {
		overview.LockedSubjects = append(overview.LockedSubjects, strings.TrimPrefix(key, "lock:"))
	}

	if critical, err := s.logs.Recent(ctx, models.EventLevelCritical, 10); err == nil {
		overview.RecentCritical = critical
	} else {
		overview.StoreReachable = false
	}
	if recentErrors, err := s.logs.Recent(ctx, models.EventLevelError, 100); err == nil {
		overview.RecentErrors = len(recentErrors)
	}

	return overview
}

func (s *AdminService) fetchAdmin(ctx context.Context, adminID uuid.UUID) (*models.User, error) {
	user, err := s.repo.GetByID(ctx, adminID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		return nil, models.ErrInternalServer
	}
	if user.Role != models.RoleAdmin {
		return nil, models.ErrForbidden
	}
	return user, nil
}
