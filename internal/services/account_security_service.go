package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bastionsec/bastion/internal/config"
	"github.com/bastionsec/bastion/internal/models"
	"github.com/bastionsec/bastion/internal/store"
)

// AccountSecurityService tracks failed authentication attempts per subject
// and escalates through warning into progressive lockout. Unlike rate
// limiting this component fails closed: when the store cannot be read the
// subject's status is Unknown and callers must deny.
//
// Failure counters live in a rolling window; the counter survives a
// lockout, so the first failure after an expired lockout re-breaches the
// threshold and escalates immediately. Lockout history is tracked
// separately and determines the schedule step for the next lockout.
type AccountSecurityService struct {
	store  store.SecurityStore
	config config.AccountSecurityConfig
	logger *slog.Logger
	events EventRecorder
}

// NewAccountSecurityService creates a new AccountSecurityService
func NewAccountSecurityService(securityStore store.SecurityStore, cfg config.AccountSecurityConfig, logger *slog.Logger, events EventRecorder) *AccountSecurityService {
	return &AccountSecurityService{
		store:  securityStore,
		config: cfg,
		logger: logger,
		events: events,
	}
}

// RecordFailure registers a failed authentication attempt and returns the
// subject's resulting status. Crossing the warning threshold emits a
// warning event once; breaching the maximum creates a lockout whose
// duration escalates with the subject's prior lockouts in the tracking
// window.
func (s *AccountSecurityService) RecordFailure(ctx context.Context, subjectID string, evtCtx models.EventContext) (models.AccountSecurityResult, error) {
	if locked, result, err := s.activeLockout(ctx, subjectID); err != nil {
		return s.unknown(ctx, subjectID, err)
	} else if locked {
		// Already locked; the attempt was rejected upstream and does not
		// advance the counter.
		return result, nil
	}

	count, err := s.store.Incr(ctx, store.FailureKey(subjectID))
	if err != nil {
		return s.unknown(ctx, subjectID, err)
	}
	if count == 1 {
		if err := s.store.Expire(ctx, store.FailureKey(subjectID), s.config.FailureWindow); err != nil {
			s.logger.WarnContext(ctx, "failed to set failure window",
				slog.String("subject_id", subjectID),
				slog.Any("error", err))
		}
	}

	if count > s.config.MaxFailedAttempts {
		return s.lock(ctx, subjectID, count, evtCtx)
	}

	result := models.AccountSecurityResult{
		SubjectID:         subjectID,
		Status:            models.StatusNormal,
		FailedAttempts:    count,
		RemainingAttempts: s.remainingAttempts(count),
	}

	if count >= s.config.WarningThreshold {
		result.Status = models.StatusWarning
		if count == s.config.WarningThreshold {
			evtCtx.SubjectID = subjectID
			evtCtx.Metadata = mergeMetadata(evtCtx.Metadata, models.EventMetadata{
				"failed_attempts": count,
				"remaining":       result.RemainingAttempts,
			})
			s.events.Record(ctx, models.EventLevelWarning, models.CategoryAccountSecurity, models.EventTypeLockoutWarning,
				"account approaching lockout threshold", evtCtx)
		}
	}

	return result, nil
}

// RecordSuccess clears the subject's failure state after a successful
// authentication. Lockout history is retained so escalation still applies
// to later breaches within the tracking window. Callers should not fail
// the authentication over the returned error; the counter expires with
// its window on its own.
func (s *AccountSecurityService) RecordSuccess(ctx context.Context, subjectID string) error {
	if err := s.store.Del(ctx, store.FailureKey(subjectID), store.LockoutKey(subjectID)); err != nil {
		s.recordDegraded(ctx, subjectID, err)
		return err
	}
	return nil
}

// Status reports the subject's current security state without recording an
// attempt. A store fault yields StatusUnknown and an error; this component
// fails closed and callers must treat Unknown as deny.
func (s *AccountSecurityService) Status(ctx context.Context, subjectID string) (models.AccountSecurityResult, error) {
	if locked, result, err := s.activeLockout(ctx, subjectID); err != nil {
		return s.unknown(ctx, subjectID, err)
	} else if locked {
		return result, nil
	}

	count, err := s.failureCount(ctx, subjectID)
	if err != nil {
		return s.unknown(ctx, subjectID, err)
	}

	result := models.AccountSecurityResult{
		SubjectID:         subjectID,
		Status:            models.StatusNormal,
		FailedAttempts:    count,
		RemainingAttempts: s.remainingAttempts(count),
	}
	if count >= s.config.WarningThreshold {
		result.Status = models.StatusWarning
	}
	return result, nil
}

// AdminUnlock clears an active lockout and the failure counter. Lockout
// history is deliberately preserved: an administrative unlock does not
// reset the escalation schedule within the tracking window.
func (s *AccountSecurityService) AdminUnlock(ctx context.Context, subjectID, actorID string) error {
	if err := s.store.Del(ctx, store.LockoutKey(subjectID), store.FailureKey(subjectID)); err != nil {
		return fmt.Errorf("failed to unlock account: %w", err)
	}

	s.events.Record(ctx, models.EventLevelInfo, models.CategoryAdministrative, models.EventTypeLockoutCleared,
		"account lockout cleared by administrator",
		models.EventContext{
			SubjectID: subjectID,
			Metadata:  models.EventMetadata{"actor_id": actorID},
		})

	s.logger.InfoContext(ctx, "account unlocked",
		slog.String("subject_id", subjectID),
		slog.String("actor_id", actorID))

	return nil
}

// lock creates the lockout record. The schedule step comes from how many
// times the subject has already been locked in the tracking window, not
// from the raw attempt count.
func (s *AccountSecurityService) lock(ctx context.Context, subjectID string, attempts int64, evtCtx models.EventContext) (models.AccountSecurityResult, error) {
	prior, err := s.priorLockouts(ctx, subjectID)
	if err != nil {
		return s.unknown(ctx, subjectID, err)
	}

	duration := s.scheduleStep(prior)
	now := time.Now().UTC()
	record := models.LockoutRecord{
		SubjectID:     subjectID,
		Attempts:      attempts,
		Reason:        "failed_attempts_exceeded",
		StartedAt:     now,
		DurationSecs:  int64(duration / time.Second),
		ExpiresAt:     now.Add(duration),
		PriorLockouts: int64(prior),
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return s.unknown(ctx, subjectID, err)
	}
	if err := s.store.SetEx(ctx, store.LockoutKey(subjectID), string(payload), duration); err != nil {
		return s.unknown(ctx, subjectID, err)
	}

	if _, err := s.store.Incr(ctx, store.LockoutHistoryKey(subjectID)); err != nil {
		s.logger.WarnContext(ctx, "failed to advance lockout history",
			slog.String("subject_id", subjectID),
			slog.Any("error", err))
	} else if err := s.store.Expire(ctx, store.LockoutHistoryKey(subjectID), s.config.HistoryWindow); err != nil {
		s.logger.WarnContext(ctx, "failed to set lockout history window",
			slog.String("subject_id", subjectID),
			slog.Any("error", err))
	}

	evtCtx.SubjectID = subjectID
	evtCtx.Metadata = mergeMetadata(evtCtx.Metadata, models.EventMetadata{
		"failed_attempts": attempts,
		"duration_secs":   record.DurationSecs,
		"prior_lockouts":  prior,
	})
	s.events.Record(ctx, models.EventLevelWarning, models.CategoryAccountSecurity, models.EventTypeLockoutTriggered,
		"account locked after repeated authentication failures", evtCtx)

	s.logger.WarnContext(ctx, "account locked",
		slog.String("subject_id", subjectID),
		slog.Int64("failed_attempts", attempts),
		slog.Int64("duration_secs", record.DurationSecs),
		slog.Int("prior_lockouts", prior))

	return models.AccountSecurityResult{
		SubjectID:          subjectID,
		Status:             models.StatusLocked,
		FailedAttempts:     attempts,
		RemainingAttempts:  0,
		SecondsToUnlock:    record.DurationSecs,
		NextLockoutSeconds: int64(s.scheduleStep(prior+1) / time.Second),
	}, nil
}

// activeLockout loads the live lockout record, if any. Remaining time
// comes from the key TTL so the answer tracks expiry exactly.
func (s *AccountSecurityService) activeLockout(ctx context.Context, subjectID string) (bool, models.AccountSecurityResult, error) {
	payload, err := s.store.Get(ctx, store.LockoutKey(subjectID))
	if errors.Is(err, models.ErrNotFound) {
		return false, models.AccountSecurityResult{}, nil
	}
	if err != nil {
		return false, models.AccountSecurityResult{}, err
	}

	var record models.LockoutRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return false, models.AccountSecurityResult{}, fmt.Errorf("failed to decode lockout record: %w", err)
	}

	remaining, err := s.store.TTL(ctx, store.LockoutKey(subjectID))
	if err != nil {
		return false, models.AccountSecurityResult{}, err
	}
	if remaining <= 0 {
		return false, models.AccountSecurityResult{}, nil
	}

	return true, models.AccountSecurityResult{
		SubjectID:          subjectID,
		Status:             models.StatusLocked,
		FailedAttempts:     record.Attempts,
		RemainingAttempts:  0,
		SecondsToUnlock:    int64((remaining + time.Second - 1) / time.Second),
		NextLockoutSeconds: int64(s.scheduleStep(int(record.PriorLockouts)+1) / time.Second),
	}, nil
}

func (s *AccountSecurityService) failureCount(ctx context.Context, subjectID string) (int64, error) {
	value, err := s.store.Get(ctx, store.FailureKey(subjectID))
	if errors.Is(err, models.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, nil
	}
	return count, nil
}

func (s *AccountSecurityService) priorLockouts(ctx context.Context, subjectID string) (int, error) {
	value, err := s.store.Get(ctx, store.LockoutHistoryKey(subjectID))
	if errors.Is(err, models.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	prior, err := strconv.Atoi(value)
	if err != nil {
		return 0, nil
	}
	return prior, nil
}

// scheduleStep returns the lockout duration for the given number of prior
// lockouts, capped at the last schedule entry.
func (s *AccountSecurityService) scheduleStep(prior int) time.Duration {
	return progressiveStep(s.config.LockoutSchedule, prior)
}

// progressiveStep indexes a progressive duration schedule, clamping to the
// final entry. Shared by account lockouts and IP blocks.
func progressiveStep(schedule []time.Duration, step int) time.Duration {
	if len(schedule) == 0 {
		return 5 * time.Minute
	}
	if step >= len(schedule) {
		return schedule[len(schedule)-1]
	}
	if step < 0 {
		return schedule[0]
	}
	return schedule[step]
}

// remainingAttempts reports how many further failures reach lockout
func (s *AccountSecurityService) remainingAttempts(count int64) int64 {
	remaining := s.config.MaxFailedAttempts + 1 - count
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (s *AccountSecurityService) unknown(ctx context.Context, subjectID string, cause error) (models.AccountSecurityResult, error) {
	s.recordDegraded(ctx, subjectID, cause)
	return models.AccountSecurityResult{
			SubjectID: subjectID,
			Status:    models.StatusUnknown,
		}, fmt.Errorf("%w: account security state unreadable: %v",
			models.ErrSecurityStoreUnavailable, cause)
}

func (s *AccountSecurityService) recordDegraded(ctx context.Context, subjectID string, cause error) {
	s.events.Record(ctx, models.EventLevelError, models.CategorySystem, models.EventTypeDegradedMode,
		"account security store unavailable",
		models.EventContext{
			SubjectID: subjectID,
			Metadata:  models.EventMetadata{"error": cause.Error()},
		})
}

func mergeMetadata(base, extra models.EventMetadata) models.EventMetadata {
	if base == nil {
		return extra
	}
	for k, v := range extra {
		base[k] = v
	}
	return base
}
