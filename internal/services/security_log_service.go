package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bastionsec/bastion/internal/config"
	"github.com/bastionsec/bastion/internal/models"
	"github.com/bastionsec/bastion/internal/store"
)

// SecurityEventRepository defines the interface for the long-retention
// compliance store backing the event log
type SecurityEventRepository interface {
	Insert(ctx context.Context, event *models.SecurityEvent) error
	Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Notifier delivers a raised alert to an external channel
type Notifier interface {
	Notify(ctx context.Context, alert models.Alert) error
}

// EventRecorder is the write-side surface the defense services depend on.
// Recording never fails the caller; sink errors are logged and absorbed.
type EventRecorder interface {
	Record(ctx context.Context, level models.EventLevel, category models.EventCategory, eventType, message string, evtCtx models.EventContext) *models.SecurityEvent
}

// SecurityLogService implements the append-only security event sink with a
// triple-write pattern: immediate slog output, a short-retention index in
// the shared store for real-time queries, and the compliance store for
// long-retention export.
type SecurityLogService struct {
	repo      SecurityEventRepository
	store     store.SecurityStore
	config    config.EventsConfig
	logger    *slog.Logger
	notifiers []Notifier
}

// NewSecurityLogService creates a new SecurityLogService
func NewSecurityLogService(repo SecurityEventRepository, securityStore store.SecurityStore, cfg config.EventsConfig, logger *slog.Logger, notifiers ...Notifier) *SecurityLogService {
	return &SecurityLogService{
		repo:      repo,
		store:     securityStore,
		config:    cfg,
		logger:    logger,
		notifiers: notifiers,
	}
}

// Record writes an event to all three sinks and runs the alert check. The
// returned event carries the generated id and timestamp. A failing sink is
// logged and never propagated; security decisions must not depend on the
// availability of the audit trail.
func (s *SecurityLogService) Record(ctx context.Context, level models.EventLevel, category models.EventCategory, eventType, message string, evtCtx models.EventContext) *models.SecurityEvent {
	event := buildEvent(level, category, eventType, message, evtCtx)

	s.logEvent(ctx, event)

	if err := s.indexRecent(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to index security event",
			slog.String("event_type", eventType),
			slog.Any("error", err))
	}

	if err := s.repo.Insert(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist security event",
			slog.String("event_type", eventType),
			slog.Any("error", err))
	}

	s.checkAlert(ctx, event)

	return event
}

// Recent returns events of the given level from the short-retention index,
// newest first.
func (s *SecurityLogService) Recent(ctx context.Context, level models.EventLevel, limit int) ([]*models.SecurityEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	now := time.Now().UTC()
	min := float64(now.Add(-s.config.RecentRetention).UnixNano()) / float64(time.Second)
	max := float64(now.UnixNano()) / float64(time.Second)

	members, err := s.store.ZRangeByScore(ctx, store.RecentEventsKey(string(level)), min, max)
	if err != nil {
		return nil, err
	}

	events := make([]*models.SecurityEvent, 0, limit)
	// Members are score-ordered oldest first; walk backwards for newest.
	for i := len(members) - 1; i >= 0 && len(events) < limit; i-- {
		var event models.SecurityEvent
		if err := json.Unmarshal([]byte(members[i]), &event); err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable recent event", slog.Any("error", err))
			continue
		}
		events = append(events, &event)
	}

	return events, nil
}

// Query retrieves events from the compliance store with the given filter
func (s *SecurityLogService) Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	if filter.Limit <= 0 || filter.Limit > s.config.ExportLimit {
		filter.Limit = 100
	}
	return s.repo.Query(ctx, filter)
}

// ExportJSON returns filtered events as an indented JSON document
func (s *SecurityLogService) ExportJSON(ctx context.Context, filter models.EventFilter) ([]byte, error) {
	events, err := s.queryForExport(ctx, filter)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(events, "", "  ")
}

// ExportCSV returns filtered events as a flat table with a fixed column set
func (s *SecurityLogService) ExportCSV(ctx context.Context, filter models.EventFilter) ([]byte, error) {
	events, err := s.queryForExport(ctx, filter)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(models.ExportColumns); err != nil {
		return nil, err
	}
	for _, event := range events {
		row := []string{
			event.ID.String(),
			event.Timestamp.Format(time.RFC3339),
			string(event.Level),
			string(event.Category),
			event.EventType,
			event.Message,
			derefString(event.SubjectID),
			derefString(event.IPAddress),
			derefThreatLevel(event.ThreatLevel),
			derefFloat(event.RiskScore),
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *SecurityLogService) queryForExport(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	if filter.Limit <= 0 || filter.Limit > s.config.ExportLimit {
		filter.Limit = s.config.ExportLimit
	}
	return s.repo.Query(ctx, filter)
}

// PurgeExpired removes compliance records older than the retention period.
// Called periodically by the background sweeper.
func (s *SecurityLogService) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.config.ComplianceRetention)

	purged, err := s.repo.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if purged > 0 {
		s.Record(ctx, models.EventLevelInfo, models.CategorySystem, models.EventTypeRetentionPurge,
			"expired security events purged",
			models.EventContext{Metadata: models.EventMetadata{"purged": purged, "cutoff": cutoff.Format(time.RFC3339)}})
	}

	return purged, nil
}

func buildEvent(level models.EventLevel, category models.EventCategory, eventType, message string, evtCtx models.EventContext) *models.SecurityEvent {
	event := &models.SecurityEvent{
		ID:         uuid.New(),
		Timestamp:  time.Now().UTC(),
		Level:      level,
		Category:   category,
		EventType:  eventType,
		Message:    message,
		SubjectID:  optionalString(evtCtx.SubjectID),
		IPAddress:  optionalString(evtCtx.IPAddress),
		SessionID:  optionalString(evtCtx.SessionID),
		UserAgent:  optionalString(evtCtx.UserAgent),
		RequestID:  optionalString(evtCtx.RequestID),
		Compliance: evtCtx.Compliance,
		Metadata:   evtCtx.Metadata,
	}
	if evtCtx.ThreatLevel != "" {
		threatLevel := evtCtx.ThreatLevel
		event.ThreatLevel = &threatLevel
	}
	if evtCtx.RiskScore > 0 {
		score := evtCtx.RiskScore
		event.RiskScore = &score
	}
	return event
}

// logEvent emits the immediate structured log line
func (s *SecurityLogService) logEvent(ctx context.Context, event *models.SecurityEvent) {
	attrs := []any{
		slog.String("event_id", event.ID.String()),
		slog.String("category", string(event.Category)),
		slog.String("event_type", event.EventType),
	}
	if event.SubjectID != nil {
		attrs = append(attrs, slog.String("subject_id", *event.SubjectID))
	}
	if event.IPAddress != nil {
		attrs = append(attrs, slog.String("ip_address", *event.IPAddress))
	}
	if event.RiskScore != nil {
		attrs = append(attrs, slog.Float64("risk_score", *event.RiskScore))
	}

	switch event.Level {
	case models.EventLevelDebug:
		s.logger.DebugContext(ctx, event.Message, attrs...)
	case models.EventLevelInfo:
		s.logger.InfoContext(ctx, event.Message, attrs...)
	case models.EventLevelWarning:
		s.logger.WarnContext(ctx, event.Message, attrs...)
	case models.EventLevelError:
		s.logger.ErrorContext(ctx, event.Message, attrs...)
	case models.EventLevelCritical:
		attrs = append(attrs, slog.Bool("critical", true))
		s.logger.ErrorContext(ctx, event.Message, attrs...)
	default:
		s.logger.InfoContext(ctx, event.Message, attrs...)
	}
}

// indexRecent writes the event into the short-retention sorted set keyed by
// level, scored by unix time so expired entries can be range-pruned.
func (s *SecurityLogService) indexRecent(ctx context.Context, event *models.SecurityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	key := store.RecentEventsKey(string(event.Level))
	// Fractional seconds keep same-second events ordered in the index.
	score := float64(event.Timestamp.UnixNano()) / float64(time.Second)

	if err := s.store.ZAdd(ctx, key, score, string(payload)); err != nil {
		return err
	}
	if err := s.store.Expire(ctx, key, s.config.RecentRetention); err != nil {
		return err
	}

	// Opportunistic prune keeps the index bounded between expirations.
	cutoff := float64(event.Timestamp.Add(-s.config.RecentRetention).Unix())
	if _, err := s.store.ZRemRangeByScore(ctx, key, 0, cutoff); err != nil {
		return err
	}

	return nil
}

// checkAlert maintains the rolling per-level counters and fires the alert
// signal exactly once when a counter reaches its threshold within the
// window. Counters expire with the window, re-arming the alert.
func (s *SecurityLogService) checkAlert(ctx context.Context, event *models.SecurityEvent) {
	threshold := s.alertThreshold(event.Level)
	if threshold <= 0 {
		return
	}

	key := store.AlertCountKey(string(event.Level))
	count, err := s.store.Incr(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to advance alert counter",
			slog.String("level", string(event.Level)),
			slog.Any("error", err))
		return
	}
	if count == 1 {
		if err := s.store.Expire(ctx, key, s.config.AlertWindow); err != nil {
			s.logger.WarnContext(ctx, "failed to set alert counter expiry",
				slog.String("level", string(event.Level)),
				slog.Any("error", err))
		}
	}

	if count != threshold {
		return
	}

	alert := models.Alert{
		Level:       event.Level,
		Count:       count,
		Threshold:   threshold,
		Window:      s.config.AlertWindow.String(),
		TriggeredAt: time.Now().UTC(),
		LastEventID: event.ID,
		LastMessage: event.Message,
	}

	s.logger.ErrorContext(ctx, "security alert raised",
		slog.String("level", string(alert.Level)),
		slog.Int64("count", alert.Count),
		slog.Int64("threshold", alert.Threshold),
		slog.String("window", alert.Window))

	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, alert); err != nil {
			s.logger.ErrorContext(ctx, "alert notification failed", slog.Any("error", err))
		}
	}

	// Info level never carries a threshold, so this cannot recurse.
	s.Record(ctx, models.EventLevelInfo, models.CategorySystem, models.EventTypeAlertRaised,
		"alert threshold reached",
		models.EventContext{Metadata: models.EventMetadata{
			"alert_level": string(alert.Level),
			"count":       alert.Count,
			"threshold":   alert.Threshold,
		}})
}

func (s *SecurityLogService) alertThreshold(level models.EventLevel) int64 {
	switch level {
	case models.EventLevelCritical:
		return s.config.CriticalThreshold
	case models.EventLevelError:
		return s.config.ErrorThreshold
	case models.EventLevelWarning:
		return s.config.WarningThreshold
	default:
		return 0
	}
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func derefThreatLevel(level *models.ThreatLevel) string {
	if level == nil {
		return ""
	}
	return string(*level)
}

func derefFloat(value *float64) string {
	if value == nil {
		return ""
	}
	return strconv.FormatFloat(*value, 'f', 2, 64)
}
