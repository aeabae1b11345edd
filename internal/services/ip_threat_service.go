package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bastionsec/bastion/internal/config"
	"github.com/bastionsec/bastion/internal/models"
	"github.com/bastionsec/bastion/internal/store"
)

// Per-type weights for the risk score. Brute force and enumeration weigh
// heaviest; a single failed login or rapid request is close to noise.
var threatWeights = map[models.ThreatEventType]float64{
	models.ThreatEventFailedLogin:        5,
	models.ThreatEventRateLimitViolation: 8,
	models.ThreatEventSuspiciousPattern:  12,
	models.ThreatEventBruteForce:         20,
	models.ThreatEventAccountEnumeration: 18,
	models.ThreatEventRapidRequests:      3,
	models.ThreatEventGeoAnomaly:         10,
	models.ThreatEventUserAgentAnomaly:   6,
}

// Frequency thresholds per type. Crossing any one of them escalates the
// whole score once.
var frequencyThresholds = map[models.ThreatEventType]int64{
	models.ThreatEventFailedLogin:        5,
	models.ThreatEventRateLimitViolation: 5,
	models.ThreatEventSuspiciousPattern:  3,
	models.ThreatEventBruteForce:         2,
	models.ThreatEventAccountEnumeration: 3,
	models.ThreatEventRapidRequests:      10,
	models.ThreatEventGeoAnomaly:         2,
	models.ThreatEventUserAgentAnomaly:   3,
}

const (
	frequencyMultiplier   = 1.5
	multiVectorMultiplier = 1.4
	multiVectorTypes      = 3
	maxRiskScore          = 100
	defaultEventWeight    = 5
)

// IPThreatService maintains a time-windowed log of typed security events
// per IP, derives a bounded risk score from it, and auto-blocks an IP that
// reaches Critical. Block checks fail open: an unreachable store must not
// take down legitimate traffic, but the outage is recorded.
type IPThreatService struct {
	store  store.SecurityStore
	config config.ThreatConfig
	logger *slog.Logger
	events EventRecorder
}

// NewIPThreatService creates a new IPThreatService
func NewIPThreatService(securityStore store.SecurityStore, cfg config.ThreatConfig, logger *slog.Logger, events EventRecorder) *IPThreatService {
	return &IPThreatService{
		store:  securityStore,
		config: cfg,
		logger: logger,
		events: events,
	}
}

// RecordEvent appends a typed event to the IP's window and recomputes its
// analysis. A Critical result on an unblocked IP triggers an automatic
// block with a progressively escalating duration. Store faults degrade
// gracefully: the event is lost, the degradation is recorded, and the
// caller gets a zero analysis flagged Degraded.
func (s *IPThreatService) RecordEvent(ctx context.Context, ip string, eventType models.ThreatEventType, evtCtx models.EventContext) (models.IPThreatAnalysis, error) {
	now := time.Now().UTC()
	key := store.ThreatEventsKey(ip)
	member := fmt.Sprintf("%d:%s:%s", now.UnixNano(), eventType, uuid.New().String())

	if err := s.store.ZAdd(ctx, key, float64(now.Unix()), member); err != nil {
		return s.degraded(ctx, ip, err), nil
	}
	if err := s.store.Expire(ctx, key, s.config.Window); err != nil {
		s.logger.WarnContext(ctx, "failed to set threat window expiry",
			slog.String("ip_address", ip),
			slog.Any("error", err))
	}
	cutoff := float64(now.Add(-s.config.Window).Unix())
	if _, err := s.store.ZRemRangeByScore(ctx, key, 0, cutoff-1); err != nil {
		s.logger.WarnContext(ctx, "failed to prune threat window",
			slog.String("ip_address", ip),
			slog.Any("error", err))
	}

	analysis, err := s.Analyze(ctx, ip)
	if err != nil {
		return s.degraded(ctx, ip, err), nil
	}

	s.logger.DebugContext(ctx, "ip threat event recorded",
		slog.String("ip_address", ip),
		slog.String("threat_event", string(eventType)),
		slog.Float64("risk_score", analysis.RiskScore),
		slog.String("threat_level", string(analysis.ThreatLevel)))

	if analysis.ThreatLevel == models.ThreatLevelCritical && !analysis.Blocked && s.config.AutoBlock {
		record, err := s.block(ctx, ip, "critical_threat_score", analysis.RiskScore, true, evtCtx)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to auto-block ip",
				slog.String("ip_address", ip),
				slog.Any("error", err))
			return analysis, nil
		}
		analysis.Blocked = true
		analysis.BlockExpiresAt = &record.ExpiresAt
	}

	return analysis, nil
}

// Analyze recomputes the IP's risk score and threat level from the events
// currently inside the monitoring window.
func (s *IPThreatService) Analyze(ctx context.Context, ip string) (models.IPThreatAnalysis, error) {
	now := time.Now().UTC()
	windowStart := now.Add(-s.config.Window)

	members, err := s.store.ZRangeByScore(ctx, store.ThreatEventsKey(ip),
		float64(windowStart.Unix()), float64(now.Unix()))
	if err != nil {
		return models.IPThreatAnalysis{}, err
	}

	counts := make(map[models.ThreatEventType]int64)
	for _, member := range members {
		parts := strings.SplitN(member, ":", 3)
		if len(parts) != 3 {
			continue
		}
		counts[models.ThreatEventType(parts[1])]++
	}

	score := riskScore(counts)
	analysis := models.IPThreatAnalysis{
		IPAddress:     ip,
		RiskScore:     score,
		ThreatLevel:   models.ThreatLevelForScore(score),
		EventCounts:   counts,
		TotalEvents:   int64(len(members)),
		DistinctTypes: len(counts),
		WindowStart:   windowStart,
	}

	if record, degraded := s.lookupBlock(ctx, ip); degraded {
		analysis.Degraded = true
	} else if record != nil {
		analysis.Blocked = true
		analysis.BlockExpiresAt = &record.ExpiresAt
	}

	return analysis, nil
}

// IsBlocked reports the IP's active block record, if any. This check sits
// on the request path and fails open: a store fault is recorded as
// degraded mode and the IP is treated as unblocked.
func (s *IPThreatService) IsBlocked(ctx context.Context, ip string) *models.BlockRecord {
	record, degraded := s.lookupBlock(ctx, ip)
	if degraded {
		s.events.Record(ctx, models.EventLevelError, models.CategorySystem, models.EventTypeDegradedMode,
			"ip block check degraded, failing open",
			models.EventContext{IPAddress: ip})
		return nil
	}
	return record
}

// Block places a manual block on an IP. A zero duration selects the next
// step of the progressive schedule, same as an automatic block.
func (s *IPThreatService) Block(ctx context.Context, ip, reason string, duration time.Duration, actorID string) (*models.BlockRecord, error) {
	evtCtx := models.EventContext{
		IPAddress: ip,
		Metadata:  models.EventMetadata{"actor_id": actorID},
	}
	return s.blockWithDuration(ctx, ip, reason, 0, false, duration, evtCtx)
}

// Unblock lifts an active block. Block history is preserved so a repeat
// offender still escalates. The action itself is audited.
func (s *IPThreatService) Unblock(ctx context.Context, ip, actorID string) error {
	if err := s.store.Del(ctx, store.BlockKey(ip)); err != nil {
		return fmt.Errorf("failed to unblock ip: %w", err)
	}

	s.events.Record(ctx, models.EventLevelInfo, models.CategoryAdministrative, models.EventTypeIPUnblocked,
		"ip block lifted by administrator",
		models.EventContext{
			IPAddress: ip,
			Metadata:  models.EventMetadata{"actor_id": actorID},
		})

	s.logger.InfoContext(ctx, "ip unblocked",
		slog.String("ip_address", ip),
		slog.String("actor_id", actorID))

	return nil
}

func (s *IPThreatService) block(ctx context.Context, ip, reason string, score float64, automatic bool, evtCtx models.EventContext) (*models.BlockRecord, error) {
	return s.blockWithDuration(ctx, ip, reason, score, automatic, 0, evtCtx)
}

func (s *IPThreatService) blockWithDuration(ctx context.Context, ip, reason string, score float64, automatic bool, duration time.Duration, evtCtx models.EventContext) (*models.BlockRecord, error) {
	prior, err := s.priorBlocks(ctx, ip)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		duration = progressiveStep(s.config.BlockSchedule, prior)
	}

	now := time.Now().UTC()
	record := &models.BlockRecord{
		IPAddress:    ip,
		Reason:       reason,
		RiskScore:    score,
		StartedAt:    now,
		DurationSecs: int64(duration / time.Second),
		ExpiresAt:    now.Add(duration),
		PriorBlocks:  int64(prior),
		Automatic:    automatic,
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode block record: %w", err)
	}
	if err := s.store.SetEx(ctx, store.BlockKey(ip), string(payload), duration); err != nil {
		return nil, err
	}

	if _, err := s.store.Incr(ctx, store.BlockHistoryKey(ip)); err != nil {
		s.logger.WarnContext(ctx, "failed to advance block history",
			slog.String("ip_address", ip),
			slog.Any("error", err))
	} else if err := s.store.Expire(ctx, store.BlockHistoryKey(ip), s.config.HistoryWindow); err != nil {
		s.logger.WarnContext(ctx, "failed to set block history window",
			slog.String("ip_address", ip),
			slog.Any("error", err))
	}

	level := models.EventLevelWarning
	if automatic {
		level = models.EventLevelCritical
	}
	evtCtx.IPAddress = ip
	evtCtx.ThreatLevel = models.ThreatLevelForScore(score)
	evtCtx.RiskScore = score
	evtCtx.Metadata = mergeMetadata(evtCtx.Metadata, models.EventMetadata{
		"reason":        reason,
		"duration_secs": record.DurationSecs,
		"prior_blocks":  prior,
		"automatic":     automatic,
	})
	s.events.Record(ctx, level, models.CategoryIPSecurity, models.EventTypeIPBlocked,
		"ip address blocked", evtCtx)

	s.logger.WarnContext(ctx, "ip blocked",
		slog.String("ip_address", ip),
		slog.String("reason", reason),
		slog.Int64("duration_secs", record.DurationSecs),
		slog.Bool("automatic", automatic))

	return record, nil
}

// lookupBlock reads the live block record. The second return reports a
// degraded store.
func (s *IPThreatService) lookupBlock(ctx context.Context, ip string) (*models.BlockRecord, bool) {
	payload, err := s.store.Get(ctx, store.BlockKey(ip))
	if errors.Is(err, models.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to read ip block state",
			slog.String("ip_address", ip),
			slog.Any("error", err))
		return nil, true
	}

	var record models.BlockRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		s.logger.WarnContext(ctx, "discarding undecodable block record",
			slog.String("ip_address", ip),
			slog.Any("error", err))
		return nil, false
	}
	return &record, false
}

func (s *IPThreatService) priorBlocks(ctx context.Context, ip string) (int, error) {
	value, err := s.store.Get(ctx, store.BlockHistoryKey(ip))
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

func (s *IPThreatService) degraded(ctx context.Context, ip string, cause error) models.IPThreatAnalysis {
	s.logger.ErrorContext(ctx, "ip threat monitoring degraded",
		slog.String("ip_address", ip),
		slog.Any("error", cause))
	s.events.Record(ctx, models.EventLevelError, models.CategorySystem, models.EventTypeDegradedMode,
		"ip threat monitoring store unavailable",
		models.EventContext{
			IPAddress: ip,
			Metadata:  models.EventMetadata{"error": cause.Error()},
		})
	return models.IPThreatAnalysis{IPAddress: ip, Degraded: true}
}

// riskScore computes the weighted sum with multiplicative escalation. Any
// single type crossing its frequency threshold escalates once; three or
// more distinct types escalate again. The result is capped at 100.
func riskScore(counts map[models.ThreatEventType]int64) float64 {
	var score float64
	frequencyEscalated := false

	for eventType, count := range counts {
		weight, ok := threatWeights[eventType]
		if !ok {
			weight = defaultEventWeight
		}
		score += weight * float64(count)

		if threshold, ok := frequencyThresholds[eventType]; ok && count >= threshold {
			frequencyEscalated = true
		}
	}

	if frequencyEscalated {
		score *= frequencyMultiplier
	}
	if len(counts) >= multiVectorTypes {
		score *= multiVectorMultiplier
	}
	if score > maxRiskScore {
		score = maxRiskScore
	}
	return score
}
