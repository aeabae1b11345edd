package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/bastionsec/bastion/internal/config"
	"github.com/bastionsec/bastion/internal/models"
	"github.com/bastionsec/bastion/internal/store"
)

// RateLimitService enforces fixed-window quotas across the four tiers
// (global, ip, account, endpoint) on top of the shared security store, so
// limits hold across instances. The window is implemented as a counter
// keyed by tier and identifier with a TTL equal to the window length.
//
// The service fails open: when the store is unreachable a request is
// admitted through an in-process token bucket instead, the result is
// flagged degraded, and a degraded-mode event is recorded. Lockout
// enforcement, which must fail closed, lives in AccountSecurityService.
type RateLimitService struct {
	store    store.SecurityStore
	config   config.RateLimitConfig
	logger   *slog.Logger
	events   EventRecorder
	fallback *rate.Limiter
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(securityStore store.SecurityStore, cfg config.RateLimitConfig, logger *slog.Logger, events EventRecorder) *RateLimitService {
	return &RateLimitService{
		store:    securityStore,
		config:   cfg,
		logger:   logger,
		events:   events,
		fallback: rate.NewLimiter(rate.Limit(cfg.FallbackRPS), cfg.FallbackBurst),
	}
}

// Check applies the tier's quota to the identifier and returns the
// admission decision with retry metadata. A denied check does not consume
// quota. Concurrent checks may overshoot the limit by at most one request
// per contender between read and increment; the overshoot is bounded and
// the counter still expires with the window.
func (s *RateLimitService) Check(ctx context.Context, tier models.RateLimitTier, identifier string) (models.RateLimitResult, error) {
	max, window := s.tierSettings(tier)
	result := models.RateLimitResult{
		Allowed:    true,
		Tier:       tier,
		Identifier: identifier,
		Max:        max,
	}

	// A non-positive limit disables the tier.
	if max <= 0 {
		result.Remaining = -1
		return result, nil
	}

	key := store.RateLimitKey(string(tier), identifier)

	current, err := s.currentCount(ctx, key)
	if err != nil {
		return s.degradedCheck(ctx, tier, identifier, err), nil
	}

	if current >= max {
		result.Allowed = false
		result.Current = current
		result.Remaining = 0
		result.SecondsToReset = s.secondsToReset(ctx, key, window)
		s.logger.WarnContext(ctx, "rate limit exceeded",
			slog.String("tier", string(tier)),
			slog.String("identifier", identifier),
			slog.Int64("current", current),
			slog.Int64("max", max))
		return result, nil
	}

	count, err := s.store.Incr(ctx, key)
	if err != nil {
		return s.degradedCheck(ctx, tier, identifier, err), nil
	}
	if count == 1 {
		if err := s.store.Expire(ctx, key, window); err != nil {
			s.logger.WarnContext(ctx, "failed to set rate limit window",
				slog.String("tier", string(tier)),
				slog.Any("error", err))
		}
	}

	result.Current = count
	result.SecondsToReset = s.secondsToReset(ctx, key, window)

	if count > max {
		result.Allowed = false
		result.Remaining = 0
		return result, nil
	}

	result.Remaining = max - count
	return result, nil
}

// Reset clears the counter for a tier and identifier. Administrative
// operation; the acting admin is recorded on the audit trail.
func (s *RateLimitService) Reset(ctx context.Context, tier models.RateLimitTier, identifier, actorID string) error {
	key := store.RateLimitKey(string(tier), identifier)
	if err := s.store.Del(ctx, key); err != nil {
		return err
	}

	s.events.Record(ctx, models.EventLevelInfo, models.CategoryAdministrative, models.EventTypeRateLimitReset,
		"rate limit counter reset",
		models.EventContext{
			SubjectID: actorID,
			Metadata: models.EventMetadata{
				"tier":       string(tier),
				"identifier": identifier,
			},
		})

	s.logger.InfoContext(ctx, "rate limit reset",
		slog.String("tier", string(tier)),
		slog.String("identifier", identifier),
		slog.String("actor_id", actorID))

	return nil
}

func (s *RateLimitService) tierSettings(tier models.RateLimitTier) (int64, time.Duration) {
	switch tier {
	case models.TierGlobal:
		return s.config.GlobalMax, s.config.GlobalWindow
	case models.TierIP:
		return s.config.IPMax, s.config.IPWindow
	case models.TierAccount:
		return s.config.AccountMax, s.config.AccountWindow
	case models.TierEndpoint:
		return s.config.EndpointMax, s.config.EndpointWindow
	default:
		return s.config.IPMax, s.config.IPWindow
	}
}

func (s *RateLimitService) currentCount(ctx context.Context, key string) (int64, error) {
	value, err := s.store.Get(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		s.logger.WarnContext(ctx, "discarding malformed rate limit counter", slog.String("key", key))
		return 0, nil
	}
	return count, nil
}

func (s *RateLimitService) secondsToReset(ctx context.Context, key string, window time.Duration) int64 {
	ttl, err := s.store.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		ttl = window
	}
	return int64((ttl + time.Second - 1) / time.Second)
}

// degradedCheck admits through the in-process token bucket while the store
// is unreachable. The outage is recorded as a degraded-mode event so it is
// never silently swallowed.
func (s *RateLimitService) degradedCheck(ctx context.Context, tier models.RateLimitTier, identifier string, cause error) models.RateLimitResult {
	max, window := s.tierSettings(tier)
	allowed := s.fallback.Allow()

	s.logger.ErrorContext(ctx, "rate limit store unavailable, using fallback limiter",
		slog.String("tier", string(tier)),
		slog.String("identifier", identifier),
		slog.Bool("allowed", allowed),
		slog.Any("error", cause))

	s.events.Record(ctx, models.EventLevelError, models.CategorySystem, models.EventTypeDegradedMode,
		"rate limiting degraded to in-process fallback",
		models.EventContext{Metadata: models.EventMetadata{
			"tier":       string(tier),
			"identifier": identifier,
			"allowed":    allowed,
		}})

	result := models.RateLimitResult{
		Allowed:    allowed,
		Tier:       tier,
		Identifier: identifier,
		Max:        max,
		Degraded:   true,
	}
	if !allowed {
		result.SecondsToReset = int64((window + time.Second - 1) / time.Second)
	}
	return result
}
