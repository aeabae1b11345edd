package background

import (
	"context"
	"log/slog"
	"time"
)

// Purger removes expired records from a long-retention sink and reports
// how many rows were removed.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Sweeper periodically purges security events that have aged past the
// compliance retention period. It is the only background work in the
// process: everything else expires through store TTLs. Runs are logged so
// a stalled sweep is visible, never fire-and-forget.
type Sweeper struct {
	purger   Purger
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewSweeper creates a new retention sweeper
func NewSweeper(purger Purger, logger *slog.Logger, interval time.Duration) *Sweeper {
	return &Sweeper{
		purger:   purger,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or the context is
// cancelled. An initial sweep runs immediately so restarts do not defer
// overdue purges by a full interval.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopCh:
			s.logger.Info("retention sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("retention sweeper context cancelled")
			return
		}
	}
}

// sweep performs one bounded purge pass
func (s *Sweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	purged, err := s.purger.PurgeExpired(sweepCtx)
	if err != nil {
		s.logger.Error("retention sweep failed", slog.Any("error", err))
		return
	}

	if purged > 0 {
		s.logger.Info("retention sweep completed", slog.Int64("events_purged", purged))
	}
}

// Stop signals the sweeper to stop
func (s *Sweeper) Stop() {
	close(s.stopCh)
}
