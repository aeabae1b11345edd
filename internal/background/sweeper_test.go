package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type countingPurger struct {
	calls atomic.Int64
	err   error
}

func (p *countingPurger) PurgeExpired(ctx context.Context) (int64, error) {
	p.calls.Add(1)
	if p.err != nil {
		return 0, p.err
	}
	return 3, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestSweeper_RunsImmediatelyThenOnInterval(t *testing.T) {
	purger := &countingPurger{}
	sweeper := NewSweeper(purger, testLogger(), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Start(ctx)

	// The initial sweep does not wait for the first tick.
	deadline := time.After(2 * time.Second)
	for purger.calls.Load() < 1 {
		select {
		case <-deadline:
			t.Fatal("initial sweep never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	for purger.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("periodic sweeps never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	sweeper.Stop()
}

func TestSweeper_StopEndsLoop(t *testing.T) {
	purger := &countingPurger{}
	sweeper := NewSweeper(purger, testLogger(), time.Hour)

	done := make(chan struct{})
	go func() {
		sweeper.Start(context.Background())
		close(done)
	}()

	sweeper.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestSweeper_ContextCancelEndsLoop(t *testing.T) {
	purger := &countingPurger{}
	sweeper := NewSweeper(purger, testLogger(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancel")
	}
}

func TestSweeper_SurvivesPurgeFailure(t *testing.T) {
	purger := &countingPurger{err: errors.New("db down")}
	sweeper := NewSweeper(purger, testLogger(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Start(ctx)

	deadline := time.After(2 * time.Second)
	for purger.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("sweeper stopped retrying after a failed purge")
		case <-time.After(5 * time.Millisecond):
		}
	}

	sweeper.Stop()
}
