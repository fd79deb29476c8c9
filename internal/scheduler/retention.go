// Package scheduler runs periodic maintenance jobs for the storage service.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/jonboulle/clockwork"
)

// sweepTimeout bounds a single retention delete.
const sweepTimeout = 5 * time.Minute

// Sweeper deletes processed rows created before cutoff.
type Sweeper interface {
	Sweep(ctx context.Context, cutoff time.Time) (int64, error)
}

// Retention periodically sweeps rows older than maxAge.
type Retention struct {
	scheduler *gocron.Scheduler
	sweeper   Sweeper
	clock     clockwork.Clock
	logger    *slog.Logger
	interval  time.Duration
	maxAge    time.Duration
}

// NewRetention creates a Retention job. Nothing runs until Start.
func NewRetention(sweeper Sweeper, interval, maxAge time.Duration, clock clockwork.Clock, logger *slog.Logger) *Retention {
	return &Retention{
		scheduler: gocron.NewScheduler(time.UTC),
		sweeper:   sweeper,
		clock:     clock,
		logger:    logger,
		interval:  interval,
		maxAge:    maxAge,
	}
}

// Start schedules the sweep every interval, beginning immediately.
func (r *Retention) Start() error {
	if r.interval <= 0 {
		return fmt.Errorf("retention interval must be positive, got %s", r.interval)
	}
	if _, err := r.scheduler.Every(r.interval).SingletonMode().Do(r.RunOnce); err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}
	r.scheduler.StartAsync()
	r.logger.Info("retention sweep scheduled", "interval", r.interval, "max_age", r.maxAge)
	return nil
}

// RunOnce sweeps rows older than now - maxAge.
func (r *Retention) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	cutoff := r.clock.Now().UTC().Add(-r.maxAge)
	if _, err := r.sweeper.Sweep(ctx, cutoff); err != nil {
		r.logger.Error("scheduled retention sweep failed", "error", err, "cutoff", cutoff)
	}
}

// Stop cancels future sweeps. A sweep already running is not interrupted.
func (r *Retention) Stop() {
	r.scheduler.Stop()
}
