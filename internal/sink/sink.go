// Package sink persists decoded weather records and keeps the storage
// consumer's process-wide counters.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/weather-data-pipeline/internal/config"
	"github.com/couchcryptid/weather-data-pipeline/internal/domain"
	"github.com/couchcryptid/weather-data-pipeline/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
)

// Milestones at which the sink reports progress.
const (
	progressEvery = 1000
	statusEvery   = 10000
)

// Store is the relational backend for weather rows.
type Store interface {
	InsertRecord(ctx context.Context, rec domain.Record, createdAt time.Time) (domain.Row, error)
	CountRows(ctx context.Context) (int64, error)
	CountUnprocessed(ctx context.Context) (int64, error)
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	IsTransient(err error) bool
}

// Sink writes records through a circuit breaker and counts outcomes.
// processed counts rows whose insert committed; errors counts messages the
// consumer could not persist or decode. Both are updated atomically and are
// only reset by ResetCounters.
type Sink struct {
	store   Store
	breaker *gobreaker.CircuitBreaker
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	processed atomic.Int64
	errors    atomic.Int64
}

// New creates a Sink over store. The breaker opens after
// cfg.BreakerMaxFailures consecutive transient failures and stays open for
// cfg.BreakerTimeout.
func New(store Store, cfg *config.Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Sink {
	s := &Sink{
		store:   store,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
	maxFailures := uint32(cfg.BreakerMaxFailures) //nolint:gosec // validated >= 1 by config
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "weather-db",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Rows the database rejects on their merits say nothing about its health.
		IsSuccessful: func(err error) bool {
			return err == nil || !store.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return s
}

// Persist inserts rec as a new row. On success the processed counter is
// incremented, after the row's transaction has committed.
func (s *Sink) Persist(ctx context.Context, rec domain.Record) (domain.Row, error) {
	start := s.clock.Now()
	createdAt := start.UTC()

	result, err := s.breaker.Execute(func() (any, error) {
		return s.store.InsertRecord(ctx, rec, createdAt)
	})
	if err != nil {
		s.metrics.PersistErrors.Inc()
		return domain.Row{}, fmt.Errorf("persist %s at %s: %w", rec.City, rec.Timestamp.Format(domain.WireTimeLayout), err)
	}
	row := result.(domain.Row)

	s.metrics.InsertDuration.Observe(s.clock.Since(start).Seconds())
	s.metrics.RowsInserted.Inc()
	n := s.processed.Add(1)
	s.reportProgress(ctx, n, row)
	return row, nil
}

// IsTransient reports whether a Persist error may succeed on retry. An open
// breaker is always transient.
func (s *Sink) IsTransient(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	return s.store.IsTransient(err)
}

// CountError records one message the consumer had to drop or could not persist.
func (s *Sink) CountError() {
	s.errors.Add(1)
}

// Processed is the number of rows persisted since the last reset.
func (s *Sink) Processed() int64 { return s.processed.Load() }

// Errors is the number of failed messages since the last reset.
func (s *Sink) Errors() int64 { return s.errors.Load() }

// Stats combines the counters with fresh row counts from the store.
func (s *Sink) Stats(ctx context.Context) (domain.ConsumerStats, error) {
	stats := domain.ConsumerStats{
		Processed: s.processed.Load(),
		Errors:    s.errors.Load(),
	}
	total, err := s.store.CountRows(ctx)
	if err != nil {
		return stats, err
	}
	unprocessed, err := s.store.CountUnprocessed(ctx)
	if err != nil {
		return stats, err
	}
	stats.TotalRows = total
	stats.UnprocessedRows = unprocessed
	return stats, nil
}

// ResetCounters zeroes both counters.
func (s *Sink) ResetCounters() {
	s.processed.Store(0)
	s.errors.Store(0)
	s.logger.Info("consumer counters reset")
}

// Sweep deletes processed rows created before cutoff.
func (s *Sink) Sweep(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := s.store.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	s.metrics.RetentionDeleted.Add(float64(deleted))
	s.logger.Info("retention sweep complete", "cutoff", cutoff.UTC(), "deleted", deleted)
	return deleted, nil
}

func (s *Sink) reportProgress(ctx context.Context, n int64, row domain.Row) {
	if n%progressEvery == 0 {
		s.logger.Info("rows persisted",
			"processed", n,
			"city", row.City,
			"timestamp", row.Timestamp.Format(domain.WireTimeLayout),
		)
	}
	if n%statusEvery != 0 {
		return
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		s.logger.Warn("status query failed", "processed", n, "error", err)
		return
	}
	s.logger.Info("database status",
		"processed", stats.Processed,
		"errors", stats.Errors,
		"total_rows", stats.TotalRows,
		"unprocessed_rows", stats.UnprocessedRows,
	)
}
