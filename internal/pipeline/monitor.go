package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/weather-data-pipeline/internal/domain"
	"github.com/couchcryptid/weather-data-pipeline/internal/observability"
)

// Monitor tails the topic in its own consumer group and logs what it sees.
// It never persists and never acknowledges on behalf of the storage group.
type Monitor struct {
	fetcher Fetcher
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewMonitor creates a Monitor reading from f.
func NewMonitor(f Fetcher, logger *slog.Logger, metrics *observability.Metrics) *Monitor {
	return &Monitor{fetcher: f, logger: logger, metrics: metrics}
}

// Run observes messages until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor started")
	retry := newBackoff(initialBackoff, maxBackoff)
	for {
		msg, err := m.fetcher.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.logger.Info("monitor stopping", "reason", ctx.Err())
				return nil
			}
			m.logger.Warn("monitor fetch failed", "error", err)
			if !retry.wait(ctx) {
				return nil
			}
			continue
		}
		retry.reset()
		m.metrics.MonitorMessages.Inc()

		city, err := domain.PeekCity(msg.Value)
		if err != nil {
			m.logger.Debug("observed unreadable message", "partition", msg.Partition, "offset", msg.Offset, "error", err)
			continue
		}
		m.logger.Debug("observed message", "city", city, "partition", msg.Partition, "offset", msg.Offset)
	}
}
