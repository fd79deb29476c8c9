// Command storage consumes the weather topic as weather-storage-group and
// persists every record to Postgres.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	httpadapter "github.com/couchcryptid/weather-data-pipeline/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/weather-data-pipeline/internal/adapter/kafka"
	"github.com/couchcryptid/weather-data-pipeline/internal/adapter/postgres"
	"github.com/couchcryptid/weather-data-pipeline/internal/config"
	"github.com/couchcryptid/weather-data-pipeline/internal/observability"
	"github.com/couchcryptid/weather-data-pipeline/internal/pipeline"
	"github.com/couchcryptid/weather-data-pipeline/internal/scheduler"
	"github.com/couchcryptid/weather-data-pipeline/internal/sink"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1) //nolint:gocritic // stop is a no-op at this point
	}
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	topicCtx, cancelTopic := context.WithTimeout(ctx, 30*time.Second)
	if err := kafkaadapter.EnsureTopic(topicCtx, cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaPartitions); err != nil {
		logger.Warn("topic bootstrap failed, relying on broker auto-create", "topic", cfg.KafkaTopic, "error", err)
	}
	cancelTopic()

	store := sink.New(db, cfg, clock, logger, metrics)
	reader := kafkaadapter.NewReader(cfg, logger)

	// Dead-lettering is feature-flagged via KAFKA_DLQ_TOPIC.
	var (
		dlq    pipeline.DeadLetterer
		dlqOut *kafkaadapter.DeadLetterWriter
	)
	if cfg.KafkaDLQTopic != "" {
		dlqOut = kafkaadapter.NewDeadLetterWriter(cfg, logger)
		dlq = dlqOut
		logger.Info("dead-letter topic enabled", "topic", cfg.KafkaDLQTopic)
	}

	consumer := pipeline.NewConsumer(reader, store, dlq, cfg, logger, metrics)

	var monitorReader *kafkaadapter.Reader
	var monitor *pipeline.Monitor
	if cfg.KafkaMonitorEnabled {
		monitorReader = kafkaadapter.NewMonitorReader(cfg, logger)
		monitor = pipeline.NewMonitor(monitorReader, logger, metrics)
	}

	var retention *scheduler.Retention
	if cfg.RetentionInterval > 0 {
		retention = scheduler.NewRetention(store, cfg.RetentionInterval, cfg.RetentionMaxAge, clock, logger)
		if err := retention.Start(); err != nil {
			logger.Error("failed to schedule retention", "error", err)
			os.Exit(1)
		}
	}

	routes := httpadapter.NewStorageRoutes(store, clock, logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.AllReady(db, consumer), logger, routes)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil {
			logger.Error("consumer error", "error", err)
		}
	}()
	if monitor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := monitor.Run(ctx); err != nil {
				logger.Error("monitor error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if retention != nil {
		retention.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	// Lanes finish their current message before the reader goes away.
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		logger.Warn("consumer did not drain before shutdown timeout")
	}

	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if monitorReader != nil {
		if err := monitorReader.Close(); err != nil {
			logger.Error("kafka monitor reader close error", "error", err)
		}
	}
	if dlqOut != nil {
		if err := dlqOut.Close(); err != nil {
			logger.Error("kafka dead-letter writer close error", "error", err)
		}
	}
	if err := db.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("shutdown complete")
}
