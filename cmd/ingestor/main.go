// Command ingestor streams weather CSV files onto the Kafka topic. It serves
// the ingest API by default; with -file it ingests one file and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	httpadapter "github.com/couchcryptid/weather-data-pipeline/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/weather-data-pipeline/internal/adapter/kafka"
	redisadapter "github.com/couchcryptid/weather-data-pipeline/internal/adapter/redis"
	"github.com/couchcryptid/weather-data-pipeline/internal/config"
	"github.com/couchcryptid/weather-data-pipeline/internal/domain"
	"github.com/couchcryptid/weather-data-pipeline/internal/observability"
	"github.com/couchcryptid/weather-data-pipeline/internal/pipeline"
	"github.com/jonboulle/clockwork"
)

func main() {
	file := flag.String("file", "", "ingest this CSV file once and exit instead of serving the API")
	flag.Parse()

	os.Exit(run(*file))
}

func run(file string) int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	topicCtx, cancelTopic := context.WithTimeout(ctx, 30*time.Second)
	if err := kafkaadapter.EnsureTopic(topicCtx, cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaPartitions); err != nil {
		logger.Warn("topic bootstrap failed, relying on broker auto-create", "topic", cfg.KafkaTopic, "error", err)
	}
	cancelTopic()

	// Job status sharing is feature-flagged via REDIS_ADDR.
	var (
		store    pipeline.JobStore
		jobStore *redisadapter.JobStore
	)
	if cfg.RedisAddr != "" {
		jobStore, err = redisadapter.NewJobStore(ctx, cfg)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			return 1
		}
		store = jobStore
		logger.Info("redis job status enabled", "addr", cfg.RedisAddr, "ttl", cfg.JobStatusTTL)
	} else {
		logger.Info("redis job status disabled")
	}

	writer := kafkaadapter.NewWriter(cfg, logger)
	ingestor := pipeline.NewIngestor(writer, store, cfg, clockwork.NewRealClock(), logger, metrics)

	code := 0
	if file != "" {
		code = ingestOnce(ctx, ingestor, file, logger)
	} else {
		serve(ctx, cfg, ingestor, jobStore, logger)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := ingestor.Shutdown(shutdownCtx); err != nil {
		logger.Error("ingestor shutdown error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	if jobStore != nil {
		if err := jobStore.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return code
}

func ingestOnce(ctx context.Context, ingestor *pipeline.Ingestor, path string, logger *slog.Logger) int {
	job, err := ingestor.Start(ctx, path)
	if err != nil {
		logger.Error("failed to start ingest", "path", path, "error", err)
		return 1
	}
	go func() {
		<-ctx.Done()
		job.Cancel()
	}()

	st, _ := job.Wait(context.Background())
	if st.State != domain.JobCompleted {
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg *config.Config, ingestor *pipeline.Ingestor, jobStore *redisadapter.JobStore, logger *slog.Logger) {
	checks := []sharedobs.ReadinessChecker{ingestor}
	if jobStore != nil {
		checks = append(checks, jobStore)
	}
	routes := httpadapter.NewIngestRoutes(ingestor, cfg.CSVDefaultPath, cfg.KafkaTopic, logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.AllReady(checks...), logger, routes)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
}
