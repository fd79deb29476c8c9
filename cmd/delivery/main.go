// Command delivery serves read-only weather queries and SQL-aggregated
// analytics from the weather_data table.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/weather-data-pipeline/internal/adapter/http"
	"github.com/couchcryptid/weather-data-pipeline/internal/adapter/postgres"
	"github.com/couchcryptid/weather-data-pipeline/internal/config"
	"github.com/couchcryptid/weather-data-pipeline/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1) //nolint:gocritic // stop is a no-op at this point
	}

	routes := httpadapter.NewDeliveryRoutes(db, logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, db, logger, routes)

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
	if err := db.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("shutdown complete")
}
