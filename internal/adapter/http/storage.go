package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/weather-data-pipeline/internal/domain"
	"github.com/jonboulle/clockwork"
)

// StatsService exposes the storage consumer's counters and retention sweep.
type StatsService interface {
	Stats(ctx context.Context) (domain.ConsumerStats, error)
	ResetCounters()
	Sweep(ctx context.Context, cutoff time.Time) (int64, error)
}

// StorageRoutes serves the storage service's /api/storage endpoints.
type StorageRoutes struct {
	stats  StatsService
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewStorageRoutes creates the storage route set.
func NewStorageRoutes(stats StatsService, clock clockwork.Clock, logger *slog.Logger) *StorageRoutes {
	return &StorageRoutes{stats: stats, clock: clock, logger: logger}
}

// Register mounts the storage routes.
func (h *StorageRoutes) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/storage/stats", h.handleStats)
	mux.HandleFunc("POST /api/storage/stats/reset", h.handleReset)
	mux.HandleFunc("POST /api/storage/retention", h.handleRetention)
}

func (h *StorageRoutes) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		h.logger.Error("read consumer stats failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *StorageRoutes) handleReset(w http.ResponseWriter, _ *http.Request) {
	h.stats.ResetCounters()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *StorageRoutes) handleRetention(w http.ResponseWriter, r *http.Request) {
	age, err := time.ParseDuration(r.URL.Query().Get("olderThan"))
	if err != nil || age <= 0 {
		writeError(w, http.StatusBadRequest, "olderThan must be a positive duration such as 720h")
		return
	}
	cutoff := h.clock.Now().UTC().Add(-age)
	deleted, err := h.stats.Sweep(r.Context(), cutoff)
	if err != nil {
		h.logger.Error("retention sweep failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cutoff": cutoff, "deleted": deleted})
}
