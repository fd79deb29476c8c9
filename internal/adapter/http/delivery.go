package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/couchcryptid/weather-data-pipeline/internal/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 1000
	defaultLatest   = 10
	maxLatest       = 100
)

// WeatherQueries reads stored observations and their aggregates.
type WeatherQueries interface {
	Cities(ctx context.Context) ([]domain.CityCount, error)
	RowsByCity(ctx context.Context, city string, page, size int) (domain.Page, error)
	LatestRows(ctx context.Context, limit int) ([]domain.Row, error)
	Summary(ctx context.Context) (domain.Summary, error)
	CitySummaries(ctx context.Context) ([]domain.Summary, error)
}

// DeliveryRoutes serves the read-only weather and analytics endpoints.
type DeliveryRoutes struct {
	queries WeatherQueries
	logger  *slog.Logger
}

// NewDeliveryRoutes creates the delivery route set.
func NewDeliveryRoutes(queries WeatherQueries, logger *slog.Logger) *DeliveryRoutes {
	return &DeliveryRoutes{queries: queries, logger: logger}
}

// Register mounts the delivery routes.
func (h *DeliveryRoutes) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/weather/cities", h.handleCities)
	mux.HandleFunc("GET /api/weather/city/{name}", h.handleCity)
	mux.HandleFunc("GET /api/weather/latest", h.handleLatest)
	mux.HandleFunc("GET /api/analytics/summary", h.handleSummary)
	mux.HandleFunc("GET /api/analytics/cities", h.handleCitySummaries)
}

func (h *DeliveryRoutes) handleCities(w http.ResponseWriter, r *http.Request) {
	cities, err := h.queries.Cities(r.Context())
	if err != nil {
		h.fail(w, "list cities", err)
		return
	}
	if cities == nil {
		cities = []domain.CityCount{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"cities": cities, "cityCount": len(cities)})
}

func (h *DeliveryRoutes) handleCity(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page", 0, 0, 1<<20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	size, err := intParam(r, "size", defaultPageSize, 1, maxPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	city := r.PathValue("name")
	result, err := h.queries.RowsByCity(r.Context(), city, page, size)
	if err != nil {
		h.fail(w, "list city rows", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"city": city, "page": result})
}

func (h *DeliveryRoutes) handleLatest(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultLatest, 1, maxLatest)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.queries.LatestRows(r.Context(), limit)
	if err != nil {
		h.fail(w, "list latest rows", err)
		return
	}
	if rows == nil {
		rows = []domain.Row{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rows, "count": len(rows), "limit": limit})
}

func (h *DeliveryRoutes) handleSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.queries.Summary(r.Context())
	if err != nil {
		h.fail(w, "summarize", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *DeliveryRoutes) handleCitySummaries(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.queries.CitySummaries(r.Context())
	if err != nil {
		h.fail(w, "summarize cities", err)
		return
	}
	if summaries == nil {
		summaries = []domain.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"cities": summaries})
}

func (h *DeliveryRoutes) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, "query failed")
}
