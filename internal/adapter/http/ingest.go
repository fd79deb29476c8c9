package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/couchcryptid/weather-data-pipeline/internal/domain"
	"github.com/couchcryptid/weather-data-pipeline/internal/pipeline"
)

// Ingestor is the control surface the ingest routes drive.
type Ingestor interface {
	Start(ctx context.Context, path string) (*pipeline.Job, error)
	Status(ctx context.Context, id string) (domain.JobStatus, error)
	PublishTestRecord(ctx context.Context) (domain.Record, error)
}

// IngestRoutes serves the ingestor's /api/weather endpoints.
type IngestRoutes struct {
	ingestor    Ingestor
	defaultPath string
	topic       string
	logger      *slog.Logger
}

// NewIngestRoutes creates the ingest route set. defaultPath is the file
// ingested by /api/weather/ingest/local.
func NewIngestRoutes(ingestor Ingestor, defaultPath, topic string, logger *slog.Logger) *IngestRoutes {
	return &IngestRoutes{ingestor: ingestor, defaultPath: defaultPath, topic: topic, logger: logger}
}

// Register mounts the ingest routes.
func (h *IngestRoutes) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/weather/ingest", h.handleIngest)
	mux.HandleFunc("POST /api/weather/ingest/local", h.handleIngestLocal)
	mux.HandleFunc("GET /api/weather/ingest/{id}", h.handleJobStatus)
	mux.HandleFunc("POST /api/weather/test", h.handleTestRecord)
	mux.HandleFunc("GET /api/weather/status", h.handleServiceStatus)
}

func (h *IngestRoutes) handleIngest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := q.Get("path")
	if path == "" {
		path = q.Get("csvFilePath")
	}
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}
	h.start(w, r, path)
}

func (h *IngestRoutes) handleIngestLocal(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, h.defaultPath)
}

func (h *IngestRoutes) start(w http.ResponseWriter, r *http.Request, path string) {
	job, err := h.ingestor.Start(r.Context(), path)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, job.Status())
	case errors.Is(err, pipeline.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrPermission):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("start ingest failed", "path", path, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *IngestRoutes) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.ingestor.Status(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, st)
	case errors.Is(err, domain.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("load job status failed", "job_id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *IngestRoutes) handleTestRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.ingestor.PublishTestRecord(r.Context())
	if err != nil {
		h.logger.Error("publish test record failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *IngestRoutes) handleServiceStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service":          "weather-ingestor",
		"kafkaTopic":       h.topic,
		"supportedFormats": "CSV",
		"defaultFile":      h.defaultPath,
	})
}
