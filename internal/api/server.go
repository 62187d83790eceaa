// Package api exposes the HTTP interface for the harvester service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/placepulse/review-harvester/internal/config"
	"github.com/placepulse/review-harvester/internal/dispatch"
	"github.com/placepulse/review-harvester/internal/harvest"
	"github.com/placepulse/review-harvester/internal/metrics"
)

// Server wires HTTP handlers to the dispatch controller.
type Server struct {
	router     chi.Router
	controller *dispatch.Controller
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(controller *dispatch.Controller, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		controller: controller,
		cfg:        cfg,
		logger:     logger,
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))

		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())

		r.Route("/v1/jobs/{job_id}", func(r chi.Router) {
			r.Get("/status", s.getJobStatus)
			r.Post("/cancel", s.cancelJob)
		})
	})

	// Synchronous submissions block until the job is terminal; a collection
	// run may take hours, so the route carries no server-side deadline.
	r.Post("/v1/jobs", s.submitJob)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req harvest.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	job, err := s.controller.Submit(r.Context(), req)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}

	// Async submissions acknowledge the created job; sync ones return the
	// terminal record.
	status := http.StatusOK
	if !job.State.Terminal() {
		status = http.StatusAccepted
	}
	writeJSON(w, status, job)
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	var verr *harvest.ValidationError
	var conflict *harvest.ConflictError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Error())
	case errors.Is(err, dispatch.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("job submission failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "job submission failed")
	}
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}
	job, err := s.controller.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, harvest.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("job status lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "job status lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}
	if err := s.controller.Cancel(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, harvest.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, harvest.ErrStateConflict):
			writeError(w, http.StatusConflict, "job already finished")
		default:
			s.logger.Error("job cancel failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "job cancel failed")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID.String(),
		"status": "cancellation requested",
	})
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "job_id must be a UUID")
		return uuid.Nil, false
	}
	return jobID, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
