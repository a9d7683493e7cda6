package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dandantas/tabwatch/internal/model"
	"github.com/dandantas/tabwatch/internal/recovery"
	"github.com/dandantas/tabwatch/internal/watcher"
	"github.com/dandantas/tabwatch/pkg/middleware"
)

// SessionStore is the part of the session store the HTTP layer uses
type SessionStore interface {
	SaveJob(ctx context.Context, rec model.JobRecord)
	GetJobData(ctx context.Context, jobID string) *model.JobRecord
	SetSelectedTier(ctx context.Context, jobID, tier string)
	TTL() time.Duration
}

// SessionHandler exposes session recovery and job registration
type SessionHandler struct {
	store    SessionStore
	recovery *recovery.Controller
	watchers *watcher.Manager
	logger   *slog.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(store SessionStore, rc *recovery.Controller, watchers *watcher.Manager, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		store:    store,
		recovery: rc,
		watchers: watchers,
		logger:   logger,
	}
}

// RegisterJobRequest is sent once the upload flow has created a job
type RegisterJobRequest struct {
	JobID        string `json:"jobId" validate:"required,max=128"`
	Credential   string `json:"credential" validate:"required,max=512"`
	SelectedTier string `json:"selectedTier,omitempty" validate:"omitempty,max=64"`
}

// SelectTierRequest records the tier chosen on the result page
type SelectTierRequest struct {
	Tier string `json:"tier" validate:"required,max=64"`
}

// JobResponse describes a stored job without its credential
type JobResponse struct {
	JobID        string          `json:"jobId"`
	Status       model.JobStatus `json:"status"`
	ResultID     string          `json:"resultId,omitempty"`
	SelectedTier string          `json:"selectedTier,omitempty"`
	CreatedAt    string          `json:"createdAt"`
	ExpiresAt    string          `json:"expiresAt"`
}

func (h *SessionHandler) jobResponse(rec *model.JobRecord) JobResponse {
	created := rec.Created().UTC()
	return JobResponse{
		JobID:        rec.JobID,
		Status:       rec.Status,
		ResultID:     rec.ResultID,
		SelectedTier: rec.SelectedTier,
		CreatedAt:    created.Format(time.RFC3339),
		ExpiresAt:    created.Add(h.store.TTL()).Format(time.RFC3339),
	}
}

// Recovery handles GET /api/v1/session/recovery
func (h *SessionHandler) Recovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.recovery.Decide(r.Context()))
}

// RegisterJob handles POST /api/v1/session/jobs
func (h *SessionHandler) RegisterJob(w http.ResponseWriter, r *http.Request) {
	var req RegisterJobRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}

	h.store.SaveJob(r.Context(), model.JobRecord{
		JobID:        req.JobID,
		Credential:   req.Credential,
		Status:       model.StatusPending,
		SelectedTier: req.SelectedTier,
	})
	rec := h.store.GetJobData(r.Context(), req.JobID)
	if rec == nil {
		writeError(w, http.StatusServiceUnavailable, "Session store unavailable")
		return
	}

	if h.watchers.Watch(r.Context(), req.JobID) == nil {
		writeError(w, http.StatusServiceUnavailable, "Shutting down")
		return
	}

	middleware.Logger(r.Context(), h.logger).Info("Job registered", "job_id", req.JobID)
	writeJSON(w, http.StatusCreated, h.jobResponse(rec))
}

// StartFresh handles DELETE /api/v1/session/jobs/{jobId}
func (h *SessionHandler) StartFresh(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	h.watchers.Forget(jobID)
	h.recovery.StartFresh(r.Context(), jobID)

	w.WriteHeader(http.StatusNoContent)
}

// SelectTier handles PUT /api/v1/session/jobs/{jobId}/tier
func (h *SessionHandler) SelectTier(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	var req SelectTierRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}

	if h.store.GetJobData(r.Context(), jobID) == nil {
		writeError(w, http.StatusNotFound, "Job session not found")
		return
	}
	h.store.SetSelectedTier(r.Context(), jobID, req.Tier)

	rec := h.store.GetJobData(r.Context(), jobID)
	if rec == nil {
		writeError(w, http.StatusNotFound, "Job session not found")
		return
	}
	writeJSON(w, http.StatusOK, h.jobResponse(rec))
}
