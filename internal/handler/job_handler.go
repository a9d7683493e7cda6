package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dandantas/tabwatch/internal/model"
	"github.com/dandantas/tabwatch/internal/poller"
	"github.com/dandantas/tabwatch/internal/watcher"
)

// JobHandler exposes the live status of watched jobs
type JobHandler struct {
	store    SessionStore
	watchers *watcher.Manager
}

// NewJobHandler creates a new job handler
func NewJobHandler(store SessionStore, watchers *watcher.Manager) *JobHandler {
	return &JobHandler{
		store:    store,
		watchers: watchers,
	}
}

// JobStatusResponse is the watcher view of one job
type JobStatusResponse struct {
	watcher.Status
	Error string `json:"error,omitempty"`
}

// watcherFor returns the running watcher, resuming one for a stored job that
// is still in flight. A finished job gets no watcher; its record is returned
// instead.
func (h *JobHandler) watcherFor(w http.ResponseWriter, r *http.Request) (*watcher.Watcher, *model.JobRecord, bool) {
	jobID := chi.URLParam(r, "jobId")
	if wt, ok := h.watchers.Get(jobID); ok {
		return wt, nil, true
	}

	rec := h.store.GetJobData(r.Context(), jobID)
	if rec == nil {
		writeError(w, http.StatusNotFound, "Job session not found")
		return nil, nil, false
	}
	if rec.Status.IsTerminal() {
		return nil, rec, true
	}
	wt := h.watchers.Watch(r.Context(), jobID)
	if wt == nil {
		writeError(w, http.StatusServiceUnavailable, "Shutting down")
		return nil, nil, false
	}
	return wt, nil, true
}

// Status handles GET /api/v1/jobs/{jobId}/status
func (h *JobHandler) Status(w http.ResponseWriter, r *http.Request) {
	wt, rec, ok := h.watcherFor(w, r)
	if !ok {
		return
	}

	if wt == nil {
		writeJSON(w, http.StatusOK, JobStatusResponse{
			Status: watcher.Status{View: poller.ViewOf(rec.JobID, rec.Snapshot())},
		})
		return
	}

	status := wt.Status()
	writeJSON(w, http.StatusOK, JobStatusResponse{
		Status: status,
		Error:  status.ErrMessage(),
	})
}

// Refetch handles POST /api/v1/jobs/{jobId}/refetch. A finished job is not
// polled again.
func (h *JobHandler) Refetch(w http.ResponseWriter, r *http.Request) {
	wt, _, ok := h.watcherFor(w, r)
	if !ok {
		return
	}

	if wt != nil {
		wt.Refetch()
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "Refetch requested",
	})
}
