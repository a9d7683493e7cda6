// Package recovery decides, once per app load, whether the user resumes a
// persisted job, is sent straight to its result, or starts fresh.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/dandantas/tabwatch/internal/model"
)

// Action is what the landing experience should do
type Action string

const (
	ActionNone     Action = "none"
	ActionRedirect Action = "redirect"
	ActionPrompt   Action = "prompt"
)

// Resume labels shown on the recovery prompt
const (
	ResumeContinue      = "Continue"
	ResumeCheckProgress = "Check Progress"
)

// Decision is the outcome of evaluating the persisted session
type Decision struct {
	Action       Action          `json:"action"`
	JobID        string          `json:"jobId,omitempty"`
	Status       model.JobStatus `json:"status,omitempty"`
	ResultID     string          `json:"resultId,omitempty"`
	ResumeLabel  string          `json:"resumeLabel,omitempty"`
	SelectedTier string          `json:"selectedTier,omitempty"`
	CreatedAt    *time.Time      `json:"createdAt,omitempty"`
}

// SessionStore is the part of the session store the controller needs.
// *session.Store satisfies it.
type SessionStore interface {
	GetCurrentJob(ctx context.Context) string
	GetJobData(ctx context.Context, jobID string) *model.JobRecord
	ClearJob(ctx context.Context, jobID string)
	ClearCurrentJob(ctx context.Context)
	ClearStaleSessions(ctx context.Context) int
}

// Controller evaluates the persisted session
type Controller struct {
	store  SessionStore
	logger *slog.Logger
}

// NewController creates a recovery controller. A nil logger uses the default.
func NewController(store SessionStore, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{store: store, logger: logger}
}

// Decide evaluates the current-job pointer in order: nothing to resume,
// finished job to show, unfinished job to offer. Failed jobs are treated as
// absent so they never block a fresh attempt.
func (c *Controller) Decide(ctx context.Context) Decision {
	jobID := c.store.GetCurrentJob(ctx)
	if jobID == "" {
		return Decision{Action: ActionNone}
	}
	rec := c.store.GetJobData(ctx, jobID)
	if rec == nil {
		return Decision{Action: ActionNone}
	}

	created := rec.Created()
	switch rec.Status {
	case model.StatusCompleted:
		if rec.ResultID == "" {
			return Decision{Action: ActionNone}
		}
		return Decision{
			Action:       ActionRedirect,
			JobID:        rec.JobID,
			Status:       rec.Status,
			ResultID:     rec.ResultID,
			SelectedTier: rec.SelectedTier,
			CreatedAt:    &created,
		}
	case model.StatusPending, model.StatusProcessing:
		label := ResumeCheckProgress
		if rec.Status == model.StatusPending {
			label = ResumeContinue
		}
		return Decision{
			Action:       ActionPrompt,
			JobID:        rec.JobID,
			Status:       rec.Status,
			ResumeLabel:  label,
			SelectedTier: rec.SelectedTier,
			CreatedAt:    &created,
		}
	default:
		return Decision{Action: ActionNone}
	}
}

// StartFresh deletes jobID and the current-job pointer if it references it.
// An empty jobID discards whatever job is current.
func (c *Controller) StartFresh(ctx context.Context, jobID string) {
	if jobID == "" {
		jobID = c.store.GetCurrentJob(ctx)
		if jobID == "" {
			c.store.ClearCurrentJob(ctx)
			return
		}
	}
	c.store.ClearJob(ctx, jobID)
	c.logger.Info("Session discarded, starting fresh", "job_id", jobID)
}

// Sweep removes every expired or unreadable job record
func (c *Controller) Sweep(ctx context.Context) int {
	removed := c.store.ClearStaleSessions(ctx)
	if removed > 0 {
		c.logger.Info("Cleared stale job sessions", "count", removed)
	}
	return removed
}

// Run sweeps stale sessions and then decides, as done once at app load
func (c *Controller) Run(ctx context.Context) Decision {
	c.Sweep(ctx)
	d := c.Decide(ctx)
	c.logger.Info("Session recovery decided",
		"action", d.Action,
		"job_id", d.JobID,
		"status", d.Status,
	)
	return d
}
