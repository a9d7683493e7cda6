package poller

import (
	"log/slog"
)

// Analytics events emitted by the poller
const (
	EventPollInProgress = "poll_in_progress"
	EventJobCompleted   = "job_completed"
	EventJobFailed      = "job_failed"
)

// Tracker receives analytics events
type Tracker interface {
	Track(event string, props map[string]any)
}

// SlogTracker writes analytics events to a structured logger
type SlogTracker struct {
	logger *slog.Logger
}

// NewSlogTracker creates a tracker logging through logger, or the default
// logger when nil
func NewSlogTracker(logger *slog.Logger) *SlogTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogTracker{logger: logger.With("component", "analytics")}
}

func (t *SlogTracker) Track(event string, props map[string]any) {
	args := make([]any, 0, 2+len(props)*2)
	args = append(args, "event", event)
	for k, v := range props {
		args = append(args, k, v)
	}
	t.logger.Info("Analytics event", args...)
}

type nopTracker struct{}

func (nopTracker) Track(string, map[string]any) {}
