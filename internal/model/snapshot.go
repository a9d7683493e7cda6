package model

import "time"

// StatusSnapshot is one observation of a job's remote status. It is both the
// decoded status endpoint response and the payload of a status-update message.
type StatusSnapshot struct {
	Status       JobStatus `json:"status"`
	Stage        Stage     `json:"stage,omitempty"`
	Progress     int       `json:"progress"`
	ResultID     string    `json:"resultId,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ClampedProgress returns progress bounded to 0..100
func (s StatusSnapshot) ClampedProgress() int {
	switch {
	case s.Progress < 0:
		return 0
	case s.Progress > 100:
		return 100
	default:
		return s.Progress
	}
}
