package poller

import (
	"github.com/dandantas/tabwatch/internal/model"
)

// Phase is the poll loop state
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePolling   Phase = "polling"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// View is the derived state the UI renders
type View struct {
	JobID        string          `json:"jobId,omitempty"`
	Phase        Phase           `json:"phase"`
	Status       model.JobStatus `json:"status,omitempty"`
	Stage        model.Stage     `json:"stage,omitempty"`
	StageLabel   string          `json:"stageLabel,omitempty"`
	Progress     int             `json:"progress"`
	ResultID     string          `json:"resultId,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	IsComplete   bool            `json:"isComplete"`
	IsFailed     bool            `json:"isFailed"`
	Err          error           `json:"-"`
}

// ErrMessage returns the last surfaced transport error text, if any
func (v View) ErrMessage() string {
	if v.Err == nil {
		return ""
	}
	return v.Err.Error()
}

// ViewOf derives the view of jobID from a single snapshot
func ViewOf(jobID string, s model.StatusSnapshot) View {
	v := View{JobID: jobID}
	v.applySnapshot(s)
	return v
}

// applySnapshot folds a status observation into the view
func (v *View) applySnapshot(s model.StatusSnapshot) {
	v.Status = s.Status
	v.Stage = s.Stage
	v.StageLabel = s.Stage.Label()
	v.Progress = s.ClampedProgress()
	v.ResultID = ""
	v.ErrorMessage = ""
	v.IsComplete = false
	v.IsFailed = false
	v.Err = nil

	switch s.Status {
	case model.StatusCompleted:
		v.Phase = PhaseCompleted
		v.IsComplete = true
		v.ResultID = s.ResultID
	case model.StatusFailed:
		v.Phase = PhaseFailed
		v.IsFailed = true
		v.ErrorMessage = s.ErrorMessage
	default:
		v.Phase = PhasePolling
	}
}
