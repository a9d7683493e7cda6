package model

// JobStatus represents the lifecycle status of a portrait generation job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further status transitions are expected
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive reports whether the job is still in flight
func (s JobStatus) IsActive() bool {
	return s == StatusPending || s == StatusProcessing
}

// Valid reports whether s is one of the known statuses
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Stage is the finer-grained processing step reported by the status endpoint.
// The zero value means the server did not report a stage.
type Stage string

const (
	StageNone         Stage = ""
	StageValidating   Stage = "validating"
	StageGenerating   Stage = "generating"
	StageStoring      Stage = "storing"
	StageWatermarking Stage = "watermarking"
	StageComplete     Stage = "complete"
	StageFailed       Stage = "failed"
)

// Label returns a short human readable description of the stage
func (s Stage) Label() string {
	switch s {
	case StageValidating:
		return "Checking your ultrasound"
	case StageGenerating:
		return "Creating your portrait"
	case StageStoring:
		return "Saving your portrait"
	case StageWatermarking:
		return "Preparing your preview"
	case StageComplete:
		return "Your portrait is ready"
	case StageFailed:
		return "Something went wrong"
	default:
		return ""
	}
}
