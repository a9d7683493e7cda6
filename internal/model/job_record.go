package model

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultSessionTTL is how long a persisted job stays resumable
const DefaultSessionTTL = 24 * time.Hour

// ErrInvalidRecord is returned when a persisted record breaks its invariants
var ErrInvalidRecord = errors.New("invalid job record")

// JobRecord is the per-job session state persisted for resume across reloads
type JobRecord struct {
	JobID        string    `json:"jobId" validate:"required"`
	Credential   string    `json:"credential" validate:"required"` // Opaque capability, never logged
	CreatedAt    int64     `json:"createdAt" validate:"gt=0"`     // Epoch milliseconds
	Status       JobStatus `json:"status" validate:"required,oneof=pending processing completed failed"`
	ResultID     string    `json:"resultId,omitempty"`
	SelectedTier string    `json:"selectedTier,omitempty"`
}

// ValidationError represents a field-level validation failure
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRecord
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared struct validator
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks struct tags and the resultId/status invariant
func (r *JobRecord) Validate() error {
	if err := Validator().Struct(r); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			fe := validationErrors[0]
			return &ValidationError{
				Field:   fe.Field(),
				Message: fmt.Sprintf("failed on '%s' validation", fe.Tag()),
			}
		}
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	// resultId is present if and only if the job completed
	if r.Status == StatusCompleted && r.ResultID == "" {
		return &ValidationError{Field: "ResultID", Message: "required when status is completed"}
	}
	if r.Status != StatusCompleted && r.ResultID != "" {
		return &ValidationError{Field: "ResultID", Message: "only allowed when status is completed"}
	}

	return nil
}

// Snapshot returns the last persisted status as a status observation
func (r *JobRecord) Snapshot() StatusSnapshot {
	s := StatusSnapshot{Status: r.Status, ResultID: r.ResultID}
	switch r.Status {
	case StatusCompleted:
		s.Stage = StageComplete
		s.Progress = 100
	case StatusFailed:
		s.Stage = StageFailed
	}
	return s
}

// Created returns the creation time
func (r *JobRecord) Created() time.Time {
	return time.UnixMilli(r.CreatedAt)
}

// Age returns how long ago the record was created
func (r *JobRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.Created())
}

// Expired reports whether the record is older than ttl
func (r *JobRecord) Expired(now time.Time, ttl time.Duration) bool {
	return r.Age(now) > ttl
}

// LogValue keeps the credential out of structured logs
func (r JobRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("job_id", r.JobID),
		slog.String("status", string(r.Status)),
		slog.String("result_id", r.ResultID),
		slog.Int64("created_at", r.CreatedAt),
	)
}
