package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/dandantas/tabwatch/internal/model"
)

// backendExpiryGrace keeps entries in the backend a little past their logical
// TTL so readers still get the chance to clean up the current-job pointer.
const backendExpiryGrace = time.Hour

const (
	currentJobKey    = "current_job"
	jobKeyPrefix     = "job:"
	credentialSuffix = ":credential"
	dataSuffix       = ":data"
)

// Store is the persistent session store. Every operation degrades to a
// logged no-op on backend failure; session continuity is a convenience.
type Store struct {
	backend Backend
	prefix  string
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithTTL overrides the session time-to-live
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithPrefix namespaces every key
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a session store on top of backend
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		ttl:     model.DefaultSessionTTL,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the configured time-to-live
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Now returns the store's notion of the current time
func (s *Store) Now() time.Time {
	return s.now()
}

func (s *Store) credentialKey(jobID string) string {
	return s.prefix + jobKeyPrefix + jobID + credentialSuffix
}

func (s *Store) dataKey(jobID string) string {
	return s.prefix + jobKeyPrefix + jobID + dataSuffix
}

func (s *Store) pointerKey() string {
	return s.prefix + currentJobKey
}

// jobIDFromDataKey reverses dataKey
func (s *Store) jobIDFromDataKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, s.prefix+jobKeyPrefix)
	if !ok {
		return "", false
	}
	return strings.CutSuffix(rest, dataSuffix)
}

// backendTTL is how long the backend should keep a record's entries
func (s *Store) backendTTL(rec *model.JobRecord) time.Duration {
	remaining := s.ttl - rec.Age(s.now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining + backendExpiryGrace
}

// SaveJob persists a newly created job and makes it the current job
func (s *Store) SaveJob(ctx context.Context, rec model.JobRecord) {
	if rec.CreatedAt == 0 {
		rec.CreatedAt = s.now().UnixMilli()
	}
	if rec.Status == "" {
		rec.Status = model.StatusPending
	}
	if err := rec.Validate(); err != nil {
		s.logger.Warn("Refusing to save invalid job record", "job_id", rec.JobID, "error", err)
		return
	}

	ttl := s.backendTTL(&rec)
	if err := s.backend.Set(ctx, s.credentialKey(rec.JobID), rec.Credential, ttl); err != nil {
		s.logger.Warn("Failed to save job credential", "job_id", rec.JobID, "error", err)
		return
	}
	if !s.writeRecord(ctx, &rec) {
		return
	}
	s.SetCurrentJob(ctx, rec.JobID)

	s.logger.Debug("Saved job session", "job", rec)
}

func (s *Store) writeRecord(ctx context.Context, rec *model.JobRecord) bool {
	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warn("Failed to encode job record", "job_id", rec.JobID, "error", err)
		return false
	}
	if err := s.backend.Set(ctx, s.dataKey(rec.JobID), string(data), s.backendTTL(rec)); err != nil {
		s.logger.Warn("Failed to save job record", "job_id", rec.JobID, "error", err)
		return false
	}
	return true
}

// GetJobData returns the live record for jobID, or nil. Expired and
// corrupted records are deleted as a side effect.
func (s *Store) GetJobData(ctx context.Context, jobID string) *model.JobRecord {
	if jobID == "" {
		return nil
	}
	raw, found, err := s.backend.Get(ctx, s.dataKey(jobID))
	if err != nil {
		s.logger.Warn("Failed to read job record", "job_id", jobID, "error", err)
		return nil
	}
	if !found {
		return nil
	}

	rec, err := decodeRecord(raw)
	if err != nil {
		s.logger.Warn("Discarding corrupted job record", "job_id", jobID, "error", err)
		s.ClearJob(ctx, jobID)
		return nil
	}
	if rec.Expired(s.now(), s.ttl) {
		s.logger.Info("Discarding expired job session", "job_id", jobID, "age", rec.Age(s.now()).String())
		s.ClearJob(ctx, jobID)
		return nil
	}
	return rec
}

func decodeRecord(raw string) (*model.JobRecord, error) {
	var rec model.JobRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetCredential returns the credential for a live job, or ""
func (s *Store) GetCredential(ctx context.Context, jobID string) string {
	if jobID == "" {
		return ""
	}
	if rec := s.GetJobData(ctx, jobID); rec != nil {
		return rec.Credential
	}

	// A credential written by an older client without a structured record
	raw, found, err := s.backend.Get(ctx, s.credentialKey(jobID))
	if err != nil {
		s.logger.Warn("Failed to read job credential", "job_id", jobID, "error", err)
		return ""
	}
	if !found {
		return ""
	}
	return raw
}

// UpdateStatus records the latest known status of a job. resultID is kept
// only for completed jobs.
func (s *Store) UpdateStatus(ctx context.Context, jobID string, status model.JobStatus, resultID string) {
	rec := s.GetJobData(ctx, jobID)
	if rec == nil {
		return
	}
	if !status.Valid() {
		s.logger.Warn("Ignoring unknown job status", "job_id", jobID, "status", status)
		return
	}
	if status == model.StatusCompleted && resultID == "" {
		s.logger.Warn("Ignoring completed status without result id", "job_id", jobID)
		return
	}
	if status != model.StatusCompleted {
		resultID = ""
	}
	if rec.Status == status && rec.ResultID == resultID {
		return
	}
	rec.Status = status
	rec.ResultID = resultID
	s.writeRecord(ctx, rec)
}

// SetSelectedTier remembers the pricing tier chosen for a job
func (s *Store) SetSelectedTier(ctx context.Context, jobID, tier string) {
	rec := s.GetJobData(ctx, jobID)
	if rec == nil {
		return
	}
	rec.SelectedTier = tier
	s.writeRecord(ctx, rec)
}

// SetCurrentJob points the current-job pointer at jobID
func (s *Store) SetCurrentJob(ctx context.Context, jobID string) {
	if err := s.backend.Set(ctx, s.pointerKey(), jobID, 0); err != nil {
		s.logger.Warn("Failed to save current job pointer", "job_id", jobID, "error", err)
	}
}

// GetCurrentJob returns the current job id if it references a live record.
// A dangling pointer is cleared.
func (s *Store) GetCurrentJob(ctx context.Context) string {
	jobID, found, err := s.backend.Get(ctx, s.pointerKey())
	if err != nil {
		s.logger.Warn("Failed to read current job pointer", "error", err)
		return ""
	}
	if !found || jobID == "" {
		return ""
	}
	if s.GetJobData(ctx, jobID) == nil {
		s.clearPointerIf(ctx, jobID)
		return ""
	}
	return jobID
}

// ClearCurrentJob removes the current-job pointer
func (s *Store) ClearCurrentJob(ctx context.Context) {
	if err := s.backend.Delete(ctx, s.pointerKey()); err != nil {
		s.logger.Warn("Failed to clear current job pointer", "error", err)
	}
}

func (s *Store) clearPointerIf(ctx context.Context, jobID string) {
	current, found, err := s.backend.Get(ctx, s.pointerKey())
	if err != nil {
		s.logger.Warn("Failed to read current job pointer", "error", err)
		return
	}
	if found && current == jobID {
		s.ClearCurrentJob(ctx)
	}
}

// ClearJob deletes everything stored for jobID, including the current-job
// pointer when it references jobID
func (s *Store) ClearJob(ctx context.Context, jobID string) {
	if err := s.backend.Delete(ctx, s.credentialKey(jobID), s.dataKey(jobID)); err != nil {
		s.logger.Warn("Failed to clear job session", "job_id", jobID, "error", err)
	}
	s.clearPointerIf(ctx, jobID)
}

// ClearStaleSessions deletes every expired or undecodable record and returns
// how many were removed. The current-job pointer is cleared only when it
// referenced a removed record.
func (s *Store) ClearStaleSessions(ctx context.Context) int {
	keys, err := s.backend.Keys(ctx, s.prefix+jobKeyPrefix)
	if err != nil {
		s.logger.Warn("Failed to list job sessions", "error", err)
		return 0
	}

	now := s.now()
	removed := 0
	for _, key := range keys {
		jobID, ok := s.jobIDFromDataKey(key)
		if !ok {
			continue
		}
		raw, found, err := s.backend.Get(ctx, key)
		if err != nil {
			s.logger.Warn("Failed to read job record during sweep", "job_id", jobID, "error", err)
			continue
		}
		if !found {
			continue
		}
		rec, err := decodeRecord(raw)
		if err == nil && !rec.Expired(now, s.ttl) {
			continue
		}
		s.ClearJob(ctx, jobID)
		removed++
	}

	if removed > 0 {
		s.logger.Info("Cleared stale job sessions", "count", removed)
	}
	return removed
}
