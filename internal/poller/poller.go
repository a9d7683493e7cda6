// Package poller polls the status endpoint for one job until it reaches a
// terminal state and derives the view the UI renders from each result.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dandantas/tabwatch/internal/model"
)

const (
	DefaultInterval   = 2500 * time.Millisecond
	DefaultSampleRate = 10
)

// Fetcher retrieves the current status of a job
type Fetcher interface {
	FetchStatus(ctx context.Context, jobID, credential string) (*model.StatusSnapshot, error)
}

// CredentialSource resolves the stored credential for a job. An empty string
// means none is stored.
type CredentialSource interface {
	GetCredential(ctx context.Context, jobID string) string
}

// Option configures a Poller
type Option func(*Poller)

// WithInterval overrides DefaultInterval
func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

// WithSampleRate emits poll_in_progress once every n in-flight polls
func WithSampleRate(n int) Option {
	return func(p *Poller) { p.sampleRate = n }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) { p.logger = logger }
}

// Poller runs the poll loop for at most one job at a time.
//
// Stop must not be called from an OnChange or OnResult callback.
type Poller struct {
	fetcher     Fetcher
	credentials CredentialSource
	tracker     Tracker
	interval    time.Duration
	sampleRate  int
	logger      *slog.Logger

	mu         sync.Mutex
	baseCtx    context.Context
	jobID      string
	credential string
	view       View
	gen        uint64
	paused     bool
	stopped    bool
	cancel     context.CancelFunc
	done       chan struct{}
	refetch    chan struct{}

	// tracking, reset per job
	polls           int
	terminalTracked bool
	startedAt       time.Time

	changeSubs []func(View)
	resultSubs []func(model.StatusSnapshot)
}

// New creates an idle poller. A nil tracker discards analytics.
func New(fetcher Fetcher, credentials CredentialSource, tracker Tracker, opts ...Option) *Poller {
	if tracker == nil {
		tracker = nopTracker{}
	}
	p := &Poller{
		fetcher:     fetcher,
		credentials: credentials,
		tracker:     tracker,
		interval:    DefaultInterval,
		sampleRate:  DefaultSampleRate,
		logger:      slog.Default(),
		baseCtx:     context.Background(),
		view:        View{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sampleRate < 1 {
		p.sampleRate = 1
	}
	return p
}

// OnChange registers fn to receive every view update
func (p *Poller) OnChange(fn func(View)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changeSubs = append(p.changeSubs, fn)
}

// OnResult registers fn to receive every snapshot fetched by this poller.
// Snapshots passed to Apply are not reported.
func (p *Poller) OnResult(fn func(model.StatusSnapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resultSubs = append(p.resultSubs, fn)
}

// View returns the current derived state
func (p *Poller) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

// JobID returns the job being watched, or "" when idle
func (p *Poller) JobID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobID
}

// SetJob switches the poller to jobID, resetting analytics tracking when the
// job changes. An empty jobID, or a job without a stored credential, leaves
// the poller idle and no request is made. Polling starts immediately unless
// paused.
func (p *Poller) SetJob(ctx context.Context, jobID string) {
	var credential string
	if jobID != "" {
		credential = p.credentials.GetCredential(ctx, jobID)
		if credential == "" {
			p.logger.Debug("No credential stored for job, poller stays idle", "job_id", jobID)
		}
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.haltLocked()
	p.baseCtx = context.WithoutCancel(ctx)
	if jobID != p.jobID {
		p.polls = 0
		p.terminalTracked = false
		p.startedAt = time.Now()
	}
	p.jobID = jobID
	p.credential = credential
	p.view = View{JobID: jobID, Phase: PhaseIdle}

	if credential != "" {
		p.view.Phase = PhasePolling
		if !p.paused {
			p.startLocked()
		}
	}
	view := p.view
	subs := p.changeSubs
	p.mu.Unlock()

	notify(subs, view)
}

// Pause stops polling but keeps the job and view. Apply keeps working.
func (p *Poller) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	p.haltLocked()
}

// Resume restarts polling after Pause, polling immediately. It does nothing
// once the job is terminal.
func (p *Poller) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.paused = false
	if p.credential == "" || p.view.Status.IsTerminal() || p.runningLocked() {
		return
	}
	p.startLocked()
}

// Refetch skips the wait for the next tick. It does nothing when the poller
// is idle, paused or terminal.
func (p *Poller) Refetch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.runningLocked() {
		return
	}
	select {
	case p.refetch <- struct{}{}:
	default:
	}
}

// Apply folds a snapshot received from another tab into the view. No
// analytics are emitted. A terminal snapshot also ends local polling.
func (p *Poller) Apply(snapshot model.StatusSnapshot) {
	p.mu.Lock()
	if p.stopped || p.jobID == "" {
		p.mu.Unlock()
		return
	}
	p.view.applySnapshot(snapshot)
	if snapshot.Status.IsTerminal() {
		p.haltLocked()
	}
	view := p.view
	subs := p.changeSubs
	p.mu.Unlock()

	notify(subs, view)
}

// Stop ends polling permanently and waits for an in-flight poll to return
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	done := p.haltLocked()
	p.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (p *Poller) runningLocked() bool {
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *Poller) startLocked() {
	ctx, cancel := context.WithCancel(p.baseCtx)
	p.gen++
	p.cancel = cancel
	p.done = make(chan struct{})
	p.refetch = make(chan struct{}, 1)
	go p.loop(ctx, cancel, p.gen, p.jobID, p.refetch, p.done)
}

// haltLocked cancels the running loop, if any, and returns its done channel
func (p *Poller) haltLocked() chan struct{} {
	p.gen++
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	done := p.done
	p.cancel = nil
	p.done = nil
	p.refetch = nil
	return done
}

func (p *Poller) loop(ctx context.Context, cancel context.CancelFunc, gen uint64, jobID string, refetch <-chan struct{}, done chan struct{}) {
	defer close(done)
	defer cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if finished := p.poll(ctx, gen, jobID); finished {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-refetch:
		}
	}
}

// poll performs one fetch and reports whether the loop should end. The
// credential is re-read on every poll; a cleared or expired session ends the
// loop without another request.
func (p *Poller) poll(ctx context.Context, gen uint64, jobID string) bool {
	credential := p.credentials.GetCredential(ctx, jobID)
	if credential == "" {
		p.release(ctx, gen, jobID)
		return true
	}

	snapshot, err := p.fetcher.FetchStatus(ctx, jobID, credential)
	if ctx.Err() != nil {
		return true
	}

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return true
	}

	if err != nil {
		p.view.Err = err
		view := p.view
		subs := p.changeSubs
		p.mu.Unlock()

		p.logger.Warn("Status poll failed", "job_id", jobID, "error", err)
		notify(subs, view)
		return false
	}

	p.polls++
	p.view.applySnapshot(*snapshot)
	events := p.eventsLocked(*snapshot)
	polls := p.polls
	view := p.view
	changeSubs := p.changeSubs
	resultSubs := p.resultSubs
	p.mu.Unlock()

	for _, fn := range resultSubs {
		fn(*snapshot)
	}
	for _, e := range events {
		p.tracker.Track(e.name, e.props)
	}
	notify(changeSubs, view)

	if snapshot.Status.IsTerminal() {
		p.logger.Info("Job reached terminal status, polling stopped",
			"job_id", jobID,
			"status", snapshot.Status,
			"polls", polls,
		)
		return true
	}
	return false
}

// release drops a job whose session is gone and returns the view to idle
func (p *Poller) release(ctx context.Context, gen uint64, jobID string) {
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.credential = ""
	p.view = View{JobID: jobID, Phase: PhaseIdle}
	view := p.view
	subs := p.changeSubs
	p.mu.Unlock()

	p.logger.Info("Job session no longer stored, polling stopped", "job_id", jobID)
	notify(subs, view)
}

type event struct {
	name  string
	props map[string]any
}

// eventsLocked decides which analytics events a fetched snapshot produces.
// In-flight polls are sampled; terminal events fire once per job.
func (p *Poller) eventsLocked(s model.StatusSnapshot) []event {
	var events []event

	if s.Status.IsActive() && p.polls%p.sampleRate == 0 {
		events = append(events, event{EventPollInProgress, map[string]any{
			"job_id":     p.jobID,
			"status":     string(s.Status),
			"stage":      string(s.Stage),
			"progress":   s.ClampedProgress(),
			"poll_count": p.polls,
		}})
	}

	if s.Status.IsTerminal() && !p.terminalTracked {
		p.terminalTracked = true
		elapsed := time.Since(p.startedAt).Milliseconds()
		switch s.Status {
		case model.StatusCompleted:
			events = append(events, event{EventJobCompleted, map[string]any{
				"job_id":      p.jobID,
				"result_id":   s.ResultID,
				"poll_count":  p.polls,
				"duration_ms": elapsed,
			}})
		case model.StatusFailed:
			events = append(events, event{EventJobFailed, map[string]any{
				"job_id":        p.jobID,
				"stage":         string(s.Stage),
				"error_message": s.ErrorMessage,
				"poll_count":    p.polls,
				"duration_ms":   elapsed,
			}})
		}
	}

	return events
}

func notify(subs []func(View), view View) {
	for _, fn := range subs {
		fn(view)
	}
}
