// Package watcher ties the election, the poll loop and the session store
// together for one job: only the elected leader polls, persists and
// broadcasts; followers render what the leader sends them.
package watcher

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dandantas/tabwatch/internal/bus"
	"github.com/dandantas/tabwatch/internal/coordinator"
	"github.com/dandantas/tabwatch/internal/model"
	"github.com/dandantas/tabwatch/internal/poller"
)

// StatusStore persists the latest status of a job. *session.Store satisfies it.
type StatusStore interface {
	poller.CredentialSource
	UpdateStatus(ctx context.Context, jobID string, status model.JobStatus, resultID string)
}

// Status is a watcher's view plus its election state
type Status struct {
	poller.View
	Leader bool   `json:"leader"`
	Role   string `json:"role"`
}

type options struct {
	tracker         poller.Tracker
	pollerOpts      []poller.Option
	coordinatorOpts []coordinator.Option
	logger          *slog.Logger
}

// Option configures a Watcher
type Option func(*options)

// WithTracker sets the analytics sink used while leading
func WithTracker(t poller.Tracker) Option {
	return func(o *options) { o.tracker = t }
}

// WithPollerOptions passes options through to the poller
func WithPollerOptions(opts ...poller.Option) Option {
	return func(o *options) { o.pollerOpts = append(o.pollerOpts, opts...) }
}

// WithCoordinatorOptions passes options through to the coordinator
func WithCoordinatorOptions(opts ...coordinator.Option) Option {
	return func(o *options) { o.coordinatorOpts = append(o.coordinatorOpts, opts...) }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Watcher follows one job in one tab
type Watcher struct {
	jobID  string
	store  StatusStore
	poller *poller.Poller
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	coord coordinator.Coordinator

	unsubscribe []func()
	ready       chan struct{}
	finishOnce  sync.Once
	closeOnce   sync.Once
	done        chan struct{}
}

// New starts watching jobID. A nil bus makes this watcher poll on its own.
func New(ctx context.Context, jobID string, store StatusStore, b bus.Bus, fetcher poller.Fetcher, opts ...Option) *Watcher {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("job_id", jobID)

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &Watcher{
		jobID:  jobID,
		store:  store,
		logger: logger,
		ctx:    wctx,
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}

	pollerOpts := append([]poller.Option{poller.WithLogger(logger)}, o.pollerOpts...)
	w.poller = poller.New(fetcher, store, o.tracker, pollerOpts...)
	w.poller.OnResult(w.publish)
	w.poller.OnChange(w.onChange)

	// Nothing is fetched until this tab wins the election
	w.poller.Pause()
	w.poller.SetJob(wctx, jobID)

	coordOpts := append([]coordinator.Option{coordinator.WithLogger(o.logger)}, o.coordinatorOpts...)
	coordOpts = append(coordOpts,
		coordinator.WithOnBecomeLeader(w.onBecomeLeader),
		coordinator.WithOnLoseLeadership(w.onLoseLeadership),
	)
	coord := coordinator.New(b, jobID, coordOpts...)

	w.mu.Lock()
	w.coord = coord
	w.mu.Unlock()

	w.unsubscribe = append(w.unsubscribe,
		coord.OnStatusUpdate(w.poller.Apply),
		coord.OnRefetchRequest(w.poller.Refetch),
	)
	close(w.ready)
	return w
}

func (w *Watcher) coordinator() coordinator.Coordinator {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.coord
}

func (w *Watcher) onBecomeLeader() {
	w.logger.Info("Tab became leader, polling job status")
	w.poller.Resume()
}

func (w *Watcher) onLoseLeadership() {
	w.logger.Info("Tab lost leadership, following broadcast status")
	w.poller.Pause()
}

// publish persists a fetched snapshot and relays it to the other tabs
func (w *Watcher) publish(snapshot model.StatusSnapshot) {
	w.store.UpdateStatus(w.ctx, w.jobID, snapshot.Status, snapshot.ResultID)
	if c := w.coordinator(); c != nil {
		c.Broadcast(snapshot)
	}
}

// onChange retires the watcher once the job is terminal or its session is
// gone. Close runs on its own goroutine since callbacks must not call it.
func (w *Watcher) onChange(v poller.View) {
	if !v.Status.IsTerminal() && v.Phase != poller.PhaseIdle {
		return
	}
	w.finishOnce.Do(func() {
		w.logger.Debug("Nothing left to watch, closing watcher", "phase", v.Phase)
		go func() {
			<-w.ready
			w.Close()
		}()
	})
}

// JobID returns the watched job
func (w *Watcher) JobID() string { return w.jobID }

// IsLeader reports whether this tab currently polls for the job
func (w *Watcher) IsLeader() bool {
	c := w.coordinator()
	return c != nil && c.IsLeader()
}

// Status returns the current view and election state
func (w *Watcher) Status() Status {
	s := Status{View: w.poller.View()}
	if c := w.coordinator(); c != nil {
		s.Leader = c.IsLeader()
		s.Role = c.State().String()
	}
	return s
}

// OnChange registers fn to receive every view update
func (w *Watcher) OnChange(fn func(poller.View)) {
	w.poller.OnChange(fn)
}

// Refetch asks whichever tab leads to poll now
func (w *Watcher) Refetch() {
	if c := w.coordinator(); c != nil {
		c.RequestRefetch()
	}
}

// Done is closed once the watcher has shut down, either through Close or on
// its own after the job finished or its session was removed
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Close stops polling and leaves the election. It is idempotent.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		defer close(w.done)
		for _, unsub := range w.unsubscribe {
			unsub()
		}
		if c := w.coordinator(); c != nil {
			c.Close()
		}
		w.poller.Stop()
		w.cancel()
		w.logger.Debug("Watcher closed")
	})
}
