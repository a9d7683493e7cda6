// Package coordinator elects one leader among the tabs watching the same job
// so that only the leader polls the status endpoint, and relays the leader's
// results to the other tabs.
package coordinator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dandantas/tabwatch/internal/bus"
	"github.com/dandantas/tabwatch/internal/model"
)

// DefaultChannelName is shared by every coordinator of a deployment; messages
// are scoped by their embedded job id.
const DefaultChannelName = "job-status-coordinator"

// State is the election state of one coordinator
type State int32

const (
	StateElecting State = iota
	StateLeader
	StateFollower
)

func (s State) String() string {
	switch s {
	case StateElecting:
		return "electing"
	case StateLeader:
		return "leader"
	case StateFollower:
		return "follower"
	default:
		return "unknown"
	}
}

// Timings controls the election cadence
type Timings struct {
	ClaimTimeout      time.Duration // Wait after a claim before assuming leadership
	HeartbeatInterval time.Duration // Leader heartbeat period
	HeartbeatTimeout  time.Duration // Silence after which followers re-elect
	ElectionCheck     time.Duration // How often followers check leader liveness
	ResignReclaim     time.Duration // Claim window used after a leader resigns
}

// DefaultTimings returns the reference cadence
func DefaultTimings() Timings {
	return Timings{
		ClaimTimeout:      500 * time.Millisecond,
		HeartbeatInterval: 2000 * time.Millisecond,
		HeartbeatTimeout:  5000 * time.Millisecond,
		ElectionCheck:     1000 * time.Millisecond,
		ResignReclaim:     100 * time.Millisecond,
	}
}

// Coordinator is one tab's participant in the election for one job.
// Methods never panic or return errors; after Close they are no-ops.
type Coordinator interface {
	JobID() string
	SenderID() string
	IsLeader() bool
	State() State

	// Broadcast publishes a status snapshot to followers. Followers never
	// publish status, so this is a no-op unless leader.
	Broadcast(snapshot model.StatusSnapshot)

	// RequestRefetch runs the refetch callbacks when leader, otherwise asks
	// the leader to do so.
	RequestRefetch()

	OnStatusUpdate(fn func(model.StatusSnapshot)) (unsubscribe func())
	OnRefetchRequest(fn func()) (unsubscribe func())

	// Close resigns leadership if held and releases timers and the channel.
	// It is idempotent. It must not be called from inside a callback.
	Close()
}

type options struct {
	senderID         string
	channelName      string
	timings          Timings
	onBecomeLeader   func()
	onLoseLeadership func()
	logger           *slog.Logger
}

// Option configures a Coordinator
type Option func(*options)

// WithSenderID fixes the tie-break identifier instead of a random one
func WithSenderID(id string) Option {
	return func(o *options) { o.senderID = id }
}

// WithChannelName overrides DefaultChannelName
func WithChannelName(name string) Option {
	return func(o *options) { o.channelName = name }
}

// WithTimings overrides DefaultTimings
func WithTimings(t Timings) Option {
	return func(o *options) { o.timings = t }
}

// WithOnBecomeLeader is called each time this coordinator gains leadership
func WithOnBecomeLeader(fn func()) Option {
	return func(o *options) { o.onBecomeLeader = fn }
}

// WithOnLoseLeadership is called each time this coordinator gives up
// leadership to another tab
func WithOnLoseLeadership(fn func()) Option {
	return func(o *options) { o.onLoseLeadership = fn }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New starts a coordinator for jobID on b. When b is nil or the channel
// cannot be opened, the returned coordinator is a standalone leader and every
// tab polls on its own.
func New(b bus.Bus, jobID string, opts ...Option) Coordinator {
	o := options{
		senderID:    uuid.NewString(),
		channelName: DefaultChannelName,
		timings:     DefaultTimings(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("job_id", jobID, "sender_id", o.senderID)

	if b == nil {
		o.logger.Info("Broadcast bus unavailable, coordinating as a standalone leader")
		return newSolo(jobID, o)
	}
	ch, err := b.Open(o.channelName)
	if err != nil {
		o.logger.Warn("Failed to open broadcast channel, coordinating as a standalone leader", "error", err)
		return newSolo(jobID, o)
	}
	return newTab(ch, jobID, o)
}

// registry is a set of callbacks with explicit disposers
type registry[T any] struct {
	mu   sync.Mutex
	next uint64
	fns  map[uint64]T
}

func (r *registry[T]) add(fn T) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fns == nil {
		r.fns = make(map[uint64]T)
	}
	id := r.next
	r.next++
	r.fns[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.fns, id)
	}
}

func (r *registry[T]) list() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, 0, len(r.fns))
	for _, fn := range r.fns {
		out = append(out, fn)
	}
	return out
}

func (r *registry[T]) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns = nil
}
