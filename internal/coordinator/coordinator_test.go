package coordinator

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dandantas/tabwatch/internal/bus"
	"github.com/dandantas/tabwatch/internal/model"
	"github.com/dandantas/tabwatch/internal/testutil"
)

func testTimings() Timings {
	return Timings{
		ClaimTimeout:      60 * time.Millisecond,
		HeartbeatInterval: 30 * time.Millisecond,
		HeartbeatTimeout:  300 * time.Millisecond,
		ElectionCheck:     20 * time.Millisecond,
		ResignReclaim:     15 * time.Millisecond,
	}
}

func newTestCoordinator(t *testing.T, b bus.Bus, jobID, sender string, opts ...Option) Coordinator {
	t.Helper()
	opts = append([]Option{WithSenderID(sender), WithTimings(testTimings())}, opts...)
	c := New(b, jobID, opts...)
	t.Cleanup(c.Close)
	return c
}

func leaders(cs ...Coordinator) []string {
	var out []string
	for _, c := range cs {
		if c.IsLeader() {
			out = append(out, c.SenderID())
		}
	}
	return out
}

// recorder is a bus channel peer that captures every message on the bus
type recorder struct {
	mu   sync.Mutex
	msgs []model.CoordinatorMessage
	ch   bus.Channel
}

func newRecorder(t *testing.T, b bus.Bus) *recorder {
	t.Helper()
	ch, err := b.Open(DefaultChannelName)
	testutil.AssertNotError(t, err, "open recorder")
	r := &recorder{ch: ch}
	go func() {
		for msg := range ch.Messages() {
			r.mu.Lock()
			r.msgs = append(r.msgs, msg)
			r.mu.Unlock()
		}
	}()
	t.Cleanup(func() { ch.Close() })
	return r
}

func (r *recorder) count(typ model.MessageType, sender string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.Type == typ && m.SenderID == sender {
			n++
		}
	}
	return n
}

func TestSingleCoordinatorBecomesLeader(t *testing.T) {
	var became atomic.Int32
	c := newTestCoordinator(t, bus.NewMemoryBus(), "job-1", "a",
		WithOnBecomeLeader(func() { became.Add(1) }))

	testutil.AssertEquals(t, c.State(), StateElecting)
	testutil.Eventually(t, time.Second, c.IsLeader, "lone coordinator should lead")
	testutil.AssertEquals(t, became.Load(), int32(1))
}

func TestSmallerSenderWinsElection(t *testing.T) {
	for _, order := range [][]string{{"a", "b"}, {"b", "a"}} {
		t.Run(order[0]+order[1], func(t *testing.T) {
			b := bus.NewMemoryBus()
			first := newTestCoordinator(t, b, "job-1", order[0])
			time.Sleep(20 * time.Millisecond)
			second := newTestCoordinator(t, b, "job-1", order[1])

			testutil.Eventually(t, time.Second, func() bool {
				l := leaders(first, second)
				return len(l) == 1 && l[0] == "a"
			}, "exactly a should lead")
			testutil.Never(t, 200*time.Millisecond, func() bool {
				return len(leaders(first, second)) != 1
			}, "leadership should stay with a")
		})
	}
}

func TestManyCoordinatorsConverge(t *testing.T) {
	b := bus.NewMemoryBus()
	var cs []Coordinator
	for _, id := range []string{"e", "c", "d", "a", "b"} {
		cs = append(cs, newTestCoordinator(t, b, "job-1", id))
		time.Sleep(5 * time.Millisecond)
	}

	testutil.Eventually(t, time.Second, func() bool {
		l := leaders(cs...)
		return len(l) == 1 && l[0] == "a"
	}, "a should lead")
	testutil.Never(t, 200*time.Millisecond, func() bool {
		return len(leaders(cs...)) != 1
	}, "exactly one leader")
}

func TestLeaderStepsDownForSmallerLateComer(t *testing.T) {
	b := bus.NewMemoryBus()
	var lost atomic.Int32
	late := newTestCoordinator(t, b, "job-1", "b",
		WithOnLoseLeadership(func() { lost.Add(1) }))
	testutil.Eventually(t, time.Second, late.IsLeader, "b leads alone")

	early := newTestCoordinator(t, b, "job-1", "a")
	testutil.Eventually(t, time.Second, func() bool {
		return early.IsLeader() && !late.IsLeader()
	}, "a takes over")
	testutil.AssertEquals(t, lost.Load(), int32(1))
}

func TestCoordinatorsForOtherJobsIgnoreEachOther(t *testing.T) {
	b := bus.NewMemoryBus()
	one := newTestCoordinator(t, b, "job-1", "a")
	two := newTestCoordinator(t, b, "job-2", "b")

	testutil.Eventually(t, time.Second, func() bool {
		return one.IsLeader() && two.IsLeader()
	}, "each job has its own leader")
}

func TestResignFailoverIsFasterThanHeartbeatTimeout(t *testing.T) {
	b := bus.NewMemoryBus()
	leader := New(b, "job-1", WithSenderID("a"), WithTimings(testTimings()))
	testutil.Eventually(t, time.Second, leader.IsLeader, "a leads")
	follower := newTestCoordinator(t, b, "job-1", "b")
	testutil.Eventually(t, time.Second, func() bool {
		return follower.State() == StateFollower
	}, "b follows")
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	leader.Close()
	testutil.Eventually(t, time.Second, follower.IsLeader, "b takes over")
	elapsed := time.Since(start)

	testutil.Assert(t, elapsed < testTimings().HeartbeatTimeout,
		"resign failover took "+elapsed.String())
}

// mutedBus drops every post from its channels once muted, standing in for a
// tab that died without saying goodbye
type mutedBus struct {
	bus.Bus
	muted *atomic.Bool
}

func (b mutedBus) Open(name string) (bus.Channel, error) {
	ch, err := b.Bus.Open(name)
	if err != nil {
		return nil, err
	}
	return mutedChannel{Channel: ch, muted: b.muted}, nil
}

type mutedChannel struct {
	bus.Channel
	muted *atomic.Bool
}

func (c mutedChannel) Post(msg model.CoordinatorMessage) error {
	if c.muted.Load() {
		return nil
	}
	return c.Channel.Post(msg)
}

func TestCrashedLeaderIsReplacedAfterTimeout(t *testing.T) {
	b := bus.NewMemoryBus()
	var crashed atomic.Bool
	leader := newTestCoordinator(t, mutedBus{Bus: b, muted: &crashed}, "job-1", "a")
	testutil.Eventually(t, time.Second, leader.IsLeader, "a leads")
	follower := newTestCoordinator(t, b, "job-1", "b")
	testutil.Eventually(t, time.Second, func() bool {
		return follower.State() == StateFollower
	}, "b follows")

	start := time.Now()
	crashed.Store(true)

	testutil.Eventually(t, 2*time.Second, follower.IsLeader, "b takes over after silence")
	elapsed := time.Since(start)
	testutil.Assert(t, elapsed >= testTimings().HeartbeatTimeout,
		"takeover should wait for the heartbeat timeout, took "+elapsed.String())
}

func TestCloseIsIdempotentAndResignsOnce(t *testing.T) {
	b := bus.NewMemoryBus()
	rec := newRecorder(t, b)
	c := New(b, "job-1", WithSenderID("a"), WithTimings(testTimings()))
	testutil.Eventually(t, time.Second, c.IsLeader, "a leads")

	c.Close()
	c.Close()

	testutil.Eventually(t, time.Second, func() bool {
		return rec.count(model.MessageResign, "a") == 1
	}, "one resign")
	testutil.Never(t, 100*time.Millisecond, func() bool {
		return rec.count(model.MessageResign, "a") > 1
	}, "no duplicate resign")
	testutil.Assert(t, !c.IsLeader(), "closed coordinator is not leader")

	heartbeats := rec.count(model.MessageHeartbeat, "a")
	time.Sleep(3 * testTimings().HeartbeatInterval)
	testutil.AssertEquals(t, rec.count(model.MessageHeartbeat, "a"), heartbeats)

	// misuse after close is harmless
	c.Broadcast(model.StatusSnapshot{Status: model.StatusProcessing})
	c.RequestRefetch()
}

func TestBroadcastReachesFollowersOnly(t *testing.T) {
	b := bus.NewMemoryBus()
	leader := newTestCoordinator(t, b, "job-1", "a")
	testutil.Eventually(t, time.Second, leader.IsLeader, "a leads")
	follower := newTestCoordinator(t, b, "job-1", "b")
	testutil.Eventually(t, time.Second, func() bool {
		return follower.State() == StateFollower
	}, "b follows")

	var got atomic.Value
	follower.OnStatusUpdate(func(s model.StatusSnapshot) { got.Store(s) })
	var leaderGot atomic.Int32
	leader.OnStatusUpdate(func(model.StatusSnapshot) { leaderGot.Add(1) })

	// a follower never publishes status
	follower.Broadcast(model.StatusSnapshot{Status: model.StatusFailed})
	leader.Broadcast(model.StatusSnapshot{Status: model.StatusCompleted, ResultID: "r1", Progress: 100})

	testutil.Eventually(t, time.Second, func() bool {
		s, ok := got.Load().(model.StatusSnapshot)
		return ok && s.ResultID == "r1"
	}, "follower receives leader status")
	testutil.AssertEquals(t, leaderGot.Load(), int32(0))
}

func TestRequestRefetchRoutesToLeader(t *testing.T) {
	b := bus.NewMemoryBus()
	leader := newTestCoordinator(t, b, "job-1", "a")
	testutil.Eventually(t, time.Second, leader.IsLeader, "a leads")
	follower := newTestCoordinator(t, b, "job-1", "b")
	testutil.Eventually(t, time.Second, func() bool {
		return follower.State() == StateFollower
	}, "b follows")

	var leaderRefetches, followerRefetches atomic.Int32
	leader.OnRefetchRequest(func() { leaderRefetches.Add(1) })
	follower.OnRefetchRequest(func() { followerRefetches.Add(1) })

	follower.RequestRefetch()
	testutil.Eventually(t, time.Second, func() bool { return leaderRefetches.Load() == 1 }, "leader refetches")
	testutil.AssertEquals(t, followerRefetches.Load(), int32(0))

	// leader refetch runs synchronously
	leader.RequestRefetch()
	testutil.AssertEquals(t, leaderRefetches.Load(), int32(2))
	testutil.AssertEquals(t, followerRefetches.Load(), int32(0))
}

func TestUnsubscribeTwiceIsSafe(t *testing.T) {
	c := New(nil, "job-1")
	defer c.Close()

	var calls atomic.Int32
	unsubscribe := c.OnRefetchRequest(func() { calls.Add(1) })
	c.RequestRefetch()
	unsubscribe()
	unsubscribe()
	c.RequestRefetch()
	testutil.AssertEquals(t, calls.Load(), int32(1))
}

type failingBus struct{}

func (failingBus) Open(string) (bus.Channel, error) { return nil, errors.New("not supported") }

func TestFallbackIsAlwaysLeader(t *testing.T) {
	for name, b := range map[string]bus.Bus{"nil": nil, "failing": failingBus{}} {
		t.Run(name, func(t *testing.T) {
			var became atomic.Int32
			c := New(b, "job-1", WithOnBecomeLeader(func() { became.Add(1) }))
			testutil.Assert(t, c.IsLeader(), "fallback leads immediately")
			testutil.AssertEquals(t, became.Load(), int32(1))

			var refetches atomic.Int32
			c.OnRefetchRequest(func() { refetches.Add(1) })
			c.RequestRefetch()
			testutil.AssertEquals(t, refetches.Load(), int32(1))
			c.Broadcast(model.StatusSnapshot{Status: model.StatusCompleted, ResultID: "r"})

			c.Close()
			c.Close()
			testutil.Assert(t, !c.IsLeader(), "closed fallback is not leader")
			c.RequestRefetch()
			testutil.AssertEquals(t, refetches.Load(), int32(1))
		})
	}
}
