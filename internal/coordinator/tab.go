package coordinator

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dandantas/tabwatch/internal/bus"
	"github.com/dandantas/tabwatch/internal/model"
)

// tabCoordinator runs the election over a broadcast channel. All election
// state is owned by the run goroutine; only the public state flag is shared.
type tabCoordinator struct {
	jobID    string
	senderID string
	timings  Timings
	channel  bus.Channel
	logger   *slog.Logger

	onBecomeLeader   func()
	onLoseLeadership func()

	state  atomic.Int32
	closed atomic.Bool

	statusSubs  registry[func(model.StatusSnapshot)]
	refetchSubs registry[func()]

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}

	// owned by run
	leaderID       string
	lastLeaderSeen time.Time
	claimTimer     *time.Timer
	claimC         <-chan time.Time
	heartbeat      *time.Ticker
	heartbeatC     <-chan time.Time
}

func newTab(ch bus.Channel, jobID string, o options) *tabCoordinator {
	c := &tabCoordinator{
		jobID:            jobID,
		senderID:         o.senderID,
		timings:          o.timings,
		channel:          ch,
		logger:           o.logger,
		onBecomeLeader:   o.onBecomeLeader,
		onLoseLeadership: o.onLoseLeadership,
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}

	c.claim(c.timings.ClaimTimeout)
	check := time.NewTicker(c.timings.ElectionCheck)
	go c.run(check)
	return c
}

func (c *tabCoordinator) JobID() string    { return c.jobID }
func (c *tabCoordinator) SenderID() string { return c.senderID }

func (c *tabCoordinator) State() State { return State(c.state.Load()) }

func (c *tabCoordinator) IsLeader() bool {
	return !c.closed.Load() && c.State() == StateLeader
}

func (c *tabCoordinator) Broadcast(snapshot model.StatusSnapshot) {
	if !c.IsLeader() {
		return
	}
	c.post(model.MessageStatusUpdate, &snapshot)
}

func (c *tabCoordinator) RequestRefetch() {
	if c.closed.Load() {
		return
	}
	if c.IsLeader() {
		c.runRefetch()
		return
	}
	c.post(model.MessageRefetchRequest, nil)
}

func (c *tabCoordinator) OnStatusUpdate(fn func(model.StatusSnapshot)) func() {
	return c.statusSubs.add(fn)
}

func (c *tabCoordinator) OnRefetchRequest(fn func()) func() {
	return c.refetchSubs.add(fn)
}

func (c *tabCoordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done
	})
}

func (c *tabCoordinator) post(typ model.MessageType, payload *model.StatusSnapshot) {
	msg := model.CoordinatorMessage{
		Type:      typ,
		SenderID:  c.senderID,
		JobID:     c.jobID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
	if err := c.channel.Post(msg); err != nil {
		c.logger.Debug("Failed to post coordinator message", "type", typ, "error", err)
	}
}

func (c *tabCoordinator) runRefetch() {
	for _, fn := range c.refetchSubs.list() {
		fn()
	}
}

func (c *tabCoordinator) run(check *time.Ticker) {
	defer close(c.done)
	defer check.Stop()

	msgs := c.channel.Messages()
	for {
		select {
		case <-c.stop:
			c.shutdown()
			return
		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			c.handle(msg)
		case <-c.claimC:
			c.claimC = nil
			if c.State() == StateElecting {
				c.becomeLeader()
			}
		case <-c.heartbeatC:
			c.post(model.MessageHeartbeat, nil)
		case <-check.C:
			c.checkLeader()
		}
	}
}

func (c *tabCoordinator) handle(msg model.CoordinatorMessage) {
	if msg.JobID != c.jobID || msg.SenderID == c.senderID {
		return
	}

	switch msg.Type {
	case model.MessageHeartbeat:
		c.onLeaderSignal(msg.SenderID)
	case model.MessageClaim:
		c.onClaim(msg.SenderID)
	case model.MessageResign:
		c.onResign(msg.SenderID)
	case model.MessageStatusUpdate:
		c.onLeaderSignal(msg.SenderID)
		if c.State() != StateLeader && msg.Payload != nil {
			for _, fn := range c.statusSubs.list() {
				fn(*msg.Payload)
			}
		}
	case model.MessageRefetchRequest:
		if c.State() == StateLeader {
			c.logger.Debug("Refetch requested by follower", "from", msg.SenderID)
			c.runRefetch()
		}
	}
}

// onLeaderSignal handles evidence that sender acts as leader
func (c *tabCoordinator) onLeaderSignal(sender string) {
	switch c.State() {
	case StateLeader:
		if sender < c.senderID {
			c.stepDown(sender, false)
			return
		}
		c.post(model.MessageHeartbeat, nil)
	case StateElecting:
		c.becomeFollower(sender)
	case StateFollower:
		c.leaderID = sender
		c.lastLeaderSeen = time.Now()
	}
}

func (c *tabCoordinator) onClaim(sender string) {
	switch c.State() {
	case StateLeader:
		if sender < c.senderID {
			// Announce so followers re-elect instead of waiting out the timeout
			c.stepDown("", true)
			return
		}
		c.post(model.MessageHeartbeat, nil)
	case StateElecting:
		if sender < c.senderID {
			c.becomeFollower("")
			return
		}
		// The claimant may have missed our claim
		c.post(model.MessageClaim, nil)
	}
}

func (c *tabCoordinator) onResign(sender string) {
	if c.State() != StateFollower {
		return
	}
	if c.leaderID != "" && c.leaderID != sender {
		return
	}
	c.logger.Debug("Leader resigned, claiming leadership", "previous_leader", sender)
	c.claim(c.timings.ResignReclaim)
}

func (c *tabCoordinator) checkLeader() {
	if c.State() != StateFollower {
		return
	}
	if time.Since(c.lastLeaderSeen) <= c.timings.HeartbeatTimeout {
		return
	}
	c.logger.Info("Leader heartbeat timed out, claiming leadership",
		"previous_leader", c.leaderID,
		"silent_for_ms", time.Since(c.lastLeaderSeen).Milliseconds(),
	)
	c.claim(c.timings.ClaimTimeout)
}

// claim announces candidacy and arms the one-shot claim timer
func (c *tabCoordinator) claim(wait time.Duration) {
	c.state.Store(int32(StateElecting))
	c.leaderID = ""
	c.stopClaimTimer()
	c.claimTimer = time.NewTimer(wait)
	c.claimC = c.claimTimer.C
	c.post(model.MessageClaim, nil)
}

func (c *tabCoordinator) becomeLeader() {
	c.stopClaimTimer()
	c.state.Store(int32(StateLeader))
	c.leaderID = c.senderID
	c.post(model.MessageHeartbeat, nil)
	c.heartbeat = time.NewTicker(c.timings.HeartbeatInterval)
	c.heartbeatC = c.heartbeat.C

	c.logger.Info("Became leader")
	if c.onBecomeLeader != nil {
		c.onBecomeLeader()
	}
}

// becomeFollower leaves the electing state. An empty leader means a smaller
// candidate is still electing; its heartbeat is given the usual grace.
func (c *tabCoordinator) becomeFollower(leader string) {
	c.stopClaimTimer()
	c.state.Store(int32(StateFollower))
	c.leaderID = leader
	c.lastLeaderSeen = time.Now()
	c.logger.Debug("Following", "leader", leader)
}

func (c *tabCoordinator) stepDown(leader string, announce bool) {
	c.stopHeartbeat()
	c.state.Store(int32(StateFollower))
	c.leaderID = leader
	c.lastLeaderSeen = time.Now()
	if announce {
		c.post(model.MessageResign, nil)
	}

	c.logger.Info("Lost leadership", "leader", leader)
	if c.onLoseLeadership != nil {
		c.onLoseLeadership()
	}
}

func (c *tabCoordinator) stopClaimTimer() {
	if c.claimTimer != nil {
		c.claimTimer.Stop()
		c.claimTimer = nil
	}
	c.claimC = nil
}

func (c *tabCoordinator) stopHeartbeat() {
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
	c.heartbeatC = nil
}

func (c *tabCoordinator) shutdown() {
	wasLeader := c.State() == StateLeader
	c.closed.Store(true)
	c.state.Store(int32(StateFollower))

	if wasLeader {
		c.post(model.MessageResign, nil)
	}
	c.stopClaimTimer()
	c.stopHeartbeat()
	if err := c.channel.Close(); err != nil {
		c.logger.Debug("Failed to close broadcast channel", "error", err)
	}
	c.statusSubs.clear()
	c.refetchSubs.clear()

	c.logger.Debug("Coordinator closed", "was_leader", wasLeader)
}
