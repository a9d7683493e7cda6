package coordinator

import (
	"sync"
	"sync/atomic"

	"github.com/dandantas/tabwatch/internal/model"
)

// soloCoordinator stands in when no broadcast primitive exists: it is always
// leader and has nobody to talk to
type soloCoordinator struct {
	jobID    string
	senderID string
	closed   atomic.Bool
	once     sync.Once

	refetchSubs registry[func()]
	statusSubs  registry[func(model.StatusSnapshot)]
}

func newSolo(jobID string, o options) *soloCoordinator {
	c := &soloCoordinator{jobID: jobID, senderID: o.senderID}
	if o.onBecomeLeader != nil {
		o.onBecomeLeader()
	}
	return c
}

func (c *soloCoordinator) JobID() string    { return c.jobID }
func (c *soloCoordinator) SenderID() string { return c.senderID }

func (c *soloCoordinator) IsLeader() bool { return !c.closed.Load() }

func (c *soloCoordinator) State() State {
	if c.closed.Load() {
		return StateFollower
	}
	return StateLeader
}

func (c *soloCoordinator) Broadcast(model.StatusSnapshot) {}

func (c *soloCoordinator) RequestRefetch() {
	if c.closed.Load() {
		return
	}
	for _, fn := range c.refetchSubs.list() {
		fn()
	}
}

func (c *soloCoordinator) OnStatusUpdate(fn func(model.StatusSnapshot)) func() {
	return c.statusSubs.add(fn)
}

func (c *soloCoordinator) OnRefetchRequest(fn func()) func() {
	return c.refetchSubs.add(fn)
}

func (c *soloCoordinator) Close() {
	c.once.Do(func() {
		c.closed.Store(true)
		c.refetchSubs.clear()
		c.statusSubs.clear()
	})
}
