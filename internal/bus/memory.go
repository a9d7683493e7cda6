package bus

import (
	"sync"

	"github.com/dandantas/tabwatch/internal/model"
)

// MemoryBus connects channels within one process
type MemoryBus struct {
	mu       sync.Mutex
	channels map[string]map[*memoryChannel]struct{}
}

// NewMemoryBus creates an empty in-process bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{channels: make(map[string]map[*memoryChannel]struct{})}
}

// Open subscribes a new channel to name
func (b *MemoryBus) Open(name string) (Channel, error) {
	ch := &memoryChannel{bus: b, name: name, inbox: newInbox()}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.channels[name] == nil {
		b.channels[name] = make(map[*memoryChannel]struct{})
	}
	b.channels[name][ch] = struct{}{}
	return ch, nil
}

func (b *MemoryBus) publish(from *memoryChannel, msg model.CoordinatorMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.channels[from.name] {
		if ch != from {
			ch.inbox.push(msg)
		}
	}
}

func (b *MemoryBus) remove(ch *memoryChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.channels[ch.name], ch)
	if len(b.channels[ch.name]) == 0 {
		delete(b.channels, ch.name)
	}
}

type memoryChannel struct {
	bus    *MemoryBus
	name   string
	inbox  *inbox
	mu     sync.Mutex
	closed bool
}

func (c *memoryChannel) Post(msg model.CoordinatorMessage) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	c.bus.publish(c, msg)
	return nil
}

func (c *memoryChannel) Messages() <-chan model.CoordinatorMessage {
	return c.inbox.out
}

func (c *memoryChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.bus.remove(c)
	c.inbox.stop()
	return nil
}
