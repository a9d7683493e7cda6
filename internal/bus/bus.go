// Package bus provides the named publish/subscribe channel tabs use to
// coordinate. A Channel never receives its own posts and observes each
// sender's messages in send order.
package bus

import (
	"errors"
	"sync"

	"github.com/dandantas/tabwatch/internal/model"
)

// ErrClosed is returned when posting on a closed channel
var ErrClosed = errors.New("bus: channel closed")

// Bus opens named broadcast channels
type Bus interface {
	Open(name string) (Channel, error)
}

// Channel is one subscriber's handle on a named broadcast channel
type Channel interface {
	Post(msg model.CoordinatorMessage) error
	Messages() <-chan model.CoordinatorMessage
	Close() error
}

// inbox is an unbounded FIFO feeding a receive channel, so a slow reader
// never blocks a poster and never reorders messages.
type inbox struct {
	mu      sync.Mutex
	queue   []model.CoordinatorMessage
	signal  chan struct{}
	out     chan model.CoordinatorMessage
	done    chan struct{}
	stopped sync.Once
}

func newInbox() *inbox {
	in := &inbox{
		signal: make(chan struct{}, 1),
		out:    make(chan model.CoordinatorMessage),
		done:   make(chan struct{}),
	}
	go in.pump()
	return in
}

func (in *inbox) push(msg model.CoordinatorMessage) {
	in.mu.Lock()
	in.queue = append(in.queue, msg)
	in.mu.Unlock()

	select {
	case in.signal <- struct{}{}:
	default:
	}
}

func (in *inbox) pump() {
	defer close(in.out)
	for {
		in.mu.Lock()
		if len(in.queue) == 0 {
			in.mu.Unlock()
			select {
			case <-in.signal:
				continue
			case <-in.done:
				return
			}
		}
		msg := in.queue[0]
		in.queue = in.queue[1:]
		in.mu.Unlock()

		select {
		case in.out <- msg:
		case <-in.done:
			return
		}
	}
}

func (in *inbox) stop() {
	in.stopped.Do(func() { close(in.done) })
}
