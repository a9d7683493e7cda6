package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dandantas/tabwatch/internal/model"
)

// RedisBus carries channels over Redis Pub/Sub so tabs in different
// processes can coordinate
type RedisBus struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisBus creates a bus on rdb. Channel names are namespaced by prefix.
func NewRedisBus(rdb *redis.Client, prefix string) *RedisBus {
	return &RedisBus{rdb: rdb, prefix: prefix}
}

// envelope tags each message with the posting channel so a subscriber can
// drop its own posts, which Redis would otherwise echo back
type envelope struct {
	Origin  string                   `json:"origin"`
	Message model.CoordinatorMessage `json:"message"`
}

// Open subscribes to name and waits for the subscription to be confirmed
func (b *RedisBus) Open(name string) (Channel, error) {
	ctx, cancel := context.WithCancel(context.Background())
	topic := b.prefix + name

	pubsub := b.rdb.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	ch := &redisChannel{
		rdb:    b.rdb,
		topic:  topic,
		origin: uuid.NewString(),
		pubsub: pubsub,
		inbox:  newInbox(),
		ctx:    ctx,
		cancel: cancel,
	}
	ch.wg.Add(1)
	go ch.receive()
	return ch, nil
}

type redisChannel struct {
	rdb    *redis.Client
	topic  string
	origin string
	pubsub *redis.PubSub
	inbox  *inbox
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func (c *redisChannel) receive() {
	defer c.wg.Done()
	for m := range c.pubsub.Channel() {
		var env envelope
		if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
			slog.Warn("Dropping undecodable bus message", "topic", c.topic, "error", err)
			continue
		}
		if env.Origin == c.origin {
			continue
		}
		c.inbox.push(env.Message)
	}
}

func (c *redisChannel) Post(msg model.CoordinatorMessage) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(envelope{Origin: c.origin, Message: msg})
	if err != nil {
		return fmt.Errorf("failed to encode bus message: %w", err)
	}
	if err := c.rdb.Publish(c.ctx, c.topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", c.topic, err)
	}
	return nil
}

func (c *redisChannel) Messages() <-chan model.CoordinatorMessage {
	return c.inbox.out
}

func (c *redisChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.pubsub.Close()
	c.cancel()
	c.wg.Wait()
	c.inbox.stop()
	return err
}
