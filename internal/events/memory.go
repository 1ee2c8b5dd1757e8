package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/phrazzld/taskboard-api/internal/platform/logger"
)

// DefaultSubscriptionBuffer is the per-subscription event buffer of the
// in-memory channel.
const DefaultSubscriptionBuffer = 64

// MemoryChannel is an in-process Channel. A subscriber that falls behind by
// more than its buffer misses events.
type MemoryChannel struct {
	mu     sync.RWMutex
	topics map[string]map[*memorySubscription]struct{}
	closed bool
	buffer int
	logger *slog.Logger
}

// NewMemoryChannel creates an empty in-memory channel.
func NewMemoryChannel(log *slog.Logger) *MemoryChannel {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryChannel{
		topics: make(map[string]map[*memorySubscription]struct{}),
		buffer: DefaultSubscriptionBuffer,
		logger: log.With(slog.String("component", "memory_event_channel")),
	}
}

// Publish implements Publisher.
func (c *MemoryChannel) Publish(ctx context.Context, topic string, event *Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrChannelClosed
	}

	delivered := event.withTopic(topic)
	for sub := range c.topics[topic] {
		select {
		case sub.ch <- delivered:
		default:
			logger.FromContextOrDefault(ctx, c.logger).Warn("subscriber buffer full, dropping event",
				slog.String("topic", topic),
				slog.String("event", string(event.Name)),
				slog.String("event_id", event.ID.String()))
		}
	}
	return nil
}

// Subscribe implements Channel.
func (c *MemoryChannel) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	sub := &memorySubscription{
		parent: c,
		ch:     make(chan *Event, c.buffer),
		joined: make(map[string]struct{}),
	}
	if err := sub.Join(ctx, topics...); err != nil {
		return nil, err
	}
	return sub, nil
}

// Subscribers returns the number of subscriptions joined to topic.
func (c *MemoryChannel) Subscribers(topic string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.topics[topic])
}

// Close implements Channel.
func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	closing := make(map[*memorySubscription]struct{})
	for _, subs := range c.topics {
		for sub := range subs {
			closing[sub] = struct{}{}
		}
	}
	for sub := range closing {
		sub.closeLocked()
	}
	c.topics = nil
	return nil
}

type memorySubscription struct {
	parent *MemoryChannel
	ch     chan *Event
	// joined and done are guarded by parent.mu
	joined map[string]struct{}
	done   bool
}

func (s *memorySubscription) Events() <-chan *Event {
	return s.ch
}

func (s *memorySubscription) Join(_ context.Context, topics ...string) error {
	c := s.parent
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || s.done {
		return ErrChannelClosed
	}
	for _, t := range topics {
		subs, ok := c.topics[t]
		if !ok {
			subs = make(map[*memorySubscription]struct{})
			c.topics[t] = subs
		}
		subs[s] = struct{}{}
		s.joined[t] = struct{}{}
	}
	return nil
}

func (s *memorySubscription) Leave(_ context.Context, topics ...string) error {
	c := s.parent
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range topics {
		s.leaveLocked(t)
	}
	return nil
}

func (s *memorySubscription) leaveLocked(topic string) {
	c := s.parent
	delete(s.joined, topic)
	if subs, ok := c.topics[topic]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(c.topics, topic)
		}
	}
}

func (s *memorySubscription) Close() error {
	c := s.parent
	c.mu.Lock()
	defer c.mu.Unlock()

	s.closeLocked()
	return nil
}

// closeLocked must be called with parent.mu held for writing, which also
// guarantees no Publish is sending on ch.
func (s *memorySubscription) closeLocked() {
	if s.done {
		return
	}
	for t := range s.joined {
		s.leaveLocked(t)
	}
	s.done = true
	close(s.ch)
}
