// Package redis implements the event channel on Redis pub/sub, so that
// several server instances share one broadcast fabric.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/phrazzld/taskboard-api/internal/events"
	"github.com/phrazzld/taskboard-api/internal/platform/logger"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces the Redis channels used for topics.
const DefaultKeyPrefix = "taskboard:"

const subscriptionBuffer = 64

// Channel implements events.Channel over Redis PUBLISH/SUBSCRIBE.
type Channel struct {
	client goredis.UniversalClient
	prefix string
	owned  bool
	logger *slog.Logger
}

// NewChannel wraps an existing client. The caller keeps ownership of client.
func NewChannel(client goredis.UniversalClient, log *slog.Logger) *Channel {
	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		client: client,
		prefix: DefaultKeyPrefix,
		logger: log.With(slog.String("component", "redis_event_channel")),
	}
}

// Dial connects to the Redis server at url (redis://...) and verifies the
// connection. Closing the returned Channel closes the client.
func Dial(ctx context.Context, url string, log *slog.Logger) (*Channel, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	c := NewChannel(client, log)
	c.owned = true
	return c, nil
}

func (c *Channel) key(topic string) string {
	return c.prefix + topic
}

func (c *Channel) keys(topics []string) []string {
	out := make([]string, len(topics))
	for i, t := range topics {
		out[i] = c.key(t)
	}
	return out
}

// Publish implements events.Publisher.
func (c *Channel) Publish(ctx context.Context, topic string, event *events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := c.client.Publish(ctx, c.key(topic), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe implements events.Channel.
func (c *Channel) Subscribe(ctx context.Context, topics ...string) (events.Subscription, error) {
	ps := c.client.Subscribe(ctx, c.keys(topics)...)
	if len(topics) > 0 {
		// Wait for the confirmation so that events published after
		// Subscribe returns are not missed.
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("failed to subscribe: %w", err)
		}
	}

	sub := &subscription{
		channel: c,
		ps:      ps,
		out:     make(chan *events.Event, subscriptionBuffer),
		log:     logger.FromContextOrDefault(ctx, c.logger),
	}
	go sub.forward()
	return sub, nil
}

// Close releases the client when the channel created it.
func (c *Channel) Close() error {
	if !c.owned {
		return nil
	}
	if err := c.client.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}

type subscription struct {
	channel *Channel
	ps      *goredis.PubSub
	out     chan *events.Event
	log     *slog.Logger
	once    sync.Once
}

func (s *subscription) Events() <-chan *events.Event {
	return s.out
}

func (s *subscription) Join(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	return s.ps.Subscribe(ctx, s.channel.keys(topics)...)
}

func (s *subscription) Leave(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	return s.ps.Unsubscribe(ctx, s.channel.keys(topics)...)
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
	})
	return err
}

// forward decodes messages until the PubSub is closed.
func (s *subscription) forward() {
	defer close(s.out)

	for msg := range s.ps.Channel() {
		var ev events.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			s.log.Warn("discarding undecodable event",
				slog.String("channel", msg.Channel),
				slog.String("error", err.Error()))
			continue
		}
		ev.Topic = strings.TrimPrefix(msg.Channel, s.channel.prefix)

		select {
		case s.out <- &ev:
		default:
			s.log.Warn("subscriber buffer full, dropping event",
				slog.String("topic", ev.Topic),
				slog.String("event", string(ev.Name)))
		}
	}
}
