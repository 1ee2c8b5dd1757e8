package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Name identifies the kind of an event as seen by clients.
type Name string

const (
	TaskCreated Name = "taskCreated"
	TaskUpdate  Name = "taskUpdate"
	TaskDeleted Name = "taskDeleted"
)

// GlobalTopic receives events every connected client is interested in.
const GlobalTopic = "tasks"

const taskTopicPrefix = "task-"

// TaskTopic is the topic for updates to a single task.
func TaskTopic(taskID uuid.UUID) string {
	return taskTopicPrefix + taskID.String()
}

// ErrChannelClosed is returned when publishing or subscribing on a closed channel.
var ErrChannelClosed = errors.New("event channel is closed")

// Event is a single broadcast message.
type Event struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Name is the client-facing event name
	Name Name `json:"event"`

	// Topic is set on delivery to the topic the event was published to
	Topic string `json:"topic,omitempty"`

	// Key groups events that must reach subscribers in publish order, such
	// as all events of one task. It is not transmitted.
	Key string `json:"-"`

	// Data contains the event payload serialized as JSON
	Data json.RawMessage `json:"data"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewEvent creates an event with the given name and JSON-encoded payload.
func NewEvent(name Name, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", name, err)
	}
	return &Event{
		ID:        uuid.New(),
		Name:      name,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// UnmarshalData decodes the event payload into v.
func (e *Event) UnmarshalData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// withTopic returns a copy of e delivered on topic.
func (e *Event) withTopic(topic string) *Event {
	c := *e
	c.Topic = topic
	return &c
}

// Publisher sends an event to every current subscriber of topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *Event) error
}

// Subscription receives events for a changing set of topics.
type Subscription interface {
	// Events delivers received events. It is closed by Close.
	Events() <-chan *Event

	// Join adds topics to the subscription.
	Join(ctx context.Context, topics ...string) error

	// Leave removes topics from the subscription.
	Leave(ctx context.Context, topics ...string) error

	// Close ends the subscription.
	Close() error
}

// Channel is a publish/subscribe transport.
type Channel interface {
	Publisher

	// Subscribe opens a subscription initially joined to topics.
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)

	// Close releases the channel. Open subscriptions are closed.
	Close() error
}
