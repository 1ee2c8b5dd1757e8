package events

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/taskboard-api/internal/platform/logger"
)

// TaskDeletedPayload is the data of a taskDeleted event.
type TaskDeletedPayload struct {
	TaskID uuid.UUID `json:"taskId"`
}

// Broadcaster publishes task lifecycle events. Its methods never fail:
// encoding and publishing errors are logged. Every event is keyed by its
// task ID, so the events of one task keep their order through a Dispatcher.
type Broadcaster struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewBroadcaster creates a Broadcaster publishing through p.
func NewBroadcaster(p Publisher, log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		publisher: p,
		logger:    log.With(slog.String("component", "broadcaster")),
	}
}

// TaskCreated announces a new task on the global topic.
func (b *Broadcaster) TaskCreated(ctx context.Context, taskID uuid.UUID, task any) {
	b.emit(ctx, GlobalTopic, taskID, TaskCreated, task)
}

// TaskUpdated announces a changed task to the subscribers of that task.
func (b *Broadcaster) TaskUpdated(ctx context.Context, taskID uuid.UUID, task any) {
	b.emit(ctx, TaskTopic(taskID), taskID, TaskUpdate, task)
}

// TaskDeleted announces a removed task on the global topic.
func (b *Broadcaster) TaskDeleted(ctx context.Context, taskID uuid.UUID) {
	b.emit(ctx, GlobalTopic, taskID, TaskDeleted, TaskDeletedPayload{TaskID: taskID})
}

func (b *Broadcaster) emit(ctx context.Context, topic string, taskID uuid.UUID, name Name, payload any) {
	log := logger.FromContextOrDefault(ctx, b.logger)

	event, err := NewEvent(name, payload)
	if err != nil {
		log.Error("failed to build event",
			slog.String("event", string(name)),
			slog.String("error", err.Error()))
		return
	}
	event.Key = taskID.String()

	if err := b.publisher.Publish(ctx, topic, event); err != nil {
		log.Warn("failed to broadcast event",
			slog.String("topic", topic),
			slog.String("event", string(name)),
			slog.String("event_id", event.ID.String()),
			slog.String("error", err.Error()))
		return
	}

	log.Debug("broadcast event",
		slog.String("topic", topic),
		slog.String("event", string(name)),
		slog.String("event_id", event.ID.String()))
}
