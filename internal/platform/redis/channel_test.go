package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/phrazzld/taskboard-api/internal/events"
	"github.com/phrazzld/taskboard-api/internal/platform/logger"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChannel(t *testing.T) (*Channel, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	log, _ := logger.NewTestLogger()
	c, err := Dial(context.Background(), "redis://"+mr.Addr(), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func receive(t *testing.T, sub events.Subscription) *events.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func waitForSubscribers(t *testing.T, c *Channel, topic string, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		counts, err := c.client.PubSubNumSub(context.Background(), c.key(topic)).Result()
		return err == nil && counts[c.key(topic)] == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChannel_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestChannel(t)

	sub, err := c.Subscribe(ctx, events.GlobalTopic)
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	taskID := uuid.New()
	ev, err := events.NewEvent(events.TaskDeleted, events.TaskDeletedPayload{TaskID: taskID})
	require.NoError(t, err)
	require.NoError(t, c.Publish(ctx, events.GlobalTopic, ev))

	got := receive(t, sub)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, events.TaskDeleted, got.Name)
	assert.Equal(t, events.GlobalTopic, got.Topic)

	var payload events.TaskDeletedPayload
	require.NoError(t, got.UnmarshalData(&payload))
	assert.Equal(t, taskID, payload.TaskID)
}

func TestChannel_JoinAndLeave(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestChannel(t)
	topic := events.TaskTopic(uuid.New())

	sub, err := c.Subscribe(ctx, events.GlobalTopic)
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	require.NoError(t, sub.Join(ctx, topic))
	waitForSubscribers(t, c, topic, 1)

	ev, err := events.NewEvent(events.TaskUpdate, map[string]string{"title": "t"})
	require.NoError(t, err)
	require.NoError(t, c.Publish(ctx, topic, ev))
	assert.Equal(t, topic, receive(t, sub).Topic)

	require.NoError(t, sub.Leave(ctx, topic))
	waitForSubscribers(t, c, topic, 0)
}

func TestChannel_CloseEndsSubscription(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestChannel(t)

	sub, err := c.Subscribe(ctx, events.GlobalTopic)
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel was not closed")
	}
}

func TestChannel_WorksWithBroadcasterAndDispatcher(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestChannel(t)
	log, _ := logger.NewTestLogger()

	sub, err := c.Subscribe(ctx, events.GlobalTopic)
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	d := events.NewDispatcher(c, events.DefaultDispatcherConfig(), log)
	d.Start()
	b := events.NewBroadcaster(d, log)

	b.TaskCreated(ctx, uuid.New(), map[string]string{"title": "async"})
	require.NoError(t, d.Stop(ctx))

	got := receive(t, sub)
	assert.Equal(t, events.TaskCreated, got.Name)
	assert.JSONEq(t, `{"title":"async"}`, string(got.Data))
}

func TestDial_Errors(t *testing.T) {
	_, err := Dial(context.Background(), "not-a-url", nil)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = Dial(context.Background(), "redis://"+addr, nil)
	assert.Error(t, err)
}

func TestNewChannel_DoesNotCloseBorrowedClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	c := NewChannel(client, nil)
	require.NoError(t, c.Close())
	assert.NoError(t, client.Ping(context.Background()).Err())
}
