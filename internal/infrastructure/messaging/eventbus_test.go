package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
)

var at = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func lessonDone() shared.Event {
	return shared.NewLessonCompletedEvent("learner-1", "lesson-1", "course-1", at)
}

func TestInMemoryBusSync(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventLessonCompleted, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return errors.New("sink down")
	}))
	assert.Error(t, bus.Subscribe(shared.EventLessonCompleted, nil))

	require.NoError(t, bus.Publish(lessonDone()))
	require.NoError(t, bus.Publish(shared.NewDripChangedEvent("course-1", "", at)))

	assert.Equal(t, []shared.EventType{shared.EventLessonCompleted}, typed)
	assert.Equal(t, []shared.EventType{shared.EventLessonCompleted, shared.EventDripChanged}, all)

	stats := bus.Stats()
	assert.EqualValues(t, 2, stats.Published)
	assert.EqualValues(t, 1, stats.ByType[shared.EventDripChanged])
	assert.EqualValues(t, 1, stats.HandlerSuccesses)
	assert.EqualValues(t, 2, stats.HandlerFailures, "handler errors are counted, not returned")
}

func TestInMemoryBusRecoversPanics(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("boom") }))

	assert.NotPanics(t, func() { _ = bus.Publish(lessonDone()) })
	assert.EqualValues(t, 1, bus.Stats().HandlerFailures)
}

func TestInMemoryBusAsyncAndClose(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())

	var n atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		n.Add(1)
		return nil
	}))
	for i := 0; i < 20; i++ {
		require.NoError(t, bus.Publish(lessonDone()))
	}
	require.NoError(t, bus.Close())
	assert.LessOrEqual(t, n.Load(), int32(20))

	assert.ErrorIs(t, bus.Publish(lessonDone()), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
	assert.NoError(t, bus.Close(), "close is idempotent")
}

func TestFilterPublisher(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
	var got []shared.EventType
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		got = append(got, e.EventType())
		return nil
	}))

	pub := FilterPublisher(bus, func(e shared.Event) bool { return e.EventType() != shared.EventDripChanged })
	require.NoError(t, pub.Publish(shared.NewDripChangedEvent("course-1", "", at)))
	require.NoError(t, pub.Publish(lessonDone()))
	require.NoError(t, pub.Publish(nil))

	assert.Equal(t, []shared.EventType{shared.EventLessonCompleted}, got)
}

// loopback is a RedisClient whose channel is an in-process queue.
type loopback struct {
	mu        sync.Mutex
	published []string
	messages  chan RedisMessage
}

func newLoopback() *loopback {
	return &loopback{messages: make(chan RedisMessage, 16)}
}

func (l *loopback) Publish(_ context.Context, _ string, message string) error {
	l.mu.Lock()
	l.published = append(l.published, message)
	l.mu.Unlock()
	l.messages <- RedisMessage{Channel: "events", Payload: message}
	return nil
}

func (l *loopback) Subscribe(context.Context, string) (<-chan RedisMessage, error) {
	return l.messages, nil
}

func TestRedisBusReplaysOnlyForeignEvents(t *testing.T) {
	client := newLoopback()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:         client,
		InstanceID:     "node-a",
		LocalBusConfig: InMemoryEventBusConfig{},
	})
	require.NoError(t, err)
	defer bus.Close()

	received := make(chan shared.Event, 4)
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		received <- e
		return nil
	}))

	require.NoError(t, bus.Publish(lessonDone()))
	first := <-received
	assert.Equal(t, shared.EventLessonCompleted, first.EventType())

	client.mu.Lock()
	require.Len(t, client.published, 1)
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(client.published[0]), &env))
	client.mu.Unlock()
	assert.Equal(t, "node-a", env.InstanceID)
	assert.Equal(t, "lesson-1", env.AggregateID)

	env.InstanceID = "node-b"
	env.AggregateID = "lesson-2"
	data, err := json.Marshal(env)
	require.NoError(t, err)
	client.messages <- RedisMessage{Payload: "not json"}
	client.messages <- RedisMessage{Payload: string(data)}

	select {
	case e := <-received:
		assert.Equal(t, "lesson-2", e.AggregateID(), "own echo is skipped, foreign event replayed")
		assert.True(t, at.Equal(e.OccurredAt()))
	case <-time.After(2 * time.Second):
		t.Fatal("remote event was not replayed")
	}
}

func TestRedisBusRequiresClient(t *testing.T) {
	_, err := NewRedisEventBus(RedisEventBusConfig{})
	assert.Error(t, err)
}
