// Package messaging delivers domain events published after a commit to
// in-process subscribers and, optionally, to other instances through Redis
// Pub/Sub. Delivery is best effort: a failed handler is logged and never
// reaches the command that published the event.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
)

var (
	// ErrEventBusClosed is returned when operations are attempted on a closed bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("handler panicked")

	errNilHandler = errors.New("handler cannot be nil")
	errNilEvent   = errors.New("event cannot be nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBus fans events out to handlers registered in this process.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	handlers    map[shared.EventType][]shared.EventHandler
	allHandlers []shared.EventHandler
	asyncMode   bool
	workerPool  chan struct{}
	logger      *logger.Logger
	stats       *Stats
	closed      bool
	closeCh     chan struct{}
	wg          sync.WaitGroup
}

// InMemoryEventBusConfig contains configuration for InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on a bounded worker pool instead of the caller.
	AsyncMode bool

	WorkerPoolSize int

	Logger *logger.Logger
}

// DefaultInMemoryEventBusConfig returns sensible defaults.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 8}
}

// NewInMemoryEventBus creates a new in-memory event bus.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 8
	}
	return &InMemoryEventBus{
		handlers:   make(map[shared.EventType][]shared.EventHandler),
		asyncMode:  config.AsyncMode,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		logger:     config.Logger.With(logger.Component("event_bus")),
		stats:      newStats(),
		closeCh:    make(chan struct{}),
	}
}

// Subscribe registers a handler for a specific event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	return nil
}

// SubscribeAll registers a handler for all events.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.allHandlers = append(b.allHandlers, handler)
	return nil
}

// Publish delivers event to every matching handler. Handler errors are logged
// and counted, never returned.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	handlers := make([]shared.EventHandler, 0, len(b.handlers[event.EventType()])+len(b.allHandlers))
	handlers = append(handlers, b.handlers[event.EventType()]...)
	handlers = append(handlers, b.allHandlers...)
	b.mu.RUnlock()

	b.stats.recordPublish(event.EventType())
	for _, h := range handlers {
		if b.asyncMode {
			b.runAsync(event, h)
			continue
		}
		b.run(event, h)
	}
	return nil
}

func (b *InMemoryEventBus) runAsync(event shared.Event, h shared.EventHandler) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		select {
		case b.workerPool <- struct{}{}:
			defer func() { <-b.workerPool }()
		case <-b.closeCh:
			return
		}
		b.run(event, h)
	}()
}

func (b *InMemoryEventBus) run(event shared.Event, h shared.EventHandler) {
	start := time.Now()
	err := safeCall(h, event)
	b.stats.recordHandler(err == nil)
	if err != nil {
		b.logger.Error("event handler failed",
			logger.String("event_type", string(event.EventType())),
			logger.String("aggregate_id", event.AggregateID()),
			logger.Latency(time.Since(start)),
			logger.Err(err),
		)
	}
}

func safeCall(h shared.EventHandler, event shared.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrHandlerPanic, r, debug.Stack())
		}
	}()
	return h(event)
}

// Close stops accepting events and waits for running handlers.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closeCh)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// Stats returns a snapshot of delivery counters.
func (b *InMemoryEventBus) Stats() StatsSnapshot {
	return b.stats.snapshot()
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// RedisClient is the Pub/Sub surface the Redis bus needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message string) error
	Subscribe(ctx context.Context, channel string) (<-chan RedisMessage, error)
}

// RedisMessage is a message received from Redis Pub/Sub.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBusConfig contains configuration for RedisEventBus.
type RedisEventBusConfig struct {
	Client RedisClient

	// ChannelName defaults to "events"; the Redis client adds its key prefix.
	ChannelName string

	// InstanceID filters out this instance's own messages. Defaults to a UUID.
	InstanceID string

	LocalBusConfig InMemoryEventBusConfig

	Logger *logger.Logger
}

// RedisEventBus publishes every event locally and to a Redis channel, and
// replays events from other instances to local handlers.
type RedisEventBus struct {
	client      RedisClient
	localBus    *InMemoryEventBus
	channelName string
	instanceID  string
	logger      *logger.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.RWMutex
	closed      bool
}

// NewRedisEventBus creates the bus and starts its subscriber.
func NewRedisEventBus(config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.ChannelName == "" {
		config.ChannelName = "events"
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.LocalBusConfig.Logger == nil {
		config.LocalBusConfig.Logger = config.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &RedisEventBus{
		client:      config.Client,
		localBus:    NewInMemoryEventBus(config.LocalBusConfig),
		channelName: config.ChannelName,
		instanceID:  config.InstanceID,
		logger:      config.Logger.With(logger.Component("redis_event_bus")),
		ctx:         ctx,
		cancel:      cancel,
	}

	messages, err := b.client.Subscribe(ctx, b.channelName)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("messaging: subscribe %s: %w", b.channelName, err)
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.listen(messages)
	}()
	return b, nil
}

// Subscribe registers a handler for a specific event type.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.localBus.Subscribe(eventType, handler)
}

// SubscribeAll registers a handler for all events.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.localBus.SubscribeAll(handler)
}

// Publish sends event to Redis and to local handlers. A Redis failure is
// logged; local delivery still happens.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrEventBusClosed
	}

	data, err := json.Marshal(Envelope{
		InstanceID:  b.instanceID,
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("messaging: marshal event: %w", err)
	}
	if err := b.client.Publish(b.ctx, b.channelName, string(data)); err != nil {
		b.logger.Warn("redis publish failed",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}
	return b.localBus.Publish(event)
}

func (b *RedisEventBus) listen(messages <-chan RedisMessage) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Err != nil {
				b.logger.Warn("redis subscription error", logger.Err(msg.Err))
				continue
			}
			b.handle(msg)
		}
	}
}

func (b *RedisEventBus) handle(msg RedisMessage) {
	var env Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.logger.Warn("dropping undecodable event", logger.Err(err))
		return
	}
	if env.InstanceID == b.instanceID {
		return
	}
	if err := b.localBus.Publish(env.Event()); err != nil {
		b.logger.Warn("replaying remote event failed", logger.Err(err))
	}
}

// Close stops the subscriber and the local bus.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return b.localBus.Close()
}

// Stats returns the local delivery counters.
func (b *RedisEventBus) Stats() StatsSnapshot {
	return b.localBus.Stats()
}

// ══════════════════════════════════════════════════════════════════════════════
// ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// Envelope is the wire form of an event on the Redis channel.
type Envelope struct {
	InstanceID  string           `json:"instance_id"`
	EventType   shared.EventType `json:"event_type"`
	AggregateID string           `json:"aggregate_id"`
	OccurredAt  time.Time        `json:"occurred_at"`
	Payload     map[string]any   `json:"payload"`
}

// Event rebuilds a shared.Event from the envelope.
func (e Envelope) Event() shared.Event {
	return remoteEvent{env: e}
}

type remoteEvent struct {
	env Envelope
}

func (e remoteEvent) EventType() shared.EventType { return e.env.EventType }
func (e remoteEvent) AggregateID() string         { return e.env.AggregateID }
func (e remoteEvent) OccurredAt() time.Time       { return e.env.OccurredAt }
func (e remoteEvent) Payload() map[string]any     { return e.env.Payload }

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// Stats counts deliveries.
type Stats struct {
	mu        sync.Mutex
	published map[shared.EventType]int64
	succeeded int64
	failed    int64
}

func newStats() *Stats {
	return &Stats{published: make(map[shared.EventType]int64)}
}

func (s *Stats) recordPublish(t shared.EventType) {
	s.mu.Lock()
	s.published[t]++
	s.mu.Unlock()
}

func (s *Stats) recordHandler(ok bool) {
	s.mu.Lock()
	if ok {
		s.succeeded++
	} else {
		s.failed++
	}
	s.mu.Unlock()
}

func (s *Stats) snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	byType := make(map[shared.EventType]int64, len(s.published))
	var total int64
	for k, v := range s.published {
		byType[k] = v
		total += v
	}
	return StatsSnapshot{Published: total, ByType: byType, HandlerSuccesses: s.succeeded, HandlerFailures: s.failed}
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Published        int64                      `json:"published"`
	ByType           map[shared.EventType]int64 `json:"byType"`
	HandlerSuccesses int64                      `json:"handlerSuccesses"`
	HandlerFailures  int64                      `json:"handlerFailures"`
}

// ══════════════════════════════════════════════════════════════════════════════
// FILTERING PUBLISHER
// ══════════════════════════════════════════════════════════════════════════════

// FilterPublisher forwards only the events keep accepts. Dropped events are
// not an error.
func FilterPublisher(next shared.EventPublisher, keep func(shared.Event) bool) shared.EventPublisher {
	return filterPublisher{next: next, keep: keep}
}

type filterPublisher struct {
	next shared.EventPublisher
	keep func(shared.Event) bool
}

func (p filterPublisher) Publish(event shared.Event) error {
	if event == nil || !p.keep(event) {
		return nil
	}
	return p.next.Publish(event)
}
