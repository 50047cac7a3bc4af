package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/lingua-coach/curriculum-engine/internal/infrastructure/messaging"
	"github.com/lingua-coach/curriculum-engine/pkg/circuitbreaker"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
)

// PubSub adapts a go-redis client to messaging.RedisClient.
type PubSub struct {
	client  *redis.Client
	prefix  string
	breaker *circuitbreaker.CircuitBreaker
}

var _ messaging.RedisClient = (*PubSub)(nil)

// NewPubSub creates the adapter. Channel names get the configured key prefix.
func NewPubSub(client *redis.Client, prefix string, log *logger.Logger) *PubSub {
	if log == nil {
		log = logger.Nop()
	}
	return &PubSub{
		client: client,
		prefix: prefix,
		breaker: circuitbreaker.PubSubBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
	}
}

// Publish sends message on channel.
func (p *PubSub) Publish(ctx context.Context, channel string, message string) error {
	return p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.client.Publish(ctx, p.prefix+channel, message).Err()
	})
}

// Subscribe listens on channel until ctx is cancelled. The returned channel is
// closed when the subscription ends.
func (p *PubSub) Subscribe(ctx context.Context, channel string) (<-chan messaging.RedisMessage, error) {
	sub := p.client.Subscribe(ctx, p.prefix+channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan messaging.RedisMessage, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
