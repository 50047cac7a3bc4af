// Package redis holds the optional Redis collaborators of the engine: a JSON
// read-model cache, the latest integrity sweep report and the Pub/Sub transport
// of the event bus. Every call goes through a circuit breaker, and the engine
// keeps working from PostgreSQL or SQLite alone when Redis is down.
//
// Key components:
//   - Cache: JSON values with TTLs and pattern invalidation
//   - ReportStore: latest sweep report plus a short history
//   - PubSub: transport for messaging.RedisEventBus
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/pkg/circuitbreaker"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int

	// KeyPrefix namespaces every key, so several deployments can share a server.
	KeyPrefix string

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		KeyPrefix:    "curriculum:",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolTimeout:  2 * time.Second,
	}
}

// Addr returns the Redis address in "host:port" format.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Options converts the config for go-redis.
func (c Config) Options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr(),
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		MaxRetries:   c.MaxRetries,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		PoolTimeout:  c.PoolTimeout,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS AND KEYS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrCacheMiss is returned when the requested key is not found in cache.
	ErrCacheMiss = errors.New("cache: key not found")

	// ErrCacheConnection is returned when the initial ping fails.
	ErrCacheConnection = errors.New("cache: connection failed")

	// ErrCacheSerialization is returned when a value does not round-trip through JSON.
	ErrCacheSerialization = errors.New("cache: serialization failed")

	// ErrCacheKeyEmpty is returned when an empty key is provided.
	ErrCacheKeyEmpty = errors.New("cache: key cannot be empty")

	// ErrCacheNilValue is returned when attempting to cache a nil value.
	ErrCacheNilValue = errors.New("cache: value cannot be nil")
)

// Key namespaces below the configured prefix. The course tree query caches
// under NamespaceTree + course id.
const (
	NamespaceTree  = "tree:"
	NamespaceSweep = "sweep:"
)

// ══════════════════════════════════════════════════════════════════════════════
// CACHE CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Cache stores JSON values in Redis behind a circuit breaker. Misses never
// count as breaker failures.
type Cache struct {
	client  *redis.Client
	prefix  string
	breaker *circuitbreaker.CircuitBreaker
	logger  *logger.Logger
}

// NewCache connects to Redis and verifies the connection with a ping.
func NewCache(cfg Config, log *logger.Logger) (*Cache, error) {
	client := redis.NewClient(cfg.Options())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return wrapClient(client, cfg.KeyPrefix, log), nil
}

// wrapClient wraps a connected client.
func wrapClient(client *redis.Client, prefix string, log *logger.Logger) *Cache {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("redis_cache"))
	c := &Cache{client: client, prefix: prefix, logger: log}
	c.breaker = circuitbreaker.CacheBreaker(
		func(err error) bool { return !errors.Is(err, ErrCacheMiss) && !errors.Is(err, ErrCacheSerialization) },
		func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	)
	return c
}

// Client returns the underlying Redis client.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Breaker exposes the breaker for health reporting.
func (c *Cache) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable. It bypasses the breaker.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) key(k string) string { return c.prefix + k }

// Set stores value as JSON under key. A zero ttl keeps the key forever.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	if value == nil {
		return ErrCacheNilValue
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.client.Set(ctx, c.key(key), data, ttl).Err()
	})
}

// Get decodes the value under key into dest. It returns ErrCacheMiss for an
// absent key.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	var data []byte
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		data, err = c.client.Get(ctx, c.key(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return err
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return nil
}

// Delete removes keys from the cache.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.client.Del(ctx, full...).Err()
	})
}

// deleteByPattern deletes every key under the prefix matching pattern, using
// SCAN in batches of 100.
func (c *Cache) deleteByPattern(ctx context.Context, pattern string) error {
	if pattern == "" {
		return ErrCacheKeyEmpty
	}
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		iter := c.client.Scan(ctx, 0, c.key(pattern), 100).Iterator()
		keys := make([]string, 0, 100)
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
			if len(keys) == cap(keys) {
				if err := c.client.Del(ctx, keys...).Err(); err != nil {
					return err
				}
				keys = keys[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
		if len(keys) > 0 {
			return c.client.Del(ctx, keys...).Err()
		}
		return nil
	})
}

// InvalidateOn deletes keys matching pattern whenever an event whose type
// starts with typePrefix is published on bus.
func (c *Cache) InvalidateOn(bus shared.EventSubscriber, typePrefix, pattern string) error {
	return bus.SubscribeAll(func(e shared.Event) error {
		if !strings.HasPrefix(string(e.EventType()), typePrefix) {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.deleteByPattern(ctx, pattern); err != nil {
			return fmt.Errorf("invalidate %s: %w", pattern, err)
		}
		return nil
	})
}
