// Package bootstrap wires the infrastructure shared by the api and worker
// binaries: the content store, the optional Redis cache and the event bus.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lingua-coach/curriculum-engine/config"
	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/progress"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
	"github.com/lingua-coach/curriculum-engine/internal/domain/validation"
	"github.com/lingua-coach/curriculum-engine/internal/infrastructure/messaging"
	"github.com/lingua-coach/curriculum-engine/internal/infrastructure/persistence/postgres"
	"github.com/lingua-coach/curriculum-engine/internal/infrastructure/persistence/redis"
	"github.com/lingua-coach/curriculum-engine/internal/infrastructure/persistence/sqlite"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
	"github.com/lingua-coach/curriculum-engine/pkg/retry"
)

// NewLogger builds the process logger from the observability section.
func NewLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Text = strings.EqualFold(cfg.Observability.LogFormat, "text")
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
		opts.AddCaller = true
	}
	return logger.New(opts).With(
		logger.String("service", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
	)
}

// ══════════════════════════════════════════════════════════════════════════════
// RULES
// ══════════════════════════════════════════════════════════════════════════════

// Rules builds the validation rules and progress policy from configuration.
// A configured template version must match the compiled template.
func Rules(cfg config.CurriculumConfig) (validation.Rules, progress.Policy, error) {
	tpl := slot.Canonical()
	if cfg.TemplateVersion != "" && cfg.TemplateVersion != tpl.Version() {
		return validation.Rules{}, progress.Policy{}, fmt.Errorf(
			"slot template version mismatch: configured %s, compiled %s", cfg.TemplateVersion, tpl.Version())
	}

	rules := validation.NewRules(tpl)
	rules.Language.RequireFrench = cfg.RequireFrench
	if len(cfg.FrenchFields) > 0 {
		rules.Language.Fields = make([]activity.Field, len(cfg.FrenchFields))
		for i, f := range cfg.FrenchFields {
			rules.Language.Fields[i] = activity.Field(strings.TrimSpace(f))
		}
	}
	rules.Structure = validation.Structure{
		ModulesPerCourse: cfg.ModulesPerCourse,
		LessonsPerModule: cfg.LessonsPerModule,
	}
	return rules, progress.Policy{MaxAttempts: cfg.MaxAttempts}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// OpenStore connects the configured backend, retrying while it comes up.
// PostgreSQL migrations run when AutoMigrate is set; SQLite creates its
// schema on open.
func OpenStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (uow.Store, error) {
	r := retry.StartupRetrier(
		retry.WithMaxAttempts(cfg.App.StartupAttempts),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("store not ready, retrying",
				logger.String("driver", cfg.Database.Driver),
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}),
	)

	switch cfg.Database.Driver {
	case config.DriverSQLite:
		var store *sqlite.Store
		err := r.Do(ctx, func(ctx context.Context) error {
			var err error
			store, err = sqlite.Open(ctx, cfg.Database.SQLitePath)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Info("sqlite store opened", logger.String("path", cfg.Database.SQLitePath))
		return store, nil

	case config.DriverPostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.Database.URL
		if cfg.Database.MaxConns > 0 {
			pgCfg.MaxConns = int32(cfg.Database.MaxConns)
		}
		if cfg.Database.MinConns > 0 {
			pgCfg.MinConns = int32(cfg.Database.MinConns)
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		}
		if cfg.Database.ConnMaxIdleTime > 0 {
			pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
		}

		var conn *postgres.Connection
		err := r.Do(ctx, func(ctx context.Context) error {
			if _, err := pgCfg.PoolConfig(); err != nil {
				return retry.Permanent(err)
			}
			var err error
			conn, err = postgres.NewConnection(ctx, pgCfg)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				conn.Close()
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
			log.Info("database schema is up to date")
		}
		log.Info("postgres store connected")
		return postgres.NewStore(conn), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS
// ══════════════════════════════════════════════════════════════════════════════

// OpenCache connects Redis when it is configured. A cache that cannot be
// reached is logged and skipped: the engine serves from the store alone.
func OpenCache(ctx context.Context, cfg *config.Config, log *logger.Logger) *redis.Cache {
	if !cfg.RedisEnabled() {
		return nil
	}
	rc := redis.DefaultConfig()
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.KeyPrefix = cfg.Redis.KeyPrefix
	if cfg.Redis.PoolSize > 0 {
		rc.PoolSize = cfg.Redis.PoolSize
	}
	if cfg.Redis.MinIdleConns > 0 {
		rc.MinIdleConns = cfg.Redis.MinIdleConns
	}
	if cfg.Redis.DialTimeout > 0 {
		rc.DialTimeout = cfg.Redis.DialTimeout
	}
	if cfg.Redis.ReadTimeout > 0 {
		rc.ReadTimeout = cfg.Redis.ReadTimeout
	}
	if cfg.Redis.WriteTimeout > 0 {
		rc.WriteTimeout = cfg.Redis.WriteTimeout
	}

	cache, err := redis.NewCache(rc, log)
	if err != nil {
		log.Warn("redis unavailable, caching disabled", logger.Err(err))
		return nil
	}
	if err := cache.Ping(ctx); err != nil {
		log.Warn("redis ping failed, caching disabled", logger.Err(err))
		_ = cache.Close()
		return nil
	}
	log.Info("redis connected", logger.String("addr", fmt.Sprintf("%s:%d", rc.Host, rc.Port)))
	return cache
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// EventBus is the bus surface the binaries use.
type EventBus interface {
	shared.EventPublisher
	shared.EventSubscriber
	io.Closer
	Stats() messaging.StatsSnapshot
}

// NewEventBus fans events out over Redis when the cache is up and the flag
// allows it, and stays in-process otherwise.
func NewEventBus(cfg *config.Config, cache *redis.Cache, log *logger.Logger) (EventBus, error) {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = log
	local.AsyncMode = true

	if cache == nil || !cfg.Features.Enabled(config.FeatureRedisEvents) {
		return messaging.NewInMemoryEventBus(local), nil
	}

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         redis.NewPubSub(cache.Client(), cfg.Redis.KeyPrefix, log),
		ChannelName:    cfg.Redis.EventChannel,
		LocalBusConfig: local,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("redis event bus: %w", err)
	}
	return bus, nil
}

// Publisher returns the publisher handed to command handlers. Progress events
// are dropped while their flag is off.
func Publisher(bus shared.EventPublisher, flags *config.FeatureFlags) shared.EventPublisher {
	return messaging.FilterPublisher(bus, func(e shared.Event) bool {
		if strings.HasPrefix(string(e.EventType()), "progress.") {
			return flags.Enabled(config.FeatureProgressEvents)
		}
		return true
	})
}
