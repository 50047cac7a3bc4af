// Package main is the entry point of the curriculum engine API.
//
// The API serves the slot template, lesson content, learner progress and the
// authoring procedures over JSON. It shares the store, cache and event bus
// wiring with the worker, which runs the scheduled integrity sweep.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lingua-coach/curriculum-engine/config"
	"github.com/lingua-coach/curriculum-engine/internal/application/command"
	"github.com/lingua-coach/curriculum-engine/internal/application/query"
	"github.com/lingua-coach/curriculum-engine/internal/bootstrap"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
	"github.com/lingua-coach/curriculum-engine/internal/domain/validation"
	"github.com/lingua-coach/curriculum-engine/internal/infrastructure/persistence/redis"
	httpapi "github.com/lingua-coach/curriculum-engine/internal/interface/http"
	"github.com/lingua-coach/curriculum-engine/internal/interface/http/handlers"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. Configuration and logging
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := bootstrap.NewLogger(cfg).With(logger.Component("api"))
	log.Info("starting curriculum engine API",
		logger.String("version", cfg.App.Version),
		logger.String("driver", cfg.Database.Driver),
		logger.String("template_version", slot.Canonical().Version()),
	)

	rules, policy, err := bootstrap.Rules(cfg.Curriculum)
	if err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Store, cache and event bus
	// ─────────────────────────────────────────────────────────────────────────
	store, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing store")
		_ = store.Close()
	}()

	cache := bootstrap.OpenCache(ctx, cfg, log)
	if cache != nil {
		defer cache.Close()
	}

	bus, err := bootstrap.NewEventBus(cfg, cache, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing event bus")
		_ = bus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. Application handlers
	// ─────────────────────────────────────────────────────────────────────────
	queryDeps := query.Deps{
		Store:   store,
		Rules:   rules,
		Logger:  log,
		TreeTTL: cfg.Curriculum.TreeCacheTTL,
	}
	if cache != nil {
		if cfg.Features.Enabled(config.FeatureCourseTreeCache) {
			queryDeps.Cache = cache
			if err := cache.InvalidateOn(bus, "content.", redis.NamespaceTree+"*"); err != nil {
				return fmt.Errorf("subscribe tree invalidation: %w", err)
			}
		}
		if cfg.Features.Enabled(config.FeatureSweepReport) {
			queryDeps.Reports = redis.NewReportStore(cache)
		}
	}

	commands := command.NewHandlers(command.Deps{
		Store:     store,
		Rules:     rules,
		Publisher: bootstrap.Publisher(bus, cfg.Features),
		Logger:    log,
		Progress:  policy,
	})
	queries := query.NewHandlers(queryDeps)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Health checks
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.SetTimeout(cfg.App.HealthCheckTimeout)
	health.AddCheck("store", handlers.NewPingCheck(store))
	if cache != nil {
		health.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
		breaker := cache.Breaker()
		health.AddOptionalCheck("redis_breaker", handlers.NewBreakerCheck(breaker.Name(), func() string {
			return breaker.State().String()
		}))
	}
	health.AddDetail("events", func() any { return bus.Stats() })
	health.AddDetail("features", func() any { return cfg.Features.Snapshot() })
	health.AddDetail("template_version", func() any { return rules.Template.Version() })
	if queryDeps.Reports != nil {
		reports := queryDeps.Reports
		health.AddDetail("last_sweep", func() any { return lastSweep(reports) })
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. HTTP server
	// ─────────────────────────────────────────────────────────────────────────
	srvCfg := httpapi.DefaultConfig()
	srvCfg.Host = cfg.HTTP.Host
	srvCfg.Port = cfg.HTTP.Port
	srvCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	srvCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	srvCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	srvCfg.MaxUploadBytes = cfg.HTTP.MaxUploadBytes
	srvCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	srvCfg.Version = cfg.App.Version

	server := httpapi.NewServer(srvCfg, httpapi.Dependencies{
		Commands: commands,
		Queries:  queries,
		Auth:     handlers.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AuthorRoles),
		Health:   health,
		Features: cfg.Features,
		Logger:   log,
	})
	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. Graceful shutdown
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	log.Info("shutdown completed")
	return nil
}

// lastSweep summarises the stored sweep report for /health.
func lastSweep(reports validation.ReportStore) any {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rep, err := reports.Latest(ctx)
	if err != nil {
		return map[string]any{"available": false}
	}
	return map[string]any{
		"available":  true,
		"ok":         rep.OK,
		"checked_at": rep.CheckedAt,
		"failed":     rep.FailedCourses(),
	}
}
