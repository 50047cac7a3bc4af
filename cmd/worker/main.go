// Package main is the entry point of the curriculum worker.
//
// The worker runs the integrity sweep: every course reachable from a learning
// path is validated against the slot template, the latest report is kept in
// Redis for authors and a system.sweep_completed event is published.
//
// Run with -once to execute a single sweep and exit, e.g. from a CI job.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lingua-coach/curriculum-engine/config"
	"github.com/lingua-coach/curriculum-engine/internal/application/query"
	"github.com/lingua-coach/curriculum-engine/internal/bootstrap"
	"github.com/lingua-coach/curriculum-engine/internal/domain/validation"
	"github.com/lingua-coach/curriculum-engine/internal/infrastructure/persistence/redis"
	"github.com/lingua-coach/curriculum-engine/internal/infrastructure/scheduler"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
)

// errSweepFailed is returned by -once when a course failed the sweep.
var errSweepFailed = errors.New("integrity sweep found invalid courses")

func main() {
	once := flag.Bool("once", false, "run one integrity sweep and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *once); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, once bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := bootstrap.NewLogger(cfg).With(logger.Component("worker"))

	rules, _, err := bootstrap.Rules(cfg.Curriculum)
	if err != nil {
		return err
	}

	store, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	cache := bootstrap.OpenCache(ctx, cfg, log)
	if cache != nil {
		defer cache.Close()
	}

	bus, err := bootstrap.NewEventBus(cfg, cache, log)
	if err != nil {
		return err
	}
	defer bus.Close()

	var reports validation.ReportStore
	if cache != nil && cfg.Features.Enabled(config.FeatureSweepReport) {
		reports = redis.NewReportStore(cache)
	}

	queries := query.NewHandlers(query.Deps{
		Store:   store,
		Rules:   rules,
		Logger:  log,
		Reports: reports,
	})
	sweep := scheduler.NewSweepJob(queries.Validate, reports, bus, log).WithTimeout(cfg.Sweep.Timeout)

	schedCfg := scheduler.DefaultConfig()
	schedCfg.Logger = log
	schedCfg.Timezone = cfg.SweepLocation()
	schedCfg.WaitForSchedule = !cfg.Sweep.RunOnStart
	sched := scheduler.New(schedCfg)

	scheduled := cfg.Sweep.Enabled && cfg.Features.Enabled(config.FeatureScheduledSweep)
	if !scheduled && !once {
		log.Info("scheduled sweep disabled, nothing to do")
		return nil
	}

	schedule := scheduler.Schedule{Every: cfg.Sweep.Interval, Cron: cfg.Sweep.Cron}
	if once && schedule.Every <= 0 && schedule.Cron == "" {
		schedule.Every = time.Hour
	}
	if err := sched.Register(sweep, schedule); err != nil {
		return err
	}

	if once {
		return runOnce(ctx, sched, sweep, log)
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	for _, j := range sched.ListJobs() {
		log.Info("job scheduled",
			logger.String("job", j.Name),
			logger.String("schedule", j.Schedule),
			logger.Time("next_run", j.NextRun),
		)
	}

	<-ctx.Done()
	log.Info("received shutdown signal")
	if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
		return err
	}
	log.Info("worker stopped")
	return nil
}

// runOnce executes a single sweep. A failing report makes the process exit
// non-zero.
func runOnce(ctx context.Context, sched *scheduler.Scheduler, sweep *scheduler.SweepJob, log *logger.Logger) error {
	res, err := sched.RunNow(ctx, scheduler.SweepJobName)
	if err != nil {
		return err
	}
	log.Info("sweep finished", logger.Duration("duration", res.Duration))

	rep := sweep.LastReport()
	if rep != nil && !rep.OK {
		return fmt.Errorf("%w: %d of %d", errSweepFailed, rep.FailedCourses(), len(rep.Courses))
	}
	return nil
}
