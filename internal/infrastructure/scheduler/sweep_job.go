package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/validation"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
)

// SweepJobName is the registered name of the integrity sweep.
const SweepJobName = "integrity_sweep"

// PathValidator runs validateAllPaths. query.ValidateHandler satisfies it.
type PathValidator interface {
	AllPaths(ctx context.Context) (*validation.SweepReport, error)
}

// SweepJob validates every course reachable from a learning path, stores the
// report for authors and announces the result on the event bus.
type SweepJob struct {
	validator PathValidator
	reports   validation.ReportStore
	publisher shared.EventPublisher
	logger    *logger.Logger
	timeout   time.Duration

	mu   sync.Mutex
	last *validation.SweepReport
}

// NewSweepJob creates the sweep job. reports and publisher may be nil.
func NewSweepJob(v PathValidator, reports validation.ReportStore, pub shared.EventPublisher, log *logger.Logger) *SweepJob {
	if pub == nil {
		pub = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SweepJob{
		validator: v,
		reports:   reports,
		publisher: pub,
		logger:    log.With(logger.Component("sweep_job")),
	}
}

// WithTimeout bounds a single sweep. Zero leaves it unbounded.
func (j *SweepJob) WithTimeout(d time.Duration) *SweepJob {
	j.timeout = d
	return j
}

// LastReport returns the report of the most recent successful run, or nil.
func (j *SweepJob) LastReport() *validation.SweepReport {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}

// Name implements Job.
func (j *SweepJob) Name() string { return SweepJobName }

// Description implements Job.
func (j *SweepJob) Description() string {
	return "validates the slot structure of every course on every learning path"
}

// Run implements Job. A failing report is not a job failure; only storage
// errors of the sweep itself are. Losing the cached copy of the report is
// logged and tolerated.
func (j *SweepJob) Run(ctx context.Context) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	rep, err := j.validator.AllPaths(ctx)
	if err != nil {
		return fmt.Errorf("integrity sweep: %w", err)
	}

	if j.reports != nil {
		if err := j.reports.SaveLatest(ctx, rep); err != nil {
			j.logger.Warn("sweep report not stored", logger.Err(err))
		}
	}

	j.mu.Lock()
	j.last = rep
	j.mu.Unlock()

	failed := rep.FailedCourses()
	if err := j.publisher.Publish(shared.NewSweepCompletedEvent(rep.OK, len(rep.Courses), failed, rep.CheckedAt)); err != nil {
		j.logger.Warn("sweep event not published", logger.Err(err))
	}

	if !rep.OK {
		for _, c := range rep.Courses {
			if !c.OK {
				j.logger.Warn("course failed integrity sweep",
					logger.CourseID(c.CourseID.String()),
					logger.Int("valid_lessons", c.ValidLessons),
					logger.Int("lessons", c.LessonCount),
				)
			}
		}
		for _, id := range rep.MissingCourses {
			j.logger.Warn("learning path references a missing course", logger.CourseID(id))
		}
	}
	return nil
}
