// Package command contains write operations (CQRS - Commands).
// Every handler runs its reads and writes inside one unit of work, and
// publishes domain events only after the unit of work has committed.
package command

import (
	"context"
	"errors"
	"time"

	"github.com/lingua-coach/curriculum-engine/internal/domain/progress"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
	"github.com/lingua-coach/curriculum-engine/internal/domain/validation"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
	"github.com/lingua-coach/curriculum-engine/pkg/retry"
	"github.com/lingua-coach/curriculum-engine/pkg/timeutil"
)

// Deps are the collaborators shared by every command handler.
type Deps struct {
	Store     uow.Store
	Rules     validation.Rules
	Publisher shared.EventPublisher
	Clock     timeutil.Clock
	Logger    *logger.Logger

	// Progress tunes the progress state machine.
	Progress progress.Policy
}

// withDefaults fills optional collaborators.
func (d Deps) withDefaults() Deps {
	if d.Rules.Template.Len() == 0 {
		d.Rules = validation.NewRules(slot.Canonical())
	}
	if d.Publisher == nil {
		d.Publisher = shared.NopPublisher{}
	}
	if d.Clock == nil {
		d.Clock = timeutil.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	return d
}

func (d Deps) template() slot.Template { return d.Rules.Template }

// log prefers the request-scoped logger carried by ctx.
func (d Deps) log(ctx context.Context) *logger.Logger {
	if l, ok := logger.Lookup(ctx); ok {
		return l
	}
	return d.Logger
}

// writeTx runs fn in a read-write unit of work and reruns it from a fresh
// snapshot when a concurrent writer commits first. fn must not keep state
// across runs.
func (d Deps) writeTx(ctx context.Context, op string, fn func(uow.Repositories) error) error {
	r := retry.New(
		retry.WithMaxAttempts(3),
		retry.WithInitialDelay(5*time.Millisecond),
		retry.WithMaxDelay(50*time.Millisecond),
		retry.WithRetryIf(func(err error) bool { return errors.Is(err, shared.ErrConcurrentModification) }),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			d.log(ctx).Debug("write conflict, retrying",
				logger.Operation(op),
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}),
	)
	return r.Do(ctx, func(ctx context.Context) error {
		return d.Store.WithTx(ctx, uow.ReadWrite, fn)
	})
}

// publish sends events after commit. Delivery failures are logged and never
// undo the write.
func (d Deps) publish(ctx context.Context, events ...shared.Event) {
	for _, e := range events {
		if err := d.Publisher.Publish(e); err != nil {
			d.log(ctx).Warn("failed to publish event",
				logger.String("event_type", string(e.EventType())),
				logger.String("aggregate_id", e.AggregateID()),
				logger.Err(err),
			)
		}
	}
}

// Handlers bundles every command handler.
type Handlers struct {
	CreateActivity    *CreateActivityHandler
	UpdateActivity    *UpdateActivityHandler
	DeleteActivity    *DeleteActivityHandler
	ReorderActivities *ReorderActivitiesHandler
	DuplicateActivity *DuplicateActivityHandler
	BulkUpdateStatus  *BulkUpdateStatusHandler
	StartActivity     *StartActivityHandler
	CompleteActivity  *CompleteActivityHandler
	SaveCourseDrip    *SaveCourseDripHandler
	SaveModuleUnlock  *SaveModuleUnlockHandler
	ImportLesson      *ImportLessonHandler
}

// NewHandlers wires every command handler to the same dependencies.
func NewHandlers(d Deps) *Handlers {
	d = d.withDefaults()
	return &Handlers{
		CreateActivity:    NewCreateActivityHandler(d),
		UpdateActivity:    NewUpdateActivityHandler(d),
		DeleteActivity:    NewDeleteActivityHandler(d),
		ReorderActivities: NewReorderActivitiesHandler(d),
		DuplicateActivity: NewDuplicateActivityHandler(d),
		BulkUpdateStatus:  NewBulkUpdateStatusHandler(d),
		StartActivity:     NewStartActivityHandler(d),
		CompleteActivity:  NewCompleteActivityHandler(d),
		SaveCourseDrip:    NewSaveCourseDripHandler(d),
		SaveModuleUnlock:  NewSaveModuleUnlockHandler(d),
		ImportLesson:      NewImportLessonHandler(d),
	}
}
