package command

import (
	"context"

	"github.com/lingua-coach/curriculum-engine/internal/application/access"
	"github.com/lingua-coach/curriculum-engine/internal/domain/progress"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// START ACTIVITY COMMAND
// Moves a learner into in_progress on an activity, or resumes or retries an
// existing attempt. Locked and unpublished activities are rejected.
// ══════════════════════════════════════════════════════════════════════════════

// StartActivityCommand identifies the learner and activity.
type StartActivityCommand struct {
	ActivityID shared.ActivityID
	UserID     shared.UserID
}

// Validate validates the command.
func (c StartActivityCommand) Validate() error {
	if !c.ActivityID.IsValid() {
		return shared.NewDomainError("progress", "Start", shared.ErrInvalidID, "activity id is required")
	}
	if !c.UserID.IsValid() {
		return shared.NewDomainError("progress", "Start", shared.ErrUnauthorized, "learner id is required")
	}
	return nil
}

// StartActivityResult contains the stored record and what changed.
type StartActivityResult struct {
	Progress   *progress.Progress
	Transition progress.Transition
}

// StartActivityHandler handles StartActivityCommand.
type StartActivityHandler struct {
	deps Deps
}

// NewStartActivityHandler creates a new StartActivityHandler.
func NewStartActivityHandler(d Deps) *StartActivityHandler {
	return &StartActivityHandler{deps: d.withDefaults()}
}

// Handle executes the start command.
func (h *StartActivityHandler) Handle(ctx context.Context, cmd StartActivityCommand) (*StartActivityResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := h.deps.Clock.Now()
	result := &StartActivityResult{}

	err := h.deps.writeTx(ctx, "start_activity", func(repos uow.Repositories) error {
		a, err := repos.Activities().GetByID(ctx, cmd.ActivityID)
		if err != nil {
			return err
		}
		snap, err := access.Load(ctx, repos, a.CourseID, cmd.UserID, now)
		if err != nil {
			return err
		}
		if err := snap.Check(a); err != nil {
			return err
		}

		prev := snap.Progress[a.ID]
		next, tr := progress.Start(prev, subjectOf(a), cmd.UserID, h.deps.Progress, now)
		if err := repos.Progress().Upsert(ctx, next); err != nil {
			return err
		}
		result.Progress, result.Transition = next, tr
		return nil
	})
	if err != nil {
		h.deps.log(ctx).Warn("start activity rejected",
			logger.ActivityID(cmd.ActivityID.String()),
			logger.UserID(cmd.UserID.String()),
			logger.Err(err),
		)
		return nil, err
	}

	h.deps.log(ctx).Debug("activity started",
		logger.ActivityID(cmd.ActivityID.String()),
		logger.UserID(cmd.UserID.String()),
		logger.String("transition", string(result.Transition)),
		logger.Int("attempts", result.Progress.Attempts),
	)
	if result.Transition != progress.TransitionUnchanged {
		p := result.Progress
		h.deps.publish(ctx, shared.NewActivityStartedEvent(p.UserID, p.ActivityID, p.LessonID, p.CourseID, string(result.Transition), p.Attempts, now))
	}
	return result, nil
}
