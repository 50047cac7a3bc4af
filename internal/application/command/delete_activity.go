package command

import (
	"context"
	"fmt"

	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DELETE ACTIVITY COMMAND
// Hard-deletes an activity nobody has touched. Activities with learner
// progress must be archived instead so the history survives.
// ══════════════════════════════════════════════════════════════════════════════

// DeleteActivityCommand identifies the activity to delete.
type DeleteActivityCommand struct {
	ID shared.ActivityID
}

// Validate validates the command.
func (c DeleteActivityCommand) Validate() error {
	if !c.ID.IsValid() {
		return shared.NewDomainError("activity", "Delete", shared.ErrInvalidID, "activity id is required")
	}
	return nil
}

// DeleteActivityResult echoes the deleted activity placement.
type DeleteActivityResult struct {
	ID        shared.ActivityID
	LessonID  shared.LessonID
	CourseID  shared.CourseID
	SlotIndex int
}

// DeleteActivityHandler handles DeleteActivityCommand.
type DeleteActivityHandler struct {
	deps Deps
}

// NewDeleteActivityHandler creates a new DeleteActivityHandler.
func NewDeleteActivityHandler(d Deps) *DeleteActivityHandler {
	return &DeleteActivityHandler{deps: d.withDefaults()}
}

// Handle executes the delete command.
func (h *DeleteActivityHandler) Handle(ctx context.Context, cmd DeleteActivityCommand) (*DeleteActivityResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var result *DeleteActivityResult
	err := h.deps.Store.WithTx(ctx, uow.ReadWrite, func(repos uow.Repositories) error {
		a, err := repos.Activities().GetByID(ctx, cmd.ID)
		if err != nil {
			return err
		}

		n, err := repos.Progress().CountByActivity(ctx, a.ID)
		if err != nil {
			return fmt.Errorf("delete_activity: %w", err)
		}
		if n > 0 {
			return shared.Errorf("activity", "Delete", shared.ErrHasProgress,
				"activity %s has progress from %d learner(s); archive it instead", a.ID, n)
		}

		if err := repos.Activities().Delete(ctx, a.ID); err != nil {
			return err
		}
		result = &DeleteActivityResult{ID: a.ID, LessonID: a.LessonID, CourseID: a.CourseID, SlotIndex: a.SlotIndex}
		return nil
	})
	if err != nil {
		h.deps.log(ctx).Warn("delete activity rejected", logger.ActivityID(cmd.ID.String()), logger.Err(err))
		return nil, err
	}

	h.deps.log(ctx).Info("activity deleted",
		logger.ActivityID(result.ID.String()),
		logger.LessonID(result.LessonID.String()),
	)
	h.deps.publish(ctx, shared.NewActivityChangedEvent(result.ID.String(), result.LessonID, result.CourseID, "deleted", h.deps.Clock.Now()))
	return result, nil
}
