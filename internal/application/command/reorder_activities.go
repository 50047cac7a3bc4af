package command

import (
	"context"
	"fmt"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REORDER ACTIVITIES COMMAND
// Reassigns the sort order of a lesson's extra activities. Mandatory slots
// have a fixed position and cannot appear in the list.
// ══════════════════════════════════════════════════════════════════════════════

// ReorderActivitiesCommand lists extra activity ids in their new order.
type ReorderActivitiesCommand struct {
	LessonID shared.LessonID
	IDs      []shared.ActivityID
}

// Validate validates the command.
func (c ReorderActivitiesCommand) Validate() error {
	if !c.LessonID.IsValid() {
		return shared.NewDomainError("activity", "Reorder", shared.ErrInvalidID, "lessonId is required")
	}
	if len(c.IDs) == 0 {
		return shared.NewDomainError("activity", "Reorder", shared.ErrEmptyValue, "at least one activity id is required")
	}
	seen := make(map[shared.ActivityID]bool, len(c.IDs))
	for _, id := range c.IDs {
		if seen[id] {
			return shared.Errorf("activity", "Reorder", shared.ErrInvalidInput, "activity %s is listed twice", id)
		}
		seen[id] = true
	}
	return nil
}

// ReorderActivitiesResult contains the extras in their stored order.
type ReorderActivitiesResult struct {
	LessonID shared.LessonID
	Order    []ReorderedActivity
}

// ReorderedActivity is one extra activity and its new sort order.
type ReorderedActivity struct {
	ID        shared.ActivityID `json:"id"`
	SortOrder int               `json:"sortOrder"`
}

// ReorderActivitiesHandler handles ReorderActivitiesCommand.
type ReorderActivitiesHandler struct {
	deps Deps
}

// NewReorderActivitiesHandler creates a new ReorderActivitiesHandler.
func NewReorderActivitiesHandler(d Deps) *ReorderActivitiesHandler {
	return &ReorderActivitiesHandler{deps: d.withDefaults()}
}

// Handle executes the reorder command. Listed extras take positions 1..n in
// list order; extras left out keep their relative order after them.
func (h *ReorderActivitiesHandler) Handle(ctx context.Context, cmd ReorderActivitiesCommand) (*ReorderActivitiesResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := h.deps.Clock.Now()
	result := &ReorderActivitiesResult{LessonID: cmd.LessonID}
	var courseID shared.CourseID

	err := h.deps.Store.WithTx(ctx, uow.ReadWrite, func(repos uow.Repositories) error {
		lesson, err := repos.Curriculum().GetLesson(ctx, cmd.LessonID)
		if err != nil {
			return err
		}
		courseID = lesson.CourseID
		current, err := repos.Activities().ListByLesson(ctx, cmd.LessonID, activity.Filter{})
		if err != nil {
			return fmt.Errorf("reorder: %w", err)
		}

		byID := make(map[shared.ActivityID]*activity.Activity, len(current))
		for _, a := range current {
			byID[a.ID] = a
		}

		listed := make(map[shared.ActivityID]bool, len(cmd.IDs))
		order := make([]shared.ActivityID, 0, len(current))
		for _, id := range cmd.IDs {
			a, ok := byID[id]
			if !ok {
				return shared.Errorf("activity", "Reorder", shared.ErrInvalidInput,
					"activity %s does not belong to lesson %s", id, cmd.LessonID)
			}
			if !a.IsExtra() {
				return shared.WrapError("activity", "Reorder", shared.ErrInvalidInput,
					fmt.Sprintf("activity %s occupies mandatory slot %d", id, a.SlotIndex), shared.ErrReorderMandatory)
			}
			listed[id] = true
			order = append(order, id)
		}
		for _, a := range current {
			if a.IsExtra() && !listed[a.ID] {
				order = append(order, a.ID)
			}
		}

		for i, id := range order {
			pos := i + 1
			if byID[id].SortOrder != pos {
				if err := repos.Activities().UpdateSortOrder(ctx, id, pos, now); err != nil {
					return err
				}
			}
			result.Order = append(result.Order, ReorderedActivity{ID: id, SortOrder: pos})
		}
		return nil
	})
	if err != nil {
		h.deps.log(ctx).Warn("reorder rejected", logger.LessonID(cmd.LessonID.String()), logger.Err(err))
		return nil, err
	}
	h.deps.publish(ctx, shared.NewActivityChangedEvent(cmd.LessonID.String(), cmd.LessonID, courseID, "reordered", now))
	return result, nil
}
