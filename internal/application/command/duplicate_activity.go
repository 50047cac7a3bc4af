package command

import (
	"context"
	"fmt"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DUPLICATE ACTIVITY COMMAND
// Copies an activity as a new draft. Within the same lesson the copy lands on
// the next free extra slot; into another lesson it keeps its slot.
// ══════════════════════════════════════════════════════════════════════════════

// DuplicateActivityCommand identifies the source and optional target lesson.
type DuplicateActivityCommand struct {
	ID shared.ActivityID

	// TargetLessonID defaults to the source lesson.
	TargetLessonID shared.LessonID
	CreatedBy      shared.UserID
}

// Validate validates the command.
func (c DuplicateActivityCommand) Validate() error {
	if !c.ID.IsValid() {
		return shared.NewDomainError("activity", "Duplicate", shared.ErrInvalidID, "activity id is required")
	}
	return nil
}

// DuplicateActivityResult contains the new copy.
type DuplicateActivityResult struct {
	SourceID shared.ActivityID
	Activity *activity.Activity
}

// DuplicateActivityHandler handles DuplicateActivityCommand.
type DuplicateActivityHandler struct {
	deps Deps
}

// NewDuplicateActivityHandler creates a new DuplicateActivityHandler.
func NewDuplicateActivityHandler(d Deps) *DuplicateActivityHandler {
	return &DuplicateActivityHandler{deps: d.withDefaults()}
}

// Handle executes the duplicate command. A copy into an occupied mandatory
// slot of another lesson fails with shared.ErrSlotOccupied.
func (h *DuplicateActivityHandler) Handle(ctx context.Context, cmd DuplicateActivityCommand) (*DuplicateActivityResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := h.deps.Clock.Now()
	tpl := h.deps.template()
	var copied *activity.Activity

	err := h.deps.Store.WithTx(ctx, uow.ReadWrite, func(repos uow.Repositories) error {
		src, err := repos.Activities().GetByID(ctx, cmd.ID)
		if err != nil {
			return err
		}

		target := cmd.TargetLessonID
		if !target.IsValid() {
			target = src.LessonID
		}
		lesson, err := repos.Curriculum().GetLesson(ctx, target)
		if err != nil {
			return err
		}

		maxSlot, maxSort, err := repos.Activities().MaxPositions(ctx, lesson.ID)
		if err != nil {
			return fmt.Errorf("duplicate: %w", err)
		}

		index, st, sortOrder := src.SlotIndex, src.SlotType, src.SortOrder
		switch {
		case lesson.ID == src.LessonID:
			index, st, sortOrder = nextExtraIndex(maxSlot), slot.TypeExtra, maxSort+1
		case !tpl.IsMandatory(index):
			sortOrder = maxSort + 1
		}

		createdBy := cmd.CreatedBy
		if !createdBy.IsValid() {
			createdBy = src.CreatedBy
		}
		cp := src.Clone(lesson, index, st, sortOrder, createdBy, now)
		cp.IsMandatory = tpl.IsMandatory(index)
		if cp.PrerequisiteActivityID.IsValid() && cp.CourseID != src.CourseID {
			cp.PrerequisiteActivityID = ""
		}
		if err := cp.Validate(tpl); err != nil {
			return err
		}

		if err := repos.Activities().Create(ctx, cp); err != nil {
			return err
		}
		copied = cp
		return nil
	})
	if err != nil {
		h.deps.log(ctx).Warn("duplicate rejected",
			logger.ActivityID(cmd.ID.String()),
			logger.LessonID(cmd.TargetLessonID.String()),
			logger.Err(err),
		)
		return nil, err
	}

	h.deps.log(ctx).Info("activity duplicated",
		logger.ActivityID(copied.ID.String()),
		logger.String("source_id", cmd.ID.String()),
		logger.LessonID(copied.LessonID.String()),
		logger.SlotIndex(copied.SlotIndex),
	)
	h.deps.publish(ctx, shared.NewActivityChangedEvent(copied.ID.String(), copied.LessonID, copied.CourseID, "duplicated", now))
	return &DuplicateActivityResult{SourceID: cmd.ID, Activity: copied}, nil
}
