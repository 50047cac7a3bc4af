package command

import (
	"context"
	"fmt"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
	"github.com/lingua-coach/curriculum-engine/internal/domain/validation"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE ACTIVITY COMMAND
// Places a new activity into a lesson slot. Mandatory slots accept exactly one
// activity of the template type; extra slots accept any number.
// ══════════════════════════════════════════════════════════════════════════════

// CreateActivityCommand contains the data of a new activity.
type CreateActivityCommand struct {
	LessonID shared.LessonID

	// SlotIndex is the target slot. Zero appends a new extra slot.
	SlotIndex int

	// SlotType is filled from the template when empty.
	SlotType slot.Type

	// Status defaults to draft. Publishing runs the activity publish gate.
	Status activity.Status

	Fields    ActivityPatch
	CreatedBy shared.UserID
}

// Validate validates the command.
func (c CreateActivityCommand) Validate() error {
	if !c.LessonID.IsValid() {
		return shared.NewDomainError("activity", "Create", shared.ErrInvalidID, "lessonId is required")
	}
	if c.SlotIndex < 0 {
		return shared.ErrInvalidSlotIndex
	}
	if c.Fields.Title == nil || *c.Fields.Title == "" {
		return shared.NewDomainError("activity", "Create", shared.ErrEmptyValue, "title is required")
	}
	if c.Status != "" && !c.Status.IsValid() {
		return shared.ErrInvalidStatus
	}
	return nil
}

// CreateActivityResult contains the stored activity.
type CreateActivityResult struct {
	Activity *activity.Activity
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CreateActivityHandler handles CreateActivityCommand.
type CreateActivityHandler struct {
	deps Deps
}

// NewCreateActivityHandler creates a new CreateActivityHandler.
func NewCreateActivityHandler(d Deps) *CreateActivityHandler {
	return &CreateActivityHandler{deps: d.withDefaults()}
}

// Handle executes the create command.
func (h *CreateActivityHandler) Handle(ctx context.Context, cmd CreateActivityCommand) (*CreateActivityResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := h.deps.Clock.Now()
	tpl := h.deps.template()
	var created *activity.Activity

	err := h.deps.Store.WithTx(ctx, uow.ReadWrite, func(repos uow.Repositories) error {
		lesson, err := repos.Curriculum().GetLesson(ctx, cmd.LessonID)
		if err != nil {
			return err
		}

		maxSlot, maxSort, err := repos.Activities().MaxPositions(ctx, lesson.ID)
		if err != nil {
			return fmt.Errorf("create_activity: %w", err)
		}

		index, st := cmd.SlotIndex, cmd.SlotType
		if index == 0 {
			if st != "" && st != slot.TypeExtra {
				mandatory, ok := tpl.IndexOf(st)
				if !ok {
					return shared.Errorf("activity", "Create", shared.ErrSlotMismatch, "slot type %q has no slot", st)
				}
				index = mandatory
			} else {
				index = nextExtraIndex(maxSlot)
			}
		}

		var sortOrder int
		if !tpl.IsMandatory(index) {
			sortOrder = maxSort + 1
		}

		var activityType slot.ActivityType
		if cmd.Fields.ActivityType != nil {
			activityType = *cmd.Fields.ActivityType
		}
		a, err := activity.New(tpl, activity.Placement{Lesson: lesson, SlotIndex: index, SlotType: st, SortOrder: sortOrder},
			activityType, *cmd.Fields.Title, cmd.CreatedBy, now)
		if err != nil {
			return err
		}
		cmd.Fields.apply(a)
		if cmd.Status != "" {
			a.Status = cmd.Status
		}
		if err := a.Validate(tpl); err != nil {
			return err
		}
		if err := checkPrerequisite(ctx, repos, a); err != nil {
			return err
		}
		if a.IsPublished() {
			if err := validation.NewGateError(a.ID, h.deps.Rules.CheckActivity(a)); err != nil {
				return err
			}
		}

		if err := repos.Activities().Create(ctx, a); err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		h.deps.log(ctx).Warn("create activity rejected",
			logger.LessonID(cmd.LessonID.String()),
			logger.SlotIndex(cmd.SlotIndex),
			logger.Err(err),
		)
		return nil, err
	}

	h.deps.log(ctx).Info("activity created",
		logger.ActivityID(created.ID.String()),
		logger.LessonID(created.LessonID.String()),
		logger.SlotIndex(created.SlotIndex),
	)
	h.deps.publish(ctx, shared.NewActivityChangedEvent(created.ID.String(), created.LessonID, created.CourseID, "created", now))
	return &CreateActivityResult{Activity: created}, nil
}

// nextExtraIndex returns the slot index after maxSlot, never below the first
// extra index.
func nextExtraIndex(maxSlot int) int {
	return max(maxSlot+1, slot.FirstExtraIndex)
}
