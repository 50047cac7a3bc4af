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
// UPDATE ACTIVITY COMMAND
// Patches an activity in place. Updating the activity that occupies a
// mandatory slot is the way to replace that slot's content.
// ══════════════════════════════════════════════════════════════════════════════

// UpdateActivityCommand contains the changes to apply.
type UpdateActivityCommand struct {
	ID shared.ActivityID

	// SlotIndex moves the activity within its lesson. The slot type follows the
	// template unless SlotType is also given.
	SlotIndex *int
	SlotType  *slot.Type
	Status    *activity.Status

	Fields ActivityPatch
}

// Validate validates the command.
func (c UpdateActivityCommand) Validate() error {
	if !c.ID.IsValid() {
		return shared.NewDomainError("activity", "Update", shared.ErrInvalidID, "activity id is required")
	}
	if c.SlotIndex != nil && *c.SlotIndex < 1 {
		return shared.ErrInvalidSlotIndex
	}
	if c.Status != nil && !c.Status.IsValid() {
		return shared.ErrInvalidStatus
	}
	if c.Fields.Title != nil && *c.Fields.Title == "" {
		return shared.NewDomainError("activity", "Update", shared.ErrEmptyValue, "title cannot be empty")
	}
	return nil
}

// UpdateActivityResult contains the stored activity after the update.
type UpdateActivityResult struct {
	Activity *activity.Activity
	Moved    bool
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// UpdateActivityHandler handles UpdateActivityCommand.
type UpdateActivityHandler struct {
	deps Deps
}

// NewUpdateActivityHandler creates a new UpdateActivityHandler.
func NewUpdateActivityHandler(d Deps) *UpdateActivityHandler {
	return &UpdateActivityHandler{deps: d.withDefaults()}
}

// Handle executes the update command.
func (h *UpdateActivityHandler) Handle(ctx context.Context, cmd UpdateActivityCommand) (*UpdateActivityResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := h.deps.Clock.Now()
	tpl := h.deps.template()
	result := &UpdateActivityResult{}

	err := h.deps.Store.WithTx(ctx, uow.ReadWrite, func(repos uow.Repositories) error {
		a, err := repos.Activities().GetByID(ctx, cmd.ID)
		if err != nil {
			return err
		}

		if cmd.SlotIndex != nil && *cmd.SlotIndex != a.SlotIndex {
			a.SlotIndex = *cmd.SlotIndex
			a.SlotType = tpl.ExpectedType(a.SlotIndex)
			a.IsMandatory = tpl.IsMandatory(a.SlotIndex)
			if !a.IsMandatory && cmd.Fields.SortOrder == nil {
				_, maxSort, err := repos.Activities().MaxPositions(ctx, a.LessonID)
				if err != nil {
					return fmt.Errorf("update_activity: %w", err)
				}
				a.SortOrder = maxSort + 1
			} else if a.IsMandatory {
				a.SortOrder = a.SlotIndex
			}
			result.Moved = true
		}
		if cmd.SlotType != nil {
			a.SlotType = *cmd.SlotType
		}
		cmd.Fields.apply(a)
		if cmd.Status != nil {
			a.Status = *cmd.Status
		}
		a.UpdatedAt = now

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

		if err := repos.Activities().Update(ctx, a); err != nil {
			return err
		}
		result.Activity = a
		return nil
	})
	if err != nil {
		h.deps.log(ctx).Warn("update activity rejected",
			logger.ActivityID(cmd.ID.String()),
			logger.Err(err),
		)
		return nil, err
	}

	a := result.Activity
	h.deps.publish(ctx, shared.NewActivityChangedEvent(a.ID.String(), a.LessonID, a.CourseID, "updated", now))
	return result, nil
}
