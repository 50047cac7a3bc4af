package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
	"github.com/lingua-coach/curriculum-engine/internal/domain/validation"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// IMPORT LESSON COMMAND
// Loads a decoded transfer bundle into a lesson in one transaction. Items are
// checked one by one and the whole import is rejected when any of them fails.
// ══════════════════════════════════════════════════════════════════════════════

// ImportLessonCommand contains the decoded activities to load.
type ImportLessonCommand struct {
	LessonID shared.LessonID
	Items    []activity.Portable

	// Replace overwrites the occupant of a mandatory slot instead of failing
	// with SlotOccupied.
	Replace   bool
	CreatedBy shared.UserID
}

// Validate validates the command.
func (c ImportLessonCommand) Validate() error {
	if !c.LessonID.IsValid() {
		return shared.NewDomainError("activity", "Import", shared.ErrInvalidID, "lessonId is required")
	}
	if len(c.Items) == 0 {
		return shared.NewDomainError("activity", "Import", shared.ErrEmptyValue, "the bundle contains no activities")
	}
	return nil
}

// ImportItemResult is the outcome of one bundle item.
type ImportItemResult struct {
	Row        int               `json:"row"`
	SlotIndex  int               `json:"slotIndex"`
	OK         bool              `json:"ok"`
	Action     string            `json:"action,omitempty"`
	ActivityID shared.ActivityID `json:"activityId,omitempty"`
	Code       string            `json:"code,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// ImportResult is the per-item report of an import. Nothing is written unless
// Committed is true.
type ImportResult struct {
	LessonID  shared.LessonID    `json:"lessonId"`
	Committed bool               `json:"committed"`
	Created   int                `json:"created"`
	Replaced  int                `json:"replaced"`
	Failed    int                `json:"failed"`
	Items     []ImportItemResult `json:"items"`
}

// ErrImportRejected is returned alongside an ImportResult whose items failed.
var ErrImportRejected = shared.NewDomainError("activity", "Import", shared.ErrValidation,
	"import rejected, the lesson was not changed")

// ImportLessonHandler handles ImportLessonCommand.
type ImportLessonHandler struct {
	deps Deps
}

// NewImportLessonHandler creates a new ImportLessonHandler.
func NewImportLessonHandler(d Deps) *ImportLessonHandler {
	return &ImportLessonHandler{deps: d.withDefaults()}
}

// Handle executes the import. On item failures it returns the report together
// with ErrImportRejected.
func (h *ImportLessonHandler) Handle(ctx context.Context, cmd ImportLessonCommand) (*ImportResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := h.deps.Clock.Now()
	tpl := h.deps.template()
	result := &ImportResult{LessonID: cmd.LessonID, Items: make([]ImportItemResult, 0, len(cmd.Items))}

	err := h.deps.Store.WithTx(ctx, uow.ReadWrite, func(repos uow.Repositories) error {
		lesson, err := repos.Curriculum().GetLesson(ctx, cmd.LessonID)
		if err != nil {
			return err
		}
		existing, err := repos.Activities().ListByLesson(ctx, lesson.ID, activity.Filter{})
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
		occupant := make(map[int]*activity.Activity)
		for _, a := range existing {
			if tpl.IsMandatory(a.SlotIndex) && a.Status != activity.StatusArchived {
				occupant[a.SlotIndex] = a
			}
		}

		claimed := make(map[int]int)
		for i, p := range cmd.Items {
			item := ImportItemResult{Row: i + 1, SlotIndex: p.SlotIndex}
			fail := func(err error) {
				item.Code, item.Error = errorCode(err), err.Error()
				result.Failed++
			}

			a, err := p.Materialize(tpl, lesson, cmd.CreatedBy, now)
			if err != nil {
				fail(err)
				result.Items = append(result.Items, item)
				continue
			}
			if a.IsPublished() {
				if err := validation.NewGateError(a.ID, h.deps.Rules.CheckActivity(a)); err != nil {
					fail(err)
					result.Items = append(result.Items, item)
					continue
				}
			}

			if tpl.IsMandatory(a.SlotIndex) {
				if row, dup := claimed[a.SlotIndex]; dup {
					fail(shared.Errorf("activity", "Import", shared.ErrSlotOccupied,
						"slot %d is already filled by row %d of the bundle", a.SlotIndex, row))
					result.Items = append(result.Items, item)
					continue
				}
				claimed[a.SlotIndex] = item.Row
			}

			if prev, taken := occupant[a.SlotIndex]; taken {
				if !cmd.Replace {
					fail(shared.Errorf("activity", "Import", shared.ErrSlotOccupied,
						"slot %d of lesson %s is already occupied", a.SlotIndex, lesson.ID))
					result.Items = append(result.Items, item)
					continue
				}
				a.ID, a.CreatedAt, a.CreatedBy = prev.ID, prev.CreatedAt, prev.CreatedBy
				if result.Failed == 0 {
					if err := repos.Activities().Update(ctx, a); err != nil {
						return err
					}
				}
				item.OK, item.Action, item.ActivityID = true, "replaced", a.ID
				result.Replaced++
				result.Items = append(result.Items, item)
				continue
			}

			if result.Failed == 0 {
				if err := repos.Activities().Create(ctx, a); err != nil {
					return err
				}
			}
			item.OK, item.Action, item.ActivityID = true, "created", a.ID
			result.Created++
			result.Items = append(result.Items, item)
		}

		if result.Failed > 0 {
			return ErrImportRejected
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrImportRejected) {
			h.deps.log(ctx).Warn("import rejected",
				logger.LessonID(cmd.LessonID.String()),
				logger.Int("failed", result.Failed),
				logger.Int("items", len(cmd.Items)),
			)
			return result, err
		}
		return nil, err
	}

	result.Committed = true
	h.deps.publish(ctx, shared.NewLessonImportedEvent(cmd.LessonID, result.Created+result.Replaced, now))
	h.deps.log(ctx).Info("lesson imported",
		logger.LessonID(cmd.LessonID.String()),
		logger.Int("created", result.Created),
		logger.Int("replaced", result.Replaced),
	)
	return result, nil
}

// errorCode names the domain kind of err for per-item reports.
func errorCode(err error) string {
	if ge, ok := validation.AsGateError(err); ok && len(ge.Issues) > 0 {
		return string(ge.Issues[0].Code)
	}
	switch {
	case errors.Is(err, shared.ErrSlotOccupied):
		return string(validation.CodeSlotOccupied)
	case errors.Is(err, shared.ErrSlotMismatch):
		return string(validation.CodeSlotMismatch)
	case errors.Is(err, shared.ErrQuizMalformed):
		return string(validation.CodeQuizMalformed)
	case shared.IsNotFound(err):
		return "NotFound"
	case shared.IsValidation(err):
		return "ValidationError"
	}
	return "Error"
}
