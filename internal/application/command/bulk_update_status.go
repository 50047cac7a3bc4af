package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
	"github.com/lingua-coach/curriculum-engine/internal/domain/validation"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BULK UPDATE STATUS COMMAND
// Moves a set of activities to one status in a single transaction. Every item
// is checked first; one failing item rejects the whole batch.
// ══════════════════════════════════════════════════════════════════════════════

// BulkUpdateStatusCommand lists the activities and their target status.
type BulkUpdateStatusCommand struct {
	IDs    []shared.ActivityID
	Status activity.Status
}

// Validate validates the command.
func (c BulkUpdateStatusCommand) Validate() error {
	if len(c.IDs) == 0 {
		return shared.NewDomainError("activity", "BulkUpdateStatus", shared.ErrEmptyValue, "at least one activity id is required")
	}
	if !c.Status.IsValid() {
		return shared.ErrInvalidStatus
	}
	for _, id := range c.IDs {
		if !id.IsValid() {
			return shared.NewDomainError("activity", "BulkUpdateStatus", shared.ErrInvalidID, "activity ids cannot be empty")
		}
	}
	return nil
}

// BulkItemResult is the outcome of one item.
type BulkItemResult struct {
	ID     shared.ActivityID  `json:"id"`
	OK     bool               `json:"ok"`
	Code   string             `json:"code,omitempty"`
	Error  string             `json:"error,omitempty"`
	Issues []validation.Issue `json:"issues,omitempty"`
}

// BulkStatusResult is the per-item report. Committed is false when any item
// failed; nothing was written in that case.
type BulkStatusResult struct {
	Status    activity.Status  `json:"status"`
	Committed bool             `json:"committed"`
	Updated   int              `json:"updated"`
	Failed    int              `json:"failed"`
	Items     []BulkItemResult `json:"items"`
}

// ErrBulkRejected is returned alongside a BulkStatusResult whose items failed.
var ErrBulkRejected = shared.NewDomainError("activity", "BulkUpdateStatus", shared.ErrValidation,
	"bulk status change rejected, no activity was changed")

// BulkUpdateStatusHandler handles BulkUpdateStatusCommand.
type BulkUpdateStatusHandler struct {
	deps Deps
}

// NewBulkUpdateStatusHandler creates a new BulkUpdateStatusHandler.
func NewBulkUpdateStatusHandler(d Deps) *BulkUpdateStatusHandler {
	return &BulkUpdateStatusHandler{deps: d.withDefaults()}
}

// Handle executes the bulk status command. On item failures it returns the
// report together with ErrBulkRejected.
func (h *BulkUpdateStatusHandler) Handle(ctx context.Context, cmd BulkUpdateStatusCommand) (*BulkStatusResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	ids := dedupeIDs(cmd.IDs)
	now := h.deps.Clock.Now()
	result := &BulkStatusResult{Status: cmd.Status, Items: make([]BulkItemResult, 0, len(ids))}
	var firstLesson shared.LessonID

	err := h.deps.Store.WithTx(ctx, uow.ReadWrite, func(repos uow.Repositories) error {
		found, err := repos.Activities().GetByIDs(ctx, ids)
		if err != nil {
			return fmt.Errorf("bulk_update_status: %w", err)
		}
		byID := make(map[shared.ActivityID]*activity.Activity, len(found))
		for _, a := range found {
			byID[a.ID] = a
		}
		claims := newSlotClaims(repos, h.deps.template())

		for _, id := range ids {
			item := BulkItemResult{ID: id, OK: true}
			a, ok := byID[id]
			switch {
			case !ok:
				item.OK = false
				item.Code = "NotFound"
				item.Error = "activity not found"
			case cmd.Status == activity.StatusPublished:
				if issues := h.deps.Rules.CheckActivity(a); len(issues) > 0 {
					item.OK = false
					item.Code = string(issues[0].Code)
					item.Error = issues[0].Message
					item.Issues = issues
				}
			}
			if item.OK && a.Status == activity.StatusArchived && cmd.Status != activity.StatusArchived {
				owner, err := claims.claim(ctx, a)
				if err != nil {
					return fmt.Errorf("bulk_update_status: %w", err)
				}
				if owner.IsValid() {
					item.OK = false
					item.Code = string(validation.CodeSlotOccupied)
					item.Error = fmt.Sprintf("slot %d is already occupied by activity %s", a.SlotIndex, owner)
				}
			}
			if ok && !firstLesson.IsValid() {
				firstLesson = a.LessonID
			}
			if !item.OK {
				result.Failed++
			}
			result.Items = append(result.Items, item)
		}
		if result.Failed > 0 {
			return ErrBulkRejected
		}

		if err := repos.Activities().UpdateStatus(ctx, ids, cmd.Status, now); err != nil {
			return err
		}
		result.Updated = len(ids)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrBulkRejected) {
			h.deps.log(ctx).Warn("bulk status rejected",
				logger.String("status", cmd.Status.String()),
				logger.Int("failed", result.Failed),
				logger.Int("items", len(ids)),
			)
			return result, err
		}
		return nil, err
	}

	result.Committed = true
	h.deps.publish(ctx, shared.NewStatusChangedEvent(firstLesson, ids, cmd.Status.String(), now))
	h.deps.log(ctx).Info("bulk status applied",
		logger.String("status", cmd.Status.String()),
		logger.Int("updated", result.Updated),
	)
	return result, nil
}

// slotClaims tracks the live occupant of every mandatory slot an archived
// activity is restored into.
type slotClaims struct {
	repos  uow.Repositories
	tpl    slot.Template
	loaded map[shared.LessonID]bool
	owner  map[slotKey]shared.ActivityID
}

type slotKey struct {
	lesson shared.LessonID
	index  int
}

func newSlotClaims(repos uow.Repositories, tpl slot.Template) *slotClaims {
	return &slotClaims{
		repos:  repos,
		tpl:    tpl,
		loaded: make(map[shared.LessonID]bool),
		owner:  make(map[slotKey]shared.ActivityID),
	}
}

// claim reserves the slot of a for it and returns the id of another live
// occupant when there is one. Extra slots are never contended.
func (c *slotClaims) claim(ctx context.Context, a *activity.Activity) (shared.ActivityID, error) {
	if !c.tpl.IsMandatory(a.SlotIndex) {
		return "", nil
	}
	if !c.loaded[a.LessonID] {
		live, err := c.repos.Activities().ListByLesson(ctx, a.LessonID, activity.Visible)
		if err != nil {
			return "", err
		}
		for _, x := range live {
			if c.tpl.IsMandatory(x.SlotIndex) {
				c.owner[slotKey{x.LessonID, x.SlotIndex}] = x.ID
			}
		}
		c.loaded[a.LessonID] = true
	}
	k := slotKey{a.LessonID, a.SlotIndex}
	if owner, taken := c.owner[k]; taken && owner != a.ID {
		return owner, nil
	}
	c.owner[k] = a.ID
	return "", nil
}

func dedupeIDs(ids []shared.ActivityID) []shared.ActivityID {
	seen := make(map[shared.ActivityID]bool, len(ids))
	out := make([]shared.ActivityID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
