package query

import (
	"context"
	"fmt"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
)

// ══════════════════════════════════════════════════════════════════════════════
// LESSON READ PATHS
// getByLesson returns the flat ordered list; getLessonSlots lays the same
// activities out against the template, one entry per mandatory slot.
// ══════════════════════════════════════════════════════════════════════════════

// LessonQuery identifies a lesson and the audience of the read.
type LessonQuery struct {
	LessonID shared.LessonID
	Audience Audience
}

// Validate validates the query.
func (q LessonQuery) Validate() error {
	if !q.LessonID.IsValid() {
		return shared.NewDomainError("activity", "Read", shared.ErrInvalidID, "lessonId is required")
	}
	return nil
}

// LessonActivitiesResult is the ordered activity list of a lesson.
type LessonActivitiesResult struct {
	LessonID   string        `json:"lessonId"`
	Activities []ActivityDTO `json:"activities"`
}

// GetLessonActivitiesHandler handles getByLesson.
type GetLessonActivitiesHandler struct {
	deps Deps
}

// NewGetLessonActivitiesHandler creates a new GetLessonActivitiesHandler.
func NewGetLessonActivitiesHandler(d Deps) *GetLessonActivitiesHandler {
	return &GetLessonActivitiesHandler{deps: d.withDefaults()}
}

// Handle executes the query.
func (h *GetLessonActivitiesHandler) Handle(ctx context.Context, q LessonQuery) (*LessonActivitiesResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if _, err := h.deps.Store.Curriculum().GetLesson(ctx, q.LessonID); err != nil {
		return nil, err
	}
	list, err := h.deps.Store.Activities().ListByLesson(ctx, q.LessonID, q.Audience.Filter())
	if err != nil {
		return nil, fmt.Errorf("get_lesson_activities: %w", err)
	}
	return &LessonActivitiesResult{LessonID: q.LessonID.String(), Activities: q.Audience.present(list)}, nil
}

// SlotView is one mandatory slot and its occupant, if any.
type SlotView struct {
	Entry    slot.Entry   `json:"entry"`
	Activity *ActivityDTO `json:"activity"`
}

// LessonSlotsResult lays a lesson out against the template.
type LessonSlotsResult struct {
	LessonID        string        `json:"lessonId"`
	Title           string        `json:"title"`
	TitleFr         string        `json:"titleFr,omitempty"`
	TemplateVersion string        `json:"templateVersion"`
	Slots           []SlotView    `json:"slots"`
	Extras          []ActivityDTO `json:"extras"`
	FilledSlots     int           `json:"filledSlots"`
	TotalMinutes    int           `json:"totalMinutes"`
}

// GetLessonSlotsHandler handles getLessonSlots.
type GetLessonSlotsHandler struct {
	deps Deps
}

// NewGetLessonSlotsHandler creates a new GetLessonSlotsHandler.
func NewGetLessonSlotsHandler(d Deps) *GetLessonSlotsHandler {
	return &GetLessonSlotsHandler{deps: d.withDefaults()}
}

// Handle executes the query. Both reads share one snapshot.
func (h *GetLessonSlotsHandler) Handle(ctx context.Context, q LessonQuery) (*LessonSlotsResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var (
		lesson *curriculum.Lesson
		list   []*activity.Activity
	)
	err := h.deps.Store.WithTx(ctx, uow.ReadSnapshot, func(repos uow.Repositories) error {
		var err error
		if lesson, err = repos.Curriculum().GetLesson(ctx, q.LessonID); err != nil {
			return err
		}
		list, err = repos.Activities().ListByLesson(ctx, q.LessonID, q.Audience.Filter())
		return err
	})
	if err != nil {
		return nil, err
	}
	return layoutSlots(h.deps.Rules.Template, lesson, list, q.Audience), nil
}

func layoutSlots(tpl slot.Template, lesson *curriculum.Lesson, list []*activity.Activity, aud Audience) *LessonSlotsResult {
	res := &LessonSlotsResult{
		LessonID:        lesson.ID.String(),
		Title:           lesson.Title,
		TitleFr:         lesson.TitleFr,
		TemplateVersion: tpl.Version(),
		Slots:           make([]SlotView, 0, tpl.Len()),
		Extras:          []ActivityDTO{},
	}

	bySlot := make(map[int]*activity.Activity, tpl.Len())
	for _, a := range list {
		if a.Status == activity.StatusArchived {
			continue
		}
		if tpl.IsMandatory(a.SlotIndex) {
			if _, taken := bySlot[a.SlotIndex]; !taken {
				bySlot[a.SlotIndex] = a
			}
			continue
		}
		res.Extras = append(res.Extras, aud.presentOne(a))
		res.TotalMinutes += a.EstimatedMinutes
	}
	for _, e := range tpl.Entries() {
		view := SlotView{Entry: e}
		if a, ok := bySlot[e.Index]; ok {
			dto := aud.presentOne(a)
			view.Activity = &dto
			res.FilledSlots++
			res.TotalMinutes += a.EstimatedMinutes
		}
		res.Slots = append(res.Slots, view)
	}
	return res
}
