package query

import (
	"context"
	"fmt"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
)

// SlotCell is one occupied position of a lesson.
type SlotCell struct {
	SlotIndex  int    `json:"slotIndex"`
	ActivityID string `json:"activityId"`
	Status     string `json:"status"`
}

// LessonSlotCount summarizes the occupancy of one lesson.
type LessonSlotCount struct {
	LessonID  string     `json:"lessonId"`
	Title     string     `json:"title"`
	Total     int        `json:"total"`
	Published int        `json:"published"`
	HasFrench bool       `json:"hasFrench"`
	Slots     []SlotCell `json:"slots"`
}

// SlotCountsResult covers every lesson of a module.
type SlotCountsResult struct {
	ModuleID string            `json:"moduleId"`
	Lessons  []LessonSlotCount `json:"lessons"`
}

// GetSlotCountsHandler handles getSlotCountsByModule.
type GetSlotCountsHandler struct {
	deps Deps
}

// NewGetSlotCountsHandler creates a new GetSlotCountsHandler.
func NewGetSlotCountsHandler(d Deps) *GetSlotCountsHandler {
	return &GetSlotCountsHandler{deps: d.withDefaults()}
}

// Handle executes the query. Archived activities are not counted.
func (h *GetSlotCountsHandler) Handle(ctx context.Context, moduleID shared.ModuleID) (*SlotCountsResult, error) {
	if !moduleID.IsValid() {
		return nil, shared.NewDomainError("activity", "SlotCounts", shared.ErrInvalidID, "moduleId is required")
	}

	var (
		lessons []*curriculum.Lesson
		list    []*activity.Activity
	)
	err := h.deps.Store.WithTx(ctx, uow.ReadSnapshot, func(repos uow.Repositories) error {
		if _, err := repos.Curriculum().GetModule(ctx, moduleID); err != nil {
			return err
		}
		var err error
		if lessons, err = repos.Curriculum().ListLessonsByModule(ctx, moduleID); err != nil {
			return fmt.Errorf("get_slot_counts: list lessons: %w", err)
		}
		list, err = repos.Activities().ListByModule(ctx, moduleID, activity.Visible)
		return err
	})
	if err != nil {
		return nil, err
	}

	byLesson := make(map[shared.LessonID][]*activity.Activity, len(lessons))
	for _, a := range list {
		byLesson[a.LessonID] = append(byLesson[a.LessonID], a)
	}

	res := &SlotCountsResult{ModuleID: moduleID.String(), Lessons: make([]LessonSlotCount, 0, len(lessons))}
	for _, l := range lessons {
		acts := byLesson[l.ID]
		lc := LessonSlotCount{
			LessonID:  l.ID.String(),
			Title:     l.Title,
			Total:     len(acts),
			HasFrench: len(acts) > 0,
			Slots:     make([]SlotCell, 0, len(acts)),
		}
		for _, a := range acts {
			if a.IsPublished() {
				lc.Published++
			}
			if !a.HasFrench() {
				lc.HasFrench = false
			}
			lc.Slots = append(lc.Slots, SlotCell{SlotIndex: a.SlotIndex, ActivityID: a.ID.String(), Status: a.Status.String()})
		}
		res.Lessons = append(res.Lessons, lc)
	}
	return res, nil
}
