package query

import (
	"context"
	"fmt"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
)

// TreeLesson is a lesson node of the course tree.
type TreeLesson struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	TitleFr            string `json:"titleFr,omitempty"`
	SortOrder          int    `json:"sortOrder"`
	SlotCount          int    `json:"slotCount"`
	PublishedSlotCount int    `json:"publishedSlotCount"`
	ExtraCount         int    `json:"extraCount"`
	IsComplete         bool   `json:"isComplete"`
	IsPublished        bool   `json:"isPublished"`
}

// TreeModule is a module node of the course tree.
type TreeModule struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	TitleFr    string       `json:"titleFr,omitempty"`
	SortOrder  int          `json:"sortOrder"`
	UnlockMode string       `json:"unlockMode"`
	Lessons    []TreeLesson `json:"lessons"`
}

// CourseTreeResult is the author overview of a course.
type CourseTreeResult struct {
	ID               string                `json:"id"`
	Title            string                `json:"title"`
	TitleFr          string                `json:"titleFr,omitempty"`
	Drip             curriculum.DripConfig `json:"drip"`
	Modules          []TreeModule          `json:"modules"`
	CompleteLessons  int                   `json:"completeLessons"`
	PublishedLessons int                   `json:"publishedLessons"`
	TotalLessons     int                   `json:"totalLessons"`
}

// GetCourseTreeHandler handles getCourseTree.
type GetCourseTreeHandler struct {
	deps Deps
}

// NewGetCourseTreeHandler creates a new GetCourseTreeHandler.
func NewGetCourseTreeHandler(d Deps) *GetCourseTreeHandler {
	return &GetCourseTreeHandler{deps: d.withDefaults()}
}

// Handle executes the query in one snapshot.
func (h *GetCourseTreeHandler) Handle(ctx context.Context, courseID shared.CourseID) (*CourseTreeResult, error) {
	if !courseID.IsValid() {
		return nil, shared.NewDomainError("curriculum", "Tree", shared.ErrInvalidID, "courseId is required")
	}

	key := "tree:" + courseID.String()
	if h.deps.Cache != nil {
		var cached CourseTreeResult
		if err := h.deps.Cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	var (
		course  *curriculum.Course
		modules []*curriculum.Module
		lessons []*curriculum.Lesson
		list    []*activity.Activity
	)
	err := h.deps.Store.WithTx(ctx, uow.ReadSnapshot, func(repos uow.Repositories) error {
		var err error
		if course, err = repos.Curriculum().GetCourse(ctx, courseID); err != nil {
			return err
		}
		if modules, err = repos.Curriculum().ListModules(ctx, courseID); err != nil {
			return fmt.Errorf("get_course_tree: list modules: %w", err)
		}
		if lessons, err = repos.Curriculum().ListLessonsByCourse(ctx, courseID); err != nil {
			return fmt.Errorf("get_course_tree: list lessons: %w", err)
		}
		list, err = repos.Activities().ListByCourse(ctx, courseID, activity.Visible)
		return err
	})
	if err != nil {
		return nil, err
	}
	tree := buildTree(h.deps.Rules.Template, course, modules, lessons, list)
	if h.deps.Cache != nil {
		if err := h.deps.Cache.Set(ctx, key, tree, h.deps.TreeTTL); err != nil {
			h.deps.log(ctx).Warn("course tree not cached", logger.CourseID(courseID.String()), logger.Err(err))
		}
	}
	return tree, nil
}

func buildTree(tpl slot.Template, c *curriculum.Course, modules []*curriculum.Module, lessons []*curriculum.Lesson, list []*activity.Activity) *CourseTreeResult {
	byLesson := make(map[shared.LessonID][]*activity.Activity)
	for _, a := range list {
		byLesson[a.LessonID] = append(byLesson[a.LessonID], a)
	}
	lessonsByModule := make(map[shared.ModuleID][]*curriculum.Lesson)
	for _, l := range lessons {
		lessonsByModule[l.ModuleID] = append(lessonsByModule[l.ModuleID], l)
	}

	res := &CourseTreeResult{
		ID:      c.ID.String(),
		Title:   c.Title,
		TitleFr: c.TitleFr,
		Drip:    c.Drip,
		Modules: make([]TreeModule, 0, len(modules)),
	}
	for _, m := range modules {
		tm := TreeModule{
			ID:         m.ID.String(),
			Title:      m.Title,
			TitleFr:    m.TitleFr,
			SortOrder:  m.SortOrder,
			UnlockMode: m.UnlockMode.String(),
			Lessons:    []TreeLesson{},
		}
		for _, l := range lessonsByModule[m.ID] {
			tl := treeLesson(tpl, l, byLesson[l.ID])
			if tl.IsComplete {
				res.CompleteLessons++
			}
			if tl.IsPublished {
				res.PublishedLessons++
			}
			res.TotalLessons++
			tm.Lessons = append(tm.Lessons, tl)
		}
		res.Modules = append(res.Modules, tm)
	}
	return res
}

func treeLesson(tpl slot.Template, l *curriculum.Lesson, acts []*activity.Activity) TreeLesson {
	tl := TreeLesson{ID: l.ID.String(), Title: l.Title, TitleFr: l.TitleFr, SortOrder: l.SortOrder}
	filled := make(map[int]bool, tpl.Len())
	published := make(map[int]bool, tpl.Len())
	for _, a := range acts {
		if !tpl.IsMandatory(a.SlotIndex) {
			tl.ExtraCount++
			continue
		}
		filled[a.SlotIndex] = true
		if a.IsPublished() {
			published[a.SlotIndex] = true
		}
	}
	tl.SlotCount = len(filled)
	tl.PublishedSlotCount = len(published)
	tl.IsComplete = tl.SlotCount == tpl.Len()
	tl.IsPublished = tl.PublishedSlotCount == tpl.Len()
	return tl
}
