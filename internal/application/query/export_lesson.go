package query

import (
	"context"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
)

// LessonBundle is the exported content of a lesson. Archived activities are
// left out.
type LessonBundle struct {
	LessonID        string              `json:"lessonId"`
	Title           string              `json:"title"`
	TitleFr         string              `json:"titleFr,omitempty"`
	TemplateVersion string              `json:"templateVersion"`
	Activities      []activity.Portable `json:"activities"`
}

// ExportLessonHandler handles exportLesson.
type ExportLessonHandler struct {
	deps Deps
}

// NewExportLessonHandler creates a new ExportLessonHandler.
func NewExportLessonHandler(d Deps) *ExportLessonHandler {
	return &ExportLessonHandler{deps: d.withDefaults()}
}

// Handle executes the query.
func (h *ExportLessonHandler) Handle(ctx context.Context, lessonID shared.LessonID) (*LessonBundle, error) {
	if !lessonID.IsValid() {
		return nil, shared.NewDomainError("activity", "Export", shared.ErrInvalidID, "lessonId is required")
	}

	var (
		lesson *curriculum.Lesson
		list   []*activity.Activity
	)
	err := h.deps.Store.WithTx(ctx, uow.ReadSnapshot, func(repos uow.Repositories) error {
		var err error
		if lesson, err = repos.Curriculum().GetLesson(ctx, lessonID); err != nil {
			return err
		}
		list, err = repos.Activities().ListByLesson(ctx, lessonID, activity.Visible)
		return err
	})
	if err != nil {
		return nil, err
	}

	b := &LessonBundle{
		LessonID:        lesson.ID.String(),
		Title:           lesson.Title,
		TitleFr:         lesson.TitleFr,
		TemplateVersion: h.deps.Rules.Template.Version(),
		Activities:      make([]activity.Portable, 0, len(list)),
	}
	for _, a := range list {
		b.Activities = append(b.Activities, activity.ToPortable(a))
	}
	return b, nil
}
