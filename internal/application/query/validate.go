package query

import (
	"context"
	"fmt"
	"time"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
	"github.com/lingua-coach/curriculum-engine/internal/domain/validation"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION QUERIES
// Structural defects are report data. Only storage failures come back as
// errors. Course and sweep reads run inside one snapshot so a concurrent edit
// cannot split a report across two versions of the content.
// ══════════════════════════════════════════════════════════════════════════════

// ValidateHandler handles validateLesson, validateCourse and validateAllPaths.
type ValidateHandler struct {
	deps Deps
}

// NewValidateHandler creates a new ValidateHandler.
func NewValidateHandler(d Deps) *ValidateHandler {
	return &ValidateHandler{deps: d.withDefaults()}
}

// Lesson validates one lesson.
func (h *ValidateHandler) Lesson(ctx context.Context, lessonID shared.LessonID) (*validation.LessonReport, error) {
	if !lessonID.IsValid() {
		return nil, shared.NewDomainError("validation", "Lesson", shared.ErrInvalidID, "lessonId is required")
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
		list, err = repos.Activities().ListByLesson(ctx, lessonID, activity.Filter{})
		return err
	})
	if err != nil {
		return nil, err
	}

	rep := h.deps.Rules.CheckLesson(lesson.ID, list)
	rep.Title = lesson.Title
	return &rep, nil
}

// Course validates every lesson of a course.
func (h *ValidateHandler) Course(ctx context.Context, courseID shared.CourseID) (*validation.CourseReport, error) {
	if !courseID.IsValid() {
		return nil, shared.NewDomainError("validation", "Course", shared.ErrInvalidID, "courseId is required")
	}

	var rep validation.CourseReport
	err := h.deps.Store.WithTx(ctx, uow.ReadSnapshot, func(repos uow.Repositories) error {
		var err error
		rep, err = h.checkCourse(ctx, repos, courseID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

// AllPaths validates every course reachable from every learning path. A course
// shared by several paths is checked once. Path entries pointing at a deleted
// course are listed in MissingCourses and fail their path.
func (h *ValidateHandler) AllPaths(ctx context.Context) (*validation.SweepReport, error) {
	start := time.Now()
	rep := &validation.SweepReport{
		OK:              true,
		TemplateVersion: h.deps.Rules.Template.Version(),
		CheckedAt:       h.deps.Clock.Now(),
		Paths:           []validation.PathReport{},
		Courses:         []validation.CourseReport{},
		MissingCourses:  []string{},
	}

	err := h.deps.Store.WithTx(ctx, uow.ReadSnapshot, func(repos uow.Repositories) error {
		paths, err := repos.Curriculum().ListPaths(ctx)
		if err != nil {
			return fmt.Errorf("validate_all_paths: list paths: %w", err)
		}

		checked := make(map[shared.CourseID]validation.CourseReport)
		missing := make(map[shared.CourseID]bool)
		for _, p := range paths {
			for _, id := range p.CourseIDs {
				if _, done := checked[id]; done || missing[id] {
					continue
				}
				cr, err := h.checkCourse(ctx, repos, id)
				if shared.IsNotFound(err) {
					missing[id] = true
					rep.MissingCourses = append(rep.MissingCourses, id.String())
					continue
				}
				if err != nil {
					return err
				}
				checked[id] = cr
				rep.Courses = append(rep.Courses, cr)
			}
		}
		rep.Paths = validation.Summarize(paths, checked)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, p := range rep.Paths {
		if !p.OK {
			rep.OK = false
		}
	}
	h.deps.log(ctx).Info("integrity sweep finished",
		logger.Bool("ok", rep.OK),
		logger.Int("paths", len(rep.Paths)),
		logger.Int("courses", len(rep.Courses)),
		logger.Int("failed_courses", rep.FailedCourses()),
		logger.Latency(time.Since(start)),
	)
	return rep, nil
}

func (h *ValidateHandler) checkCourse(ctx context.Context, repos uow.Repositories, id shared.CourseID) (validation.CourseReport, error) {
	course, err := repos.Curriculum().GetCourse(ctx, id)
	if err != nil {
		return validation.CourseReport{}, err
	}
	modules, err := repos.Curriculum().ListModules(ctx, id)
	if err != nil {
		return validation.CourseReport{}, fmt.Errorf("validate_course: list modules: %w", err)
	}
	lessons, err := repos.Curriculum().ListLessonsByCourse(ctx, id)
	if err != nil {
		return validation.CourseReport{}, fmt.Errorf("validate_course: list lessons: %w", err)
	}
	list, err := repos.Activities().ListByCourse(ctx, id, activity.Filter{})
	if err != nil {
		return validation.CourseReport{}, fmt.Errorf("validate_course: list activities: %w", err)
	}
	return h.deps.Rules.CheckCourse(course, modules, lessons, list), nil
}
