package curriculum

import (
	"context"

	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
)

// Repository defines persistence for the course hierarchy.
// Implementations return shared.ErrCourseNotFound and friends for missing rows.
type Repository interface {
	// Courses

	// SaveCourse inserts or updates a course, including its drip configuration.
	SaveCourse(ctx context.Context, c *Course) error

	// GetCourse returns a course by id.
	GetCourse(ctx context.Context, id shared.CourseID) (*Course, error)

	// Modules

	// SaveModule inserts or updates a module.
	SaveModule(ctx context.Context, m *Module) error

	// GetModule returns a module by id.
	GetModule(ctx context.Context, id shared.ModuleID) (*Module, error)

	// ListModules returns the modules of a course ordered by sort order.
	ListModules(ctx context.Context, courseID shared.CourseID) ([]*Module, error)

	// Lessons

	// SaveLesson inserts or updates a lesson.
	SaveLesson(ctx context.Context, l *Lesson) error

	// GetLesson returns a lesson by id.
	GetLesson(ctx context.Context, id shared.LessonID) (*Lesson, error)

	// ListLessonsByModule returns the lessons of a module ordered by sort order.
	ListLessonsByModule(ctx context.Context, moduleID shared.ModuleID) ([]*Lesson, error)

	// ListLessonsByCourse returns every lesson of a course ordered by module
	// sort order, then lesson sort order.
	ListLessonsByCourse(ctx context.Context, courseID shared.CourseID) ([]*Lesson, error)

	// Learning paths

	// SavePath inserts or replaces a learning path and its course list.
	SavePath(ctx context.Context, p *LearningPath) error

	// ListPaths returns every learning path with its ordered course ids.
	ListPaths(ctx context.Context) ([]*LearningPath, error)

	// Enrollments

	// SaveEnrollment inserts or updates an enrollment.
	SaveEnrollment(ctx context.Context, e *Enrollment) error

	// GetEnrollment returns the enrollment of a learner in a course.
	GetEnrollment(ctx context.Context, userID shared.UserID, courseID shared.CourseID) (*Enrollment, error)
}
