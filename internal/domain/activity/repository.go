package activity

import (
	"context"
	"time"

	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
)

// Filter narrows list queries. A zero Filter returns every status.
type Filter struct {
	Statuses []Status
}

// PublishedOnly is the learner-facing filter.
var PublishedOnly = Filter{Statuses: []Status{StatusPublished}}

// Visible excludes archived activities.
var Visible = Filter{Statuses: []Status{StatusDraft, StatusPublished}}

// Allows reports whether s passes the filter.
func (f Filter) Allows(s Status) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if st == s {
			return true
		}
	}
	return false
}

// Repository defines persistence for activities. List methods order results by
// slot index, then sort order, then creation time.
type Repository interface {
	// Writes

	// Create inserts a new activity. A second activity at an occupied mandatory
	// slot of the same lesson fails with shared.ErrSlotOccupied.
	Create(ctx context.Context, a *Activity) error

	// Update replaces every mutable column of an existing activity.
	Update(ctx context.Context, a *Activity) error

	// Delete removes an activity permanently.
	Delete(ctx context.Context, id shared.ActivityID) error

	// UpdateSortOrder sets the sort order of one activity.
	UpdateSortOrder(ctx context.Context, id shared.ActivityID, sortOrder int, now time.Time) error

	// UpdateStatus sets the status of a set of activities.
	UpdateStatus(ctx context.Context, ids []shared.ActivityID, status Status, now time.Time) error

	// Reads

	// GetByID returns one activity or shared.ErrActivityNotFound.
	GetByID(ctx context.Context, id shared.ActivityID) (*Activity, error)

	// GetByIDs returns the activities that exist among ids, in no particular order.
	GetByIDs(ctx context.Context, ids []shared.ActivityID) ([]*Activity, error)

	// ListByLesson returns the activities of one lesson.
	ListByLesson(ctx context.Context, lessonID shared.LessonID, f Filter) ([]*Activity, error)

	// ListByModule returns the activities of every lesson in a module.
	ListByModule(ctx context.Context, moduleID shared.ModuleID, f Filter) ([]*Activity, error)

	// ListByCourse returns the activities of every lesson in a course.
	ListByCourse(ctx context.Context, courseID shared.CourseID, f Filter) ([]*Activity, error)

	// MaxPositions returns the highest slot index and sort order used in a lesson.
	MaxPositions(ctx context.Context, lessonID shared.LessonID) (maxSlot, maxSort int, err error)
}
