package progress

import (
	"context"

	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
)

// Repository defines persistence for progress records.
type Repository interface {
	// Upsert inserts or updates the record keyed by (activity, user). It never
	// creates a second row for the same pair.
	Upsert(ctx context.Context, p *Progress) error

	// Get returns the record of a user on an activity or shared.ErrProgressNotFound.
	Get(ctx context.Context, activityID shared.ActivityID, userID shared.UserID) (*Progress, error)

	// ListByLesson returns the user's records for activities of a lesson.
	ListByLesson(ctx context.Context, lessonID shared.LessonID, userID shared.UserID) ([]*Progress, error)

	// ListByCourse returns the user's records for activities of a course.
	ListByCourse(ctx context.Context, courseID shared.CourseID, userID shared.UserID) ([]*Progress, error)

	// ListByUser returns every record of a user across courses.
	ListByUser(ctx context.Context, userID shared.UserID) ([]*Progress, error)

	// CountByActivity returns how many learners have a record on an activity.
	CountByActivity(ctx context.Context, activityID shared.ActivityID) (int, error)
}

// Index maps activity ids to records for left-join style lookups.
type Index map[shared.ActivityID]*Progress

// NewIndex builds an Index from a record list.
func NewIndex(records []*Progress) Index {
	idx := make(Index, len(records))
	for _, r := range records {
		idx[r.ActivityID] = r
	}
	return idx
}

// Status returns the learner status for an activity, not_started when absent.
func (idx Index) Status(id shared.ActivityID) Status {
	return StatusOf(idx[id])
}

// Tally accumulates completion counts over a set of activities.
type Tally struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	InProgress int `json:"inProgress"`
	Failed     int `json:"failed"`
}

// Add records one activity status.
func (t *Tally) Add(s Status) {
	t.Total++
	switch s {
	case StatusCompleted:
		t.Completed++
	case StatusInProgress:
		t.InProgress++
	case StatusFailed:
		t.Failed++
	case StatusNotStarted:
	}
}

// Merge adds another tally.
func (t *Tally) Merge(o Tally) {
	t.Total += o.Total
	t.Completed += o.Completed
	t.InProgress += o.InProgress
	t.Failed += o.Failed
}

// Percent returns the rounded completion percentage.
func (t Tally) Percent() int { return shared.Percent(t.Completed, t.Total) }

// Status derives an aggregate status for a lesson, module or course.
func (t Tally) Status() Status {
	switch {
	case t.Total > 0 && t.Completed == t.Total:
		return StatusCompleted
	case t.Completed > 0 || t.InProgress > 0 || t.Failed > 0:
		return StatusInProgress
	default:
		return StatusNotStarted
	}
}
