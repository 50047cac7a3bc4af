package query

import (
	"context"
	"fmt"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
)

// CourseActivitiesQuery lists every activity of a course.
type CourseActivitiesQuery struct {
	CourseID shared.CourseID

	// Statuses narrows the list; empty returns every status.
	Statuses []activity.Status
}

// Validate validates the query.
func (q CourseActivitiesQuery) Validate() error {
	if !q.CourseID.IsValid() {
		return shared.NewDomainError("activity", "Read", shared.ErrInvalidID, "courseId is required")
	}
	for _, s := range q.Statuses {
		if !s.IsValid() {
			return shared.ErrInvalidStatus
		}
	}
	return nil
}

// CourseActivitiesResult is the author listing of a course.
type CourseActivitiesResult struct {
	CourseID   string        `json:"courseId"`
	Total      int           `json:"total"`
	Activities []ActivityDTO `json:"activities"`
}

// GetCourseActivitiesHandler handles getActivitiesByCourse.
type GetCourseActivitiesHandler struct {
	deps Deps
}

// NewGetCourseActivitiesHandler creates a new GetCourseActivitiesHandler.
func NewGetCourseActivitiesHandler(d Deps) *GetCourseActivitiesHandler {
	return &GetCourseActivitiesHandler{deps: d.withDefaults()}
}

// Handle executes the query.
func (h *GetCourseActivitiesHandler) Handle(ctx context.Context, q CourseActivitiesQuery) (*CourseActivitiesResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if _, err := h.deps.Store.Curriculum().GetCourse(ctx, q.CourseID); err != nil {
		return nil, err
	}
	list, err := h.deps.Store.Activities().ListByCourse(ctx, q.CourseID, activity.Filter{Statuses: q.Statuses})
	if err != nil {
		return nil, fmt.Errorf("get_course_activities: %w", err)
	}
	return &CourseActivitiesResult{
		CourseID:   q.CourseID.String(),
		Total:      len(list),
		Activities: ToActivityDTOs(list),
	}, nil
}
