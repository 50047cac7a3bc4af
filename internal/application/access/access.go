// Package access loads what a learner may open in a course. Commands use it
// to gate progress writes and queries use it to report module availability,
// so both sides apply one set of unlock rules.
package access

import (
	"context"
	"fmt"
	"time"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/drip"
	"github.com/lingua-coach/curriculum-engine/internal/domain/progress"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
)

// Snapshot is the learner-specific view of one course at one instant.
type Snapshot struct {
	Course     *curriculum.Course
	Modules    []*curriculum.Module
	Enrollment *curriculum.Enrollment

	// Activities holds the published activities of the course.
	Activities []*activity.Activity
	Progress   progress.Index

	// Availability is empty when the learner is not enrolled.
	Availability []drip.Availability
	Now          time.Time
}

// Load reads the course, its modules, the learner's enrollment and progress,
// and evaluates module availability. A missing enrollment is not an error.
func Load(ctx context.Context, repos uow.Repositories, courseID shared.CourseID, userID shared.UserID, now time.Time) (*Snapshot, error) {
	course, err := repos.Curriculum().GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	modules, err := repos.Curriculum().ListModules(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("access: list modules: %w", err)
	}
	activities, err := repos.Activities().ListByCourse(ctx, courseID, activity.PublishedOnly)
	if err != nil {
		return nil, fmt.Errorf("access: list activities: %w", err)
	}
	records, err := repos.Progress().ListByCourse(ctx, courseID, userID)
	if err != nil {
		return nil, fmt.Errorf("access: list progress: %w", err)
	}

	s := &Snapshot{
		Course:     course,
		Modules:    modules,
		Activities: activities,
		Progress:   progress.NewIndex(records),
		Now:        now,
	}

	enr, err := repos.Curriculum().GetEnrollment(ctx, userID, courseID)
	switch {
	case err == nil:
		s.Enrollment = enr
		s.Availability = drip.Evaluate(course.Drip, modules, enr.EnrolledAt, now,
			drip.ModuleCompletion(activities, s.Progress))
	case shared.IsNotFound(err):
	default:
		return nil, fmt.Errorf("access: get enrollment: %w", err)
	}
	return s, nil
}

// Enrolled reports whether the learner has an enrollment in the course.
func (s *Snapshot) Enrolled() bool { return s.Enrollment != nil }

// Check decides whether the learner may interact with a. Preview activities
// are open to everyone; the rest require an enrollment and an unlocked module.
func (s *Snapshot) Check(a *activity.Activity) error {
	if !a.IsPublished() {
		return shared.ErrActivityUnavailable
	}
	if a.IsPreview {
		return nil
	}
	if !s.Enrolled() {
		return shared.Errorf("progress", "Access", shared.ErrContentLocked,
			"learner is not enrolled in course %s", s.Course.ID)
	}
	return drip.Access(a, s.Availability, s.Progress, s.Now)
}
