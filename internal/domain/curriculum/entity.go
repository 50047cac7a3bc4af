// Package curriculum contains the course hierarchy that activities hang from:
// learning paths, courses, modules and lessons, plus learner enrollments and
// the drip configuration stored on course and module rows.
package curriculum

import (
	"strings"
	"time"

	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
)

// UnlockMode controls when a module (or an activity) becomes available.
type UnlockMode string

const (
	// UnlockImmediate makes content available as soon as the learner is enrolled.
	UnlockImmediate UnlockMode = "immediate"
	// UnlockScheduled releases content at a computed or stored timestamp.
	UnlockScheduled UnlockMode = "scheduled"
	// UnlockPrerequisite releases content once the preceding module is completed.
	UnlockPrerequisite UnlockMode = "prerequisite"
)

// IsValid reports whether m is a known unlock mode.
func (m UnlockMode) IsValid() bool {
	switch m {
	case UnlockImmediate, UnlockScheduled, UnlockPrerequisite:
		return true
	}
	return false
}

func (m UnlockMode) String() string { return string(m) }

// ParseUnlockMode parses an unlock mode; empty input yields def.
func ParseUnlockMode(s string, def UnlockMode) (UnlockMode, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	m := UnlockMode(s)
	if !m.IsValid() {
		return "", shared.Errorf("curriculum", "ParseUnlockMode", shared.ErrInvalidInput, "unknown unlock mode %q", s)
	}
	return m, nil
}

// DripUnit is the calendar unit of a drip interval.
type DripUnit string

const (
	DripDays   DripUnit = "days"
	DripWeeks  DripUnit = "weeks"
	DripMonths DripUnit = "months"
)

// IsValid reports whether u is a known drip unit.
func (u DripUnit) IsValid() bool {
	switch u {
	case DripDays, DripWeeks, DripMonths:
		return true
	}
	return false
}

func (u DripUnit) String() string { return string(u) }

// ParseDripUnit parses a drip unit; empty input yields DripDays.
func ParseDripUnit(s string) (DripUnit, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DripDays, nil
	}
	u := DripUnit(s)
	if !u.IsValid() {
		return "", shared.Errorf("curriculum", "ParseDripUnit", shared.ErrInvalidInput, "unknown drip unit %q", s)
	}
	return u, nil
}

// DripConfig is the course-level drip configuration.
type DripConfig struct {
	Enabled  bool     `json:"dripEnabled"`
	Interval int      `json:"dripInterval"`
	Unit     DripUnit `json:"dripUnit"`
}

// Course is the top of the content hierarchy.
type Course struct {
	ID        shared.CourseID
	Title     string
	TitleFr   string
	Drip      DripConfig
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Module is an ordered section of a course.
type Module struct {
	ID          shared.ModuleID
	CourseID    shared.CourseID
	Title       string
	TitleFr     string
	SortOrder   int
	UnlockMode  UnlockMode
	AvailableAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Lesson is an ordered unit of a module. Its activities follow the slot template.
type Lesson struct {
	ID        shared.LessonID
	ModuleID  shared.ModuleID
	CourseID  shared.CourseID
	Title     string
	TitleFr   string
	SortOrder int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LearningPath is an ordered list of courses offered together.
type LearningPath struct {
	ID        shared.PathID
	Title     string
	TitleFr   string
	CourseIDs []shared.CourseID
	CreatedAt time.Time
}

// Enrollment records when a learner joined a course. The booking collaborator
// owns enrollments; the engine reads them to anchor drip schedules.
type Enrollment struct {
	UserID     shared.UserID
	CourseID   shared.CourseID
	EnrolledAt time.Time
}

// NewCourse creates a course with drip disabled.
func NewCourse(id shared.CourseID, title, titleFr string, now time.Time) (*Course, error) {
	if !id.IsValid() {
		return nil, shared.NewDomainError("curriculum", "NewCourse", shared.ErrInvalidID, "course id is required")
	}
	if strings.TrimSpace(title) == "" {
		return nil, shared.NewDomainError("curriculum", "NewCourse", shared.ErrEmptyValue, "course title is required")
	}
	return &Course{
		ID:        id,
		Title:     title,
		TitleFr:   titleFr,
		Drip:      DripConfig{Unit: DripDays},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NewModule creates a module that inherits the course schedule.
func NewModule(id shared.ModuleID, courseID shared.CourseID, title, titleFr string, sortOrder int, now time.Time) (*Module, error) {
	if !id.IsValid() || !courseID.IsValid() {
		return nil, shared.NewDomainError("curriculum", "NewModule", shared.ErrInvalidID, "module and course ids are required")
	}
	return &Module{
		ID:         id,
		CourseID:   courseID,
		Title:      title,
		TitleFr:    titleFr,
		SortOrder:  sortOrder,
		UnlockMode: UnlockScheduled,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// NewLesson creates a lesson under a module.
func NewLesson(id shared.LessonID, m *Module, title, titleFr string, sortOrder int, now time.Time) (*Lesson, error) {
	if !id.IsValid() || m == nil {
		return nil, shared.NewDomainError("curriculum", "NewLesson", shared.ErrInvalidID, "lesson id and module are required")
	}
	return &Lesson{
		ID:        id,
		ModuleID:  m.ID,
		CourseID:  m.CourseID,
		Title:     title,
		TitleFr:   titleFr,
		SortOrder: sortOrder,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
