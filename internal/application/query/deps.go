// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"time"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/quiz"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
	"github.com/lingua-coach/curriculum-engine/internal/domain/validation"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
	"github.com/lingua-coach/curriculum-engine/pkg/timeutil"
)

// ResultCache stores rendered read models. Handlers treat every Get error as
// a miss and every Set error as a warning.
type ResultCache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Deps are the collaborators shared by every query handler.
type Deps struct {
	Store   uow.Store
	Rules   validation.Rules
	Clock   timeutil.Clock
	Logger  *logger.Logger
	Reports validation.ReportStore

	// Cache is optional. TreeTTL bounds how long a cached course tree may be
	// served when no invalidation event arrives.
	Cache   ResultCache
	TreeTTL time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Rules.Template.Len() == 0 {
		d.Rules = validation.NewRules(slot.Canonical())
	}
	if d.Clock == nil {
		d.Clock = timeutil.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.TreeTTL <= 0 {
		d.TreeTTL = 5 * time.Minute
	}
	return d
}

func (d Deps) log(ctx context.Context) *logger.Logger {
	if l, ok := logger.Lookup(ctx); ok {
		return l
	}
	return d.Logger
}

// Audience selects which activities a read path returns.
type Audience int

const (
	// Learner sees published activities only, with quiz answer keys removed.
	Learner Audience = iota
	// Author sees drafts and archived activities too.
	Author
)

// Filter returns the storage filter of the audience.
func (a Audience) Filter() activity.Filter {
	if a == Author {
		return activity.Filter{}
	}
	return activity.PublishedOnly
}

// present converts activities for the audience.
func (a Audience) present(list []*activity.Activity) []ActivityDTO {
	out := make([]ActivityDTO, len(list))
	for i, act := range list {
		out[i] = a.presentOne(act)
	}
	return out
}

func (a Audience) presentOne(act *activity.Activity) ActivityDTO {
	dto := ToActivityDTO(act)
	if a == Learner && act.IsQuiz() {
		dto.Content = quiz.Redact(dto.Content)
		dto.ContentFr = quiz.Redact(dto.ContentFr)
	}
	return dto
}

// Handlers bundles every query handler.
type Handlers struct {
	SlotTemplate       *GetSlotTemplateHandler
	LessonActivities   *GetLessonActivitiesHandler
	LessonSlots        *GetLessonSlotsHandler
	Activity           *GetActivityHandler
	CourseActivities   *GetCourseActivitiesHandler
	ActivityProgress   *GetActivityProgressHandler
	LessonProgress     *GetLessonProgressHandler
	CourseProgress     *GetCourseProgressHandler
	UserProgress       *GetUserProgressHandler
	ModuleAvailability *GetModuleAvailabilityHandler
	Validate           *ValidateHandler
	SlotCounts         *GetSlotCountsHandler
	CourseTree         *GetCourseTreeHandler
	ExportLesson       *ExportLessonHandler
	LatestReport       *GetLatestReportHandler
}

// NewHandlers wires every query handler to the same dependencies.
func NewHandlers(d Deps) *Handlers {
	d = d.withDefaults()
	return &Handlers{
		SlotTemplate:       NewGetSlotTemplateHandler(d),
		LessonActivities:   NewGetLessonActivitiesHandler(d),
		LessonSlots:        NewGetLessonSlotsHandler(d),
		Activity:           NewGetActivityHandler(d),
		CourseActivities:   NewGetCourseActivitiesHandler(d),
		ActivityProgress:   NewGetActivityProgressHandler(d),
		LessonProgress:     NewGetLessonProgressHandler(d),
		CourseProgress:     NewGetCourseProgressHandler(d),
		UserProgress:       NewGetUserProgressHandler(d),
		ModuleAvailability: NewGetModuleAvailabilityHandler(d),
		Validate:           NewValidateHandler(d),
		SlotCounts:         NewGetSlotCountsHandler(d),
		CourseTree:         NewGetCourseTreeHandler(d),
		ExportLesson:       NewExportLessonHandler(d),
		LatestReport:       NewGetLatestReportHandler(d),
	}
}
