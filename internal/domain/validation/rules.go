// Package validation holds the quality-gate rules that decide whether a lesson
// (and transitively a course or a whole curriculum) may be published. Rules
// are pure: they evaluate already-loaded activities and return reports.
// Content defects are data in the report, never Go errors.
package validation

import (
	"errors"
	"fmt"
	"time"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/quiz"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
)

// Code identifies a kind of defect.
type Code string

// Blocking codes: any of them makes a lesson fail.
const (
	CodeSlotMissing      Code = "SlotMissing"
	CodeSlotNotPublished Code = "SlotNotPublished"
	CodeSlotMismatch     Code = "SlotMismatch"
	CodeSlotOccupied     Code = "SlotOccupied"
	CodeQuizMalformed    Code = "QuizMalformed"
	CodeBilingualMissing Code = "BilingualMissing"
)

// Advisory codes: reported as warnings, never affect OK.
const (
	CodeMediaMissing      Code = "MediaMissing"
	CodeExtraDraft        Code = "ExtraSlotDraft"
	CodeStructureMismatch Code = "StructureMismatch"
)

// Issue is one reported defect.
type Issue struct {
	SlotIndex  int               `json:"slotIndex"`
	ActivityID shared.ActivityID `json:"activityId,omitempty"`
	Code       Code              `json:"code"`
	Message    string            `json:"message"`
	Question   *int              `json:"question,omitempty"`
	Field      activity.Field    `json:"field,omitempty"`
}

// LanguagePolicy states which bilingual fields must be filled on slots the
// template flags as bilingual-required.
type LanguagePolicy struct {
	RequireFrench bool
	Fields        []activity.Field
}

// DefaultLanguagePolicy requires French titles.
func DefaultLanguagePolicy() LanguagePolicy {
	return LanguagePolicy{RequireFrench: true, Fields: []activity.Field{activity.FieldTitle}}
}

// Structure holds the expected course shape; zero values disable the check.
type Structure struct {
	ModulesPerCourse int
	LessonsPerModule int
}

// Rules evaluates lessons against a slot template and language policy.
type Rules struct {
	Template  slot.Template
	Language  LanguagePolicy
	Structure Structure
}

// NewRules creates rules with the default language policy and no structure check.
func NewRules(tpl slot.Template) Rules {
	return Rules{Template: tpl, Language: DefaultLanguagePolicy()}
}

// LessonReport is the outcome of validating one lesson.
type LessonReport struct {
	LessonID       shared.LessonID `json:"lessonId"`
	Title          string          `json:"title,omitempty"`
	OK             bool            `json:"ok"`
	Errors         []Issue         `json:"errors"`
	Warnings       []Issue         `json:"warnings"`
	FilledSlots    int             `json:"filledSlots"`
	PublishedSlots int             `json:"publishedSlots"`
	ExtraCount     int             `json:"extraCount"`
	HasFrench      bool            `json:"hasFrench"`
}

// CheckLesson validates the activities of one lesson. Archived activities are
// ignored: they are invisible to learners.
func (r Rules) CheckLesson(lessonID shared.LessonID, activities []*activity.Activity) LessonReport {
	rep := LessonReport{LessonID: lessonID, Errors: []Issue{}, Warnings: []Issue{}, HasFrench: true}

	bySlot := make(map[int][]*activity.Activity, slot.MandatoryCount)
	live := make([]*activity.Activity, 0, len(activities))
	for _, a := range activities {
		if a.Status == activity.StatusArchived {
			continue
		}
		live = append(live, a)
		if r.Template.IsMandatory(a.SlotIndex) {
			bySlot[a.SlotIndex] = append(bySlot[a.SlotIndex], a)
		} else {
			rep.ExtraCount++
		}
		if !a.HasFrench() {
			rep.HasFrench = false
		}
	}
	if len(live) == 0 {
		rep.HasFrench = false
	}

	for _, e := range r.Template.Entries() {
		occupants := bySlot[e.Index]
		switch {
		case len(occupants) == 0:
			rep.Errors = append(rep.Errors, Issue{
				SlotIndex: e.Index, Code: CodeSlotMissing,
				Message: fmt.Sprintf("slot %d (%s) has no activity", e.Index, e.LabelEn),
			})
			continue
		case len(occupants) > 1:
			rep.Errors = append(rep.Errors, Issue{
				SlotIndex: e.Index, Code: CodeSlotOccupied,
				Message: fmt.Sprintf("slot %d (%s) has %d activities, expected exactly one", e.Index, e.LabelEn, len(occupants)),
			})
		}
		rep.FilledSlots++

		a := occupants[0]
		if a.SlotType != e.Type {
			rep.Errors = append(rep.Errors, Issue{
				SlotIndex: e.Index, ActivityID: a.ID, Code: CodeSlotMismatch,
				Message: fmt.Sprintf("slot %d must be %q, found %q", e.Index, e.Type, a.SlotType),
			})
		}
		if a.IsPublished() {
			rep.PublishedSlots++
		} else {
			rep.Errors = append(rep.Errors, Issue{
				SlotIndex: e.Index, ActivityID: a.ID, Code: CodeSlotNotPublished,
				Message: fmt.Sprintf("slot %d (%s) is %s, not published", e.Index, e.LabelEn, a.Status),
			})
		}
	}

	for _, a := range live {
		if !r.Template.IsMandatory(a.SlotIndex) && a.SlotType != slot.TypeExtra {
			rep.Errors = append(rep.Errors, Issue{
				SlotIndex: a.SlotIndex, ActivityID: a.ID, Code: CodeSlotMismatch,
				Message: fmt.Sprintf("slot %d is an extra slot, found %q", a.SlotIndex, a.SlotType),
			})
		}
		rep.Errors = append(rep.Errors, r.contentIssues(a)...)
		rep.Warnings = append(rep.Warnings, r.advisories(a)...)
	}

	rep.OK = len(rep.Errors) == 0
	return rep
}

// CheckActivity is the publish gate of a single activity: the share of the
// lesson rules that depends only on the activity itself.
func (r Rules) CheckActivity(a *activity.Activity) []Issue {
	issues := make([]Issue, 0)
	if err := r.Template.CheckAssignment(a.SlotIndex, a.SlotType); err != nil {
		issues = append(issues, Issue{
			SlotIndex: a.SlotIndex, ActivityID: a.ID, Code: CodeSlotMismatch, Message: err.Error(),
		})
	}
	return append(issues, r.contentIssues(a)...)
}

func (r Rules) contentIssues(a *activity.Activity) []Issue {
	var issues []Issue
	if a.IsQuiz() {
		if _, err := quiz.Parse(a.Content); err != nil {
			is := Issue{SlotIndex: a.SlotIndex, ActivityID: a.ID, Code: CodeQuizMalformed, Message: err.Error()}
			var pe *quiz.ParseError
			if errors.As(err, &pe) && pe.Question >= 0 {
				q := pe.Question
				is.Question = &q
			}
			issues = append(issues, is)
		}
	}
	if r.Language.RequireFrench {
		if e, ok := r.Template.Entry(a.SlotIndex); ok && e.BilingualRequired {
			for _, f := range r.Language.Fields {
				if !a.Text(f).Complete() {
					issues = append(issues, Issue{
						SlotIndex: a.SlotIndex, ActivityID: a.ID, Code: CodeBilingualMissing, Field: f,
						Message: fmt.Sprintf("slot %d %s must be filled in both languages", a.SlotIndex, f),
					})
				}
			}
		}
	}
	return issues
}

func (r Rules) advisories(a *activity.Activity) []Issue {
	var w []Issue
	switch a.ActivityType {
	case slot.ActivityVideo:
		if a.Media.VideoURL == "" {
			w = append(w, Issue{SlotIndex: a.SlotIndex, ActivityID: a.ID, Code: CodeMediaMissing, Message: "video activity has no video URL"})
		}
	case slot.ActivityAudio:
		if a.Media.AudioURL == "" {
			w = append(w, Issue{SlotIndex: a.SlotIndex, ActivityID: a.ID, Code: CodeMediaMissing, Message: "audio activity has no audio URL"})
		}
	case slot.ActivityDownload:
		if a.Media.DownloadURL == "" {
			w = append(w, Issue{SlotIndex: a.SlotIndex, ActivityID: a.ID, Code: CodeMediaMissing, Message: "download activity has no file URL"})
		}
	case slot.ActivityEmbed:
		if a.Media.EmbedCode == "" {
			w = append(w, Issue{SlotIndex: a.SlotIndex, ActivityID: a.ID, Code: CodeMediaMissing, Message: "embed activity has no embed code"})
		}
	}
	if a.IsExtra() && a.Status == activity.StatusDraft {
		w = append(w, Issue{SlotIndex: a.SlotIndex, ActivityID: a.ID, Code: CodeExtraDraft, Message: "extra activity is still a draft"})
	}
	return w
}

// ModuleReport aggregates the lessons of one module.
type ModuleReport struct {
	ModuleID shared.ModuleID `json:"moduleId"`
	Title    string          `json:"title"`
	OK       bool            `json:"ok"`
	Lessons  []LessonReport  `json:"lessons"`
}

// CourseReport aggregates every lesson of a course.
type CourseReport struct {
	CourseID       shared.CourseID `json:"courseId"`
	Title          string          `json:"title"`
	OK             bool            `json:"ok"`
	Modules        []ModuleReport  `json:"modules"`
	Warnings       []Issue         `json:"warnings"`
	ModuleCount    int             `json:"moduleCount"`
	LessonCount    int             `json:"lessonCount"`
	ValidLessons   int             `json:"validLessons"`
	ActivityCount  int             `json:"activityCount"`
	PublishedCount int             `json:"publishedCount"`
	FrenchCoverage int             `json:"frenchCoverage"`
}

// CheckCourse validates every lesson of every module. activities may contain
// any course activity; they are grouped by lesson id. OK is the conjunction of
// the lesson results.
func (r Rules) CheckCourse(c *curriculum.Course, modules []*curriculum.Module, lessons []*curriculum.Lesson, activities []*activity.Activity) CourseReport {
	rep := CourseReport{CourseID: c.ID, Title: c.Title, OK: true, Modules: []ModuleReport{}, Warnings: []Issue{}}

	byLesson := make(map[shared.LessonID][]*activity.Activity)
	withFrench, live := 0, 0
	for _, a := range activities {
		byLesson[a.LessonID] = append(byLesson[a.LessonID], a)
		if a.Status == activity.StatusArchived {
			continue
		}
		live++
		if a.IsPublished() {
			rep.PublishedCount++
		}
		if a.HasFrench() {
			withFrench++
		}
	}
	rep.ActivityCount = live
	rep.FrenchCoverage = shared.Percent(withFrench, live)

	lessonsByModule := make(map[shared.ModuleID][]*curriculum.Lesson)
	for _, l := range lessons {
		lessonsByModule[l.ModuleID] = append(lessonsByModule[l.ModuleID], l)
	}

	for _, m := range modules {
		mr := ModuleReport{ModuleID: m.ID, Title: m.Title, OK: true, Lessons: []LessonReport{}}
		for _, l := range lessonsByModule[m.ID] {
			lr := r.CheckLesson(l.ID, byLesson[l.ID])
			lr.Title = l.Title
			if lr.OK {
				rep.ValidLessons++
			} else {
				mr.OK = false
			}
			mr.Lessons = append(mr.Lessons, lr)
			rep.LessonCount++
		}
		if !mr.OK {
			rep.OK = false
		}
		if r.Structure.LessonsPerModule > 0 && len(mr.Lessons) != r.Structure.LessonsPerModule {
			rep.Warnings = append(rep.Warnings, Issue{Code: CodeStructureMismatch,
				Message: fmt.Sprintf("module %q has %d lessons, expected %d", m.Title, len(mr.Lessons), r.Structure.LessonsPerModule)})
		}
		rep.Modules = append(rep.Modules, mr)
	}
	rep.ModuleCount = len(modules)
	if r.Structure.ModulesPerCourse > 0 && rep.ModuleCount != r.Structure.ModulesPerCourse {
		rep.Warnings = append(rep.Warnings, Issue{Code: CodeStructureMismatch,
			Message: fmt.Sprintf("course has %d modules, expected %d", rep.ModuleCount, r.Structure.ModulesPerCourse)})
	}
	return rep
}

// PathReport summarizes one learning path.
type PathReport struct {
	PathID    shared.PathID     `json:"pathId"`
	Title     string            `json:"title"`
	OK        bool              `json:"ok"`
	CourseIDs []shared.CourseID `json:"courseIds"`
	Failed    []shared.CourseID `json:"failedCourseIds"`
}

// SweepReport is the outcome of validating every course reachable from every
// learning path. Each course appears once in Courses even when several paths
// include it.
type SweepReport struct {
	OK              bool           `json:"ok"`
	TemplateVersion string         `json:"templateVersion"`
	CheckedAt       time.Time      `json:"checkedAt"`
	Paths           []PathReport   `json:"paths"`
	Courses         []CourseReport `json:"courses"`
	MissingCourses  []string       `json:"missingCourses"`
}

// FailedCourses counts courses that did not pass.
func (s SweepReport) FailedCourses() int {
	n := 0
	for _, c := range s.Courses {
		if !c.OK {
			n++
		}
	}
	return n
}

// Summarize builds path reports from already validated courses. A path course
// with no report (deleted course) fails the path.
func Summarize(paths []*curriculum.LearningPath, courses map[shared.CourseID]CourseReport) []PathReport {
	out := make([]PathReport, 0, len(paths))
	for _, p := range paths {
		pr := PathReport{PathID: p.ID, Title: p.Title, OK: true, CourseIDs: p.CourseIDs, Failed: []shared.CourseID{}}
		for _, id := range p.CourseIDs {
			cr, ok := courses[id]
			if !ok || !cr.OK {
				pr.OK = false
				pr.Failed = append(pr.Failed, id)
			}
		}
		out = append(out, pr)
	}
	return out
}
