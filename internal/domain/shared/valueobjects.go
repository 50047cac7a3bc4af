package shared

import (
	"fmt"
	"math"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// CourseID identifies a course.
type CourseID string

func (id CourseID) IsValid() bool  { return strings.TrimSpace(string(id)) != "" }
func (id CourseID) String() string { return string(id) }

// ModuleID identifies a module within a course.
type ModuleID string

func (id ModuleID) IsValid() bool  { return strings.TrimSpace(string(id)) != "" }
func (id ModuleID) String() string { return string(id) }

// LessonID identifies a lesson within a module.
type LessonID string

func (id LessonID) IsValid() bool  { return strings.TrimSpace(string(id)) != "" }
func (id LessonID) String() string { return string(id) }

// ActivityID identifies a single learning activity.
type ActivityID string

func (id ActivityID) IsValid() bool  { return strings.TrimSpace(string(id)) != "" }
func (id ActivityID) String() string { return string(id) }

// PathID identifies a learning path.
type PathID string

func (id PathID) IsValid() bool  { return strings.TrimSpace(string(id)) != "" }
func (id PathID) String() string { return string(id) }

// UserID identifies a learner or an author. The engine never owns user records;
// the value comes from the authentication collaborator.
type UserID string

func (id UserID) IsValid() bool  { return strings.TrimSpace(string(id)) != "" }
func (id UserID) String() string { return string(id) }

// ═══════════════════════════════════════════════════════════════════════════
// Bilingual text
// ═══════════════════════════════════════════════════════════════════════════

// Lang is a content language supported by the platform.
type Lang string

const (
	LangEnglish Lang = "en"
	LangFrench  Lang = "fr"
)

// ParseLang parses a language code.
func ParseLang(s string) (Lang, error) {
	switch Lang(strings.ToLower(strings.TrimSpace(s))) {
	case LangEnglish:
		return LangEnglish, nil
	case LangFrench:
		return LangFrench, nil
	}
	return "", fmt.Errorf("%w: unknown language %q", ErrInvalidInput, s)
}

// Bilingual is a primary/French text pair stored on the same row.
type Bilingual struct {
	Primary string `json:"primary"`
	French  string `json:"french"`
}

// In returns the text for the given language.
func (b Bilingual) In(lang Lang) string {
	if lang == LangFrench {
		return b.French
	}
	return b.Primary
}

// Complete reports whether both languages are non-blank.
func (b Bilingual) Complete() bool {
	return strings.TrimSpace(b.Primary) != "" && strings.TrimSpace(b.French) != ""
}

// ═══════════════════════════════════════════════════════════════════════════
// Ratios
// ═══════════════════════════════════════════════════════════════════════════

// Percent returns part/total as a rounded percentage. Zero total yields 0.
func Percent(part, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(part) * 100 / float64(total)))
}
