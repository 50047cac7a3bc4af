// Package slot defines the seven-slot lesson template and the activity kinds
// that can fill a slot. It is the leaf of the curriculum domain: every other
// package receives a Template value instead of reading a global.
package slot

import (
	"fmt"
	"strings"

	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
)

// MandatoryCount is the number of fixed pedagogical slots in every lesson.
const MandatoryCount = 7

// FirstExtraIndex is the lowest slot index usable by extra activities.
const FirstExtraIndex = MandatoryCount + 1

// CanonicalVersion identifies the canonical template. Bump it whenever an entry
// of Canonical changes.
const CanonicalVersion = "2024.1"

// CanonicalTotalMinutes is the fixed time budget of a canonical lesson.
const CanonicalTotalMinutes = 52

// Type is the pedagogical role of a slot.
type Type string

const (
	TypeIntroduction    Type = "introduction"
	TypeVideoScenario   Type = "video_scenario"
	TypeGrammarPoint    Type = "grammar_point"
	TypeWrittenPractice Type = "written_practice"
	TypeOralPractice    Type = "oral_practice"
	TypeQuiz            Type = "quiz_slot"
	TypeCoachingTip     Type = "coaching_tip"
	TypeExtra           Type = "extra"
)

// Types lists every slot type, mandatory ones first in canonical order.
var Types = []Type{
	TypeIntroduction, TypeVideoScenario, TypeGrammarPoint, TypeWrittenPractice,
	TypeOralPractice, TypeQuiz, TypeCoachingTip, TypeExtra,
}

// IsValid reports whether t is a known slot type.
func (t Type) IsValid() bool {
	switch t {
	case TypeIntroduction, TypeVideoScenario, TypeGrammarPoint, TypeWrittenPractice,
		TypeOralPractice, TypeQuiz, TypeCoachingTip, TypeExtra:
		return true
	}
	return false
}

func (t Type) String() string { return string(t) }

// ParseType parses a slot type. Empty input returns "" without error so callers
// can fill the value from a template.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	t := Type(s)
	if !t.IsValid() {
		return "", shared.Errorf("slot", "ParseType", shared.ErrInvalidInput, "unknown slot type %q", s)
	}
	return t, nil
}

// ActivityType is the kind of content an activity delivers.
type ActivityType string

const (
	ActivityVideo            ActivityType = "video"
	ActivityText             ActivityType = "text"
	ActivityAudio            ActivityType = "audio"
	ActivityQuiz             ActivityType = "quiz"
	ActivityAssignment       ActivityType = "assignment"
	ActivityDownload         ActivityType = "download"
	ActivityLiveSession      ActivityType = "live_session"
	ActivityEmbed            ActivityType = "embed"
	ActivitySpeakingExercise ActivityType = "speaking_exercise"
	ActivityFillBlank        ActivityType = "fill_blank"
	ActivityMatching         ActivityType = "matching"
	ActivityDiscussion       ActivityType = "discussion"
)

// ActivityTypes lists all twelve activity kinds.
var ActivityTypes = []ActivityType{
	ActivityVideo, ActivityText, ActivityAudio, ActivityQuiz, ActivityAssignment,
	ActivityDownload, ActivityLiveSession, ActivityEmbed, ActivitySpeakingExercise,
	ActivityFillBlank, ActivityMatching, ActivityDiscussion,
}

// IsValid reports whether a is a known activity type.
func (a ActivityType) IsValid() bool {
	switch a {
	case ActivityVideo, ActivityText, ActivityAudio, ActivityQuiz, ActivityAssignment,
		ActivityDownload, ActivityLiveSession, ActivityEmbed, ActivitySpeakingExercise,
		ActivityFillBlank, ActivityMatching, ActivityDiscussion:
		return true
	}
	return false
}

func (a ActivityType) String() string { return string(a) }

// ParseActivityType parses an activity type; empty input returns "".
func ParseActivityType(s string) (ActivityType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	a := ActivityType(s)
	if !a.IsValid() {
		return "", shared.Errorf("slot", "ParseActivityType", shared.ErrInvalidInput, "unknown activity type %q", s)
	}
	return a, nil
}

// Entry describes one mandatory slot.
type Entry struct {
	Index               int          `json:"slotIndex"`
	Type                Type         `json:"slotType"`
	DefaultActivityType ActivityType `json:"defaultActivityType"`
	DefaultMinutes      int          `json:"defaultMinutes"`
	LabelEn             string       `json:"labelEn"`
	LabelFr             string       `json:"labelFr"`
	BilingualRequired   bool         `json:"bilingualRequired"`
}

// Template is an immutable, validated set of mandatory slot entries.
type Template struct {
	version string
	entries []Entry
}

// Canonical returns the seven-slot template every lesson is built on.
func Canonical() Template {
	t, err := NewTemplate(CanonicalVersion, []Entry{
		{1, TypeIntroduction, ActivityText, 2, "Introduction / Hook", "Introduction / Accroche", true},
		{2, TypeVideoScenario, ActivityVideo, 7, "Video Scenario", "Scénario Vidéo", true},
		{3, TypeGrammarPoint, ActivityText, 12, "Grammar / Strategy Point", "Point de Grammaire / Stratégie", true},
		{4, TypeWrittenPractice, ActivityAssignment, 11, "Written Practice", "Pratique Écrite", true},
		{5, TypeOralPractice, ActivityAudio, 9, "Oral Practice + Micro-Phonetics", "Pratique Orale + Micro-Phonétique", true},
		{6, TypeQuiz, ActivityQuiz, 8, "Quiz", "Quiz", true},
		{7, TypeCoachingTip, ActivityText, 3, "Coaching Tip + Self-Evaluation", "Conseil du Coach + Auto-Évaluation", true},
	})
	if err != nil {
		panic(err)
	}
	return t
}

// NewTemplate validates entries and returns a Template. Entries must be exactly
// MandatoryCount, indexed 1..MandatoryCount in order, with one entry per
// mandatory slot type.
func NewTemplate(version string, entries []Entry) (Template, error) {
	if len(entries) != MandatoryCount {
		return Template{}, fmt.Errorf("slot template: want %d entries, got %d", MandatoryCount, len(entries))
	}
	seen := make(map[Type]bool, len(entries))
	for i, e := range entries {
		if e.Index != i+1 {
			return Template{}, fmt.Errorf("slot template: entry %d has index %d, indices must be contiguous from 1", i, e.Index)
		}
		if !e.Type.IsValid() || e.Type == TypeExtra {
			return Template{}, fmt.Errorf("slot template: entry %d has invalid type %q", e.Index, e.Type)
		}
		if seen[e.Type] {
			return Template{}, fmt.Errorf("slot template: type %q appears twice", e.Type)
		}
		seen[e.Type] = true
		if !e.DefaultActivityType.IsValid() {
			return Template{}, fmt.Errorf("slot template: entry %d has invalid activity type %q", e.Index, e.DefaultActivityType)
		}
		if e.DefaultMinutes < 0 {
			return Template{}, fmt.Errorf("slot template: entry %d has negative minutes", e.Index)
		}
	}
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	return Template{version: version, entries: cp}, nil
}

// Version returns the template version string.
func (t Template) Version() string { return t.version }

// Entries returns a copy of the ordered entries.
func (t Template) Entries() []Entry {
	cp := make([]Entry, len(t.entries))
	copy(cp, t.entries)
	return cp
}

// Entry returns the entry at a 1-based mandatory index.
func (t Template) Entry(index int) (Entry, bool) {
	if index < 1 || index > len(t.entries) {
		return Entry{}, false
	}
	return t.entries[index-1], true
}

// IsMandatory reports whether index is one of the fixed slots.
func (t Template) IsMandatory(index int) bool {
	return index >= 1 && index <= len(t.entries)
}

// ExpectedType returns the slot type required at index: the template entry for
// mandatory indices and TypeExtra above them.
func (t Template) ExpectedType(index int) Type {
	if e, ok := t.Entry(index); ok {
		return e.Type
	}
	return TypeExtra
}

// IndexOf returns the mandatory index of a slot type.
func (t Template) IndexOf(st Type) (int, bool) {
	for _, e := range t.entries {
		if e.Type == st {
			return e.Index, true
		}
	}
	return 0, false
}

// TotalMinutes sums the default minutes of all entries.
func (t Template) TotalMinutes() int {
	total := 0
	for _, e := range t.entries {
		total += e.DefaultMinutes
	}
	return total
}

// Len returns the number of mandatory slots.
func (t Template) Len() int { return len(t.entries) }

// CheckAssignment verifies that st may be placed at index. It returns a
// SlotMismatch domain error when it may not.
func (t Template) CheckAssignment(index int, st Type) error {
	if index < 1 {
		return shared.ErrInvalidSlotIndex
	}
	want := t.ExpectedType(index)
	if st != want {
		return shared.Errorf("activity", "AssignSlot", shared.ErrSlotMismatch,
			"slot %d must be %q, got %q", index, want, st)
	}
	return nil
}
