// Package progress models a learner's state on a single activity as an
// explicit state machine:
//
//	not_started ──start──▶ in_progress ──complete──▶ completed | failed
//	                           ▲                          │
//	                           └──── start (retry) ───────┘
//
// not_started has no stored row. Retries re-enter in_progress and count an
// attempt; they are allowed on mandatory activities while the attempt cap is
// not reached.
package progress

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lingua-coach/curriculum-engine/internal/domain/quiz"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
)

// Status is the state of a learner on an activity.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether s ends an attempt.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	case StatusNotStarted, StatusInProgress:
		return false
	}
	return false
}

func (s Status) String() string { return string(s) }

// ParseStatus parses a stored status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s))
	if !st.IsValid() {
		return "", shared.Errorf("progress", "ParseStatus", shared.ErrInvalidInput, "unknown progress status %q", s)
	}
	return st, nil
}

// Progress is the stored record of one learner on one activity.
type Progress struct {
	ID               string
	ActivityID       shared.ActivityID
	UserID           shared.UserID
	LessonID         shared.LessonID
	CourseID         shared.CourseID
	Status           Status
	Score            *float64
	Attempts         int
	TimeSpentSeconds int
	CompletedAt      *time.Time
	LastAccessedAt   time.Time
	ResponseData     json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StatusOf returns the status of p, treating a missing row as not_started.
func StatusOf(p *Progress) Status {
	if p == nil {
		return StatusNotStarted
	}
	return p.Status
}

// Subject is the slice of an activity definition the state machine needs.
type Subject struct {
	ActivityID   shared.ActivityID
	LessonID     shared.LessonID
	CourseID     shared.CourseID
	ActivityType slot.ActivityType
	Mandatory    bool
	PassingScore *int
	Content      string
}

// Policy holds tunables of the state machine.
type Policy struct {
	// MaxAttempts caps retries; zero means unlimited.
	MaxAttempts int
}

// Transition names what Start did.
type Transition string

const (
	TransitionCreated   Transition = "created"
	TransitionResumed   Transition = "resumed"
	TransitionRetried   Transition = "retried"
	TransitionUnchanged Transition = "unchanged"
)

func newRecord(subj Subject, user shared.UserID, now time.Time) *Progress {
	return &Progress{
		ID:             uuid.NewString(),
		ActivityID:     subj.ActivityID,
		UserID:         user,
		LessonID:       subj.LessonID,
		CourseID:       subj.CourseID,
		Status:         StatusNotStarted,
		LastAccessedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (p *Progress) clone() *Progress {
	cp := *p
	if p.Score != nil {
		v := *p.Score
		cp.Score = &v
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cp.CompletedAt = &t
	}
	cp.ResponseData = append(json.RawMessage(nil), p.ResponseData...)
	return &cp
}

// Start applies startActivity to prev (nil when no row exists) and returns the
// record to store. prev is never modified.
func Start(prev *Progress, subj Subject, user shared.UserID, pol Policy, now time.Time) (*Progress, Transition) {
	if prev == nil {
		p := newRecord(subj, user, now)
		p.Status = StatusInProgress
		p.Attempts = 1
		return p, TransitionCreated
	}

	next := prev.clone()
	next.LastAccessedAt = now
	next.UpdatedAt = now

	switch prev.Status {
	case StatusNotStarted:
		next.Status = StatusInProgress
		next.Attempts = max(prev.Attempts, 1)
		return next, TransitionCreated
	case StatusInProgress:
		return next, TransitionResumed
	case StatusCompleted, StatusFailed:
		if !subj.Mandatory || (pol.MaxAttempts > 0 && prev.Attempts >= pol.MaxAttempts) {
			return next, TransitionUnchanged
		}
		next.Status = StatusInProgress
		next.Attempts = prev.Attempts + 1
		return next, TransitionRetried
	}
	return next, TransitionUnchanged
}

// Submission is the learner input of completeActivity.
type Submission struct {
	ResponseData     json.RawMessage
	TimeSpentSeconds int
	// Score is used for non-quiz activities graded outside the engine.
	Score *float64
}

// Outcome is the result of grading a submission.
type Outcome struct {
	Record *Progress
	Quiz   *quiz.Score
}

// Complete applies completeActivity to prev (nil when no row exists). Quiz
// activities are graded from the embedded document; a wrong answer produces a
// failed record, not an error. Errors are returned only for malformed input or
// a malformed quiz document.
func Complete(prev *Progress, subj Subject, user shared.UserID, sub Submission, now time.Time) (Outcome, error) {
	if sub.TimeSpentSeconds < 0 {
		return Outcome{}, shared.NewDomainError("progress", "Complete", shared.ErrValueOutOfRange, "time spent cannot be negative")
	}
	if len(sub.ResponseData) > 0 && !json.Valid(sub.ResponseData) {
		return Outcome{}, shared.NewDomainError("progress", "Complete", shared.ErrInvalidFormat, "responseData is not valid JSON")
	}

	var (
		score  = sub.Score
		graded *quiz.Score
	)
	if subj.ActivityType == slot.ActivityQuiz {
		doc, err := quiz.Parse(subj.Content)
		if err != nil {
			return Outcome{}, shared.WrapError("progress", "Complete", shared.ErrQuizMalformed, "activity quiz cannot be graded", err)
		}
		resp, err := quiz.DecodeResponses(sub.ResponseData)
		if err != nil {
			return Outcome{}, shared.WrapError("progress", "Complete", shared.ErrInvalidFormat, "responseData must be {\"answers\": [...]}", err)
		}
		s := doc.Grade(resp)
		graded = &s
		pct := s.Percent
		score = &pct
	}

	var next *Progress
	if prev == nil {
		next = newRecord(subj, user, now)
		next.Attempts = 1
	} else {
		next = prev.clone()
		if next.Attempts == 0 {
			next.Attempts = 1
		}
	}

	next.Status = Decide(score, subj.PassingScore)
	next.Score = score
	next.TimeSpentSeconds += sub.TimeSpentSeconds
	next.ResponseData = append(json.RawMessage(nil), sub.ResponseData...)
	completedAt := now
	next.CompletedAt = &completedAt
	next.LastAccessedAt = now
	next.UpdatedAt = now

	return Outcome{Record: next, Quiz: graded}, nil
}

// Decide applies the pass rule: with a threshold the score must reach it;
// without one every submission completes.
func Decide(score *float64, passing *int) Status {
	if passing == nil || *passing <= 0 {
		return StatusCompleted
	}
	if score != nil && *score >= float64(*passing) {
		return StatusCompleted
	}
	return StatusFailed
}
