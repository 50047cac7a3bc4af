package progress

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
)

var now = time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)

const quizContent = "```json\n" + `{"questions":[
	{"type":"multiple_choice","question":"Bonjour means?","options":["Hello","Goodbye"],"correct":0},
	{"type":"true_false","question":"Merci means thanks.","correct":true}
]}` + "\n```"

func subject(mandatory bool) Subject {
	return Subject{
		ActivityID:   "act-1",
		LessonID:     "lesson-1",
		CourseID:     "course-1",
		ActivityType: slot.ActivityText,
		Mandatory:    mandatory,
	}
}

func intp(v int) *int { return &v }

func TestStartCreatesRecord(t *testing.T) {
	p, tr := Start(nil, subject(true), "learner-1", Policy{}, now)

	assert.Equal(t, TransitionCreated, tr)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, StatusInProgress, p.Status)
	assert.Equal(t, 1, p.Attempts)
	assert.Equal(t, shared.UserID("learner-1"), p.UserID)
	assert.Equal(t, now, p.LastAccessedAt)
}

func TestStartResumesAndRetries(t *testing.T) {
	first, _ := Start(nil, subject(true), "u", Policy{}, now)

	later := now.Add(time.Minute)
	resumed, tr := Start(first, subject(true), "u", Policy{}, later)
	assert.Equal(t, TransitionResumed, tr)
	assert.Equal(t, 1, resumed.Attempts)
	assert.Equal(t, later, resumed.LastAccessedAt)
	assert.Equal(t, now, first.LastAccessedAt, "prev is never modified")

	failed := resumed.clone()
	failed.Status = StatusFailed
	retried, tr := Start(failed, subject(true), "u", Policy{MaxAttempts: 3}, later)
	assert.Equal(t, TransitionRetried, tr)
	assert.Equal(t, StatusInProgress, retried.Status)
	assert.Equal(t, 2, retried.Attempts)

	capped := failed.clone()
	capped.Attempts = 3
	same, tr := Start(capped, subject(true), "u", Policy{MaxAttempts: 3}, later)
	assert.Equal(t, TransitionUnchanged, tr)
	assert.Equal(t, StatusFailed, same.Status)

	optional := failed.clone()
	optional.Status = StatusCompleted
	kept, tr := Start(optional, subject(false), "u", Policy{}, later)
	assert.Equal(t, TransitionUnchanged, tr)
	assert.Equal(t, StatusCompleted, kept.Status)
}

func TestCompleteWithoutThreshold(t *testing.T) {
	out, err := Complete(nil, subject(true), "u", Submission{TimeSpentSeconds: 90}, now)
	require.NoError(t, err)

	assert.Nil(t, out.Quiz)
	assert.Equal(t, StatusCompleted, out.Record.Status)
	assert.Equal(t, 90, out.Record.TimeSpentSeconds)
	assert.Equal(t, 1, out.Record.Attempts)
	require.NotNil(t, out.Record.CompletedAt)
	assert.Equal(t, now, *out.Record.CompletedAt)
}

func TestCompleteAccumulatesTime(t *testing.T) {
	prev, _ := Start(nil, subject(true), "u", Policy{}, now)
	prev.TimeSpentSeconds = 30

	out, err := Complete(prev, subject(true), "u", Submission{TimeSpentSeconds: 45}, now)
	require.NoError(t, err)
	assert.Equal(t, 75, out.Record.TimeSpentSeconds)
	assert.Equal(t, 30, prev.TimeSpentSeconds)
}

func TestCompleteQuiz(t *testing.T) {
	subj := subject(true)
	subj.ActivityType = slot.ActivityQuiz
	subj.Content = quizContent
	subj.PassingScore = intp(70)

	pass, err := Complete(nil, subj, "u", Submission{ResponseData: json.RawMessage(`{"answers":[0,true]}`)}, now)
	require.NoError(t, err)
	require.NotNil(t, pass.Quiz)
	assert.Equal(t, 2, pass.Quiz.Correct)
	assert.Equal(t, StatusCompleted, pass.Record.Status)
	require.NotNil(t, pass.Record.Score)
	assert.Equal(t, float64(100), *pass.Record.Score)

	fail, err := Complete(nil, subj, "u", Submission{ResponseData: json.RawMessage(`{"answers":[1,true]}`)}, now)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, fail.Record.Status)
	assert.Equal(t, float64(50), *fail.Record.Score)
}

func TestCompleteErrors(t *testing.T) {
	_, err := Complete(nil, subject(true), "u", Submission{TimeSpentSeconds: -1}, now)
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)

	_, err = Complete(nil, subject(true), "u", Submission{ResponseData: json.RawMessage(`{nope`)}, now)
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)

	broken := subject(true)
	broken.ActivityType = slot.ActivityQuiz
	broken.Content = "no block here"
	_, err = Complete(nil, broken, "u", Submission{}, now)
	assert.ErrorIs(t, err, shared.ErrQuizMalformed)

	quizSubj := subject(true)
	quizSubj.ActivityType = slot.ActivityQuiz
	quizSubj.Content = quizContent
	_, err = Complete(nil, quizSubj, "u", Submission{ResponseData: json.RawMessage(`[0,1]`)}, now)
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)
}

func TestDecide(t *testing.T) {
	score := func(v float64) *float64 { return &v }

	assert.Equal(t, StatusCompleted, Decide(nil, nil))
	assert.Equal(t, StatusCompleted, Decide(score(10), intp(0)))
	assert.Equal(t, StatusCompleted, Decide(score(70), intp(70)))
	assert.Equal(t, StatusFailed, Decide(score(69.5), intp(70)))
	assert.Equal(t, StatusFailed, Decide(nil, intp(50)))
}

func TestTally(t *testing.T) {
	var lesson Tally
	assert.Equal(t, StatusNotStarted, lesson.Status())
	assert.Equal(t, 0, lesson.Percent())

	lesson.Add(StatusCompleted)
	lesson.Add(StatusNotStarted)
	lesson.Add(StatusFailed)
	assert.Equal(t, StatusInProgress, lesson.Status())
	assert.Equal(t, 33, lesson.Percent())

	var course Tally
	course.Merge(lesson)
	course.Merge(Tally{Total: 1, Completed: 1})
	assert.Equal(t, 4, course.Total)
	assert.Equal(t, 2, course.Completed)
	assert.Equal(t, 50, course.Percent())

	done := Tally{Total: 2, Completed: 2}
	assert.Equal(t, StatusCompleted, done.Status())
}

func TestIndex(t *testing.T) {
	idx := NewIndex([]*Progress{{ActivityID: "a", Status: StatusFailed}})
	assert.Equal(t, StatusFailed, idx.Status("a"))
	assert.Equal(t, StatusNotStarted, idx.Status("b"))

	_, err := ParseStatus("paused")
	assert.Error(t, err)
	st, err := ParseStatus("completed")
	require.NoError(t, err)
	assert.True(t, st.IsTerminal())
}
