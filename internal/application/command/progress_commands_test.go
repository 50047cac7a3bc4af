package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/progress"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
)

func publishedQuiz(t *testing.T, f *fixture) *activity.Activity {
	t.Helper()
	return f.create(t, 6, func(c *CreateActivityCommand) {
		c.Status = activity.StatusPublished
		c.Fields.Content = ptr(quizContent)
		c.Fields.PassingScore = ptr(70)
	})
}

func TestStartActivity(t *testing.T) {
	f := newFixture(t)
	quiz := publishedQuiz(t, f)

	_, err := f.h.StartActivity.Handle(f.ctx, StartActivityCommand{ActivityID: quiz.ID, UserID: "learner-1"})
	assert.ErrorIs(t, err, shared.ErrContentLocked, "not enrolled")

	f.enroll(t, "learner-1")
	f.events.reset()

	res, err := f.h.StartActivity.Handle(f.ctx, StartActivityCommand{ActivityID: quiz.ID, UserID: "learner-1"})
	require.NoError(t, err)
	assert.Equal(t, progress.TransitionCreated, res.Transition)
	assert.Equal(t, progress.StatusInProgress, res.Progress.Status)

	f.clock.Advance(time.Minute)
	res, err = f.h.StartActivity.Handle(f.ctx, StartActivityCommand{ActivityID: quiz.ID, UserID: "learner-1"})
	require.NoError(t, err)
	assert.Equal(t, progress.TransitionResumed, res.Transition)
	assert.Equal(t, 1, res.Progress.Attempts)

	assert.Equal(t, []shared.EventType{shared.EventActivityStarted, shared.EventActivityStarted}, f.events.types())
}

// racingStore loses the next write races: each losing unit of work runs and
// rolls back, then winner commits before the loser is told of the conflict.
type racingStore struct {
	uow.Store
	losses int
	calls  int
	winner func()
}

var errLostRace = errors.New("lost race")

func (s *racingStore) WithTx(ctx context.Context, mode uow.TxMode, fn func(uow.Repositories) error) error {
	s.calls++
	if s.losses == 0 {
		return s.Store.WithTx(ctx, mode, fn)
	}
	s.losses--
	_ = s.Store.WithTx(ctx, mode, func(r uow.Repositories) error {
		if err := fn(r); err != nil {
			return err
		}
		return errLostRace
	})
	if s.winner != nil {
		s.winner()
		s.winner = nil
	}
	return fmt.Errorf("commit error: %w", shared.ErrConcurrentModification)
}

func TestConcurrentFirstStartResumes(t *testing.T) {
	f := newFixture(t)
	quiz := publishedQuiz(t, f)
	f.enroll(t, "learner-1")
	start := StartActivityCommand{ActivityID: quiz.ID, UserID: "learner-1"}

	rs := &racingStore{Store: f.store, losses: 1, winner: func() {
		_, err := f.h.StartActivity.Handle(f.ctx, start)
		require.NoError(t, err)
	}}
	h := NewStartActivityHandler(Deps{Store: rs, Clock: f.clock})

	res, err := h.Handle(f.ctx, start)
	require.NoError(t, err)
	assert.Equal(t, 2, rs.calls)
	assert.Equal(t, progress.TransitionResumed, res.Transition, "the rerun sees the committed row")
	assert.Equal(t, 1, res.Progress.Attempts)

	rs.calls, rs.losses = 0, 5
	_, err = h.Handle(f.ctx, start)
	assert.ErrorIs(t, err, shared.ErrConcurrentModification)
	assert.Equal(t, 3, rs.calls)

	rs.calls, rs.losses = 0, 0
	_, err = h.Handle(f.ctx, StartActivityCommand{ActivityID: "missing", UserID: "learner-1"})
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.Equal(t, 1, rs.calls, "only write conflicts are rerun")
}

func TestStartActivityGates(t *testing.T) {
	f := newFixture(t)
	draft := f.create(t, 1, nil)
	preview := f.create(t, 2, func(c *CreateActivityCommand) {
		c.Status = activity.StatusPublished
		c.Fields.IsPreview = ptr(true)
	})

	_, err := f.h.StartActivity.Handle(f.ctx, StartActivityCommand{ActivityID: draft.ID, UserID: "learner-1"})
	assert.ErrorIs(t, err, shared.ErrActivityUnavailable)
	assert.True(t, shared.IsLocked(err))

	_, err = f.h.StartActivity.Handle(f.ctx, StartActivityCommand{ActivityID: preview.ID, UserID: "visitor"})
	assert.NoError(t, err, "preview activities need no enrollment")

	_, err = f.h.StartActivity.Handle(f.ctx, StartActivityCommand{ActivityID: preview.ID})
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestCompleteQuizCompletesLesson(t *testing.T) {
	f := newFixture(t)
	quiz := publishedQuiz(t, f)
	f.enroll(t, "learner-1")
	f.events.reset()

	res, err := f.h.CompleteActivity.Handle(f.ctx, CompleteActivityCommand{
		ActivityID:       quiz.ID,
		UserID:           "learner-1",
		ResponseData:     json.RawMessage(`{"answers":[0,true]}`),
		TimeSpentSeconds: 120,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Quiz)
	assert.Equal(t, 2, res.Quiz.Correct)
	assert.Equal(t, progress.StatusCompleted, res.Progress.Status)
	assert.Equal(t, 100, res.LessonPercent)
	assert.True(t, res.LessonCompleted)
	assert.Equal(t, []shared.EventType{shared.EventActivityCompleted, shared.EventLessonCompleted}, f.events.types())

	stored, err := f.store.Progress().Get(f.ctx, quiz.ID, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, 120, stored.TimeSpentSeconds)
}

func TestCompleteQuizBelowThresholdFails(t *testing.T) {
	f := newFixture(t)
	quiz := publishedQuiz(t, f)
	f.create(t, 1, func(c *CreateActivityCommand) { c.Status = activity.StatusPublished })
	f.enroll(t, "learner-1")

	res, err := f.h.CompleteActivity.Handle(f.ctx, CompleteActivityCommand{
		ActivityID:   quiz.ID,
		UserID:       "learner-1",
		ResponseData: json.RawMessage(`{"answers":[1,true]}`),
	})
	require.NoError(t, err, "a wrong answer is not an error")
	assert.Equal(t, progress.StatusFailed, res.Progress.Status)
	require.NotNil(t, res.Progress.Score)
	assert.Equal(t, float64(50), *res.Progress.Score)
	assert.Equal(t, 0, res.LessonPercent)
	assert.False(t, res.LessonCompleted)
}

func TestCompleteActivityRejections(t *testing.T) {
	f := newFixture(t)
	quiz := publishedQuiz(t, f)
	f.enroll(t, "learner-1")

	_, err := f.h.CompleteActivity.Handle(f.ctx, CompleteActivityCommand{ActivityID: quiz.ID, UserID: "learner-1", Score: ptr(120.0)})
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)

	_, err = f.h.CompleteActivity.Handle(f.ctx, CompleteActivityCommand{
		ActivityID: quiz.ID, UserID: "learner-1", ResponseData: json.RawMessage(`"zero"`),
	})
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)

	_, err = f.h.CompleteActivity.Handle(f.ctx, CompleteActivityCommand{ActivityID: "missing", UserID: "learner-1"})
	assert.True(t, shared.IsNotFound(err))
}

func TestSaveCourseDripConflictsWithPrerequisiteModules(t *testing.T) {
	f := newFixture(t)

	mod, err := f.h.SaveModuleUnlock.Handle(f.ctx, SaveModuleUnlockCommand{
		ModuleID: f.module.ID, UnlockMode: curriculum.UnlockPrerequisite,
	})
	require.NoError(t, err)
	assert.Equal(t, curriculum.UnlockPrerequisite, mod.UnlockMode)

	_, err = f.h.SaveCourseDrip.Handle(f.ctx, SaveCourseDripCommand{
		CourseID: f.course.ID,
		Config:   curriculum.DripConfig{Enabled: true, Interval: 7},
	})
	assert.ErrorIs(t, err, shared.ErrConflictingUnlock)

	_, err = f.h.SaveModuleUnlock.Handle(f.ctx, SaveModuleUnlockCommand{
		ModuleID: f.module.ID, UnlockMode: curriculum.UnlockScheduled,
	})
	require.NoError(t, err)
	f.events.reset()

	course, err := f.h.SaveCourseDrip.Handle(f.ctx, SaveCourseDripCommand{
		CourseID: f.course.ID,
		Config:   curriculum.DripConfig{Enabled: true, Interval: 7},
	})
	require.NoError(t, err)
	assert.Equal(t, curriculum.DripDays, course.Drip.Unit)
	assert.Equal(t, []shared.EventType{shared.EventDripChanged}, f.events.types())

	_, err = f.h.SaveModuleUnlock.Handle(f.ctx, SaveModuleUnlockCommand{
		ModuleID: f.module.ID, UnlockMode: curriculum.UnlockPrerequisite,
	})
	assert.ErrorIs(t, err, shared.ErrConflictingUnlock)

	stored, err := f.store.Curriculum().GetCourse(f.ctx, f.course.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, stored.Drip.Interval)
}

func TestDripLocksLaterModules(t *testing.T) {
	f := newFixture(t)
	_, err := f.h.SaveCourseDrip.Handle(f.ctx, SaveCourseDripCommand{
		CourseID: f.course.ID,
		Config:   curriculum.DripConfig{Enabled: true, Interval: 1, Unit: curriculum.DripWeeks},
	})
	require.NoError(t, err)

	second, err := curriculum.NewModule("module-2", f.course.ID, "Unit 2", "Unité 2", 2, f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.store.Curriculum().SaveModule(f.ctx, second))
	lesson, err := curriculum.NewLesson("lesson-2", second, "Numbers", "Les nombres", 1, f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.store.Curriculum().SaveLesson(f.ctx, lesson))

	a := f.create(t, 1, func(c *CreateActivityCommand) {
		c.LessonID = lesson.ID
		c.Status = activity.StatusPublished
	})
	f.enroll(t, "learner-1")

	_, err = f.h.StartActivity.Handle(f.ctx, StartActivityCommand{ActivityID: a.ID, UserID: "learner-1"})
	assert.ErrorIs(t, err, shared.ErrContentLocked)

	f.clock.Advance(7 * 24 * time.Hour)
	_, err = f.h.StartActivity.Handle(f.ctx, StartActivityCommand{ActivityID: a.ID, UserID: "learner-1"})
	assert.NoError(t, err)
}
