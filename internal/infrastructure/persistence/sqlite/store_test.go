package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/progress"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
)

var now = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

func seeded(t *testing.T) (*Store, *curriculum.Lesson) {
	t.Helper()
	ctx := context.Background()
	s, err := OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	c, _ := curriculum.NewCourse("course-1", "French A1", "Français A1", now)
	require.NoError(t, s.Curriculum().SaveCourse(ctx, c))
	m, _ := curriculum.NewModule("module-1", c.ID, "Unit 1", "Unité 1", 1, now)
	require.NoError(t, s.Curriculum().SaveModule(ctx, m))
	l, _ := curriculum.NewLesson("lesson-1", m, "Greetings", "Salutations", 1, now)
	require.NoError(t, s.Curriculum().SaveLesson(ctx, l))
	return s, l
}

func newActivity(t *testing.T, l *curriculum.Lesson, index int) *activity.Activity {
	t.Helper()
	a, err := activity.New(slot.Canonical(), activity.Placement{Lesson: l, SlotIndex: index}, "", "Title", "author-1", now)
	require.NoError(t, err)
	return a
}

func TestActivityRoundTrip(t *testing.T) {
	s, l := seeded(t)
	ctx := context.Background()

	a := newActivity(t, l, 6)
	a.TitleFr = "Quiz"
	a.ContentJSON = json.RawMessage(`{"blocks":[1,2]}`)
	a.Media = activity.Media{VideoURL: "https://v.example/1", VideoProvider: activity.VideoVimeo}
	score := 80
	a.PassingScore = &score
	at := now.Add(24 * time.Hour)
	a.UnlockMode = curriculum.UnlockScheduled
	a.AvailableAt = &at
	require.NoError(t, s.Activities().Create(ctx, a))

	got, err := s.Activities().GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, slot.TypeQuiz, got.SlotType)
	assert.JSONEq(t, `{"blocks":[1,2]}`, string(got.ContentJSON))
	assert.Nil(t, got.ContentJSONFr)
	assert.Equal(t, activity.VideoVimeo, got.Media.VideoProvider)
	require.NotNil(t, got.PassingScore)
	assert.Equal(t, 80, *got.PassingScore)
	require.NotNil(t, got.AvailableAt)
	assert.True(t, at.Equal(*got.AvailableAt))
	assert.True(t, got.IsMandatory)

	_, err = s.Activities().GetByID(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrActivityNotFound)
}

func TestMandatorySlotIsUnique(t *testing.T) {
	s, l := seeded(t)
	ctx := context.Background()

	require.NoError(t, s.Activities().Create(ctx, newActivity(t, l, 3)))
	err := s.Activities().Create(ctx, newActivity(t, l, 3))
	assert.ErrorIs(t, err, shared.ErrSlotOccupied)

	require.NoError(t, s.Activities().Create(ctx, newActivity(t, l, 8)))
	extra := newActivity(t, l, 8)
	assert.NoError(t, s.Activities().Create(ctx, extra), "extra slots may repeat")

	extra.SlotIndex, extra.SlotType = 3, slot.TypeGrammarPoint
	assert.ErrorIs(t, s.Activities().Update(ctx, extra), shared.ErrSlotOccupied)
}

func TestArchivedRowsFreeTheSlot(t *testing.T) {
	s, l := seeded(t)
	ctx := context.Background()

	old := newActivity(t, l, 3)
	old.Status = activity.StatusArchived
	require.NoError(t, s.Activities().Create(ctx, old))
	live := newActivity(t, l, 3)
	require.NoError(t, s.Activities().Create(ctx, live))

	err := s.Activities().UpdateStatus(ctx, []shared.ActivityID{old.ID}, activity.StatusPublished, now)
	assert.ErrorIs(t, err, shared.ErrSlotOccupied)
}

func TestListOrdersExtrasBySortOrder(t *testing.T) {
	s, l := seeded(t)
	ctx := context.Background()

	first := newActivity(t, l, 8)
	first.SortOrder = 2
	second := newActivity(t, l, 9)
	second.SortOrder = 1
	intro := newActivity(t, l, 1)
	intro.SortOrder = 5
	for _, a := range []*activity.Activity{first, second, intro} {
		require.NoError(t, s.Activities().Create(ctx, a))
	}

	list, err := s.Activities().ListByCourse(ctx, "course-1", activity.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, intro.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
	assert.Equal(t, first.ID, list[2].ID)
}

func TestCreateIntoMissingLesson(t *testing.T) {
	s, _ := seeded(t)
	ghost := &curriculum.Lesson{ID: "ghost", ModuleID: "module-1", CourseID: "course-1"}
	err := s.Activities().Create(context.Background(), newActivity(t, ghost, 1))
	assert.ErrorIs(t, err, shared.ErrLessonNotFound)
}

func TestListFiltersAndPositions(t *testing.T) {
	s, l := seeded(t)
	ctx := context.Background()

	pub := newActivity(t, l, 1)
	pub.Status = activity.StatusPublished
	require.NoError(t, s.Activities().Create(ctx, pub))
	draft := newActivity(t, l, 2)
	require.NoError(t, s.Activities().Create(ctx, draft))
	extra := newActivity(t, l, 9)
	extra.SortOrder = 4
	extra.Status = activity.StatusArchived
	require.NoError(t, s.Activities().Create(ctx, extra))

	all, err := s.Activities().ListByLesson(ctx, l.ID, activity.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, pub.ID, all[0].ID)

	published, err := s.Activities().ListByCourse(ctx, "course-1", activity.PublishedOnly)
	require.NoError(t, err)
	assert.Len(t, published, 1)

	visible, err := s.Activities().ListByModule(ctx, "module-1", activity.Visible)
	require.NoError(t, err)
	assert.Len(t, visible, 2)

	maxSlot, maxSort, err := s.Activities().MaxPositions(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, maxSlot)
	assert.Equal(t, 4, maxSort)

	byIDs, err := s.Activities().GetByIDs(ctx, []shared.ActivityID{pub.ID, extra.ID, "missing"})
	require.NoError(t, err)
	assert.Len(t, byIDs, 2)

	later := now.Add(time.Hour)
	require.NoError(t, s.Activities().UpdateStatus(ctx, []shared.ActivityID{draft.ID, extra.ID}, activity.StatusPublished, later))
	published, err = s.Activities().ListByCourse(ctx, "course-1", activity.PublishedOnly)
	require.NoError(t, err)
	assert.Len(t, published, 3)

	assert.ErrorIs(t, s.Activities().UpdateSortOrder(ctx, "missing", 1, later), shared.ErrActivityNotFound)
	assert.ErrorIs(t, s.Activities().Delete(ctx, "missing"), shared.ErrActivityNotFound)
}

func TestWithTxRollsBack(t *testing.T) {
	s, l := seeded(t)
	ctx := context.Background()
	boom := errors.New("boom")

	a := newActivity(t, l, 1)
	err := s.WithTx(ctx, uow.ReadWrite, func(r uow.Repositories) error {
		if err := r.Activities().Create(ctx, a); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.Activities().GetByID(ctx, a.ID)
	assert.ErrorIs(t, err, shared.ErrActivityNotFound)

	require.NoError(t, s.WithTx(ctx, uow.ReadWrite, func(r uow.Repositories) error {
		return r.Activities().Create(ctx, a)
	}))
	_, err = s.Activities().GetByID(ctx, a.ID)
	assert.NoError(t, err)
}

func TestProgressUpsert(t *testing.T) {
	s, l := seeded(t)
	ctx := context.Background()
	a := newActivity(t, l, 1)
	require.NoError(t, s.Activities().Create(ctx, a))

	subj := progress.Subject{ActivityID: a.ID, LessonID: a.LessonID, CourseID: a.CourseID, ActivityType: a.ActivityType, Mandatory: true}
	started, _ := progress.Start(nil, subj, "learner-1", progress.Policy{}, now)
	require.NoError(t, s.Progress().Upsert(ctx, started))

	out, err := progress.Complete(started, subj, "learner-1", progress.Submission{
		TimeSpentSeconds: 40, ResponseData: json.RawMessage(`{"note":"ok"}`),
	}, now.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, s.Progress().Upsert(ctx, out.Record))

	got, err := s.Progress().Get(ctx, a.ID, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, progress.StatusCompleted, got.Status)
	assert.Equal(t, 40, got.TimeSpentSeconds)
	require.NotNil(t, got.CompletedAt)
	assert.JSONEq(t, `{"note":"ok"}`, string(got.ResponseData))

	n, err := s.Progress().CountByActivity(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, list := range [][]*progress.Progress{
		must(s.Progress().ListByLesson(ctx, l.ID, "learner-1")),
		must(s.Progress().ListByCourse(ctx, "course-1", "learner-1")),
		must(s.Progress().ListByUser(ctx, "learner-1")),
	} {
		assert.Len(t, list, 1)
	}

	_, err = s.Progress().Get(ctx, a.ID, "someone-else")
	assert.True(t, shared.IsNotFound(err))
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func TestCurriculum(t *testing.T) {
	s, l := seeded(t)
	ctx := context.Background()

	c, err := s.Curriculum().GetCourse(ctx, "course-1")
	require.NoError(t, err)
	c.Drip = curriculum.DripConfig{Enabled: true, Interval: 2, Unit: curriculum.DripWeeks}
	require.NoError(t, s.Curriculum().SaveCourse(ctx, c))
	c, err = s.Curriculum().GetCourse(ctx, "course-1")
	require.NoError(t, err)
	assert.Equal(t, curriculum.DripWeeks, c.Drip.Unit)
	assert.True(t, c.Drip.Enabled)

	m2, _ := curriculum.NewModule("module-0", "course-1", "Intro", "Intro", 0, now)
	require.NoError(t, s.Curriculum().SaveModule(ctx, m2))
	mods, err := s.Curriculum().ListModules(ctx, "course-1")
	require.NoError(t, err)
	require.Len(t, mods, 2)
	assert.Equal(t, shared.ModuleID("module-0"), mods[0].ID)

	lessons, err := s.Curriculum().ListLessonsByCourse(ctx, "course-1")
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.Equal(t, l.ID, lessons[0].ID)

	_, err = s.Curriculum().GetCourse(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrCourseNotFound)
	_, err = s.Curriculum().GetLesson(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrLessonNotFound)

	require.NoError(t, s.Curriculum().SavePath(ctx, &curriculum.LearningPath{
		ID: "path-1", Title: "Beginner", CourseIDs: []shared.CourseID{"course-1"}, CreatedAt: now,
	}))
	paths, err := s.Curriculum().ListPaths(ctx)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, []shared.CourseID{"course-1"}, paths[0].CourseIDs)

	err = s.Curriculum().SavePath(ctx, &curriculum.LearningPath{ID: "path-2", Title: "x", CourseIDs: []shared.CourseID{"gone"}, CreatedAt: now})
	assert.ErrorIs(t, err, shared.ErrCourseNotFound)

	_, err = s.Curriculum().GetEnrollment(ctx, "learner-1", "course-1")
	assert.ErrorIs(t, err, shared.ErrEnrollmentNotFound)
	require.NoError(t, s.Curriculum().SaveEnrollment(ctx, &curriculum.Enrollment{UserID: "learner-1", CourseID: "course-1", EnrolledAt: now}))
	e, err := s.Curriculum().GetEnrollment(ctx, "learner-1", "course-1")
	require.NoError(t, err)
	assert.True(t, now.Equal(e.EnrolledAt))
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "engine.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.Ping(context.Background()))
}
