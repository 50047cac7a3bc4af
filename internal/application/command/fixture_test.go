package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
	"github.com/lingua-coach/curriculum-engine/internal/infrastructure/persistence/sqlite"
	"github.com/lingua-coach/curriculum-engine/pkg/timeutil"
)

const quizContent = "```json\n" + `{"questions":[
	{"type":"multiple_choice","question":"Bonjour means?","options":["Hello","Goodbye"],"correct":0},
	{"type":"true_false","question":"Merci means thanks.","correct":true}
]}` + "\n```"

type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []shared.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shared.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type fixture struct {
	ctx    context.Context
	store  *sqlite.Store
	clock  *timeutil.FixedClock
	events *recorder
	h      *Handlers

	course *curriculum.Course
	module *curriculum.Module
	lesson *curriculum.Lesson
}

// newFixture opens an empty in-memory store holding one course with one
// module and one lesson.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := timeutil.NewFixedClock(time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC))
	now := clock.Now()

	course, err := curriculum.NewCourse("course-1", "French A1", "Français A1", now)
	require.NoError(t, err)
	require.NoError(t, store.Curriculum().SaveCourse(ctx, course))

	module, err := curriculum.NewModule("module-1", course.ID, "Unit 1", "Unité 1", 1, now)
	require.NoError(t, err)
	require.NoError(t, store.Curriculum().SaveModule(ctx, module))

	lesson, err := curriculum.NewLesson("lesson-1", module, "Greetings", "Salutations", 1, now)
	require.NoError(t, err)
	require.NoError(t, store.Curriculum().SaveLesson(ctx, lesson))

	rec := &recorder{}
	return &fixture{
		ctx:    ctx,
		store:  store,
		clock:  clock,
		events: rec,
		h:      NewHandlers(Deps{Store: store, Publisher: rec, Clock: clock}),
		course: course,
		module: module,
		lesson: lesson,
	}
}

func (f *fixture) addLesson(t *testing.T, id shared.LessonID) *curriculum.Lesson {
	t.Helper()
	l, err := curriculum.NewLesson(id, f.module, string(id), string(id), 2, f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.store.Curriculum().SaveLesson(f.ctx, l))
	return l
}

func (f *fixture) enroll(t *testing.T, user shared.UserID) {
	t.Helper()
	require.NoError(t, f.store.Curriculum().SaveEnrollment(f.ctx, &curriculum.Enrollment{
		UserID: user, CourseID: f.course.ID, EnrolledAt: f.clock.Now(),
	}))
}

// create places a bilingual draft activity at index and applies mutate first.
func (f *fixture) create(t *testing.T, index int, mutate func(*CreateActivityCommand)) *activity.Activity {
	t.Helper()
	cmd := CreateActivityCommand{
		LessonID:  f.lesson.ID,
		SlotIndex: index,
		Fields:    ActivityPatch{Title: ptr("Activity"), TitleFr: ptr("Activité")},
		CreatedBy: "author-1",
	}
	if mutate != nil {
		mutate(&cmd)
	}
	res, err := f.h.CreateActivity.Handle(f.ctx, cmd)
	require.NoError(t, err)
	return res.Activity
}

// fill creates one activity per mandatory slot of the lesson and publishes them.
func (f *fixture) fill(t *testing.T) []*activity.Activity {
	t.Helper()
	tpl := slot.Canonical()
	out := make([]*activity.Activity, 0, tpl.Len())
	ids := make([]shared.ActivityID, 0, tpl.Len())
	for _, e := range tpl.Entries() {
		a := f.create(t, e.Index, func(c *CreateActivityCommand) {
			if e.DefaultActivityType == slot.ActivityQuiz {
				c.Fields.Content = ptr(quizContent)
			}
		})
		out = append(out, a)
		ids = append(ids, a.ID)
	}
	_, err := f.h.BulkUpdateStatus.Handle(f.ctx, BulkUpdateStatusCommand{IDs: ids, Status: activity.StatusPublished})
	require.NoError(t, err)
	return out
}

func ptr[T any](v T) *T { return &v }
