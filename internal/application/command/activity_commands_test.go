package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingua-coach/curriculum-engine/internal/application/query"
	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/progress"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
	"github.com/lingua-coach/curriculum-engine/internal/domain/validation"
)

func TestCreateActivityFillsMandatorySlot(t *testing.T) {
	f := newFixture(t)

	a := f.create(t, 2, nil)
	assert.Equal(t, slot.TypeVideoScenario, a.SlotType)
	assert.Equal(t, slot.ActivityVideo, a.ActivityType)
	assert.True(t, a.IsMandatory)
	assert.Equal(t, activity.StatusDraft, a.Status)
	assert.Equal(t, shared.CourseID("course-1"), a.CourseID)

	stored, err := f.store.Activities().GetByID(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Activité", stored.TitleFr)
	assert.Equal(t, []shared.EventType{shared.EventActivityChanged}, f.events.types())
}

func TestCreateActivityResolvesSlotFromType(t *testing.T) {
	f := newFixture(t)

	a := f.create(t, 0, func(c *CreateActivityCommand) { c.SlotType = slot.TypeQuiz })
	assert.Equal(t, 6, a.SlotIndex)
	assert.True(t, a.IsMandatory)
}

func TestCreateActivityAppendsExtras(t *testing.T) {
	f := newFixture(t)

	first := f.create(t, 0, nil)
	second := f.create(t, 0, nil)

	assert.Equal(t, slot.FirstExtraIndex, first.SlotIndex)
	assert.Equal(t, slot.FirstExtraIndex+1, second.SlotIndex)
	assert.Equal(t, slot.TypeExtra, second.SlotType)
	assert.False(t, second.IsMandatory)
	assert.Less(t, first.SortOrder, second.SortOrder)
}

func TestCreateActivityRejections(t *testing.T) {
	f := newFixture(t)
	f.create(t, 1, nil)
	f.events.reset()

	_, err := f.h.CreateActivity.Handle(f.ctx, CreateActivityCommand{
		LessonID: f.lesson.ID, SlotIndex: 1, Fields: ActivityPatch{Title: ptr("Again")},
	})
	assert.ErrorIs(t, err, shared.ErrSlotOccupied)
	assert.True(t, shared.IsConflict(err))

	_, err = f.h.CreateActivity.Handle(f.ctx, CreateActivityCommand{
		LessonID: f.lesson.ID, SlotIndex: 3, SlotType: slot.TypeQuiz, Fields: ActivityPatch{Title: ptr("x")},
	})
	assert.ErrorIs(t, err, shared.ErrSlotMismatch)

	_, err = f.h.CreateActivity.Handle(f.ctx, CreateActivityCommand{
		LessonID: "missing", SlotIndex: 1, Fields: ActivityPatch{Title: ptr("x")},
	})
	assert.True(t, shared.IsNotFound(err))

	_, err = f.h.CreateActivity.Handle(f.ctx, CreateActivityCommand{LessonID: f.lesson.ID, SlotIndex: 2})
	assert.ErrorIs(t, err, shared.ErrEmptyValue)

	_, err = f.h.CreateActivity.Handle(f.ctx, CreateActivityCommand{
		LessonID: f.lesson.ID, SlotIndex: 2, Status: activity.StatusPublished, Fields: ActivityPatch{Title: ptr("Video")},
	})
	ge, ok := validation.AsGateError(err)
	require.True(t, ok)
	assert.Equal(t, validation.CodeBilingualMissing, ge.Issues[0].Code)

	_, err = f.h.CreateActivity.Handle(f.ctx, CreateActivityCommand{
		LessonID: f.lesson.ID, SlotIndex: 3, Fields: ActivityPatch{
			Title: ptr("Grammar"), PrerequisiteActivityID: ptr(shared.ActivityID("nope")),
		},
	})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	assert.Empty(t, f.events.types())
}

func TestUpdateActivityMovesAndPublishes(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, 0, nil)

	res, err := f.h.UpdateActivity.Handle(f.ctx, UpdateActivityCommand{
		ID:        a.ID,
		SlotIndex: ptr(3),
		Status:    ptr(activity.StatusPublished),
		Fields:    ActivityPatch{Title: ptr("Le passé composé"), TitleFr: ptr("Le passé composé")},
	})
	require.NoError(t, err)
	assert.True(t, res.Moved)
	assert.Equal(t, slot.TypeGrammarPoint, res.Activity.SlotType)
	assert.True(t, res.Activity.IsMandatory)
	assert.Equal(t, 3, res.Activity.SortOrder)
	assert.True(t, res.Activity.IsPublished())

	_, err = f.h.UpdateActivity.Handle(f.ctx, UpdateActivityCommand{ID: a.ID, Fields: ActivityPatch{Title: ptr("")}})
	assert.ErrorIs(t, err, shared.ErrEmptyValue)

	_, err = f.h.UpdateActivity.Handle(f.ctx, UpdateActivityCommand{ID: "missing", Fields: ActivityPatch{Title: ptr("x")}})
	assert.True(t, shared.IsNotFound(err))

	_, err = f.h.UpdateActivity.Handle(f.ctx, UpdateActivityCommand{ID: a.ID, SlotType: ptr(slot.TypeQuiz)})
	assert.ErrorIs(t, err, shared.ErrSlotMismatch)
}

func TestUpdateActivityIntoOccupiedSlot(t *testing.T) {
	f := newFixture(t)
	f.create(t, 4, nil)
	extra := f.create(t, 0, nil)

	_, err := f.h.UpdateActivity.Handle(f.ctx, UpdateActivityCommand{ID: extra.ID, SlotIndex: ptr(4)})
	assert.ErrorIs(t, err, shared.ErrSlotOccupied)
}

func TestDeleteActivity(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, 0, nil)

	res, err := f.h.DeleteActivity.Handle(f.ctx, DeleteActivityCommand{ID: a.ID})
	require.NoError(t, err)
	assert.Equal(t, a.SlotIndex, res.SlotIndex)

	_, err = f.store.Activities().GetByID(f.ctx, a.ID)
	assert.True(t, shared.IsNotFound(err))

	_, err = f.h.DeleteActivity.Handle(f.ctx, DeleteActivityCommand{ID: a.ID})
	assert.True(t, shared.IsNotFound(err))
}

func TestDeleteActivityWithProgressIsRefused(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, 0, nil)

	p, _ := progress.Start(nil, subjectOf(a), "learner-1", progress.Policy{}, f.clock.Now())
	require.NoError(t, f.store.Progress().Upsert(f.ctx, p))

	_, err := f.h.DeleteActivity.Handle(f.ctx, DeleteActivityCommand{ID: a.ID})
	assert.ErrorIs(t, err, shared.ErrHasProgress)
	assert.True(t, shared.IsConflict(err))

	_, err = f.store.Activities().GetByID(f.ctx, a.ID)
	assert.NoError(t, err)
}

func TestReorderActivities(t *testing.T) {
	f := newFixture(t)
	mandatory := f.create(t, 1, nil)
	a := f.create(t, 0, nil)
	b := f.create(t, 0, nil)
	c := f.create(t, 0, nil)

	res, err := f.h.ReorderActivities.Handle(f.ctx, ReorderActivitiesCommand{
		LessonID: f.lesson.ID,
		IDs:      []shared.ActivityID{c.ID, a.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, []ReorderedActivity{{c.ID, 1}, {a.ID, 2}, {b.ID, 3}}, res.Order)

	stored, err := f.store.Activities().GetByID(f.ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.SortOrder)

	listed, err := f.store.Activities().ListByLesson(f.ctx, f.lesson.ID, activity.Filter{})
	require.NoError(t, err)
	ids := make([]shared.ActivityID, len(listed))
	for i, x := range listed {
		ids[i] = x.ID
	}
	assert.Equal(t, []shared.ActivityID{mandatory.ID, c.ID, a.ID, b.ID}, ids, "extras follow their sort order")

	_, err = f.h.ReorderActivities.Handle(f.ctx, ReorderActivitiesCommand{
		LessonID: f.lesson.ID, IDs: []shared.ActivityID{mandatory.ID},
	})
	assert.ErrorIs(t, err, shared.ErrReorderMandatory)

	_, err = f.h.ReorderActivities.Handle(f.ctx, ReorderActivitiesCommand{
		LessonID: f.lesson.ID, IDs: []shared.ActivityID{"stranger"},
	})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = f.h.ReorderActivities.Handle(f.ctx, ReorderActivitiesCommand{
		LessonID: f.lesson.ID, IDs: []shared.ActivityID{a.ID, a.ID},
	})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestDuplicateActivity(t *testing.T) {
	f := newFixture(t)
	src := f.create(t, 2, func(c *CreateActivityCommand) { c.Fields.Points = ptr(20) })
	other := f.addLesson(t, "lesson-2")

	same, err := f.h.DuplicateActivity.Handle(f.ctx, DuplicateActivityCommand{ID: src.ID})
	require.NoError(t, err)
	assert.Equal(t, slot.FirstExtraIndex, same.Activity.SlotIndex)
	assert.Equal(t, slot.TypeExtra, same.Activity.SlotType)
	assert.False(t, same.Activity.IsMandatory)
	assert.Equal(t, "Activity (Copy)", same.Activity.Title)
	assert.Equal(t, 20, same.Activity.Points)

	moved, err := f.h.DuplicateActivity.Handle(f.ctx, DuplicateActivityCommand{ID: src.ID, TargetLessonID: other.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, moved.Activity.SlotIndex)
	assert.True(t, moved.Activity.IsMandatory)
	assert.Equal(t, other.ID, moved.Activity.LessonID)
	assert.Equal(t, activity.StatusDraft, moved.Activity.Status)

	_, err = f.h.DuplicateActivity.Handle(f.ctx, DuplicateActivityCommand{ID: src.ID, TargetLessonID: other.ID})
	assert.ErrorIs(t, err, shared.ErrSlotOccupied)
}

func TestBulkUpdateStatusIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	good := f.create(t, 1, nil)
	bad := f.create(t, 3, func(c *CreateActivityCommand) { c.Fields.TitleFr = nil })

	res, err := f.h.BulkUpdateStatus.Handle(f.ctx, BulkUpdateStatusCommand{
		IDs:    []shared.ActivityID{good.ID, bad.ID, "missing"},
		Status: activity.StatusPublished,
	})
	assert.ErrorIs(t, err, ErrBulkRejected)
	require.NotNil(t, res)
	assert.False(t, res.Committed)
	assert.Equal(t, 2, res.Failed)
	assert.True(t, res.Items[0].OK)
	assert.Equal(t, string(validation.CodeBilingualMissing), res.Items[1].Code)
	assert.Equal(t, "NotFound", res.Items[2].Code)

	stored, err := f.store.Activities().GetByID(f.ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, activity.StatusDraft, stored.Status)

	res, err = f.h.BulkUpdateStatus.Handle(f.ctx, BulkUpdateStatusCommand{
		IDs:    []shared.ActivityID{good.ID, good.ID, bad.ID},
		Status: activity.StatusArchived,
	})
	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.Equal(t, 2, res.Updated)
	assert.Contains(t, f.events.types(), shared.EventStatusChanged)
}

func TestImportLesson(t *testing.T) {
	f := newFixture(t)
	occupant := f.create(t, 1, nil)

	items := []activity.Portable{
		{SlotIndex: 1, Title: "Hook", TitleFr: "Accroche"},
		{SlotIndex: 3, Title: "Grammar", TitleFr: "Grammaire"},
		{SlotIndex: 8, SlotType: slot.TypeExtra, ActivityType: slot.ActivityText, Title: "Bonus"},
	}

	res, err := f.h.ImportLesson.Handle(f.ctx, ImportLessonCommand{LessonID: f.lesson.ID, Items: items})
	assert.ErrorIs(t, err, ErrImportRejected)
	require.NotNil(t, res)
	assert.False(t, res.Committed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, string(validation.CodeSlotOccupied), res.Items[0].Code)

	list, err := f.store.Activities().ListByLesson(f.ctx, f.lesson.ID, activity.Filter{})
	require.NoError(t, err)
	assert.Len(t, list, 1, "rejected import writes nothing")

	res, err = f.h.ImportLesson.Handle(f.ctx, ImportLessonCommand{LessonID: f.lesson.ID, Items: items, Replace: true})
	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.Equal(t, 1, res.Replaced)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, occupant.ID, res.Items[0].ActivityID)

	stored, err := f.store.Activities().GetByID(f.ctx, occupant.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hook", stored.Title)
	assert.Contains(t, f.events.types(), shared.EventLessonImported)
}

func TestImportLessonRejectsDuplicateRows(t *testing.T) {
	f := newFixture(t)

	res, err := f.h.ImportLesson.Handle(f.ctx, ImportLessonCommand{
		LessonID: f.lesson.ID,
		Items: []activity.Portable{
			{SlotIndex: 2, Title: "Video"},
			{SlotIndex: 2, Title: "Video again"},
			{SlotIndex: 4, SlotType: slot.TypeQuiz, Title: "Wrong slot"},
		},
	})
	assert.ErrorIs(t, err, ErrImportRejected)
	assert.True(t, res.Items[0].OK)
	assert.Equal(t, string(validation.CodeSlotOccupied), res.Items[1].Code)
	assert.Equal(t, string(validation.CodeSlotMismatch), res.Items[2].Code)
	assert.Equal(t, 1, res.Created, "only the first row was accepted")
}

func TestArchivedActivityReleasesItsSlot(t *testing.T) {
	f := newFixture(t)
	acts := f.fill(t)
	old := acts[2]
	validate := query.NewHandlers(query.Deps{Store: f.store, Clock: f.clock}).Validate

	_, err := f.h.BulkUpdateStatus.Handle(f.ctx, BulkUpdateStatusCommand{
		IDs: []shared.ActivityID{old.ID}, Status: activity.StatusArchived,
	})
	require.NoError(t, err)

	rep, err := validate.Lesson(f.ctx, f.lesson.ID)
	require.NoError(t, err)
	assert.False(t, rep.OK)
	require.Len(t, rep.Errors, 1)
	assert.Equal(t, validation.CodeSlotMissing, rep.Errors[0].Code)

	replacement := f.create(t, 3, nil)
	_, err = f.h.BulkUpdateStatus.Handle(f.ctx, BulkUpdateStatusCommand{
		IDs: []shared.ActivityID{replacement.ID}, Status: activity.StatusPublished,
	})
	require.NoError(t, err)

	rep, err = validate.Lesson(f.ctx, f.lesson.ID)
	require.NoError(t, err)
	assert.True(t, rep.OK, "%v", rep.Errors)

	res, err := f.h.BulkUpdateStatus.Handle(f.ctx, BulkUpdateStatusCommand{
		IDs: []shared.ActivityID{old.ID}, Status: activity.StatusDraft,
	})
	assert.ErrorIs(t, err, ErrBulkRejected)
	require.NotNil(t, res)
	assert.Equal(t, string(validation.CodeSlotOccupied), res.Items[0].Code)

	err = f.store.Activities().UpdateStatus(f.ctx, []shared.ActivityID{old.ID}, activity.StatusDraft, f.clock.Now())
	assert.ErrorIs(t, err, shared.ErrSlotOccupied)

	stored, err := f.store.Activities().GetByID(f.ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, activity.StatusArchived, stored.Status)
}

func TestImportIgnoresArchivedOccupant(t *testing.T) {
	f := newFixture(t)
	archived := f.create(t, 1, nil)
	_, err := f.h.BulkUpdateStatus.Handle(f.ctx, BulkUpdateStatusCommand{
		IDs: []shared.ActivityID{archived.ID}, Status: activity.StatusArchived,
	})
	require.NoError(t, err)

	res, err := f.h.ImportLesson.Handle(f.ctx, ImportLessonCommand{
		LessonID: f.lesson.ID,
		Items:    []activity.Portable{{SlotIndex: 1, Title: "Hook", TitleFr: "Accroche"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.NotEqual(t, archived.ID, res.Items[0].ActivityID)

	stored, err := f.store.Activities().GetByID(f.ctx, archived.ID)
	require.NoError(t, err)
	assert.Equal(t, "Activity", stored.Title, "archived history is kept")
}

func TestExportImportRoundTripPassesValidation(t *testing.T) {
	f := newFixture(t)
	f.fill(t)
	target := f.addLesson(t, "lesson-2")
	q := query.NewHandlers(query.Deps{Store: f.store, Clock: f.clock})

	bundle, err := q.ExportLesson.Handle(f.ctx, f.lesson.ID)
	require.NoError(t, err)
	require.Len(t, bundle.Activities, slot.MandatoryCount)

	res, err := f.h.ImportLesson.Handle(f.ctx, ImportLessonCommand{
		LessonID: target.ID, Items: bundle.Activities, CreatedBy: "author-2",
	})
	require.NoError(t, err)
	assert.Equal(t, slot.MandatoryCount, res.Created)

	rep, err := q.Validate.Lesson(f.ctx, target.ID)
	require.NoError(t, err)
	assert.True(t, rep.OK, "%v", rep.Errors)
	assert.Empty(t, rep.Errors)
	assert.Equal(t, slot.MandatoryCount, rep.PublishedSlots)
}
