package activity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
)

var now = time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)

func testLesson() *curriculum.Lesson {
	return &curriculum.Lesson{ID: "lesson-1", ModuleID: "module-1", CourseID: "course-1", Title: "Salutations"}
}

func TestNewMandatoryUsesTemplateDefaults(t *testing.T) {
	tpl := slot.Canonical()

	a, err := New(tpl, Placement{Lesson: testLesson(), SlotIndex: 2}, "", "Au café", "author-1", now)
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, shared.LessonID("lesson-1"), a.LessonID)
	assert.Equal(t, shared.ModuleID("module-1"), a.ModuleID)
	assert.Equal(t, shared.CourseID("course-1"), a.CourseID)
	assert.Equal(t, slot.TypeVideoScenario, a.SlotType)
	assert.Equal(t, slot.ActivityVideo, a.ActivityType)
	assert.Equal(t, 7, a.EstimatedMinutes)
	assert.Equal(t, 2, a.SortOrder)
	assert.Equal(t, StatusDraft, a.Status)
	assert.True(t, a.IsMandatory)
	assert.Equal(t, curriculum.UnlockImmediate, a.UnlockMode)
}

func TestNewExtra(t *testing.T) {
	a, err := New(slot.Canonical(), Placement{Lesson: testLesson(), SlotIndex: 9, SortOrder: 12},
		slot.ActivityDiscussion, "Forum", "author-1", now)
	require.NoError(t, err)

	assert.True(t, a.IsExtra())
	assert.False(t, a.IsMandatory)
	assert.Equal(t, slot.ActivityDiscussion, a.ActivityType)
	assert.Equal(t, 12, a.SortOrder)
}

func TestNewRejectsMismatchAndBadInput(t *testing.T) {
	tpl := slot.Canonical()

	_, err := New(tpl, Placement{Lesson: testLesson(), SlotIndex: 1, SlotType: slot.TypeQuiz}, "", "x", "a", now)
	assert.ErrorIs(t, err, shared.ErrSlotMismatch)

	_, err = New(tpl, Placement{Lesson: testLesson(), SlotIndex: 8, SlotType: slot.TypeGrammarPoint}, "", "x", "a", now)
	assert.ErrorIs(t, err, shared.ErrSlotMismatch)

	_, err = New(tpl, Placement{Lesson: testLesson(), SlotIndex: 0}, "", "x", "a", now)
	assert.ErrorIs(t, err, shared.ErrInvalidSlotIndex)

	_, err = New(tpl, Placement{SlotIndex: 1}, "", "x", "a", now)
	assert.True(t, shared.IsNotFound(err))

	_, err = New(tpl, Placement{Lesson: testLesson(), SlotIndex: 1}, "", "  ", "a", now)
	assert.ErrorIs(t, err, shared.ErrEmptyValue)

	_, err = New(tpl, Placement{Lesson: testLesson(), SlotIndex: 1}, "hologram", "x", "a", now)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestValidate(t *testing.T) {
	tpl := slot.Canonical()
	base := func() *Activity {
		a, err := New(tpl, Placement{Lesson: testLesson(), SlotIndex: 6}, "", "Quiz", "a", now)
		require.NoError(t, err)
		return a
	}

	a := base()
	bad := 120
	a.PassingScore = &bad
	assert.ErrorIs(t, a.Validate(tpl), shared.ErrValueOutOfRange)

	a = base()
	a.Points = -1
	assert.ErrorIs(t, a.Validate(tpl), shared.ErrValueOutOfRange)

	a = base()
	a.Media.VideoProvider = "dailymotion"
	assert.ErrorIs(t, a.Validate(tpl), shared.ErrInvalidInput)

	a = base()
	a.ContentJSON = json.RawMessage(`{"broken"`)
	assert.ErrorIs(t, a.Validate(tpl), shared.ErrInvalidFormat)

	a = base()
	a.UnlockMode = "sometime"
	assert.ErrorIs(t, a.Validate(tpl), shared.ErrInvalidInput)

	a = base()
	a.Status = "hidden"
	assert.ErrorIs(t, a.Validate(tpl), shared.ErrInvalidInput)
}

func TestSetStatus(t *testing.T) {
	a, err := New(slot.Canonical(), Placement{Lesson: testLesson(), SlotIndex: 1}, "", "Hook", "a", now)
	require.NoError(t, err)

	later := now.Add(time.Hour)
	require.NoError(t, a.SetStatus(StatusPublished, later))
	assert.True(t, a.IsPublished())
	assert.Equal(t, later, a.UpdatedAt)

	assert.Error(t, a.SetStatus("gone", later))
	assert.Equal(t, StatusPublished, a.Status)
}

func TestCloneIsDeep(t *testing.T) {
	tpl := slot.Canonical()
	src, err := New(tpl, Placement{Lesson: testLesson(), SlotIndex: 9}, slot.ActivityText, "Lecture", "a", now)
	require.NoError(t, err)
	src.TitleFr = "Lecture"
	src.ContentJSON = json.RawMessage(`{"k":1}`)
	score := 70
	src.PassingScore = &score
	require.NoError(t, src.SetStatus(StatusPublished, now))

	other := &curriculum.Lesson{ID: "lesson-2", ModuleID: "module-2", CourseID: "course-1"}
	cp := src.Clone(other, 10, slot.TypeExtra, 10, "author-2", now.Add(time.Minute))

	assert.NotEqual(t, src.ID, cp.ID)
	assert.Equal(t, shared.LessonID("lesson-2"), cp.LessonID)
	assert.Equal(t, shared.ModuleID("module-2"), cp.ModuleID)
	assert.Equal(t, 10, cp.SlotIndex)
	assert.Equal(t, StatusDraft, cp.Status)
	assert.Equal(t, "Lecture (Copy)", cp.Title)
	assert.Equal(t, "Lecture (copie)", cp.TitleFr)
	assert.Equal(t, shared.UserID("author-2"), cp.CreatedBy)

	cp.ContentJSON[2] = 'x'
	*cp.PassingScore = 10
	assert.Equal(t, `{"k":1}`, string(src.ContentJSON))
	assert.Equal(t, 70, *src.PassingScore)
}

func TestPortableRoundTripIntoAnotherLesson(t *testing.T) {
	tpl := slot.Canonical()
	src, err := New(tpl, Placement{Lesson: testLesson(), SlotIndex: 4}, "", "Rédaction", "a", now)
	require.NoError(t, err)
	src.TitleFr = "Rédaction"
	src.Points = 15
	at := now.Add(48 * time.Hour)
	src.UnlockMode = curriculum.UnlockScheduled
	src.AvailableAt = &at

	p := ToPortable(src)
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "lesson-1")

	target := &curriculum.Lesson{ID: "lesson-9", ModuleID: "module-3", CourseID: "course-2"}
	got, err := p.Materialize(tpl, target, "importer", now)
	require.NoError(t, err)

	assert.NotEqual(t, src.ID, got.ID)
	assert.Equal(t, shared.LessonID("lesson-9"), got.LessonID)
	assert.Equal(t, slot.TypeWrittenPractice, got.SlotType)
	assert.Equal(t, "Rédaction", got.TitleFr)
	assert.Equal(t, 15, got.Points)
	assert.Equal(t, StatusDraft, got.Status)
	require.NotNil(t, got.AvailableAt)
	assert.True(t, at.Equal(*got.AvailableAt))
}

func TestMaterializeRejectsSlotMismatch(t *testing.T) {
	p := Portable{SlotIndex: 3, SlotType: slot.TypeOralPractice, Title: "x"}
	_, err := p.Materialize(slot.Canonical(), testLesson(), "a", now)
	assert.ErrorIs(t, err, shared.ErrSlotMismatch)
}

func TestFilter(t *testing.T) {
	assert.True(t, PublishedOnly.Allows(StatusPublished))
	assert.False(t, PublishedOnly.Allows(StatusDraft))
	assert.True(t, Visible.Allows(StatusDraft))
	assert.False(t, Visible.Allows(StatusArchived))
	assert.True(t, Filter{}.Allows(StatusArchived))
}

func TestText(t *testing.T) {
	a := &Activity{Title: "Hello", TitleFr: "Bonjour", Content: "Body"}
	assert.True(t, a.Text(FieldTitle).Complete())
	assert.Equal(t, "Bonjour", a.Text(FieldTitle).In(shared.LangFrench))
	assert.False(t, a.Text(FieldContent).Complete())
	assert.True(t, a.HasFrench())
}
