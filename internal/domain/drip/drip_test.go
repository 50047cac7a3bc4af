package drip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/progress"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
)

var enrolled = time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC)

func modules(modes ...curriculum.UnlockMode) []*curriculum.Module {
	out := make([]*curriculum.Module, len(modes))
	for i, m := range modes {
		out[i] = &curriculum.Module{
			ID:         shared.ModuleID(string(rune('a' + i))),
			CourseID:   "course-1",
			SortOrder:  i + 1,
			UnlockMode: m,
		}
	}
	return out
}

func TestAvailableAt(t *testing.T) {
	tests := []struct {
		name    string
		cfg     curriculum.DripConfig
		ordinal int
		want    time.Time
	}{
		{"first module opens at enrollment", curriculum.DripConfig{Enabled: true, Interval: 3, Unit: curriculum.DripDays}, 1, enrolled},
		{"days", curriculum.DripConfig{Enabled: true, Interval: 3, Unit: curriculum.DripDays}, 3, enrolled.AddDate(0, 0, 6)},
		{"weeks", curriculum.DripConfig{Enabled: true, Interval: 1, Unit: curriculum.DripWeeks}, 2, enrolled.AddDate(0, 0, 7)},
		{"months clamp to month end", curriculum.DripConfig{Enabled: true, Interval: 1, Unit: curriculum.DripMonths}, 2,
			time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC)},
		{"unknown unit falls back to days", curriculum.DripConfig{Enabled: true, Interval: 2, Unit: "fortnights"}, 2, enrolled.AddDate(0, 0, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AvailableAt(tt.cfg, enrolled, tt.ordinal))
		})
	}
}

func TestEvaluateDrip(t *testing.T) {
	cfg := curriculum.DripConfig{Enabled: true, Interval: 7, Unit: curriculum.DripDays}
	mods := modules(curriculum.UnlockScheduled, curriculum.UnlockScheduled, curriculum.UnlockImmediate)
	now := enrolled.AddDate(0, 0, 7)

	got := Evaluate(cfg, mods, enrolled, now, nil)
	require.Len(t, got, 3)

	assert.True(t, got[0].Unlocked)
	assert.Equal(t, ReasonDrip, got[0].Reason)
	assert.True(t, got[1].Unlocked, "unlocks exactly at the boundary")
	require.NotNil(t, got[1].AvailableAt)
	assert.Equal(t, now, *got[1].AvailableAt)
	assert.True(t, got[2].Unlocked)
	assert.Equal(t, ReasonImmediate, got[2].Reason)

	early := Evaluate(cfg, mods, enrolled, now.Add(-time.Second), nil)
	assert.False(t, early[1].Unlocked)
}

func TestEvaluateFixedScheduleWithoutDrip(t *testing.T) {
	at := enrolled.Add(48 * time.Hour)
	mods := modules(curriculum.UnlockScheduled, curriculum.UnlockScheduled)
	mods[1].AvailableAt = &at

	got := Evaluate(curriculum.DripConfig{}, mods, enrolled, enrolled.Add(time.Hour), nil)
	assert.True(t, got[0].Unlocked)
	assert.Equal(t, ReasonUnscheduled, got[0].Reason)
	assert.False(t, got[1].Unlocked)
	assert.Equal(t, ReasonScheduled, got[1].Reason)
}

func TestEvaluatePrerequisites(t *testing.T) {
	mods := modules(curriculum.UnlockPrerequisite, curriculum.UnlockPrerequisite, curriculum.UnlockPrerequisite)
	completed := func(id shared.ModuleID) bool { return id == "a" }

	got := Evaluate(curriculum.DripConfig{}, mods, enrolled, enrolled, completed)
	assert.Equal(t, ReasonFirstModule, got[0].Reason)
	assert.True(t, got[0].Unlocked)
	assert.Equal(t, ReasonPrerequisiteMet, got[1].Reason)
	assert.True(t, got[1].Unlocked)
	assert.Equal(t, ReasonPrerequisitePending, got[2].Reason)
	assert.False(t, got[2].Unlocked)

	none := Evaluate(curriculum.DripConfig{}, mods, enrolled, enrolled, nil)
	assert.False(t, none[1].Unlocked)
}

func TestValidateConfig(t *testing.T) {
	mods := modules(curriculum.UnlockScheduled, curriculum.UnlockPrerequisite)

	err := ValidateConfig(curriculum.DripConfig{Enabled: true, Interval: 1, Unit: curriculum.DripDays}, mods)
	assert.ErrorIs(t, err, shared.ErrConflictingUnlock)

	err = ValidateConfig(curriculum.DripConfig{Enabled: true, Interval: 0, Unit: curriculum.DripDays}, nil)
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)

	err = ValidateConfig(curriculum.DripConfig{Enabled: true, Interval: 1, Unit: "years"}, nil)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	assert.NoError(t, ValidateConfig(curriculum.DripConfig{Enabled: false}, mods))
	assert.NoError(t, ValidateConfig(curriculum.DripConfig{Enabled: true, Interval: 2, Unit: curriculum.DripWeeks}, mods[:1]))
}

func TestValidateModule(t *testing.T) {
	m := &curriculum.Module{ID: "m", UnlockMode: curriculum.UnlockPrerequisite}
	assert.ErrorIs(t, ValidateModule(curriculum.DripConfig{Enabled: true, Interval: 1}, m), shared.ErrConflictingUnlock)
	assert.NoError(t, ValidateModule(curriculum.DripConfig{}, m))

	m.UnlockMode = "whenever"
	assert.ErrorIs(t, ValidateModule(curriculum.DripConfig{}, m), shared.ErrInvalidInput)
}

func TestModuleCompletionAndAccess(t *testing.T) {
	now := enrolled
	mandatory := &activity.Activity{ID: "act-1", ModuleID: "a", SlotType: slot.TypeIntroduction, Status: activity.StatusPublished, IsMandatory: true}
	draft := &activity.Activity{ID: "act-2", ModuleID: "a", Status: activity.StatusDraft, IsMandatory: true}
	gated := &activity.Activity{ID: "act-3", ModuleID: "b", Status: activity.StatusPublished,
		UnlockMode: curriculum.UnlockPrerequisite, PrerequisiteActivityID: "act-1"}

	idx := progress.NewIndex(nil)
	done := ModuleCompletion([]*activity.Activity{mandatory, draft, gated}, idx)
	assert.False(t, done("a"))
	assert.True(t, done("b"), "no mandatory published activities")
	assert.True(t, done("unknown"))

	idx = progress.NewIndex([]*progress.Progress{{ActivityID: "act-1", Status: progress.StatusCompleted}})
	done = ModuleCompletion([]*activity.Activity{mandatory, draft, gated}, idx)
	assert.True(t, done("a"), "drafts do not count")

	mods := modules(curriculum.UnlockPrerequisite, curriculum.UnlockPrerequisite)
	avail := Evaluate(curriculum.DripConfig{}, mods, enrolled, now, done)
	assert.NoError(t, Access(gated, avail, idx, now))

	err := Access(gated, avail, progress.NewIndex(nil), now)
	assert.ErrorIs(t, err, shared.ErrContentLocked)
	assert.True(t, shared.IsLocked(err))

	locked := Evaluate(curriculum.DripConfig{}, mods, enrolled, now, func(shared.ModuleID) bool { return false })
	err = Access(gated, locked, idx, now)
	assert.ErrorIs(t, err, shared.ErrContentLocked)
	assert.Contains(t, err.Error(), "previous module")
}

func TestAccessScheduledActivity(t *testing.T) {
	at := enrolled.Add(time.Hour)
	a := &activity.Activity{ID: "act", ModuleID: "a", UnlockMode: curriculum.UnlockScheduled, AvailableAt: &at}
	avail := []Availability{{ModuleID: "a", Unlocked: true}}

	assert.ErrorIs(t, Access(a, avail, nil, enrolled), shared.ErrContentLocked)
	assert.NoError(t, Access(a, avail, nil, at))
	assert.ErrorIs(t, Access(a, nil, nil, at), shared.ErrContentLocked)
}
