package slot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
)

func TestCanonicalTemplate(t *testing.T) {
	tpl := Canonical()

	assert.Equal(t, CanonicalVersion, tpl.Version())
	assert.Equal(t, MandatoryCount, tpl.Len())
	assert.Equal(t, CanonicalTotalMinutes, tpl.TotalMinutes())

	entries := tpl.Entries()
	require.Len(t, entries, MandatoryCount)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Index)
		assert.Equal(t, Types[i], e.Type)
		assert.True(t, e.BilingualRequired)
	}

	quiz, ok := tpl.Entry(6)
	require.True(t, ok)
	assert.Equal(t, TypeQuiz, quiz.Type)
	assert.Equal(t, ActivityQuiz, quiz.DefaultActivityType)
}

func TestTemplateEntriesIsACopy(t *testing.T) {
	tpl := Canonical()
	entries := tpl.Entries()
	entries[0].Type = TypeExtra

	e, _ := tpl.Entry(1)
	assert.Equal(t, TypeIntroduction, e.Type)
}

func TestExpectedType(t *testing.T) {
	tpl := Canonical()

	assert.Equal(t, TypeIntroduction, tpl.ExpectedType(1))
	assert.Equal(t, TypeCoachingTip, tpl.ExpectedType(7))
	assert.Equal(t, TypeExtra, tpl.ExpectedType(FirstExtraIndex))
	assert.Equal(t, TypeExtra, tpl.ExpectedType(42))

	assert.True(t, tpl.IsMandatory(1))
	assert.False(t, tpl.IsMandatory(0))
	assert.False(t, tpl.IsMandatory(8))

	idx, ok := tpl.IndexOf(TypeOralPractice)
	assert.True(t, ok)
	assert.Equal(t, 5, idx)
	_, ok = tpl.IndexOf(TypeExtra)
	assert.False(t, ok)
}

func TestCheckAssignment(t *testing.T) {
	tpl := Canonical()

	tests := []struct {
		name    string
		index   int
		st      Type
		wantErr error
	}{
		{"mandatory match", 3, TypeGrammarPoint, nil},
		{"extra above template", 9, TypeExtra, nil},
		{"wrong mandatory type", 3, TypeQuiz, shared.ErrSlotMismatch},
		{"extra in mandatory slot", 2, TypeExtra, shared.ErrSlotMismatch},
		{"mandatory type above template", 8, TypeIntroduction, shared.ErrSlotMismatch},
		{"zero index", 0, TypeIntroduction, shared.ErrInvalidSlotIndex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tpl.CheckAssignment(tt.index, tt.st)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.True(t, shared.IsValidation(tpl.CheckAssignment(1, TypeQuiz)))
}

func TestNewTemplateRejectsBadEntries(t *testing.T) {
	good := Canonical().Entries()

	_, err := NewTemplate("x", good[:6])
	assert.Error(t, err)

	shuffled := append([]Entry(nil), good...)
	shuffled[0], shuffled[1] = shuffled[1], shuffled[0]
	_, err = NewTemplate("x", shuffled)
	assert.Error(t, err)

	dup := append([]Entry(nil), good...)
	dup[1].Type = TypeIntroduction
	_, err = NewTemplate("x", dup)
	assert.Error(t, err)

	extra := append([]Entry(nil), good...)
	extra[6].Type = TypeExtra
	_, err = NewTemplate("x", extra)
	assert.Error(t, err)

	tpl, err := NewTemplate("custom", good)
	require.NoError(t, err)
	assert.Equal(t, "custom", tpl.Version())
}

func TestParseTypes(t *testing.T) {
	st, err := ParseType(" grammar_point ")
	require.NoError(t, err)
	assert.Equal(t, TypeGrammarPoint, st)

	st, err = ParseType("")
	require.NoError(t, err)
	assert.Empty(t, st)

	_, err = ParseType("warmup")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	at, err := ParseActivityType("speaking_exercise")
	require.NoError(t, err)
	assert.Equal(t, ActivitySpeakingExercise, at)
	assert.Len(t, ActivityTypes, 12)

	_, err = ParseActivityType("podcast")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}
