package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurriculumKindsChainToBaseKinds(t *testing.T) {
	assert.True(t, IsValidation(ErrSlotMismatch))
	assert.True(t, IsValidation(ErrQuizMalformed))
	assert.True(t, IsValidation(ErrConflictingUnlock))
	assert.True(t, IsConflict(ErrSlotOccupied))
	assert.True(t, IsAlreadyExists(ErrSlotOccupied))
	assert.True(t, IsConflict(ErrHasProgress))
	assert.True(t, IsLocked(ErrContentLocked))

	assert.False(t, IsValidation(ErrSlotOccupied))
	assert.False(t, IsConflict(ErrSlotMismatch))
}

func TestDomainErrorMatching(t *testing.T) {
	err := Errorf("activity", "Create", ErrSlotMismatch, "slot %d must be %q", 3, "grammar_point")

	assert.ErrorIs(t, err, ErrSlotMismatch)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, `activity.Create: slot 3 must be "grammar_point"`, err.Error())

	wrapped := fmt.Errorf("handler: %w", err)
	var de *DomainError
	assert.True(t, errors.As(wrapped, &de))
	assert.Equal(t, "Create", de.Op)
}

func TestWrapErrorKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapError("progress", "Save", ErrServiceUnavailable, "cannot save", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "disk full")
}

func TestNotFoundSentinels(t *testing.T) {
	for _, err := range []error{ErrCourseNotFound, ErrLessonNotFound, ErrActivityNotFound, ErrProgressNotFound} {
		assert.True(t, IsNotFound(err), err.Error())
	}
	assert.True(t, IsLocked(ErrActivityUnavailable))
}

func TestBilingualAndPercent(t *testing.T) {
	b := Bilingual{Primary: "Hello", French: "Bonjour"}
	assert.Equal(t, "Bonjour", b.In(LangFrench))
	assert.Equal(t, "Hello", b.In(LangEnglish))
	assert.True(t, b.Complete())
	assert.False(t, Bilingual{Primary: "Hello", French: "  "}.Complete())

	lang, err := ParseLang(" FR ")
	assert.NoError(t, err)
	assert.Equal(t, LangFrench, lang)
	_, err = ParseLang("de")
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Equal(t, 0, Percent(3, 0))
	assert.Equal(t, 67, Percent(2, 3))
	assert.Equal(t, 100, Percent(7, 7))
}
