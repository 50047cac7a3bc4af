package transfer

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/lingua-coach/curriculum-engine/internal/application/query"
	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
)

func sampleBundle() *query.LessonBundle {
	score := 70
	at := time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)
	return &query.LessonBundle{
		LessonID:        "lesson-1",
		Title:           "Greetings",
		TitleFr:         "Salutations",
		TemplateVersion: "2024.1",
		Activities: []activity.Portable{
			{
				SlotIndex:    1,
				SlotType:     slot.TypeIntroduction,
				ActivityType: slot.ActivityText,
				Title:        "Welcome",
				TitleFr:      "Bienvenue",
				Content:      "Hello, world",
				Media:        activity.Media{VideoURL: "https://youtu.be/x", VideoProvider: activity.VideoYouTube},
				Points:       5,
				Status:       activity.StatusPublished,
				IsPreview:    true,
				SortOrder:    1,
			},
			{
				SlotIndex:        6,
				SlotType:         slot.TypeQuiz,
				ActivityType:     slot.ActivityQuiz,
				Title:            "Check",
				ContentJSON:      json.RawMessage(`{"questions":[]}`),
				EstimatedMinutes: 8,
				PassingScore:     &score,
				Status:           activity.StatusDraft,
				UnlockMode:       curriculum.UnlockScheduled,
				AvailableAt:      &at,
				SortOrder:        6,
			},
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)
	assert.Equal(t, "lesson-l1.xlsx", f.FileName("l1"))

	_, err = ParseFormat("csv")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatJSON, sampleBundle()))

	got, err := Decode(&buf, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "lesson-1", got.LessonID)
	require.Len(t, got.Activities, 2)
	assert.Equal(t, "Bienvenue", got.Activities[0].TitleFr)
	assert.JSONEq(t, `{"questions":[]}`, string(got.Activities[1].ContentJSON))
}

func TestJSONAcceptsBareArray(t *testing.T) {
	got, err := Decode(strings.NewReader(`  [{"slotIndex":2,"title":"Clip"}]`), FormatJSON)
	require.NoError(t, err)
	require.Len(t, got.Activities, 1)
	assert.Equal(t, 2, got.Activities[0].SlotIndex)

	_, err = Decode(strings.NewReader(""), FormatJSON)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = Decode(strings.NewReader("{oops"), FormatJSON)
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)
}

func TestXLSXRoundTrip(t *testing.T) {
	want := sampleBundle()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatXLSX, want))

	got, err := Decode(&buf, FormatXLSX)
	require.NoError(t, err)
	assert.Equal(t, want.LessonID, got.LessonID)
	assert.Equal(t, want.TitleFr, got.TitleFr)
	assert.Equal(t, want.TemplateVersion, got.TemplateVersion)
	require.Len(t, got.Activities, 2)

	intro := got.Activities[0]
	assert.Equal(t, slot.TypeIntroduction, intro.SlotType)
	assert.Equal(t, "Hello, world", intro.Content)
	assert.Equal(t, activity.VideoYouTube, intro.Media.VideoProvider)
	assert.Equal(t, 5, intro.Points)
	assert.True(t, intro.IsPreview)
	assert.Nil(t, intro.PassingScore)
	assert.Nil(t, intro.AvailableAt)

	q := got.Activities[1]
	assert.Equal(t, slot.ActivityQuiz, q.ActivityType)
	require.NotNil(t, q.PassingScore)
	assert.Equal(t, 70, *q.PassingScore)
	require.NotNil(t, q.AvailableAt)
	assert.True(t, want.Activities[1].AvailableAt.Equal(*q.AvailableAt))
	assert.Equal(t, curriculum.UnlockScheduled, q.UnlockMode)
	assert.JSONEq(t, `{"questions":[]}`, string(q.ContentJSON))
}

func TestXLSXReportsBadCell(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetName("Sheet1", sheetActivities))
	require.NoError(t, f.SetSheetRow(sheetActivities, "A1", &[]any{"Title", "slotIndex"}))
	require.NoError(t, f.SetSheetRow(sheetActivities, "A2", &[]any{"Welcome", "1"}))
	require.NoError(t, f.SetSheetRow(sheetActivities, "A4", &[]any{"Broken", "first"}))

	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)

	_, err = Decode(&buf, FormatXLSX)
	var rowErr *RowError
	require.True(t, errors.As(err, &rowErr))
	assert.Equal(t, 4, rowErr.Row)
	assert.Equal(t, "slotIndex", rowErr.Column)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	assert.Contains(t, err.Error(), "row 4, column slotIndex")
}

func TestXLSXRejectsGarbage(t *testing.T) {
	_, err := Decode(strings.NewReader("not a workbook"), FormatXLSX)
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)
}
