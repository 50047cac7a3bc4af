package transfer

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/lingua-coach/curriculum-engine/internal/application/query"
	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
)

const (
	sheetActivities = "Activities"
	sheetLesson     = "Lesson"
)

// column binds a spreadsheet header to a Portable field.
type column struct {
	header string
	get    func(p *activity.Portable) any
	set    func(p *activity.Portable, v string) error
}

var columns = []column{
	{"slotIndex",
		func(p *activity.Portable) any { return p.SlotIndex },
		func(p *activity.Portable, v string) (err error) { p.SlotIndex, err = parseInt(v); return }},
	{"slotType",
		func(p *activity.Portable) any { return p.SlotType.String() },
		func(p *activity.Portable, v string) (err error) { p.SlotType, err = slot.ParseType(v); return }},
	{"activityType",
		func(p *activity.Portable) any { return p.ActivityType.String() },
		func(p *activity.Portable, v string) (err error) { p.ActivityType, err = slot.ParseActivityType(v); return }},
	{"status",
		func(p *activity.Portable) any { return p.Status.String() },
		func(p *activity.Portable, v string) (err error) {
			p.Status, err = activity.ParseStatus(v, activity.StatusDraft)
			return
		}},
	{"title", func(p *activity.Portable) any { return p.Title }, setString(func(p *activity.Portable) *string { return &p.Title })},
	{"titleFr", func(p *activity.Portable) any { return p.TitleFr }, setString(func(p *activity.Portable) *string { return &p.TitleFr })},
	{"description", func(p *activity.Portable) any { return p.Description }, setString(func(p *activity.Portable) *string { return &p.Description })},
	{"descriptionFr", func(p *activity.Portable) any { return p.DescriptionFr }, setString(func(p *activity.Portable) *string { return &p.DescriptionFr })},
	{"content", func(p *activity.Portable) any { return p.Content }, setString(func(p *activity.Portable) *string { return &p.Content })},
	{"contentFr", func(p *activity.Portable) any { return p.ContentFr }, setString(func(p *activity.Portable) *string { return &p.ContentFr })},
	{"contentJson",
		func(p *activity.Portable) any { return string(p.ContentJSON) },
		func(p *activity.Portable, v string) (err error) { p.ContentJSON, err = parseRaw(v); return }},
	{"contentJsonFr",
		func(p *activity.Portable) any { return string(p.ContentJSONFr) },
		func(p *activity.Portable, v string) (err error) { p.ContentJSONFr, err = parseRaw(v); return }},
	{"videoUrl", func(p *activity.Portable) any { return p.Media.VideoURL }, setString(func(p *activity.Portable) *string { return &p.Media.VideoURL })},
	{"videoProvider",
		func(p *activity.Portable) any { return string(p.Media.VideoProvider) },
		func(p *activity.Portable, v string) (err error) { p.Media.VideoProvider, err = activity.ParseVideoProvider(v); return }},
	{"audioUrl", func(p *activity.Portable) any { return p.Media.AudioURL }, setString(func(p *activity.Portable) *string { return &p.Media.AudioURL })},
	{"downloadUrl", func(p *activity.Portable) any { return p.Media.DownloadURL }, setString(func(p *activity.Portable) *string { return &p.Media.DownloadURL })},
	{"downloadFileName", func(p *activity.Portable) any { return p.Media.DownloadFileName }, setString(func(p *activity.Portable) *string { return &p.Media.DownloadFileName })},
	{"embedCode", func(p *activity.Portable) any { return p.Media.EmbedCode }, setString(func(p *activity.Portable) *string { return &p.Media.EmbedCode })},
	{"thumbnailUrl", func(p *activity.Portable) any { return p.Media.ThumbnailURL }, setString(func(p *activity.Portable) *string { return &p.Media.ThumbnailURL })},
	{"points",
		func(p *activity.Portable) any { return p.Points },
		func(p *activity.Portable, v string) (err error) { p.Points, err = parseInt(v); return }},
	{"estimatedMinutes",
		func(p *activity.Portable) any { return p.EstimatedMinutes },
		func(p *activity.Portable, v string) (err error) { p.EstimatedMinutes, err = parseInt(v); return }},
	{"passingScore",
		func(p *activity.Portable) any {
			if p.PassingScore == nil {
				return ""
			}
			return *p.PassingScore
		},
		func(p *activity.Portable, v string) error {
			if strings.TrimSpace(v) == "" {
				p.PassingScore = nil
				return nil
			}
			n, err := parseInt(v)
			if err != nil {
				return err
			}
			p.PassingScore = &n
			return nil
		}},
	{"isPreview",
		func(p *activity.Portable) any { return p.IsPreview },
		func(p *activity.Portable, v string) (err error) { p.IsPreview, err = parseBool(v); return }},
	{"unlockMode",
		func(p *activity.Portable) any { return p.UnlockMode.String() },
		func(p *activity.Portable, v string) (err error) { p.UnlockMode, err = curriculum.ParseUnlockMode(v, ""); return }},
	{"availableAt",
		func(p *activity.Portable) any {
			if p.AvailableAt == nil {
				return ""
			}
			return p.AvailableAt.UTC().Format(time.RFC3339)
		},
		func(p *activity.Portable, v string) error {
			v = strings.TrimSpace(v)
			if v == "" {
				p.AvailableAt = nil
				return nil
			}
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return fmt.Errorf("expected RFC 3339 timestamp: %w", err)
			}
			p.AvailableAt = &t
			return nil
		}},
	{"sortOrder",
		func(p *activity.Portable) any { return p.SortOrder },
		func(p *activity.Portable, v string) (err error) { p.SortOrder, err = parseInt(v); return }},
}

func setString(field func(p *activity.Portable) *string) func(*activity.Portable, string) error {
	return func(p *activity.Portable, v string) error {
		*field(p) = v
		return nil
	}
}

func encodeXLSX(w io.Writer, b *query.LessonBundle) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetActivities); err != nil {
		return fmt.Errorf("transfer: xlsx: %w", err)
	}
	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c.header
	}
	if err := f.SetSheetRow(sheetActivities, "A1", &header); err != nil {
		return fmt.Errorf("transfer: xlsx header: %w", err)
	}
	for i := range b.Activities {
		row := make([]any, len(columns))
		for j, c := range columns {
			row[j] = c.get(&b.Activities[i])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("transfer: xlsx: %w", err)
		}
		if err := f.SetSheetRow(sheetActivities, cell, &row); err != nil {
			return fmt.Errorf("transfer: xlsx row %d: %w", i+2, err)
		}
	}
	if err := f.SetPanes(sheetActivities, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("transfer: xlsx: %w", err)
	}

	if _, err := f.NewSheet(sheetLesson); err != nil {
		return fmt.Errorf("transfer: xlsx: %w", err)
	}
	meta := [][]any{
		{"lessonId", b.LessonID},
		{"title", b.Title},
		{"titleFr", b.TitleFr},
		{"templateVersion", b.TemplateVersion},
	}
	for i, kv := range meta {
		if err := f.SetSheetRow(sheetLesson, fmt.Sprintf("A%d", i+1), &kv); err != nil {
			return fmt.Errorf("transfer: xlsx lesson sheet: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("transfer: write xlsx: %w", err)
	}
	return nil
}

// decodeXLSX reads the Activities sheet, matching columns by header name so
// authors may reorder or drop columns. Blank rows are skipped.
func decodeXLSX(r io.Reader) (*query.LessonBundle, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, shared.WrapError("transfer", "DecodeXLSX", shared.ErrInvalidFormat, "upload is not a readable xlsx workbook", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetActivities)
	if err != nil {
		return nil, shared.WrapError("transfer", "DecodeXLSX", shared.ErrInvalidFormat,
			fmt.Sprintf("workbook has no %q sheet", sheetActivities), err)
	}
	b := &query.LessonBundle{Activities: []activity.Portable{}}
	if len(rows) == 0 {
		return b, nil
	}

	byHeader := make(map[string]column, len(columns))
	for _, c := range columns {
		byHeader[strings.ToLower(c.header)] = c
	}
	bound := make([]*column, len(rows[0]))
	for i, h := range rows[0] {
		if c, ok := byHeader[strings.ToLower(strings.TrimSpace(h))]; ok {
			bound[i] = &c
		}
	}

	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		p := activity.Portable{Status: activity.StatusDraft}
		for j, v := range row {
			if j >= len(bound) || bound[j] == nil {
				continue
			}
			if err := bound[j].set(&p, v); err != nil {
				return nil, &RowError{Row: i + 2, Column: bound[j].header, Err: err}
			}
		}
		b.Activities = append(b.Activities, p)
	}

	if meta, err := f.GetRows(sheetLesson); err == nil {
		for _, kv := range meta {
			if len(kv) < 2 {
				continue
			}
			switch kv[0] {
			case "lessonId":
				b.LessonID = kv[1]
			case "title":
				b.Title = kv[1]
			case "titleFr":
				b.TitleFr = kv[1]
			case "templateVersion":
				b.TemplateVersion = kv[1]
			}
		}
	}
	return b, nil
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseInt(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("expected an integer, got %q", v)
	}
	return n, nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no":
		return false, nil
	case "1", "true", "yes":
		return true, nil
	default:
		return false, fmt.Errorf("expected true or false, got %q", v)
	}
}

func parseRaw(v string) (json.RawMessage, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if !json.Valid([]byte(v)) {
		return nil, fmt.Errorf("cell is not valid json")
	}
	return json.RawMessage(v), nil
}
