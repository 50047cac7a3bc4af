// Package activity contains the learning activity entity: one piece of content
// occupying a slot of a lesson, with bilingual fields, media references and a
// publication status.
package activity

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
)

// Status is the publication state of an activity.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// ParseStatus parses a status; empty input yields def.
func ParseStatus(s string, def Status) (Status, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	st := Status(s)
	if !st.IsValid() {
		return "", shared.Errorf("activity", "ParseStatus", shared.ErrInvalidInput, "unknown status %q", s)
	}
	return st, nil
}

// VideoProvider identifies where a video is hosted.
type VideoProvider string

const (
	VideoYouTube    VideoProvider = "youtube"
	VideoVimeo      VideoProvider = "vimeo"
	VideoBunny      VideoProvider = "bunny"
	VideoSelfHosted VideoProvider = "self_hosted"
)

// IsValid reports whether p is a known provider. The empty provider is valid.
func (p VideoProvider) IsValid() bool {
	switch p {
	case "", VideoYouTube, VideoVimeo, VideoBunny, VideoSelfHosted:
		return true
	}
	return false
}

// ParseVideoProvider parses a provider name.
func ParseVideoProvider(s string) (VideoProvider, error) {
	p := VideoProvider(strings.TrimSpace(s))
	if !p.IsValid() {
		return "", shared.Errorf("activity", "ParseVideoProvider", shared.ErrInvalidInput, "unknown video provider %q", s)
	}
	return p, nil
}

// Media holds references to externally stored assets.
type Media struct {
	VideoURL         string        `json:"videoUrl,omitempty"`
	VideoProvider    VideoProvider `json:"videoProvider,omitempty"`
	AudioURL         string        `json:"audioUrl,omitempty"`
	DownloadURL      string        `json:"downloadUrl,omitempty"`
	DownloadFileName string        `json:"downloadFileName,omitempty"`
	EmbedCode        string        `json:"embedCode,omitempty"`
	ThumbnailURL     string        `json:"thumbnailUrl,omitempty"`
}

// Activity is one learning activity inside a lesson.
type Activity struct {
	ID       shared.ActivityID
	LessonID shared.LessonID
	ModuleID shared.ModuleID
	CourseID shared.CourseID

	SlotIndex    int
	SlotType     slot.Type
	ActivityType slot.ActivityType

	Title         string
	TitleFr       string
	Description   string
	DescriptionFr string
	Content       string
	ContentFr     string
	ContentJSON   json.RawMessage
	ContentJSONFr json.RawMessage

	Media Media

	Points           int
	EstimatedMinutes int
	PassingScore     *int

	Status      Status
	IsMandatory bool
	IsPreview   bool

	UnlockMode             curriculum.UnlockMode
	AvailableAt            *time.Time
	PrerequisiteActivityID shared.ActivityID

	SortOrder int
	CreatedBy shared.UserID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewID returns a fresh activity id.
func NewID() shared.ActivityID {
	return shared.ActivityID(uuid.NewString())
}

// Placement is the lesson position of a new activity.
type Placement struct {
	Lesson    *curriculum.Lesson
	SlotIndex int
	SlotType  slot.Type
	SortOrder int
}

// New creates a draft activity at the given placement, filling defaults from
// the template entry for mandatory slots. It returns a SlotMismatch error when
// the requested slot type does not belong at the index.
func New(tpl slot.Template, p Placement, activityType slot.ActivityType, title string, createdBy shared.UserID, now time.Time) (*Activity, error) {
	if p.Lesson == nil {
		return nil, shared.ErrLessonNotFound
	}
	if p.SlotIndex < 1 {
		return nil, shared.ErrInvalidSlotIndex
	}
	st := p.SlotType
	if st == "" {
		st = tpl.ExpectedType(p.SlotIndex)
	}
	if err := tpl.CheckAssignment(p.SlotIndex, st); err != nil {
		return nil, err
	}

	a := &Activity{
		ID:          NewID(),
		LessonID:    p.Lesson.ID,
		ModuleID:    p.Lesson.ModuleID,
		CourseID:    p.Lesson.CourseID,
		SlotIndex:   p.SlotIndex,
		SlotType:    st,
		Title:       title,
		Status:      StatusDraft,
		IsMandatory: tpl.IsMandatory(p.SlotIndex),
		UnlockMode:  curriculum.UnlockImmediate,
		SortOrder:   p.SortOrder,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if e, ok := tpl.Entry(p.SlotIndex); ok {
		a.ActivityType = e.DefaultActivityType
		a.EstimatedMinutes = e.DefaultMinutes
		if a.SortOrder == 0 {
			a.SortOrder = p.SlotIndex
		}
	} else {
		a.ActivityType = slot.ActivityText
	}
	if activityType != "" {
		a.ActivityType = activityType
	}
	if err := a.Validate(tpl); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks field-level invariants. Slot occupancy is enforced by storage.
func (a *Activity) Validate(tpl slot.Template) error {
	if !a.LessonID.IsValid() {
		return shared.NewDomainError("activity", "Validate", shared.ErrInvalidID, "lesson id is required")
	}
	if err := tpl.CheckAssignment(a.SlotIndex, a.SlotType); err != nil {
		return err
	}
	if !a.ActivityType.IsValid() {
		return shared.ErrInvalidActivityType
	}
	if !a.Status.IsValid() {
		return shared.ErrInvalidStatus
	}
	if strings.TrimSpace(a.Title) == "" {
		return shared.NewDomainError("activity", "Validate", shared.ErrEmptyValue, "title is required")
	}
	if a.PassingScore != nil && (*a.PassingScore < 0 || *a.PassingScore > 100) {
		return shared.NewDomainError("activity", "Validate", shared.ErrValueOutOfRange, "passing score must be between 0 and 100")
	}
	if a.Points < 0 || a.EstimatedMinutes < 0 {
		return shared.NewDomainError("activity", "Validate", shared.ErrValueOutOfRange, "points and minutes cannot be negative")
	}
	if !a.Media.VideoProvider.IsValid() {
		return shared.NewDomainError("activity", "Validate", shared.ErrInvalidInput, "unknown video provider")
	}
	if a.UnlockMode != "" && !a.UnlockMode.IsValid() {
		return shared.NewDomainError("activity", "Validate", shared.ErrInvalidInput, "unknown unlock mode")
	}
	if len(a.ContentJSON) > 0 && !json.Valid(a.ContentJSON) {
		return shared.NewDomainError("activity", "Validate", shared.ErrInvalidFormat, "contentJson is not valid JSON")
	}
	if len(a.ContentJSONFr) > 0 && !json.Valid(a.ContentJSONFr) {
		return shared.NewDomainError("activity", "Validate", shared.ErrInvalidFormat, "contentJsonFr is not valid JSON")
	}
	return nil
}

// IsExtra reports whether the activity sits outside the mandatory slots.
func (a *Activity) IsExtra() bool { return a.SlotType == slot.TypeExtra }

// IsPublished reports whether learners can see the activity.
func (a *Activity) IsPublished() bool { return a.Status == StatusPublished }

// IsQuiz reports whether the activity carries an embedded quiz.
func (a *Activity) IsQuiz() bool { return a.ActivityType == slot.ActivityQuiz }

// HasFrench reports whether a French title was provided.
func (a *Activity) HasFrench() bool { return strings.TrimSpace(a.TitleFr) != "" }

// Field is a bilingual field of an activity.
type Field string

const (
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
	FieldContent     Field = "content"
)

// Text returns the primary/French pair for a bilingual field.
func (a *Activity) Text(f Field) shared.Bilingual {
	switch f {
	case FieldTitle:
		return shared.Bilingual{Primary: a.Title, French: a.TitleFr}
	case FieldDescription:
		return shared.Bilingual{Primary: a.Description, French: a.DescriptionFr}
	case FieldContent:
		return shared.Bilingual{Primary: a.Content, French: a.ContentFr}
	}
	return shared.Bilingual{}
}

// SetStatus changes the publication status.
func (a *Activity) SetStatus(s Status, now time.Time) error {
	if !s.IsValid() {
		return shared.ErrInvalidStatus
	}
	a.Status = s
	a.UpdatedAt = now
	return nil
}

// Clone returns a deep copy with a fresh id and draft status placed at the
// given lesson and slot. Titles get a copy suffix in both languages.
func (a *Activity) Clone(lesson *curriculum.Lesson, slotIndex int, slotType slot.Type, sortOrder int, createdBy shared.UserID, now time.Time) *Activity {
	cp := *a
	cp.ID = NewID()
	cp.LessonID = lesson.ID
	cp.ModuleID = lesson.ModuleID
	cp.CourseID = lesson.CourseID
	cp.SlotIndex = slotIndex
	cp.SlotType = slotType
	cp.SortOrder = sortOrder
	cp.Status = StatusDraft
	cp.Title = a.Title + " (Copy)"
	if a.TitleFr != "" {
		cp.TitleFr = a.TitleFr + " (copie)"
	}
	cp.ContentJSON = cloneRaw(a.ContentJSON)
	cp.ContentJSONFr = cloneRaw(a.ContentJSONFr)
	if a.PassingScore != nil {
		v := *a.PassingScore
		cp.PassingScore = &v
	}
	if a.AvailableAt != nil {
		t := *a.AvailableAt
		cp.AvailableAt = &t
	}
	cp.CreatedBy = createdBy
	cp.CreatedAt = now
	cp.UpdatedAt = now
	return &cp
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	cp := make(json.RawMessage, len(r))
	copy(cp, r)
	return cp
}
