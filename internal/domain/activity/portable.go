package activity

import (
	"encoding/json"
	"time"

	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
)

// Portable is the lesson-independent form of an activity used by export and
// import. Ids, lesson placement and audit fields are left out so a bundle can
// be loaded into any lesson.
type Portable struct {
	SlotIndex        int                   `json:"slotIndex"`
	SlotType         slot.Type             `json:"slotType"`
	ActivityType     slot.ActivityType     `json:"activityType"`
	Title            string                `json:"title"`
	TitleFr          string                `json:"titleFr,omitempty"`
	Description      string                `json:"description,omitempty"`
	DescriptionFr    string                `json:"descriptionFr,omitempty"`
	Content          string                `json:"content,omitempty"`
	ContentFr        string                `json:"contentFr,omitempty"`
	ContentJSON      json.RawMessage       `json:"contentJson,omitempty"`
	ContentJSONFr    json.RawMessage       `json:"contentJsonFr,omitempty"`
	Media            Media                 `json:"media"`
	Points           int                   `json:"points"`
	EstimatedMinutes int                   `json:"estimatedMinutes"`
	PassingScore     *int                  `json:"passingScore,omitempty"`
	Status           Status                `json:"status"`
	IsPreview        bool                  `json:"isPreview,omitempty"`
	UnlockMode       curriculum.UnlockMode `json:"unlockMode,omitempty"`
	AvailableAt      *time.Time            `json:"availableAt,omitempty"`
	SortOrder        int                   `json:"sortOrder"`
}

// ToPortable strips placement and identity from a.
func ToPortable(a *Activity) Portable {
	p := Portable{
		SlotIndex:        a.SlotIndex,
		SlotType:         a.SlotType,
		ActivityType:     a.ActivityType,
		Title:            a.Title,
		TitleFr:          a.TitleFr,
		Description:      a.Description,
		DescriptionFr:    a.DescriptionFr,
		Content:          a.Content,
		ContentFr:        a.ContentFr,
		ContentJSON:      cloneRaw(a.ContentJSON),
		ContentJSONFr:    cloneRaw(a.ContentJSONFr),
		Media:            a.Media,
		Points:           a.Points,
		EstimatedMinutes: a.EstimatedMinutes,
		Status:           a.Status,
		IsPreview:        a.IsPreview,
		UnlockMode:       a.UnlockMode,
		SortOrder:        a.SortOrder,
	}
	if a.PassingScore != nil {
		v := *a.PassingScore
		p.PassingScore = &v
	}
	if a.AvailableAt != nil {
		t := a.AvailableAt.UTC()
		p.AvailableAt = &t
	}
	return p
}

// Materialize builds a new activity in lesson from p. The result is validated
// against the template; the status is taken from p (draft when empty) and the
// publish gate is left to the caller.
func (p Portable) Materialize(tpl slot.Template, lesson *curriculum.Lesson, createdBy shared.UserID, now time.Time) (*Activity, error) {
	a, err := New(tpl, Placement{Lesson: lesson, SlotIndex: p.SlotIndex, SlotType: p.SlotType, SortOrder: p.SortOrder},
		p.ActivityType, p.Title, createdBy, now)
	if err != nil {
		return nil, err
	}
	a.TitleFr = p.TitleFr
	a.Description = p.Description
	a.DescriptionFr = p.DescriptionFr
	a.Content = p.Content
	a.ContentFr = p.ContentFr
	a.ContentJSON = cloneRaw(p.ContentJSON)
	a.ContentJSONFr = cloneRaw(p.ContentJSONFr)
	a.Media = p.Media
	a.Points = p.Points
	if p.EstimatedMinutes > 0 {
		a.EstimatedMinutes = p.EstimatedMinutes
	}
	if p.PassingScore != nil {
		v := *p.PassingScore
		a.PassingScore = &v
	}
	a.IsPreview = p.IsPreview
	if p.UnlockMode != "" {
		a.UnlockMode = p.UnlockMode
	}
	if p.AvailableAt != nil {
		t := p.AvailableAt.UTC()
		a.AvailableAt = &t
	}
	if p.Status != "" {
		a.Status = p.Status
	}
	if err := a.Validate(tpl); err != nil {
		return nil, err
	}
	return a, nil
}
