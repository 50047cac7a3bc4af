package command

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
)

// ActivityPatch carries optional activity field values shared by create and
// update. Nil fields are left untouched.
type ActivityPatch struct {
	ActivityType  *slot.ActivityType
	Title         *string
	TitleFr       *string
	Description   *string
	DescriptionFr *string
	Content       *string
	ContentFr     *string

	// ContentJSON and ContentJSONFr replace the stored document when non-nil;
	// a JSON null clears it.
	ContentJSON   json.RawMessage
	ContentJSONFr json.RawMessage

	// Media replaces every media reference at once.
	Media *activity.Media

	Points            *int
	EstimatedMinutes  *int
	PassingScore      *int
	ClearPassingScore bool

	IsPreview              *bool
	UnlockMode             *curriculum.UnlockMode
	AvailableAt            *time.Time
	ClearAvailableAt       bool
	PrerequisiteActivityID *shared.ActivityID
	SortOrder              *int
}

func (p ActivityPatch) apply(a *activity.Activity) {
	setIf(&a.ActivityType, p.ActivityType)
	setIf(&a.Title, p.Title)
	setIf(&a.TitleFr, p.TitleFr)
	setIf(&a.Description, p.Description)
	setIf(&a.DescriptionFr, p.DescriptionFr)
	setIf(&a.Content, p.Content)
	setIf(&a.ContentFr, p.ContentFr)
	if p.ContentJSON != nil {
		a.ContentJSON = rawOrNil(p.ContentJSON)
	}
	if p.ContentJSONFr != nil {
		a.ContentJSONFr = rawOrNil(p.ContentJSONFr)
	}
	setIf(&a.Media, p.Media)
	setIf(&a.Points, p.Points)
	setIf(&a.EstimatedMinutes, p.EstimatedMinutes)
	if p.ClearPassingScore {
		a.PassingScore = nil
	} else if p.PassingScore != nil {
		v := *p.PassingScore
		a.PassingScore = &v
	}
	setIf(&a.IsPreview, p.IsPreview)
	setIf(&a.UnlockMode, p.UnlockMode)
	if p.ClearAvailableAt {
		a.AvailableAt = nil
	} else if p.AvailableAt != nil {
		t := p.AvailableAt.UTC()
		a.AvailableAt = &t
	}
	setIf(&a.PrerequisiteActivityID, p.PrerequisiteActivityID)
	setIf(&a.SortOrder, p.SortOrder)
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func rawOrNil(r json.RawMessage) json.RawMessage {
	if len(r) == 0 || string(r) == "null" {
		return nil
	}
	return append(json.RawMessage(nil), r...)
}

// checkPrerequisite verifies that the prerequisite activity exists in the same
// course and is not the activity itself.
func checkPrerequisite(ctx context.Context, repos uow.Repositories, a *activity.Activity) error {
	if !a.PrerequisiteActivityID.IsValid() {
		return nil
	}
	if a.PrerequisiteActivityID == a.ID {
		return shared.NewDomainError("activity", "Validate", shared.ErrInvalidInput, "an activity cannot be its own prerequisite")
	}
	pre, err := repos.Activities().GetByID(ctx, a.PrerequisiteActivityID)
	if err != nil {
		if shared.IsNotFound(err) {
			return shared.Errorf("activity", "Validate", shared.ErrInvalidInput,
				"prerequisite activity %s does not exist", a.PrerequisiteActivityID)
		}
		return err
	}
	if pre.CourseID != a.CourseID {
		return shared.Errorf("activity", "Validate", shared.ErrInvalidInput,
			"prerequisite activity %s belongs to another course", a.PrerequisiteActivityID)
	}
	return nil
}
