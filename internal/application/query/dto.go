package query

import (
	"encoding/json"
	"time"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/progress"
)

// ActivityDTO is the wire form of an activity.
type ActivityDTO struct {
	ID       string `json:"id"`
	LessonID string `json:"lessonId"`
	ModuleID string `json:"moduleId"`
	CourseID string `json:"courseId"`

	SlotIndex    int    `json:"slotIndex"`
	SlotType     string `json:"slotType"`
	ActivityType string `json:"activityType"`

	Title         string          `json:"title"`
	TitleFr       string          `json:"titleFr,omitempty"`
	Description   string          `json:"description,omitempty"`
	DescriptionFr string          `json:"descriptionFr,omitempty"`
	Content       string          `json:"content,omitempty"`
	ContentFr     string          `json:"contentFr,omitempty"`
	ContentJSON   json.RawMessage `json:"contentJson,omitempty"`
	ContentJSONFr json.RawMessage `json:"contentJsonFr,omitempty"`

	Media activity.Media `json:"media"`

	Points           int  `json:"points"`
	EstimatedMinutes int  `json:"estimatedMinutes"`
	PassingScore     *int `json:"passingScore,omitempty"`

	Status      string `json:"status"`
	IsMandatory bool   `json:"isMandatory"`
	IsPreview   bool   `json:"isPreview"`

	UnlockMode             string     `json:"unlockMode,omitempty"`
	AvailableAt            *time.Time `json:"availableAt,omitempty"`
	PrerequisiteActivityID string     `json:"prerequisiteActivityId,omitempty"`

	SortOrder int       `json:"sortOrder"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ToActivityDTO converts a domain activity.
func ToActivityDTO(a *activity.Activity) ActivityDTO {
	return ActivityDTO{
		ID:                     a.ID.String(),
		LessonID:               a.LessonID.String(),
		ModuleID:               a.ModuleID.String(),
		CourseID:               a.CourseID.String(),
		SlotIndex:              a.SlotIndex,
		SlotType:               a.SlotType.String(),
		ActivityType:           a.ActivityType.String(),
		Title:                  a.Title,
		TitleFr:                a.TitleFr,
		Description:            a.Description,
		DescriptionFr:          a.DescriptionFr,
		Content:                a.Content,
		ContentFr:              a.ContentFr,
		ContentJSON:            a.ContentJSON,
		ContentJSONFr:          a.ContentJSONFr,
		Media:                  a.Media,
		Points:                 a.Points,
		EstimatedMinutes:       a.EstimatedMinutes,
		PassingScore:           a.PassingScore,
		Status:                 a.Status.String(),
		IsMandatory:            a.IsMandatory,
		IsPreview:              a.IsPreview,
		UnlockMode:             a.UnlockMode.String(),
		AvailableAt:            a.AvailableAt,
		PrerequisiteActivityID: a.PrerequisiteActivityID.String(),
		SortOrder:              a.SortOrder,
		CreatedBy:              a.CreatedBy.String(),
		CreatedAt:              a.CreatedAt,
		UpdatedAt:              a.UpdatedAt,
	}
}

// ToActivityDTOs converts a list.
func ToActivityDTOs(list []*activity.Activity) []ActivityDTO {
	out := make([]ActivityDTO, len(list))
	for i, a := range list {
		out[i] = ToActivityDTO(a)
	}
	return out
}

// ProgressDTO is the wire form of a learner's record. A missing record is
// rendered with status not_started and zero counters.
type ProgressDTO struct {
	ActivityID       string          `json:"activityId"`
	Status           string          `json:"status"`
	Score            *float64        `json:"score,omitempty"`
	Attempts         int             `json:"attempts"`
	TimeSpentSeconds int             `json:"timeSpentSeconds"`
	CompletedAt      *time.Time      `json:"completedAt,omitempty"`
	LastAccessedAt   *time.Time      `json:"lastAccessedAt,omitempty"`
	ResponseData     json.RawMessage `json:"responseData,omitempty"`
}

// ToProgressDTO converts p, which may be nil.
func ToProgressDTO(activityID string, p *progress.Progress) ProgressDTO {
	if p == nil {
		return ProgressDTO{ActivityID: activityID, Status: progress.StatusNotStarted.String()}
	}
	last := p.LastAccessedAt
	return ProgressDTO{
		ActivityID:       activityID,
		Status:           p.Status.String(),
		Score:            p.Score,
		Attempts:         p.Attempts,
		TimeSpentSeconds: p.TimeSpentSeconds,
		CompletedAt:      p.CompletedAt,
		LastAccessedAt:   &last,
		ResponseData:     p.ResponseData,
	}
}
