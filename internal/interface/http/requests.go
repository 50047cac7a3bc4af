package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lingua-coach/curriculum-engine/internal/application/command"
	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST DTOS
// Struct tags check shape and ranges. Enum strings are parsed into domain
// types by the toCommand methods so unknown values fail with the same errors
// the domain uses.
// ══════════════════════════════════════════════════════════════════════════════

// mediaRequest mirrors activity.Media.
type mediaRequest struct {
	VideoURL         string `json:"videoUrl" validate:"omitempty,url,max=2048"`
	VideoProvider    string `json:"videoProvider" validate:"omitempty,oneof=youtube vimeo bunny self_hosted"`
	AudioURL         string `json:"audioUrl" validate:"omitempty,url,max=2048"`
	DownloadURL      string `json:"downloadUrl" validate:"omitempty,url,max=2048"`
	DownloadFileName string `json:"downloadFileName" validate:"max=255"`
	EmbedCode        string `json:"embedCode" validate:"max=10000"`
	ThumbnailURL     string `json:"thumbnailUrl" validate:"omitempty,url,max=2048"`
}

// activityFieldsRequest is shared by create and update.
type activityFieldsRequest struct {
	ActivityType  *string         `json:"activityType"`
	Title         *string         `json:"title" validate:"omitempty,max=500"`
	TitleFr       *string         `json:"titleFr" validate:"omitempty,max=500"`
	Description   *string         `json:"description" validate:"omitempty,max=5000"`
	DescriptionFr *string         `json:"descriptionFr" validate:"omitempty,max=5000"`
	Content       *string         `json:"content"`
	ContentFr     *string         `json:"contentFr"`
	ContentJSON   json.RawMessage `json:"contentJson"`
	ContentJSONFr json.RawMessage `json:"contentJsonFr"`
	Media         *mediaRequest   `json:"media"`

	Points           *int `json:"points" validate:"omitempty,gte=0,lte=10000"`
	EstimatedMinutes *int `json:"estimatedMinutes" validate:"omitempty,gte=0,lte=600"`
	PassingScore     *int `json:"passingScore" validate:"omitempty,gte=0,lte=100"`

	IsPreview              *bool      `json:"isPreview"`
	UnlockMode             *string    `json:"unlockMode"`
	AvailableAt            *time.Time `json:"availableAt"`
	PrerequisiteActivityID *string    `json:"prerequisiteActivityId"`
	SortOrder              *int       `json:"sortOrder"`
}

func (f activityFieldsRequest) toPatch() (command.ActivityPatch, error) {
	p := command.ActivityPatch{
		Title:            f.Title,
		TitleFr:          f.TitleFr,
		Description:      f.Description,
		DescriptionFr:    f.DescriptionFr,
		Content:          f.Content,
		ContentFr:        f.ContentFr,
		ContentJSON:      f.ContentJSON,
		ContentJSONFr:    f.ContentJSONFr,
		Points:           f.Points,
		EstimatedMinutes: f.EstimatedMinutes,
		PassingScore:     f.PassingScore,
		IsPreview:        f.IsPreview,
		AvailableAt:      f.AvailableAt,
		SortOrder:        f.SortOrder,
	}
	if f.ActivityType != nil {
		at, err := slot.ParseActivityType(*f.ActivityType)
		if err != nil {
			return p, err
		}
		p.ActivityType = &at
	}
	if f.UnlockMode != nil {
		m, err := curriculum.ParseUnlockMode(*f.UnlockMode, curriculum.UnlockImmediate)
		if err != nil {
			return p, err
		}
		p.UnlockMode = &m
	}
	if f.PrerequisiteActivityID != nil {
		id := shared.ActivityID(*f.PrerequisiteActivityID)
		p.PrerequisiteActivityID = &id
	}
	if f.Media != nil {
		vp, err := activity.ParseVideoProvider(f.Media.VideoProvider)
		if err != nil {
			return p, err
		}
		p.Media = &activity.Media{
			VideoURL:         f.Media.VideoURL,
			VideoProvider:    vp,
			AudioURL:         f.Media.AudioURL,
			DownloadURL:      f.Media.DownloadURL,
			DownloadFileName: f.Media.DownloadFileName,
			EmbedCode:        f.Media.EmbedCode,
			ThumbnailURL:     f.Media.ThumbnailURL,
		}
	}
	return p, nil
}

type createActivityRequest struct {
	LessonID  string `json:"lessonId" validate:"required,max=64"`
	SlotIndex int    `json:"slotIndex" validate:"gte=0,lte=1000"`
	SlotType  string `json:"slotType"`
	Status    string `json:"status" validate:"omitempty,oneof=draft published archived"`
	activityFieldsRequest
}

func (r createActivityRequest) toCommand(author shared.UserID) (command.CreateActivityCommand, error) {
	cmd := command.CreateActivityCommand{
		LessonID:  shared.LessonID(r.LessonID),
		SlotIndex: r.SlotIndex,
		CreatedBy: author,
	}
	var err error
	if cmd.SlotType, err = slot.ParseType(r.SlotType); err != nil {
		return cmd, err
	}
	if cmd.Status, err = activity.ParseStatus(r.Status, activity.StatusDraft); err != nil {
		return cmd, err
	}
	cmd.Fields, err = r.toPatch()
	return cmd, err
}

type updateActivityRequest struct {
	SlotIndex         *int    `json:"slotIndex" validate:"omitempty,gte=1,lte=1000"`
	SlotType          *string `json:"slotType"`
	Status            *string `json:"status" validate:"omitempty,oneof=draft published archived"`
	ClearPassingScore bool    `json:"clearPassingScore"`
	ClearAvailableAt  bool    `json:"clearAvailableAt"`
	activityFieldsRequest
}

func (r updateActivityRequest) toCommand(id shared.ActivityID) (command.UpdateActivityCommand, error) {
	cmd := command.UpdateActivityCommand{ID: id, SlotIndex: r.SlotIndex}
	if r.SlotType != nil {
		t, err := slot.ParseType(*r.SlotType)
		if err != nil {
			return cmd, err
		}
		cmd.SlotType = &t
	}
	if r.Status != nil {
		st, err := activity.ParseStatus(*r.Status, "")
		if err != nil {
			return cmd, err
		}
		cmd.Status = &st
	}
	var err error
	cmd.Fields, err = r.toPatch()
	cmd.Fields.ClearPassingScore = r.ClearPassingScore
	cmd.Fields.ClearAvailableAt = r.ClearAvailableAt
	return cmd, err
}

type reorderRequest struct {
	ActivityIDs []string `json:"activityIds" validate:"required,min=1,max=200,dive,required"`
}

type duplicateRequest struct {
	TargetLessonID string `json:"targetLessonId" validate:"max=64"`
}

type bulkStatusRequest struct {
	ActivityIDs []string `json:"activityIds" validate:"required,min=1,max=500,dive,required"`
	Status      string   `json:"status" validate:"required,oneof=draft published archived"`
}

type completeRequest struct {
	ResponseData     json.RawMessage `json:"responseData"`
	TimeSpentSeconds int             `json:"timeSpentSeconds" validate:"gte=0,lte=86400"`
	Score            *float64        `json:"score" validate:"omitempty,gte=0,lte=100"`
}

type courseDripRequest struct {
	DripEnabled  bool   `json:"dripEnabled"`
	DripInterval int    `json:"dripInterval" validate:"gte=0,lte=365"`
	DripUnit     string `json:"dripUnit" validate:"omitempty,oneof=days weeks months"`
}

func (r courseDripRequest) toCommand(id shared.CourseID) (command.SaveCourseDripCommand, error) {
	unit, err := curriculum.ParseDripUnit(r.DripUnit)
	if err != nil {
		return command.SaveCourseDripCommand{}, err
	}
	return command.SaveCourseDripCommand{
		CourseID: id,
		Config:   curriculum.DripConfig{Enabled: r.DripEnabled, Interval: r.DripInterval, Unit: unit},
	}, nil
}

type moduleUnlockRequest struct {
	UnlockMode  string     `json:"unlockMode" validate:"required,oneof=immediate scheduled prerequisite"`
	AvailableAt *time.Time `json:"availableAt"`
}

func (r moduleUnlockRequest) toCommand(id shared.ModuleID) (command.SaveModuleUnlockCommand, error) {
	mode, err := curriculum.ParseUnlockMode(r.UnlockMode, "")
	if err != nil {
		return command.SaveModuleUnlockCommand{}, err
	}
	return command.SaveModuleUnlockCommand{ModuleID: id, UnlockMode: mode, AvailableAt: r.AvailableAt}, nil
}

func toActivityIDs(in []string) []shared.ActivityID {
	out := make([]shared.ActivityID, len(in))
	for i, s := range in {
		out[i] = shared.ActivityID(s)
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// DECODING AND VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// requestValidator wraps validator/v10 and reports field names by JSON tag.
type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{v: v}
}

// FieldError is one rejected request field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// RequestError carries every rejected field of one request.
type RequestError struct {
	Fields []FieldError
}

func (e *RequestError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s failed %s", f.Field, f.Rule)
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

// Is makes request errors count as validation errors.
func (e *RequestError) Is(target error) bool {
	return target == shared.ErrValidation
}

func (rv *requestValidator) check(req any) error {
	err := rv.v.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate request: %w", err)
	}
	out := &RequestError{Fields: make([]FieldError, len(verrs))}
	for i, fe := range verrs {
		out.Fields[i] = FieldError{Field: jsonPath(fe.Namespace()), Rule: fe.Tag(), Param: fe.Param()}
	}
	return out
}

// jsonPath turns a validator namespace such as
// "createActivityRequest.activityFieldsRequest.media.videoUrl" into the JSON
// path "media.videoUrl".
func jsonPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.TrimPrefix(ns, "activityFieldsRequest.")
}

// decodeJSON decodes a JSON body into dst and validates it. An empty body
// decodes as the zero request.
func (s *Server) decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return shared.WrapError("http", "Decode", shared.ErrValueOutOfRange, "request body too large", err)
		}
		return shared.WrapError("http", "Decode", shared.ErrInvalidFormat, "request body is not valid JSON", err)
	}
	return s.validator.check(dst)
}
