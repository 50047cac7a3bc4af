package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
)

// ActivityRepository implements activity.Repository on SQLite.
type ActivityRepository struct {
	q sqlx.ExtContext
}

type activityRow struct {
	ID                     string             `db:"id"`
	LessonID               string             `db:"lesson_id"`
	ModuleID               string             `db:"module_id"`
	CourseID               string             `db:"course_id"`
	SlotIndex              int                `db:"slot_index"`
	SlotType               string             `db:"slot_type"`
	ActivityType           string             `db:"activity_type"`
	Title                  string             `db:"title"`
	TitleFr                string             `db:"title_fr"`
	Description            string             `db:"description"`
	DescriptionFr          string             `db:"description_fr"`
	Content                string             `db:"content"`
	ContentFr              string             `db:"content_fr"`
	ContentJSON            types.NullJSONText `db:"content_json"`
	ContentJSONFr          types.NullJSONText `db:"content_json_fr"`
	VideoURL               string             `db:"video_url"`
	VideoProvider          string             `db:"video_provider"`
	AudioURL               string             `db:"audio_url"`
	DownloadURL            string             `db:"download_url"`
	DownloadFileName       string             `db:"download_file_name"`
	EmbedCode              string             `db:"embed_code"`
	ThumbnailURL           string             `db:"thumbnail_url"`
	Points                 int                `db:"points"`
	EstimatedMinutes       int                `db:"estimated_minutes"`
	PassingScore           sql.NullInt64      `db:"passing_score"`
	Status                 string             `db:"status"`
	IsMandatory            bool               `db:"is_mandatory"`
	IsPreview              bool               `db:"is_preview"`
	UnlockMode             string             `db:"unlock_mode"`
	AvailableAt            sql.NullTime       `db:"available_at"`
	PrerequisiteActivityID sql.NullString     `db:"prerequisite_activity_id"`
	SortOrder              int                `db:"sort_order"`
	CreatedBy              string             `db:"created_by"`
	CreatedAt              time.Time          `db:"created_at"`
	UpdatedAt              time.Time          `db:"updated_at"`
}

const activitySelect = `SELECT a.id, a.lesson_id, a.module_id, a.course_id, a.slot_index, a.slot_type,
	a.activity_type, a.title, a.title_fr, a.description, a.description_fr, a.content, a.content_fr,
	a.content_json, a.content_json_fr, a.video_url, a.video_provider, a.audio_url, a.download_url,
	a.download_file_name, a.embed_code, a.thumbnail_url, a.points, a.estimated_minutes,
	a.passing_score, a.status, a.is_mandatory, a.is_preview, a.unlock_mode, a.available_at,
	a.prerequisite_activity_id, a.sort_order, a.created_by, a.created_at, a.updated_at
	FROM activities a`

// slotOrder sorts mandatory slots by index and extras, which share one
// position after slot 7, by their sort order.
const slotOrder = `CASE WHEN a.slot_index BETWEEN 1 AND 7 THEN a.slot_index ELSE 8 END, a.sort_order, a.created_at`

func toActivityRow(a *activity.Activity) activityRow {
	r := activityRow{
		ID:               string(a.ID),
		LessonID:         string(a.LessonID),
		ModuleID:         string(a.ModuleID),
		CourseID:         string(a.CourseID),
		SlotIndex:        a.SlotIndex,
		SlotType:         string(a.SlotType),
		ActivityType:     string(a.ActivityType),
		Title:            a.Title,
		TitleFr:          a.TitleFr,
		Description:      a.Description,
		DescriptionFr:    a.DescriptionFr,
		Content:          a.Content,
		ContentFr:        a.ContentFr,
		ContentJSON:      nullJSON(a.ContentJSON),
		ContentJSONFr:    nullJSON(a.ContentJSONFr),
		VideoURL:         a.Media.VideoURL,
		VideoProvider:    string(a.Media.VideoProvider),
		AudioURL:         a.Media.AudioURL,
		DownloadURL:      a.Media.DownloadURL,
		DownloadFileName: a.Media.DownloadFileName,
		EmbedCode:        a.Media.EmbedCode,
		ThumbnailURL:     a.Media.ThumbnailURL,
		Points:           a.Points,
		EstimatedMinutes: a.EstimatedMinutes,
		Status:           string(a.Status),
		IsMandatory:      a.IsMandatory,
		IsPreview:        a.IsPreview,
		UnlockMode:       string(a.UnlockMode),
		SortOrder:        a.SortOrder,
		CreatedBy:        string(a.CreatedBy),
		CreatedAt:        a.CreatedAt.UTC(),
		UpdatedAt:        a.UpdatedAt.UTC(),
	}
	if a.PassingScore != nil {
		r.PassingScore = sql.NullInt64{Int64: int64(*a.PassingScore), Valid: true}
	}
	if a.AvailableAt != nil {
		r.AvailableAt = sql.NullTime{Time: a.AvailableAt.UTC(), Valid: true}
	}
	if a.PrerequisiteActivityID != "" {
		r.PrerequisiteActivityID = sql.NullString{String: string(a.PrerequisiteActivityID), Valid: true}
	}
	return r
}

func (r activityRow) toDomain() *activity.Activity {
	a := &activity.Activity{
		ID:            shared.ActivityID(r.ID),
		LessonID:      shared.LessonID(r.LessonID),
		ModuleID:      shared.ModuleID(r.ModuleID),
		CourseID:      shared.CourseID(r.CourseID),
		SlotIndex:     r.SlotIndex,
		SlotType:      slot.Type(r.SlotType),
		ActivityType:  slot.ActivityType(r.ActivityType),
		Title:         r.Title,
		TitleFr:       r.TitleFr,
		Description:   r.Description,
		DescriptionFr: r.DescriptionFr,
		Content:       r.Content,
		ContentFr:     r.ContentFr,
		Media: activity.Media{
			VideoURL:         r.VideoURL,
			VideoProvider:    activity.VideoProvider(r.VideoProvider),
			AudioURL:         r.AudioURL,
			DownloadURL:      r.DownloadURL,
			DownloadFileName: r.DownloadFileName,
			EmbedCode:        r.EmbedCode,
			ThumbnailURL:     r.ThumbnailURL,
		},
		Points:                 r.Points,
		EstimatedMinutes:       r.EstimatedMinutes,
		Status:                 activity.Status(r.Status),
		IsMandatory:            r.IsMandatory,
		IsPreview:              r.IsPreview,
		UnlockMode:             curriculum.UnlockMode(r.UnlockMode),
		PrerequisiteActivityID: shared.ActivityID(r.PrerequisiteActivityID.String),
		SortOrder:              r.SortOrder,
		CreatedBy:              shared.UserID(r.CreatedBy),
		CreatedAt:              r.CreatedAt.UTC(),
		UpdatedAt:              r.UpdatedAt.UTC(),
	}
	if r.ContentJSON.Valid {
		a.ContentJSON = json.RawMessage(r.ContentJSON.JSONText)
	}
	if r.ContentJSONFr.Valid {
		a.ContentJSONFr = json.RawMessage(r.ContentJSONFr.JSONText)
	}
	if r.PassingScore.Valid {
		v := int(r.PassingScore.Int64)
		a.PassingScore = &v
	}
	if r.AvailableAt.Valid {
		t := r.AvailableAt.Time.UTC()
		a.AvailableAt = &t
	}
	return a
}

// Create inserts a new activity.
func (r *ActivityRepository) Create(ctx context.Context, a *activity.Activity) error {
	_, err := sqlx.NamedExecContext(ctx, r.q, `
		INSERT INTO activities (
			id, lesson_id, module_id, course_id, slot_index, slot_type, activity_type,
			title, title_fr, description, description_fr, content, content_fr,
			content_json, content_json_fr, video_url, video_provider, audio_url, download_url,
			download_file_name, embed_code, thumbnail_url, points, estimated_minutes,
			passing_score, status, is_mandatory, is_preview, unlock_mode, available_at,
			prerequisite_activity_id, sort_order, created_by, created_at, updated_at
		) VALUES (
			:id, :lesson_id, :module_id, :course_id, :slot_index, :slot_type, :activity_type,
			:title, :title_fr, :description, :description_fr, :content, :content_fr,
			:content_json, :content_json_fr, :video_url, :video_provider, :audio_url, :download_url,
			:download_file_name, :embed_code, :thumbnail_url, :points, :estimated_minutes,
			:passing_score, :status, :is_mandatory, :is_preview, :unlock_mode, :available_at,
			:prerequisite_activity_id, :sort_order, :created_by, :created_at, :updated_at
		)`, toActivityRow(a))
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("activity", "Create", shared.ErrSlotOccupied,
				fmt.Sprintf("slot %d of lesson %s is already occupied", a.SlotIndex, a.LessonID), err)
		}
		if IsForeignKeyViolation(err) {
			return shared.ErrLessonNotFound
		}
		return fmt.Errorf("failed to create activity: %w", err)
	}
	return nil
}

// Update replaces every mutable column of an activity.
func (r *ActivityRepository) Update(ctx context.Context, a *activity.Activity) error {
	res, err := sqlx.NamedExecContext(ctx, r.q, `
		UPDATE activities SET
			slot_index = :slot_index, slot_type = :slot_type, activity_type = :activity_type,
			title = :title, title_fr = :title_fr, description = :description, description_fr = :description_fr,
			content = :content, content_fr = :content_fr, content_json = :content_json, content_json_fr = :content_json_fr,
			video_url = :video_url, video_provider = :video_provider, audio_url = :audio_url,
			download_url = :download_url, download_file_name = :download_file_name,
			embed_code = :embed_code, thumbnail_url = :thumbnail_url,
			points = :points, estimated_minutes = :estimated_minutes, passing_score = :passing_score,
			status = :status, is_mandatory = :is_mandatory, is_preview = :is_preview,
			unlock_mode = :unlock_mode, available_at = :available_at,
			prerequisite_activity_id = :prerequisite_activity_id, sort_order = :sort_order,
			updated_at = :updated_at
		WHERE id = :id`, toActivityRow(a))
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("activity", "Update", shared.ErrSlotOccupied,
				fmt.Sprintf("slot %d of lesson %s is already occupied", a.SlotIndex, a.LessonID), err)
		}
		return fmt.Errorf("failed to update activity: %w", err)
	}
	return requireRow(res, shared.ErrActivityNotFound)
}

// Delete removes an activity.
func (r *ActivityRepository) Delete(ctx context.Context, id shared.ActivityID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM activities WHERE id = ?`, string(id))
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.WrapError("activity", "Delete", shared.ErrHasProgress, "learners have progress on this activity", err)
		}
		return fmt.Errorf("failed to delete activity: %w", err)
	}
	return requireRow(res, shared.ErrActivityNotFound)
}

// UpdateSortOrder sets the sort order of one activity.
func (r *ActivityRepository) UpdateSortOrder(ctx context.Context, id shared.ActivityID, sortOrder int, now time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE activities SET sort_order = ?, updated_at = ? WHERE id = ?`,
		sortOrder, now.UTC(), string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to update sort order: %w", err)
	}
	return requireRow(res, shared.ErrActivityNotFound)
}

// UpdateStatus sets the status of a set of activities.
func (r *ActivityRepository) UpdateStatus(ctx context.Context, ids []shared.ActivityID, status activity.Status, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE activities SET status = ?, updated_at = ? WHERE id IN (?)`,
		string(status), now.UTC(), idStrings(ids))
	if err != nil {
		return err
	}
	if _, err := r.q.ExecContext(ctx, r.q.Rebind(query), args...); err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("activity", "UpdateStatus", shared.ErrSlotOccupied,
				"a restored activity collides with the live occupant of its slot", err)
		}
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

// GetByID returns one activity.
func (r *ActivityRepository) GetByID(ctx context.Context, id shared.ActivityID) (*activity.Activity, error) {
	var row activityRow
	if err := sqlx.GetContext(ctx, r.q, &row, activitySelect+` WHERE a.id = ?`, string(id)); err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrActivityNotFound
		}
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	return row.toDomain(), nil
}

// GetByIDs returns the activities that exist among ids.
func (r *ActivityRepository) GetByIDs(ctx context.Context, ids []shared.ActivityID) ([]*activity.Activity, error) {
	if len(ids) == 0 {
		return []*activity.Activity{}, nil
	}
	query, args, err := sqlx.In(activitySelect+` WHERE a.id IN (?)`, idStrings(ids))
	if err != nil {
		return nil, err
	}
	return r.selectRows(ctx, query, args...)
}

// ListByLesson returns the activities of one lesson.
func (r *ActivityRepository) ListByLesson(ctx context.Context, lessonID shared.LessonID, f activity.Filter) ([]*activity.Activity, error) {
	where, args := statusClause(`a.lesson_id = ?`, []any{string(lessonID)}, f)
	return r.selectFiltered(ctx, activitySelect+` WHERE `+where+
		` ORDER BY ` + slotOrder, args)
}

// ListByModule returns the activities of every lesson in a module.
func (r *ActivityRepository) ListByModule(ctx context.Context, moduleID shared.ModuleID, f activity.Filter) ([]*activity.Activity, error) {
	where, args := statusClause(`a.module_id = ?`, []any{string(moduleID)}, f)
	return r.selectFiltered(ctx, activitySelect+` JOIN lessons l ON l.id = a.lesson_id WHERE `+where+
		` ORDER BY l.sort_order, l.created_at, ` + slotOrder, args)
}

// ListByCourse returns the activities of every lesson in a course.
func (r *ActivityRepository) ListByCourse(ctx context.Context, courseID shared.CourseID, f activity.Filter) ([]*activity.Activity, error) {
	where, args := statusClause(`a.course_id = ?`, []any{string(courseID)}, f)
	return r.selectFiltered(ctx, activitySelect+
		` JOIN lessons l ON l.id = a.lesson_id JOIN modules m ON m.id = l.module_id WHERE `+where+
		` ORDER BY m.sort_order, m.created_at, l.sort_order, l.created_at, ` + slotOrder, args)
}

// MaxPositions returns the highest slot index and sort order used in a lesson.
func (r *ActivityRepository) MaxPositions(ctx context.Context, lessonID shared.LessonID) (int, int, error) {
	var pos struct {
		MaxSlot int `db:"max_slot"`
		MaxSort int `db:"max_sort"`
	}
	err := sqlx.GetContext(ctx, r.q, &pos,
		`SELECT COALESCE(MAX(slot_index), 0) AS max_slot, COALESCE(MAX(sort_order), 0) AS max_sort
		 FROM activities WHERE lesson_id = ?`, string(lessonID))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read lesson positions: %w", err)
	}
	return pos.MaxSlot, pos.MaxSort, nil
}

func (r *ActivityRepository) selectFiltered(ctx context.Context, query string, args []any) ([]*activity.Activity, error) {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	return r.selectRows(ctx, query, args...)
}

func (r *ActivityRepository) selectRows(ctx context.Context, query string, args ...any) ([]*activity.Activity, error) {
	var rows []activityRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	out := make([]*activity.Activity, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Helpers
// ═══════════════════════════════════════════════════════════════════════════

func statusClause(where string, args []any, f activity.Filter) (string, []any) {
	if len(f.Statuses) == 0 {
		return where, args
	}
	statuses := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		statuses[i] = string(s)
	}
	return where + ` AND a.status IN (?)`, append(args, statuses)
}

func nullJSON(raw json.RawMessage) types.NullJSONText {
	if len(raw) == 0 {
		return types.NullJSONText{}
	}
	return types.NullJSONText{JSONText: types.JSONText(raw), Valid: true}
}

func idStrings(ids []shared.ActivityID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strings.TrimSpace(string(id))
	}
	return out
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
