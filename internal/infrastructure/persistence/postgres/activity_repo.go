package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/slot"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ActivityRepository implements activity.Repository for PostgreSQL.
type ActivityRepository struct {
	q Querier
}

// NewActivityRepository creates an ActivityRepository bound to a pool or a transaction.
func NewActivityRepository(q Querier) *ActivityRepository {
	return &ActivityRepository{q: q}
}

const activityColumns = `
	a.id, a.lesson_id, a.module_id, a.course_id, a.slot_index, a.slot_type, a.activity_type,
	a.title, a.title_fr, a.description, a.description_fr, a.content, a.content_fr,
	a.content_json, a.content_json_fr,
	a.video_url, a.video_provider, a.audio_url, a.download_url, a.download_file_name,
	a.embed_code, a.thumbnail_url,
	a.points, a.estimated_minutes, a.passing_score, a.status, a.is_mandatory, a.is_preview,
	a.unlock_mode, a.available_at, a.prerequisite_activity_id, a.sort_order,
	a.created_by, a.created_at, a.updated_at`

// slotOrder sorts mandatory slots by index and extras, which share one
// position after slot 7, by their sort order.
const slotOrder = `CASE WHEN a.slot_index BETWEEN 1 AND 7 THEN a.slot_index ELSE 8 END, a.sort_order, a.created_at`

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// Create inserts a new activity.
func (r *ActivityRepository) Create(ctx context.Context, a *activity.Activity) error {
	query := `
		INSERT INTO activities (
			id, lesson_id, module_id, course_id, slot_index, slot_type, activity_type,
			title, title_fr, description, description_fr, content, content_fr,
			content_json, content_json_fr,
			video_url, video_provider, audio_url, download_url, download_file_name,
			embed_code, thumbnail_url,
			points, estimated_minutes, passing_score, status, is_mandatory, is_preview,
			unlock_mode, available_at, prerequisite_activity_id, sort_order,
			created_by, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35
		)
	`

	_, err := r.q.Exec(ctx, query,
		string(a.ID), string(a.LessonID), string(a.ModuleID), string(a.CourseID),
		a.SlotIndex, string(a.SlotType), string(a.ActivityType),
		a.Title, a.TitleFr, a.Description, a.DescriptionFr, a.Content, a.ContentFr,
		jsonArg(a.ContentJSON), jsonArg(a.ContentJSONFr),
		a.Media.VideoURL, string(a.Media.VideoProvider), a.Media.AudioURL, a.Media.DownloadURL,
		a.Media.DownloadFileName, a.Media.EmbedCode, a.Media.ThumbnailURL,
		a.Points, a.EstimatedMinutes, a.PassingScore, string(a.Status), a.IsMandatory, a.IsPreview,
		string(a.UnlockMode), a.AvailableAt, nullableID(string(a.PrerequisiteActivityID)), a.SortOrder,
		string(a.CreatedBy), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("activity", "Create", shared.ErrSlotOccupied,
				fmt.Sprintf("slot %d of lesson %s is already occupied", a.SlotIndex, a.LessonID), err)
		}
		if IsForeignKeyViolation(err) {
			return shared.ErrLessonNotFound
		}
		return fmt.Errorf("failed to create activity: %w", mapError(err))
	}

	return nil
}

// Update replaces every mutable column of an activity.
func (r *ActivityRepository) Update(ctx context.Context, a *activity.Activity) error {
	query := `
		UPDATE activities SET
			slot_index = $1, slot_type = $2, activity_type = $3,
			title = $4, title_fr = $5, description = $6, description_fr = $7,
			content = $8, content_fr = $9, content_json = $10, content_json_fr = $11,
			video_url = $12, video_provider = $13, audio_url = $14, download_url = $15,
			download_file_name = $16, embed_code = $17, thumbnail_url = $18,
			points = $19, estimated_minutes = $20, passing_score = $21, status = $22,
			is_mandatory = $23, is_preview = $24, unlock_mode = $25, available_at = $26,
			prerequisite_activity_id = $27, sort_order = $28, updated_at = $29
		WHERE id = $30
	`

	result, err := r.q.Exec(ctx, query,
		a.SlotIndex, string(a.SlotType), string(a.ActivityType),
		a.Title, a.TitleFr, a.Description, a.DescriptionFr,
		a.Content, a.ContentFr, jsonArg(a.ContentJSON), jsonArg(a.ContentJSONFr),
		a.Media.VideoURL, string(a.Media.VideoProvider), a.Media.AudioURL, a.Media.DownloadURL,
		a.Media.DownloadFileName, a.Media.EmbedCode, a.Media.ThumbnailURL,
		a.Points, a.EstimatedMinutes, a.PassingScore, string(a.Status),
		a.IsMandatory, a.IsPreview, string(a.UnlockMode), a.AvailableAt,
		nullableID(string(a.PrerequisiteActivityID)), a.SortOrder, a.UpdatedAt,
		string(a.ID),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("activity", "Update", shared.ErrSlotOccupied,
				fmt.Sprintf("slot %d of lesson %s is already occupied", a.SlotIndex, a.LessonID), err)
		}
		return fmt.Errorf("failed to update activity: %w", mapError(err))
	}
	if result.RowsAffected() == 0 {
		return shared.ErrActivityNotFound
	}

	return nil
}

// Delete removes an activity.
func (r *ActivityRepository) Delete(ctx context.Context, id shared.ActivityID) error {
	result, err := r.q.Exec(ctx, `DELETE FROM activities WHERE id = $1`, string(id))
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.WrapError("activity", "Delete", shared.ErrHasProgress, "learners have progress on this activity", err)
		}
		return fmt.Errorf("failed to delete activity: %w", mapError(err))
	}
	if result.RowsAffected() == 0 {
		return shared.ErrActivityNotFound
	}
	return nil
}

// UpdateSortOrder sets the sort order of one activity.
func (r *ActivityRepository) UpdateSortOrder(ctx context.Context, id shared.ActivityID, sortOrder int, now time.Time) error {
	result, err := r.q.Exec(ctx,
		`UPDATE activities SET sort_order = $1, updated_at = $2 WHERE id = $3`,
		sortOrder, now, string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to update sort order: %w", mapError(err))
	}
	if result.RowsAffected() == 0 {
		return shared.ErrActivityNotFound
	}
	return nil
}

// UpdateStatus sets the status of a set of activities.
func (r *ActivityRepository) UpdateStatus(ctx context.Context, ids []shared.ActivityID, status activity.Status, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.q.Exec(ctx,
		`UPDATE activities SET status = $1, updated_at = $2 WHERE id = ANY($3)`,
		string(status), now, idStrings(ids),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("activity", "UpdateStatus", shared.ErrSlotOccupied,
				"a restored activity collides with the live occupant of its slot", err)
		}
		return fmt.Errorf("failed to update status: %w", mapError(err))
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// GetByID returns one activity.
func (r *ActivityRepository) GetByID(ctx context.Context, id shared.ActivityID) (*activity.Activity, error) {
	row := r.q.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities a WHERE a.id = $1`, string(id))
	a, err := scanActivity(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrActivityNotFound
		}
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	return a, nil
}

// GetByIDs returns the activities that exist among ids.
func (r *ActivityRepository) GetByIDs(ctx context.Context, ids []shared.ActivityID) ([]*activity.Activity, error) {
	if len(ids) == 0 {
		return []*activity.Activity{}, nil
	}
	return r.list(ctx, `SELECT `+activityColumns+` FROM activities a WHERE a.id = ANY($1)`, idStrings(ids))
}

// ListByLesson returns the activities of one lesson.
func (r *ActivityRepository) ListByLesson(ctx context.Context, lessonID shared.LessonID, f activity.Filter) ([]*activity.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities a
		WHERE a.lesson_id = $1 AND (cardinality($2::text[]) = 0 OR a.status = ANY($2))
		ORDER BY ` + slotOrder
	return r.list(ctx, query, string(lessonID), statusStrings(f))
}

// ListByModule returns the activities of every lesson in a module.
func (r *ActivityRepository) ListByModule(ctx context.Context, moduleID shared.ModuleID, f activity.Filter) ([]*activity.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities a
		JOIN lessons l ON l.id = a.lesson_id
		WHERE a.module_id = $1 AND (cardinality($2::text[]) = 0 OR a.status = ANY($2))
		ORDER BY l.sort_order, l.created_at, ` + slotOrder
	return r.list(ctx, query, string(moduleID), statusStrings(f))
}

// ListByCourse returns the activities of every lesson in a course.
func (r *ActivityRepository) ListByCourse(ctx context.Context, courseID shared.CourseID, f activity.Filter) ([]*activity.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities a
		JOIN lessons l ON l.id = a.lesson_id
		JOIN modules m ON m.id = l.module_id
		WHERE a.course_id = $1 AND (cardinality($2::text[]) = 0 OR a.status = ANY($2))
		ORDER BY m.sort_order, m.created_at, l.sort_order, l.created_at, ` + slotOrder
	return r.list(ctx, query, string(courseID), statusStrings(f))
}

// MaxPositions returns the highest slot index and sort order used in a lesson.
func (r *ActivityRepository) MaxPositions(ctx context.Context, lessonID shared.LessonID) (int, int, error) {
	var maxSlot, maxSort int
	err := r.q.QueryRow(ctx,
		`SELECT COALESCE(MAX(slot_index), 0), COALESCE(MAX(sort_order), 0) FROM activities WHERE lesson_id = $1`,
		string(lessonID),
	).Scan(&maxSlot, &maxSort)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read lesson positions: %w", err)
	}
	return maxSlot, maxSort, nil
}

func (r *ActivityRepository) list(ctx context.Context, query string, args ...any) ([]*activity.Activity, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	out := make([]*activity.Activity, 0)
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Helper Methods
// ─────────────────────────────────────────────────────────────────────────────

func scanActivity(row pgx.Row) (*activity.Activity, error) {
	var (
		a                                      activity.Activity
		id, lessonID, moduleID, courseID       string
		slotType, activityType, status, unlock string
		provider, createdBy                    string
		contentJSON, contentJSONFr             []byte
		prerequisite                           *string
		createdAt, updatedAt                   time.Time
	)

	err := row.Scan(
		&id, &lessonID, &moduleID, &courseID, &a.SlotIndex, &slotType, &activityType,
		&a.Title, &a.TitleFr, &a.Description, &a.DescriptionFr, &a.Content, &a.ContentFr,
		&contentJSON, &contentJSONFr,
		&a.Media.VideoURL, &provider, &a.Media.AudioURL, &a.Media.DownloadURL, &a.Media.DownloadFileName,
		&a.Media.EmbedCode, &a.Media.ThumbnailURL,
		&a.Points, &a.EstimatedMinutes, &a.PassingScore, &status, &a.IsMandatory, &a.IsPreview,
		&unlock, &a.AvailableAt, &prerequisite, &a.SortOrder,
		&createdBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.ID = shared.ActivityID(id)
	a.LessonID = shared.LessonID(lessonID)
	a.ModuleID = shared.ModuleID(moduleID)
	a.CourseID = shared.CourseID(courseID)
	a.SlotType = slot.Type(slotType)
	a.ActivityType = slot.ActivityType(activityType)
	a.Status = activity.Status(status)
	a.UnlockMode = curriculum.UnlockMode(unlock)
	a.Media.VideoProvider = activity.VideoProvider(provider)
	a.ContentJSON = contentJSON
	a.ContentJSONFr = contentJSONFr
	if prerequisite != nil {
		a.PrerequisiteActivityID = shared.ActivityID(*prerequisite)
	}
	if a.AvailableAt != nil {
		t := a.AvailableAt.UTC()
		a.AvailableAt = &t
	}
	a.CreatedBy = shared.UserID(createdBy)
	a.CreatedAt = createdAt.UTC()
	a.UpdatedAt = updatedAt.UTC()

	return &a, nil
}

// jsonArg passes raw JSON to a JSONB column, NULL when empty.
func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullableID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func idStrings(ids []shared.ActivityID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func statusStrings(f activity.Filter) []string {
	out := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		out[i] = string(s)
	}
	return out
}
