package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/lingua-coach/curriculum-engine/internal/domain/progress"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
)

// ProgressRepository implements progress.Repository on SQLite.
type ProgressRepository struct {
	q sqlx.ExtContext
}

type progressRow struct {
	ID               string             `db:"id"`
	ActivityID       string             `db:"activity_id"`
	UserID           string             `db:"user_id"`
	LessonID         string             `db:"lesson_id"`
	CourseID         string             `db:"course_id"`
	Status           string             `db:"status"`
	Score            sql.NullFloat64    `db:"score"`
	Attempts         int                `db:"attempts"`
	TimeSpentSeconds int                `db:"time_spent_seconds"`
	CompletedAt      sql.NullTime       `db:"completed_at"`
	LastAccessedAt   time.Time          `db:"last_accessed_at"`
	ResponseData     types.NullJSONText `db:"response_data"`
	CreatedAt        time.Time          `db:"created_at"`
	UpdatedAt        time.Time          `db:"updated_at"`
}

const progressSelect = `SELECT id, activity_id, user_id, lesson_id, course_id, status, score, attempts,
	time_spent_seconds, completed_at, last_accessed_at, response_data, created_at, updated_at
	FROM activity_progress`

func toProgressRow(p *progress.Progress) progressRow {
	r := progressRow{
		ID:               p.ID,
		ActivityID:       string(p.ActivityID),
		UserID:           string(p.UserID),
		LessonID:         string(p.LessonID),
		CourseID:         string(p.CourseID),
		Status:           string(p.Status),
		Attempts:         p.Attempts,
		TimeSpentSeconds: p.TimeSpentSeconds,
		LastAccessedAt:   p.LastAccessedAt.UTC(),
		ResponseData:     nullJSON(p.ResponseData),
		CreatedAt:        p.CreatedAt.UTC(),
		UpdatedAt:        p.UpdatedAt.UTC(),
	}
	if p.Score != nil {
		r.Score = sql.NullFloat64{Float64: *p.Score, Valid: true}
	}
	if p.CompletedAt != nil {
		r.CompletedAt = sql.NullTime{Time: p.CompletedAt.UTC(), Valid: true}
	}
	return r
}

func (r progressRow) toDomain() *progress.Progress {
	p := &progress.Progress{
		ID:               r.ID,
		ActivityID:       shared.ActivityID(r.ActivityID),
		UserID:           shared.UserID(r.UserID),
		LessonID:         shared.LessonID(r.LessonID),
		CourseID:         shared.CourseID(r.CourseID),
		Status:           progress.Status(r.Status),
		Attempts:         r.Attempts,
		TimeSpentSeconds: r.TimeSpentSeconds,
		LastAccessedAt:   r.LastAccessedAt.UTC(),
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
	if r.Score.Valid {
		v := r.Score.Float64
		p.Score = &v
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time.UTC()
		p.CompletedAt = &t
	}
	if r.ResponseData.Valid {
		p.ResponseData = json.RawMessage(r.ResponseData.JSONText)
	}
	return p
}

// Upsert inserts or updates the record keyed by (activity_id, user_id).
func (r *ProgressRepository) Upsert(ctx context.Context, p *progress.Progress) error {
	_, err := sqlx.NamedExecContext(ctx, r.q, `
		INSERT INTO activity_progress (
			id, activity_id, user_id, lesson_id, course_id, status, score, attempts,
			time_spent_seconds, completed_at, last_accessed_at, response_data, created_at, updated_at
		) VALUES (
			:id, :activity_id, :user_id, :lesson_id, :course_id, :status, :score, :attempts,
			:time_spent_seconds, :completed_at, :last_accessed_at, :response_data, :created_at, :updated_at
		)
		ON CONFLICT (activity_id, user_id) DO UPDATE SET
			status = excluded.status,
			score = excluded.score,
			attempts = excluded.attempts,
			time_spent_seconds = excluded.time_spent_seconds,
			completed_at = excluded.completed_at,
			last_accessed_at = excluded.last_accessed_at,
			response_data = excluded.response_data,
			updated_at = excluded.updated_at`, toProgressRow(p))
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrActivityNotFound
		}
		return fmt.Errorf("failed to upsert progress: %w", err)
	}
	return nil
}

// Get returns the record of a user on an activity.
func (r *ProgressRepository) Get(ctx context.Context, activityID shared.ActivityID, userID shared.UserID) (*progress.Progress, error) {
	var row progressRow
	err := sqlx.GetContext(ctx, r.q, &row, progressSelect+` WHERE activity_id = ? AND user_id = ?`,
		string(activityID), string(userID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	return row.toDomain(), nil
}

// ListByLesson returns the user's records for a lesson.
func (r *ProgressRepository) ListByLesson(ctx context.Context, lessonID shared.LessonID, userID shared.UserID) ([]*progress.Progress, error) {
	return r.list(ctx, progressSelect+` WHERE lesson_id = ? AND user_id = ?`, string(lessonID), string(userID))
}

// ListByCourse returns the user's records for a course.
func (r *ProgressRepository) ListByCourse(ctx context.Context, courseID shared.CourseID, userID shared.UserID) ([]*progress.Progress, error) {
	return r.list(ctx, progressSelect+` WHERE course_id = ? AND user_id = ?`, string(courseID), string(userID))
}

// ListByUser returns every record of a user.
func (r *ProgressRepository) ListByUser(ctx context.Context, userID shared.UserID) ([]*progress.Progress, error) {
	return r.list(ctx, progressSelect+` WHERE user_id = ? ORDER BY course_id, lesson_id, created_at`, string(userID))
}

// CountByActivity returns how many learners have a record on an activity.
func (r *ProgressRepository) CountByActivity(ctx context.Context, activityID shared.ActivityID) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, r.q, &n, `SELECT COUNT(*) FROM activity_progress WHERE activity_id = ?`, string(activityID)); err != nil {
		return 0, fmt.Errorf("failed to count progress: %w", err)
	}
	return n, nil
}

func (r *ProgressRepository) list(ctx context.Context, query string, args ...any) ([]*progress.Progress, error) {
	var rows []progressRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query progress: %w", err)
	}
	out := make([]*progress.Progress, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}
