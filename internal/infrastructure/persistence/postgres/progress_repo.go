package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lingua-coach/curriculum-engine/internal/domain/progress"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository for PostgreSQL.
type ProgressRepository struct {
	q Querier
}

// NewProgressRepository creates a ProgressRepository bound to a pool or a transaction.
func NewProgressRepository(q Querier) *ProgressRepository {
	return &ProgressRepository{q: q}
}

const progressColumns = `
	id, activity_id, user_id, lesson_id, course_id, status, score, attempts,
	time_spent_seconds, completed_at, last_accessed_at, response_data, created_at, updated_at`

// Upsert inserts or updates the record keyed by (activity_id, user_id).
func (r *ProgressRepository) Upsert(ctx context.Context, p *progress.Progress) error {
	query := `
		INSERT INTO activity_progress (` + progressColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (activity_id, user_id) DO UPDATE SET
			status = EXCLUDED.status,
			score = EXCLUDED.score,
			attempts = EXCLUDED.attempts,
			time_spent_seconds = EXCLUDED.time_spent_seconds,
			completed_at = EXCLUDED.completed_at,
			last_accessed_at = EXCLUDED.last_accessed_at,
			response_data = EXCLUDED.response_data,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.q.Exec(ctx, query,
		p.ID, string(p.ActivityID), string(p.UserID), string(p.LessonID), string(p.CourseID),
		string(p.Status), p.Score, p.Attempts, p.TimeSpentSeconds, p.CompletedAt,
		p.LastAccessedAt, jsonArg(p.ResponseData), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrActivityNotFound
		}
		return fmt.Errorf("failed to upsert progress: %w", mapError(err))
	}
	return nil
}

// Get returns the record of a user on an activity.
func (r *ProgressRepository) Get(ctx context.Context, activityID shared.ActivityID, userID shared.UserID) (*progress.Progress, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+progressColumns+` FROM activity_progress WHERE activity_id = $1 AND user_id = $2`,
		string(activityID), string(userID),
	)
	p, err := scanProgress(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	return p, nil
}

// ListByLesson returns the user's records for a lesson.
func (r *ProgressRepository) ListByLesson(ctx context.Context, lessonID shared.LessonID, userID shared.UserID) ([]*progress.Progress, error) {
	return r.list(ctx,
		`SELECT `+progressColumns+` FROM activity_progress WHERE lesson_id = $1 AND user_id = $2`,
		string(lessonID), string(userID),
	)
}

// ListByCourse returns the user's records for a course.
func (r *ProgressRepository) ListByCourse(ctx context.Context, courseID shared.CourseID, userID shared.UserID) ([]*progress.Progress, error) {
	return r.list(ctx,
		`SELECT `+progressColumns+` FROM activity_progress WHERE course_id = $1 AND user_id = $2`,
		string(courseID), string(userID),
	)
}

// ListByUser returns every record of a user.
func (r *ProgressRepository) ListByUser(ctx context.Context, userID shared.UserID) ([]*progress.Progress, error) {
	return r.list(ctx,
		`SELECT `+progressColumns+` FROM activity_progress WHERE user_id = $1 ORDER BY course_id, lesson_id, created_at`,
		string(userID),
	)
}

// CountByActivity returns how many learners have a record on an activity.
func (r *ProgressRepository) CountByActivity(ctx context.Context, activityID shared.ActivityID) (int, error) {
	var n int
	if err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM activity_progress WHERE activity_id = $1`, string(activityID),
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count progress: %w", err)
	}
	return n, nil
}

func (r *ProgressRepository) list(ctx context.Context, query string, args ...any) ([]*progress.Progress, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query progress: %w", err)
	}
	defer rows.Close()

	out := make([]*progress.Progress, 0)
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProgress(row pgx.Row) (*progress.Progress, error) {
	var (
		p                                      progress.Progress
		activityID, userID, lessonID, courseID string
		status                                 string
		response                               []byte
		lastAccessed, createdAt, updatedAt     time.Time
	)

	err := row.Scan(
		&p.ID, &activityID, &userID, &lessonID, &courseID, &status, &p.Score, &p.Attempts,
		&p.TimeSpentSeconds, &p.CompletedAt, &lastAccessed, &response, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.ActivityID = shared.ActivityID(activityID)
	p.UserID = shared.UserID(userID)
	p.LessonID = shared.LessonID(lessonID)
	p.CourseID = shared.CourseID(courseID)
	p.Status = progress.Status(status)
	p.ResponseData = response
	if p.CompletedAt != nil {
		t := p.CompletedAt.UTC()
		p.CompletedAt = &t
	}
	p.LastAccessedAt = lastAccessed.UTC()
	p.CreatedAt = createdAt.UTC()
	p.UpdatedAt = updatedAt.UTC()

	return &p, nil
}
