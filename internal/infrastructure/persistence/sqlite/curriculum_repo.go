package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
)

// CurriculumRepository implements curriculum.Repository on SQLite.
type CurriculumRepository struct {
	q sqlx.ExtContext
}

type courseRow struct {
	ID           string    `db:"id"`
	Title        string    `db:"title"`
	TitleFr      string    `db:"title_fr"`
	DripEnabled  bool      `db:"drip_enabled"`
	DripInterval int       `db:"drip_interval"`
	DripUnit     string    `db:"drip_unit"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

type moduleRow struct {
	ID          string       `db:"id"`
	CourseID    string       `db:"course_id"`
	Title       string       `db:"title"`
	TitleFr     string       `db:"title_fr"`
	SortOrder   int          `db:"sort_order"`
	UnlockMode  string       `db:"unlock_mode"`
	AvailableAt sql.NullTime `db:"available_at"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

type lessonRow struct {
	ID        string    `db:"id"`
	ModuleID  string    `db:"module_id"`
	CourseID  string    `db:"course_id"`
	Title     string    `db:"title"`
	TitleFr   string    `db:"title_fr"`
	SortOrder int       `db:"sort_order"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r moduleRow) toDomain() *curriculum.Module {
	m := &curriculum.Module{
		ID:         shared.ModuleID(r.ID),
		CourseID:   shared.CourseID(r.CourseID),
		Title:      r.Title,
		TitleFr:    r.TitleFr,
		SortOrder:  r.SortOrder,
		UnlockMode: curriculum.UnlockMode(r.UnlockMode),
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	if r.AvailableAt.Valid {
		t := r.AvailableAt.Time.UTC()
		m.AvailableAt = &t
	}
	return m
}

func (r lessonRow) toDomain() *curriculum.Lesson {
	return &curriculum.Lesson{
		ID:        shared.LessonID(r.ID),
		ModuleID:  shared.ModuleID(r.ModuleID),
		CourseID:  shared.CourseID(r.CourseID),
		Title:     r.Title,
		TitleFr:   r.TitleFr,
		SortOrder: r.SortOrder,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

// SaveCourse inserts or updates a course.
func (r *CurriculumRepository) SaveCourse(ctx context.Context, c *curriculum.Course) error {
	_, err := sqlx.NamedExecContext(ctx, r.q, `
		INSERT INTO courses (id, title, title_fr, drip_enabled, drip_interval, drip_unit, created_at, updated_at)
		VALUES (:id, :title, :title_fr, :drip_enabled, :drip_interval, :drip_unit, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			title_fr = excluded.title_fr,
			drip_enabled = excluded.drip_enabled,
			drip_interval = excluded.drip_interval,
			drip_unit = excluded.drip_unit,
			updated_at = excluded.updated_at`,
		courseRow{
			ID: string(c.ID), Title: c.Title, TitleFr: c.TitleFr,
			DripEnabled: c.Drip.Enabled, DripInterval: c.Drip.Interval, DripUnit: string(c.Drip.Unit),
			CreatedAt: c.CreatedAt.UTC(), UpdatedAt: c.UpdatedAt.UTC(),
		})
	if err != nil {
		return fmt.Errorf("failed to save course: %w", err)
	}
	return nil
}

// GetCourse returns a course by id.
func (r *CurriculumRepository) GetCourse(ctx context.Context, id shared.CourseID) (*curriculum.Course, error) {
	var row courseRow
	err := sqlx.GetContext(ctx, r.q, &row, `
		SELECT id, title, title_fr, drip_enabled, drip_interval, drip_unit, created_at, updated_at
		FROM courses WHERE id = ?`, string(id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrCourseNotFound
		}
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	return &curriculum.Course{
		ID:      shared.CourseID(row.ID),
		Title:   row.Title,
		TitleFr: row.TitleFr,
		Drip: curriculum.DripConfig{
			Enabled:  row.DripEnabled,
			Interval: row.DripInterval,
			Unit:     curriculum.DripUnit(row.DripUnit),
		},
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}, nil
}

const moduleSelect = `SELECT id, course_id, title, title_fr, sort_order, unlock_mode, available_at, created_at, updated_at FROM modules`

// SaveModule inserts or updates a module.
func (r *CurriculumRepository) SaveModule(ctx context.Context, m *curriculum.Module) error {
	row := moduleRow{
		ID: string(m.ID), CourseID: string(m.CourseID), Title: m.Title, TitleFr: m.TitleFr,
		SortOrder: m.SortOrder, UnlockMode: string(m.UnlockMode),
		CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC(),
	}
	if m.AvailableAt != nil {
		row.AvailableAt = sql.NullTime{Time: m.AvailableAt.UTC(), Valid: true}
	}
	_, err := sqlx.NamedExecContext(ctx, r.q, `
		INSERT INTO modules (id, course_id, title, title_fr, sort_order, unlock_mode, available_at, created_at, updated_at)
		VALUES (:id, :course_id, :title, :title_fr, :sort_order, :unlock_mode, :available_at, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			title_fr = excluded.title_fr,
			sort_order = excluded.sort_order,
			unlock_mode = excluded.unlock_mode,
			available_at = excluded.available_at,
			updated_at = excluded.updated_at`, row)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrCourseNotFound
		}
		return fmt.Errorf("failed to save module: %w", err)
	}
	return nil
}

// GetModule returns a module by id.
func (r *CurriculumRepository) GetModule(ctx context.Context, id shared.ModuleID) (*curriculum.Module, error) {
	var row moduleRow
	if err := sqlx.GetContext(ctx, r.q, &row, moduleSelect+` WHERE id = ?`, string(id)); err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrModuleNotFound
		}
		return nil, fmt.Errorf("failed to get module: %w", err)
	}
	return row.toDomain(), nil
}

// ListModules returns the modules of a course in order.
func (r *CurriculumRepository) ListModules(ctx context.Context, courseID shared.CourseID) ([]*curriculum.Module, error) {
	var rows []moduleRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, moduleSelect+` WHERE course_id = ? ORDER BY sort_order, created_at, id`, string(courseID)); err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	out := make([]*curriculum.Module, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

const lessonSelect = `SELECT l.id, l.module_id, l.course_id, l.title, l.title_fr, l.sort_order, l.created_at, l.updated_at FROM lessons l`

// SaveLesson inserts or updates a lesson.
func (r *CurriculumRepository) SaveLesson(ctx context.Context, l *curriculum.Lesson) error {
	_, err := sqlx.NamedExecContext(ctx, r.q, `
		INSERT INTO lessons (id, module_id, course_id, title, title_fr, sort_order, created_at, updated_at)
		VALUES (:id, :module_id, :course_id, :title, :title_fr, :sort_order, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			title_fr = excluded.title_fr,
			sort_order = excluded.sort_order,
			updated_at = excluded.updated_at`,
		lessonRow{
			ID: string(l.ID), ModuleID: string(l.ModuleID), CourseID: string(l.CourseID),
			Title: l.Title, TitleFr: l.TitleFr, SortOrder: l.SortOrder,
			CreatedAt: l.CreatedAt.UTC(), UpdatedAt: l.UpdatedAt.UTC(),
		})
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrModuleNotFound
		}
		return fmt.Errorf("failed to save lesson: %w", err)
	}
	return nil
}

// GetLesson returns a lesson by id.
func (r *CurriculumRepository) GetLesson(ctx context.Context, id shared.LessonID) (*curriculum.Lesson, error) {
	var row lessonRow
	if err := sqlx.GetContext(ctx, r.q, &row, lessonSelect+` WHERE l.id = ?`, string(id)); err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrLessonNotFound
		}
		return nil, fmt.Errorf("failed to get lesson: %w", err)
	}
	return row.toDomain(), nil
}

// ListLessonsByModule returns the lessons of a module in order.
func (r *CurriculumRepository) ListLessonsByModule(ctx context.Context, moduleID shared.ModuleID) ([]*curriculum.Lesson, error) {
	return r.listLessons(ctx, lessonSelect+` WHERE l.module_id = ? ORDER BY l.sort_order, l.created_at, l.id`, string(moduleID))
}

// ListLessonsByCourse returns every lesson of a course in module then lesson order.
func (r *CurriculumRepository) ListLessonsByCourse(ctx context.Context, courseID shared.CourseID) ([]*curriculum.Lesson, error) {
	return r.listLessons(ctx, lessonSelect+` JOIN modules m ON m.id = l.module_id
		WHERE l.course_id = ?
		ORDER BY m.sort_order, m.created_at, m.id, l.sort_order, l.created_at, l.id`, string(courseID))
}

func (r *CurriculumRepository) listLessons(ctx context.Context, query string, args ...any) ([]*curriculum.Lesson, error) {
	var rows []lessonRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list lessons: %w", err)
	}
	out := make([]*curriculum.Lesson, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// SavePath inserts or replaces a path and its ordered course list.
func (r *CurriculumRepository) SavePath(ctx context.Context, p *curriculum.LearningPath) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO learning_paths (id, title, title_fr, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET title = excluded.title, title_fr = excluded.title_fr`,
		string(p.ID), p.Title, p.TitleFr, p.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save path: %w", err)
	}
	if _, err := r.q.ExecContext(ctx, `DELETE FROM path_courses WHERE path_id = ?`, string(p.ID)); err != nil {
		return fmt.Errorf("failed to reset path courses: %w", err)
	}
	for i, cid := range p.CourseIDs {
		if _, err := r.q.ExecContext(ctx,
			`INSERT INTO path_courses (path_id, course_id, position) VALUES (?, ?, ?)`,
			string(p.ID), string(cid), i+1); err != nil {
			if IsForeignKeyViolation(err) {
				return shared.ErrCourseNotFound
			}
			return fmt.Errorf("failed to save path course: %w", err)
		}
	}
	return nil
}

// ListPaths returns every learning path with its ordered course ids.
func (r *CurriculumRepository) ListPaths(ctx context.Context) ([]*curriculum.LearningPath, error) {
	var rows []struct {
		ID        string         `db:"id"`
		Title     string         `db:"title"`
		TitleFr   string         `db:"title_fr"`
		CreatedAt time.Time      `db:"created_at"`
		CourseID  sql.NullString `db:"course_id"`
	}
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT p.id, p.title, p.title_fr, p.created_at, pc.course_id
		FROM learning_paths p
		LEFT JOIN path_courses pc ON pc.path_id = p.id
		ORDER BY p.created_at, p.id, pc.position`)
	if err != nil {
		return nil, fmt.Errorf("failed to list paths: %w", err)
	}

	out := make([]*curriculum.LearningPath, 0)
	byID := make(map[string]*curriculum.LearningPath)
	for _, row := range rows {
		p, ok := byID[row.ID]
		if !ok {
			p = &curriculum.LearningPath{
				ID: shared.PathID(row.ID), Title: row.Title, TitleFr: row.TitleFr,
				CourseIDs: []shared.CourseID{}, CreatedAt: row.CreatedAt.UTC(),
			}
			byID[row.ID] = p
			out = append(out, p)
		}
		if row.CourseID.Valid {
			p.CourseIDs = append(p.CourseIDs, shared.CourseID(row.CourseID.String))
		}
	}
	return out, nil
}

// SaveEnrollment inserts or updates an enrollment.
func (r *CurriculumRepository) SaveEnrollment(ctx context.Context, e *curriculum.Enrollment) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO enrollments (user_id, course_id, enrolled_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id, course_id) DO UPDATE SET enrolled_at = excluded.enrolled_at`,
		string(e.UserID), string(e.CourseID), e.EnrolledAt.UTC())
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrCourseNotFound
		}
		return fmt.Errorf("failed to save enrollment: %w", err)
	}
	return nil
}

// GetEnrollment returns the enrollment of a learner in a course.
func (r *CurriculumRepository) GetEnrollment(ctx context.Context, userID shared.UserID, courseID shared.CourseID) (*curriculum.Enrollment, error) {
	var at time.Time
	err := sqlx.GetContext(ctx, r.q, &at,
		`SELECT enrolled_at FROM enrollments WHERE user_id = ? AND course_id = ?`,
		string(userID), string(courseID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	return &curriculum.Enrollment{UserID: userID, CourseID: courseID, EnrolledAt: at.UTC()}, nil
}
