package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CURRICULUM REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// CurriculumRepository implements curriculum.Repository for PostgreSQL.
type CurriculumRepository struct {
	q Querier
}

// NewCurriculumRepository creates a CurriculumRepository bound to a pool or a transaction.
func NewCurriculumRepository(q Querier) *CurriculumRepository {
	return &CurriculumRepository{q: q}
}

// ─────────────────────────────────────────────────────────────────────────────
// Courses
// ─────────────────────────────────────────────────────────────────────────────

// SaveCourse inserts or updates a course.
func (r *CurriculumRepository) SaveCourse(ctx context.Context, c *curriculum.Course) error {
	query := `
		INSERT INTO courses (id, title, title_fr, drip_enabled, drip_interval, drip_unit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			title_fr = EXCLUDED.title_fr,
			drip_enabled = EXCLUDED.drip_enabled,
			drip_interval = EXCLUDED.drip_interval,
			drip_unit = EXCLUDED.drip_unit,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.q.Exec(ctx, query,
		string(c.ID), c.Title, c.TitleFr, c.Drip.Enabled, c.Drip.Interval, string(c.Drip.Unit),
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save course: %w", mapError(err))
	}
	return nil
}

// GetCourse returns a course by id.
func (r *CurriculumRepository) GetCourse(ctx context.Context, id shared.CourseID) (*curriculum.Course, error) {
	var (
		c    curriculum.Course
		cid  string
		unit string
	)
	err := r.q.QueryRow(ctx, `
		SELECT id, title, title_fr, drip_enabled, drip_interval, drip_unit, created_at, updated_at
		FROM courses WHERE id = $1`, string(id),
	).Scan(&cid, &c.Title, &c.TitleFr, &c.Drip.Enabled, &c.Drip.Interval, &unit, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrCourseNotFound
		}
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	c.ID = shared.CourseID(cid)
	c.Drip.Unit = curriculum.DripUnit(unit)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Modules
// ─────────────────────────────────────────────────────────────────────────────

const moduleColumns = `id, course_id, title, title_fr, sort_order, unlock_mode, available_at, created_at, updated_at`

// SaveModule inserts or updates a module.
func (r *CurriculumRepository) SaveModule(ctx context.Context, m *curriculum.Module) error {
	query := `
		INSERT INTO modules (` + moduleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			title_fr = EXCLUDED.title_fr,
			sort_order = EXCLUDED.sort_order,
			unlock_mode = EXCLUDED.unlock_mode,
			available_at = EXCLUDED.available_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.q.Exec(ctx, query,
		string(m.ID), string(m.CourseID), m.Title, m.TitleFr, m.SortOrder, string(m.UnlockMode),
		m.AvailableAt, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrCourseNotFound
		}
		return fmt.Errorf("failed to save module: %w", mapError(err))
	}
	return nil
}

// GetModule returns a module by id.
func (r *CurriculumRepository) GetModule(ctx context.Context, id shared.ModuleID) (*curriculum.Module, error) {
	m, err := scanModule(r.q.QueryRow(ctx, `SELECT `+moduleColumns+` FROM modules WHERE id = $1`, string(id)))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrModuleNotFound
		}
		return nil, fmt.Errorf("failed to get module: %w", err)
	}
	return m, nil
}

// ListModules returns the modules of a course in order.
func (r *CurriculumRepository) ListModules(ctx context.Context, courseID shared.CourseID) ([]*curriculum.Module, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+moduleColumns+` FROM modules WHERE course_id = $1 ORDER BY sort_order, created_at, id`,
		string(courseID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	defer rows.Close()

	out := make([]*curriculum.Module, 0)
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanModule(row pgx.Row) (*curriculum.Module, error) {
	var (
		m                  curriculum.Module
		id, courseID, mode string
	)
	if err := row.Scan(&id, &courseID, &m.Title, &m.TitleFr, &m.SortOrder, &mode, &m.AvailableAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.ID = shared.ModuleID(id)
	m.CourseID = shared.CourseID(courseID)
	m.UnlockMode = curriculum.UnlockMode(mode)
	if m.AvailableAt != nil {
		t := m.AvailableAt.UTC()
		m.AvailableAt = &t
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Lessons
// ─────────────────────────────────────────────────────────────────────────────

const lessonColumns = `l.id, l.module_id, l.course_id, l.title, l.title_fr, l.sort_order, l.created_at, l.updated_at`

// SaveLesson inserts or updates a lesson.
func (r *CurriculumRepository) SaveLesson(ctx context.Context, l *curriculum.Lesson) error {
	query := `
		INSERT INTO lessons (id, module_id, course_id, title, title_fr, sort_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			title_fr = EXCLUDED.title_fr,
			sort_order = EXCLUDED.sort_order,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.q.Exec(ctx, query,
		string(l.ID), string(l.ModuleID), string(l.CourseID), l.Title, l.TitleFr, l.SortOrder,
		l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrModuleNotFound
		}
		return fmt.Errorf("failed to save lesson: %w", mapError(err))
	}
	return nil
}

// GetLesson returns a lesson by id.
func (r *CurriculumRepository) GetLesson(ctx context.Context, id shared.LessonID) (*curriculum.Lesson, error) {
	l, err := scanLesson(r.q.QueryRow(ctx, `SELECT `+lessonColumns+` FROM lessons l WHERE l.id = $1`, string(id)))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrLessonNotFound
		}
		return nil, fmt.Errorf("failed to get lesson: %w", err)
	}
	return l, nil
}

// ListLessonsByModule returns the lessons of a module in order.
func (r *CurriculumRepository) ListLessonsByModule(ctx context.Context, moduleID shared.ModuleID) ([]*curriculum.Lesson, error) {
	return r.listLessons(ctx,
		`SELECT `+lessonColumns+` FROM lessons l WHERE l.module_id = $1 ORDER BY l.sort_order, l.created_at, l.id`,
		string(moduleID),
	)
}

// ListLessonsByCourse returns every lesson of a course in module then lesson order.
func (r *CurriculumRepository) ListLessonsByCourse(ctx context.Context, courseID shared.CourseID) ([]*curriculum.Lesson, error) {
	return r.listLessons(ctx, `
		SELECT `+lessonColumns+` FROM lessons l
		JOIN modules m ON m.id = l.module_id
		WHERE l.course_id = $1
		ORDER BY m.sort_order, m.created_at, m.id, l.sort_order, l.created_at, l.id`,
		string(courseID),
	)
}

func (r *CurriculumRepository) listLessons(ctx context.Context, query string, args ...any) ([]*curriculum.Lesson, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list lessons: %w", err)
	}
	defer rows.Close()

	out := make([]*curriculum.Lesson, 0)
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLesson(row pgx.Row) (*curriculum.Lesson, error) {
	var (
		l                      curriculum.Lesson
		id, moduleID, courseID string
	)
	if err := row.Scan(&id, &moduleID, &courseID, &l.Title, &l.TitleFr, &l.SortOrder, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.ID = shared.LessonID(id)
	l.ModuleID = shared.ModuleID(moduleID)
	l.CourseID = shared.CourseID(courseID)
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return &l, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Learning paths
// ─────────────────────────────────────────────────────────────────────────────

// SavePath inserts or replaces a path and its ordered course list.
func (r *CurriculumRepository) SavePath(ctx context.Context, p *curriculum.LearningPath) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO learning_paths (id, title, title_fr, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, title_fr = EXCLUDED.title_fr`,
		string(p.ID), p.Title, p.TitleFr, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save path: %w", mapError(err))
	}
	if _, err := r.q.Exec(ctx, `DELETE FROM path_courses WHERE path_id = $1`, string(p.ID)); err != nil {
		return fmt.Errorf("failed to reset path courses: %w", mapError(err))
	}
	for i, cid := range p.CourseIDs {
		if _, err := r.q.Exec(ctx,
			`INSERT INTO path_courses (path_id, course_id, position) VALUES ($1, $2, $3)`,
			string(p.ID), string(cid), i+1,
		); err != nil {
			if IsForeignKeyViolation(err) {
				return shared.ErrCourseNotFound
			}
			return fmt.Errorf("failed to save path course: %w", mapError(err))
		}
	}
	return nil
}

// ListPaths returns every learning path with its ordered course ids.
func (r *CurriculumRepository) ListPaths(ctx context.Context) ([]*curriculum.LearningPath, error) {
	rows, err := r.q.Query(ctx, `
		SELECT p.id, p.title, p.title_fr, p.created_at, pc.course_id
		FROM learning_paths p
		LEFT JOIN path_courses pc ON pc.path_id = p.id
		ORDER BY p.created_at, p.id, pc.position`)
	if err != nil {
		return nil, fmt.Errorf("failed to list paths: %w", err)
	}
	defer rows.Close()

	out := make([]*curriculum.LearningPath, 0)
	byID := make(map[string]*curriculum.LearningPath)
	for rows.Next() {
		var (
			id, title, titleFr string
			createdAt          time.Time
			courseID           *string
		)
		if err := rows.Scan(&id, &title, &titleFr, &createdAt, &courseID); err != nil {
			return nil, err
		}
		p, ok := byID[id]
		if !ok {
			p = &curriculum.LearningPath{
				ID: shared.PathID(id), Title: title, TitleFr: titleFr,
				CourseIDs: []shared.CourseID{}, CreatedAt: createdAt.UTC(),
			}
			byID[id] = p
			out = append(out, p)
		}
		if courseID != nil {
			p.CourseIDs = append(p.CourseIDs, shared.CourseID(*courseID))
		}
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Enrollments
// ─────────────────────────────────────────────────────────────────────────────

// SaveEnrollment inserts or updates an enrollment.
func (r *CurriculumRepository) SaveEnrollment(ctx context.Context, e *curriculum.Enrollment) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO enrollments (user_id, course_id, enrolled_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, course_id) DO UPDATE SET enrolled_at = EXCLUDED.enrolled_at`,
		string(e.UserID), string(e.CourseID), e.EnrolledAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrCourseNotFound
		}
		return fmt.Errorf("failed to save enrollment: %w", mapError(err))
	}
	return nil
}

// GetEnrollment returns the enrollment of a learner in a course.
func (r *CurriculumRepository) GetEnrollment(ctx context.Context, userID shared.UserID, courseID shared.CourseID) (*curriculum.Enrollment, error) {
	var at time.Time
	err := r.q.QueryRow(ctx,
		`SELECT enrolled_at FROM enrollments WHERE user_id = $1 AND course_id = $2`,
		string(userID), string(courseID),
	).Scan(&at)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	return &curriculum.Enrollment{UserID: userID, CourseID: courseID, EnrolledAt: at.UTC()}, nil
}
