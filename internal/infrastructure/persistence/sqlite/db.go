// Package sqlite implements the embedded storage backend on SQLite through
// sqlx. It backs local development and the test suites, and mirrors the
// PostgreSQL schema including the partial unique index on mandatory slots.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/progress"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
)

// Store implements uow.Store on a SQLite database.
type Store struct {
	db *sqlx.DB
	repos
}

type repos struct {
	activities *ActivityRepository
	progress   *ProgressRepository
	curriculum *CurriculumRepository
}

func newRepos(q sqlx.ExtContext) repos {
	return repos{
		activities: &ActivityRepository{q: q},
		progress:   &ProgressRepository{q: q},
		curriculum: &CurriculumRepository{q: q},
	}
}

func (r repos) Activities() activity.Repository   { return r.activities }
func (r repos) Progress() progress.Repository     { return r.progress }
func (r repos) Curriculum() curriculum.Repository { return r.curriculum }

// Open opens (creating when needed) the database file at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: failed to create data directory: %w", err)
		}
	}
	return open(ctx, fmt.Sprintf("file:%s?_foreign_keys=on&_txlock=immediate&_busy_timeout=5000", path))
}

// OpenMemory opens a private in-memory database. Each call gets its own
// database, so tests never share state.
func OpenMemory(ctx context.Context) (*Store, error) {
	return open(ctx, fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on&_txlock=immediate", uuid.NewString()))
}

func open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to connect: %w", err)
	}

	// A single connection serializes writers and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: schema statement %d: %w", i+1, err)
		}
	}

	return &Store{db: db, repos: newRepos(db)}, nil
}

// WithTx runs fn inside a transaction. SQLite transactions are serializable,
// so both modes see one snapshot.
func (s *Store) WithTx(ctx context.Context, _ uow.TxMode, fn func(uow.Repositories) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(newRepos(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("tx error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// Ping checks the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for tests and diagnostics.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

var _ uow.Store = (*Store)(nil)

// ═══════════════════════════════════════════════════════════════════════════
// Error helpers
// ═══════════════════════════════════════════════════════════════════════════

func sqliteCode(err error) sqlite3.ErrNoExtended {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode
	}
	return 0
}

// IsUniqueViolation checks if the error is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	code := sqliteCode(err)
	return code == sqlite3.ErrConstraintUnique || code == sqlite3.ErrConstraintPrimaryKey
}

// IsForeignKeyViolation checks if the error is a foreign key violation.
func IsForeignKeyViolation(err error) bool {
	return sqliteCode(err) == sqlite3.ErrConstraintForeignKey
}

// IsNoRows checks if the error is a "no rows" error.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// ═══════════════════════════════════════════════════════════════════════════
// Schema
// ═══════════════════════════════════════════════════════════════════════════

var schema = []string{
	`CREATE TABLE IF NOT EXISTS courses (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		title_fr TEXT NOT NULL DEFAULT '',
		drip_enabled BOOLEAN NOT NULL DEFAULT 0,
		drip_interval INTEGER NOT NULL DEFAULT 0,
		drip_unit TEXT NOT NULL DEFAULT 'days',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS modules (
		id TEXT PRIMARY KEY,
		course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		title_fr TEXT NOT NULL DEFAULT '',
		sort_order INTEGER NOT NULL DEFAULT 0,
		unlock_mode TEXT NOT NULL DEFAULT 'scheduled',
		available_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_modules_course ON modules(course_id, sort_order)`,
	`CREATE TABLE IF NOT EXISTS lessons (
		id TEXT PRIMARY KEY,
		module_id TEXT NOT NULL REFERENCES modules(id) ON DELETE CASCADE,
		course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		title_fr TEXT NOT NULL DEFAULT '',
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lessons_module ON lessons(module_id, sort_order)`,
	`CREATE TABLE IF NOT EXISTS learning_paths (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		title_fr TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS path_courses (
		path_id TEXT NOT NULL REFERENCES learning_paths(id) ON DELETE CASCADE,
		course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		PRIMARY KEY (path_id, course_id)
	)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		user_id TEXT NOT NULL,
		course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		enrolled_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, course_id)
	)`,
	`CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		lesson_id TEXT NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
		module_id TEXT NOT NULL,
		course_id TEXT NOT NULL,
		slot_index INTEGER NOT NULL CHECK (slot_index >= 1),
		slot_type TEXT NOT NULL,
		activity_type TEXT NOT NULL,
		title TEXT NOT NULL,
		title_fr TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		description_fr TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		content_fr TEXT NOT NULL DEFAULT '',
		content_json TEXT,
		content_json_fr TEXT,
		video_url TEXT NOT NULL DEFAULT '',
		video_provider TEXT NOT NULL DEFAULT '',
		audio_url TEXT NOT NULL DEFAULT '',
		download_url TEXT NOT NULL DEFAULT '',
		download_file_name TEXT NOT NULL DEFAULT '',
		embed_code TEXT NOT NULL DEFAULT '',
		thumbnail_url TEXT NOT NULL DEFAULT '',
		points INTEGER NOT NULL DEFAULT 0,
		estimated_minutes INTEGER NOT NULL DEFAULT 0,
		passing_score INTEGER,
		status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'published', 'archived')),
		is_mandatory BOOLEAN NOT NULL DEFAULT 0,
		is_preview BOOLEAN NOT NULL DEFAULT 0,
		unlock_mode TEXT NOT NULL DEFAULT 'immediate',
		available_at TIMESTAMP,
		prerequisite_activity_id TEXT,
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	// Archived activities release their mandatory slot.
	`DROP INDEX IF EXISTS uq_activities_mandatory_slot`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_activities_live_slot
		ON activities(lesson_id, slot_index) WHERE slot_index BETWEEN 1 AND 7 AND status <> 'archived'`,
	`CREATE INDEX IF NOT EXISTS idx_activities_lesson ON activities(lesson_id, slot_index, sort_order)`,
	`CREATE INDEX IF NOT EXISTS idx_activities_course ON activities(course_id)`,
	`CREATE TABLE IF NOT EXISTS activity_progress (
		id TEXT PRIMARY KEY,
		activity_id TEXT NOT NULL REFERENCES activities(id),
		user_id TEXT NOT NULL,
		lesson_id TEXT NOT NULL,
		course_id TEXT NOT NULL,
		status TEXT NOT NULL,
		score REAL,
		attempts INTEGER NOT NULL DEFAULT 0,
		time_spent_seconds INTEGER NOT NULL DEFAULT 0,
		completed_at TIMESTAMP,
		last_accessed_at TIMESTAMP NOT NULL,
		response_data TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (activity_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_progress_user_lesson ON activity_progress(user_id, lesson_id)`,
	`CREATE INDEX IF NOT EXISTS idx_progress_user_course ON activity_progress(user_id, course_id)`,
}
