package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/progress"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
	"github.com/lingua-coach/curriculum-engine/internal/domain/uow"
)

// Store implements uow.Store on a PostgreSQL pool.
type Store struct {
	conn *Connection
	repos
}

type repos struct {
	activities *ActivityRepository
	progress   *ProgressRepository
	curriculum *CurriculumRepository
}

func newRepos(q Querier) repos {
	return repos{
		activities: NewActivityRepository(q),
		progress:   NewProgressRepository(q),
		curriculum: NewCurriculumRepository(q),
	}
}

func (r repos) Activities() activity.Repository   { return r.activities }
func (r repos) Progress() progress.Repository     { return r.progress }
func (r repos) Curriculum() curriculum.Repository { return r.curriculum }

// NewStore wraps a connection.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn, repos: newRepos(conn)}
}

// WithTx runs fn inside a snapshot transaction. A lost write race surfaces
// as shared.ErrConcurrentModification; the caller decides whether to retry.
func (s *Store) WithTx(ctx context.Context, mode uow.TxMode, fn func(uow.Repositories) error) error {
	opts := DefaultTxOptions()
	if mode == uow.ReadSnapshot {
		opts = SnapshotTxOptions()
	}

	err := s.conn.WithTx(ctx, opts, func(tx pgx.Tx) error {
		return fn(newRepos(tx))
	})
	if err != nil && IsSerializationFailure(err) && !errors.Is(err, shared.ErrConcurrentModification) {
		return mapError(err)
	}
	return err
}

// Ping checks the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	s.conn.Close()
	return nil
}

// Connection exposes the pool for migrations and health reporting.
func (s *Store) Connection() *Connection {
	return s.conn
}

var _ uow.Store = (*Store)(nil)
