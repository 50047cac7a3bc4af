// Package uow defines the transactional boundary shared by every storage
// backend. Multi-row writes and multi-query reads run inside Store.WithTx so
// they either apply entirely or not at all, and see one consistent snapshot.
package uow

import (
	"context"

	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/domain/progress"
)

// TxMode selects the isolation of a unit of work.
type TxMode int

const (
	// ReadWrite runs with snapshot isolation and may write.
	ReadWrite TxMode = iota
	// ReadSnapshot is read-only and sees a single snapshot for every query.
	ReadSnapshot
)

func (m TxMode) String() string {
	if m == ReadSnapshot {
		return "read_snapshot"
	}
	return "read_write"
}

// Repositories groups the repositories bound to one transaction.
type Repositories interface {
	Activities() activity.Repository
	Progress() progress.Repository
	Curriculum() curriculum.Repository
}

// Store is a storage backend. Its own repositories run outside any
// transaction; WithTx hands fn repositories bound to a fresh transaction
// which commits when fn returns nil and rolls back otherwise.
type Store interface {
	Repositories
	WithTx(ctx context.Context, mode TxMode, fn func(Repositories) error) error
	Ping(ctx context.Context) error
	Close() error
}
