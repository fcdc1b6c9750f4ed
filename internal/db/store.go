package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store bundles the repositories behind one pool so it satisfies
// reconcile.Store and the handlers' subject store in a single value.
type Store struct {
	*SubjectRepository
	*PaymentRepository
	pool *pgxpool.Pool
}

// NewStore wires the repositories to pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		SubjectRepository: NewSubjectRepository(pool),
		PaymentRepository: NewPaymentRepository(pool, pool),
		pool:              pool,
	}
}

// Ping implements the health probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
