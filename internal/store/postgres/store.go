// Package postgres implements store.Store on pgx. Counters are changed with
// single conditional UPDATE statements so concurrent bookings cannot oversell.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tripnest/backend/internal/store"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is a connection that can open transactions. *pgxpool.Pool satisfies it.
type Pool interface {
	dbtx
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store runs queries against the pool, or against one transaction when
// obtained through WithTx.
type Store struct {
	pool Pool
	db   dbtx
}

var _ store.Store = (*Store)(nil)

// New creates a Store backed by pool.
func New(pool Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// WithTx runs fn inside a transaction, committing when fn returns nil.
// Nested calls reuse the open transaction.
func (s *Store) WithTx(ctx context.Context, fn func(q store.Queries) error) (err error) {
	if s.pool == nil {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if err = fn(&Store{db: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// notFound maps pgx.ErrNoRows to store.ErrNotFound and wraps anything else.
func notFound(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
