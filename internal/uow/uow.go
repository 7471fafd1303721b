// Package uow binds one claim-and-process sequence to one database
// transaction: commit on success, rollback on failure, with the advisory
// lock released either way.
package uow

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Unit is a single open transaction with explicit commit/rollback control,
// for callers that don't fit the scoped Runner.Execute form.
type Unit struct {
	tx pgx.Tx
}

func Begin(ctx context.Context, pool *pgxpool.Pool) (*Unit, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Unit{tx: tx}, nil
}

// Tx exposes the underlying transaction for store and claim operations.
func (u *Unit) Tx() pgx.Tx { return u.tx }

func (u *Unit) Commit(ctx context.Context) error   { return u.tx.Commit(ctx) }
func (u *Unit) Rollback(ctx context.Context) error { return u.tx.Rollback(ctx) }

// Runner runs functions inside scoped transactions against one pool.
type Runner struct {
	pool *pgxpool.Pool
}

func NewRunner(pool *pgxpool.Pool) *Runner { return &Runner{pool: pool} }

// Execute begins a transaction, runs fn, and commits if fn returns nil or
// rolls back if it doesn't. The error fn returned is propagated unchanged;
// if the rollback itself also fails, that failure is joined onto it rather
// than swallowed or substituted. A commit failure is returned as-is.
//
// The deferred rollback backstops panics inside fn; after a completed
// commit or rollback it reports pgx.ErrTxClosed, which is not an error here.
func (r *Runner) Execute(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}
