package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/you/claimq/internal/domain"
)

// Querier is the subset of pgx operations the store needs. It is satisfied
// by both pgx.Tx and *pgxpool.Pool, so callers decide the transaction
// boundary; the store itself never begins or ends one.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ Querier = (pgx.Tx)(nil)
	_ Querier = (*pgxpool.Pool)(nil)
)

// Store is the passive persistence layer for the processed-events table.
// No claim logic lives here.
type Store struct{}

func New() *Store { return &Store{} }

// GetStatus returns the current status for an event id. found is false when
// the event has never been seen.
func (s *Store) GetStatus(ctx context.Context, q Querier, eventID string) (domain.Status, bool, error) {
	const sql = `select status from consumer_processed_events where event_id = $1`
	var st domain.Status
	err := q.QueryRow(ctx, sql, eventID).Scan(&st)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "get status")
	}
	return st, true, nil
}

// InsertProcessing records a new event in PROCESSING state. A duplicate
// insert is a silent no-op; created_at is set once and never touched again.
func (s *Store) InsertProcessing(ctx context.Context, q Querier, eventID string) error {
	const sql = `insert into consumer_processed_events (event_id, status)
values ($1, $2)
on conflict (event_id) do nothing`
	if _, err := q.Exec(ctx, sql, eventID, domain.StatusProcessing); err != nil {
		return errors.Wrap(err, "insert processing")
	}
	return nil
}

// SetCompleted flips the status to COMPLETED and refreshes updated_at.
// Returns the number of rows touched so the caller can spot a missing row.
func (s *Store) SetCompleted(ctx context.Context, q Querier, eventID string) (int64, error) {
	const sql = `update consumer_processed_events
set status = $2, updated_at = now()
where event_id = $1`
	tag, err := q.Exec(ctx, sql, eventID, domain.StatusCompleted)
	if err != nil {
		return 0, errors.Wrap(err, "set completed")
	}
	return tag.RowsAffected(), nil
}

// GetEvent returns the full row for status inspection.
func (s *Store) GetEvent(ctx context.Context, q Querier, eventID string) (domain.Event, error) {
	const sql = `select event_id, status, created_at, updated_at
from consumer_processed_events
where event_id = $1`
	var e domain.Event
	err := q.QueryRow(ctx, sql, eventID).Scan(&e.EventID, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err == pgx.ErrNoRows {
		return domain.Event{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Event{}, errors.Wrap(err, "get event")
	}
	return e, nil
}
