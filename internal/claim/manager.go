// Package claim implements the coordination protocol that turns at-least-once
// delivery into exactly-once processing: a transaction-scoped advisory lock
// resolves concurrent races, and a durable status row records completion
// across retries.
package claim

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/claimq/internal/domain"
	"github.com/you/claimq/internal/storage"
)

type Manager struct {
	store *storage.Store
	log   *zap.Logger
}

func NewManager(store *storage.Store, log *zap.Logger) *Manager {
	return &Manager{store: store, log: log}
}

// TryClaim establishes an exclusive, transaction-scoped claim on an event.
// It must run inside an open transaction; on nil return the caller holds the
// claim until that transaction commits or rolls back and may run its
// business logic.
//
// Returns *LockContentionError when a concurrent transaction holds the lock,
// *AlreadyCompletedError when the event was already processed and committed.
// Both are expected outcomes the caller branches on with errors.As; anything
// else is a storage failure that must roll back the enclosing transaction.
func (m *Manager) TryClaim(ctx context.Context, tx pgx.Tx, eventID string) error {
	if err := m.acquireLock(ctx, tx, eventID); err != nil {
		return err
	}

	status, found, err := m.store.GetStatus(ctx, tx, eventID)
	if err != nil {
		return err
	}

	switch {
	case found && status == domain.StatusCompleted:
		return &AlreadyCompletedError{EventID: eventID}
	case !found:
		m.log.Debug("event not seen before, inserting record", zap.String("event_id", eventID))
		if err := m.store.InsertProcessing(ctx, tx, eventID); err != nil {
			return err
		}
	default:
		// A PROCESSING row with a free lock means a previous attempt
		// crashed or rolled back after insert. Resume without re-inserting.
	}

	m.log.Info("claim established", zap.String("event_id", eventID))
	return nil
}

// MarkCompleted records that the event's work is done, inside the same
// transaction that claimed it. Must follow a successful TryClaim; an update
// that touches no row is a caller error, logged as anomalous but non-fatal.
func (m *Manager) MarkCompleted(ctx context.Context, tx pgx.Tx, eventID string) error {
	affected, err := m.store.SetCompleted(ctx, tx, eventID)
	if err != nil {
		return err
	}
	if affected == 0 {
		m.log.Warn("mark completed touched no row; was TryClaim called?",
			zap.String("event_id", eventID))
		return nil
	}
	m.log.Info("event marked completed", zap.String("event_id", eventID))
	return nil
}

// acquireLock attempts a non-blocking, transaction-scoped advisory lock on
// the key derived from the event id. The lock releases automatically when
// the transaction ends, so a crashed or rolled-back holder never leaks it.
func (m *Manager) acquireLock(ctx context.Context, tx pgx.Tx, eventID string) error {
	key := LockKey(eventID)
	m.log.Debug("attempting advisory lock",
		zap.String("event_id", eventID), zap.Int64("key", key))

	var ok bool
	if err := tx.QueryRow(ctx, `select pg_try_advisory_xact_lock($1)`, key).Scan(&ok); err != nil {
		return errors.Wrap(err, "advisory lock")
	}
	if !ok {
		return &LockContentionError{EventID: eventID}
	}
	return nil
}
