package claim

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/you/claimq/internal/domain"
	"github.com/you/claimq/internal/storage"
)

func openPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		t.Skip("DB_URL not set (integration test)")
	}
	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	const ddl = `
CREATE TABLE IF NOT EXISTS consumer_processed_events (
    event_id   text PRIMARY KEY,
    status     text NOT NULL CHECK (status IN ('PROCESSING', 'COMPLETED')),
    created_at timestamptz NOT NULL DEFAULT now(),
    updated_at timestamptz NOT NULL DEFAULT now()
);`
	if _, err := pool.Exec(context.Background(), ddl); err != nil {
		t.Fatal(err)
	}
	return pool
}

func newManager() *Manager {
	return NewManager(storage.New(), zap.NewNop())
}

func TestTryClaim_MutualExclusion(t *testing.T) {
	pool := openPool(t)
	mgr := newManager()
	ctx := context.Background()
	eventID := uuid.NewString()

	txA, err := pool.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer txA.Rollback(ctx) //nolint:errcheck

	if err := mgr.TryClaim(ctx, txA, eventID); err != nil {
		t.Fatalf("consumer A claim failed: %v", err)
	}

	txB, err := pool.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer txB.Rollback(ctx) //nolint:errcheck

	err = mgr.TryClaim(ctx, txB, eventID)
	var contended *LockContentionError
	if !errors.As(err, &contended) {
		t.Fatalf("consumer B expected LockContentionError while A holds the lock, got %v", err)
	}

	if err := mgr.MarkCompleted(ctx, txA, eventID); err != nil {
		t.Fatal(err)
	}
	if err := txA.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	// A committed, so B's next attempt must see finality, not a free lock.
	err = mgr.TryClaim(ctx, txB, eventID)
	var done *AlreadyCompletedError
	if !errors.As(err, &done) {
		t.Fatalf("consumer B expected AlreadyCompletedError after A committed, got %v", err)
	}
}

func TestTryClaim_RollbackReleasesClaim(t *testing.T) {
	pool := openPool(t)
	mgr := newManager()
	store := storage.New()
	ctx := context.Background()
	eventID := uuid.NewString()

	txA, err := pool.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.TryClaim(ctx, txA, eventID); err != nil {
		t.Fatalf("consumer A claim failed: %v", err)
	}
	// A fails mid-processing: rollback must release the lock and undo the row.
	if err := txA.Rollback(ctx); err != nil {
		t.Fatal(err)
	}

	txB, err := pool.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer txB.Rollback(ctx) //nolint:errcheck

	if err := mgr.TryClaim(ctx, txB, eventID); err != nil {
		t.Fatalf("consumer B claim after A's rollback failed: %v", err)
	}
	if err := mgr.MarkCompleted(ctx, txB, eventID); err != nil {
		t.Fatal(err)
	}
	if err := txB.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	st, found, err := store.GetStatus(ctx, pool, eventID)
	if err != nil {
		t.Fatal(err)
	}
	if !found || st != domain.StatusCompleted {
		t.Fatalf("final status = (%q, %v), want COMPLETED", st, found)
	}
}

func TestTryClaim_IdempotentWithinTransaction(t *testing.T) {
	pool := openPool(t)
	mgr := newManager()
	ctx := context.Background()
	eventID := uuid.NewString()

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := mgr.TryClaim(ctx, tx, eventID); err != nil {
		t.Fatal(err)
	}
	// Advisory xact locks are reentrant within the same session, and the
	// insert is conflict-safe, so a retry inside the same tx is a no-op.
	if err := mgr.TryClaim(ctx, tx, eventID); err != nil {
		t.Fatalf("second claim in same tx failed: %v", err)
	}

	var count int
	if err := tx.QueryRow(ctx,
		`select count(*) from consumer_processed_events where event_id = $1`,
		eventID).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 row, got %d", count)
	}
}

func TestTryClaim_RacingConsumers_ExactlyOneWins(t *testing.T) {
	pool := openPool(t)
	mgr := newManager()
	ctx := context.Background()
	eventID := uuid.NewString()

	const n = 4
	results := make(chan error, n)
	hold := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			tx, err := pool.Begin(ctx)
			if err != nil {
				results <- err
				return
			}
			defer tx.Rollback(ctx) //nolint:errcheck
			results <- mgr.TryClaim(ctx, tx, eventID)
			// Hold the transaction open until every racer has attempted.
			<-hold
		}()
	}

	var granted, contended int
	for i := 0; i < n; i++ {
		err := <-results
		var lc *LockContentionError
		switch {
		case err == nil:
			granted++
		case errors.As(err, &lc):
			contended++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	close(hold)
	wg.Wait()

	if granted != 1 || contended != n-1 {
		t.Fatalf("granted=%d contended=%d, want exactly 1 and %d", granted, contended, n-1)
	}
}

func TestConsumerRace_SlowHolderThenFinality(t *testing.T) {
	pool := openPool(t)
	mgr := newManager()
	ctx := context.Background()
	eventID := uuid.NewString()

	var wg sync.WaitGroup
	wg.Add(2)

	// Consumer A: claim, work for a while, complete, commit.
	go func() {
		defer wg.Done()
		tx, err := pool.Begin(ctx)
		if err != nil {
			t.Error(err)
			return
		}
		defer tx.Rollback(ctx) //nolint:errcheck
		if err := mgr.TryClaim(ctx, tx, eventID); err != nil {
			t.Errorf("consumer A: %v", err)
			return
		}
		time.Sleep(1 * time.Second)
		if err := mgr.MarkCompleted(ctx, tx, eventID); err != nil {
			t.Errorf("consumer A: %v", err)
			return
		}
		if err := tx.Commit(ctx); err != nil {
			t.Errorf("consumer A: %v", err)
		}
	}()

	// Consumer B: arrive mid-work, expect contention.
	go func() {
		defer wg.Done()
		time.Sleep(300 * time.Millisecond)
		tx, err := pool.Begin(ctx)
		if err != nil {
			t.Error(err)
			return
		}
		defer tx.Rollback(ctx) //nolint:errcheck
		err = mgr.TryClaim(ctx, tx, eventID)
		var lc *LockContentionError
		if !errors.As(err, &lc) {
			t.Errorf("consumer B expected LockContentionError, got %v", err)
		}
	}()

	wg.Wait()

	// Any consumer arriving after A's commit sees finality.
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	err = mgr.TryClaim(ctx, tx, eventID)
	var done *AlreadyCompletedError
	if !errors.As(err, &done) {
		t.Fatalf("late consumer expected AlreadyCompletedError, got %v", err)
	}
}
