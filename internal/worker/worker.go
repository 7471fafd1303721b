package worker

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/claimq/internal/claim"
	"github.com/you/claimq/internal/domain"
)

// Handler is the business logic run under a granted claim. It receives the
// open transaction so its side effects commit or roll back together with
// the claim itself.
type Handler interface {
	Handle(ctx context.Context, tx pgx.Tx, env domain.Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, tx pgx.Tx, env domain.Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, tx pgx.Tx, env domain.Envelope) error {
	return f(ctx, tx, env)
}

type Claimer interface {
	TryClaim(ctx context.Context, tx pgx.Tx, eventID string) error
	MarkCompleted(ctx context.Context, tx pgx.Tx, eventID string) error
}

type TxRunner interface {
	Execute(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

type Source interface {
	Dequeue(ctx context.Context, block time.Duration) (domain.Envelope, bool, error)
	Enqueue(ctx context.Context, env domain.Envelope, runAt time.Time) error
	MoveDue(ctx context.Context, now int64, batch int64) error
}

type Config struct {
	Workers      int           // concurrent consume loops
	DequeueBlock time.Duration // BRPOP timeout per poll
	RetryDelay   time.Duration // deferral after contention or failure
	MoveInterval time.Duration // delay-mover tick
	MoveBatch    int64
}

func DefaultConfig() Config {
	return Config{
		Workers:      4,
		DequeueBlock: 2 * time.Second,
		RetryDelay:   5 * time.Second,
		MoveInterval: time.Second,
		MoveBatch:    200,
	}
}

type Worker struct {
	runner  TxRunner
	source  Source
	claims  Claimer
	handler Handler
	cfg     Config
	log     *zap.Logger
}

func New(runner TxRunner, source Source, claims Claimer, handler Handler, cfg Config, log *zap.Logger) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.DequeueBlock <= 0 {
		cfg.DequeueBlock = 2 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.MoveInterval <= 0 {
		cfg.MoveInterval = time.Second
	}
	if cfg.MoveBatch <= 0 {
		cfg.MoveBatch = 200
	}
	return &Worker{runner: runner, source: source, claims: claims, handler: handler, cfg: cfg, log: log}
}

// Run consumes until the context is canceled: cfg.Workers consume loops plus
// one mover promoting deferred envelopes back onto the ready list.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Workers; i++ {
		g.Go(func() error { return w.consumeLoop(ctx) })
	}
	g.Go(func() error { return w.moveLoop(ctx) })
	return g.Wait()
}

func (w *Worker) consumeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		env, ok, err := w.source.Dequeue(ctx, w.cfg.DequeueBlock)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("dequeue failed", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if err := w.processOne(ctx, env); err != nil {
			w.log.Error("requeue after failure failed",
				zap.String("event_id", env.ID), zap.Error(err))
		}
	}
}

// processOne runs one claim-and-handle attempt in its own transaction and
// resolves the outcome: a completed peer means drop, a contending peer means
// deferred redelivery, any other failure rolls back and is also redelivered.
// The returned error is only about redelivery itself going wrong.
func (w *Worker) processOne(ctx context.Context, env domain.Envelope) error {
	err := w.runner.Execute(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := w.claims.TryClaim(ctx, tx, env.ID); err != nil {
			return err
		}
		if err := w.handler.Handle(ctx, tx, env); err != nil {
			return err
		}
		return w.claims.MarkCompleted(ctx, tx, env.ID)
	})
	if err == nil {
		return nil
	}

	var done *claim.AlreadyCompletedError
	var contended *claim.LockContentionError
	switch {
	case errors.As(err, &done):
		w.log.Info("event already completed, dropping delivery",
			zap.String("event_id", env.ID))
		return nil
	case errors.As(err, &contended):
		w.log.Info("event held by a peer, deferring redelivery",
			zap.String("event_id", env.ID),
			zap.Duration("delay", w.cfg.RetryDelay))
	default:
		w.log.Error("processing failed, transaction rolled back",
			zap.String("event_id", env.ID), zap.Error(err))
	}
	return w.source.Enqueue(ctx, env, time.Now().UTC().Add(w.cfg.RetryDelay))
}

func (w *Worker) moveLoop(ctx context.Context) error {
	tick := time.NewTicker(w.cfg.MoveInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if err := w.source.MoveDue(ctx, time.Now().UTC().Unix(), w.cfg.MoveBatch); err != nil {
				w.log.Error("move due failed", zap.Error(err))
			}
		}
	}
}
