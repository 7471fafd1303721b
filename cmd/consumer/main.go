package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/claimq/internal/claim"
	"github.com/you/claimq/internal/config"
	"github.com/you/claimq/internal/domain"
	"github.com/you/claimq/internal/queue"
	"github.com/you/claimq/internal/storage"
	"github.com/you/claimq/internal/uow"
	"github.com/you/claimq/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg.AppEnv)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate(cfg.PostgresDSN, cfg.MigrationsDir); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres connect failed", zap.Error(err))
	}
	defer pool.Close()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	store := storage.New()
	claims := claim.NewManager(store, logger)
	runner := uow.NewRunner(pool)
	q := queue.New(rdb)

	// Business logic stub: real consumers inject their own Handler so side
	// effects share the claiming transaction.
	handler := worker.HandlerFunc(func(ctx context.Context, tx pgx.Tx, env domain.Envelope) error {
		logger.Info("processing event",
			zap.String("event_id", env.ID),
			zap.Int("payload_bytes", len(env.Payload)))
		return nil
	})

	wcfg := worker.DefaultConfig()
	wcfg.Workers = cfg.Workers
	wcfg.RetryDelay = cfg.RetryDelay
	wcfg.MoveInterval = cfg.MoveInterval
	w := worker.New(runner, q, claims, handler, wcfg, logger)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router(pool, store, logger)}
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	logger.Info("consumer starting", zap.Int("workers", wcfg.Workers))
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	logger.Info("consumer stopped")
}

func newLogger(appEnv string) (*zap.Logger, error) {
	if appEnv == "prod" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func migrate(dsn, dir string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, dir)
}

func router(pool *pgxpool.Pool, store *storage.Store, logger *zap.Logger) http.Handler {
	rtr := chi.NewRouter()

	rtr.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := pool.Ping(req.Context()); err != nil {
			http.Error(w, "db unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	rtr.Get("/v1/events/{id}", func(w http.ResponseWriter, req *http.Request) {
		ev, err := store.GetEvent(req.Context(), pool, chi.URLParam(req, "id"))
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("event lookup failed", zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ev)
	})

	return rtr
}
