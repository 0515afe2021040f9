// Command worker runs a standalone Task Consumer (spec.md §4.10) for
// scaling processing out beyond cmd/server's embedded consumer. Multiple
// instances of this binary may run concurrently against the same queue:
// lease ownership (spec.md §4.9 invariant) makes that safe.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/silencealoe/data-clean-tool/internal/config"
	"github.com/silencealoe/data-clean-tool/internal/jobs"
	"github.com/silencealoe/data-clean-tool/internal/obs/logger"
	"github.com/silencealoe/data-clean-tool/internal/persist"
	"github.com/silencealoe/data-clean-tool/internal/progress"
	"github.com/silencealoe/data-clean-tool/internal/queue"
	"github.com/silencealoe/data-clean-tool/internal/rules/engine"
	"github.com/silencealoe/data-clean-tool/internal/rules/store"
	"github.com/silencealoe/data-clean-tool/internal/rules/strategy"
)

func main() {
	log := logger.With("cmd.worker")

	cfg, err := config.Load(".env", os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Error("failed to load configuration", "error", err.Error())
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.URL)
	if err != nil {
		log.Error("invalid postgres url", "error", err.Error())
		os.Exit(1)
	}
	poolCfg.MaxConns = cfg.Postgres.MaxConns
	poolCfg.MinConns = cfg.Postgres.MinConns
	poolCfg.MaxConnLifetime = cfg.Postgres.ConnLifetime
	poolCfg.MaxConnIdleTime = cfg.Postgres.ConnIdleTime
	poolCfg.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error("failed to connect to postgres", "error", err.Error())
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	registry := strategy.NewDefaultRegistry()
	cache := strategy.NewResultCache(5*time.Minute, 10_000)
	eng := engine.New(registry, cache)

	ruleStore := store.New(registry, cfg.RuleConfig.Path)
	if err := ruleStore.Load(); err != nil {
		log.Error("failed to load rule configuration", "error", err.Error())
		os.Exit(1)
	}

	q := queue.New(rdb, queue.Config{
		TaskTimeout:      cfg.Queue.TaskTimeout,
		MaxRetryAttempts: cfg.Queue.MaxRetryAttempts,
		BaseBackoff:      cfg.Queue.BaseBackoff,
		MaxBackoff:       cfg.Queue.MaxBackoff,
	})
	persister := persist.New(pool, cfg.Queue.MaxRetryAttempts, cfg.Queue.BaseBackoff, cfg.Queue.MaxBackoff)
	tracker := progress.New()

	workerID := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
	consumer := jobs.NewConsumer(jobs.ConsumerOptions{
		Queue:             q,
		Store:             ruleStore,
		Engine:            eng,
		Persister:         persister,
		Tracker:           tracker,
		Processor:         cfg.Processor,
		HeartbeatInterval: cfg.Queue.HeartbeatInterval,
		WorkerID:          workerID,
	})

	go q.RunReclaimLoop(ctx, queue.DefaultReclaimInterval)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				tracker.GC(now, 30*time.Minute)
			}
		}
	}()

	log.Info("worker started", "workerId", workerID)
	go consumer.Run(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down", "workerId", workerID)
	cancel()
}
