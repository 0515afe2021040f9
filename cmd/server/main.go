// Command server runs the Job Control API (spec.md §4.11) and, for a
// simple single-binary deployment, an embedded Task Consumer sharing its
// process so the in-memory Progress Tracker and Upload Progress Tracker
// (spec.md §5 "one writer per jobId, many readers") never need a
// cross-process channel. cmd/worker scales processing out separately
// when that's not enough.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/silencealoe/data-clean-tool/internal/api"
	"github.com/silencealoe/data-clean-tool/internal/config"
	"github.com/silencealoe/data-clean-tool/internal/jobs"
	"github.com/silencealoe/data-clean-tool/internal/obs/logger"
	"github.com/silencealoe/data-clean-tool/internal/persist"
	"github.com/silencealoe/data-clean-tool/internal/progress"
	"github.com/silencealoe/data-clean-tool/internal/queue"
	"github.com/silencealoe/data-clean-tool/internal/rules/engine"
	"github.com/silencealoe/data-clean-tool/internal/rules/store"
	"github.com/silencealoe/data-clean-tool/internal/rules/strategy"
	"github.com/silencealoe/data-clean-tool/internal/uploadprogress"
)

func main() {
	log := logger.With("cmd.server")

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
	poolCfg.HealthCheckPeriod = time.Minute
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
	reader := persist.NewReader(pool)
	tracker := progress.New()
	uploadTracker := uploadprogress.New()
	producer := jobs.NewProducer(q)

	if err := os.MkdirAll(cfg.Storage.UploadDir, 0o755); err != nil {
		log.Error("failed to create upload directory", "error", err.Error())
		os.Exit(1)
	}

	consumer := jobs.NewConsumer(jobs.ConsumerOptions{
		Queue:             q,
		Store:             ruleStore,
		Engine:            eng,
		Persister:         persister,
		Tracker:           tracker,
		Processor:         cfg.Processor,
		HeartbeatInterval: cfg.Queue.HeartbeatInterval,
		WorkerID:          "server-embedded",
	})
	go consumer.Run(ctx)
	go q.RunReclaimLoop(ctx, queue.DefaultReclaimInterval)
	go runGCLoop(ctx, tracker, uploadTracker)

	app := api.New(producer, persister, reader, q, ruleStore, tracker, uploadTracker, cfg.Storage.UploadDir, cfg.Server.MaxUploadBytes)
	fiberApp := app.Router()

	go func() {
		if err := fiberApp.Listen(":" + cfg.Server.Port); err != nil {
			log.Error("server stopped", "error", err.Error())
		}
	}()
	log.Info("data cleaning API listening", "port", cfg.Server.Port)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	cancel()
	_ = fiberApp.ShutdownWithTimeout(10 * time.Second)
}

func runGCLoop(ctx context.Context, tracker *progress.Tracker, uploadTracker *uploadprogress.Tracker) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			tracker.GC(now, 30*time.Minute)
			uploadTracker.GC(now)
		}
	}
}
