package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/potatospin/potatospin/internal/app"
	"github.com/potatospin/potatospin/internal/audit"
	jobmetrics "github.com/potatospin/potatospin/internal/jobs"
	"github.com/potatospin/potatospin/internal/platform/cache"
	"github.com/potatospin/potatospin/internal/platform/db"
	"github.com/potatospin/potatospin/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if cfg.PGDSN == "" || cfg.RedisAddr == "" {
		logger.Error("worker requires PG_DSN and REDIS_ADDR")
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 4, MaxConnIdleTime: 5 * time.Minute})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	ledgerCfg, err := cfg.Ledger()
	if err != nil {
		logger.Error("ledger config", slog.Any("error", err))
		os.Exit(1)
	}

	store := audit.NewPostgresStore(pool)
	metrics := jobmetrics.NewMetrics(nil)
	relay := audit.NewRelay(store, redisClient, cfg.AuditStream, cfg.RelayBatchSize, logger)
	relayJob := jobs.NewAuditRelayJob(relay, logger, metrics)
	integrityJob := jobs.NewSupplyIntegrityJob(store, ledgerCfg.MaxSupply, nil, logger, metrics)

	now := time.Now().UTC()
	relayTask, err := jobs.NewAuditRelayTask(now)
	if err != nil {
		logger.Error("build relay task", slog.Any("error", err))
		os.Exit(1)
	}
	integrityTask, err := jobs.NewLedgerIntegrityTask(now)
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{jobs.QueueDefault: 1},
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuditRelay, Handler: relayJob.Handle},
			{Type: jobs.TaskLedgerIntegrity, Handler: integrityJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.RelayInterval, Task: relayTask, Options: []asynq.Option{asynq.Unique(time.Minute)}},
			{Spec: cfg.IntegrityInterval, Task: integrityTask, Options: []asynq.Option{asynq.Unique(5 * time.Minute)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
