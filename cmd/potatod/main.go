package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/potatospin/potatospin/internal/app"
	"github.com/potatospin/potatospin/internal/audit"
	audithttp "github.com/potatospin/potatospin/internal/audit/http"
	"github.com/potatospin/potatospin/internal/auth"
	jobmetrics "github.com/potatospin/potatospin/internal/jobs"
	"github.com/potatospin/potatospin/internal/observability"
	"github.com/potatospin/potatospin/internal/platform/cache"
	"github.com/potatospin/potatospin/internal/platform/db"
	"github.com/potatospin/potatospin/internal/rbac"
	"github.com/potatospin/potatospin/internal/rewards"
	"github.com/potatospin/potatospin/internal/token"
	tokenhttp "github.com/potatospin/potatospin/internal/token/http"
	"github.com/potatospin/potatospin/jobs"
)

// auditStore is what the server needs from either audit backend.
type auditStore interface {
	audit.Store
	audit.Repository
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("potatod", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	var (
		store  auditStore
		claims rewards.ClaimStore = rewards.NewMemoryClaims()
		pool   *pgxpool.Pool
	)
	if cfg.PGDSN != "" {
		var err error
		pool, err = db.New(ctx, cfg.PGDSN, db.Options{})
		if err != nil {
			return err
		}
		defer pool.Close()
		pg := audit.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		pgClaims := rewards.NewPostgresClaims(pool)
		if err := pgClaims.EnsureSchema(ctx); err != nil {
			return err
		}
		store, claims = pg, pgClaims
	} else {
		file, err := audit.OpenFileSink(cfg.AuditFile)
		if err != nil {
			return err
		}
		defer file.Close()
		logger.Warn("PG_DSN not set, audit log kept in a local file", slog.String("path", file.Path()))
		store = file
	}

	ledgerCfg, err := cfg.Ledger()
	if err != nil {
		return err
	}
	owner, err := cfg.Owner()
	if err != nil {
		return err
	}
	initial, err := cfg.InitialSupply()
	if err != nil {
		return err
	}
	tok, deployed, err := token.Open(ctx, token.Params{
		Config:        ledgerCfg,
		Owner:         owner,
		InitialSupply: initial,
		Sink:          store,
		Observer:      metrics,
		Logger:        logger,
	}, store)
	if err != nil {
		return err
	}
	if deployed {
		logger.Info("fresh token deployed", slog.String("owner", owner.String()))
	}

	var (
		redisClient *redis.Client
		nonces      auth.NonceStore = auth.NewMemoryNonceStore()
	)
	if cfg.RedisAddr != "" {
		redisClient, err = cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		nonces = auth.NewRedisNonceStore(redisClient, "")
	} else {
		logger.Warn("REDIS_ADDR not set, replay guard is per process and jobs are disabled")
	}

	issuers, err := buildIssuers(cfg, tok, claims, logger)
	if err != nil {
		return err
	}

	var (
		jobHandler *jobs.Handler
		worker     *jobs.Worker
	)
	if redisClient != nil {
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		jobClient, err := jobs.NewClient(redisOpts)
		if err != nil {
			return err
		}
		defer jobClient.Close()
		inspector := asynq.NewInspector(redisOpts)
		defer inspector.Close()
		jobHandler = jobs.NewHandler(inspector, jobClient, logger)

		grants := jobs.NewRewardGrantJob(issuers, logger, jobMetrics)
		worker, err = jobs.NewWorker(jobs.WorkerConfig{
			RedisOpts:   redisOpts,
			Logger:      logger,
			Concurrency: cfg.WorkerConcurrency,
			Queues:      map[string]int{jobs.QueueRewards: 1},
			Handlers:    []jobs.TaskHandler{{Type: jobs.TaskRewardGrant, Handler: grants.Handle}},
		})
		if err != nil {
			return err
		}
	}

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Verifier:       auth.NewVerifier(nonces, cfg.AuthMaxSkew, logger),
		TokenHandler:   tokenhttp.NewHandler(logger, tok),
		AuditHandler:   audithttp.NewHandler(logger, audit.NewService(store)),
		JobHandler:     jobHandler,
		RBACMiddleware: rbac.Middleware{Registry: tok.Roles, Logger: logger},
		Metrics:        metrics,
		Ready: func(r *http.Request) error {
			if pool != nil {
				if err := pool.Ping(r.Context()); err != nil {
					return fmt.Errorf("postgres: %w", err)
				}
			}
			if redisClient != nil {
				if err := redisClient.Ping(r.Context()).Err(); err != nil {
					return fmt.Errorf("redis: %w", err)
				}
			}
			return nil
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if worker != nil {
		g.Go(func() error {
			return worker.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func buildIssuers(cfg *app.Config, tok *token.Token, claims rewards.ClaimStore, logger *slog.Logger) (rewards.Issuers, error) {
	identities, err := cfg.Issuers()
	if err != nil {
		return nil, err
	}
	issuers := make(rewards.Issuers, len(identities))
	for kind, id := range identities {
		iss, err := rewards.NewIssuer(kind, id, tok.As(id), claims, rewards.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("issuer %s: %w", kind, err)
		}
		issuers[kind] = iss
	}
	return issuers, nil
}
