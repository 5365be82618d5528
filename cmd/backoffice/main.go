package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lumenmart/backoffice/internal/adminop"
	"github.com/lumenmart/backoffice/internal/app"
	"github.com/lumenmart/backoffice/internal/audit"
	audithttp "github.com/lumenmart/backoffice/internal/audit/http"
	jobmetrics "github.com/lumenmart/backoffice/internal/jobs"
	"github.com/lumenmart/backoffice/internal/observability"
	"github.com/lumenmart/backoffice/internal/platform/cache"
	"github.com/lumenmart/backoffice/internal/platform/db"
	"github.com/lumenmart/backoffice/internal/rbac"
	rbachttp "github.com/lumenmart/backoffice/internal/rbac/http"
	"github.com/lumenmart/backoffice/jobs"
)

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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 20})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}

	metrics := observability.NewMetrics()

	rbacRepo := rbac.NewRepository(dbpool)
	rbacMetrics := rbac.NewMetrics(metrics.Registerer())
	resolver := rbac.NewResolver(rbac.ResolverConfig{
		Catalog:          rbacRepo,
		Bindings:         rbacRepo,
		Users:            rbacRepo,
		SuperRoleCode:    cfg.AuthzSuperRole,
		StoreTimeout:     cfg.AuthzStoreTimeout,
		FetchConcurrency: cfg.AuthzFetchConcurrency,
		MaxEntries:       cfg.AuthzCacheEntries,
		Logger:           logger,
		Metrics:          rbacMetrics,
	})
	broadcaster := rbac.NewBroadcaster(redisClient, cfg.AuthzInvalidationChannel, resolver, logger)
	if err := broadcaster.Listen(ctx); err != nil {
		logger.Warn("rbac invalidation subscribe; remote binding changes need a restart to apply",
			slog.Any("error", err))
	}
	gate := rbac.NewGate(resolver, cfg.AuthzResolveTimeout, logger, rbacMetrics)
	rbacService := rbac.NewService(rbacRepo, resolver, broadcaster, logger)

	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	spillHost := cfg.SpillHost()
	auditRepo := audit.NewRepository(dbpool)
	spill := audit.NewFileSpill(cfg.AuditSpillPath)
	recorder := audit.NewRecorder(audit.RecorderConfig{
		Store:          auditRepo,
		Spill:          spill,
		Partition:      cfg.AuditPartition,
		BufferSize:     cfg.AuditBufferSize,
		EnqueueTimeout: cfg.AuditEnqueueTimeout,
		MaxAttempts:    cfg.AuditMaxAttempts,
		RetryBase:      cfg.AuditRetryBase,
		RetryCap:       cfg.AuditRetryCap,
		PersistTimeout: cfg.AuditPersistTimeout,
		Logger:         logger,
		Metrics:        audit.NewMetrics(metrics.Registerer()),
		OnAlert: func(a audit.Alert) {
			if !a.Spilled {
				return
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if _, err := jobClient.EnqueueSpillReplay(ctx, spillHost); err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
					logger.Warn("schedule spill replay", slog.Any("error", err))
				}
			}()
		},
	})
	if err := recorder.Start(ctx); err != nil {
		logger.Error("start audit recorder", slog.Any("error", err))
		os.Exit(1)
	}

	runner := adminop.NewRunner(gate, recorder, logger)
	auditService := audit.NewService(auditRepo)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		RBACMiddleware: rbac.Middleware{Gate: gate, Logger: logger},
		RBACHandler:    rbachttp.NewHandler(logger, rbacService, runner),
		AuditHandler:   audithttp.NewHandler(logger, auditService, audit.NewExporter()),
		JobHandler:     jobs.NewHandler(inspector, logger, jobs.QueueDefault, jobs.SpillQueue(spillHost)),
		Metrics:        metrics,
	})

	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	replayJob := jobs.NewSpillReplayJob(spillHost, spill, auditRepo, logger, jobMetrics)
	replayTask, err := jobs.NewSpillReplayTask(spillHost)
	if err != nil {
		logger.Error("build spill replay task", slog.Any("error", err))
		os.Exit(1)
	}
	spillWorker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: 1,
		Queues:      map[string]int{jobs.SpillQueue(spillHost): 1},
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuditSpillReplay, Handler: replayJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/5 * * * *", Task: replayTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init spill worker", slog.Any("error", err))
		os.Exit(1)
	}
	go func() {
		if err := spillWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("spill worker", slog.Any("error", err))
		}
	}()

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("audit_partition", recorder.Partition()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AppShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		logger.Error("audit recorder close", slog.Any("error", err))
	}
	stats := recorder.Stats()
	logger.Info("audit recorder drained",
		slog.Uint64("submitted", stats.Submitted),
		slog.Uint64("persisted", stats.Persisted),
		slog.Uint64("spilled", stats.Spilled))
}
