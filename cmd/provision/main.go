package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5"

	"github.com/lumenmart/backoffice/internal/app"
	"github.com/lumenmart/backoffice/internal/platform/cache"
	"github.com/lumenmart/backoffice/internal/platform/db"
	"github.com/lumenmart/backoffice/internal/rbac"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping provisioning")
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

	path := flag.String("catalog", cfg.CatalogPath, "path to the permission catalog YAML")
	dryRun := flag.Bool("dry-run", false, "validate the catalog without writing")
	flag.Parse()

	file, err := rbac.LoadCatalogFile(*path)
	if err != nil {
		logger.Error("load catalog", slog.String("path", *path), slog.Any("error", err))
		os.Exit(1)
	}
	if *dryRun {
		logger.Info("catalog valid",
			slog.Int("permissions", len(file.Permissions)),
			slog.Int("roles", len(file.Roles)))
		return
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var report rbac.ProvisionReport
	err = db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		var perr error
		report, perr = rbac.Provision(ctx, rbac.NewRepository(tx), file, nil)
		return perr
	})
	if err != nil {
		logger.Error("provision catalog", slog.Any("error", err))
		os.Exit(1)
	}

	// Running servers drop their caches once the transaction is visible.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable; running servers keep cached permissions until their next binding change",
			slog.Any("error", err))
	} else {
		rbac.NewBroadcaster(redisClient, cfg.AuthzInvalidationChannel, rbac.NoopInvalidator{}, logger).Invalidate()
	}
	_ = redisClient.Close()

	logger.Info("catalog provisioned",
		slog.Int("permissions", report.Permissions),
		slog.Int("roles", report.Roles),
		slog.Int("bindings_created", report.BindingsCreated),
		slog.Int("bindings_kept", report.BindingsKept))
}
