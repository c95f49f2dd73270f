package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mercurio-pos/mercurio-pos/internal/app"
	"github.com/mercurio-pos/mercurio-pos/internal/inventory"
	"github.com/mercurio-pos/mercurio-pos/internal/observability"
	"github.com/mercurio-pos/mercurio-pos/internal/platform/db"
	"github.com/mercurio-pos/mercurio-pos/internal/rates"
	"github.com/mercurio-pos/mercurio-pos/internal/receivables"
	"github.com/mercurio-pos/mercurio-pos/internal/sales"
	"github.com/mercurio-pos/mercurio-pos/internal/shared"
	"github.com/mercurio-pos/mercurio-pos/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)
	metrics := observability.NewMetrics()

	ratesService := rates.NewService(rates.NewRepository(pool), logger)
	inventoryService := inventory.NewService(inventory.NewRepository(pool), auditLogger,
		inventory.ServiceConfig{AllowNegativeStock: cfg.AllowNegativeStock})
	receivablesService := receivables.NewService(receivables.NewRepository(pool), ratesService, auditLogger,
		receivables.ServiceConfig{ReferenceRequiredMethods: cfg.ReferenceMethods()}, logger)
	salesService := sales.NewService(sales.NewRepository(pool), inventoryService, receivablesService,
		nil, metrics, logger)

	reconciler := jobs.NewReconciler(salesService, logger, cfg.ReconcileWindow, cfg.DefaultCreditDays)

	reconcileTask, err := jobs.NewSettlementReconcileTask(time.Now(), cfg.ReconcileWindow, 100)
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(7 * 24 * time.Hour)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSettlementReconcile, Handler: reconciler.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.NewIdempotencyCleanupHandler(idempotency)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "@every " + cfg.ReconcileInterval.String(), Task: reconcileTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
