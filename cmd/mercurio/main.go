package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mercurio-pos/mercurio-pos/internal/app"
	"github.com/mercurio-pos/mercurio-pos/internal/inventory"
	"github.com/mercurio-pos/mercurio-pos/internal/observability"
	"github.com/mercurio-pos/mercurio-pos/internal/platform/cache"
	"github.com/mercurio-pos/mercurio-pos/internal/platform/db"
	"github.com/mercurio-pos/mercurio-pos/internal/rates"
	"github.com/mercurio-pos/mercurio-pos/internal/receivables"
	"github.com/mercurio-pos/mercurio-pos/internal/sales"
	"github.com/mercurio-pos/mercurio-pos/internal/shared"
	"github.com/mercurio-pos/mercurio-pos/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, cache invalidation disabled", slog.Any("error", err))
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	metrics := observability.NewMetrics()

	ratesService := rates.NewService(rates.NewRepository(pool), logger)
	ratesHandler := rates.NewHandler(logger, ratesService)

	inventoryService := inventory.NewService(inventory.NewRepository(pool), auditLogger,
		inventory.ServiceConfig{AllowNegativeStock: cfg.AllowNegativeStock})
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	receivablesService := receivables.NewService(receivables.NewRepository(pool), ratesService, auditLogger,
		receivables.ServiceConfig{ReferenceRequiredMethods: cfg.ReferenceMethods()}, logger)
	receivablesHandler := receivables.NewHandler(logger, receivablesService)

	var productCache *sales.ProductCache
	if redisClient != nil {
		productCache = sales.NewProductCache(redisClient, logger)
	}
	salesService := sales.NewService(sales.NewRepository(pool), inventoryService, receivablesService,
		productCache, metrics, logger)
	salesHandler := sales.NewHandler(logger, salesService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SalesHandler:       salesHandler,
		ReceivablesHandler: receivablesHandler,
		InventoryHandler:   inventoryHandler,
		RatesHandler:       ratesHandler,
		JobsHandler:        jobsHandler,
		Pool:               pool,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
