package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/garuda-mes/garuda-mes/internal/app"
	"github.com/garuda-mes/garuda-mes/internal/bom"
	"github.com/garuda-mes/garuda-mes/internal/deliverynote"
	"github.com/garuda-mes/garuda-mes/internal/platform/cache"
	"github.com/garuda-mes/garuda-mes/internal/platform/db"
	"github.com/garuda-mes/garuda-mes/internal/shared"
	"github.com/garuda-mes/garuda-mes/internal/stock"
	"github.com/garuda-mes/garuda-mes/internal/workorder"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.DB())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	approvals := shared.NewApprovalRecorder(pool, logger)
	auditLog := shared.NewAuditLogger(pool)
	actors := shared.NewActorResolver(cfg.DefaultActorID)
	idem := shared.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL)

	bomRepo := bom.NewRepository(pool)
	adjuster := stock.NewAdjuster()

	workOrderRepo := workorder.NewRepository(pool)
	workOrderService := workorder.NewService(workOrderRepo, bomRepo, adjuster, approvals, auditLog, actors, idem, logger)
	workOrderHandler := workorder.NewHandler(logger, workOrderService)

	noteRepo := deliverynote.NewRepository(pool)
	noteService := deliverynote.NewService(noteRepo, approvals, auditLog, workOrderService, actors, idem, logger)
	noteHandler := deliverynote.NewHandler(logger, noteService)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		WorkOrderHandler:    workOrderHandler,
		DeliveryNoteHandler: noteHandler,
		Pool:                pool,
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
