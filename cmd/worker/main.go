package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/garuda-mes/garuda-mes/internal/app"
	"github.com/garuda-mes/garuda-mes/internal/bom"
	"github.com/garuda-mes/garuda-mes/internal/platform/db"
	"github.com/garuda-mes/garuda-mes/internal/shared"
	"github.com/garuda-mes/garuda-mes/internal/stock"
	"github.com/garuda-mes/garuda-mes/internal/workorder"
	"github.com/garuda-mes/garuda-mes/jobs"
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

	approvals := shared.NewApprovalRecorder(pool, logger)
	auditLog := shared.NewAuditLogger(pool)
	actors := shared.NewActorResolver(cfg.DefaultActorID)

	bomRepo := bom.NewRepository(pool)
	workOrderRepo := workorder.NewRepository(pool)
	workOrderService := workorder.NewService(workOrderRepo, bomRepo, stock.NewAdjuster(), approvals, auditLog, actors, nil, logger)

	sweepJob := jobs.NewCompletionSweepJob(workOrderService, logger)

	var cron []jobs.CronRegistration
	if cfg.CompletionSweepCron != "" {
		sweepTask, err := jobs.NewCompletionSweepTask(cfg.DefaultActorID)
		if err != nil {
			logger.Error("build sweep task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{
			Spec:    cfg.CompletionSweepCron,
			Task:    sweepTask,
			Options: []asynq.Option{asynq.MaxRetry(3)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCompletionSweep, Handler: sweepJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
