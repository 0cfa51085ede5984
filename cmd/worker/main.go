package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/forgeline/forgeline/internal/app"
	jobmetrics "github.com/forgeline/forgeline/internal/jobs"
	"github.com/forgeline/forgeline/internal/platform/db"
	"github.com/forgeline/forgeline/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: int32(cfg.WorkerConcurrency) + 1, ApplicationName: "forgeline-worker"})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	notifyJob := jobs.NewOrderNotificationJob(jobs.NewPGNotificationStore(pool), logger, jobmetrics.NewMetrics(nil))

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.RedisOptions().AsynqOpt(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskOrderStatusChanged, Handler: notifyJob.Handle},
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
