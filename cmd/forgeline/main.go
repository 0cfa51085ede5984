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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/forgeline/forgeline/internal/app"
	"github.com/forgeline/forgeline/internal/catalog"
	"github.com/forgeline/forgeline/internal/observability"
	"github.com/forgeline/forgeline/internal/orders"
	"github.com/forgeline/forgeline/internal/platform/cache"
	"github.com/forgeline/forgeline/internal/platform/db"
	"github.com/forgeline/forgeline/internal/pricing"
	"github.com/forgeline/forgeline/internal/shared"
	"github.com/forgeline/forgeline/internal/stock"
	"github.com/forgeline/forgeline/internal/users"
	"github.com/forgeline/forgeline/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	if err := run(); err != nil {
		slog.Default().Error("forgeline stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, ApplicationName: "forgeline-api"})
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	queue := jobs.NewClient(cfg.RedisOptions().AsynqOpt())
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(cfg.RedisOptions().AsynqOpt())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router, err := buildRouter(cfg, logger, pool, redisClient, queue, inspector)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func buildRouter(cfg *app.Config, logger *slog.Logger, pool *pgxpool.Pool, redisClient *redis.Client, queue *jobs.Client, inspector *asynq.Inspector) (http.Handler, error) {
	rules, err := cfg.ShippingRules()
	if err != nil {
		return nil, err
	}
	numbers, err := orders.NewAllocator(cfg.OrderNumberPrefix)
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics()
	orderMetrics := observability.NewOrderMetrics(metrics.Registerer())

	orderService := orders.NewService(
		orders.NewRepository(pool),
		pricing.NewCalculator(rules),
		numbers,
		stock.NewService(logger),
		logger,
		orders.WithNotifier(queue),
		orders.WithMetrics(orderMetrics),
		orders.WithIdempotency(shared.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL).WithPendingTTL(cfg.IdempotencyPendingTTL)),
	)
	catalogService := catalog.NewService(catalog.NewRepository(pool), logger)
	userService := users.NewService(users.NewRepository(pool), logger)

	return app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Metrics:        metrics,
		OrdersHandler:  orders.NewHandler(logger, orderService),
		CatalogHandler: catalog.NewHandler(logger, catalogService),
		UsersHandler:   users.NewHandler(logger, userService),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Checks: map[string]app.Pinger{
			"postgres": pool,
			"redis": app.PingFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		},
	}), nil
}
