package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/digistore-backend/internal/audit"
	"github.com/angelmondragon/digistore-backend/internal/cron"
	"github.com/angelmondragon/digistore-backend/internal/notifications"
	"github.com/angelmondragon/digistore-backend/internal/orders"
	"github.com/angelmondragon/digistore-backend/pkg/config"
	"github.com/angelmondragon/digistore-backend/pkg/db"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
	"github.com/angelmondragon/digistore-backend/pkg/metrics"
	"github.com/angelmondragon/digistore-backend/pkg/migrate"
	"github.com/angelmondragon/digistore-backend/pkg/outbox"
	"github.com/angelmondragon/digistore-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.OnBoot(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outboxRepo := outbox.NewRepository(dbClient.DB())
	notifier, err := notifications.NewDispatcher(notifications.DispatcherParams{
		Outbox:   outbox.NewService(outboxRepo, logg),
		DB:       dbClient,
		Logger:   logg,
		QueueLen: cfg.Eventing.NotificationQueueLen,
		Workers:  cfg.Eventing.NotificationWorkers,
	})
	if err != nil {
		logg.Error(ctx, "failed to create notification dispatcher", err)
		os.Exit(1)
	}
	notifier.Start(ctx)
	defer notifier.Close()

	sink, err := audit.NewSink(audit.NewRepository(dbClient.DB()), notifier, logg)
	if err != nil {
		logg.Error(ctx, "failed to create audit sink", err)
		os.Exit(1)
	}

	expiryJob, err := cron.NewSessionExpiryJob(cron.SessionExpiryJobParams{
		Logger:    logg,
		Orders:    orders.NewRepository(dbClient.DB()),
		Sink:      sink,
		Grace:     cfg.Cron.SessionExpiryGrace,
		BatchSize: cfg.Cron.ExpiryBatchSize,
	})
	if err != nil {
		logg.Error(ctx, "failed to create session expiry job", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Events:      outboxRepo,
		DeadLetters: outbox.NewDLQRepository(dbClient.DB()),
		Retention:   days(cfg.Outbox.RetentionDays),
		DLQ:         days(cfg.Outbox.DLQRetentionDays),
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		logg.Error(ctx, "failed to create outbox retention job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker", lockEnv(cfg.App.Env)), 0)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	if err := registry.Register(expiryJob); err != nil {
		logg.Error(ctx, "failed to register session expiry job", err)
		os.Exit(1)
	}
	if err := registry.RegisterEvery(retentionJob, cfg.Cron.RetentionEvery); err != nil {
		logg.Error(ctx, "failed to register outbox retention job", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metricsCollector,
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockEnv(env string) string {
	if env == "" {
		return "local"
	}
	return env
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
