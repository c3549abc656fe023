package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pawfinds/pawfinds-backend/internal/chain"
	"github.com/pawfinds/pawfinds-backend/internal/mailer"
	"github.com/pawfinds/pawfinds-backend/internal/worker"
	"github.com/pawfinds/pawfinds-backend/pkg/config"
	"github.com/pawfinds/pawfinds-backend/pkg/db"
	"github.com/pawfinds/pawfinds-backend/pkg/logger"
	"github.com/pawfinds/pawfinds-backend/pkg/metrics"
	"github.com/pawfinds/pawfinds-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": cfg.App.InstanceID,
	})

	m := metrics.New(prometheus.DefaultRegisterer)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	params := worker.ServiceParams{
		Config:  cfg,
		Logger:  logg,
		Metrics: m,
		DB:      dbClient,
		Redis:   redisClient,
		Mailer:  mailer.New(cfg.Mail, logg, m),
	}
	if cfg.Chain.Enabled {
		chainClient, err := chain.Dial(ctx, cfg.Chain, logg, m)
		requireResource(ctx, logg, "chain node", err)
		defer chainClient.Close()
		params.Chain = chainClient
	} else {
		logg.Warn(ctx, "chain disabled; watcher not started")
	}

	svc, err := worker.NewService(params)
	requireResource(ctx, logg, "worker service", err)

	logg.Info(ctx, "starting worker")
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(context.WithoutCancel(ctx), "worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
