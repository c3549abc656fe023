package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/pawfinds/pawfinds-backend/api"
	"github.com/pawfinds/pawfinds-backend/api/routes"
	"github.com/pawfinds/pawfinds-backend/internal/adminauth"
	"github.com/pawfinds/pawfinds-backend/internal/chain"
	"github.com/pawfinds/pawfinds-backend/internal/chainrecords"
	"github.com/pawfinds/pawfinds-backend/internal/listings"
	"github.com/pawfinds/pawfinds-backend/internal/mailer"
	"github.com/pawfinds/pawfinds-backend/internal/uploads"
	"github.com/pawfinds/pawfinds-backend/internal/worker"
	"github.com/pawfinds/pawfinds-backend/pkg/config"
	"github.com/pawfinds/pawfinds-backend/pkg/db"
	"github.com/pawfinds/pawfinds-backend/pkg/logger"
	"github.com/pawfinds/pawfinds-backend/pkg/metrics"
	"github.com/pawfinds/pawfinds-backend/pkg/migrate"
	"github.com/pawfinds/pawfinds-backend/pkg/outbox"
	"github.com/pawfinds/pawfinds-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("run dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	images, err := uploads.NewLocalStore(cfg.Uploads)
	if err != nil {
		return fmt.Errorf("prepare uploads dir: %w", err)
	}

	var chainClient *chain.Client
	if cfg.Chain.Enabled {
		chainClient, err = chain.Dial(ctx, cfg.Chain, logg, m)
		if err != nil {
			return fmt.Errorf("dial chain node: %w", err)
		}
		defer chainClient.Close()
	} else {
		logg.Warn(ctx, "chain disabled; decisions will not be recorded on chain")
	}

	authService, err := adminauth.NewService(cfg.Admin, cfg.JWT)
	if err != nil {
		return fmt.Errorf("create admin auth service: %w", err)
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	listingService, err := listings.NewService(
		listings.NewRepository(dbClient.DB()),
		dbClient,
		outbox.NewService(outboxRepo, logg),
		images,
		chainrecords.NewRepository(dbClient.DB()),
		logg,
		m,
	)
	if err != nil {
		return fmt.Errorf("create listings service: %w", err)
	}

	var chainPinger db.Pinger
	if chainClient != nil {
		chainPinger = chainClient
	}

	addr := ":" + cfg.App.Port
	handler := routes.NewRouter(cfg, logg, m, reg, dbClient, redisClient, chainPinger, images, authService, listingService, outbox.NewDLQRepository(dbClient.DB()))
	server := api.NewServer(cfg, addr, handler)

	logCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": cfg.App.InstanceID,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logg.Info(logCtx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(logCtx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		logg.Info(shutdownCtx, "shutting down api server")
		return server.Shutdown(shutdownCtx)
	})

	if cfg.FeatureFlags.EmbeddedWorker {
		params := worker.ServiceParams{
			Config:  cfg,
			Logger:  logg,
			Metrics: m,
			DB:      dbClient,
			Redis:   redisClient,
			Mailer:  mailer.New(cfg.Mail, logg, m),
		}
		if chainClient != nil {
			params.Chain = chainClient
		}
		svc, err := worker.NewService(params)
		if err != nil {
			return fmt.Errorf("create embedded worker: %w", err)
		}
		g.Go(func() error {
			logg.Info(logCtx, "starting embedded worker")
			if err := svc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("embedded worker: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}
