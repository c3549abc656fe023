// Package worker assembles the background components: the outbox dispatcher
// and the chain watcher. cmd/worker runs it standalone; cmd/api can embed it.
package worker

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/pawfinds/pawfinds-backend/internal/chain"
	"github.com/pawfinds/pawfinds-backend/internal/chainrecords"
	"github.com/pawfinds/pawfinds-backend/internal/dispatcher"
	"github.com/pawfinds/pawfinds-backend/internal/mailer"
	"github.com/pawfinds/pawfinds-backend/internal/watcher"
	"github.com/pawfinds/pawfinds-backend/pkg/config"
	"github.com/pawfinds/pawfinds-backend/pkg/db"
	"github.com/pawfinds/pawfinds-backend/pkg/lock"
	"github.com/pawfinds/pawfinds-backend/pkg/logger"
	"github.com/pawfinds/pawfinds-backend/pkg/metrics"
	"github.com/pawfinds/pawfinds-backend/pkg/outbox"
	"github.com/pawfinds/pawfinds-backend/pkg/outbox/idempotency"
	"github.com/pawfinds/pawfinds-backend/pkg/outbox/registry"
	"github.com/pawfinds/pawfinds-backend/pkg/redis"
)

const dispatcherLockName = "outbox-dispatcher"

type ServiceParams struct {
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *metrics.Metrics
	DB      *db.Client
	Redis   *redis.Client
	Mailer  mailer.Sender
	// Chain is nil when chain writes are disabled. The watcher is then not
	// started and decisions are only mailed.
	Chain *chain.Client
}

type component struct {
	name string
	run  func(context.Context) error
}

// Service supervises the background components. The first component to
// fail cancels the others.
type Service struct {
	logg       *logger.Logger
	components []component
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.Mailer == nil {
		return nil, errors.New("mailer is required")
	}
	cfg := params.Config

	records := chainrecords.NewRepository(params.DB.DB())
	claims, err := idempotency.NewManager(params.Redis, cfg.Eventing.IdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("idempotency manager: %w", err)
	}

	handlerParams := dispatcher.HandlerParams{
		Logger:  params.Logger,
		Mailer:  params.Mailer,
		Claims:  claims,
		Records: records,
	}
	if params.Chain != nil {
		handlerParams.Chain = params.Chain
	}
	handlers, err := dispatcher.NewHandlers(handlerParams)
	if err != nil {
		return nil, fmt.Errorf("dispatcher handlers: %w", err)
	}

	dispatchLock, err := lock.NewRedisLock(params.Redis, params.Redis.LockKey(dispatcherLockName), cfg.Eventing.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("dispatcher lock: %w", err)
	}
	dispatch, err := dispatcher.NewService(dispatcher.ServiceParams{
		Config:     cfg.Outbox,
		Logger:     params.Logger,
		Metrics:    params.Metrics,
		DB:         params.DB,
		Repository: outbox.NewRepository(params.DB.DB()),
		DLQ:        outbox.NewDLQRepository(params.DB.DB()),
		Registry:   registry.NewEventRegistry(),
		Handlers:   handlers.Map(),
		Lock:       dispatchLock,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox dispatcher: %w", err)
	}

	svc := &Service{
		logg:       params.Logger,
		components: []component{{name: "outbox_dispatcher", run: dispatch.Run}},
	}

	if params.Chain == nil {
		return svc, nil
	}
	watchLock, err := lock.NewRedisLock(params.Redis, params.Redis.LockKey(watcher.CursorName), cfg.Eventing.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("watcher lock: %w", err)
	}
	watch, err := watcher.New(watcher.Params{
		Config:    cfg.Chain,
		Logger:    params.Logger,
		Metrics:   params.Metrics,
		Chain:     params.Chain,
		Events:    records,
		Cursor:    params.Redis,
		CursorKey: params.Redis.CursorKey(watcher.CursorName),
		Lock:      watchLock,
	})
	if err != nil {
		return nil, fmt.Errorf("chain watcher: %w", err)
	}
	svc.components = append(svc.components, component{name: "chain_watcher", run: watch.Run})
	return svc, nil
}

// Run blocks until ctx is canceled or a component fails.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range s.components {
		c := c
		g.Go(func() error {
			err := c.run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(s.logg.WithField(gctx, "component", c.name), "worker component stopped", err)
				return fmt.Errorf("%s: %w", c.name, err)
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		return ctx.Err()
	}
	return err
}
