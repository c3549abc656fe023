// Package dispatcher drains the outbox: it resolves each due event, runs the
// side effects registered for its type and records the outcome.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pawfinds/pawfinds-backend/pkg/config"
	"github.com/pawfinds/pawfinds-backend/pkg/db/models"
	"github.com/pawfinds/pawfinds-backend/pkg/enums"
	"github.com/pawfinds/pawfinds-backend/pkg/lock"
	"github.com/pawfinds/pawfinds-backend/pkg/logger"
	"github.com/pawfinds/pawfinds-backend/pkg/metrics"
	"github.com/pawfinds/pawfinds-backend/pkg/outbox"
	"github.com/pawfinds/pawfinds-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize   = 20
	defaultPollMs      = 1000
	defaultMaxAttempts = 8
	defaultRetryBase   = 2 * time.Second
	defaultRetryMax    = 5 * time.Minute
	defaultLease       = 5 * time.Minute
	maxBackoff         = 10 * time.Second
	jitterWindow       = 250 * time.Millisecond
)

var (
	jitterMu     sync.Mutex
	jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	FetchDueTx(tx *gorm.DB, limit, maxAttempts int, now time.Time) ([]models.OutboxEvent, error)
	LeaseTx(tx *gorm.DB, ids []uuid.UUID, until time.Time) error
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkRetryTx(tx *gorm.DB, id uuid.UUID, cause error, nextAttemptAt time.Time) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, cause error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// HandlerFunc performs the side effects of one resolved outbox event.
type HandlerFunc func(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error

type ServiceParams struct {
	Config     config.OutboxConfig
	Logger     *logger.Logger
	Metrics    *metrics.Metrics
	DB         dbClient
	Repository outboxRepository
	DLQ        dlqRepository
	Registry   registryResolver
	Handlers   map[enums.OutboxEventType]HandlerFunc
	// Lock keeps a single dispatcher active per deployment. Nil means no
	// cross-process coordination.
	Lock lock.Lock
	// Lease is how long a claimed row stays invisible to other fetches.
	Lease time.Duration
}

type Service struct {
	logg         *logger.Logger
	metrics      *metrics.Metrics
	db           dbClient
	repo         outboxRepository
	dlq          dlqRepository
	registry     registryResolver
	handlers     map[enums.OutboxEventType]HandlerFunc
	leader       *lock.Leader
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	retryBase    time.Duration
	retryMax     time.Duration
	lease        time.Duration
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.DLQ == nil {
		return nil, errors.New("dlq repository is required")
	}
	if params.Registry == nil {
		return nil, errors.New("event registry is required")
	}
	if len(params.Handlers) == 0 {
		return nil, errors.New("at least one handler is required")
	}

	cfg := params.Config
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pollMs := cfg.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = defaultRetryBase
	}
	retryMax := cfg.RetryMax
	if retryMax < retryBase {
		retryMax = defaultRetryMax
	}
	lease := params.Lease
	if lease <= 0 {
		lease = defaultLease
	}

	return &Service{
		logg:         params.Logger,
		metrics:      params.Metrics,
		db:           params.DB,
		repo:         params.Repository,
		dlq:          params.DLQ,
		registry:     params.Registry,
		handlers:     params.Handlers,
		leader:       lock.NewLeader(params.Lock),
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: time.Duration(pollMs) * time.Millisecond,
		retryBase:    retryBase,
		retryMax:     retryMax,
		lease:        lease,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run polls until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		s.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}
	defer func() {
		if err := s.leader.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "release dispatcher lock", err)
		}
	}()

	interval := s.pollInterval
	backoff := interval

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "outbox dispatcher context canceled")
			return ctx.Err()
		default:
		}

		leading, err := s.leader.Ensure(ctx)
		if err != nil {
			s.logg.Error(ctx, "dispatcher lock error", err)
		}
		if !leading {
			if err := s.sleep(ctx, withJitter(interval)); err != nil {
				return err
			}
			continue
		}

		processed, err := s.processBatch(ctx)
		if err != nil {
			s.logg.Error(ctx, "outbox dispatcher batch error", err)
			backoff = nextBackoff(backoff, interval, maxBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval
		if processed {
			continue
		}
		if err := s.sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

// processBatch claims due rows in a short transaction and then handles them
// one by one. Handlers talk to the chain and SMTP, so they never run while
// the fetch transaction is open.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	var events []models.OutboxEvent
	now := s.now()
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.FetchDueTx(tx, s.batchSize, s.maxAttempts, now)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, len(rows))
		for i, row := range rows {
			ids[i] = row.ID
		}
		if err := s.repo.LeaseTx(tx, ids, now.Add(s.lease)); err != nil {
			return fmt.Errorf("lease outbox rows: %w", err)
		}
		events = rows
		return nil
	})
	if err != nil {
		return false, err
	}

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return true, err
		}
		if err := s.dispatch(ctx, event); err != nil {
			return true, err
		}
	}
	return len(events) > 0, nil
}

// dispatch runs the handler for one event and records the outcome. The
// returned error is only set when the outcome could not be persisted.
func (s *Service) dispatch(ctx context.Context, event models.OutboxEvent) error {
	start := time.Now()
	fields := s.eventFields(event, outbox.PayloadEnvelope{})

	resolved, err := s.registry.Resolve(event)
	if err == nil {
		fields = s.eventFields(event, resolved.Envelope)
		handler, ok := s.handlers[event.EventType]
		if !ok {
			err = registry.NewNonRetryableError(fmt.Errorf("no handler for %s", event.EventType))
		} else {
			err = handler(s.logg.WithFields(ctx, fields), event, resolved)
		}
	}

	result, err := s.record(ctx, event, fields, err)
	s.metrics.ObserveDispatch(string(event.EventType), result, time.Since(start))
	return err
}

func (s *Service) record(ctx context.Context, event models.OutboxEvent, fields map[string]any, handlerErr error) (string, error) {
	if handlerErr == nil {
		err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
			return s.repo.MarkPublishedTx(tx, event.ID)
		})
		if err != nil {
			return "error", fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event dispatched")
		return "published", nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(handlerErr, &nonRetry) {
		return "dead", s.handleTerminal(ctx, event, enums.OutboxDLQReasonNonRetryable, handlerErr, fields)
	}

	nextAttempt := event.AttemptCount + 1
	fields["attempt_count"] = nextAttempt
	if nextAttempt >= s.maxAttempts {
		fields["terminal_reason"] = "max_attempts"
		terminalErr := fmt.Errorf("max dispatch attempts reached: %w", handlerErr)
		return "dead", s.handleTerminal(ctx, event, enums.OutboxDLQReasonMaxAttempts, terminalErr, fields)
	}

	retryAt := s.now().Add(withJitter(s.retryDelay(nextAttempt)))
	fields["next_attempt_at"] = retryAt.Format(time.RFC3339Nano)
	logCtx := s.logg.WithField(s.logg.WithFields(ctx, fields), "error", handlerErr.Error())
	s.logg.Warn(logCtx, "outbox dispatch failed")

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.MarkRetryTx(tx, event.ID, handlerErr, retryAt)
	})
	if err != nil {
		return "error", fmt.Errorf("mark retry %s: %w", event.ID, err)
	}
	return "retry", nil
}

func (s *Service) handleTerminal(ctx context.Context, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, err error, fields map[string]any) error {
	fields["error_reason"] = reason
	logCtx := s.logg.WithField(s.logg.WithFields(ctx, fields), "error", err.Error())
	s.logg.Warn(logCtx, "outbox event will not be retried")

	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  dlqErrorMessage(err),
		AttemptCount:  event.AttemptCount + 1,
		FailedAt:      s.now(),
	}
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if dlqErr := s.dlq.InsertTx(tx, entry); dlqErr != nil {
			return fmt.Errorf("insert dlq %s: %w", event.ID, dlqErr)
		}
		if markErr := s.repo.MarkTerminalTx(tx, event.ID, err, s.maxAttempts); markErr != nil {
			return fmt.Errorf("mark terminal %s: %w", event.ID, markErr)
		}
		return nil
	})
}

func dlqErrorMessage(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}

func (s *Service) eventFields(event models.OutboxEvent, envelope outbox.PayloadEnvelope) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if envelope.EventID != "" {
		fields["event_id"] = envelope.EventID
		fields["occurred_at"] = envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

// retryDelay doubles from retryBase per attempt, capped at retryMax.
func (s *Service) retryDelay(attempt int) time.Duration {
	delay := s.retryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.retryMax {
			return s.retryMax
		}
	}
	return delay
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitterMu.Lock()
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	jitterMu.Unlock()
	return d + jitter
}
