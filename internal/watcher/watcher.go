// Package watcher follows PetAdded events emitted by the adoption contract
// and mirrors them into chain_events.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pawfinds/pawfinds-backend/internal/chain"
	"github.com/pawfinds/pawfinds-backend/pkg/config"
	"github.com/pawfinds/pawfinds-backend/pkg/db/models"
	dbtypes "github.com/pawfinds/pawfinds-backend/pkg/db/types"
	"github.com/pawfinds/pawfinds-backend/pkg/lock"
	"github.com/pawfinds/pawfinds-backend/pkg/logger"
	"github.com/pawfinds/pawfinds-backend/pkg/metrics"
	"github.com/pawfinds/pawfinds-backend/pkg/redis"
)

// CursorName is the Redis cursor and lock suffix used by the watcher.
const CursorName = "chain-watcher"

const (
	defaultPollInterval = 5 * time.Second
	defaultBlockBatch   = 500
	maxBackoff          = time.Minute
)

type chainReader interface {
	Head(ctx context.Context) (uint64, error)
	PetAddedLogs(ctx context.Context, from, to uint64) ([]chain.EventLog, error)
}

type eventStore interface {
	InsertEvent(ctx context.Context, event *models.ChainEvent) (bool, error)
	FindByTxHash(ctx context.Context, txHash string) (*models.ChainRecord, error)
}

type cursorStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type Params struct {
	Config    config.ChainConfig
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
	Chain     chainReader
	Events    eventStore
	Cursor    cursorStore
	CursorKey string
	Lock      lock.Lock
}

// Watcher polls the node for new contract logs. Progress is the last block
// fully stored, kept in Redis so a restart resumes where it stopped.
type Watcher struct {
	logg       *logger.Logger
	metrics    *metrics.Metrics
	chain      chainReader
	events     eventStore
	cursor     cursorStore
	cursorKey  string
	leader     *lock.Leader
	interval   time.Duration
	batch      uint64
	startBlock uint64
}

func New(params Params) (*Watcher, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Chain == nil {
		return nil, errors.New("chain client is required")
	}
	if params.Events == nil {
		return nil, errors.New("chain event store is required")
	}
	if params.Cursor == nil {
		return nil, errors.New("cursor store is required")
	}
	if strings.TrimSpace(params.CursorKey) == "" {
		return nil, errors.New("cursor key is required")
	}
	interval := params.Config.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	batch := params.Config.BlockBatch
	if batch == 0 {
		batch = defaultBlockBatch
	}
	return &Watcher{
		logg:       params.Logger,
		metrics:    params.Metrics,
		chain:      params.Chain,
		events:     params.Events,
		cursor:     params.Cursor,
		cursorKey:  params.CursorKey,
		leader:     lock.NewLeader(params.Lock),
		interval:   interval,
		batch:      batch,
		startBlock: params.Config.StartBlock,
	}, nil
}

// Run polls until ctx is canceled. Poll failures are logged and retried with
// backoff; they never stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	ctx = w.logg.WithField(ctx, "component", "chain_watcher")
	w.logg.Info(ctx, "chain watcher started")
	defer func() {
		if err := w.leader.Release(context.WithoutCancel(ctx)); err != nil {
			w.logg.Error(ctx, "release watcher lock", err)
		}
	}()

	wait, failures := time.Duration(0), 0
	for {
		if err := sleep(ctx, wait); err != nil {
			w.logg.Info(ctx, "chain watcher stopped")
			return err
		}
		wait = w.interval

		leading, err := w.leader.Ensure(ctx)
		if err != nil {
			w.logg.Error(ctx, "watcher lock error", err)
			continue
		}
		if !leading {
			continue
		}

		if _, err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			failures++
			wait = backoff(w.interval, failures)
			w.logg.Error(w.logg.WithField(ctx, "retry_in", wait.String()), "chain watcher poll failed", err)
			continue
		}
		failures = 0
	}
}

// Poll processes every block between the cursor and the current head and
// returns the number of newly stored events.
func (w *Watcher) Poll(ctx context.Context) (int, error) {
	head, err := w.chain.Head(ctx)
	if err != nil {
		return 0, err
	}
	from, err := w.nextBlock(ctx)
	if err != nil {
		return 0, err
	}

	stored := 0
	for from <= head {
		to := from + w.batch - 1
		if to > head || to < from {
			to = head
		}
		logs, err := w.chain.PetAddedLogs(ctx, from, to)
		if err != nil {
			return stored, err
		}
		for _, lg := range logs {
			inserted, err := w.store(ctx, lg)
			if err != nil {
				return stored, err
			}
			if inserted {
				stored++
			}
		}
		if err := w.cursor.Set(ctx, w.cursorKey, strconv.FormatUint(to, 10), 0); err != nil {
			return stored, fmt.Errorf("save watcher cursor: %w", err)
		}
		if to == head {
			break
		}
		from = to + 1
	}
	return stored, nil
}

func (w *Watcher) nextBlock(ctx context.Context) (uint64, error) {
	raw, err := w.cursor.Get(ctx, w.cursorKey)
	if errors.Is(err, redis.Nil) {
		return w.startBlock, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read watcher cursor: %w", err)
	}
	last, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse watcher cursor %q: %w", raw, err)
	}
	return last + 1, nil
}

func (w *Watcher) store(ctx context.Context, lg chain.EventLog) (bool, error) {
	logCtx := w.logg.WithFields(ctx, map[string]any{
		"event":        lg.Name,
		"tx_hash":      lg.TxHash,
		"block_number": lg.BlockNumber,
		"log_index":    lg.LogIndex,
	})
	if lg.Removed {
		w.logg.Warn(logCtx, "skipping removed log")
		return false, nil
	}

	payload, err := dbtypes.NewJSONDocument(lg.Fields)
	if err != nil {
		return false, fmt.Errorf("encode %s fields: %w", lg.Name, err)
	}
	event := &models.ChainEvent{
		EventName:       lg.Name,
		ContractAddress: lg.Contract,
		BlockNumber:     lg.BlockNumber,
		BlockHash:       lg.BlockHash,
		TxHash:          lg.TxHash,
		LogIndex:        lg.LogIndex,
		Payload:         payload,
	}
	rec, err := w.events.FindByTxHash(ctx, lg.TxHash)
	if err != nil {
		return false, fmt.Errorf("correlate %s: %w", lg.TxHash, err)
	}
	if rec != nil {
		listingID := rec.ListingID
		event.ListingID = &listingID
		logCtx = w.logg.WithListingID(logCtx, listingID.String())
	}

	inserted, err := w.events.InsertEvent(ctx, event)
	if err != nil {
		return false, fmt.Errorf("store %s event: %w", lg.Name, err)
	}
	if !inserted {
		w.logg.Debug(logCtx, "contract event already stored")
		return false, nil
	}
	w.metrics.IncChainEvent(lg.Name)
	w.logg.Info(w.logg.WithField(logCtx, "fields", lg.Fields), "contract event observed")
	return true, nil
}

// backoff doubles the poll interval per consecutive failure.
func backoff(base time.Duration, failures int) time.Duration {
	next := base
	for i := 0; i < failures; i++ {
		next *= 2
		if next >= maxBackoff {
			return maxBackoff
		}
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
