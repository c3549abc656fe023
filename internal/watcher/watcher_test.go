package watcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawfinds/pawfinds-backend/internal/chain"
	"github.com/pawfinds/pawfinds-backend/internal/chainrecords"
	"github.com/pawfinds/pawfinds-backend/pkg/config"
	"github.com/pawfinds/pawfinds-backend/pkg/db/models"
	"github.com/pawfinds/pawfinds-backend/pkg/db/sqlitetest"
	"github.com/pawfinds/pawfinds-backend/pkg/enums"
	"github.com/pawfinds/pawfinds-backend/pkg/logger"
	"github.com/pawfinds/pawfinds-backend/pkg/metrics"
	"github.com/pawfinds/pawfinds-backend/pkg/redis"
)

type fakeNode struct {
	head    uint64
	headErr error
	logs    []chain.EventLog
	ranges  [][2]uint64
}

func (f *fakeNode) Head(context.Context) (uint64, error) {
	return f.head, f.headErr
}

func (f *fakeNode) PetAddedLogs(_ context.Context, from, to uint64) ([]chain.EventLog, error) {
	f.ranges = append(f.ranges, [2]uint64{from, to})
	var out []chain.EventLog
	for _, lg := range f.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

type memCursor struct {
	values map[string]string
}

func (m *memCursor) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memCursor) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.values[key] = fmt.Sprint(value)
	return nil
}

type denyLock struct{}

func (denyLock) Acquire(context.Context) (bool, error) { return false, nil }
func (denyLock) Refresh(context.Context) (bool, error) { return false, nil }
func (denyLock) Release(context.Context) error         { return nil }

const cursorKey = "pawfinds:cursor:chain-watcher"

func petAdded(block uint64, index uint, txHash string) chain.EventLog {
	return chain.EventLog{
		Name:        "PetAdded",
		Contract:    "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		TxHash:      txHash,
		BlockNumber: block,
		BlockHash:   fmt.Sprintf("0x%064x", block),
		LogIndex:    index,
		Fields:      map[string]any{"petId": fmt.Sprint(block), "name": "Rex", "status": "Approved"},
	}
}

func newTestWatcher(t *testing.T, node *fakeNode, cfg config.ChainConfig) (*Watcher, *chainrecords.Repository, *memCursor, *prometheus.Registry) {
	t.Helper()
	client := sqlitetest.Open(t)
	records := chainrecords.NewRepository(client.DB())
	cursor := &memCursor{values: map[string]string{}}
	reg := prometheus.NewRegistry()
	w, err := New(Params{
		Config:    cfg,
		Logger:    logger.Nop(),
		Metrics:   metrics.New(reg),
		Chain:     node,
		Events:    records,
		Cursor:    cursor,
		CursorKey: cursorKey,
	})
	require.NoError(t, err)
	return w, records, cursor, reg
}

func chainEventCount(t *testing.T, reg *prometheus.Registry, event string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "pawfinds_chain_events_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "event" && label.GetValue() == event {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestPollWalksBlocksInBatchesAndAdvancesCursor(t *testing.T) {
	node := &fakeNode{head: 12, logs: []chain.EventLog{
		petAdded(3, 0, "0xaaa"),
		petAdded(11, 1, "0xbbb"),
	}}
	w, _, cursor, reg := newTestWatcher(t, node, config.ChainConfig{BlockBatch: 5, StartBlock: 1})

	stored, err := w.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stored)
	assert.Equal(t, [][2]uint64{{1, 5}, {6, 10}, {11, 12}}, node.ranges)
	assert.Equal(t, "12", cursor.values[cursorKey])
	assert.Equal(t, float64(2), chainEventCount(t, reg, "PetAdded"))

	// nothing new below head
	node.ranges = nil
	stored, err = w.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stored)
	assert.Empty(t, node.ranges)
}

func TestPollIgnoresReplayedLogs(t *testing.T) {
	node := &fakeNode{head: 4, logs: []chain.EventLog{petAdded(4, 0, "0xaaa")}}
	w, _, cursor, _ := newTestWatcher(t, node, config.ChainConfig{})

	stored, err := w.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stored)

	// a restart that lost the cursor replays from the start block
	delete(cursor.values, cursorKey)
	stored, err = w.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stored)
}

func TestPollCorrelatesEventsWithChainRecords(t *testing.T) {
	txHash := "0x" + fmt.Sprintf("%064x", 42)
	node := &fakeNode{head: 2, logs: []chain.EventLog{petAdded(2, 0, txHash), petAdded(2, 1, "0xother")}}
	w, records, _, _ := newTestWatcher(t, node, config.ChainConfig{})
	ctx := context.Background()

	listingID := uuid.New()
	require.NoError(t, records.Create(ctx, &models.ChainRecord{
		ListingID:       listingID,
		OutboxEventID:   uuid.New(),
		ContractAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		FromAddress:     "0xadmin",
		TxHash:          &txHash,
		PetName:         "Rex",
		OwnerEmail:      "owner@example.com",
		OwnerPhone:      "555",
		ListingStatus:   enums.ListingStatusApproved,
	}))

	_, err := w.Poll(ctx)
	require.NoError(t, err)

	events, err := records.ListEventsByListing(ctx, listingID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, txHash, events[0].TxHash)
	assert.JSONEq(t, `{"petId":"2","name":"Rex","status":"Approved"}`, string(events[0].Payload))
}

func TestPollResumesAfterCursorAndSkipsRemovedLogs(t *testing.T) {
	removed := petAdded(9, 0, "0xgone")
	removed.Removed = true
	node := &fakeNode{head: 9, logs: []chain.EventLog{petAdded(5, 0, "0xold"), removed}}
	w, _, cursor, _ := newTestWatcher(t, node, config.ChainConfig{})
	cursor.values[cursorKey] = "7"

	stored, err := w.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stored)
	assert.Equal(t, [][2]uint64{{8, 9}}, node.ranges)
	assert.Equal(t, "9", cursor.values[cursorKey])
}

func TestPollSurfacesNodeErrors(t *testing.T) {
	node := &fakeNode{headErr: errors.New("connection refused")}
	w, _, cursor, _ := newTestWatcher(t, node, config.ChainConfig{})

	_, err := w.Poll(context.Background())
	require.Error(t, err)
	assert.Empty(t, cursor.values)

	cursor.values[cursorKey] = "not-a-number"
	node.headErr = nil
	_, err = w.Poll(context.Background())
	assert.Error(t, err)
}

func TestRunDoesNotPollWithoutLock(t *testing.T) {
	node := &fakeNode{head: 3, logs: []chain.EventLog{petAdded(1, 0, "0xaaa")}}
	client := sqlitetest.Open(t)
	w, err := New(Params{
		Config:    config.ChainConfig{PollInterval: 10 * time.Millisecond},
		Logger:    logger.Nop(),
		Chain:     node,
		Events:    chainrecords.NewRepository(client.DB()),
		Cursor:    &memCursor{values: map[string]string{}},
		CursorKey: cursorKey,
		Lock:      denyLock{},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	err = w.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, node.ranges)
}

func TestBackoffDoublesUpToCap(t *testing.T) {
	assert.Equal(t, 10*time.Second, backoff(5*time.Second, 1))
	assert.Equal(t, 40*time.Second, backoff(5*time.Second, 3))
	assert.Equal(t, maxBackoff, backoff(5*time.Second, 10))
}
