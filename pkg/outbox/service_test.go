package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pawfinds/pawfinds-backend/pkg/db/models"
	"github.com/pawfinds/pawfinds-backend/pkg/enums"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:outbox_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(models.All()...))
	return conn
}

func emit(t *testing.T, conn *gorm.DB, svc *Service, data any) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		id, err = svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventListingSubmitted,
			AggregateType: enums.AggregateListing,
			AggregateID:   uuid.New(),
			Actor:         &ActorRef{Subject: "public"},
			Data:          data,
		})
		return err
	}))
	return id
}

func TestEmitWritesEnvelope(t *testing.T) {
	conn := newTestDB(t)
	svc := NewService(NewRepository(conn), nil)

	id := emit(t, conn, svc, map[string]string{"name": "Milo"})

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row, "id = ?", id).Error)
	assert.Equal(t, enums.EventListingSubmitted, row.EventType)
	assert.Nil(t, row.PublishedAt)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	assert.Equal(t, "public", envelope.Actor.Subject)
	assert.JSONEq(t, `{"name":"Milo"}`, string(envelope.Data))
}

func TestEmitRequiresTransactionAndValidTypes(t *testing.T) {
	conn := newTestDB(t)
	svc := NewService(NewRepository(conn), nil)

	_, err := svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventListingDeleted, AggregateType: enums.AggregateListing})
	assert.Error(t, err)

	err = conn.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Emit(context.Background(), tx, DomainEvent{EventType: "bogus", AggregateType: enums.AggregateListing})
		return err
	})
	assert.Error(t, err)
}

func TestFetchDueRespectsRetrySchedule(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)

	first := emit(t, conn, svc, map[string]int{"n": 1})
	second := emit(t, conn, svc, map[string]int{"n": 2})
	now := time.Now().UTC()

	require.NoError(t, repo.MarkRetryTx(conn, first, errors.New("smtp timeout"), now.Add(time.Minute)))

	due, err := repo.FetchDueTx(conn, 10, 5, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, second, due[0].ID)

	due, err = repo.FetchDueTx(conn, 10, 5, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Len(t, due, 2)

	var retried models.OutboxEvent
	require.NoError(t, conn.First(&retried, "id = ?", first).Error)
	assert.Equal(t, 1, retried.AttemptCount)
	require.NotNil(t, retried.LastError)
	assert.Equal(t, "smtp timeout", *retried.LastError)
}

func TestPublishedAndTerminalRowsAreNotFetched(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)

	published := emit(t, conn, svc, 1)
	terminal := emit(t, conn, svc, 2)

	require.NoError(t, repo.MarkPublishedTx(conn, published))
	require.NoError(t, repo.MarkTerminalTx(conn, terminal, errors.New("bad payload"), 5))

	due, err := repo.FetchDueTx(conn, 10, 5, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDLQRepository(t *testing.T) {
	conn := newTestDB(t)
	dlq := NewDLQRepository(conn)
	eventID := uuid.New()
	long := strings.Repeat("x", 2*maxLastErrorLen)

	require.NoError(t, dlq.InsertTx(conn, models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventListingDecided,
		AggregateType: enums.AggregateListing,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{"version":1}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage:  &long,
		AttemptCount:  8,
		FailedAt:      time.Now().UTC(),
	}))

	found, err := dlq.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Len(t, *found.ErrorMessage, maxLastErrorLen)

	missing, err := dlq.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	rows, err := dlq.List(context.Background(), DLQFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Error(t, dlq.InsertTx(nil, models.OutboxDLQ{}))
}

func TestDLQRepositoryFiltersByListingAndType(t *testing.T) {
	conn := newTestDB(t)
	dlq := NewDLQRepository(conn)
	ctx := context.Background()
	rex, bella := uuid.New(), uuid.New()
	now := time.Now().UTC()

	insert := func(listingID uuid.UUID, eventType enums.OutboxEventType, failedAt time.Time) {
		require.NoError(t, dlq.InsertTx(conn, models.OutboxDLQ{
			EventID:       uuid.New(),
			EventType:     eventType,
			AggregateType: enums.AggregateListing,
			AggregateID:   listingID,
			Payload:       []byte(`{"version":1}`),
			ErrorReason:   enums.OutboxDLQReasonNonRetryable,
			FailedAt:      failedAt,
		}))
	}
	insert(rex, enums.EventListingSubmitted, now.Add(-2*time.Minute))
	insert(rex, enums.EventListingDecided, now.Add(-time.Minute))
	insert(bella, enums.EventListingDecided, now)

	rows, err := dlq.List(ctx, DLQFilter{ListingID: &rex})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, enums.EventListingDecided, rows[0].EventType, "newest failure first")

	rows, err = dlq.List(ctx, DLQFilter{EventType: enums.EventListingDecided})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = dlq.List(ctx, DLQFilter{ListingID: &rex, EventType: enums.EventListingDecided})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, rex, rows[0].AggregateID)

	rows, err = dlq.List(ctx, DLQFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, bella, rows[0].AggregateID)
}

func TestEmitCarriesRequestID(t *testing.T) {
	conn := newTestDB(t)
	svc := NewService(NewRepository(conn), nil)
	ctx := WithRequestID(context.Background(), "req-42")

	var id uuid.UUID
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		id, err = svc.Emit(ctx, tx, DomainEvent{
			EventType:     enums.EventListingDeleted,
			AggregateType: enums.AggregateListing,
			AggregateID:   uuid.New(),
			Data:          map[string]string{"name": "Rex"},
		})
		return err
	}))

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row, "id = ?", id).Error)
	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &envelope))
	assert.Equal(t, "req-42", envelope.RequestID)
	assert.Empty(t, RequestIDFromContext(context.Background()))
}
