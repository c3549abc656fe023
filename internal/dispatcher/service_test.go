package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pawfinds/pawfinds-backend/internal/chain"
	"github.com/pawfinds/pawfinds-backend/internal/chainrecords"
	"github.com/pawfinds/pawfinds-backend/internal/mailer"
	"github.com/pawfinds/pawfinds-backend/pkg/config"
	"github.com/pawfinds/pawfinds-backend/pkg/db"
	"github.com/pawfinds/pawfinds-backend/pkg/db/models"
	"github.com/pawfinds/pawfinds-backend/pkg/db/sqlitetest"
	"github.com/pawfinds/pawfinds-backend/pkg/enums"
	"github.com/pawfinds/pawfinds-backend/pkg/logger"
	"github.com/pawfinds/pawfinds-backend/pkg/outbox"
	"github.com/pawfinds/pawfinds-backend/pkg/outbox/payloads"
	"github.com/pawfinds/pawfinds-backend/pkg/outbox/registry"
)

type fakeChain struct {
	mu       sync.Mutex
	addCalls []chain.PetRecord
	awaited  []string
	addErr   error
	conf     chain.Confirmation
	awaitErr error
}

func (f *fakeChain) ContractAddress() string { return "0x5FbDB2315678afecb367f032d93F642f64180aa3" }

func (f *fakeChain) AddPet(_ context.Context, rec chain.PetRecord) (chain.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls = append(f.addCalls, rec)
	if f.addErr != nil {
		return chain.Submission{}, f.addErr
	}
	return chain.Submission{
		TxHash:   "0x" + uuid.NewString()[:8] + "00000000000000000000000000000000000000000000000000000000",
		From:     "0x627306090abaB3A6e1400e9345bC60c78a8BEf57",
		Contract: f.ContractAddress(),
	}, nil
}

func (f *fakeChain) AwaitConfirmation(_ context.Context, txHash string) (chain.Confirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.awaited = append(f.awaited, txHash)
	return f.conf, f.awaitErr
}

type fakeMailer struct {
	sent []mailer.Message
	errs []error
}

func (f *fakeMailer) Send(_ context.Context, msg mailer.Message) error {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, msg)
	return nil
}

type memClaims struct {
	claimed   map[string]bool
	forgotten []string
}

func newMemClaims() *memClaims {
	return &memClaims{claimed: map[string]bool{}}
}

func (m *memClaims) Claim(_ context.Context, step string, id uuid.UUID) (bool, error) {
	key := step + ":" + id.String()
	if m.claimed[key] {
		return false, nil
	}
	m.claimed[key] = true
	return true, nil
}

func (m *memClaims) Forget(_ context.Context, step string, id uuid.UUID) error {
	key := step + ":" + id.String()
	delete(m.claimed, key)
	m.forgotten = append(m.forgotten, key)
	return nil
}

type harness struct {
	svc     *Service
	client  *db.Client
	chain   *fakeChain
	mail    *fakeMailer
	claims  *memClaims
	records *chainrecords.Repository
	clock   time.Time
}

func newHarness(t *testing.T, cfg config.OutboxConfig) *harness {
	t.Helper()
	client := sqlitetest.Open(t)
	h := &harness{
		client:  client,
		chain:   &fakeChain{conf: chain.Confirmation{BlockNumber: 7, Succeeded: true, PetAdded: map[string]any{"petId": "1"}}},
		mail:    &fakeMailer{},
		claims:  newMemClaims(),
		records: chainrecords.NewRepository(client.DB()),
		clock:   time.Now().UTC(),
	}
	handlers, err := NewHandlers(HandlerParams{
		Logger:  logger.Nop(),
		Mailer:  h.mail,
		Claims:  h.claims,
		Records: h.records,
		Chain:   h.chain,
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logger.Nop(),
		DB:         client,
		Repository: outbox.NewRepository(client.DB()),
		DLQ:        outbox.NewDLQRepository(client.DB()),
		Registry:   registry.NewEventRegistry(),
		Handlers:   handlers.Map(),
	})
	require.NoError(t, err)
	svc.now = func() time.Time { return h.clock }
	h.svc = svc
	return h
}

func (h *harness) emit(t *testing.T, eventType enums.OutboxEventType, listingID uuid.UUID, data any) uuid.UUID {
	t.Helper()
	emitter := outbox.NewService(outbox.NewRepository(h.client.DB()), logger.Nop())
	var id uuid.UUID
	require.NoError(t, h.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		id, err = emitter.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateListing,
			AggregateID:   listingID,
			Data:          data,
		})
		return err
	}))
	return id
}

func (h *harness) listing(t *testing.T) uuid.UUID {
	t.Helper()
	l := models.Listing{
		Name: "Rex", Age: "2", Area: "Springfield", Justification: "moving abroad",
		Email: "owner@example.com", Phone: "555-0100", Type: "Dog", Filename: uuid.NewString() + ".png",
		Status: enums.ListingStatusApproved,
	}
	require.NoError(t, h.client.DB().Create(&l).Error)
	return l.ID
}

func (h *harness) row(t *testing.T, id uuid.UUID) models.OutboxEvent {
	t.Helper()
	var row models.OutboxEvent
	require.NoError(t, h.client.DB().First(&row, "id = ?", id).Error)
	return row
}

func (h *harness) dlq(t *testing.T, id uuid.UUID) *models.OutboxDLQ {
	t.Helper()
	entry, err := outbox.NewDLQRepository(h.client.DB()).FindByEventID(context.Background(), id)
	require.NoError(t, err)
	return entry
}

func decided(listingID uuid.UUID, status enums.ListingStatus) payloads.ListingDecidedEvent {
	return payloads.ListingDecidedEvent{
		ListingID: listingID,
		Name:      "Rex",
		Email:     "owner@example.com",
		Phone:     "555-0100",
		Status:    status,
	}
}

func TestDecidedEventRecordsOnChainAndMails(t *testing.T) {
	h := newHarness(t, config.OutboxConfig{})
	ctx := context.Background()
	listingID := h.listing(t)
	eventID := h.emit(t, enums.EventListingDecided, listingID, decided(listingID, enums.ListingStatusApproved))

	processed, err := h.svc.processBatch(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	require.Len(t, h.chain.addCalls, 1)
	assert.Equal(t, chain.PetRecord{Name: "Rex", Email: "owner@example.com", Phone: "555-0100", Status: "Approved"}, h.chain.addCalls[0])

	rec, err := h.records.FindByOutboxEvent(ctx, eventID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, enums.ChainRecordConfirmed, rec.Status)
	require.NotNil(t, rec.BlockNumber)
	assert.Equal(t, uint64(7), *rec.BlockNumber)
	assert.JSONEq(t, `{"petId":"1"}`, string(rec.OnChainEvent))
	assert.Equal(t, listingID, rec.ListingID)

	require.Len(t, h.mail.sent, 1)
	assert.Equal(t, mailer.TemplateListingApproved, h.mail.sent[0].Template)
	assert.Equal(t, "owner@example.com", h.mail.sent[0].To)

	assert.NotNil(t, h.row(t, eventID).PublishedAt)

	processed, err = h.svc.processBatch(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRejectedDecisionIsRecordedAndUsesRejectionMail(t *testing.T) {
	h := newHarness(t, config.OutboxConfig{})
	listingID := h.listing(t)
	h.emit(t, enums.EventListingDecided, listingID, decided(listingID, enums.ListingStatusRejected))

	_, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)

	require.Len(t, h.chain.addCalls, 1)
	assert.Equal(t, "Rejected", h.chain.addCalls[0].Status)
	require.Len(t, h.mail.sent, 1)
	assert.Equal(t, mailer.TemplateListingRejected, h.mail.sent[0].Template)
}

func TestMailFailureRetriesWithoutResendingTransaction(t *testing.T) {
	h := newHarness(t, config.OutboxConfig{RetryBase: time.Second, RetryMax: time.Minute})
	ctx := context.Background()
	h.mail.errs = []error{errors.New("smtp: 421 try later")}
	listingID := h.listing(t)
	eventID := h.emit(t, enums.EventListingDecided, listingID, decided(listingID, enums.ListingStatusApproved))

	_, err := h.svc.processBatch(ctx)
	require.NoError(t, err)

	row := h.row(t, eventID)
	assert.Nil(t, row.PublishedAt)
	assert.Equal(t, 1, row.AttemptCount)
	require.NotNil(t, row.LastError)
	assert.Contains(t, *row.LastError, "421")
	require.NotNil(t, row.NextAttemptAt)
	assert.True(t, row.NextAttemptAt.After(h.clock))
	assert.Len(t, h.claims.forgotten, 1, "failed mail releases its claim")

	processed, err := h.svc.processBatch(ctx)
	require.NoError(t, err)
	assert.False(t, processed, "row waits for its retry time")

	h.clock = h.clock.Add(time.Hour)
	processed, err = h.svc.processBatch(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	assert.Len(t, h.chain.addCalls, 1, "confirmed record is never re-sent")
	require.Len(t, h.mail.sent, 1)
	assert.NotNil(t, h.row(t, eventID).PublishedAt)
}

func TestPendingReceiptIsAwaitedOnRetry(t *testing.T) {
	h := newHarness(t, config.OutboxConfig{})
	ctx := context.Background()
	h.chain.awaitErr = chain.ErrReceiptTimeout
	listingID := h.listing(t)
	eventID := h.emit(t, enums.EventListingDecided, listingID, decided(listingID, enums.ListingStatusApproved))

	_, err := h.svc.processBatch(ctx)
	require.NoError(t, err)
	rec, err := h.records.FindByOutboxEvent(ctx, eventID)
	require.NoError(t, err)
	require.NotNil(t, rec.TxHash)
	assert.Equal(t, enums.ChainRecordSubmitted, rec.Status)

	h.chain.awaitErr = nil
	h.clock = h.clock.Add(time.Hour)
	_, err = h.svc.processBatch(ctx)
	require.NoError(t, err)

	assert.Len(t, h.chain.addCalls, 1)
	require.Len(t, h.chain.awaited, 2)
	assert.Equal(t, *rec.TxHash, h.chain.awaited[1])
	assert.NotNil(t, h.row(t, eventID).PublishedAt)
}

func TestRevertedTransactionGoesToDLQ(t *testing.T) {
	h := newHarness(t, config.OutboxConfig{})
	ctx := context.Background()
	h.chain.conf = chain.Confirmation{BlockNumber: 9, Succeeded: false}
	listingID := h.listing(t)
	eventID := h.emit(t, enums.EventListingDecided, listingID, decided(listingID, enums.ListingStatusApproved))

	_, err := h.svc.processBatch(ctx)
	require.NoError(t, err)

	entry := h.dlq(t, eventID)
	require.NotNil(t, entry)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	assert.Empty(t, h.mail.sent)

	rec, err := h.records.FindByOutboxEvent(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, enums.ChainRecordFailed, rec.Status)

	row := h.row(t, eventID)
	assert.Equal(t, h.svc.maxAttempts, row.AttemptCount)
	h.clock = h.clock.Add(time.Hour)
	processed, err := h.svc.processBatch(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestMaxAttemptsMovesRowToDLQ(t *testing.T) {
	h := newHarness(t, config.OutboxConfig{MaxAttempts: 2})
	ctx := context.Background()
	h.mail.errs = []error{errors.New("down"), errors.New("still down")}
	eventID := h.emit(t, enums.EventListingSubmitted, uuid.New(), payloads.ListingSubmittedEvent{
		ListingID: uuid.New(), Name: "Rex", Email: "owner@example.com",
	})

	_, err := h.svc.processBatch(ctx)
	require.NoError(t, err)
	assert.Nil(t, h.dlq(t, eventID))

	h.clock = h.clock.Add(time.Hour)
	_, err = h.svc.processBatch(ctx)
	require.NoError(t, err)

	entry := h.dlq(t, eventID)
	require.NotNil(t, entry)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, entry.ErrorReason)
	assert.Equal(t, 2, entry.AttemptCount)
	require.NotNil(t, entry.ErrorMessage)
	assert.Contains(t, *entry.ErrorMessage, "still down")
}

func TestUndecodablePayloadIsDeadLettered(t *testing.T) {
	h := newHarness(t, config.OutboxConfig{})
	row := models.OutboxEvent{
		EventType:     enums.EventListingDeleted,
		AggregateType: enums.AggregateListing,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{"version":1,"eventId":"x","data":null}`),
	}
	require.NoError(t, h.client.DB().Create(&row).Error)

	_, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)

	entry := h.dlq(t, row.ID)
	require.NotNil(t, entry)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
}

func TestSubmittedAndDeletedEventsMailOnce(t *testing.T) {
	h := newHarness(t, config.OutboxConfig{})
	ctx := context.Background()
	listingID := uuid.New()
	h.emit(t, enums.EventListingSubmitted, listingID, payloads.ListingSubmittedEvent{ListingID: listingID, Name: "Rex", Email: "owner@example.com"})
	deletedID := h.emit(t, enums.EventListingDeleted, listingID, payloads.ListingDeletedEvent{ListingID: listingID, Name: "Rex", Email: "owner@example.com", Filename: "a.png"})

	// a previous worker already mailed the deletion before crashing
	claimed, err := h.claims.Claim(ctx, stepDeletedMail, deletedID)
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = h.svc.processBatch(ctx)
	require.NoError(t, err)

	require.Len(t, h.mail.sent, 1)
	assert.Equal(t, mailer.TemplateSubmissionReceived, h.mail.sent[0].Template)
	assert.NotNil(t, h.row(t, deletedID).PublishedAt)
	assert.Empty(t, h.chain.addCalls)
}

func TestDecisionDispatchedAfterDeleteStampsRecordAndSkipsMail(t *testing.T) {
	h := newHarness(t, config.OutboxConfig{})
	ctx := context.Background()
	listingID := h.listing(t)
	decidedID := h.emit(t, enums.EventListingDecided, listingID, decided(listingID, enums.ListingStatusApproved))

	// the delete commits while the decision is still queued
	require.NoError(t, h.client.DB().Delete(&models.Listing{}, "id = ?", listingID).Error)
	stamped, err := h.records.MarkListingDeleted(ctx, listingID, h.clock)
	require.NoError(t, err)
	require.Zero(t, stamped)
	deletedID := h.emit(t, enums.EventListingDeleted, listingID, payloads.ListingDeletedEvent{ListingID: listingID, Name: "Rex", Email: "owner@example.com"})

	_, err = h.svc.processBatch(ctx)
	require.NoError(t, err)

	require.Len(t, h.chain.addCalls, 1, "the decision itself is still recorded")
	rec, err := h.records.FindByOutboxEvent(ctx, decidedID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, enums.ChainRecordConfirmed, rec.Status)
	assert.NotNil(t, rec.ListingDeletedAt)

	require.Len(t, h.mail.sent, 1)
	assert.Equal(t, mailer.TemplateListingRemoved, h.mail.sent[0].Template)
	assert.NotNil(t, h.row(t, decidedID).PublishedAt)
	assert.NotNil(t, h.row(t, deletedID).PublishedAt)
}

func TestDecisionWithoutChainOnlyMails(t *testing.T) {
	h := newHarness(t, config.OutboxConfig{})
	handlers, err := NewHandlers(HandlerParams{Logger: logger.Nop(), Mailer: h.mail, Claims: h.claims, Records: h.records})
	require.NoError(t, err)
	h.svc.handlers = handlers.Map()
	listingID := h.listing(t)
	h.emit(t, enums.EventListingDecided, listingID, decided(listingID, enums.ListingStatusApproved))

	_, err = h.svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.mail.sent, 1)
	assert.Empty(t, h.chain.addCalls)
}

func TestRetryDelayDoublesAndCaps(t *testing.T) {
	svc := &Service{retryBase: time.Second, retryMax: 10 * time.Second}
	assert.Equal(t, time.Second, svc.retryDelay(1))
	assert.Equal(t, 2*time.Second, svc.retryDelay(2))
	assert.Equal(t, 8*time.Second, svc.retryDelay(4))
	assert.Equal(t, 10*time.Second, svc.retryDelay(5))
	assert.Equal(t, 10*time.Second, svc.retryDelay(30))

	assert.Equal(t, 2*time.Second, nextBackoff(0, time.Second, maxBackoff))
	assert.Equal(t, maxBackoff, nextBackoff(8*time.Second, time.Second, maxBackoff))
	d := withJitter(time.Second)
	assert.GreaterOrEqual(t, d, time.Second)
	assert.Less(t, d, time.Second+jitterWindow)
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.Error(t, err)

	_, err = NewHandlers(HandlerParams{Logger: logger.Nop()})
	assert.Error(t, err)
}
