package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pawfinds/pawfinds-backend/internal/chain"
	"github.com/pawfinds/pawfinds-backend/internal/mailer"
	"github.com/pawfinds/pawfinds-backend/pkg/db/models"
	"github.com/pawfinds/pawfinds-backend/pkg/enums"
	"github.com/pawfinds/pawfinds-backend/pkg/logger"
	"github.com/pawfinds/pawfinds-backend/pkg/outbox/payloads"
	"github.com/pawfinds/pawfinds-backend/pkg/outbox/registry"
)

// Idempotency steps. A claimed step is not repeated for the same outbox row.
const (
	stepSubmittedMail = "mail:listing_submitted"
	stepDecidedMail   = "mail:listing_decided"
	stepDeletedMail   = "mail:listing_deleted"
)

type chainWriter interface {
	ContractAddress() string
	AddPet(ctx context.Context, rec chain.PetRecord) (chain.Submission, error)
	AwaitConfirmation(ctx context.Context, txHash string) (chain.Confirmation, error)
}

type chainRecordStore interface {
	FindByOutboxEvent(ctx context.Context, eventID uuid.UUID) (*models.ChainRecord, error)
	Create(ctx context.Context, rec *models.ChainRecord) error
	Resubmit(ctx context.Context, id uuid.UUID, txHash, from string) error
	MarkConfirmed(ctx context.Context, id uuid.UUID, blockNumber uint64, event map[string]any) error
	MarkFailed(ctx context.Context, id uuid.UUID, blockNumber *uint64, reason string) error
	MarkListingDeleted(ctx context.Context, listingID uuid.UUID, at time.Time) (int64, error)
	ListingExists(ctx context.Context, listingID uuid.UUID) (bool, error)
}

type claimer interface {
	Claim(ctx context.Context, step string, eventID uuid.UUID) (bool, error)
	Forget(ctx context.Context, step string, eventID uuid.UUID) error
}

type HandlerParams struct {
	Logger  *logger.Logger
	Mailer  mailer.Sender
	Claims  claimer
	Records chainRecordStore
	// Chain may be nil when chain writes are disabled; decisions are then
	// only mailed.
	Chain chainWriter
}

// Handlers holds the side effects for every listing event.
type Handlers struct {
	logg    *logger.Logger
	mail    mailer.Sender
	claims  claimer
	records chainRecordStore
	chain   chainWriter
}

func NewHandlers(params HandlerParams) (*Handlers, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Mailer == nil {
		return nil, errors.New("mailer is required")
	}
	if params.Claims == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if params.Records == nil {
		return nil, errors.New("chain records repository is required")
	}
	return &Handlers{
		logg:    params.Logger,
		mail:    params.Mailer,
		claims:  params.Claims,
		records: params.Records,
		chain:   params.Chain,
	}, nil
}

// Map returns the handler table consumed by Service.
func (h *Handlers) Map() map[enums.OutboxEventType]HandlerFunc {
	return map[enums.OutboxEventType]HandlerFunc{
		enums.EventListingSubmitted: h.ListingSubmitted,
		enums.EventListingDecided:   h.ListingDecided,
		enums.EventListingDeleted:   h.ListingDeleted,
	}
}

func (h *Handlers) ListingSubmitted(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	payload, ok := resolved.Payload.(*payloads.ListingSubmittedEvent)
	if !ok {
		return payloadMismatch(resolved)
	}
	return h.sendOnce(ctx, stepSubmittedMail, event.ID, mailer.SubmissionReceived(payload.Email, payload.Name))
}

// ListingDecided records the decision on chain, then mails the owner. A
// retry after the chain step succeeded goes straight to the mail. When the
// listing was deleted before the event was handled, its chain record is
// stamped like the delete would have done and the owner is not mailed.
func (h *Handlers) ListingDecided(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	payload, ok := resolved.Payload.(*payloads.ListingDecidedEvent)
	if !ok {
		return payloadMismatch(resolved)
	}
	if !payload.Status.IsDecision() {
		return registry.NewNonRetryableError(fmt.Errorf("listing_decided carries status %q", payload.Status))
	}

	if h.chain == nil {
		h.logg.Warn(ctx, "chain disabled; decision not recorded on chain")
	} else if err := h.recordOnChain(ctx, event, payload); err != nil {
		return err
	}

	// checked after the record exists so a concurrent delete either stamps it
	// or is seen here
	exists, err := h.records.ListingExists(ctx, payload.ListingID)
	if err != nil {
		return fmt.Errorf("load listing: %w", err)
	}
	if !exists {
		stamped, err := h.records.MarkListingDeleted(ctx, payload.ListingID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("mark chain records: %w", err)
		}
		h.logg.Info(h.logg.WithFields(ctx, map[string]any{
			"listing_id": payload.ListingID.String(),
			"stamped":    stamped,
		}), "listing deleted before decision was dispatched; skipping mail")
		return nil
	}

	msg := mailer.ListingApproved(payload.Email, payload.Name)
	if payload.Status == enums.ListingStatusRejected {
		msg = mailer.ListingRejected(payload.Email, payload.Name)
	}
	return h.sendOnce(ctx, stepDecidedMail, event.ID, msg)
}

func (h *Handlers) ListingDeleted(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	payload, ok := resolved.Payload.(*payloads.ListingDeletedEvent)
	if !ok {
		return payloadMismatch(resolved)
	}
	return h.sendOnce(ctx, stepDeletedMail, event.ID, mailer.ListingRemoved(payload.Email, payload.Name))
}

func (h *Handlers) recordOnChain(ctx context.Context, event models.OutboxEvent, payload *payloads.ListingDecidedEvent) error {
	rec, err := h.records.FindByOutboxEvent(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("load chain record: %w", err)
	}

	if rec != nil {
		switch rec.Status {
		case enums.ChainRecordConfirmed:
			h.logg.Info(h.logg.WithField(ctx, "tx_hash", derefString(rec.TxHash)), "decision already confirmed on chain")
			return nil
		case enums.ChainRecordFailed:
			return registry.NewNonRetryableError(fmt.Errorf("addPet transaction %s failed: %s", derefString(rec.TxHash), derefString(rec.LastError)))
		}
		if rec.TxHash != nil {
			return h.confirm(ctx, rec.ID, *rec.TxHash)
		}
	} else {
		rec = &models.ChainRecord{
			ListingID:       payload.ListingID,
			OutboxEventID:   event.ID,
			ContractAddress: h.chain.ContractAddress(),
			PetName:         payload.Name,
			OwnerEmail:      payload.Email,
			OwnerPhone:      payload.Phone,
			ListingStatus:   payload.Status,
			Status:          enums.ChainRecordSubmitted,
		}
		if err := h.records.Create(ctx, rec); err != nil {
			return fmt.Errorf("create chain record: %w", err)
		}
	}

	sub, err := h.chain.AddPet(ctx, chain.PetRecord{
		Name:   payload.Name,
		Email:  payload.Email,
		Phone:  payload.Phone,
		Status: payload.Status.String(),
	})
	if err != nil {
		return err
	}
	if err := h.records.Resubmit(ctx, rec.ID, sub.TxHash, sub.From); err != nil {
		return fmt.Errorf("store tx hash %s: %w", sub.TxHash, err)
	}
	h.logg.Info(h.logg.WithFields(ctx, map[string]any{
		"tx_hash":    sub.TxHash,
		"from":       sub.From,
		"listing_id": payload.ListingID.String(),
	}), "addPet submitted")

	return h.confirm(ctx, rec.ID, sub.TxHash)
}

func (h *Handlers) confirm(ctx context.Context, recordID uuid.UUID, txHash string) error {
	conf, err := h.chain.AwaitConfirmation(ctx, txHash)
	if err != nil {
		return err
	}
	logCtx := h.logg.WithFields(ctx, map[string]any{"tx_hash": txHash, "block_number": conf.BlockNumber})
	if !conf.Succeeded {
		block := conf.BlockNumber
		if err := h.records.MarkFailed(ctx, recordID, &block, "transaction reverted"); err != nil {
			return fmt.Errorf("mark chain record failed: %w", err)
		}
		h.logg.Warn(logCtx, "addPet reverted")
		return registry.NewNonRetryableError(fmt.Errorf("addPet transaction %s reverted", txHash))
	}
	if err := h.records.MarkConfirmed(ctx, recordID, conf.BlockNumber, conf.PetAdded); err != nil {
		return fmt.Errorf("mark chain record confirmed: %w", err)
	}
	h.logg.Info(logCtx, "addPet confirmed")
	return nil
}

func (h *Handlers) sendOnce(ctx context.Context, step string, eventID uuid.UUID, msg mailer.Message) error {
	claimed, err := h.claims.Claim(ctx, step, eventID)
	if err != nil {
		return fmt.Errorf("claim %s: %w", step, err)
	}
	if !claimed {
		h.logg.Info(h.logg.WithField(ctx, "step", step), "mail already sent; skipping")
		return nil
	}
	if err := h.mail.Send(ctx, msg); err != nil {
		if forgetErr := h.claims.Forget(ctx, step, eventID); forgetErr != nil {
			h.logg.Error(h.logg.WithField(ctx, "step", step), "release idempotency claim", forgetErr)
		}
		return err
	}
	return nil
}

func payloadMismatch(resolved *registry.ResolvedEvent) error {
	return registry.NewNonRetryableError(fmt.Errorf("unexpected payload %T for %s", resolved.Payload, resolved.Descriptor.EventType))
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
