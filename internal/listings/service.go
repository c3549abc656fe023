package listings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pawfinds/pawfinds-backend/internal/chainrecords"
	"github.com/pawfinds/pawfinds-backend/internal/uploads"
	"github.com/pawfinds/pawfinds-backend/pkg/db/models"
	"github.com/pawfinds/pawfinds-backend/pkg/enums"
	pkgerrors "github.com/pawfinds/pawfinds-backend/pkg/errors"
	"github.com/pawfinds/pawfinds-backend/pkg/logger"
	"github.com/pawfinds/pawfinds-backend/pkg/metrics"
	"github.com/pawfinds/pawfinds-backend/pkg/outbox"
	"github.com/pawfinds/pawfinds-backend/pkg/outbox/payloads"
)

// Service exposes the listing lifecycle: submission, admin decision,
// deletion and the status queries.
type Service interface {
	Submit(ctx context.Context, input SubmitInput) (*models.Listing, error)
	Decide(ctx context.Context, input DecisionInput) (*models.Listing, error)
	Delete(ctx context.Context, input DeleteInput) error
	Get(ctx context.Context, id uuid.UUID) (*Detail, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
}

// SubmitInput carries the public submission form.
type SubmitInput struct {
	Name          string
	Age           string
	Area          string
	Justification string
	Email         string
	Phone         string
	Type          string
	Picture       io.Reader
	Actor         *outbox.ActorRef
}

// DecisionInput is an admin approval or rejection. Nil contact fields keep
// the submitted value.
type DecisionInput struct {
	ListingID uuid.UUID
	Status    enums.ListingStatus
	Name      *string
	Email     *string
	Phone     *string
	Actor     *outbox.ActorRef
}

type DeleteInput struct {
	ListingID uuid.UUID
	Actor     *outbox.ActorRef
}

// Detail is the admin view of a listing and its on-chain trail.
type Detail struct {
	Listing      models.Listing       `json:"listing"`
	ChainRecords []models.ChainRecord `json:"chainRecords"`
	ChainEvents  []models.ChainEvent  `json:"chainEvents"`
}

type service struct {
	repo         Repository
	tx           txRunner
	outbox       outbox.Emitter
	store        uploads.Store
	chainRecords chainRecordFactory
	logg         *logger.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

// NewService builds the listing service. chainRecords may be bound to any
// transaction; pass chainrecords.NewRepository's result.
func NewService(repo Repository, tx txRunner, emitter outbox.Emitter, store uploads.Store, records *chainrecords.Repository, logg *logger.Logger, m *metrics.Metrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("listings repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if store == nil {
		return nil, fmt.Errorf("upload store required")
	}
	if records == nil {
		return nil, fmt.Errorf("chain records repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:   repo,
		tx:     tx,
		outbox: emitter,
		store:  store,
		chainRecords: func(tx *gorm.DB) chainRecordStore {
			return records.WithTx(tx)
		},
		logg:    logg,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Submit(ctx context.Context, input SubmitInput) (*models.Listing, error) {
	listing := &models.Listing{
		Name:          strings.TrimSpace(input.Name),
		Age:           strings.TrimSpace(input.Age),
		Area:          strings.TrimSpace(input.Area),
		Justification: strings.TrimSpace(input.Justification),
		Email:         strings.TrimSpace(input.Email),
		Phone:         strings.TrimSpace(input.Phone),
		Type:          strings.TrimSpace(input.Type),
		Status:        enums.ListingStatusPending,
	}
	if err := requireFields(map[string]string{
		"name":          listing.Name,
		"age":           listing.Age,
		"area":          listing.Area,
		"justification": listing.Justification,
		"email":         listing.Email,
		"phone":         listing.Phone,
		"type":          listing.Type,
	}); err != nil {
		return nil, err
	}
	if input.Picture == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "picture is required").
			WithDetails(map[string]any{"picture": "required"})
	}

	stored, err := s.store.Save(ctx, input.Picture)
	if err != nil {
		return nil, err
	}
	listing.Filename = stored.Filename

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, listing); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create listing")
		}
		_, err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventListingSubmitted,
			AggregateType: enums.AggregateListing,
			AggregateID:   listing.ID,
			Actor:         input.Actor,
			Data: payloads.ListingSubmittedEvent{
				ListingID: listing.ID,
				Name:      listing.Name,
				Email:     listing.Email,
			},
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit listing_submitted")
		}
		return nil
	})
	if err != nil {
		if rmErr := s.store.Remove(ctx, stored.Filename); rmErr != nil {
			s.logg.Error(s.logg.WithField(ctx, "filename", stored.Filename), "remove orphaned upload", rmErr)
		}
		return nil, err
	}

	s.logg.Info(s.logg.WithListingID(ctx, listing.ID.String()), "listing submitted")
	return listing, nil
}

func (s *service) Decide(ctx context.Context, input DecisionInput) (*models.Listing, error) {
	if input.ListingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "listing id required")
	}
	if !input.Status.IsDecision() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "status must be %s or %s", enums.ListingStatusApproved, enums.ListingStatusRejected)
	}

	var decided *models.Listing
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		listing, err := repo.FindByIDForUpdate(ctx, input.ListingID)
		if err != nil {
			return notFoundOr(err, "load listing")
		}
		if !listing.Status.CanTransitionTo(input.Status) {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "listing is already %s", listing.Status).
				WithDetails(map[string]any{"status": listing.Status})
		}

		now := s.now()
		updates := map[string]any{
			"status":     input.Status,
			"decided_at": now,
			"updated_at": now,
		}
		applyContact(updates, "name", input.Name, &listing.Name)
		applyContact(updates, "email", input.Email, &listing.Email)
		applyContact(updates, "phone", input.Phone, &listing.Phone)

		if err := repo.Update(ctx, listing.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update listing")
		}
		listing.Status = input.Status
		listing.DecidedAt = &now
		listing.UpdatedAt = now

		_, err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventListingDecided,
			AggregateType: enums.AggregateListing,
			AggregateID:   listing.ID,
			Actor:         input.Actor,
			Data: payloads.ListingDecidedEvent{
				ListingID: listing.ID,
				Name:      listing.Name,
				Email:     listing.Email,
				Phone:     listing.Phone,
				Status:    listing.Status,
			},
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit listing_decided")
		}
		decided = listing
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncDecision(decided.Status.String())
	logCtx := s.logg.WithFields(ctx, map[string]any{"listing_id": decided.ID.String(), "status": decided.Status})
	s.logg.Info(logCtx, "listing decided")
	return decided, nil
}

func (s *service) Delete(ctx context.Context, input DeleteInput) error {
	if input.ListingID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "listing id required")
	}

	var filename string
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		listing, err := repo.FindByIDForUpdate(ctx, input.ListingID)
		if err != nil {
			return notFoundOr(err, "load listing")
		}
		if err := repo.Delete(ctx, listing.ID); err != nil {
			return notFoundOr(err, "delete listing")
		}
		if _, err := s.chainRecords(tx).MarkListingDeleted(ctx, listing.ID, s.now()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark chain records")
		}
		_, err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventListingDeleted,
			AggregateType: enums.AggregateListing,
			AggregateID:   listing.ID,
			Actor:         input.Actor,
			Data: payloads.ListingDeletedEvent{
				ListingID: listing.ID,
				Name:      listing.Name,
				Email:     listing.Email,
				Filename:  listing.Filename,
			},
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit listing_deleted")
		}
		filename = listing.Filename
		return nil
	})
	if err != nil {
		return err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{"listing_id": input.ListingID.String(), "filename": filename})
	if filename != "" {
		if err := s.store.Remove(ctx, filename); err != nil {
			s.logg.Error(logCtx, "remove listing image", err)
		}
	}
	s.logg.Info(logCtx, "listing deleted")
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Detail, error) {
	listing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "load listing")
	}
	records := s.chainRecords(nil)
	chainRows, err := records.ListByListing(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load chain records")
	}
	events, err := records.ListEventsByListing(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load chain events")
	}
	if chainRows == nil {
		chainRows = []models.ChainRecord{}
	}
	if events == nil {
		events = []models.ChainEvent{}
	}
	return &Detail{Listing: *listing, ChainRecords: chainRows, ChainEvents: events}, nil
}

func requireFields(fields map[string]string) error {
	missing := map[string]any{}
	for name, value := range fields {
		if value == "" {
			missing[name] = "required"
		}
	}
	if len(missing) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "missing required fields").WithDetails(missing)
	}
	return nil
}

func applyContact(updates map[string]any, column string, value *string, target *string) {
	if value == nil {
		return
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return
	}
	updates[column] = trimmed
	*target = trimmed
}

func notFoundOr(err error, action string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}
