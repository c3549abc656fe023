package chainrecords

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pawfinds/pawfinds-backend/pkg/db/models"
	dbtypes "github.com/pawfinds/pawfinds-backend/pkg/db/types"
	"github.com/pawfinds/pawfinds-backend/pkg/enums"
)

const maxErrorLen = 1024

// Repository persists the off-chain mirror of addPet transactions and the
// contract events observed by the watcher.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a repository bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindByOutboxEvent returns the record created for an outbox event, or nil.
func (r *Repository) FindByOutboxEvent(ctx context.Context, eventID uuid.UUID) (*models.ChainRecord, error) {
	var rec models.ChainRecord
	err := r.db.WithContext(ctx).Where("outbox_event_id = ?", eventID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByTxHash returns the record for a transaction hash, or nil.
func (r *Repository) FindByTxHash(ctx context.Context, txHash string) (*models.ChainRecord, error) {
	var rec models.ChainRecord
	err := r.db.WithContext(ctx).Where("tx_hash = ?", txHash).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListByListing returns every chain record for a listing, oldest first.
func (r *Repository) ListByListing(ctx context.Context, listingID uuid.UUID) ([]models.ChainRecord, error) {
	var rows []models.ChainRecord
	err := r.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) Create(ctx context.Context, rec *models.ChainRecord) error {
	if rec.Status == "" {
		rec.Status = enums.ChainRecordSubmitted
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

// Resubmit points an existing record at a new transaction after a previous
// attempt was lost before confirmation.
func (r *Repository) Resubmit(ctx context.Context, id uuid.UUID, txHash, from string) error {
	return r.update(ctx, id, map[string]any{
		"tx_hash":      txHash,
		"from_address": from,
		"status":       enums.ChainRecordSubmitted,
		"last_error":   nil,
	})
}

// MarkConfirmed records the mined block and the decoded PetAdded event.
func (r *Repository) MarkConfirmed(ctx context.Context, id uuid.UUID, blockNumber uint64, event map[string]any) error {
	updates := map[string]any{
		"status":       enums.ChainRecordConfirmed,
		"block_number": blockNumber,
		"last_error":   nil,
	}
	if event != nil {
		doc, err := dbtypes.NewJSONDocument(event)
		if err != nil {
			return fmt.Errorf("encode on-chain event: %w", err)
		}
		updates["on_chain_event"] = doc
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := r.WithTx(tx)
		if err := repo.update(ctx, id, updates); err != nil {
			return err
		}
		return repo.correlateEvents(ctx, id)
	})
}

// correlateEvents links contract events the watcher stored before the
// record carried its tx hash.
func (r *Repository) correlateEvents(ctx context.Context, id uuid.UUID) error {
	var rec models.ChainRecord
	if err := r.db.WithContext(ctx).Select("listing_id", "tx_hash").Where("id = ?", id).First(&rec).Error; err != nil {
		return err
	}
	if rec.TxHash == nil {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.ChainEvent{}).
		Where("tx_hash = ? AND listing_id IS NULL", *rec.TxHash).
		Update("listing_id", rec.ListingID).Error
}

// MarkFailed records a reverted or abandoned transaction.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, blockNumber *uint64, reason string) error {
	if len(reason) > maxErrorLen {
		reason = reason[:maxErrorLen]
	}
	updates := map[string]any{
		"status":     enums.ChainRecordFailed,
		"last_error": reason,
	}
	if blockNumber != nil {
		updates["block_number"] = *blockNumber
	}
	return r.update(ctx, id, updates)
}

// MarkListingDeleted stamps every record of a deleted listing.
func (r *Repository) MarkListingDeleted(ctx context.Context, listingID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ChainRecord{}).
		Where("listing_id = ? AND listing_deleted_at IS NULL", listingID).
		Updates(map[string]any{"listing_deleted_at": at, "updated_at": at})
	return res.RowsAffected, res.Error
}

// ListingExists reports whether the listing row is still present.
func (r *Repository) ListingExists(ctx context.Context, listingID uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Listing{}).Where("id = ?", listingID).Count(&n).Error
	return n > 0, err
}

func (r *Repository) update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&models.ChainRecord{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// InsertEvent stores a contract event. It reports false when the
// (tx_hash, log_index) pair was already recorded.
func (r *Repository) InsertEvent(ctx context.Context, event *models.ChainEvent) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_hash"}, {Name: "log_index"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListEventsByListing returns observed events correlated to a listing.
func (r *Repository) ListEventsByListing(ctx context.Context, listingID uuid.UUID) ([]models.ChainEvent, error) {
	var rows []models.ChainEvent
	err := r.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Order("block_number ASC").
		Order("log_index ASC").
		Find(&rows).Error
	return rows, err
}
