package listings

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pawfinds/pawfinds-backend/pkg/db/models"
	"github.com/pawfinds/pawfinds-backend/pkg/enums"
	"github.com/pawfinds/pawfinds-backend/pkg/pagination"
)

// Repository defines persistence operations for the listings table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, listing *models.Listing) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByStatus(ctx context.Context, status enums.ListingStatus, limit int, cursor *pagination.Cursor) ([]models.Listing, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// chainRecordStore is the part of the chain records repository the listing
// service touches. Deletion stamps records inside the listing transaction.
type chainRecordStore interface {
	ListByListing(ctx context.Context, listingID uuid.UUID) ([]models.ChainRecord, error)
	ListEventsByListing(ctx context.Context, listingID uuid.UUID) ([]models.ChainEvent, error)
	MarkListingDeleted(ctx context.Context, listingID uuid.UUID, at time.Time) (int64, error)
}

type chainRecordFactory func(tx *gorm.DB) chainRecordStore
