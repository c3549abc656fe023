package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/pawfinds/pawfinds-backend/pkg/db/types"
	"github.com/pawfinds/pawfinds-backend/pkg/enums"
)

// ChainRecord mirrors one addPet transaction sent for a listing decision.
// ListingID is deliberately not a foreign key: the record outlives the listing.
type ChainRecord struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ListingID        uuid.UUID               `gorm:"column:listing_id;type:uuid;not null;index" json:"listingId"`
	OutboxEventID    uuid.UUID               `gorm:"column:outbox_event_id;type:uuid;not null;uniqueIndex:ux_chain_records_outbox_event" json:"outboxEventId"`
	ContractAddress  string                  `gorm:"column:contract_address;not null" json:"contractAddress"`
	FromAddress      string                  `gorm:"column:from_address;not null" json:"fromAddress"`
	TxHash           *string                 `gorm:"column:tx_hash;uniqueIndex:ux_chain_records_tx_hash" json:"txHash,omitempty"`
	BlockNumber      *uint64                 `gorm:"column:block_number" json:"blockNumber,omitempty"`
	Status           enums.ChainRecordStatus `gorm:"column:status;type:chain_record_status;not null" json:"status"`
	PetName          string                  `gorm:"column:pet_name;not null" json:"petName"`
	OwnerEmail       string                  `gorm:"column:owner_email;not null" json:"ownerEmail"`
	OwnerPhone       string                  `gorm:"column:owner_phone;not null" json:"ownerPhone"`
	ListingStatus    enums.ListingStatus     `gorm:"column:listing_status;type:listing_status;not null" json:"listingStatus"`
	OnChainEvent     dbtypes.JSONDocument    `gorm:"column:on_chain_event;type:jsonb" json:"onChainEvent,omitempty"`
	LastError        *string                 `gorm:"column:last_error" json:"lastError,omitempty"`
	ListingDeletedAt *time.Time              `gorm:"column:listing_deleted_at" json:"listingDeletedAt,omitempty"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time               `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (ChainRecord) TableName() string { return "chain_records" }

func (r *ChainRecord) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
