package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/pawfinds/pawfinds-backend/pkg/db/types"
)

// ChainEvent is a decoded contract log observed by the watcher.
type ChainEvent struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	EventName       string               `gorm:"column:event_name;not null" json:"eventName"`
	ContractAddress string               `gorm:"column:contract_address;not null" json:"contractAddress"`
	BlockNumber     uint64               `gorm:"column:block_number;not null;index" json:"blockNumber"`
	BlockHash       string               `gorm:"column:block_hash;not null" json:"blockHash"`
	TxHash          string               `gorm:"column:tx_hash;not null;uniqueIndex:ux_chain_events_tx_log,priority:1" json:"txHash"`
	LogIndex        uint                 `gorm:"column:log_index;not null;uniqueIndex:ux_chain_events_tx_log,priority:2" json:"logIndex"`
	ListingID       *uuid.UUID           `gorm:"column:listing_id;type:uuid;index" json:"listingId,omitempty"`
	Payload         dbtypes.JSONDocument `gorm:"column:payload;type:jsonb;not null" json:"payload"`
	Removed         bool                 `gorm:"column:removed;not null;default:false" json:"removed"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (ChainEvent) TableName() string { return "chain_events" }

func (e *ChainEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
