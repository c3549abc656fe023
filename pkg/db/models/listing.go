package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pawfinds/pawfinds-backend/pkg/enums"
)

// Listing is a pet put up for adoption through the public submission form.
type Listing struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Name          string              `gorm:"column:name;not null" json:"name"`
	Age           string              `gorm:"column:age;not null" json:"age"`
	Area          string              `gorm:"column:area;not null" json:"area"`
	Justification string              `gorm:"column:justification;not null" json:"justification"`
	Email         string              `gorm:"column:email;not null" json:"email"`
	Phone         string              `gorm:"column:phone;not null" json:"phone"`
	Type          string              `gorm:"column:type;not null" json:"type"`
	Filename      string              `gorm:"column:filename;not null" json:"filename"`
	Status        enums.ListingStatus `gorm:"column:status;type:listing_status;not null;index:idx_listings_status_updated,priority:1" json:"status"`
	DecidedAt     *time.Time          `gorm:"column:decided_at" json:"decidedAt,omitempty"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime;index:idx_listings_status_updated,priority:2" json:"updatedAt"`
}

func (Listing) TableName() string { return "listings" }

func (l *Listing) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	if l.Status == "" {
		l.Status = enums.ListingStatusPending
	}
	return nil
}
