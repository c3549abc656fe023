package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pawfinds/pawfinds-backend/pkg/enums"
)

func TestAutoMigrateAndHooks(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:models_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(All()...))

	listing := Listing{Name: "Milo", Age: "2", Area: "Pune", Justification: "moving", Email: "a@b.co", Phone: "1", Type: "Dog", Filename: "x.jpg"}
	require.NoError(t, conn.Create(&listing).Error)
	assert.NotEqual(t, uuid.Nil, listing.ID)
	assert.Equal(t, enums.ListingStatusPending, listing.Status)

	var stored Listing
	require.NoError(t, conn.First(&stored, "id = ?", listing.ID).Error)
	assert.Equal(t, "Milo", stored.Name)
	assert.False(t, stored.UpdatedAt.IsZero())

	record := ChainRecord{
		ListingID:       listing.ID,
		OutboxEventID:   uuid.New(),
		ContractAddress: "0xabc",
		FromAddress:     "0xdef",
		Status:          enums.ChainRecordSubmitted,
		ListingStatus:   enums.ListingStatusApproved,
	}
	require.NoError(t, conn.Create(&record).Error)
	assert.NotEqual(t, uuid.Nil, record.ID)
}
