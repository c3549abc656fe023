package payloads

import (
	"github.com/google/uuid"

	"github.com/pawfinds/pawfinds-backend/pkg/enums"
)

// ListingSubmittedEvent triggers the submission confirmation mail.
type ListingSubmittedEvent struct {
	ListingID uuid.UUID `json:"listing_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
}

// ListingDecidedEvent carries the snapshot written to the adoption contract.
// The snapshot is taken inside the decision transaction so retries replay the
// exact values the admin approved.
type ListingDecidedEvent struct {
	ListingID uuid.UUID           `json:"listing_id"`
	Name      string              `json:"name"`
	Email     string              `json:"email"`
	Phone     string              `json:"phone"`
	Status    enums.ListingStatus `json:"status"`
}

// ListingDeletedEvent keeps enough of the deleted row to notify its owner.
type ListingDeletedEvent struct {
	ListingID uuid.UUID `json:"listing_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Filename  string    `json:"filename"`
}
