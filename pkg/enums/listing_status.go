package enums

import (
	"fmt"
	"strings"
)

// ListingStatus maps to the listing_status enum in Postgres. Values are
// capitalized because they are also written to the adoption contract.
type ListingStatus string

const (
	ListingStatusPending  ListingStatus = "Pending"
	ListingStatusApproved ListingStatus = "Approved"
	ListingStatusRejected ListingStatus = "Rejected"
)

var validListingStatuses = []ListingStatus{
	ListingStatusPending,
	ListingStatusApproved,
	ListingStatusRejected,
}

func (s ListingStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches the canonical listing_status enum.
func (s ListingStatus) IsValid() bool {
	for _, candidate := range validListingStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsDecision reports whether the status is a terminal admin decision.
func (s ListingStatus) IsDecision() bool {
	return s == ListingStatusApproved || s == ListingStatusRejected
}

// CanTransitionTo enforces Pending -> Approved|Rejected.
func (s ListingStatus) CanTransitionTo(next ListingStatus) bool {
	return s == ListingStatusPending && next.IsDecision()
}

// ParseListingStatus converts raw input into ListingStatus, ignoring case.
func ParseListingStatus(value string) (ListingStatus, error) {
	trimmed := strings.TrimSpace(value)
	for _, candidate := range validListingStatuses {
		if strings.EqualFold(string(candidate), trimmed) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid listing status %q", value)
}
