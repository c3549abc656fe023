package enums

import "fmt"

// ChainRecordStatus tracks an addPet transaction from submission to receipt.
type ChainRecordStatus string

const (
	ChainRecordSubmitted ChainRecordStatus = "submitted"
	ChainRecordConfirmed ChainRecordStatus = "confirmed"
	ChainRecordFailed    ChainRecordStatus = "failed"
)

var validChainRecordStatuses = []ChainRecordStatus{
	ChainRecordSubmitted,
	ChainRecordConfirmed,
	ChainRecordFailed,
}

func (s ChainRecordStatus) IsValid() bool {
	for _, candidate := range validChainRecordStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseChainRecordStatus(value string) (ChainRecordStatus, error) {
	for _, candidate := range validChainRecordStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid chain record status %q", value)
}
