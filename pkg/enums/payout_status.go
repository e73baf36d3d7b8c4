package enums

import "fmt"

// PayoutStatus tracks the lifecycle of a vendor payout request.
type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "pending"
	PayoutStatusProcessed PayoutStatus = "processed"
	PayoutStatusFailed    PayoutStatus = "failed"
)

var validPayoutStatuses = []PayoutStatus{
	PayoutStatusPending,
	PayoutStatusProcessed,
	PayoutStatusFailed,
}

// String implements fmt.Stringer.
func (p PayoutStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PayoutStatus.
func (p PayoutStatus) IsValid() bool {
	for _, candidate := range validPayoutStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (p PayoutStatus) IsTerminal() bool {
	return p == PayoutStatusProcessed || p == PayoutStatusFailed
}

// ParsePayoutStatus converts raw input into a PayoutStatus.
func ParsePayoutStatus(value string) (PayoutStatus, error) {
	for _, candidate := range validPayoutStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout status %q", value)
}
