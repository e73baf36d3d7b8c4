package enums

import "fmt"

// DisputeStatus tracks the mediation lifecycle of a dispute.
type DisputeStatus string

const (
	DisputeStatusOpen            DisputeStatus = "open"
	DisputeStatusVendorResponded DisputeStatus = "vendor_responded"
	DisputeStatusUnderReview     DisputeStatus = "under_review"
	DisputeStatusResolved        DisputeStatus = "resolved"
	DisputeStatusCancelled       DisputeStatus = "cancelled"
)

var validDisputeStatuses = []DisputeStatus{
	DisputeStatusOpen,
	DisputeStatusVendorResponded,
	DisputeStatusUnderReview,
	DisputeStatusResolved,
	DisputeStatusCancelled,
}

// String implements fmt.Stringer.
func (d DisputeStatus) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DisputeStatus.
func (d DisputeStatus) IsValid() bool {
	for _, candidate := range validDisputeStatuses {
		if candidate == d {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the dispute admits no further transitions.
func (d DisputeStatus) IsTerminal() bool {
	return d == DisputeStatusResolved || d == DisputeStatusCancelled
}

// ParseDisputeStatus converts raw input into a DisputeStatus.
func ParseDisputeStatus(value string) (DisputeStatus, error) {
	for _, candidate := range validDisputeStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute status %q", value)
}

// DisputeResolution is the admin decision that closes a dispute.
type DisputeResolution string

const (
	DisputeResolutionRefundCustomer  DisputeResolution = "refund_customer"
	DisputeResolutionReleaseToVendor DisputeResolution = "release_to_vendor"
	DisputeResolutionPartialSplit    DisputeResolution = "partial_split"
	DisputeResolutionNone            DisputeResolution = "none"
)

var validDisputeResolutions = []DisputeResolution{
	DisputeResolutionRefundCustomer,
	DisputeResolutionReleaseToVendor,
	DisputeResolutionPartialSplit,
	DisputeResolutionNone,
}

// IsValid reports whether the value is a known DisputeResolution.
func (d DisputeResolution) IsValid() bool {
	for _, candidate := range validDisputeResolutions {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDisputeResolution converts raw input into a DisputeResolution.
func ParseDisputeResolution(value string) (DisputeResolution, error) {
	for _, candidate := range validDisputeResolutions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute resolution %q", value)
}
