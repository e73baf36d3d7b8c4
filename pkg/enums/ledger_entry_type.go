package enums

import "fmt"

// LedgerEntryType maps to the ledger_entry_type enum in Postgres.
type LedgerEntryType string

const (
	LedgerEntrySettlementCredit LedgerEntryType = "settlement_credit"
	LedgerEntryPayoutDebit      LedgerEntryType = "payout_debit"
	LedgerEntryPayoutReversal   LedgerEntryType = "payout_reversal"
	LedgerEntryRefundReversal   LedgerEntryType = "refund_reversal"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntrySettlementCredit,
	LedgerEntryPayoutDebit,
	LedgerEntryPayoutReversal,
	LedgerEntryRefundReversal,
}

// IsValid reports whether the value matches the canonical ledger entry enum.
func (t LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLedgerEntryType converts raw input into LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}
