package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/amaruortiz/vendora-backend/pkg/enums"
)

// PayoutRequest is a vendor withdrawal. Funds are debited from the ledger
// at acceptance; a failed payout restores them via a reversal entry.
type PayoutRequest struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	VendorID      uuid.UUID          `gorm:"column:vendor_id;type:uuid;not null;index"`
	AmountCents   int64              `gorm:"column:amount_cents;not null"`
	Status        enums.PayoutStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	BankName      string             `gorm:"column:bank_name;not null"`
	AccountNumber string             `gorm:"column:account_number;not null"`
	AccountName   string             `gorm:"column:account_name;not null"`
	Reference     *string            `gorm:"column:reference"`
	FailureReason *string            `gorm:"column:failure_reason"`
	ProcessedAt   *time.Time         `gorm:"column:processed_at"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
