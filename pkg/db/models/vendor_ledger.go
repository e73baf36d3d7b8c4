package models

import (
	"time"

	"github.com/google/uuid"
)

// VendorLedger holds the current balance for a vendor. Every balance
// change goes through a guarded UPDATE that bumps version.
type VendorLedger struct {
	VendorID     uuid.UUID `gorm:"column:vendor_id;type:uuid;primaryKey"`
	BalanceCents int64     `gorm:"column:balance_cents;not null;default:0"`
	Version      int64     `gorm:"column:version;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
