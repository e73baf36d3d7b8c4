package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/amaruortiz/vendora-backend/pkg/enums"
	"github.com/amaruortiz/vendora-backend/pkg/types"
)

// LedgerEntry is one signed movement on a vendor ledger. The running
// balance equals the sum of entries by construction.
type LedgerEntry struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	VendorID          uuid.UUID             `gorm:"column:vendor_id;type:uuid;not null;index"`
	OrderID           *uuid.UUID            `gorm:"column:order_id;type:uuid;index"`
	PayoutID          *uuid.UUID            `gorm:"column:payout_id;type:uuid"`
	Type              enums.LedgerEntryType `gorm:"column:type;type:text;not null"`
	AmountCents       int64                 `gorm:"column:amount_cents;not null"`
	BalanceAfterCents int64                 `gorm:"column:balance_after_cents;not null"`
	Metadata          *types.JSONMap        `gorm:"column:metadata;type:jsonb;serializer:json"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
}
