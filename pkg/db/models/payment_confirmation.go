package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/amaruortiz/vendora-backend/pkg/enums"
)

// PaymentConfirmation records the single successful verification of an
// order's payment. The unique order constraint is the exactly-once guard
// for settlement.
type PaymentConfirmation struct {
	ID            uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID       uuid.UUID      `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_payment_confirmations_order"`
	Reference     string         `gorm:"column:reference;not null"`
	AmountCents   int64          `gorm:"column:amount_cents;not null"`
	Currency      enums.Currency `gorm:"column:currency;type:text;not null"`
	GatewayStatus string         `gorm:"column:gateway_status;not null"`
	SettledAt     time.Time      `gorm:"column:settled_at;not null"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime"`
}
