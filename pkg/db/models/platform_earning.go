package models

import (
	"time"

	"github.com/google/uuid"
)

// PlatformEarning is the commission taken on one settled order. The
// unique order constraint doubles as a settlement idempotency backstop.
type PlatformEarning struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_platform_earnings_order"`
	AmountCents int64     `gorm:"column:amount_cents;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}
