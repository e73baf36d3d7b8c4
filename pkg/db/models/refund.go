package models

import (
	"time"

	"github.com/google/uuid"
)

// Refund records one refund issued against an order. The order's
// refunded_cents carries the cumulative total.
type Refund struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	AmountCents int64     `gorm:"column:amount_cents;not null"`
	Reason      string    `gorm:"column:reason;not null"`
	ActorUserID uuid.UUID `gorm:"column:actor_user_id;type:uuid;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}
