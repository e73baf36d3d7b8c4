package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderItem is a priced line captured at checkout time.
type OrderItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	VendorID       uuid.UUID `gorm:"column:vendor_id;type:uuid;not null;index"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Name           string    `gorm:"column:name;not null"`
	Category       string    `gorm:"column:category;not null"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null"`
	Qty            int       `gorm:"column:qty;not null"`
	SubtotalCents  int64     `gorm:"column:subtotal_cents;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
