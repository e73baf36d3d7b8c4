package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is the catalog surface consulted at checkout for live price
// and stock.
type Product struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	VendorID   uuid.UUID `gorm:"column:vendor_id;type:uuid;not null;index"`
	Name       string    `gorm:"column:name;not null"`
	Category   string    `gorm:"column:category;not null"`
	PriceCents int64     `gorm:"column:price_cents;not null"`
	StockQty   int       `gorm:"column:stock_qty;not null;default:0"`
	Active     bool      `gorm:"column:active;not null;default:true"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
