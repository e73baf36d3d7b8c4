package models

import (
	"time"

	"github.com/google/uuid"
)

// CommissionRule overrides the platform commission rate per category.
type CommissionRule struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Category  string    `gorm:"column:category;not null;uniqueIndex:ux_commission_rules_category"`
	RateBps   int       `gorm:"column:rate_bps;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
