package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/amaruortiz/vendora-backend/pkg/enums"
)

// Dispute is the 1:1 mediation record for an order.
type Dispute struct {
	ID                    uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID               uuid.UUID                `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_disputes_order"`
	BuyerUserID           uuid.UUID                `gorm:"column:buyer_user_id;type:uuid;not null;index"`
	Status                enums.DisputeStatus      `gorm:"column:status;type:text;not null;default:'open'"`
	Reason                string                   `gorm:"column:reason;not null"`
	Resolution            *enums.DisputeResolution `gorm:"column:resolution;type:text"`
	ResolutionAmountCents *int64                   `gorm:"column:resolution_amount_cents"`
	VendorResponse        *string                  `gorm:"column:vendor_response"`
	ResolvedAt            *time.Time               `gorm:"column:resolved_at"`
	CreatedAt             time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
