package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/amaruortiz/vendora-backend/pkg/enums"
	"github.com/amaruortiz/vendora-backend/pkg/types"
)

// Order is the immutable priced snapshot created at checkout. Totals and
// unit prices never change after insert; only statuses and refunded_cents do.
type Order struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber      int64               `gorm:"column:order_number;not null;uniqueIndex:ux_orders_order_number"`
	BuyerUserID      uuid.UUID           `gorm:"column:buyer_user_id;type:uuid;not null;index"`
	Currency         enums.Currency      `gorm:"column:currency;type:text;not null;default:'USD'"`
	ShippingAddress  *types.Address      `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	PaymentMethod    enums.PaymentMethod `gorm:"column:payment_method;type:text;not null"`
	PaymentStatus    enums.PaymentStatus `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	Status           enums.OrderStatus   `gorm:"column:status;type:text;not null;default:'pending'"`
	SubtotalCents    int64               `gorm:"column:subtotal_cents;not null"`
	DiscountCents    int64               `gorm:"column:discount_cents;not null;default:0"`
	TaxCents         int64               `gorm:"column:tax_cents;not null;default:0"`
	ShippingFeeCents int64               `gorm:"column:shipping_fee_cents;not null;default:0"`
	TotalCents       int64               `gorm:"column:total_cents;not null"`
	RefundedCents    int64               `gorm:"column:refunded_cents;not null;default:0"`
	PaymentReference *string             `gorm:"column:payment_reference"`
	PaidAt           *time.Time          `gorm:"column:paid_at"`
	Items            []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// RemainingRefundableCents is the amount still eligible for refund.
func (o *Order) RemainingRefundableCents() int64 {
	remaining := o.TotalCents - o.RefundedCents
	if remaining < 0 {
		return 0
	}
	return remaining
}
