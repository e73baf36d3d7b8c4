package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/amaruortiz/vendora-backend/pkg/db/models"
	"github.com/amaruortiz/vendora-backend/pkg/enums"
	"github.com/amaruortiz/vendora-backend/pkg/pagination"
)

// Repository manages persistence for orders and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetByReference(ctx context.Context, reference string) (*models.Order, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) ([]models.Order, error)
	NextOrderNumber(ctx context.Context) (int64, error)
	SetPaymentReference(ctx context.Context, orderID uuid.UUID, reference string) error
	MarkPaid(ctx context.Context, orderID uuid.UUID, paidAt time.Time) (bool, error)
	MarkPaymentFailed(ctx context.Context, orderID uuid.UUID) (bool, error)
	MarkCancelled(ctx context.Context, orderID uuid.UUID) (bool, error)
	IncrementRefunded(ctx context.Context, orderID uuid.UUID, amountCents int64, fullyRefunded bool) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an orders repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	for i := range order.Items {
		if order.Items[i].ID == uuid.Nil {
			order.Items[i].ID = uuid.New()
		}
		order.Items[i].OrderID = order.ID
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) GetByReference(ctx context.Context, reference string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("payment_reference = ?", reference).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListByBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) ([]models.Order, error) {
	query := r.db.WithContext(ctx).
		Preload("Items").
		Where("buyer_user_id = ?", buyerID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit))

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var orders []models.Order
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// NextOrderNumber bumps the singleton counter and returns the new value.
// The row lock taken by the UPDATE serializes concurrent checkouts.
func (r *repository) NextOrderNumber(ctx context.Context) (int64, error) {
	if err := r.db.WithContext(ctx).
		Exec(`UPDATE order_counters SET next_value = next_value + 1 WHERE id = 1`).Error; err != nil {
		return 0, err
	}
	var next int64
	if err := r.db.WithContext(ctx).
		Model(&models.OrderCounter{}).
		Where("id = 1").
		Pluck("next_value", &next).Error; err != nil {
		return 0, err
	}
	return next, nil
}

func (r *repository) SetPaymentReference(ctx context.Context, orderID uuid.UUID, reference string) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("payment_reference", reference).Error
}

// MarkPaid transitions pending/failed payments to paid. Zero rows means
// another verification already won.
func (r *repository) MarkPaid(ctx context.Context, orderID uuid.UUID, paidAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status IN ?", orderID, []enums.PaymentStatus{
			enums.PaymentStatusPending,
			enums.PaymentStatusFailed,
		}).
		Updates(map[string]any{
			"payment_status": enums.PaymentStatusPaid,
			"status":         enums.OrderStatusProcessing,
			"paid_at":        paidAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) MarkPaymentFailed(ctx context.Context, orderID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", orderID, enums.PaymentStatusPending).
		Update("payment_status", enums.PaymentStatusFailed)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkCancelled transitions cancellable orders to cancelled.
func (r *repository) MarkCancelled(ctx context.Context, orderID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status IN ?", orderID, []enums.OrderStatus{
			enums.OrderStatusPending,
			enums.OrderStatusProcessing,
		}).
		Update("status", enums.OrderStatusCancelled)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// IncrementRefunded adds to the cumulative refund. The guard keeps the
// total within total_cents under concurrent refund attempts.
func (r *repository) IncrementRefunded(ctx context.Context, orderID uuid.UUID, amountCents int64, fullyRefunded bool) (bool, error) {
	updates := map[string]any{
		"refunded_cents": gorm.Expr("refunded_cents + ?", amountCents),
	}
	if fullyRefunded {
		updates["payment_status"] = enums.PaymentStatusRefunded
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND refunded_cents + ? <= total_cents", orderID, amountCents).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
