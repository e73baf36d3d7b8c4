package refunds

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/amaruortiz/vendora-backend/pkg/db/models"
)

// Repository manages refund records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, refund *models.Refund) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a refunds repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, refund *models.Refund) error {
	if refund.ID == uuid.Nil {
		refund.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error) {
	var refunds []models.Refund
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&refunds).Error; err != nil {
		return nil, err
	}
	return refunds, nil
}
