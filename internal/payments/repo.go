package payments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/amaruortiz/vendora-backend/pkg/db/models"
)

// Repository manages payment confirmation rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateConfirmation(ctx context.Context, confirmation *models.PaymentConfirmation) error
	GetConfirmationByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentConfirmation, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payments repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateConfirmation(ctx context.Context, confirmation *models.PaymentConfirmation) error {
	if confirmation.ID == uuid.Nil {
		confirmation.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(confirmation).Error
}

func (r *repository) GetConfirmationByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentConfirmation, error) {
	var confirmation models.PaymentConfirmation
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&confirmation).Error; err != nil {
		return nil, err
	}
	return &confirmation, nil
}
