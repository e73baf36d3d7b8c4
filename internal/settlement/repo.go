package settlement

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/amaruortiz/vendora-backend/pkg/db/models"
)

// Repository manages commission rules and platform earnings.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetRuleByCategory(ctx context.Context, category string) (*models.CommissionRule, error)
	CreateEarning(ctx context.Context, earning *models.PlatformEarning) error
	TotalEarnings(ctx context.Context) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a settlement repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) GetRuleByCategory(ctx context.Context, category string) (*models.CommissionRule, error) {
	var rule models.CommissionRule
	if err := r.db.WithContext(ctx).
		Where("category = ?", category).
		First(&rule).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *repository) CreateEarning(ctx context.Context, earning *models.PlatformEarning) error {
	if earning.ID == uuid.Nil {
		earning.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(earning).Error
}

func (r *repository) TotalEarnings(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.PlatformEarning{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&total).Error
	return total, err
}
