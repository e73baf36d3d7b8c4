package catalog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/amaruortiz/vendora-backend/pkg/db/models"
)

// Repository exposes the catalog surface the checkout path depends on.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
	DecrementStock(ctx context.Context, productID uuid.UUID, qty int) (bool, error)
	RestoreStock(ctx context.Context, productID uuid.UUID, qty int) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a catalog repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *repository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var products []models.Product
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// DecrementStock reserves qty units only when enough stock remains.
// Zero rows affected means the reservation lost to concurrent buyers.
func (r *repository) DecrementStock(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).
		Exec(`UPDATE products SET stock_qty = stock_qty - ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND active AND stock_qty >= ?`,
			qty, productID, qty)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RestoreStock returns previously reserved units after a cancellation.
func (r *repository) RestoreStock(ctx context.Context, productID uuid.UUID, qty int) error {
	return r.db.WithContext(ctx).
		Exec(`UPDATE products SET stock_qty = stock_qty + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			qty, productID).Error
}
