package payouts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/amaruortiz/vendora-backend/pkg/db/models"
	"github.com/amaruortiz/vendora-backend/pkg/enums"
	"github.com/amaruortiz/vendora-backend/pkg/pagination"
)

// Repository manages payout request rows. Status transitions are guarded
// single-row UPDATEs; zero rows means the payout already left pending.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payout *models.PayoutRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error)
	ListByVendor(ctx context.Context, vendorID uuid.UUID, params pagination.Params) ([]models.PayoutRequest, error)
	ListPending(ctx context.Context, limit int) ([]models.PayoutRequest, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, reference *string, processedAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, processedAt time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payouts repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payout *models.PayoutRequest) error {
	if payout.ID == uuid.Nil {
		payout.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(payout).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	var payout models.PayoutRequest
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&payout).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) ListByVendor(ctx context.Context, vendorID uuid.UUID, params pagination.Params) ([]models.PayoutRequest, error) {
	query := r.db.WithContext(ctx).
		Where("vendor_id = ?", vendorID).
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

	var payouts []models.PayoutRequest
	if err := query.Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

func (r *repository) ListPending(ctx context.Context, limit int) ([]models.PayoutRequest, error) {
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	var payouts []models.PayoutRequest
	if err := r.db.WithContext(ctx).
		Where("status = ?", enums.PayoutStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

func (r *repository) MarkProcessed(ctx context.Context, id uuid.UUID, reference *string, processedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PayoutRequest{}).
		Where("id = ? AND status = ?", id, enums.PayoutStatusPending).
		Updates(map[string]any{
			"status":       enums.PayoutStatusProcessed,
			"reference":    reference,
			"processed_at": processedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string, processedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PayoutRequest{}).
		Where("id = ? AND status = ?", id, enums.PayoutStatusPending).
		Updates(map[string]any{
			"status":         enums.PayoutStatusFailed,
			"failure_reason": reason,
			"processed_at":   processedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
