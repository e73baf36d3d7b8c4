package disputes

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/amaruortiz/vendora-backend/pkg/db/models"
	"github.com/amaruortiz/vendora-backend/pkg/enums"
	"github.com/amaruortiz/vendora-backend/pkg/pagination"
)

// Repository manages dispute rows. Transitions are guarded single-row
// UPDATEs keyed on the expected current status.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, dispute *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error)
	ListOpen(ctx context.Context, limit int) ([]models.Dispute, error)
	Transition(ctx context.Context, id uuid.UUID, from []enums.DisputeStatus, updates map[string]any) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a disputes repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, dispute *models.Dispute) error {
	if dispute.ID == uuid.Nil {
		dispute.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(dispute).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&dispute).Error; err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *repository) GetByOrder(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&dispute).Error; err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *repository) ListOpen(ctx context.Context, limit int) ([]models.Dispute, error) {
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	var disputes []models.Dispute
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []enums.DisputeStatus{
			enums.DisputeStatusOpen,
			enums.DisputeStatusVendorResponded,
			enums.DisputeStatusUnderReview,
		}).
		Order("created_at ASC").
		Limit(limit).
		Find(&disputes).Error; err != nil {
		return nil, err
	}
	return disputes, nil
}

// Transition applies updates when the dispute is in one of the expected
// states. Zero rows means a concurrent transition won.
func (r *repository) Transition(ctx context.Context, id uuid.UUID, from []enums.DisputeStatus, updates map[string]any) (bool, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
