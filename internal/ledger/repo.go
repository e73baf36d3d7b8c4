package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/amaruortiz/vendora-backend/pkg/db/models"
	"github.com/amaruortiz/vendora-backend/pkg/enums"
	"github.com/amaruortiz/vendora-backend/pkg/pagination"
)

// Repository manages vendor ledgers and their entries. Balance changes
// run as single-row UPDATEs that bump version; callers own the tx scope.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetLedger(ctx context.Context, vendorID uuid.UUID) (*models.VendorLedger, error)
	EnsureLedger(ctx context.Context, vendorID uuid.UUID) error
	Credit(ctx context.Context, vendorID uuid.UUID, amountCents int64) (int64, error)
	Debit(ctx context.Context, vendorID uuid.UUID, amountCents int64) (int64, error)
	DebitGuarded(ctx context.Context, vendorID uuid.UUID, amountCents, minRemainingCents int64) (int64, bool, error)
	CreateEntry(ctx context.Context, entry *models.LedgerEntry) error
	ListEntries(ctx context.Context, vendorID uuid.UUID, params pagination.Params) ([]models.LedgerEntry, error)
	SettlementCreditsByOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error)
	HeldCents(ctx context.Context, vendorID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) GetLedger(ctx context.Context, vendorID uuid.UUID) (*models.VendorLedger, error) {
	var ledger models.VendorLedger
	if err := r.db.WithContext(ctx).
		Where("vendor_id = ?", vendorID).
		First(&ledger).Error; err != nil {
		return nil, err
	}
	return &ledger, nil
}

func (r *repository) EnsureLedger(ctx context.Context, vendorID uuid.UUID) error {
	ledger := models.VendorLedger{VendorID: vendorID}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ledger).Error
}

// Credit adds funds unconditionally.
func (r *repository) Credit(ctx context.Context, vendorID uuid.UUID, amountCents int64) (int64, error) {
	if err := r.EnsureLedger(ctx, vendorID); err != nil {
		return 0, err
	}
	err := r.db.WithContext(ctx).
		Exec(`UPDATE vendor_ledgers SET balance_cents = balance_cents + ?, version = version + 1, updated_at = CURRENT_TIMESTAMP WHERE vendor_id = ?`,
			amountCents, vendorID).Error
	if err != nil {
		return 0, err
	}
	return r.currentBalance(ctx, vendorID)
}

// Debit removes funds without a floor. Refund reversals may drive a
// balance negative; that debt is settled by future credits.
func (r *repository) Debit(ctx context.Context, vendorID uuid.UUID, amountCents int64) (int64, error) {
	if err := r.EnsureLedger(ctx, vendorID); err != nil {
		return 0, err
	}
	err := r.db.WithContext(ctx).
		Exec(`UPDATE vendor_ledgers SET balance_cents = balance_cents - ?, version = version + 1, updated_at = CURRENT_TIMESTAMP WHERE vendor_id = ?`,
			amountCents, vendorID).Error
	if err != nil {
		return 0, err
	}
	return r.currentBalance(ctx, vendorID)
}

// DebitGuarded removes funds only when balance - amount >= minRemaining.
// Returns the post-debit balance and whether the debit applied.
func (r *repository) DebitGuarded(ctx context.Context, vendorID uuid.UUID, amountCents, minRemainingCents int64) (int64, bool, error) {
	res := r.db.WithContext(ctx).
		Exec(`UPDATE vendor_ledgers SET balance_cents = balance_cents - ?, version = version + 1, updated_at = CURRENT_TIMESTAMP WHERE vendor_id = ? AND balance_cents >= ?`,
			amountCents, vendorID, amountCents+minRemainingCents)
	if res.Error != nil {
		return 0, false, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, false, nil
	}
	balance, err := r.currentBalance(ctx, vendorID)
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

func (r *repository) currentBalance(ctx context.Context, vendorID uuid.UUID) (int64, error) {
	var balance int64
	err := r.db.WithContext(ctx).
		Model(&models.VendorLedger{}).
		Where("vendor_id = ?", vendorID).
		Pluck("balance_cents", &balance).Error
	return balance, err
}

func (r *repository) CreateEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListEntries(ctx context.Context, vendorID uuid.UUID, params pagination.Params) ([]models.LedgerEntry, error) {
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

	var entries []models.LedgerEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) SettlementCreditsByOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND type = ?", orderID, enums.LedgerEntrySettlementCredit).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// HeldCents sums ledger movement tied to orders with an unresolved
// dispute. Held funds stay on the balance but are unavailable for payout.
func (r *repository) HeldCents(ctx context.Context, vendorID uuid.UUID) (int64, error) {
	var held int64
	err := r.db.WithContext(ctx).Raw(`
SELECT COALESCE(SUM(le.amount_cents), 0)
FROM ledger_entries le
JOIN disputes d ON d.order_id = le.order_id
WHERE le.vendor_id = ?
  AND le.order_id IS NOT NULL
  AND d.status IN (?, ?, ?)`,
		vendorID,
		enums.DisputeStatusOpen,
		enums.DisputeStatusVendorResponded,
		enums.DisputeStatusUnderReview,
	).Scan(&held).Error
	if err != nil {
		return 0, err
	}
	if held < 0 {
		held = 0
	}
	return held, nil
}
