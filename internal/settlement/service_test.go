package settlement

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/amaruortiz/vendora-backend/internal/ledger"
	"github.com/amaruortiz/vendora-backend/pkg/config"
	"github.com/amaruortiz/vendora-backend/pkg/db/models"
	"github.com/amaruortiz/vendora-backend/pkg/outbox"
)

func setupSettlementTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{`
CREATE TABLE IF NOT EXISTS commission_rules (
  id TEXT PRIMARY KEY,
  category TEXT NOT NULL UNIQUE,
  rate_bps INTEGER NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS platform_earnings (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE,
  amount_cents INTEGER NOT NULL,
  created_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS vendor_ledgers (
  vendor_id TEXT PRIMARY KEY,
  balance_cents INTEGER NOT NULL DEFAULT 0,
  version INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS ledger_entries (
  id TEXT PRIMARY KEY,
  vendor_id TEXT NOT NULL,
  order_id TEXT,
  payout_id TEXT,
  type TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  balance_after_cents INTEGER NOT NULL,
  metadata TEXT,
  created_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func newSettlementService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(
		NewRepository(db),
		ledger.NewRepository(db),
		outbox.NewService(outbox.NewRepository(db), nil),
		config.PricingConfig{DefaultCommissionBps: 1000},
		nil,
	)
	require.NoError(t, err)
	return svc
}

func runInTx(t *testing.T, db *gorm.DB, fn func(tx *gorm.DB) error) {
	t.Helper()
	tx := db.Begin()
	require.NoError(t, tx.Error)
	require.NoError(t, fn(tx))
	require.NoError(t, tx.Commit().Error)
}

func vendorBalance(t *testing.T, db *gorm.DB, vendorID uuid.UUID) int64 {
	t.Helper()
	var balance int64
	require.NoError(t, db.Raw(`SELECT balance_cents FROM vendor_ledgers WHERE vendor_id = ?`, vendorID).Scan(&balance).Error)
	return balance
}

func TestSettleSplitsAcrossVendors(t *testing.T) {
	// Scenario: 3 items across 2 vendors, subtotal 10_000, default 10%.
	db := setupSettlementTestDB(t)
	svc := newSettlementService(t, db)
	ctx := context.Background()

	vendorA := uuid.New()
	vendorB := uuid.New()
	order := &models.Order{
		ID:            uuid.New(),
		SubtotalCents: 10000,
		Items: []models.OrderItem{
			{VendorID: vendorA, Category: "gadgets", SubtotalCents: 4000},
			{VendorID: vendorA, Category: "gadgets", SubtotalCents: 2000},
			{VendorID: vendorB, Category: "books", SubtotalCents: 4000},
		},
	}

	runInTx(t, db, func(tx *gorm.DB) error {
		return svc.Settle(ctx, tx, order)
	})

	require.Equal(t, int64(5400), vendorBalance(t, db, vendorA), "90 percent of 6_000")
	require.Equal(t, int64(3600), vendorBalance(t, db, vendorB), "90 percent of 4_000")

	total, err := NewRepository(db).TotalEarnings(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1000), total)

	var entryCount int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM ledger_entries WHERE order_id = ?`, order.ID).Scan(&entryCount).Error)
	require.Equal(t, int64(2), entryCount, "one atomic credit per vendor")
}

func TestSettleUsesCategoryOverride(t *testing.T) {
	db := setupSettlementTestDB(t)
	svc := newSettlementService(t, db)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.CommissionRule{
		ID:       uuid.New(),
		Category: "luxury",
		RateBps:  2000,
	}).Error)

	vendorID := uuid.New()
	order := &models.Order{
		ID:            uuid.New(),
		SubtotalCents: 10000,
		Items: []models.OrderItem{
			{VendorID: vendorID, Category: "luxury", SubtotalCents: 10000},
		},
	}

	runInTx(t, db, func(tx *gorm.DB) error {
		return svc.Settle(ctx, tx, order)
	})

	require.Equal(t, int64(8000), vendorBalance(t, db, vendorID))

	rate, err := svc.RateFor(ctx, "luxury")
	require.NoError(t, err)
	require.Equal(t, 2000, rate)

	rate, err = svc.RateFor(ctx, "unknown")
	require.NoError(t, err)
	require.Equal(t, 1000, rate, "default applies without an override")
}

func TestSettleSecondAttemptRejectedByEarningBackstop(t *testing.T) {
	db := setupSettlementTestDB(t)
	svc := newSettlementService(t, db)
	ctx := context.Background()

	vendorID := uuid.New()
	order := &models.Order{
		ID:            uuid.New(),
		SubtotalCents: 5000,
		Items: []models.OrderItem{
			{VendorID: vendorID, Category: "gadgets", SubtotalCents: 5000},
		},
	}

	runInTx(t, db, func(tx *gorm.DB) error {
		return svc.Settle(ctx, tx, order)
	})

	tx := db.Begin()
	require.NoError(t, tx.Error)
	err := svc.Settle(ctx, tx, order)
	require.Error(t, err)
	require.NoError(t, tx.Rollback().Error)

	require.Equal(t, int64(4500), vendorBalance(t, db, vendorID), "rolled back retry leaves the credit single")
}

func TestConservationWithOddCents(t *testing.T) {
	db := setupSettlementTestDB(t)
	svc := newSettlementService(t, db)
	ctx := context.Background()

	vendorA := uuid.New()
	vendorB := uuid.New()
	order := &models.Order{
		ID:            uuid.New(),
		SubtotalCents: 777,
		Items: []models.OrderItem{
			{VendorID: vendorA, Category: "gadgets", SubtotalCents: 333},
			{VendorID: vendorB, Category: "gadgets", SubtotalCents: 444},
		},
	}

	split, err := svc.Preview(ctx, order)
	require.NoError(t, err)

	var vendorSum int64
	for _, share := range split.Vendors {
		vendorSum += share.ShareCents
		require.Equal(t, share.ItemsCents-share.ShareCents, share.CommCents)
	}
	require.Equal(t, order.SubtotalCents, vendorSum+split.PlatformCents, "shares plus platform reconstruct the subtotal")
}

func TestPreviewMatchesSettle(t *testing.T) {
	db := setupSettlementTestDB(t)
	svc := newSettlementService(t, db)
	ctx := context.Background()

	vendorID := uuid.New()
	order := &models.Order{
		ID:            uuid.New(),
		SubtotalCents: 1999,
		Items: []models.OrderItem{
			{VendorID: vendorID, Category: "gadgets", SubtotalCents: 1999},
		},
	}

	split, err := svc.Preview(ctx, order)
	require.NoError(t, err)

	runInTx(t, db, func(tx *gorm.DB) error {
		return svc.Settle(ctx, tx, order)
	})

	require.Equal(t, split.Vendors[0].ShareCents, vendorBalance(t, db, vendorID))

	var ledgerCount int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM ledger_entries`).Scan(&ledgerCount).Error)
	require.Equal(t, int64(1), ledgerCount, "preview writes nothing")
}
