package disputes

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/amaruortiz/vendora-backend/internal/catalog"
	"github.com/amaruortiz/vendora-backend/internal/ledger"
	"github.com/amaruortiz/vendora-backend/internal/orders"
	"github.com/amaruortiz/vendora-backend/internal/refunds"
	"github.com/amaruortiz/vendora-backend/pkg/db/models"
	"github.com/amaruortiz/vendora-backend/pkg/enums"
	"github.com/amaruortiz/vendora-backend/pkg/errors"
	"github.com/amaruortiz/vendora-backend/pkg/outbox"
	"github.com/amaruortiz/vendora-backend/pkg/types"
)

type testRunner struct {
	db *gorm.DB
}

func (r testRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

func setupDisputesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{`
CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  vendor_id TEXT NOT NULL,
  name TEXT NOT NULL,
  category TEXT NOT NULL,
  price_cents INTEGER NOT NULL,
  stock_qty INTEGER NOT NULL DEFAULT 0,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  order_number INTEGER NOT NULL,
  buyer_user_id TEXT NOT NULL,
  currency TEXT NOT NULL,
  shipping_address TEXT,
  payment_method TEXT NOT NULL,
  payment_status TEXT NOT NULL,
  status TEXT NOT NULL,
  subtotal_cents INTEGER NOT NULL,
  discount_cents INTEGER NOT NULL DEFAULT 0,
  tax_cents INTEGER NOT NULL DEFAULT 0,
  shipping_fee_cents INTEGER NOT NULL DEFAULT 0,
  total_cents INTEGER NOT NULL,
  refunded_cents INTEGER NOT NULL DEFAULT 0,
  payment_reference TEXT,
  paid_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  vendor_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  name TEXT NOT NULL,
  category TEXT NOT NULL,
  unit_price_cents INTEGER NOT NULL,
  qty INTEGER NOT NULL,
  subtotal_cents INTEGER NOT NULL,
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
CREATE TABLE IF NOT EXISTS refunds (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  reason TEXT NOT NULL,
  actor_user_id TEXT NOT NULL,
  created_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS disputes (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE,
  buyer_user_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'open',
  reason TEXT NOT NULL,
  resolution TEXT,
  resolution_amount_cents INTEGER,
  vendor_response TEXT,
  resolved_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
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

func newDisputesService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	events := outbox.NewService(outbox.NewRepository(db), nil)
	refunder, err := refunds.NewService(
		refunds.NewRepository(db),
		orders.NewRepository(db),
		ledger.NewRepository(db),
		catalog.NewRepository(db),
		events,
		testRunner{db: db},
		nil,
		nil,
	)
	require.NoError(t, err)

	svc, err := NewService(
		NewRepository(db),
		orders.NewRepository(db),
		refunder,
		events,
		testRunner{db: db},
		nil,
	)
	require.NoError(t, err)
	return svc
}

// seedSettledOrder creates a paid 5_000-total single-vendor order with its
// settlement credit of 4_500 already on the ledger.
func seedSettledOrder(t *testing.T, db *gorm.DB) (*models.Order, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	vendorID := uuid.New()
	paidAt := time.Now().UTC()

	order := &models.Order{
		ID:            uuid.New(),
		OrderNumber:   1001,
		BuyerUserID:   uuid.New(),
		Currency:      enums.CurrencyUSD,
		PaymentMethod: enums.PaymentMethodCard,
		PaymentStatus: enums.PaymentStatusPaid,
		Status:        enums.OrderStatusProcessing,
		SubtotalCents: 5000,
		TotalCents:    5000,
		PaidAt:        &paidAt,
		Items: []models.OrderItem{
			{ID: uuid.New(), VendorID: vendorID, ProductID: uuid.New(), Name: "Widget", Category: "gadgets", UnitPriceCents: 5000, Qty: 1, SubtotalCents: 5000},
		},
	}
	require.NoError(t, orders.NewRepository(db).Create(ctx, order))

	ledgers := ledger.NewRepository(db)
	after, err := ledgers.Credit(ctx, vendorID, 4500)
	require.NoError(t, err)
	orderID := order.ID
	require.NoError(t, ledgers.CreateEntry(ctx, &models.LedgerEntry{
		VendorID:          vendorID,
		OrderID:           &orderID,
		Type:              enums.LedgerEntrySettlementCredit,
		AmountCents:       4500,
		BalanceAfterCents: after,
	}))
	return order, vendorID
}

func disputeBalance(t *testing.T, db *gorm.DB, vendorID uuid.UUID) int64 {
	t.Helper()
	var balance int64
	require.NoError(t, db.Raw(`SELECT balance_cents FROM vendor_ledgers WHERE vendor_id = ?`, vendorID).Scan(&balance).Error)
	return balance
}

func buyerOf(order *models.Order) types.Actor {
	return types.Actor{UserID: order.BuyerUserID, Role: enums.RoleBuyer}
}

func TestOpenDispute(t *testing.T) {
	db := setupDisputesTestDB(t)
	svc := newDisputesService(t, db)
	order, _ := seedSettledOrder(t, db)

	dispute, err := svc.Open(context.Background(), order.ID, buyerOf(order), "item never arrived")
	require.NoError(t, err)
	require.Equal(t, enums.DisputeStatusOpen, dispute.Status)

	// One dispute per order.
	_, err = svc.Open(context.Background(), order.ID, buyerOf(order), "again")
	require.Error(t, err)
	require.Equal(t, errors.CodeConflict, errors.As(err).Code())

	_, err = svc.Open(context.Background(), order.ID, types.Actor{UserID: uuid.New(), Role: enums.RoleBuyer}, "mine too")
	require.Error(t, err)
	require.Equal(t, errors.CodeForbidden, errors.As(err).Code())
}

func TestOpenDisputeRequiresPaidOrder(t *testing.T) {
	db := setupDisputesTestDB(t)
	svc := newDisputesService(t, db)

	order := &models.Order{
		ID:            uuid.New(),
		OrderNumber:   1002,
		BuyerUserID:   uuid.New(),
		Currency:      enums.CurrencyUSD,
		PaymentMethod: enums.PaymentMethodCard,
		PaymentStatus: enums.PaymentStatusPending,
		Status:        enums.OrderStatusPending,
		SubtotalCents: 1000,
		TotalCents:    1000,
	}
	require.NoError(t, orders.NewRepository(db).Create(context.Background(), order))

	_, err := svc.Open(context.Background(), order.ID, buyerOf(order), "not even paid")
	require.Error(t, err)
	require.Equal(t, errors.CodeStateConflict, errors.As(err).Code())
}

func TestLifecycleToRelease(t *testing.T) {
	db := setupDisputesTestDB(t)
	svc := newDisputesService(t, db)
	order, vendorID := seedSettledOrder(t, db)

	dispute, err := svc.Open(context.Background(), order.ID, buyerOf(order), "wrong color")
	require.NoError(t, err)

	vendor := types.Actor{UserID: uuid.New(), Role: enums.RoleVendor, VendorID: &vendorID}
	dispute, err = svc.VendorRespond(context.Background(), dispute.ID, vendor, "color matches the listing")
	require.NoError(t, err)
	require.Equal(t, enums.DisputeStatusVendorResponded, dispute.Status)

	// Responding twice hits the state guard.
	_, err = svc.VendorRespond(context.Background(), dispute.ID, vendor, "still matches")
	require.Error(t, err)
	require.Equal(t, errors.CodeStateConflict, errors.As(err).Code())

	admin := types.Actor{UserID: uuid.New(), Role: enums.RoleAdmin}
	dispute, err = svc.StartReview(context.Background(), dispute.ID, admin)
	require.NoError(t, err)
	require.Equal(t, enums.DisputeStatusUnderReview, dispute.Status)

	dispute, err = svc.Resolve(context.Background(), dispute.ID, admin, ResolveInput{Resolution: enums.DisputeResolutionReleaseToVendor})
	require.NoError(t, err)
	require.Equal(t, enums.DisputeStatusResolved, dispute.Status)
	require.NotNil(t, dispute.Resolution)
	require.Equal(t, enums.DisputeResolutionReleaseToVendor, *dispute.Resolution)

	require.Equal(t, int64(4500), disputeBalance(t, db, vendorID), "release moves no money")
}

func TestResolveRefundCustomer(t *testing.T) {
	db := setupDisputesTestDB(t)
	svc := newDisputesService(t, db)
	order, vendorID := seedSettledOrder(t, db)

	dispute, err := svc.Open(context.Background(), order.ID, buyerOf(order), "defective")
	require.NoError(t, err)

	admin := types.Actor{UserID: uuid.New(), Role: enums.RoleAdmin}
	dispute, err = svc.Resolve(context.Background(), dispute.ID, admin, ResolveInput{Resolution: enums.DisputeResolutionRefundCustomer})
	require.NoError(t, err)
	require.Equal(t, enums.DisputeStatusResolved, dispute.Status)
	require.NotNil(t, dispute.ResolutionAmountCents)
	require.Equal(t, int64(5000), *dispute.ResolutionAmountCents)

	require.Equal(t, int64(0), disputeBalance(t, db, vendorID), "settlement credit clawed back")

	var paymentStatus enums.PaymentStatus
	require.NoError(t, db.Raw(`SELECT payment_status FROM orders WHERE id = ?`, order.ID).Scan(&paymentStatus).Error)
	require.Equal(t, enums.PaymentStatusRefunded, paymentStatus)

	// Closing the dispute releases the payout hold.
	held, err := ledger.NewRepository(db).HeldCents(context.Background(), vendorID)
	require.NoError(t, err)
	require.Equal(t, int64(0), held)
}

func TestResolvePartialSplit(t *testing.T) {
	db := setupDisputesTestDB(t)
	svc := newDisputesService(t, db)
	order, vendorID := seedSettledOrder(t, db)

	dispute, err := svc.Open(context.Background(), order.ID, buyerOf(order), "half the shipment missing")
	require.NoError(t, err)

	admin := types.Actor{UserID: uuid.New(), Role: enums.RoleAdmin}

	_, err = svc.Resolve(context.Background(), dispute.ID, admin, ResolveInput{Resolution: enums.DisputeResolutionPartialSplit})
	require.Error(t, err)
	require.Equal(t, errors.CodeValidation, errors.As(err).Code())

	dispute, err = svc.Resolve(context.Background(), dispute.ID, admin, ResolveInput{
		Resolution:  enums.DisputeResolutionPartialSplit,
		AmountCents: 2500,
	})
	require.NoError(t, err)
	require.NotNil(t, dispute.ResolutionAmountCents)
	require.Equal(t, int64(2500), *dispute.ResolutionAmountCents)

	require.Equal(t, int64(2250), disputeBalance(t, db, vendorID), "half the credit reversed")
}

func TestCancelDispute(t *testing.T) {
	db := setupDisputesTestDB(t)
	svc := newDisputesService(t, db)
	order, _ := seedSettledOrder(t, db)

	dispute, err := svc.Open(context.Background(), order.ID, buyerOf(order), "opened by mistake")
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), dispute.ID, types.Actor{UserID: uuid.New(), Role: enums.RoleBuyer})
	require.Error(t, err)
	require.Equal(t, errors.CodeForbidden, errors.As(err).Code())

	dispute, err = svc.Cancel(context.Background(), dispute.ID, buyerOf(order))
	require.NoError(t, err)
	require.Equal(t, enums.DisputeStatusCancelled, dispute.Status)

	admin := types.Actor{UserID: uuid.New(), Role: enums.RoleAdmin}
	_, err = svc.Resolve(context.Background(), dispute.ID, admin, ResolveInput{Resolution: enums.DisputeResolutionNone})
	require.Error(t, err)
	require.Equal(t, errors.CodeStateConflict, errors.As(err).Code())
}

func TestResolveRequiresAdmin(t *testing.T) {
	db := setupDisputesTestDB(t)
	svc := newDisputesService(t, db)
	order, _ := seedSettledOrder(t, db)

	dispute, err := svc.Open(context.Background(), order.ID, buyerOf(order), "please refund")
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), dispute.ID, buyerOf(order), ResolveInput{Resolution: enums.DisputeResolutionRefundCustomer})
	require.Error(t, err)
	require.Equal(t, errors.CodeForbidden, errors.As(err).Code())
}
