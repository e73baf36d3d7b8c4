package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/amaruortiz/vendora-backend/internal/ledger"
	"github.com/amaruortiz/vendora-backend/internal/orders"
	"github.com/amaruortiz/vendora-backend/internal/settlement"
	"github.com/amaruortiz/vendora-backend/pkg/config"
	"github.com/amaruortiz/vendora-backend/pkg/db/models"
	"github.com/amaruortiz/vendora-backend/pkg/enums"
	"github.com/amaruortiz/vendora-backend/pkg/errors"
	"github.com/amaruortiz/vendora-backend/pkg/gateway"
	"github.com/amaruortiz/vendora-backend/pkg/outbox"
	"github.com/amaruortiz/vendora-backend/pkg/types"
)

type fakeGateway struct {
	result   *gateway.VerificationResult
	err      error
	sessions int
}

func (f *fakeGateway) CreateSession(_ context.Context, reference string, _ int64, _ string) (*gateway.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sessions++
	return &gateway.Session{Reference: reference, RedirectURL: "https://pay.example/r/" + reference}, nil
}

func (f *fakeGateway) VerifyByReference(context.Context, string) (*gateway.VerificationResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// parkingGateway blocks the first verification in flight so a second
// caller can race it. Later calls answer immediately.
type parkingGateway struct {
	result  *gateway.VerificationResult
	parked  chan struct{}
	release chan struct{}
	once    sync.Once
}

func newParkingGateway(result *gateway.VerificationResult) *parkingGateway {
	return &parkingGateway{
		result:  result,
		parked:  make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *parkingGateway) CreateSession(_ context.Context, reference string, _ int64, _ string) (*gateway.Session, error) {
	return &gateway.Session{Reference: reference, RedirectURL: "https://pay.example/r/" + reference}, nil
}

func (g *parkingGateway) VerifyByReference(context.Context, string) (*gateway.VerificationResult, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.parked)
		<-g.release
	}
	return g.result, nil
}

type fakeLocker struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{keys: make(map[string]bool)}
}

func (f *fakeLocker) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func (f *fakeLocker) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.keys, key)
	}
	return nil
}

func (f *fakeLocker) LockKey(scope, id string) string {
	return "vn:lock:" + scope + ":" + id
}

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

func setupPaymentsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{`
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
  discount_cents INTEGER NOT NULL,
  tax_cents INTEGER NOT NULL,
  shipping_fee_cents INTEGER NOT NULL,
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
CREATE TABLE IF NOT EXISTS payment_confirmations (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE,
  reference TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  gateway_status TEXT NOT NULL,
  settled_at DATETIME NOT NULL,
  created_at DATETIME
);`, `
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

func newPaymentsService(t *testing.T, db *gorm.DB, provider Gateway) Service {
	t.Helper()
	return newPaymentsServiceWithLocks(t, db, provider, nil)
}

func newPaymentsServiceWithLocks(t *testing.T, db *gorm.DB, provider Gateway, locks locker) Service {
	t.Helper()
	events := outbox.NewService(outbox.NewRepository(db), nil)
	settler, err := settlement.NewService(
		settlement.NewRepository(db),
		ledger.NewRepository(db),
		events,
		config.PricingConfig{DefaultCommissionBps: 1000},
		nil,
	)
	require.NoError(t, err)

	svc, err := NewService(
		NewRepository(db),
		orders.NewRepository(db),
		settler,
		events,
		provider,
		testRunner{db: db},
		locks,
		nil,
		nil,
	)
	require.NoError(t, err)
	return svc
}

func seedOrder(t *testing.T, db *gorm.DB, method enums.PaymentMethod, reference string, vendorID uuid.UUID) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:               uuid.New(),
		OrderNumber:      1001,
		BuyerUserID:      uuid.New(),
		Currency:         enums.CurrencyUSD,
		PaymentMethod:    method,
		PaymentStatus:    enums.PaymentStatusPending,
		Status:           enums.OrderStatusPending,
		SubtotalCents:    10000,
		DiscountCents:    0,
		TaxCents:         750,
		ShippingFeeCents: 1500,
		TotalCents:       12250,
		Items: []models.OrderItem{{
			ID:             uuid.New(),
			VendorID:       vendorID,
			ProductID:      uuid.New(),
			Name:           "Widget",
			Category:       "gadgets",
			UnitPriceCents: 10000,
			Qty:            1,
			SubtotalCents:  10000,
		}},
	}
	if reference != "" {
		order.PaymentReference = &reference
	}
	require.NoError(t, orders.NewRepository(db).Create(context.Background(), order))
	return order
}

func orderState(t *testing.T, db *gorm.DB, orderID uuid.UUID) (enums.PaymentStatus, enums.OrderStatus) {
	t.Helper()
	var row struct {
		PaymentStatus enums.PaymentStatus
		Status        enums.OrderStatus
	}
	require.NoError(t, db.Raw(`SELECT payment_status, status FROM orders WHERE id = ?`, orderID).Scan(&row).Error)
	return row.PaymentStatus, row.Status
}

func TestInitiateStoresReference(t *testing.T) {
	db := setupPaymentsTestDB(t)
	provider := &fakeGateway{}
	svc := newPaymentsService(t, db, provider)
	order := seedOrder(t, db, enums.PaymentMethodCard, "", uuid.New())

	result, err := svc.Initiate(context.Background(), order.ID, types.Actor{UserID: order.BuyerUserID, Role: enums.RoleBuyer})
	require.NoError(t, err)
	require.NotEmpty(t, result.Reference)
	require.Contains(t, result.RedirectURL, result.Reference)
	require.Equal(t, 1, provider.sessions)

	var stored string
	require.NoError(t, db.Raw(`SELECT payment_reference FROM orders WHERE id = ?`, order.ID).Scan(&stored).Error)
	require.Equal(t, result.Reference, stored)

	// Re-initiating an abandoned redirect reuses the stored reference.
	again, err := svc.Initiate(context.Background(), order.ID, types.Actor{UserID: order.BuyerUserID, Role: enums.RoleBuyer})
	require.NoError(t, err)
	require.Equal(t, result.Reference, again.Reference)
}

func TestInitiateForbiddenForStranger(t *testing.T) {
	db := setupPaymentsTestDB(t)
	svc := newPaymentsService(t, db, &fakeGateway{})
	order := seedOrder(t, db, enums.PaymentMethodCard, "", uuid.New())

	_, err := svc.Initiate(context.Background(), order.ID, types.Actor{UserID: uuid.New(), Role: enums.RoleBuyer})
	require.Error(t, err)
	require.Equal(t, errors.CodeForbidden, errors.As(err).Code())
}

func TestVerifyConfirmsAndSettlesExactlyOnce(t *testing.T) {
	db := setupPaymentsTestDB(t)
	vendorID := uuid.New()
	provider := &fakeGateway{result: &gateway.VerificationResult{
		Reference:   "pay_ref_1",
		Status:      "success",
		AmountCents: 12250,
		Currency:    "USD",
		SettledAt:   time.Now().UTC(),
	}}
	svc := newPaymentsService(t, db, provider)
	order := seedOrder(t, db, enums.PaymentMethodCard, "pay_ref_1", vendorID)

	result, err := svc.Verify(context.Background(), order.ID, "pay_ref_1")
	require.NoError(t, err)
	require.True(t, result.Paid)
	require.False(t, result.AlreadyPaid)

	paymentStatus, status := orderState(t, db, order.ID)
	require.Equal(t, enums.PaymentStatusPaid, paymentStatus)
	require.Equal(t, enums.OrderStatusProcessing, status)

	var balance int64
	require.NoError(t, db.Raw(`SELECT balance_cents FROM vendor_ledgers WHERE vendor_id = ?`, vendorID).Scan(&balance).Error)
	require.Equal(t, int64(9000), balance, "vendor credited net of commission")

	// Webhook and callback race on the same path; the loser is a no-op.
	result, err = svc.Verify(context.Background(), order.ID, "pay_ref_1")
	require.NoError(t, err)
	require.True(t, result.AlreadyPaid)

	var confirmations, credits int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM payment_confirmations WHERE order_id = ?`, order.ID).Scan(&confirmations).Error)
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM ledger_entries WHERE order_id = ?`, order.ID).Scan(&credits).Error)
	require.Equal(t, int64(1), confirmations)
	require.Equal(t, int64(1), credits)
}

func TestVerifyWebhookRedirectRaceBothSucceed(t *testing.T) {
	db := setupPaymentsTestDB(t)
	vendorID := uuid.New()
	gw := newParkingGateway(&gateway.VerificationResult{
		Reference:   "pay_ref_race",
		Status:      "success",
		AmountCents: 12250,
		Currency:    "USD",
		SettledAt:   time.Now().UTC(),
	})
	svc := newPaymentsServiceWithLocks(t, db, gw, newFakeLocker())
	order := seedOrder(t, db, enums.PaymentMethodCard, "pay_ref_race", vendorID)

	// The webhook arrives first, takes the lock, and parks at the gateway.
	webhookRes := make(chan *VerifyResult, 1)
	webhookErr := make(chan error, 1)
	go func() {
		result, err := svc.VerifyByReference(context.Background(), "pay_ref_race")
		webhookRes <- result
		webhookErr <- err
	}()
	<-gw.parked

	// The buyer's redirect lands in the same window. Losing the lock race
	// must not surface an error for a payment that succeeded.
	redirect, err := svc.Verify(context.Background(), order.ID, "pay_ref_race")
	require.NoError(t, err)
	require.True(t, redirect.Paid)

	close(gw.release)
	require.NoError(t, <-webhookErr)
	webhook := <-webhookRes
	require.True(t, webhook.Paid)
	require.True(t, webhook.AlreadyPaid, "second confirm resolves to a paid no-op")

	var confirmations, credits int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM payment_confirmations WHERE order_id = ?`, order.ID).Scan(&confirmations).Error)
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM ledger_entries WHERE order_id = ?`, order.ID).Scan(&credits).Error)
	require.Equal(t, int64(1), confirmations)
	require.Equal(t, int64(1), credits)
}

func TestVerifyByReferenceResolvesOrder(t *testing.T) {
	db := setupPaymentsTestDB(t)
	provider := &fakeGateway{result: &gateway.VerificationResult{
		Reference:   "pay_ref_2",
		Status:      "success",
		AmountCents: 12250,
		Currency:    "USD",
		SettledAt:   time.Now().UTC(),
	}}
	svc := newPaymentsService(t, db, provider)
	order := seedOrder(t, db, enums.PaymentMethodCard, "pay_ref_2", uuid.New())

	result, err := svc.VerifyByReference(context.Background(), "pay_ref_2")
	require.NoError(t, err)
	require.Equal(t, order.ID, result.OrderID)
	require.True(t, result.Paid)

	_, err = svc.VerifyByReference(context.Background(), "no_such_ref")
	require.Error(t, err)
	require.Equal(t, errors.CodeNotFound, errors.As(err).Code())
}

func TestVerifyAmountMismatchLeavesOrderPending(t *testing.T) {
	db := setupPaymentsTestDB(t)
	provider := &fakeGateway{result: &gateway.VerificationResult{
		Reference:   "pay_ref_3",
		Status:      "success",
		AmountCents: 9999,
		Currency:    "USD",
		SettledAt:   time.Now().UTC(),
	}}
	svc := newPaymentsService(t, db, provider)
	order := seedOrder(t, db, enums.PaymentMethodCard, "pay_ref_3", uuid.New())

	_, err := svc.Verify(context.Background(), order.ID, "pay_ref_3")
	require.Error(t, err)
	require.Equal(t, errors.CodeGateway, errors.As(err).Code())

	paymentStatus, _ := orderState(t, db, order.ID)
	require.Equal(t, enums.PaymentStatusPending, paymentStatus, "mismatch must not move state")
}

func TestVerifyAmbiguousGatewayLeavesOrderPending(t *testing.T) {
	db := setupPaymentsTestDB(t)
	provider := &fakeGateway{err: gateway.ErrAmbiguous}
	svc := newPaymentsService(t, db, provider)
	order := seedOrder(t, db, enums.PaymentMethodCard, "pay_ref_4", uuid.New())

	_, err := svc.Verify(context.Background(), order.ID, "pay_ref_4")
	require.Error(t, err)
	require.Equal(t, errors.CodeDependency, errors.As(err).Code())

	paymentStatus, _ := orderState(t, db, order.ID)
	require.Equal(t, enums.PaymentStatusPending, paymentStatus)
}

func TestVerifyFailureThenSuccessfulRetry(t *testing.T) {
	db := setupPaymentsTestDB(t)
	provider := &fakeGateway{result: &gateway.VerificationResult{
		Reference: "pay_ref_5",
		Status:    "failed",
	}}
	svc := newPaymentsService(t, db, provider)
	order := seedOrder(t, db, enums.PaymentMethodCard, "pay_ref_5", uuid.New())

	result, err := svc.Verify(context.Background(), order.ID, "pay_ref_5")
	require.NoError(t, err)
	require.False(t, result.Paid)

	paymentStatus, _ := orderState(t, db, order.ID)
	require.Equal(t, enums.PaymentStatusFailed, paymentStatus)

	// The buyer retried at the gateway and this time it went through.
	provider.result = &gateway.VerificationResult{
		Reference:   "pay_ref_5",
		Status:      "success",
		AmountCents: 12250,
		Currency:    "USD",
		SettledAt:   time.Now().UTC(),
	}
	result, err = svc.Verify(context.Background(), order.ID, "pay_ref_5")
	require.NoError(t, err)
	require.True(t, result.Paid)

	paymentStatus, _ = orderState(t, db, order.ID)
	require.Equal(t, enums.PaymentStatusPaid, paymentStatus)
}

func TestVerifyRejectsForeignReference(t *testing.T) {
	db := setupPaymentsTestDB(t)
	svc := newPaymentsService(t, db, &fakeGateway{})
	order := seedOrder(t, db, enums.PaymentMethodCard, "pay_ref_6", uuid.New())

	_, err := svc.Verify(context.Background(), order.ID, "pay_ref_other")
	require.Error(t, err)
	require.Equal(t, errors.CodeValidation, errors.As(err).Code())
}

func TestConfirmCOD(t *testing.T) {
	db := setupPaymentsTestDB(t)
	vendorID := uuid.New()
	svc := newPaymentsService(t, db, &fakeGateway{})
	order := seedOrder(t, db, enums.PaymentMethodCOD, "", vendorID)

	_, err := svc.ConfirmCOD(context.Background(), order.ID, types.Actor{UserID: order.BuyerUserID, Role: enums.RoleBuyer})
	require.Error(t, err)
	require.Equal(t, errors.CodeForbidden, errors.As(err).Code())

	admin := types.Actor{UserID: uuid.New(), Role: enums.RoleAdmin}
	result, err := svc.ConfirmCOD(context.Background(), order.ID, admin)
	require.NoError(t, err)
	require.True(t, result.Paid)

	paymentStatus, _ := orderState(t, db, order.ID)
	require.Equal(t, enums.PaymentStatusPaid, paymentStatus)

	var balance int64
	require.NoError(t, db.Raw(`SELECT balance_cents FROM vendor_ledgers WHERE vendor_id = ?`, vendorID).Scan(&balance).Error)
	require.Equal(t, int64(9000), balance)

	result, err = svc.ConfirmCOD(context.Background(), order.ID, admin)
	require.NoError(t, err)
	require.True(t, result.AlreadyPaid)
}
