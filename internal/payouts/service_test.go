package payouts

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/amaruortiz/vendora-backend/internal/ledger"
	"github.com/amaruortiz/vendora-backend/pkg/config"
	"github.com/amaruortiz/vendora-backend/pkg/db/models"
	"github.com/amaruortiz/vendora-backend/pkg/enums"
	"github.com/amaruortiz/vendora-backend/pkg/errors"
	"github.com/amaruortiz/vendora-backend/pkg/outbox"
	"github.com/amaruortiz/vendora-backend/pkg/pagination"
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

func setupPayoutsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{`
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
CREATE TABLE IF NOT EXISTS payout_requests (
  id TEXT PRIMARY KEY,
  vendor_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  bank_name TEXT NOT NULL,
  account_number TEXT NOT NULL,
  account_name TEXT NOT NULL,
  reference TEXT,
  failure_reason TEXT,
  processed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS disputes (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL
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

func newPayoutsService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(
		NewRepository(db),
		ledger.NewRepository(db),
		outbox.NewService(outbox.NewRepository(db), nil),
		testRunner{db: db},
		config.PricingConfig{MinPayoutCents: 5000},
		nil,
		nil,
	)
	require.NoError(t, err)
	return svc
}

func seedBalance(t *testing.T, db *gorm.DB, vendorID uuid.UUID, cents int64) {
	t.Helper()
	_, err := ledger.NewRepository(db).Credit(context.Background(), vendorID, cents)
	require.NoError(t, err)
}

func seedDisputedCredit(t *testing.T, db *gorm.DB, vendorID uuid.UUID, cents int64) {
	t.Helper()
	orderID := uuid.New()
	entry := models.LedgerEntry{
		VendorID:          vendorID,
		OrderID:           &orderID,
		Type:              enums.LedgerEntrySettlementCredit,
		AmountCents:       cents,
		BalanceAfterCents: cents,
	}
	require.NoError(t, ledger.NewRepository(db).CreateEntry(context.Background(), &entry))
	require.NoError(t, db.Exec(`INSERT INTO disputes (id, order_id, status) VALUES (?, ?, ?)`,
		uuid.NewString(), orderID, enums.DisputeStatusOpen).Error)
}

func balanceOf(t *testing.T, db *gorm.DB, vendorID uuid.UUID) int64 {
	t.Helper()
	var balance int64
	require.NoError(t, db.Raw(`SELECT balance_cents FROM vendor_ledgers WHERE vendor_id = ?`, vendorID).Scan(&balance).Error)
	return balance
}

func vendorActor(vendorID uuid.UUID) types.Actor {
	return types.Actor{UserID: uuid.New(), Role: enums.RoleVendor, VendorID: &vendorID}
}

func bankInput(amount int64) RequestInput {
	return RequestInput{
		AmountCents:   amount,
		BankName:      "First Bank",
		AccountNumber: "0123456789",
		AccountName:   "Acme Goods Ltd",
	}
}

func TestRequestDebitsAtAcceptance(t *testing.T) {
	db := setupPayoutsTestDB(t)
	svc := newPayoutsService(t, db)
	vendorID := uuid.New()
	seedBalance(t, db, vendorID, 10000)

	payout, err := svc.Request(context.Background(), vendorActor(vendorID), bankInput(6000))
	require.NoError(t, err)
	require.Equal(t, enums.PayoutStatusPending, payout.Status)
	require.Equal(t, int64(4000), balanceOf(t, db, vendorID), "funds leave at acceptance, not at processing")

	var entry models.LedgerEntry
	require.NoError(t, db.Where("payout_id = ?", payout.ID).First(&entry).Error)
	require.Equal(t, enums.LedgerEntryPayoutDebit, entry.Type)
	require.Equal(t, int64(-6000), entry.AmountCents)
	require.Equal(t, int64(4000), entry.BalanceAfterCents)
}

func TestRequestRejectedWhenBalanceTooLow(t *testing.T) {
	db := setupPayoutsTestDB(t)
	svc := newPayoutsService(t, db)
	vendorID := uuid.New()
	seedBalance(t, db, vendorID, 5000)

	_, err := svc.Request(context.Background(), vendorActor(vendorID), bankInput(6000))
	require.Error(t, err)
	require.Equal(t, errors.CodeInsufficientBalance, errors.As(err).Code())
	require.Equal(t, int64(5000), balanceOf(t, db, vendorID))

	var payoutCount int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM payout_requests`).Scan(&payoutCount).Error)
	require.Equal(t, int64(0), payoutCount)
}

func TestRequestConcurrentPairSingleDebit(t *testing.T) {
	db := setupPayoutsTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection keeps both goroutines on the same in-memory database
	// and lets sqlite serialize the two transactions.
	sqlDB.SetMaxOpenConns(1)

	svc := newPayoutsService(t, db)
	vendorID := uuid.New()
	seedBalance(t, db, vendorID, 8000)

	// Two requests land at once and together exceed the balance. The
	// guarded debit admits exactly one.
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Request(context.Background(), vendorActor(vendorID), bankInput(5000))
		}(i)
	}
	wg.Wait()

	var accepted, rejected int
	for _, reqErr := range errs {
		if reqErr == nil {
			accepted++
			continue
		}
		require.Equal(t, errors.CodeInsufficientBalance, errors.As(reqErr).Code())
		rejected++
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, 1, rejected)
	require.Equal(t, int64(3000), balanceOf(t, db, vendorID))

	var payoutCount, debitCount int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM payout_requests`).Scan(&payoutCount).Error)
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM ledger_entries WHERE type = ?`, enums.LedgerEntryPayoutDebit).Scan(&debitCount).Error)
	require.Equal(t, int64(1), payoutCount)
	require.Equal(t, int64(1), debitCount)
}

func TestRequestRespectsDisputeHold(t *testing.T) {
	db := setupPayoutsTestDB(t)
	svc := newPayoutsService(t, db)
	vendorID := uuid.New()
	seedBalance(t, db, vendorID, 10000)
	seedDisputedCredit(t, db, vendorID, 8000)

	// 10_000 on the books but 8_000 under dispute leaves 2_000 available.
	_, err := svc.Request(context.Background(), vendorActor(vendorID), bankInput(5000))
	require.Error(t, err)
	require.Equal(t, errors.CodeInsufficientBalance, errors.As(err).Code())
	require.Equal(t, int64(10000), balanceOf(t, db, vendorID))
}

func TestRequestBelowMinimum(t *testing.T) {
	db := setupPayoutsTestDB(t)
	svc := newPayoutsService(t, db)
	vendorID := uuid.New()
	seedBalance(t, db, vendorID, 10000)

	_, err := svc.Request(context.Background(), vendorActor(vendorID), bankInput(4999))
	require.Error(t, err)
	require.Equal(t, errors.CodeValidation, errors.As(err).Code())
}

func TestCompleteIsTerminal(t *testing.T) {
	db := setupPayoutsTestDB(t)
	svc := newPayoutsService(t, db)
	vendorID := uuid.New()
	seedBalance(t, db, vendorID, 10000)

	payout, err := svc.Request(context.Background(), vendorActor(vendorID), bankInput(6000))
	require.NoError(t, err)

	admin := types.Actor{UserID: uuid.New(), Role: enums.RoleAdmin}

	_, err = svc.Complete(context.Background(), payout.ID, vendorActor(vendorID), "wire-001")
	require.Error(t, err)
	require.Equal(t, errors.CodeForbidden, errors.As(err).Code())

	processed, err := svc.Complete(context.Background(), payout.ID, admin, "wire-001")
	require.NoError(t, err)
	require.Equal(t, enums.PayoutStatusProcessed, processed.Status)
	require.NotNil(t, processed.Reference)
	require.Equal(t, "wire-001", *processed.Reference)
	require.Equal(t, int64(4000), balanceOf(t, db, vendorID), "processing moves no funds")

	_, err = svc.Fail(context.Background(), payout.ID, admin, "too late")
	require.Error(t, err)
	require.Equal(t, errors.CodeStateConflict, errors.As(err).Code())
}

func TestFailRestoresFunds(t *testing.T) {
	db := setupPayoutsTestDB(t)
	svc := newPayoutsService(t, db)
	vendorID := uuid.New()
	seedBalance(t, db, vendorID, 10000)

	payout, err := svc.Request(context.Background(), vendorActor(vendorID), bankInput(6000))
	require.NoError(t, err)
	require.Equal(t, int64(4000), balanceOf(t, db, vendorID))

	admin := types.Actor{UserID: uuid.New(), Role: enums.RoleAdmin}

	_, err = svc.Fail(context.Background(), payout.ID, admin, "")
	require.Error(t, err)
	require.Equal(t, errors.CodeValidation, errors.As(err).Code())

	failed, err := svc.Fail(context.Background(), payout.ID, admin, "bank rejected account")
	require.NoError(t, err)
	require.Equal(t, enums.PayoutStatusFailed, failed.Status)
	require.Equal(t, int64(10000), balanceOf(t, db, vendorID))

	var entry models.LedgerEntry
	require.NoError(t, db.Where("payout_id = ? AND type = ?", payout.ID, enums.LedgerEntryPayoutReversal).First(&entry).Error)
	require.Equal(t, int64(6000), entry.AmountCents)

	_, err = svc.Complete(context.Background(), payout.ID, admin, "")
	require.Error(t, err)
	require.Equal(t, errors.CodeStateConflict, errors.As(err).Code())
}

func TestListForVendorPagination(t *testing.T) {
	db := setupPayoutsTestDB(t)
	svc := newPayoutsService(t, db)
	vendorID := uuid.New()
	seedBalance(t, db, vendorID, 100000)

	for i := 0; i < 4; i++ {
		_, err := svc.Request(context.Background(), vendorActor(vendorID), bankInput(5000))
		require.NoError(t, err)
	}

	page, err := svc.ListForVendor(context.Background(), vendorActor(vendorID), pagination.Params{Limit: 3})
	require.NoError(t, err)
	require.Len(t, page.Payouts, 3)
	require.NotEmpty(t, page.NextCursor)

	pending, err := svc.ListPending(context.Background(), types.Actor{UserID: uuid.New(), Role: enums.RoleAdmin}, 10)
	require.NoError(t, err)
	require.Len(t, pending, 4)
}
