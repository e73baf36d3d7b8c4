package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/amaruortiz/vendora-backend/pkg/db/models"
	"github.com/amaruortiz/vendora-backend/pkg/pagination"
)

// Service exposes the vendor-facing balance and statement surface.
type Service interface {
	Balance(ctx context.Context, vendorID uuid.UUID) (*BalanceView, error)
	Entries(ctx context.Context, vendorID uuid.UUID, params pagination.Params) (*EntriesPage, error)
}

// BalanceView splits a vendor balance into held and available portions.
type BalanceView struct {
	VendorID       uuid.UUID `json:"vendor_id"`
	BalanceCents   int64     `json:"balance_cents"`
	HeldCents      int64     `json:"held_cents"`
	AvailableCents int64     `json:"available_cents"`
}

// EntriesPage is one page of ledger entries plus the next cursor.
type EntriesPage struct {
	Entries    []models.LedgerEntry `json:"entries"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type service struct {
	repo Repository
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Balance(ctx context.Context, vendorID uuid.UUID) (*BalanceView, error) {
	if vendorID == uuid.Nil {
		return nil, fmt.Errorf("vendor id is required")
	}

	var balance int64
	ledger, err := s.repo.GetLedger(ctx, vendorID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if ledger != nil {
		balance = ledger.BalanceCents
	}

	held, err := s.repo.HeldCents(ctx, vendorID)
	if err != nil {
		return nil, err
	}

	available := balance - held
	if available < 0 {
		available = 0
	}

	return &BalanceView{
		VendorID:       vendorID,
		BalanceCents:   balance,
		HeldCents:      held,
		AvailableCents: available,
	}, nil
}

func (s *service) Entries(ctx context.Context, vendorID uuid.UUID, params pagination.Params) (*EntriesPage, error) {
	if vendorID == uuid.Nil {
		return nil, fmt.Errorf("vendor id is required")
	}

	rows, err := s.repo.ListEntries(ctx, vendorID, params)
	if err != nil {
		return nil, err
	}

	limit := pagination.NormalizeLimit(params.Limit)
	page := &EntriesPage{Entries: rows}
	if len(rows) > limit {
		page.Entries = rows[:limit]
		last := page.Entries[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return page, nil
}
