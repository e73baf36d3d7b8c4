package settlement

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/amaruortiz/vendora-backend/internal/ledger"
	"github.com/amaruortiz/vendora-backend/pkg/config"
	dbpkg "github.com/amaruortiz/vendora-backend/pkg/db"
	"github.com/amaruortiz/vendora-backend/pkg/db/models"
	"github.com/amaruortiz/vendora-backend/pkg/enums"
	"github.com/amaruortiz/vendora-backend/pkg/logger"
	"github.com/amaruortiz/vendora-backend/pkg/outbox"
	"github.com/amaruortiz/vendora-backend/pkg/types"
)

// Service is the single authoritative commission policy. Both settlement
// and the earnings preview consult it, so displayed and settled amounts
// cannot drift.
type Service interface {
	RateFor(ctx context.Context, category string) (int, error)
	Settle(ctx context.Context, tx *gorm.DB, order *models.Order) error
	Preview(ctx context.Context, order *models.Order) (*Split, error)
}

// VendorShare is one vendor's cut of a settled order.
type VendorShare struct {
	VendorID   uuid.UUID `json:"vendor_id"`
	ItemsCents int64     `json:"items_cents"`
	ShareCents int64     `json:"share_cents"`
	CommCents  int64     `json:"commission_cents"`
}

// Split is the full vendor/platform breakdown for an order.
type Split struct {
	OrderID       uuid.UUID     `json:"order_id"`
	Vendors       []VendorShare `json:"vendors"`
	PlatformCents int64         `json:"platform_cents"`
}

type service struct {
	repo       Repository
	ledgers    ledger.Repository
	events     *outbox.Service
	defaultBps int
}

// NewService wires the settlement engine.
func NewService(repo Repository, ledgers ledger.Repository, events *outbox.Service, pricing config.PricingConfig, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("settlement repository required")
	}
	if ledgers == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if pricing.DefaultCommissionBps < 0 || pricing.DefaultCommissionBps > 10000 {
		return nil, fmt.Errorf("default commission out of range")
	}
	return &service{
		repo:       repo,
		ledgers:    ledgers,
		events:     events,
		defaultBps: pricing.DefaultCommissionBps,
	}, nil
}

// RateFor returns the commission rate in basis points for a category.
func (s *service) RateFor(ctx context.Context, category string) (int, error) {
	rule, err := s.repo.GetRuleByCategory(ctx, category)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return s.defaultBps, nil
		}
		return 0, err
	}
	return rule.RateBps, nil
}

// Settle splits a paid order between vendors and the platform. Runs in
// the caller's verification transaction; re-entrancy is excluded by the
// payment confirmation guard upstream, with the unique platform earning
// row as the backstop.
func (s *service) Settle(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	if order == nil || len(order.Items) == 0 {
		return fmt.Errorf("order with items required")
	}

	split, err := s.computeSplit(ctx, s.repo.WithTx(tx), order)
	if err != nil {
		return err
	}

	ledgers := s.ledgers.WithTx(tx)
	for _, share := range split.Vendors {
		balanceAfter, err := ledgers.Credit(ctx, share.VendorID, share.ShareCents)
		if err != nil {
			return fmt.Errorf("crediting vendor %s: %w", share.VendorID, err)
		}
		orderID := order.ID
		entry := models.LedgerEntry{
			VendorID:          share.VendorID,
			OrderID:           &orderID,
			Type:              enums.LedgerEntrySettlementCredit,
			AmountCents:       share.ShareCents,
			BalanceAfterCents: balanceAfter,
			Metadata: &types.JSONMap{
				"items_cents":      share.ItemsCents,
				"commission_cents": share.CommCents,
			},
		}
		if err := ledgers.CreateEntry(ctx, &entry); err != nil {
			return fmt.Errorf("recording settlement entry: %w", err)
		}
	}

	earning := models.PlatformEarning{
		OrderID:     order.ID,
		AmountCents: split.PlatformCents,
	}
	if err := s.repo.WithTx(tx).CreateEarning(ctx, &earning); err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_platform_earnings_order") {
			return fmt.Errorf("order already settled")
		}
		return fmt.Errorf("recording platform earning: %w", err)
	}

	return s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderSettled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data:          split,
	})
}

// Preview returns the split without any writes.
func (s *service) Preview(ctx context.Context, order *models.Order) (*Split, error) {
	if order == nil || len(order.Items) == 0 {
		return nil, fmt.Errorf("order with items required")
	}
	return s.computeSplit(ctx, s.repo, order)
}

// computeSplit groups items by vendor and applies the per-category rate.
// Each vendor share is rounded half-up once at group level, so shares
// plus commission always reconstruct the group's item total exactly.
func (s *service) computeSplit(ctx context.Context, repo Repository, order *models.Order) (*Split, error) {
	rates := map[string]int{}
	groupShare := map[uuid.UUID]decimal.Decimal{}
	groupItems := map[uuid.UUID]int64{}

	for _, item := range order.Items {
		rate, ok := rates[item.Category]
		if !ok {
			rule, err := repo.GetRuleByCategory(ctx, item.Category)
			if err != nil {
				if !stdErrors.Is(err, gorm.ErrRecordNotFound) {
					return nil, err
				}
				rate = s.defaultBps
			} else {
				rate = rule.RateBps
			}
			rates[item.Category] = rate
		}

		share := decimal.NewFromInt(item.SubtotalCents).
			Mul(decimal.NewFromInt(int64(10000 - rate))).
			Div(decimal.NewFromInt(10000))
		groupShare[item.VendorID] = groupShare[item.VendorID].Add(share)
		groupItems[item.VendorID] += item.SubtotalCents
	}

	split := &Split{OrderID: order.ID}
	for vendorID, share := range groupShare {
		shareCents := share.Round(0).IntPart()
		itemsCents := groupItems[vendorID]
		split.Vendors = append(split.Vendors, VendorShare{
			VendorID:   vendorID,
			ItemsCents: itemsCents,
			ShareCents: shareCents,
			CommCents:  itemsCents - shareCents,
		})
		split.PlatformCents += itemsCents - shareCents
	}
	sort.Slice(split.Vendors, func(i, j int) bool {
		return split.Vendors[i].VendorID.String() < split.Vendors[j].VendorID.String()
	})
	return split, nil
}
