package refunds

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/amaruortiz/vendora-backend/internal/catalog"
	"github.com/amaruortiz/vendora-backend/internal/ledger"
	"github.com/amaruortiz/vendora-backend/internal/orders"
	"github.com/amaruortiz/vendora-backend/pkg/db/models"
	"github.com/amaruortiz/vendora-backend/pkg/enums"
	"github.com/amaruortiz/vendora-backend/pkg/errors"
	"github.com/amaruortiz/vendora-backend/pkg/logger"
	"github.com/amaruortiz/vendora-backend/pkg/metrics"
	"github.com/amaruortiz/vendora-backend/pkg/outbox"
	"github.com/amaruortiz/vendora-backend/pkg/types"
)

// Service reverses settled money. Vendor credits are clawed back in
// proportion to each vendor's original settlement share, scaled by the
// refunded fraction of the order total.
type Service interface {
	Refund(ctx context.Context, orderID uuid.UUID, actor types.Actor, input RefundInput) (*models.Refund, error)
	RefundInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor types.Actor, amountCents int64, reason string) (*models.Refund, error)
	CancelPaid(ctx context.Context, orderID uuid.UUID, actor types.Actor, reason string) error
	ListForOrder(ctx context.Context, orderID uuid.UUID, actor types.Actor) ([]models.Refund, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// RefundInput captures an admin refund. A zero amount means the full
// remaining refundable balance.
type RefundInput struct {
	AmountCents int64  `json:"amount_cents" validate:"gte=0"`
	Reason      string `json:"reason" validate:"required"`
}

type service struct {
	repo     Repository
	orders   orders.Repository
	ledgers  ledger.Repository
	products catalog.Repository
	events   *outbox.Service
	runner   txRunner
	pipeline *metrics.PipelineMetrics
	logg     *logger.Logger
}

// NewService wires the refunds service. Metrics may be nil.
func NewService(repo Repository, orderRepo orders.Repository, ledgers ledger.Repository, products catalog.Repository, events *outbox.Service, runner txRunner, pipeline *metrics.PipelineMetrics, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("refunds repository required")
	}
	if orderRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if ledgers == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if products == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if runner == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	return &service{
		repo:     repo,
		orders:   orderRepo,
		ledgers:  ledgers,
		products: products,
		events:   events,
		runner:   runner,
		pipeline: pipeline,
		logg:     logg,
	}, nil
}

// Refund issues a full or partial refund on a paid order. Admin only; the
// dispute resolver reaches this path with its own admin actor.
func (s *service) Refund(ctx context.Context, orderID uuid.UUID, actor types.Actor, input RefundInput) (*models.Refund, error) {
	if !actor.IsAdmin() {
		return nil, errors.New(errors.CodeForbidden, "admin role required")
	}
	if strings.TrimSpace(input.Reason) == "" {
		return nil, errors.New(errors.CodeValidation, "refund reason is required")
	}
	if input.AmountCents < 0 {
		return nil, errors.New(errors.CodeValidation, "refund amount cannot be negative")
	}
	return s.issue(ctx, orderID, actor, input.AmountCents, strings.TrimSpace(input.Reason), false)
}

// CancelPaid refunds the full remainder and cancels the order, restoring
// stock. Authorization happened in the orders service before delegation.
func (s *service) CancelPaid(ctx context.Context, orderID uuid.UUID, actor types.Actor, reason string) error {
	if strings.TrimSpace(reason) == "" {
		reason = "order cancelled"
	}
	_, err := s.issue(ctx, orderID, actor, 0, strings.TrimSpace(reason), true)
	return err
}

func (s *service) ListForOrder(ctx context.Context, orderID uuid.UUID, actor types.Actor) ([]models.Refund, error) {
	if orderID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "order id is required")
	}
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New(errors.CodeNotFound, "order not found")
		}
		return nil, errors.Wrap(errors.CodeInternal, err, "loading order")
	}
	if !actor.IsAdmin() && order.BuyerUserID != actor.UserID {
		return nil, errors.New(errors.CodeForbidden, "not your order")
	}
	rows, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "listing refunds")
	}
	return rows, nil
}

// RefundInTx issues a refund inside the caller's transaction. Dispute
// resolution uses this so the status flip and the money movement commit
// together.
func (s *service) RefundInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor types.Actor, amountCents int64, reason string) (*models.Refund, error) {
	if tx == nil {
		return nil, errors.New(errors.CodeInternal, "transaction required")
	}
	if orderID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "order id is required")
	}
	refund := &models.Refund{
		OrderID:     orderID,
		Reason:      reason,
		ActorUserID: actor.UserID,
	}
	if err := s.apply(ctx, tx, refund, actor, amountCents, reason, false); err != nil {
		return nil, err
	}
	s.pipeline.AddRefundedCents(refund.AmountCents)
	return refund, nil
}

// issue runs the reversal in one tx: fresh order state, pro-rata vendor
// debits, guarded cumulative-refund bump, refund row, optional cancel.
func (s *service) issue(ctx context.Context, orderID uuid.UUID, actor types.Actor, amountCents int64, reason string, cancel bool) (*models.Refund, error) {
	if orderID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "order id is required")
	}

	refund := &models.Refund{
		OrderID:     orderID,
		Reason:      reason,
		ActorUserID: actor.UserID,
	}

	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		return s.apply(ctx, tx, refund, actor, amountCents, reason, cancel)
	})
	if err != nil {
		return nil, err
	}

	s.pipeline.AddRefundedCents(refund.AmountCents)
	if s.logg != nil {
		s.logg.Info(s.logg.WithOrderID(ctx, orderID.String()), "refund issued")
	}
	return refund, nil
}

// apply performs the reversal steps against the given transaction.
func (s *service) apply(ctx context.Context, tx *gorm.DB, refund *models.Refund, actor types.Actor, amountCents int64, reason string, cancel bool) error {
	orderID := refund.OrderID
	orderRepo := s.orders.WithTx(tx)
	order, err := orderRepo.GetByID(ctx, orderID)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.New(errors.CodeNotFound, "order not found")
		}
		return errors.Wrap(errors.CodeInternal, err, "loading order")
	}

	switch order.PaymentStatus {
	case enums.PaymentStatusPaid:
	case enums.PaymentStatusRefunded:
		return errors.New(errors.CodeStateConflict, "order already fully refunded")
	default:
		return errors.New(errors.CodeStateConflict, "order is not paid")
	}

	remaining := order.RemainingRefundableCents()
	amount := amountCents
	if amount == 0 {
		amount = remaining
	}
	if amount <= 0 || amount > remaining {
		return errors.New(errors.CodeStateConflict, "amount exceeds refundable balance").
			WithDetails(map[string]any{
				"requested_cents": amount,
				"remaining_cents": remaining,
			})
	}
	refund.AmountCents = amount
	fullyRefunded := amount == remaining

	ledgers := s.ledgers.WithTx(tx)
	credits, err := ledgers.SettlementCreditsByOrder(ctx, orderID)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "loading settlement credits")
	}

	for _, reversal := range allocateReversals(credits, amount, order.TotalCents) {
		balanceAfter, err := ledgers.Debit(ctx, reversal.vendorID, reversal.cents)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "reversing vendor credit")
		}
		entry := models.LedgerEntry{
			VendorID:          reversal.vendorID,
			OrderID:           &orderID,
			Type:              enums.LedgerEntryRefundReversal,
			AmountCents:       -reversal.cents,
			BalanceAfterCents: balanceAfter,
			Metadata:          &types.JSONMap{"refund_cents": amount},
		}
		if err := ledgers.CreateEntry(ctx, &entry); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "recording refund reversal")
		}
	}

	applied, err := orderRepo.IncrementRefunded(ctx, orderID, amount, fullyRefunded)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "updating refunded total")
	}
	if !applied {
		return errors.New(errors.CodeStateConflict, "amount exceeds refundable balance")
	}

	if err := s.repo.WithTx(tx).Create(ctx, refund); err != nil {
		return errors.Wrap(errors.CodeInternal, err, "creating refund record")
	}

	if cancel {
		cancelled, err := orderRepo.MarkCancelled(ctx, orderID)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "cancelling order")
		}
		if !cancelled {
			return errors.New(errors.CodeStateConflict, "order can no longer be cancelled")
		}
		productRepo := s.products.WithTx(tx)
		for _, item := range order.Items {
			if err := productRepo.RestoreStock(ctx, item.ProductID, item.Qty); err != nil {
				return errors.Wrap(errors.CodeInternal, err, "restoring stock")
			}
		}
		if err := s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)},
			Data: map[string]any{
				"order_id": orderID,
				"reason":   reason,
			},
		}); err != nil {
			return err
		}
	}

	return s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventRefundIssued,
		AggregateType: enums.AggregateRefund,
		AggregateID:   refund.ID,
		Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)},
		Data: map[string]any{
			"refund_id":    refund.ID,
			"order_id":     orderID,
			"amount_cents": refund.AmountCents,
			"reason":       reason,
		},
	})
}

type reversal struct {
	vendorID uuid.UUID
	cents    int64
}

// allocateReversals scales each vendor's settlement credit by the refunded
// fraction of the order total. Floors per vendor, then hands remainder
// cents to the largest shares so the reversal total is exact: a full
// refund claws back every credited cent.
func allocateReversals(credits []models.LedgerEntry, refundCents, totalCents int64) []reversal {
	if totalCents <= 0 || refundCents <= 0 || len(credits) == 0 {
		return nil
	}

	fraction := decimal.NewFromInt(refundCents).Div(decimal.NewFromInt(totalCents))

	var creditSum int64
	reversals := make([]reversal, 0, len(credits))
	var allocated int64
	for _, credit := range credits {
		creditSum += credit.AmountCents
		cents := decimal.NewFromInt(credit.AmountCents).Mul(fraction).Floor().IntPart()
		reversals = append(reversals, reversal{vendorID: credit.VendorID, cents: cents})
		allocated += cents
	}

	target := decimal.NewFromInt(creditSum).Mul(fraction).Round(0).IntPart()
	if leftover := target - allocated; leftover > 0 {
		order := make([]int, len(reversals))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return credits[order[a]].AmountCents > credits[order[b]].AmountCents
		})
		for i := int64(0); i < leftover; i++ {
			reversals[order[int(i)%len(order)]].cents++
		}
	}

	out := reversals[:0]
	for _, rev := range reversals {
		if rev.cents > 0 {
			out = append(out, rev)
		}
	}
	return out
}
