package disputes

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/amaruortiz/vendora-backend/internal/orders"
	"github.com/amaruortiz/vendora-backend/internal/refunds"
	dbpkg "github.com/amaruortiz/vendora-backend/pkg/db"
	"github.com/amaruortiz/vendora-backend/pkg/db/models"
	"github.com/amaruortiz/vendora-backend/pkg/enums"
	"github.com/amaruortiz/vendora-backend/pkg/errors"
	"github.com/amaruortiz/vendora-backend/pkg/logger"
	"github.com/amaruortiz/vendora-backend/pkg/outbox"
	"github.com/amaruortiz/vendora-backend/pkg/types"
)

// Service mediates disputes. While a dispute is unresolved the order's
// settlement credits count as held against vendor payouts.
type Service interface {
	Open(ctx context.Context, orderID uuid.UUID, actor types.Actor, reason string) (*models.Dispute, error)
	VendorRespond(ctx context.Context, disputeID uuid.UUID, actor types.Actor, response string) (*models.Dispute, error)
	StartReview(ctx context.Context, disputeID uuid.UUID, actor types.Actor) (*models.Dispute, error)
	Resolve(ctx context.Context, disputeID uuid.UUID, actor types.Actor, input ResolveInput) (*models.Dispute, error)
	Cancel(ctx context.Context, disputeID uuid.UUID, actor types.Actor) (*models.Dispute, error)
	Get(ctx context.Context, disputeID uuid.UUID, actor types.Actor) (*models.Dispute, error)
	GetForOrder(ctx context.Context, orderID uuid.UUID, actor types.Actor) (*models.Dispute, error)
	ListOpen(ctx context.Context, actor types.Actor, limit int) ([]models.Dispute, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ResolveInput is the admin decision. AmountCents applies only to
// partial_split resolutions.
type ResolveInput struct {
	Resolution  enums.DisputeResolution `json:"resolution" validate:"required"`
	AmountCents int64                   `json:"amount_cents" validate:"gte=0"`
}

type service struct {
	repo     Repository
	orders   orders.Repository
	refunder refunds.Service
	events   *outbox.Service
	runner   txRunner
	logg     *logger.Logger
}

// NewService wires the disputes service.
func NewService(repo Repository, orderRepo orders.Repository, refunder refunds.Service, events *outbox.Service, runner txRunner, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("disputes repository required")
	}
	if orderRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if refunder == nil {
		return nil, fmt.Errorf("refunds service required")
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
		refunder: refunder,
		events:   events,
		runner:   runner,
		logg:     logg,
	}, nil
}

// Open raises the single dispute an order can have. The unique order
// index rejects a second one.
func (s *service) Open(ctx context.Context, orderID uuid.UUID, actor types.Actor, reason string) (*models.Dispute, error) {
	if orderID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "order id is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.New(errors.CodeValidation, "dispute reason is required")
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New(errors.CodeNotFound, "order not found")
		}
		return nil, errors.Wrap(errors.CodeInternal, err, "loading order")
	}
	if order.BuyerUserID != actor.UserID {
		return nil, errors.New(errors.CodeForbidden, "not your order")
	}
	if order.PaymentStatus != enums.PaymentStatusPaid {
		return nil, errors.New(errors.CodeStateConflict, "only paid orders can be disputed")
	}

	dispute := &models.Dispute{
		OrderID:     orderID,
		BuyerUserID: actor.UserID,
		Status:      enums.DisputeStatusOpen,
		Reason:      reason,
	}
	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, getErr := repo.GetByOrder(ctx, orderID); getErr == nil {
			return errors.New(errors.CodeConflict, "order already has a dispute")
		} else if !stdErrors.Is(getErr, gorm.ErrRecordNotFound) {
			return errors.Wrap(errors.CodeInternal, getErr, "checking existing dispute")
		}
		if err := repo.Create(ctx, dispute); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_disputes_order") {
				return errors.New(errors.CodeConflict, "order already has a dispute")
			}
			return errors.Wrap(errors.CodeInternal, err, "creating dispute")
		}
		return s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeOpened,
			AggregateType: enums.AggregateDispute,
			AggregateID:   dispute.ID,
			Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)},
			Data: map[string]any{
				"dispute_id": dispute.ID,
				"order_id":   orderID,
				"reason":     reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithOrderID(ctx, orderID.String()), "dispute opened")
	}
	return dispute, nil
}

// VendorRespond attaches the vendor's side of the story and moves the
// dispute forward.
func (s *service) VendorRespond(ctx context.Context, disputeID uuid.UUID, actor types.Actor, response string) (*models.Dispute, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, errors.New(errors.CodeValidation, "response is required")
	}
	dispute, err := s.loadDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeVendor(ctx, dispute, actor); err != nil {
		return nil, err
	}

	applied, err := s.repo.Transition(ctx, disputeID,
		[]enums.DisputeStatus{enums.DisputeStatusOpen},
		map[string]any{
			"status":          enums.DisputeStatusVendorResponded,
			"vendor_response": response,
		})
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "recording vendor response")
	}
	if !applied {
		return nil, errors.New(errors.CodeStateConflict, "dispute is not awaiting a vendor response")
	}
	return s.loadDispute(ctx, disputeID)
}

// StartReview moves the dispute under admin review.
func (s *service) StartReview(ctx context.Context, disputeID uuid.UUID, actor types.Actor) (*models.Dispute, error) {
	if !actor.IsAdmin() {
		return nil, errors.New(errors.CodeForbidden, "admin role required")
	}
	applied, err := s.repo.Transition(ctx, disputeID,
		[]enums.DisputeStatus{enums.DisputeStatusOpen, enums.DisputeStatusVendorResponded},
		map[string]any{"status": enums.DisputeStatusUnderReview})
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "starting review")
	}
	if !applied {
		return nil, errors.New(errors.CodeStateConflict, "dispute cannot enter review")
	}
	return s.loadDispute(ctx, disputeID)
}

// Resolve closes the dispute with an admin decision. refund_customer and
// partial_split move money through the refund path in the same tx as the
// status flip; release_to_vendor and none only close the case, which also
// releases the payout hold.
func (s *service) Resolve(ctx context.Context, disputeID uuid.UUID, actor types.Actor, input ResolveInput) (*models.Dispute, error) {
	if !actor.IsAdmin() {
		return nil, errors.New(errors.CodeForbidden, "admin role required")
	}
	if !input.Resolution.IsValid() {
		return nil, errors.New(errors.CodeValidation, "unknown resolution")
	}
	if input.Resolution == enums.DisputeResolutionPartialSplit && input.AmountCents <= 0 {
		return nil, errors.New(errors.CodeValidation, "partial split requires an amount")
	}

	dispute, err := s.loadDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Status.IsTerminal() {
		return nil, errors.New(errors.CodeStateConflict, "dispute already closed")
	}

	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		updates := map[string]any{
			"status":      enums.DisputeStatusResolved,
			"resolution":  input.Resolution,
			"resolved_at": now,
		}

		var refundedCents int64
		switch input.Resolution {
		case enums.DisputeResolutionRefundCustomer:
			refund, err := s.refunder.RefundInTx(ctx, tx, dispute.OrderID, actor, 0, "dispute resolved for customer")
			if err != nil {
				return err
			}
			refundedCents = refund.AmountCents
		case enums.DisputeResolutionPartialSplit:
			refund, err := s.refunder.RefundInTx(ctx, tx, dispute.OrderID, actor, input.AmountCents, "dispute partial split")
			if err != nil {
				return err
			}
			refundedCents = refund.AmountCents
		}
		if refundedCents > 0 {
			updates["resolution_amount_cents"] = refundedCents
		}

		applied, err := s.repo.WithTx(tx).Transition(ctx, disputeID,
			[]enums.DisputeStatus{
				enums.DisputeStatusOpen,
				enums.DisputeStatusVendorResponded,
				enums.DisputeStatusUnderReview,
			}, updates)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "resolving dispute")
		}
		if !applied {
			return errors.New(errors.CodeStateConflict, "dispute already closed")
		}

		return s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeResolved,
			AggregateType: enums.AggregateDispute,
			AggregateID:   disputeID,
			Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)},
			Data: map[string]any{
				"dispute_id":     disputeID,
				"order_id":       dispute.OrderID,
				"resolution":     input.Resolution,
				"refunded_cents": refundedCents,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithOrderID(ctx, dispute.OrderID.String()), "dispute resolved")
	}
	return s.loadDispute(ctx, disputeID)
}

// Cancel withdraws the dispute. Only the buyer who opened it or an admin
// may cancel.
func (s *service) Cancel(ctx context.Context, disputeID uuid.UUID, actor types.Actor) (*models.Dispute, error) {
	dispute, err := s.loadDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.BuyerUserID != actor.UserID && !actor.IsAdmin() {
		return nil, errors.New(errors.CodeForbidden, "not your dispute")
	}

	applied, err := s.repo.Transition(ctx, disputeID,
		[]enums.DisputeStatus{
			enums.DisputeStatusOpen,
			enums.DisputeStatusVendorResponded,
			enums.DisputeStatusUnderReview,
		},
		map[string]any{"status": enums.DisputeStatusCancelled})
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "cancelling dispute")
	}
	if !applied {
		return nil, errors.New(errors.CodeStateConflict, "dispute already closed")
	}
	return s.loadDispute(ctx, disputeID)
}

func (s *service) Get(ctx context.Context, disputeID uuid.UUID, actor types.Actor) (*models.Dispute, error) {
	dispute, err := s.loadDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.BuyerUserID == actor.UserID || actor.IsAdmin() {
		return dispute, nil
	}
	if err := s.authorizeVendor(ctx, dispute, actor); err != nil {
		return nil, err
	}
	return dispute, nil
}

func (s *service) GetForOrder(ctx context.Context, orderID uuid.UUID, actor types.Actor) (*models.Dispute, error) {
	if orderID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "order id is required")
	}
	dispute, err := s.repo.GetByOrder(ctx, orderID)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New(errors.CodeNotFound, "no dispute for order")
		}
		return nil, errors.Wrap(errors.CodeInternal, err, "loading dispute")
	}
	return s.Get(ctx, dispute.ID, actor)
}

func (s *service) ListOpen(ctx context.Context, actor types.Actor, limit int) ([]models.Dispute, error) {
	if !actor.IsAdmin() {
		return nil, errors.New(errors.CodeForbidden, "admin role required")
	}
	rows, err := s.repo.ListOpen(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "listing disputes")
	}
	return rows, nil
}

func (s *service) loadDispute(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error) {
	if disputeID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "dispute id is required")
	}
	dispute, err := s.repo.GetByID(ctx, disputeID)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New(errors.CodeNotFound, "dispute not found")
		}
		return nil, errors.Wrap(errors.CodeInternal, err, "loading dispute")
	}
	return dispute, nil
}

// authorizeVendor admits vendors that sold on the disputed order.
func (s *service) authorizeVendor(ctx context.Context, dispute *models.Dispute, actor types.Actor) error {
	if actor.Role != enums.RoleVendor || actor.VendorID == nil {
		return errors.New(errors.CodeForbidden, "vendor role required")
	}
	order, err := s.orders.GetByID(ctx, dispute.OrderID)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "loading disputed order")
	}
	for _, item := range order.Items {
		if item.VendorID == *actor.VendorID {
			return nil
		}
	}
	return errors.New(errors.CodeForbidden, "not your dispute")
}
