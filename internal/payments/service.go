package payments

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/amaruortiz/vendora-backend/internal/orders"
	"github.com/amaruortiz/vendora-backend/internal/settlement"
	dbpkg "github.com/amaruortiz/vendora-backend/pkg/db"
	"github.com/amaruortiz/vendora-backend/pkg/db/models"
	"github.com/amaruortiz/vendora-backend/pkg/enums"
	"github.com/amaruortiz/vendora-backend/pkg/errors"
	"github.com/amaruortiz/vendora-backend/pkg/gateway"
	"github.com/amaruortiz/vendora-backend/pkg/logger"
	"github.com/amaruortiz/vendora-backend/pkg/metrics"
	"github.com/amaruortiz/vendora-backend/pkg/outbox"
	"github.com/amaruortiz/vendora-backend/pkg/types"
)

const verifyLockTTL = 30 * time.Second

// Service drives payment initiation and the single verification path that
// both the redirect callback and the gateway webhook converge on.
type Service interface {
	Initiate(ctx context.Context, orderID uuid.UUID, actor types.Actor) (*InitiateResult, error)
	Verify(ctx context.Context, orderID uuid.UUID, reference string) (*VerifyResult, error)
	VerifyByReference(ctx context.Context, reference string) (*VerifyResult, error)
	ConfirmCOD(ctx context.Context, orderID uuid.UUID, actor types.Actor) (*VerifyResult, error)
}

// Gateway is the provider surface the verification engine needs.
type Gateway interface {
	CreateSession(ctx context.Context, reference string, amountCents int64, currency string) (*gateway.Session, error)
	VerifyByReference(ctx context.Context, reference string) (*gateway.VerificationResult, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type locker interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(scope, id string) string
}

// InitiateResult carries the redirect handle for a card payment.
type InitiateResult struct {
	OrderID     uuid.UUID `json:"order_id"`
	Reference   string    `json:"reference"`
	RedirectURL string    `json:"redirect_url"`
}

// VerifyResult reports the outcome of one verification attempt.
type VerifyResult struct {
	OrderID       uuid.UUID `json:"order_id"`
	Paid          bool      `json:"paid"`
	AlreadyPaid   bool      `json:"already_paid"`
	GatewayStatus string    `json:"gateway_status"`
}

type service struct {
	repo       Repository
	orders     orders.Repository
	settlement settlement.Service
	events     *outbox.Service
	provider   Gateway
	runner     txRunner
	locks      locker
	pipeline   *metrics.PipelineMetrics
	logg       *logger.Logger
}

// NewService wires the payments service. Locks and metrics may be nil.
func NewService(repo Repository, orderRepo orders.Repository, settler settlement.Service, events *outbox.Service, provider Gateway, runner txRunner, locks locker, pipeline *metrics.PipelineMetrics, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if orderRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if settler == nil {
		return nil, fmt.Errorf("settlement service required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if provider == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if runner == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	return &service{
		repo:       repo,
		orders:     orderRepo,
		settlement: settler,
		events:     events,
		provider:   provider,
		runner:     runner,
		locks:      locks,
		pipeline:   pipeline,
		logg:       logg,
	}, nil
}

// Initiate registers a gateway session for a card order and stores the
// reference the later verification is keyed on. Re-initiating reuses the
// stored reference so an abandoned redirect does not strand the order.
func (s *service) Initiate(ctx context.Context, orderID uuid.UUID, actor types.Actor) (*InitiateResult, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerUserID != actor.UserID && !actor.IsAdmin() {
		return nil, errors.New(errors.CodeForbidden, "not your order")
	}
	if order.PaymentMethod != enums.PaymentMethodCard {
		return nil, errors.New(errors.CodeValidation, "payment method does not use a gateway session")
	}
	if order.PaymentStatus == enums.PaymentStatusPaid {
		return nil, errors.New(errors.CodeStateConflict, "order is already paid")
	}
	if order.Status == enums.OrderStatusCancelled {
		return nil, errors.New(errors.CodeStateConflict, "order is cancelled")
	}

	reference := "pay_" + uuid.NewString()
	if order.PaymentReference != nil && *order.PaymentReference != "" {
		reference = *order.PaymentReference
	}

	session, err := s.provider.CreateSession(ctx, reference, order.TotalCents, string(order.Currency))
	if err != nil {
		return nil, errors.Wrap(errors.CodeGateway, err, "creating gateway session")
	}
	if err := s.orders.SetPaymentReference(ctx, order.ID, session.Reference); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "storing payment reference")
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "payment session created")
	}
	return &InitiateResult{
		OrderID:     order.ID,
		Reference:   session.Reference,
		RedirectURL: session.RedirectURL,
	}, nil
}

// Verify is the exactly-once confirmation path. Callback and webhook both
// land here; the paid short-circuit and the unique confirmation row make
// duplicate deliveries a successful no-op.
func (s *service) Verify(ctx context.Context, orderID uuid.UUID, reference string) (*VerifyResult, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if reference == "" {
		return nil, errors.New(errors.CodeValidation, "payment reference is required")
	}
	if order.PaymentReference == nil || *order.PaymentReference != reference {
		return nil, errors.New(errors.CodeValidation, "reference does not match order")
	}

	if order.PaymentStatus == enums.PaymentStatusPaid {
		s.pipeline.IncVerification("duplicate")
		return &VerifyResult{OrderID: order.ID, Paid: true, AlreadyPaid: true}, nil
	}

	release := s.acquireLock(ctx, order.ID)
	defer release()

	result, err := s.provider.VerifyByReference(ctx, reference)
	if err != nil {
		if stdErrors.Is(err, gateway.ErrAmbiguous) {
			s.pipeline.IncVerification("ambiguous")
			return nil, errors.Wrap(errors.CodeDependency, err, "gateway did not answer, retry verification")
		}
		s.pipeline.IncVerification("error")
		return nil, errors.Wrap(errors.CodeGateway, err, "gateway rejected verification")
	}

	if !result.Succeeded() {
		return s.recordFailure(ctx, order, result.Status)
	}
	if result.AmountCents != order.TotalCents || !currencyMatches(result.Currency, order.Currency) {
		s.pipeline.IncVerification("mismatch")
		return nil, errors.New(errors.CodeGateway, "gateway amount does not match order").
			WithDetails(map[string]any{
				"order_cents":      order.TotalCents,
				"gateway_cents":    result.AmountCents,
				"order_currency":   order.Currency,
				"gateway_currency": result.Currency,
			})
	}

	return s.confirm(ctx, order, result)
}

// VerifyByReference resolves the order behind a reference and verifies it.
// Webhook deliveries carry only the reference.
func (s *service) VerifyByReference(ctx context.Context, reference string) (*VerifyResult, error) {
	if reference == "" {
		return nil, errors.New(errors.CodeValidation, "payment reference is required")
	}
	order, err := s.orders.GetByReference(ctx, reference)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New(errors.CodeNotFound, "no order for reference")
		}
		return nil, errors.Wrap(errors.CodeInternal, err, "loading order by reference")
	}
	return s.Verify(ctx, order.ID, reference)
}

// ConfirmCOD settles a cash-on-delivery order on admin say-so. Reuses the
// card confirmation path with the order total as the received amount.
func (s *service) ConfirmCOD(ctx context.Context, orderID uuid.UUID, actor types.Actor) (*VerifyResult, error) {
	if !actor.IsAdmin() {
		return nil, errors.New(errors.CodeForbidden, "admin role required")
	}
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != enums.PaymentMethodCOD {
		return nil, errors.New(errors.CodeValidation, "order is not cash on delivery")
	}
	if order.PaymentStatus == enums.PaymentStatusPaid {
		return &VerifyResult{OrderID: order.ID, Paid: true, AlreadyPaid: true}, nil
	}

	return s.confirm(ctx, order, &gateway.VerificationResult{
		Reference:   "cod_" + order.ID.String(),
		Status:      "success",
		AmountCents: order.TotalCents,
		Currency:    string(order.Currency),
		SettledAt:   time.Now().UTC(),
	})
}

// confirm applies the paid transition, records the confirmation, settles
// vendor ledgers, and queues the confirmed event in one transaction.
func (s *service) confirm(ctx context.Context, order *models.Order, result *gateway.VerificationResult) (*VerifyResult, error) {
	started := time.Now()
	alreadyConfirmed := false

	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		applied, err := s.orders.WithTx(tx).MarkPaid(ctx, order.ID, result.SettledAt)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "marking order paid")
		}
		if !applied {
			alreadyConfirmed = true
			return nil
		}

		confirmation := models.PaymentConfirmation{
			OrderID:       order.ID,
			Reference:     result.Reference,
			AmountCents:   result.AmountCents,
			Currency:      order.Currency,
			GatewayStatus: result.Status,
			SettledAt:     result.SettledAt,
		}
		if err := s.repo.WithTx(tx).CreateConfirmation(ctx, &confirmation); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_payment_confirmations_order") {
				alreadyConfirmed = true
				return nil
			}
			return errors.Wrap(errors.CodeInternal, err, "recording confirmation")
		}

		if err := s.settlement.Settle(ctx, tx, order); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "settling order")
		}

		return s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentConfirmed,
			AggregateType: enums.AggregatePayment,
			AggregateID:   order.ID,
			Data: map[string]any{
				"order_id":     order.ID,
				"reference":    result.Reference,
				"amount_cents": result.AmountCents,
			},
		})
	})
	if err != nil {
		s.pipeline.IncVerification("error")
		s.pipeline.ObserveSettlement("error", time.Since(started))
		return nil, err
	}

	if alreadyConfirmed {
		s.pipeline.IncVerification("duplicate")
		return &VerifyResult{OrderID: order.ID, Paid: true, AlreadyPaid: true, GatewayStatus: result.Status}, nil
	}

	s.pipeline.IncVerification("confirmed")
	s.pipeline.ObserveSettlement("success", time.Since(started))
	if s.logg != nil {
		s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "payment confirmed and settled")
	}
	return &VerifyResult{OrderID: order.ID, Paid: true, GatewayStatus: result.Status}, nil
}

// recordFailure moves a pending payment to failed. The order stays
// cancellable and a later verification can still flip failed to paid.
func (s *service) recordFailure(ctx context.Context, order *models.Order, gatewayStatus string) (*VerifyResult, error) {
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		applied, err := s.orders.WithTx(tx).MarkPaymentFailed(ctx, order.ID)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "marking payment failed")
		}
		if !applied {
			return nil
		}
		return s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePayment,
			AggregateID:   order.ID,
			Data: map[string]any{
				"order_id":       order.ID,
				"gateway_status": gatewayStatus,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.pipeline.IncVerification("failed")
	return &VerifyResult{OrderID: order.ID, Paid: false, GatewayStatus: gatewayStatus}, nil
}

// acquireLock narrows the callback/webhook race window so only one caller
// talks to the gateway at a time. The database guards stay authoritative:
// on contention, or when redis is missing or down, the caller falls
// through to the guarded confirm path and the loser resolves to a paid
// no-op instead of an error.
func (s *service) acquireLock(ctx context.Context, orderID uuid.UUID) func() {
	if s.locks == nil {
		return func() {}
	}
	key := s.locks.LockKey("payment", orderID.String())
	ok, err := s.locks.SetNX(ctx, key, "1", verifyLockTTL)
	if err != nil {
		if s.logg != nil {
			s.logg.Warn(ctx, "payment lock unavailable, relying on db guards")
		}
		return func() {}
	}
	if !ok {
		return func() {}
	}
	return func() { _ = s.locks.Del(context.WithoutCancel(ctx), key) }
}

func (s *service) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
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
	return order, nil
}

func currencyMatches(gatewayCurrency string, orderCurrency enums.Currency) bool {
	return gatewayCurrency == "" || gatewayCurrency == string(orderCurrency)
}
