package orders

import (
	"context"
	stdErrors "errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/amaruortiz/vendora-backend/internal/catalog"
	"github.com/amaruortiz/vendora-backend/pkg/config"
	"github.com/amaruortiz/vendora-backend/pkg/db/models"
	"github.com/amaruortiz/vendora-backend/pkg/enums"
	"github.com/amaruortiz/vendora-backend/pkg/errors"
	"github.com/amaruortiz/vendora-backend/pkg/logger"
	"github.com/amaruortiz/vendora-backend/pkg/outbox"
	"github.com/amaruortiz/vendora-backend/pkg/pagination"
	"github.com/amaruortiz/vendora-backend/pkg/types"
)

// Service exposes the order lifecycle surface.
type Service interface {
	Place(ctx context.Context, buyerID uuid.UUID, input PlaceOrderInput) (*models.Order, error)
	Get(ctx context.Context, orderID uuid.UUID, actor types.Actor) (*models.Order, error)
	ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (*Page, error)
	Cancel(ctx context.Context, orderID uuid.UUID, actor types.Actor, reason string) (*models.Order, error)
}

// Refunder handles the paid-order cancellation path on behalf of orders.
type Refunder interface {
	CancelPaid(ctx context.Context, orderID uuid.UUID, actor types.Actor, reason string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CartLine is one snapshot line from the buyer's cart. UnitPriceCents is
// the price the buyer saw; checkout rejects drift instead of re-pricing.
type CartLine struct {
	ProductID      uuid.UUID `json:"product_id"`
	Qty            int       `json:"qty"`
	UnitPriceCents int64     `json:"unit_price_cents"`
}

// PlaceOrderInput captures everything needed to create an order.
type PlaceOrderInput struct {
	Currency        enums.Currency
	PaymentMethod   enums.PaymentMethod
	ShippingAddress *types.Address
	Lines           []CartLine
}

// Page is one page of orders plus the next cursor.
type Page struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type service struct {
	repo     Repository
	products catalog.Repository
	events   *outbox.Service
	runner   txRunner
	pricing  config.PricingConfig
	refunder Refunder
	logg     *logger.Logger
}

// NewService wires the orders service. The refunder may be nil when the
// cancellation-of-paid-orders path is not wired (tests).
func NewService(repo Repository, products catalog.Repository, events *outbox.Service, runner txRunner, pricing config.PricingConfig, refunder Refunder, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
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
		products: products,
		events:   events,
		runner:   runner,
		pricing:  pricing,
		refunder: refunder,
		logg:     logg,
	}, nil
}

func (s *service) Place(ctx context.Context, buyerID uuid.UUID, input PlaceOrderInput) (*models.Order, error) {
	if buyerID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "buyer id is required")
	}
	if len(input.Lines) == 0 {
		return nil, errors.New(errors.CodeValidation, "order requires at least one line")
	}
	if input.Currency == "" {
		input.Currency = enums.CurrencyUSD
	}
	if !input.Currency.IsValid() {
		return nil, errors.New(errors.CodeValidation, "unsupported currency")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, errors.New(errors.CodeValidation, "unsupported payment method")
	}

	seen := map[uuid.UUID]bool{}
	ids := make([]uuid.UUID, 0, len(input.Lines))
	for _, line := range input.Lines {
		if line.ProductID == uuid.Nil {
			return nil, errors.New(errors.CodeValidation, "line product id is required")
		}
		if line.Qty <= 0 {
			return nil, errors.New(errors.CodeValidation, "line qty must be positive")
		}
		if seen[line.ProductID] {
			return nil, errors.New(errors.CodeValidation, "duplicate product line")
		}
		seen[line.ProductID] = true
		ids = append(ids, line.ProductID)
	}

	var order *models.Order
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		productRepo := s.products.WithTx(tx)

		rows, err := productRepo.ListByIDs(ctx, ids)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "loading products")
		}
		byID := make(map[uuid.UUID]models.Product, len(rows))
		for _, p := range rows {
			byID[p.ID] = p
		}

		items := make([]models.OrderItem, 0, len(input.Lines))
		var subtotal int64
		var totalQty int
		for _, line := range input.Lines {
			product, ok := byID[line.ProductID]
			if !ok || !product.Active {
				return errors.New(errors.CodeNotFound, "product unavailable").
					WithDetails(map[string]any{"product_id": line.ProductID})
			}
			if product.PriceCents != line.UnitPriceCents {
				return errors.New(errors.CodePriceMismatch, "catalog price changed").
					WithDetails(map[string]any{
						"product_id":    line.ProductID,
						"cart_cents":    line.UnitPriceCents,
						"catalog_cents": product.PriceCents,
					})
			}

			reserved, err := productRepo.DecrementStock(ctx, line.ProductID, line.Qty)
			if err != nil {
				return errors.Wrap(errors.CodeInternal, err, "reserving stock")
			}
			if !reserved {
				return errors.New(errors.CodeStock, "insufficient stock").
					WithDetails(map[string]any{"product_id": line.ProductID, "requested": line.Qty})
			}

			lineSubtotal := product.PriceCents * int64(line.Qty)
			items = append(items, models.OrderItem{
				VendorID:       product.VendorID,
				ProductID:      product.ID,
				Name:           product.Name,
				Category:       product.Category,
				UnitPriceCents: product.PriceCents,
				Qty:            line.Qty,
				SubtotalCents:  lineSubtotal,
			})
			subtotal += lineSubtotal
			totalQty += line.Qty
		}

		totals := ComputeTotals(subtotal, totalQty, s.pricing.TaxRateBps, s.pricing.ShippingFlatCents)

		orderRepo := s.repo.WithTx(tx)
		number, err := orderRepo.NextOrderNumber(ctx)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "allocating order number")
		}

		order = &models.Order{
			OrderNumber:      number,
			BuyerUserID:      buyerID,
			Currency:         input.Currency,
			ShippingAddress:  input.ShippingAddress,
			PaymentMethod:    input.PaymentMethod,
			PaymentStatus:    enums.PaymentStatusPending,
			Status:           enums.OrderStatusPending,
			SubtotalCents:    totals.SubtotalCents,
			DiscountCents:    totals.DiscountCents,
			TaxCents:         totals.TaxCents,
			ShippingFeeCents: totals.ShippingFeeCents,
			TotalCents:       totals.TotalCents,
			Items:            items,
		}
		if err := orderRepo.Create(ctx, order); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "creating order")
		}

		return s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: buyerID, Role: string(enums.RoleBuyer)},
			Data: map[string]any{
				"order_id":     order.ID,
				"order_number": order.OrderNumber,
				"total_cents":  order.TotalCents,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, order.ID.String())
		s.logg.Info(logCtx, "order placed")
	}
	return order, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID, actor types.Actor) (*models.Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeRead(order, actor); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (*Page, error) {
	if buyerID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "buyer id is required")
	}
	rows, err := s.repo.ListByBuyer(ctx, buyerID, params)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "listing orders")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	page := &Page{Orders: rows}
	if len(rows) > limit {
		page.Orders = rows[:limit]
		last := page.Orders[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return page, nil
}

func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, actor types.Actor, reason string) (*models.Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerUserID != actor.UserID && !actor.IsAdmin() {
		return nil, errors.New(errors.CodeForbidden, "not your order")
	}
	if !order.Status.CanCancel() {
		return nil, errors.New(errors.CodeStateConflict, "order can no longer be cancelled")
	}

	// Paid orders go through the refund path: money moves, then the
	// order is cancelled and stock restored there.
	if order.PaymentStatus == enums.PaymentStatusPaid {
		if s.refunder == nil {
			return nil, errors.New(errors.CodeStateConflict, "paid orders must be refunded")
		}
		if err := s.refunder.CancelPaid(ctx, orderID, actor, reason); err != nil {
			return nil, err
		}
		return s.loadOrder(ctx, orderID)
	}

	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := s.repo.WithTx(tx)
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

		return s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)},
			Data: map[string]any{
				"order_id": orderID,
				"reason":   reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	return s.loadOrder(ctx, orderID)
}

func (s *service) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "order id is required")
	}
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New(errors.CodeNotFound, "order not found")
		}
		return nil, errors.Wrap(errors.CodeInternal, err, "loading order")
	}
	return order, nil
}

func authorizeRead(order *models.Order, actor types.Actor) error {
	if actor.IsAdmin() || order.BuyerUserID == actor.UserID {
		return nil
	}
	if actor.Role == enums.RoleVendor && actor.VendorID != nil {
		for _, item := range order.Items {
			if item.VendorID == *actor.VendorID {
				return nil
			}
		}
	}
	return errors.New(errors.CodeForbidden, "not your order")
}
