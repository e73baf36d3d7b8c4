package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/amaruortiz/vendora-backend/api/middleware"
	"github.com/amaruortiz/vendora-backend/api/responses"
	"github.com/amaruortiz/vendora-backend/api/validators"
	internalorders "github.com/amaruortiz/vendora-backend/internal/orders"
	"github.com/amaruortiz/vendora-backend/pkg/enums"
	pkgerrors "github.com/amaruortiz/vendora-backend/pkg/errors"
	"github.com/amaruortiz/vendora-backend/pkg/logger"
	"github.com/amaruortiz/vendora-backend/pkg/pagination"
	"github.com/amaruortiz/vendora-backend/pkg/types"
)

type placeOrderBody struct {
	Currency        string                    `json:"currency" validate:"required"`
	PaymentMethod   string                    `json:"payment_method" validate:"required"`
	ShippingAddress *types.Address            `json:"shipping_address" validate:"required"`
	Lines           []internalorders.CartLine `json:"lines" validate:"required,min=1"`
}

type cancelOrderBody struct {
	Reason string `json:"reason"`
}

// PlaceOrder snapshots the buyer's cart into an order at quoted prices.
func PlaceOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body placeOrderBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		currency, err := enums.ParseCurrency(body.Currency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency"))
			return
		}
		method, err := enums.ParsePaymentMethod(body.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		actor := middleware.ActorFromContext(r.Context())
		order, err := svc.Place(r.Context(), actor.UserID, internalorders.PlaceOrderInput{
			Currency:        currency,
			PaymentMethod:   method,
			ShippingAddress: body.ShippingAddress,
			Lines:           body.Lines,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// OrderDetail returns one order after the service checks ownership.
func OrderDetail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(chi.URLParam(r, "orderId"), "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), orderID, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, order)
	}
}

// OrderList pages the buyer's own orders newest first.
func OrderList(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))

		actor := middleware.ActorFromContext(r.Context())
		page, err := svc.ListForBuyer(r.Context(), actor.UserID, pagination.Params{Limit: limit, Cursor: cursor})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, page)
	}
}

// CancelOrder cancels a pending order, or refunds and cancels a paid one.
func CancelOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(chi.URLParam(r, "orderId"), "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body cancelOrderBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Cancel(r.Context(), orderID, middleware.ActorFromContext(r.Context()), body.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, order)
	}
}
