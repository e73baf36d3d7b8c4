package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/amaruortiz/vendora-backend/api/middleware"
	"github.com/amaruortiz/vendora-backend/api/responses"
	"github.com/amaruortiz/vendora-backend/api/validators"
	"github.com/amaruortiz/vendora-backend/internal/refunds"
	"github.com/amaruortiz/vendora-backend/pkg/logger"
)

// AdminRefundOrder issues a full or partial refund against a paid order.
func AdminRefundOrder(svc refunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(chi.URLParam(r, "orderId"), "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body refunds.RefundInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		refund, err := svc.Refund(r.Context(), orderID, middleware.ActorFromContext(r.Context()), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, refund)
	}
}

// RefundList returns the refunds recorded against an order.
func RefundList(svc refunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(chi.URLParam(r, "orderId"), "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.ListForOrder(r.Context(), orderID, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, rows)
	}
}
