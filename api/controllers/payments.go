package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/amaruortiz/vendora-backend/api/middleware"
	"github.com/amaruortiz/vendora-backend/api/responses"
	"github.com/amaruortiz/vendora-backend/api/validators"
	"github.com/amaruortiz/vendora-backend/internal/payments"
	pkgerrors "github.com/amaruortiz/vendora-backend/pkg/errors"
	"github.com/amaruortiz/vendora-backend/pkg/logger"
)

// InitiatePayment starts a card payment and returns the redirect handle.
func InitiatePayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(chi.URLParam(r, "orderId"), "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Initiate(r.Context(), orderID, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// PaymentCallback is the buyer redirect landing. The gateway appends the
// reference as a query parameter; verification is shared with the webhook.
func PaymentCallback(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reference := strings.TrimSpace(r.URL.Query().Get("reference"))
		if reference == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "reference is required"))
			return
		}

		result, err := svc.VerifyByReference(r.Context(), reference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// AdminVerifyPayment forces a re-verification against the gateway.
func AdminVerifyPayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reference := strings.TrimSpace(r.URL.Query().Get("reference"))
		if reference == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "reference is required"))
			return
		}

		result, err := svc.VerifyByReference(r.Context(), reference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// AdminConfirmCOD marks a cash-on-delivery order collected and settles it.
func AdminConfirmCOD(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(chi.URLParam(r, "orderId"), "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ConfirmCOD(r.Context(), orderID, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}
