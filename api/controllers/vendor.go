package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/amaruortiz/vendora-backend/api/middleware"
	"github.com/amaruortiz/vendora-backend/api/responses"
	"github.com/amaruortiz/vendora-backend/api/validators"
	"github.com/amaruortiz/vendora-backend/internal/ledger"
	internalorders "github.com/amaruortiz/vendora-backend/internal/orders"
	"github.com/amaruortiz/vendora-backend/internal/settlement"
	pkgerrors "github.com/amaruortiz/vendora-backend/pkg/errors"
	"github.com/amaruortiz/vendora-backend/pkg/logger"
	"github.com/amaruortiz/vendora-backend/pkg/pagination"
)

func vendorIDFromRequest(r *http.Request) (uuid.UUID, error) {
	actor := middleware.ActorFromContext(r.Context())
	if actor.VendorID == nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "vendor account required")
	}
	return *actor.VendorID, nil
}

// VendorBalance reports the vendor's ledger balance split into held and
// available portions.
func VendorBalance(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vendorID, err := vendorIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.Balance(r.Context(), vendorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, view)
	}
}

// VendorLedger pages the vendor's ledger entries newest first.
func VendorLedger(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vendorID, err := vendorIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))

		page, err := svc.Entries(r.Context(), vendorID, pagination.Params{Limit: limit, Cursor: cursor})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, page)
	}
}

// VendorEarningsPreview computes this vendor's would-be share of an order
// without settling it. Other vendors' cuts are withheld.
func VendorEarningsPreview(orderSvc internalorders.Service, settler settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vendorID, err := vendorIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := validators.ParsePathUUID(chi.URLParam(r, "orderId"), "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := orderSvc.Get(r.Context(), orderID, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		split, err := settler.Preview(r.Context(), order)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		for _, share := range split.Vendors {
			if share.VendorID == vendorID {
				responses.WriteSuccess(w, share)
				return
			}
		}
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "no items for this vendor on the order"))
	}
}
