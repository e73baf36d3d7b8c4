package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/amaruortiz/vendora-backend/api/middleware"
	"github.com/amaruortiz/vendora-backend/api/responses"
	"github.com/amaruortiz/vendora-backend/api/validators"
	"github.com/amaruortiz/vendora-backend/internal/disputes"
	"github.com/amaruortiz/vendora-backend/pkg/logger"
	"github.com/amaruortiz/vendora-backend/pkg/pagination"
)

type openDisputeBody struct {
	Reason string `json:"reason" validate:"required"`
}

type respondDisputeBody struct {
	Response string `json:"response" validate:"required"`
}

// OpenDispute raises the single allowed dispute on a paid order.
func OpenDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(chi.URLParam(r, "orderId"), "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body openDisputeBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dispute, err := svc.Open(r.Context(), orderID, middleware.ActorFromContext(r.Context()), body.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, dispute)
	}
}

// OrderDispute fetches the dispute attached to an order.
func OrderDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(chi.URLParam(r, "orderId"), "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dispute, err := svc.GetForOrder(r.Context(), orderID, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, dispute)
	}
}

// VendorRespondDispute records the vendor's side of an open dispute.
func VendorRespondDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		disputeID, err := validators.ParsePathUUID(chi.URLParam(r, "disputeId"), "dispute id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body respondDisputeBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dispute, err := svc.VendorRespond(r.Context(), disputeID, middleware.ActorFromContext(r.Context()), body.Response)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, dispute)
	}
}

// CancelDispute withdraws a dispute before resolution.
func CancelDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		disputeID, err := validators.ParsePathUUID(chi.URLParam(r, "disputeId"), "dispute id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dispute, err := svc.Cancel(r.Context(), disputeID, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, dispute)
	}
}

// AdminOpenDisputes lists disputes awaiting action.
func AdminOpenDisputes(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.ListOpen(r.Context(), middleware.ActorFromContext(r.Context()), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, rows)
	}
}

// AdminDisputeDetail fetches one dispute by id.
func AdminDisputeDetail(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		disputeID, err := validators.ParsePathUUID(chi.URLParam(r, "disputeId"), "dispute id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dispute, err := svc.Get(r.Context(), disputeID, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, dispute)
	}
}

// AdminStartDisputeReview moves a dispute into under_review.
func AdminStartDisputeReview(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		disputeID, err := validators.ParsePathUUID(chi.URLParam(r, "disputeId"), "dispute id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dispute, err := svc.StartReview(r.Context(), disputeID, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, dispute)
	}
}

// AdminResolveDispute applies the final decision, moving money when the
// resolution calls for it.
func AdminResolveDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		disputeID, err := validators.ParsePathUUID(chi.URLParam(r, "disputeId"), "dispute id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body disputes.ResolveInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dispute, err := svc.Resolve(r.Context(), disputeID, middleware.ActorFromContext(r.Context()), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, dispute)
	}
}
