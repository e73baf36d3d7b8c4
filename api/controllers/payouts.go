package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/amaruortiz/vendora-backend/api/middleware"
	"github.com/amaruortiz/vendora-backend/api/responses"
	"github.com/amaruortiz/vendora-backend/api/validators"
	"github.com/amaruortiz/vendora-backend/internal/payouts"
	"github.com/amaruortiz/vendora-backend/pkg/logger"
	"github.com/amaruortiz/vendora-backend/pkg/pagination"
)

type completePayoutBody struct {
	Reference string `json:"reference"`
}

type failPayoutBody struct {
	Reason string `json:"reason" validate:"required"`
}

// RequestPayout debits the vendor balance and queues a withdrawal.
func RequestPayout(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body payouts.RequestInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payout, err := svc.Request(r.Context(), middleware.ActorFromContext(r.Context()), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, payout)
	}
}

// PayoutList pages the vendor's own payout requests.
func PayoutList(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))

		page, err := svc.ListForVendor(r.Context(), middleware.ActorFromContext(r.Context()), pagination.Params{Limit: limit, Cursor: cursor})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, page)
	}
}

// PayoutDetail returns one payout for its vendor or an admin.
func PayoutDetail(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payoutID, err := validators.ParsePathUUID(chi.URLParam(r, "payoutId"), "payout id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payout, err := svc.Get(r.Context(), payoutID, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, payout)
	}
}

// AdminPendingPayouts lists the processing queue for the back office.
func AdminPendingPayouts(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.ListPending(r.Context(), middleware.ActorFromContext(r.Context()), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, rows)
	}
}

// AdminCompletePayout marks a payout as transferred.
func AdminCompletePayout(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payoutID, err := validators.ParsePathUUID(chi.URLParam(r, "payoutId"), "payout id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body completePayoutBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payout, err := svc.Complete(r.Context(), payoutID, middleware.ActorFromContext(r.Context()), body.Reference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, payout)
	}
}

// AdminFailPayout rejects a payout and restores the debited funds.
func AdminFailPayout(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payoutID, err := validators.ParsePathUUID(chi.URLParam(r, "payoutId"), "payout id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body failPayoutBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payout, err := svc.Fail(r.Context(), payoutID, middleware.ActorFromContext(r.Context()), body.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, payout)
	}
}
