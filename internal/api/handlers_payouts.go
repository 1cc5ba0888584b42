package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medibook/telehealth-platform/internal/account"
	"github.com/medibook/telehealth-platform/internal/payout"
)

func requestPayoutHandler(svc *payout.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing actor")
			return
		}

		var req RequestPayoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		p, err := svc.RequestPayout(r.Context(), actor.ID, req.Amount)
		if err != nil {
			handlePayoutError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, payoutResponse(p))
	}
}

func listPayoutsHandler(svc *payout.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing actor")
			return
		}

		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))

		payouts, err := svc.ListPayouts(r.Context(), actor.ID, limit, offset)
		if err != nil {
			handlePayoutError(w, err)
			return
		}

		resp := make([]PayoutResponse, 0, len(payouts))
		for i := range payouts {
			resp = append(resp, payoutResponse(&payouts[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func approvePayoutHandler(svc *payout.Service) http.HandlerFunc {
	return resolvePayoutHandler(svc.ApprovePayout)
}

func rejectPayoutHandler(svc *payout.Service) http.HandlerFunc {
	return resolvePayoutHandler(svc.RejectPayout)
}

// resolvePayoutHandler is shared by approve and reject; the two differ only
// in which service method resolves the request.
func resolvePayoutHandler(resolve func(ctx context.Context, adminID, payoutID uuid.UUID) (*payout.Request, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing actor")
			return
		}

		payoutID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_payout_id", "id must be a valid UUID")
			return
		}

		p, err := resolve(r.Context(), actor.ID, payoutID)
		if err != nil {
			handlePayoutError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, payoutResponse(p))
	}
}

func payoutResponse(p *payout.Request) PayoutResponse {
	return PayoutResponse{
		ID:          p.ID,
		DoctorID:    p.DoctorID,
		Amount:      p.Amount,
		Status:      string(p.Status),
		ProcessedBy: p.ProcessedBy,
		RequestedAt: p.RequestedAt,
		ProcessedAt: p.ProcessedAt,
	}
}

func handlePayoutError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, payout.ErrPayoutNotFound):
		writeError(w, http.StatusNotFound, "payout_not_found", err.Error())
	case errors.Is(err, account.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account_not_found", err.Error())
	case errors.Is(err, payout.ErrPayoutResolved):
		writeError(w, http.StatusConflict, "payout_already_resolved", err.Error())
	case errors.Is(err, payout.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, "insufficient_balance", err.Error())
	case errors.Is(err, payout.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, payout.ErrNotDoctor),
		errors.Is(err, payout.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "unauthorized", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
