package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/medibook/telehealth-platform/internal/account"
	"github.com/medibook/telehealth-platform/internal/ledger"
)

// purchaseCreditsHandler records a completed cash-to-credit conversion. The
// payment gateway collaborator calls in with an admin service identity.
func purchaseCreditsHandler(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok || actor.Role != account.RoleAdmin {
			writeError(w, http.StatusForbidden, "unauthorized", "credit purchases are recorded by the payment gateway identity")
			return
		}

		var req PurchaseCreditsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		accountID, err := uuid.Parse(req.AccountID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_account_id", "account_id must be a valid UUID")
			return
		}

		entry, err := svc.RecordPurchase(r.Context(), accountID, req.Amount, req.Description)
		if err != nil {
			handleLedgerError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, ledgerEntryResponse(entry))
	}
}

func allocateMonthlyHandler(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok || actor.Role != account.RoleAdmin {
			writeError(w, http.StatusForbidden, "unauthorized", "monthly allocation is invoked by the subscription collaborator")
			return
		}

		var req AllocateMonthlyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		accountID, err := uuid.Parse(req.AccountID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_account_id", "account_id must be a valid UUID")
			return
		}

		entry, granted, err := svc.AllocateMonthly(r.Context(), accountID, req.PlanID)
		if err != nil {
			handleLedgerError(w, err)
			return
		}

		resp := AllocateMonthlyResponse{
			Granted: granted,
			PlanID:  req.PlanID,
		}
		if granted && entry != nil {
			resp.Amount = entry.Amount
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func adjustCreditsHandler(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing actor")
			return
		}

		var req AdjustCreditsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		accountID, err := uuid.Parse(req.AccountID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_account_id", "account_id must be a valid UUID")
			return
		}

		entry, err := svc.Adjust(r.Context(), actor.ID, accountID, req.Amount, req.Description)
		if err != nil {
			handleLedgerError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, ledgerEntryResponse(entry))
	}
}

func balanceHandler(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing actor")
			return
		}

		accountID, err := resolveAccountParam(r.URL.Query().Get("account_id"), actor)
		if err != nil {
			writeError(w, http.StatusForbidden, "unauthorized", err.Error())
			return
		}

		balance, derived, err := svc.Balance(r.Context(), accountID)
		if err != nil {
			handleLedgerError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, BalanceResponse{
			AccountID: accountID,
			Balance:   balance,
			Derived:   derived,
			Diverged:  balance != derived,
		})
	}
}

func ledgerEntriesHandler(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing actor")
			return
		}

		q := r.URL.Query()

		accountID, err := resolveAccountParam(q.Get("account_id"), actor)
		if err != nil {
			writeError(w, http.StatusForbidden, "unauthorized", err.Error())
			return
		}

		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))

		entries, err := svc.Entries(r.Context(), accountID, limit, offset)
		if err != nil {
			handleLedgerError(w, err)
			return
		}

		resp := make([]LedgerEntryResponse, 0, len(entries))
		for i := range entries {
			resp = append(resp, ledgerEntryResponse(&entries[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// resolveAccountParam defaults to the actor's own account; only admins may
// look at someone else's.
func resolveAccountParam(raw string, actor *account.Account) (uuid.UUID, error) {
	if raw == "" {
		return actor.ID, nil
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("account_id must be a valid UUID")
	}
	if id != actor.ID && actor.Role != account.RoleAdmin {
		return uuid.Nil, errors.New("cannot read another account's credits")
	}
	return id, nil
}

func ledgerEntryResponse(e *ledger.Entry) LedgerEntryResponse {
	return LedgerEntryResponse{
		ID:            e.ID,
		AccountID:     e.AccountID,
		Amount:        e.Amount,
		Type:          string(e.Type),
		Description:   e.Description,
		PlanID:        e.PlanID,
		AppointmentID: e.AppointmentID,
		CreatedAt:     e.CreatedAt,
	}
}

func handleLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, account.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account_not_found", err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "insufficient_credits", err.Error())
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, ledger.ErrUnknownPlan):
		writeError(w, http.StatusBadRequest, "unknown_plan", err.Error())
	case errors.Is(err, ledger.ErrAllocationInProgress):
		writeError(w, http.StatusConflict, "allocation_in_progress", err.Error())
	case errors.Is(err, ledger.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "unauthorized", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
