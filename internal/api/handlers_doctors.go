package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medibook/telehealth-platform/internal/account"
)

func reviewDoctorHandler(svc *account.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing actor")
			return
		}

		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		var req ReviewDoctorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctor, err := svc.ReviewDoctor(r.Context(), actor.ID, doctorID, account.ReviewDecision(req.Decision), req.Notes)
		if err != nil {
			handleAccountError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, doctorResponse(doctor))
	}
}

func setPriceHandler(svc *account.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok || actor.Role != account.RoleDoctor {
			writeError(w, http.StatusForbidden, "unauthorized", "only doctors set a consultation price")
			return
		}

		var req SetPriceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctor, err := svc.SetConsultationPrice(r.Context(), actor.ID, req.Price)
		if err != nil {
			handleAccountError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, doctorResponse(doctor))
	}
}

func doctorResponse(a *account.Account) DoctorResponse {
	resp := DoctorResponse{
		ID:                a.ID,
		Role:              string(a.Role),
		ConsultationPrice: a.ConsultationPrice,
		VerifiedAt:        a.VerifiedAt,
	}
	if a.VerificationStatus != nil {
		resp.VerificationStatus = string(*a.VerificationStatus)
	}
	return resp
}

func handleAccountError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, account.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account_not_found", err.Error())
	case errors.Is(err, account.ErrNotDoctor):
		writeError(w, http.StatusBadRequest, "not_a_doctor", err.Error())
	case errors.Is(err, account.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, account.ErrInvalidDecision),
		errors.Is(err, account.ErrInvalidConsultPrice):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, account.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "unauthorized", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
