package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medibook/telehealth-platform/internal/account"
	"github.com/medibook/telehealth-platform/internal/availability"
)

func createSlotsHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok || actor.Role != account.RoleDoctor {
			writeError(w, http.StatusForbidden, "unauthorized", "only doctors can publish availability")
			return
		}

		var req CreateSlotsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		windows := make([]availability.Window, 0, len(req.Slots))
		for _, s := range req.Slots {
			windows = append(windows, availability.Window{
				StartTime: s.StartTime,
				EndTime:   s.EndTime,
			})
		}

		created, err := svc.CreateSlots(r.Context(), actor.ID, windows, req.ReplaceAll)
		if err != nil {
			handleAvailabilityError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, CreateSlotsResponse{SlotsCreated: created})
	}
}

func listAvailabilityHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		doctorID, err := uuid.Parse(q.Get("doctor_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		from := time.Now()
		if v := q.Get("from"); v != "" {
			from, err = time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC3339")
				return
			}
		}

		var to time.Time
		if v := q.Get("to"); v != "" {
			to, err = time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC3339")
				return
			}
		}

		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))

		slots, err := svc.ListAvailability(r.Context(), doctorID, from, to, limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, SlotResponse{
				ID:        s.ID,
				DoctorID:  s.DoctorID,
				StartTime: s.StartTime,
				EndTime:   s.EndTime,
				Booked:    s.Booked,
			})
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func updateSlotHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok || actor.Role != account.RoleDoctor {
			writeError(w, http.StatusForbidden, "unauthorized", "only doctors can modify availability")
			return
		}

		slotID, err := uuid.Parse(chi.URLParam(r, "slotID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slotID must be a valid UUID")
			return
		}

		var req UpdateSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slot, err := svc.UpdateSlot(r.Context(), actor.ID, slotID, availability.Window{
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
		})
		if err != nil {
			handleAvailabilityError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotResponse{
			ID:        slot.ID,
			DoctorID:  slot.DoctorID,
			StartTime: slot.StartTime,
			EndTime:   slot.EndTime,
		})
	}
}

func deleteSlotHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok || actor.Role != account.RoleDoctor {
			writeError(w, http.StatusForbidden, "unauthorized", "only doctors can modify availability")
			return
		}

		slotID, err := uuid.Parse(chi.URLParam(r, "slotID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slotID must be a valid UUID")
			return
		}

		if err := svc.DeleteSlot(r.Context(), actor.ID, slotID); err != nil {
			handleAvailabilityError(w, err)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

func handleAvailabilityError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, availability.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, availability.ErrSlotHasAppointment):
		writeError(w, http.StatusBadRequest, "slot_has_appointment", err.Error())
	case errors.Is(err, availability.ErrDoctorNotVerified):
		writeError(w, http.StatusForbidden, "doctor_not_verified", err.Error())
	case errors.Is(err, availability.ErrNoWindows),
		errors.Is(err, availability.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, account.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account_not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
