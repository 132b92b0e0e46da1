package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medicore/clinic-scheduling/internal/metrics"
	"github.com/medicore/clinic-scheduling/internal/scheduling"
	"github.com/medicore/clinic-scheduling/internal/triage"
)

func createBookingRequestHandler(eng *scheduling.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		var preferred *time.Time
		if req.PreferredDate != "" {
			d, err := time.ParseInLocation(scheduling.DateFormat, req.PreferredDate, time.Local)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_preferred_date", "preferred_date must be formatted YYYY-MM-DD")
				return
			}
			preferred = &d
		}

		created, err := eng.CreateBookingRequest(r.Context(), patientID, req.Reason, preferred)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toBookingRequestResponse(created))
	}
}

func listBookingRequestsHandler(eng *scheduling.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		requests, err := eng.ListBookingRequests(r.Context(),
			scheduling.RequestStatus(q.Get("status")), intQuery(q.Get("limit")), intQuery(q.Get("offset")))
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := make([]BookingRequestResponse, 0, len(requests))
		for i := range requests {
			resp = append(resp, toBookingRequestResponse(&requests[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getBookingRequestHandler(eng *scheduling.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUIDParam(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_id", "id must be a valid UUID")
			return
		}

		req, err := eng.GetBookingRequest(r.Context(), id)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingRequestResponse(req))
	}
}

func assignBookingRequestHandler(eng *scheduling.Engine, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUIDParam(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_id", "id must be a valid UUID")
			return
		}

		var req AssignBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		startAt, err := parseStartAt(req.Date, req.Time)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "date must be YYYY-MM-DD and time HH:MM")
			return
		}

		assigned, appt, err := eng.AssignBookingRequest(r.Context(), id, doctorID, startAt, actorFrom(r))
		m.CountOperation("assign_request", outcomeLabel(err))
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, AssignBookingResponse{
			Request:     toBookingRequestResponse(assigned),
			Appointment: toAppointmentResponse(appt),
		})
	}
}

func declineBookingRequestHandler(eng *scheduling.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUIDParam(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_id", "id must be a valid UUID")
			return
		}

		var req DeclineBookingRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		declined, err := eng.DeclineBookingRequest(r.Context(), id, req.Note, actorFrom(r))
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingRequestResponse(declined))
	}
}

func triageSuggestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reason := r.URL.Query().Get("reason")
		if reason == "" {
			writeError(w, http.StatusBadRequest, "missing_reason", "reason query parameter is required")
			return
		}
		writeJSON(w, http.StatusOK, TriageResponse{
			Reason:      reason,
			Suggestions: triage.SuggestSpecializations(reason),
		})
	}
}

func listNotificationsHandler(eng *scheduling.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		userID, err := uuid.Parse(q.Get("user_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user_id", "user_id must be a valid UUID")
			return
		}
		unreadOnly := q.Get("unread") == "true"

		items, err := eng.Notifications(r.Context(), userID, unreadOnly, intQuery(q.Get("limit")))
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := make([]NotificationResponse, 0, len(items))
		for _, n := range items {
			resp = append(resp, toNotificationResponse(n))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func markNotificationReadHandler(eng *scheduling.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_notification_id", "id must be an integer")
			return
		}

		if err := eng.MarkNotificationRead(r.Context(), id); err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
	}
}

func listRoomsHandler(eng *scheduling.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := eng.ListRooms(r.Context())
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := make([]RoomResponse, 0, len(rooms))
		for _, room := range rooms {
			resp = append(resp, RoomResponse{
				ID:        room.ID,
				Number:    room.Number,
				Type:      string(room.Type),
				Capacity:  room.Capacity,
				Available: room.Available,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listEquipmentHandler(eng *scheduling.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := eng.ListEquipment(r.Context(), r.URL.Query().Get("status"))
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := make([]EquipmentResponse, 0, len(items))
		for _, eq := range items {
			resp = append(resp, EquipmentResponse{
				ID:           eq.ID,
				Name:         eq.Name,
				Type:         eq.Type,
				SerialNumber: eq.SerialNumber,
				RoomID:       eq.RoomID,
				Status:       eq.Status,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
