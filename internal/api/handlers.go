package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medicore/clinic-scheduling/internal/metrics"
	"github.com/medicore/clinic-scheduling/internal/scheduling"
)

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

// parseStartAt combines the wire date and time fields into a facility-local
// instant.
func parseStartAt(date, clock string) (time.Time, error) {
	return time.ParseInLocation(scheduling.DateFormat+" "+scheduling.TimeFormat, date+" "+clock, time.Local)
}

// actorFrom reads the identity headers set by the gateway. Absent headers
// degrade to an anonymous patient, which never gains elevated capabilities.
func actorFrom(r *http.Request) scheduling.Actor {
	actor := scheduling.Actor{Role: scheduling.Role(r.Header.Get("X-Actor-Role"))}
	if id, err := uuid.Parse(r.Header.Get("X-Actor-ID")); err == nil {
		actor.ID = id
	}
	if actor.Role == "" {
		actor.Role = scheduling.RolePatient
	}
	return actor
}

// decodeBody tolerates an absent body so endpoints with optional payloads
// accept bare POSTs.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func availableSlotsHandler(eng *scheduling.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := parseUUIDParam(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		dateStr := r.URL.Query().Get("date")
		date, err := time.ParseInLocation(scheduling.DateFormat, dateStr, time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted YYYY-MM-DD")
			return
		}

		slots, err := eng.AvailableSlots(r.Context(), doctorID, date)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := SlotsResponse{DoctorID: doctorID, Date: dateStr, Slots: make([]string, 0, len(slots))}
		for _, s := range slots {
			resp.Slots = append(resp.Slots, s.Format(scheduling.TimeFormat))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAvailabilityHandler(eng *scheduling.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := parseUUIDParam(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		windows, err := eng.Availability(r.Context(), doctorID)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAvailabilityResponse(doctorID, windows))
	}
}

func setAvailabilityHandler(eng *scheduling.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := parseUUIDParam(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		var req SetAvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		windows := make([]scheduling.AvailabilityWindow, 0, len(req.Windows))
		for _, p := range req.Windows {
			startMinute, err := clockToMinutes(p.StartTime)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be formatted HH:MM")
				return
			}
			endMinute, err := clockToMinutes(p.EndTime)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_end_time", "end_time must be formatted HH:MM")
				return
			}
			windows = append(windows, scheduling.AvailabilityWindow{
				Weekday:     time.Weekday(p.Weekday),
				StartMinute: startMinute,
				EndMinute:   endMinute,
				Active:      true,
			})
		}

		if err := eng.SetAvailability(r.Context(), doctorID, windows); err != nil {
			handleSchedulingError(w, err)
			return
		}

		saved, err := eng.Availability(r.Context(), doctorID)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAvailabilityResponse(doctorID, saved))
	}
}

func clockToMinutes(clock string) (int, error) {
	t, err := time.Parse(scheduling.TimeFormat, clock)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func bookAppointmentHandler(eng *scheduling.Engine, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
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

		appt, err := eng.Book(r.Context(), patientID, doctorID, startAt, req.Reason)
		m.CountOperation("book", outcomeLabel(err))
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(eng *scheduling.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := filterFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
			return
		}

		appts, err := eng.ListAppointments(r.Context(), f)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(eng *scheduling.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUIDParam(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		detail, err := eng.GetAppointment(r.Context(), id)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentDetailResponse(detail))
	}
}

func cancelAppointmentHandler(eng *scheduling.Engine, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUIDParam(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := eng.Cancel(r.Context(), id, actorFrom(r))
		m.CountOperation("cancel", outcomeLabel(err))
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(eng *scheduling.Engine, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUIDParam(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		newStart, err := parseStartAt(req.Date, req.Time)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "date must be YYYY-MM-DD and time HH:MM")
			return
		}

		appt, err := eng.Reschedule(r.Context(), id, newStart, actorFrom(r))
		m.CountOperation("reschedule", outcomeLabel(err))
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(eng *scheduling.Engine, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUIDParam(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req CompleteRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := eng.Complete(r.Context(), id, req.Notes, actorFrom(r))
		m.CountOperation("complete", outcomeLabel(err))
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func filterFromQuery(r *http.Request) (scheduling.AppointmentFilter, error) {
	var f scheduling.AppointmentFilter
	q := r.URL.Query()

	if v := q.Get("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, errors.New("patient_id must be a valid UUID")
		}
		f.PatientID = &id
	}
	if v := q.Get("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, errors.New("doctor_id must be a valid UUID")
		}
		f.DoctorID = &id
	}
	if v := q.Get("status"); v != "" {
		status := scheduling.AppointmentStatus(v)
		f.Status = &status
	}
	if v := q.Get("from"); v != "" {
		from, err := time.ParseInLocation(scheduling.DateFormat, v, time.Local)
		if err != nil {
			return f, errors.New("from must be formatted YYYY-MM-DD")
		}
		f.From = &from
	}
	if v := q.Get("to"); v != "" {
		to, err := time.ParseInLocation(scheduling.DateFormat, v, time.Local)
		if err != nil {
			return f, errors.New("to must be formatted YYYY-MM-DD")
		}
		// The named day is included in the range.
		to = to.AddDate(0, 0, 1)
		f.To = &to
	}
	f.Limit = intQuery(q.Get("limit"))
	f.Offset = intQuery(q.Get("offset"))
	return f, nil
}

func intQuery(v string) int {
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func handleSchedulingError(w http.ResponseWriter, err error) {
	var ve *scheduling.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "validation_error", ve.Error())
	case errors.Is(err, scheduling.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, scheduling.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "request_not_found", err.Error())
	case errors.Is(err, scheduling.ErrNotificationNotFound):
		writeError(w, http.StatusNotFound, "notification_not_found", err.Error())
	case errors.Is(err, scheduling.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room_not_found", err.Error())
	case errors.Is(err, scheduling.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", err.Error())
	case errors.Is(err, scheduling.ErrPatientBusy):
		writeError(w, http.StatusConflict, "patient_busy", err.Error())
	case errors.Is(err, scheduling.ErrCancelWindowClosed):
		writeError(w, http.StatusForbidden, "cancellation_window_closed", err.Error())
	case errors.Is(err, scheduling.ErrAlreadyCompleted):
		writeError(w, http.StatusConflict, "already_completed", err.Error())
	case errors.Is(err, scheduling.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, scheduling.ErrBusy):
		writeError(w, http.StatusConflict, "busy", "schedule is busy, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}

func outcomeLabel(err error) string {
	var ve *scheduling.ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ve):
		return "validation"
	case errors.Is(err, scheduling.ErrSlotTaken),
		errors.Is(err, scheduling.ErrPatientBusy):
		return "conflict"
	case errors.Is(err, scheduling.ErrCancelWindowClosed):
		return "policy"
	case errors.Is(err, scheduling.ErrBusy):
		return "busy"
	case errors.Is(err, scheduling.ErrPatientNotFound),
		errors.Is(err, scheduling.ErrDoctorNotFound),
		errors.Is(err, scheduling.ErrAppointmentNotFound),
		errors.Is(err, scheduling.ErrRequestNotFound):
		return "not_found"
	case errors.Is(err, scheduling.ErrAlreadyCompleted),
		errors.Is(err, scheduling.ErrInvalidTransition):
		return "invalid_state"
	default:
		return "error"
	}
}
