package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/medicore/clinic-scheduling/internal/config"
	"github.com/medicore/clinic-scheduling/internal/lock"
	"github.com/medicore/clinic-scheduling/internal/metrics"
	"github.com/medicore/clinic-scheduling/internal/scheduling"
)

// The server runs at a fixed Monday morning instant. Handlers parse wire
// dates in time.Local, so the clock lives in time.Local as well.
var apiNow = time.Date(2025, 3, 10, 8, 0, 0, 0, time.Local)

const (
	mondayDate    = "2025-03-10"
	tuesdayDate   = "2025-03-11"
	wednesdayDate = "2025-03-12"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type apiFixture struct {
	store    *scheduling.MemStore
	srv      *httptest.Server
	patient  scheduling.Patient
	patient2 scheduling.Patient
	doctor   scheduling.Doctor
	doctor2  scheduling.Doctor
	room     scheduling.Room
}

func newAPIFixture(t *testing.T) *apiFixture {
	return newAPIFixtureDispatch(t, nil)
}

func newAPIFixtureDispatch(t *testing.T, dispatcher scheduling.NotificationDispatcher) *apiFixture {
	t.Helper()

	cfg := config.Config{
		SlotDuration:        30 * time.Minute,
		HorizonDays:         14,
		CancelLeadTime:      2 * time.Hour,
		AdminLeadTimeBypass: true,
		LockWait:            2 * time.Second,
		ReminderWindow:      24 * time.Hour,
	}

	store := scheduling.NewMemStore()
	clk := &fixedClock{now: apiNow}
	if dispatcher == nil {
		dispatcher = scheduling.NewStoreDispatcher(store, clk)
	}
	logger := zerolog.New(io.Discard)
	engine := scheduling.NewEngine(store, lock.NewKeyedMutex(cfg.LockWait), dispatcher, clk, cfg, logger)

	f := &apiFixture{
		store:    store,
		patient:  scheduling.Patient{ID: uuid.New(), Name: "Dana Webb"},
		patient2: scheduling.Patient{ID: uuid.New(), Name: "Omar Reyes"},
		doctor:   scheduling.Doctor{ID: uuid.New(), Name: "Alice Park"},
		doctor2:  scheduling.Doctor{ID: uuid.New(), Name: "Brian Cho"},
		room:     scheduling.Room{ID: uuid.New(), Number: "101", Type: scheduling.RoomConsultation, Capacity: 2, Available: true},
	}
	store.AddPatient(f.patient)
	store.AddPatient(f.patient2)
	store.AddDoctor(f.doctor)
	store.AddDoctor(f.doctor2)
	store.AddRoom(f.room)
	store.AddEquipment(scheduling.Equipment{
		ID: uuid.New(), Name: "ECG Monitor", Type: "monitor", SerialNumber: "ecg-001", Status: "available",
	})

	for _, docID := range []uuid.UUID{f.doctor.ID, f.doctor2.ID} {
		windows := make([]scheduling.AvailabilityWindow, 0, 5)
		for wd := time.Monday; wd <= time.Friday; wd++ {
			windows = append(windows, scheduling.AvailabilityWindow{
				DoctorID: docID, Weekday: wd, StartMinute: 9 * 60, EndMinute: 17 * 60, Active: true,
			})
		}
		if err := store.ReplaceAvailability(context.Background(), docID, windows); err != nil {
			t.Fatalf("seed availability: %v", err)
		}
	}

	health := NewHealthHandler("test", "0.0.0", map[string]DependencyCheck{
		"store": func(ctx context.Context) error { return nil },
	})
	router := NewRouter(RouterConfig{
		Engine:  engine,
		Health:  health,
		Metrics: metrics.New("test", prometheus.NewRegistry()),
		Logger:  logger,
	})

	f.srv = httptest.NewServer(router)
	t.Cleanup(f.srv.Close)
	return f
}

// do sends a request to the test server. A string body goes out verbatim so
// malformed payloads can be exercised; anything else is marshalled as JSON.
func (f *apiFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	return f.doAs(t, "", method, path, body)
}

func (f *apiFixture) doAs(t *testing.T, role scheduling.Role, method, path string, body any) *http.Response {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("X-Actor-Role", string(role))
		req.Header.Set("X-Actor-ID", uuid.NewString())
	}

	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *apiFixture) book(t *testing.T, patientID, doctorID uuid.UUID, date, clock string) AppointmentResponse {
	t.Helper()

	resp := f.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID: patientID.String(),
		DoctorID:  doctorID.String(),
		Date:      date,
		Time:      clock,
		Reason:    "persistent cough",
	})
	wantStatus(t, resp, http.StatusCreated)
	var appt AppointmentResponse
	decodeAs(t, resp, &appt)
	return appt
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d (body: %s)", resp.StatusCode, want, body)
	}
}

// wantError asserts both the HTTP status and the machine-readable error code.
func wantError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if resp.StatusCode != status {
		t.Fatalf("status = %d, want %d (body: %s)", resp.StatusCode, status, raw)
	}
	var e ErrorResponse
	if err := json.Unmarshal(raw, &e); err != nil {
		t.Fatalf("decode error body %q: %v", raw, err)
	}
	if e.Error != code {
		t.Errorf("error code = %q, want %q (details: %s)", e.Error, code, e.Details)
	}
}

func decodeAs(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func containsSlot(slots []string, want string) bool {
	for _, s := range slots {
		if s == want {
			return true
		}
	}
	return false
}

// ---------- appointments ----------

func TestBookAppointment(t *testing.T) {
	f := newAPIFixture(t)

	appt := f.book(t, f.patient.ID, f.doctor.ID, mondayDate, "10:00")

	if appt.Status != "scheduled" {
		t.Errorf("status = %q, want scheduled", appt.Status)
	}
	if appt.Date != mondayDate || appt.Time != "10:00" || appt.EndTime != "10:30" {
		t.Errorf("window = %s %s-%s, want %s 10:00-10:30", appt.Date, appt.Time, appt.EndTime, mondayDate)
	}
	if appt.PatientID != f.patient.ID {
		t.Errorf("patient id = %s, want %s", appt.PatientID, f.patient.ID)
	}
	if appt.DoctorID != f.doctor.ID {
		t.Errorf("doctor id = %s, want %s", appt.DoctorID, f.doctor.ID)
	}
	if appt.RoomID == nil {
		t.Error("expected a room assignment")
	}
	if appt.Reason != "persistent cough" {
		t.Errorf("reason = %q, want persistent cough", appt.Reason)
	}
}

func TestBookAppointment_BadPayloads(t *testing.T) {
	f := newAPIFixture(t)

	patientID := f.patient.ID.String()
	doctorID := f.doctor.ID.String()

	cases := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{`, "invalid_request_body"},
		{"bad patient id", `{"patient_id":"nope","doctor_id":"` + doctorID + `","date":"2025-03-10","time":"10:00","reason":"checkup"}`, "invalid_patient_id"},
		{"bad doctor id", `{"patient_id":"` + patientID + `","doctor_id":"nope","date":"2025-03-10","time":"10:00","reason":"checkup"}`, "invalid_doctor_id"},
		{"bad date", `{"patient_id":"` + patientID + `","doctor_id":"` + doctorID + `","date":"10-03-2025","time":"10:00","reason":"checkup"}`, "invalid_start"},
		{"empty reason", `{"patient_id":"` + patientID + `","doctor_id":"` + doctorID + `","date":"2025-03-10","time":"10:00","reason":""}`, "validation_error"},
		{"off the slot grid", `{"patient_id":"` + patientID + `","doctor_id":"` + doctorID + `","date":"2025-03-10","time":"10:15","reason":"checkup"}`, "validation_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/appointments", tc.body)
			wantError(t, resp, http.StatusBadRequest, tc.code)
		})
	}
}

func TestBookAppointment_Conflicts(t *testing.T) {
	f := newAPIFixture(t)
	f.book(t, f.patient.ID, f.doctor.ID, mondayDate, "10:00")

	resp := f.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID: f.patient2.ID.String(),
		DoctorID:  f.doctor.ID.String(),
		Date:      mondayDate,
		Time:      "10:00",
		Reason:    "checkup",
	})
	wantError(t, resp, http.StatusConflict, "slot_taken")

	// Same patient, same instant, the other doctor.
	resp = f.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID: f.patient.ID.String(),
		DoctorID:  f.doctor2.ID.String(),
		Date:      mondayDate,
		Time:      "10:00",
		Reason:    "checkup",
	})
	wantError(t, resp, http.StatusConflict, "patient_busy")
}

func TestBookAppointment_UnknownPatient(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID: uuid.NewString(),
		DoctorID:  f.doctor.ID.String(),
		Date:      mondayDate,
		Time:      "10:00",
		Reason:    "checkup",
	})
	wantError(t, resp, http.StatusNotFound, "patient_not_found")
}

func TestGetAppointment(t *testing.T) {
	f := newAPIFixture(t)
	appt := f.book(t, f.patient.ID, f.doctor.ID, mondayDate, "10:00")

	resp := f.do(t, http.MethodGet, "/appointments/"+appt.ID.String(), nil)
	wantStatus(t, resp, http.StatusOK)
	var detail AppointmentDetailResponse
	decodeAs(t, resp, &detail)

	if detail.PatientName != "Dana Webb" {
		t.Errorf("patient name = %q, want Dana Webb", detail.PatientName)
	}
	if detail.DoctorName != "Alice Park" {
		t.Errorf("doctor name = %q, want Alice Park", detail.DoctorName)
	}
	if detail.RoomNumber == nil || *detail.RoomNumber != "101" {
		t.Errorf("room number = %v, want 101", detail.RoomNumber)
	}

	resp = f.do(t, http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	wantError(t, resp, http.StatusNotFound, "appointment_not_found")

	resp = f.do(t, http.MethodGet, "/appointments/not-a-uuid", nil)
	wantError(t, resp, http.StatusBadRequest, "invalid_appointment_id")
}

func TestListAppointments(t *testing.T) {
	f := newAPIFixture(t)
	f.book(t, f.patient.ID, f.doctor.ID, mondayDate, "10:00")
	f.book(t, f.patient.ID, f.doctor.ID, mondayDate, "11:00")
	f.book(t, f.patient2.ID, f.doctor.ID, mondayDate, "12:00")

	resp := f.do(t, http.MethodGet, "/appointments?patient_id="+f.patient.ID.String(), nil)
	wantStatus(t, resp, http.StatusOK)
	var appts []AppointmentResponse
	decodeAs(t, resp, &appts)
	if len(appts) != 2 {
		t.Fatalf("got %d appointments, want 2", len(appts))
	}
	// Latest start first.
	if appts[0].Time != "11:00" || appts[1].Time != "10:00" {
		t.Errorf("order = %s, %s; want 11:00, 10:00", appts[0].Time, appts[1].Time)
	}

	resp = f.do(t, http.MethodGet, "/appointments?patient_id=banana", nil)
	wantError(t, resp, http.StatusBadRequest, "invalid_filter")
}

func TestCancelAppointment(t *testing.T) {
	f := newAPIFixture(t)
	appt := f.book(t, f.patient.ID, f.doctor.ID, mondayDate, "14:00")

	resp := f.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", nil)
	wantStatus(t, resp, http.StatusOK)
	var cancelled AppointmentResponse
	decodeAs(t, resp, &cancelled)
	if cancelled.Status != "cancelled" {
		t.Errorf("status = %q, want cancelled", cancelled.Status)
	}
	if cancelled.RoomID != nil {
		t.Error("room should be released on cancel")
	}

	// The slot is bookable again.
	resp = f.do(t, http.MethodGet, "/doctors/"+f.doctor.ID.String()+"/slots?date="+mondayDate, nil)
	wantStatus(t, resp, http.StatusOK)
	var slots SlotsResponse
	decodeAs(t, resp, &slots)
	if !containsSlot(slots.Slots, "14:00") {
		t.Error("cancelled slot should reappear in the calendar")
	}

	resp = f.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", nil)
	wantError(t, resp, http.StatusNotFound, "appointment_not_found")
}

func TestCancelAppointment_WindowClosed(t *testing.T) {
	f := newAPIFixture(t)
	// 09:00 is inside the 2h lead time at the fixed 08:00 clock.
	appt := f.book(t, f.patient.ID, f.doctor.ID, mondayDate, "09:00")

	resp := f.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", nil)
	wantError(t, resp, http.StatusForbidden, "cancellation_window_closed")

	resp = f.doAs(t, scheduling.RoleAdmin, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", nil)
	wantStatus(t, resp, http.StatusOK)
}

func TestRescheduleAppointment(t *testing.T) {
	f := newAPIFixture(t)
	appt := f.book(t, f.patient.ID, f.doctor.ID, mondayDate, "10:00")

	resp := f.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/reschedule", RescheduleRequest{
		Date: mondayDate,
		Time: "15:00",
	})
	wantStatus(t, resp, http.StatusOK)
	var moved AppointmentResponse
	decodeAs(t, resp, &moved)
	if moved.ID != appt.ID {
		t.Error("id changed across reschedule")
	}
	if moved.Time != "15:00" || moved.EndTime != "15:30" {
		t.Errorf("window = %s-%s, want 15:00-15:30", moved.Time, moved.EndTime)
	}

	resp = f.do(t, http.MethodGet, "/doctors/"+f.doctor.ID.String()+"/slots?date="+mondayDate, nil)
	wantStatus(t, resp, http.StatusOK)
	var slots SlotsResponse
	decodeAs(t, resp, &slots)
	if !containsSlot(slots.Slots, "10:00") {
		t.Error("old slot should be free after reschedule")
	}
	if containsSlot(slots.Slots, "15:00") {
		t.Error("new slot should be occupied after reschedule")
	}
}

func TestCompleteAppointment(t *testing.T) {
	f := newAPIFixture(t)
	appt := f.book(t, f.patient.ID, f.doctor.ID, mondayDate, "10:00")

	resp := f.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/complete", CompleteRequest{Notes: "prescribed rest"})
	wantStatus(t, resp, http.StatusOK)
	var done AppointmentResponse
	decodeAs(t, resp, &done)
	if done.Status != "completed" {
		t.Errorf("status = %q, want completed", done.Status)
	}
	if done.Notes == nil || *done.Notes != "prescribed rest" {
		t.Errorf("notes = %v, want prescribed rest", done.Notes)
	}

	resp = f.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/complete", nil)
	wantError(t, resp, http.StatusConflict, "already_completed")
}

// ---------- calendar ----------

func TestAvailableSlots(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/doctors/"+f.doctor.ID.String()+"/slots?date="+mondayDate, nil)
	wantStatus(t, resp, http.StatusOK)
	var slots SlotsResponse
	decodeAs(t, resp, &slots)
	if len(slots.Slots) != 16 {
		t.Fatalf("got %d slots, want 16", len(slots.Slots))
	}
	if slots.Slots[0] != "09:00" || slots.Slots[15] != "16:30" {
		t.Errorf("slot range = %s..%s, want 09:00..16:30", slots.Slots[0], slots.Slots[15])
	}

	// Sunday carries no availability.
	resp = f.do(t, http.MethodGet, "/doctors/"+f.doctor.ID.String()+"/slots?date=2025-03-16", nil)
	wantStatus(t, resp, http.StatusOK)
	var sunday SlotsResponse
	decodeAs(t, resp, &sunday)
	if len(sunday.Slots) != 0 {
		t.Errorf("got %d slots on Sunday, want 0", len(sunday.Slots))
	}

	resp = f.do(t, http.MethodGet, "/doctors/"+f.doctor.ID.String()+"/slots", nil)
	wantError(t, resp, http.StatusBadRequest, "invalid_date")

	resp = f.do(t, http.MethodGet, "/doctors/"+uuid.NewString()+"/slots?date="+mondayDate, nil)
	wantError(t, resp, http.StatusNotFound, "doctor_not_found")
}

func TestSetAvailability(t *testing.T) {
	f := newAPIFixture(t)
	base := "/doctors/" + f.doctor.ID.String() + "/availability"

	resp := f.doAs(t, scheduling.RoleAdmin, http.MethodPut, base, SetAvailabilityRequest{
		Windows: []AvailabilityWindowPayload{{Weekday: 2, StartTime: "13:00", EndTime: "15:00"}},
	})
	wantStatus(t, resp, http.StatusOK)
	var av AvailabilityResponse
	decodeAs(t, resp, &av)
	if len(av.Windows) != 1 {
		t.Fatalf("got %d windows, want 1", len(av.Windows))
	}
	if w := av.Windows[0]; w.Weekday != 2 || w.StartTime != "13:00" || w.EndTime != "15:00" {
		t.Errorf("window = %+v, want Tuesday 13:00-15:00", w)
	}

	// Monday is gone; Tuesday carries the four new slots.
	resp = f.do(t, http.MethodGet, "/doctors/"+f.doctor.ID.String()+"/slots?date="+mondayDate, nil)
	wantStatus(t, resp, http.StatusOK)
	var monday SlotsResponse
	decodeAs(t, resp, &monday)
	if len(monday.Slots) != 0 {
		t.Errorf("got %d Monday slots after replacement, want 0", len(monday.Slots))
	}

	resp = f.do(t, http.MethodGet, "/doctors/"+f.doctor.ID.String()+"/slots?date="+tuesdayDate, nil)
	wantStatus(t, resp, http.StatusOK)
	var tuesday SlotsResponse
	decodeAs(t, resp, &tuesday)
	if len(tuesday.Slots) != 4 || tuesday.Slots[0] != "13:00" {
		t.Errorf("tuesday slots = %v, want 4 starting at 13:00", tuesday.Slots)
	}

	resp = f.do(t, http.MethodGet, base, nil)
	wantStatus(t, resp, http.StatusOK)
	var stored AvailabilityResponse
	decodeAs(t, resp, &stored)
	if len(stored.Windows) != 1 {
		t.Errorf("got %d stored windows, want 1", len(stored.Windows))
	}

	resp = f.doAs(t, scheduling.RoleAdmin, http.MethodPut, base, SetAvailabilityRequest{
		Windows: []AvailabilityWindowPayload{{Weekday: 1, StartTime: "9am", EndTime: "17:00"}},
	})
	wantError(t, resp, http.StatusBadRequest, "invalid_start_time")

	resp = f.doAs(t, scheduling.RoleAdmin, http.MethodPut, base, SetAvailabilityRequest{
		Windows: []AvailabilityWindowPayload{{Weekday: 9, StartTime: "09:00", EndTime: "17:00"}},
	})
	wantError(t, resp, http.StatusBadRequest, "validation_error")
}

// ---------- booking requests ----------

func TestBookingRequestLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/booking-requests", CreateBookingRequest{
		PatientID:     f.patient.ID.String(),
		Reason:        "chest pain when climbing stairs",
		PreferredDate: wednesdayDate,
	})
	wantStatus(t, resp, http.StatusCreated)
	var created BookingRequestResponse
	decodeAs(t, resp, &created)
	if created.Status != "pending" {
		t.Errorf("status = %q, want pending", created.Status)
	}
	if created.Specialization == nil || *created.Specialization != "Cardiology" {
		t.Errorf("specialization = %v, want Cardiology", created.Specialization)
	}
	if created.PreferredDate == nil || *created.PreferredDate != wednesdayDate {
		t.Errorf("preferred date = %v, want %s", created.PreferredDate, wednesdayDate)
	}

	resp = f.doAs(t, scheduling.RoleReceptionist, http.MethodPost, "/booking-requests/"+created.ID.String()+"/assign", AssignBookingRequest{
		DoctorID: f.doctor.ID.String(),
		Date:     wednesdayDate,
		Time:     "10:00",
	})
	wantStatus(t, resp, http.StatusOK)
	var assigned AssignBookingResponse
	decodeAs(t, resp, &assigned)
	if assigned.Request.Status != "assigned" {
		t.Errorf("request status = %q, want assigned", assigned.Request.Status)
	}
	if assigned.Appointment.Status != "scheduled" {
		t.Errorf("appointment status = %q, want scheduled", assigned.Appointment.Status)
	}
	if assigned.Request.AppointmentID == nil || *assigned.Request.AppointmentID != assigned.Appointment.ID {
		t.Error("request should link the booked appointment")
	}
	if assigned.Appointment.Reason != "chest pain when climbing stairs" {
		t.Errorf("appointment reason = %q, want the request reason", assigned.Appointment.Reason)
	}

	resp = f.do(t, http.MethodGet, "/booking-requests?status=pending", nil)
	wantStatus(t, resp, http.StatusOK)
	var pending []BookingRequestResponse
	decodeAs(t, resp, &pending)
	if len(pending) != 0 {
		t.Errorf("got %d pending requests after assignment, want 0", len(pending))
	}

	resp = f.doAs(t, scheduling.RoleReceptionist, http.MethodPost, "/booking-requests/"+created.ID.String()+"/assign", AssignBookingRequest{
		DoctorID: f.doctor.ID.String(),
		Date:     wednesdayDate,
		Time:     "11:00",
	})
	wantError(t, resp, http.StatusConflict, "invalid_transition")
}

func TestDeclineBookingRequest(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/booking-requests", CreateBookingRequest{
		PatientID: f.patient.ID.String(),
		Reason:    "itchy rash on both arms",
	})
	wantStatus(t, resp, http.StatusCreated)
	var created BookingRequestResponse
	decodeAs(t, resp, &created)

	resp = f.doAs(t, scheduling.RoleReceptionist, http.MethodPost, "/booking-requests/"+created.ID.String()+"/decline", DeclineBookingRequest{
		Note: "no dermatology cover this week",
	})
	wantStatus(t, resp, http.StatusOK)
	var declined BookingRequestResponse
	decodeAs(t, resp, &declined)
	if declined.Status != "declined" {
		t.Errorf("status = %q, want declined", declined.Status)
	}

	resp = f.doAs(t, scheduling.RoleReceptionist, http.MethodPost, "/booking-requests/"+uuid.NewString()+"/decline", nil)
	wantError(t, resp, http.StatusNotFound, "request_not_found")
}

// ---------- triage ----------

func TestTriageSuggest(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/triage/suggest?reason=chest+pain", nil)
	wantStatus(t, resp, http.StatusOK)
	var tr TriageResponse
	decodeAs(t, resp, &tr)
	if tr.Reason != "chest pain" {
		t.Errorf("reason = %q, want chest pain", tr.Reason)
	}
	if len(tr.Suggestions) != 1 || tr.Suggestions[0] != "Cardiology" {
		t.Errorf("suggestions = %v, want [Cardiology]", tr.Suggestions)
	}

	resp = f.do(t, http.MethodGet, "/triage/suggest", nil)
	wantError(t, resp, http.StatusBadRequest, "missing_reason")
}

// ---------- notifications ----------

func TestNotifications(t *testing.T) {
	f := newAPIFixture(t)
	f.book(t, f.patient.ID, f.doctor.ID, mondayDate, "10:00")

	resp := f.do(t, http.MethodGet, "/notifications?user_id="+f.patient.ID.String(), nil)
	wantStatus(t, resp, http.StatusOK)
	var items []NotificationResponse
	decodeAs(t, resp, &items)
	if len(items) != 1 {
		t.Fatalf("got %d notifications, want 1", len(items))
	}
	if items[0].Read {
		t.Error("fresh notification should be unread")
	}

	resp = f.do(t, http.MethodPost, fmt.Sprintf("/notifications/%d/read", items[0].ID), nil)
	wantStatus(t, resp, http.StatusOK)

	resp = f.do(t, http.MethodGet, "/notifications?user_id="+f.patient.ID.String()+"&unread=true", nil)
	wantStatus(t, resp, http.StatusOK)
	var unread []NotificationResponse
	decodeAs(t, resp, &unread)
	if len(unread) != 0 {
		t.Errorf("got %d unread notifications after marking, want 0", len(unread))
	}

	resp = f.do(t, http.MethodPost, "/notifications/9999/read", nil)
	wantError(t, resp, http.StatusNotFound, "notification_not_found")

	resp = f.do(t, http.MethodGet, "/notifications", nil)
	wantError(t, resp, http.StatusBadRequest, "invalid_user_id")
}

// ---------- resources ----------

func TestRoomsAndEquipment(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/rooms", nil)
	wantStatus(t, resp, http.StatusOK)
	var rooms []RoomResponse
	decodeAs(t, resp, &rooms)
	if len(rooms) != 1 {
		t.Fatalf("got %d rooms, want 1", len(rooms))
	}
	if rooms[0].Number != "101" || rooms[0].Type != "consultation" {
		t.Errorf("room = %s/%s, want 101/consultation", rooms[0].Number, rooms[0].Type)
	}

	resp = f.do(t, http.MethodGet, "/equipment", nil)
	wantStatus(t, resp, http.StatusOK)
	var items []EquipmentResponse
	decodeAs(t, resp, &items)
	if len(items) != 1 || items[0].Name != "ECG Monitor" {
		t.Errorf("equipment = %+v, want the seeded ECG Monitor", items)
	}

	resp = f.do(t, http.MethodGet, "/equipment?status=maintenance", nil)
	wantStatus(t, resp, http.StatusOK)
	var none []EquipmentResponse
	decodeAs(t, resp, &none)
	if len(none) != 0 {
		t.Errorf("got %d items under maintenance, want 0", len(none))
	}
}

// ---------- health and metrics ----------

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/health/live", nil)
	wantStatus(t, resp, http.StatusOK)
	var live LivenessResponse
	decodeAs(t, resp, &live)
	if live.Status != "ok" || live.Version != "0.0.0" {
		t.Errorf("liveness = %+v, want ok/0.0.0", live)
	}

	resp = f.do(t, http.MethodGet, "/health/ready", nil)
	wantStatus(t, resp, http.StatusOK)
	var ready ReadinessResponse
	decodeAs(t, resp, &ready)
	if ready.Status != "ok" || ready.Dependencies["store"] != "ok" {
		t.Errorf("readiness = %+v, want everything ok", ready)
	}
}

func TestReadiness_DependencyDown(t *testing.T) {
	h := NewHealthHandler("test", "0.0.0", map[string]DependencyCheck{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	})

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var ready ReadinessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ready); err != nil {
		t.Fatalf("decode readiness body: %v", err)
	}
	if ready.Status != "error" {
		t.Errorf("status = %q, want error", ready.Status)
	}
	if ready.Dependencies["redis"] != "down" || ready.Dependencies["postgres"] != "ok" {
		t.Errorf("dependencies = %v, want redis down and postgres ok", ready.Dependencies)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.book(t, f.patient.ID, f.doctor.ID, mondayDate, "10:00")

	resp := f.do(t, http.MethodGet, "/metrics", nil)
	wantStatus(t, resp, http.StatusOK)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read scrape body: %v", err)
	}
	for _, metric := range []string{"test_http_request_duration_seconds", "test_scheduling_operations_total"} {
		if !strings.Contains(string(body), metric) {
			t.Errorf("scrape output missing %s", metric)
		}
	}
}

// ---------- middleware ----------

func TestRequestIDHeader(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/health/live", nil)
	wantStatus(t, resp, http.StatusOK)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID header")
	}

	// A caller-provided ID is echoed back.
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/health/live", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("X-Request-ID", "req-42")
	echoed, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /health/live: %v", err)
	}
	defer echoed.Body.Close()
	if got := echoed.Header.Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want req-42", got)
	}
}

// ---------- error opacity ----------

type failingDispatcher struct{}

func (failingDispatcher) Notify(context.Context, uuid.UUID, string, scheduling.NotificationType) error {
	return errors.New("smtp relay down")
}

func TestInternalErrorIsOpaque(t *testing.T) {
	f := newAPIFixtureDispatch(t, failingDispatcher{})

	resp := f.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID: f.patient.ID.String(),
		DoctorID:  f.doctor.ID.String(),
		Date:      mondayDate,
		Time:      "10:00",
		Reason:    "checkup",
	})

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 (body: %s)", resp.StatusCode, raw)
	}
	var e ErrorResponse
	if err := json.Unmarshal(raw, &e); err != nil {
		t.Fatalf("decode error body %q: %v", raw, err)
	}
	if e.Error != "internal_error" {
		t.Errorf("error code = %q, want internal_error", e.Error)
	}
	if e.Details != "an unexpected error occurred" {
		t.Errorf("details = %q, want the generic message", e.Details)
	}
}
