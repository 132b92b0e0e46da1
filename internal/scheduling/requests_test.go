package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func receptionistActor() Actor {
	return Actor{ID: uuid.New(), Role: RoleReceptionist}
}

func TestCreateBookingRequest(t *testing.T) {
	f := newFixture(t)
	preferred := mondayAt(0, 0).AddDate(0, 0, 3)

	req, err := f.engine.CreateBookingRequest(context.Background(), f.patient.ID, "chest pain and palpitations", &preferred)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	if req.Status != RequestPending {
		t.Errorf("expected status pending, got %s", req.Status)
	}
	if req.Specialization == nil || *req.Specialization != "Cardiology" {
		t.Errorf("expected Cardiology suggestion, got %v", req.Specialization)
	}
	if req.PreferredDate == nil || !req.PreferredDate.Equal(preferred) {
		t.Errorf("expected preferred date %s, got %v", preferred, req.PreferredDate)
	}

	got, err := f.engine.GetBookingRequest(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Reason != "chest pain and palpitations" {
		t.Errorf("reason = %q", got.Reason)
	}
}

func TestCreateBookingRequest_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateBookingRequest(ctx, f.patient.ID, "", nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("empty reason: expected a validation error, got %v", err)
	}

	_, err = f.engine.CreateBookingRequest(ctx, uuid.New(), "fever", nil)
	if !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("unknown patient: expected ErrPatientNotFound, got %v", err)
	}
}

func TestAssignBookingRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := mondayAt(10, 0)

	req, err := f.engine.CreateBookingRequest(ctx, f.patient.ID, "knee pain after a fall", nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	saved, appt, err := f.engine.AssignBookingRequest(ctx, req.ID, f.doctor.ID, start, receptionistActor())
	if err != nil {
		t.Fatalf("assign request: %v", err)
	}

	if saved.Status != RequestAssigned {
		t.Errorf("expected status assigned, got %s", saved.Status)
	}
	if saved.AppointmentID == nil || *saved.AppointmentID != appt.ID {
		t.Errorf("expected the request to reference appointment %s, got %v", appt.ID, saved.AppointmentID)
	}
	if appt.Status != StatusScheduled || !appt.StartAt.Equal(start) {
		t.Errorf("expected a scheduled appointment at %s, got %s at %s", start, appt.Status, appt.StartAt)
	}
	if appt.Reason != "knee pain after a fall" {
		t.Errorf("expected the request reason on the appointment, got %q", appt.Reason)
	}

	// The booking notified both parties.
	if msgs := f.notificationsFor(t, f.patient.ID); len(msgs) != 1 {
		t.Errorf("expected 1 patient notification, got %d", len(msgs))
	}

	if len(f.store.events) == 0 {
		t.Fatal("expected audit events")
	}
	last := f.store.events[len(f.store.events)-1]
	if last.EventType != EventRequestAssigned {
		t.Errorf("last event = %s, want %s", last.EventType, EventRequestAssigned)
	}
	if last.AppointmentID == nil || *last.AppointmentID != appt.ID {
		t.Errorf("event appointment = %v, want %s", last.AppointmentID, appt.ID)
	}
}

func TestAssignBookingRequest_NotPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.engine.CreateBookingRequest(ctx, f.patient.ID, "fever", nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if _, _, err := f.engine.AssignBookingRequest(ctx, req.ID, f.doctor.ID, mondayAt(10, 0), receptionistActor()); err != nil {
		t.Fatalf("assign request: %v", err)
	}

	_, _, err = f.engine.AssignBookingRequest(ctx, req.ID, f.doctor.ID, mondayAt(11, 0), receptionistActor())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("re-assign: expected ErrInvalidTransition, got %v", err)
	}

	if _, err := f.engine.DeclineBookingRequest(ctx, req.ID, "", receptionistActor()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("decline assigned: expected ErrInvalidTransition, got %v", err)
	}

	if _, _, err := f.engine.AssignBookingRequest(ctx, uuid.New(), f.doctor.ID, mondayAt(11, 0), receptionistActor()); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("unknown request: expected ErrRequestNotFound, got %v", err)
	}
}

func TestAssignBookingRequest_SlotTakenStaysPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := mondayAt(10, 0)

	f.mustBook(t, f.patient2.ID, f.doctor.ID, start)

	req, err := f.engine.CreateBookingRequest(ctx, f.patient.ID, "fever", nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	_, _, err = f.engine.AssignBookingRequest(ctx, req.ID, f.doctor.ID, start, receptionistActor())
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}

	cur, err := f.engine.GetBookingRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if cur.Status != RequestPending {
		t.Errorf("expected the request to stay pending, got %s", cur.Status)
	}
	if cur.AppointmentID != nil {
		t.Errorf("expected no appointment reference, got %s", *cur.AppointmentID)
	}
}

func TestDeclineBookingRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.engine.CreateBookingRequest(ctx, f.patient.ID, "fever", nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	saved, err := f.engine.DeclineBookingRequest(ctx, req.ID, "no cardiology cover this week", receptionistActor())
	if err != nil {
		t.Fatalf("decline request: %v", err)
	}
	if saved.Status != RequestDeclined {
		t.Errorf("expected status declined, got %s", saved.Status)
	}

	msgs := f.notificationsFor(t, f.patient.ID)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(msgs))
	}
	want := "Your appointment request could not be scheduled: no cardiology cover this week"
	if msgs[0].Message != want {
		t.Errorf("decline message = %q, want %q", msgs[0].Message, want)
	}

	if len(f.store.events) != 1 || f.store.events[0].EventType != EventRequestDeclined {
		t.Errorf("expected one %s event, got %+v", EventRequestDeclined, f.store.events)
	}

	if _, err := f.engine.DeclineBookingRequest(ctx, req.ID, "", receptionistActor()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double decline: expected ErrInvalidTransition, got %v", err)
	}
}

func TestDeclineBookingRequest_DefaultNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.engine.CreateBookingRequest(ctx, f.patient.ID, "fever", nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if _, err := f.engine.DeclineBookingRequest(ctx, req.ID, "", receptionistActor()); err != nil {
		t.Fatalf("decline request: %v", err)
	}

	msgs := f.notificationsFor(t, f.patient.ID)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(msgs))
	}
	want := "Your appointment request could not be scheduled: please contact the clinic to arrange another time"
	if msgs[0].Message != want {
		t.Errorf("decline message = %q, want %q", msgs[0].Message, want)
	}
}

func TestListBookingRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i, reason := range []string{"fever", "rash on the arm", "migraine"} {
		f.clock.Set(baseNow.Add(time.Duration(i) * time.Minute))
		req, err := f.engine.CreateBookingRequest(ctx, f.patient.ID, reason, nil)
		if err != nil {
			t.Fatalf("create request: %v", err)
		}
		ids = append(ids, req.ID)
	}
	if _, err := f.engine.DeclineBookingRequest(ctx, ids[1], "", receptionistActor()); err != nil {
		t.Fatalf("decline request: %v", err)
	}

	pending, err := f.engine.ListBookingRequests(ctx, RequestPending, 0, 0)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending requests, got %d", len(pending))
	}
	// Oldest first.
	if pending[0].ID != ids[0] || pending[1].ID != ids[2] {
		t.Errorf("expected order [%s %s], got [%s %s]", ids[0], ids[2], pending[0].ID, pending[1].ID)
	}

	declined, err := f.engine.ListBookingRequests(ctx, RequestDeclined, 0, 0)
	if err != nil {
		t.Fatalf("list declined: %v", err)
	}
	if len(declined) != 1 || declined[0].ID != ids[1] {
		t.Errorf("expected the declined request only, got %+v", declined)
	}

	all, err := f.engine.ListBookingRequests(ctx, "", 0, 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 requests in total, got %d", len(all))
	}
}
