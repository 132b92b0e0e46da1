package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medicore/clinic-scheduling/internal/notify"
	"github.com/medicore/clinic-scheduling/internal/triage"
)

func requestLockKey(id uuid.UUID) string {
	return "lock:request:" + id.String()
}

// CreateBookingRequest records a patient's free-text appointment request in
// pending state, with a triage suggestion derived from the reason text. A
// receptionist later assigns it to a concrete slot or declines it.
func (e *Engine) CreateBookingRequest(ctx context.Context, patientID uuid.UUID, reason string, preferredDate *time.Time) (*BookingRequest, error) {
	if reason == "" {
		return nil, NewValidationError("reason", "must not be empty")
	}
	if _, err := e.store.GetPatientByID(ctx, patientID); err != nil {
		return nil, e.opErr("create request", err)
	}

	now := e.clock.Now()
	r := &BookingRequest{
		ID:            uuid.New(),
		PatientID:     patientID,
		Reason:        reason,
		PreferredDate: preferredDate,
		Status:        RequestPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if specs := triage.SuggestSpecializations(reason); len(specs) > 0 {
		top := specs[0]
		r.Specialization = &top
	}
	if err := e.store.InsertBookingRequest(ctx, r); err != nil {
		return nil, e.opErr("create request", err)
	}
	return r, nil
}

func (e *Engine) GetBookingRequest(ctx context.Context, id uuid.UUID) (*BookingRequest, error) {
	r, err := e.store.GetBookingRequestByID(ctx, id)
	if err != nil {
		return nil, e.opErr("get request", err)
	}
	return r, nil
}

func (e *Engine) ListBookingRequests(ctx context.Context, status RequestStatus, limit, offset int) ([]BookingRequest, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	out, err := e.store.ListBookingRequests(ctx, status, limit, offset)
	if err != nil {
		return nil, e.opErr("list requests", err)
	}
	return out, nil
}

// AssignBookingRequest books an appointment for a pending request and marks
// the request assigned. The booking commits on its own: if marking fails
// afterwards the request stays pending, and a retry runs into the patient
// conflict instead of double-booking.
func (e *Engine) AssignBookingRequest(ctx context.Context, id, doctorID uuid.UUID, startAt time.Time, actor Actor) (*BookingRequest, *Appointment, error) {
	req, err := e.store.GetBookingRequestByID(ctx, id)
	if err != nil {
		return nil, nil, e.opErr("assign request", err)
	}
	if req.Status != RequestPending {
		return nil, nil, ErrInvalidTransition
	}

	var (
		outReq  *BookingRequest
		outAppt *Appointment
	)
	err = e.locker.WithKeys(ctx, []string{requestLockKey(id)}, func(ctx context.Context) error {
		cur, err := e.store.GetBookingRequestByID(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != RequestPending {
			return ErrInvalidTransition
		}
		appt, err := e.Book(ctx, cur.PatientID, doctorID, startAt, cur.Reason)
		if err != nil {
			return err
		}
		upd := *cur
		upd.Status = RequestAssigned
		upd.AppointmentID = &appt.ID
		upd.UpdatedAt = e.clock.Now()
		saved, err := e.store.UpdateBookingRequestCAS(ctx, &upd, RequestPending)
		if err != nil {
			return err
		}
		e.logEvent(ctx, EventRequestAssigned, &appt.ID, map[string]any{
			"request_id": saved.ID,
			"actor_id":   actor.ID,
			"actor_role": actor.Role,
		})
		outReq, outAppt = saved, appt
		return nil
	})
	if err != nil {
		return nil, nil, e.opErr("assign request", err)
	}
	return outReq, outAppt, nil
}

// DeclineBookingRequest closes a pending request without booking and tells
// the patient why.
func (e *Engine) DeclineBookingRequest(ctx context.Context, id uuid.UUID, note string, actor Actor) (*BookingRequest, error) {
	req, err := e.store.GetBookingRequestByID(ctx, id)
	if err != nil {
		return nil, e.opErr("decline request", err)
	}
	if req.Status != RequestPending {
		return nil, ErrInvalidTransition
	}
	if note == "" {
		note = "please contact the clinic to arrange another time"
	}

	var out *BookingRequest
	err = e.locker.WithKeys(ctx, []string{requestLockKey(id)}, func(ctx context.Context) error {
		return e.store.WithinTx(ctx, func(ctx context.Context) error {
			cur, err := e.store.GetBookingRequestByID(ctx, id)
			if err != nil {
				return err
			}
			if cur.Status != RequestPending {
				return ErrInvalidTransition
			}
			upd := *cur
			upd.Status = RequestDeclined
			upd.UpdatedAt = e.clock.Now()
			saved, err := e.store.UpdateBookingRequestCAS(ctx, &upd, RequestPending)
			if err != nil {
				return err
			}
			msg, err := notify.Render("request-declined", map[string]string{"note": note})
			if err != nil {
				return err
			}
			if err := e.notifier.Notify(ctx, cur.PatientID, msg, NotificationAppointment); err != nil {
				return err
			}
			e.logEvent(ctx, EventRequestDeclined, nil, map[string]any{
				"request_id": saved.ID,
				"actor_id":   actor.ID,
				"actor_role": actor.Role,
			})
			out = saved
			return nil
		})
	})
	if err != nil {
		return nil, e.opErr("decline request", err)
	}
	return out, nil
}
