package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medicore/clinic-scheduling/internal/clock"
	"github.com/medicore/clinic-scheduling/internal/config"
	"github.com/medicore/clinic-scheduling/internal/lock"
	"github.com/medicore/clinic-scheduling/internal/notify"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventRequestAssigned        = "REQUEST_ASSIGNED"
	EventRequestDeclined        = "REQUEST_DECLINED"
)

// NotificationDispatcher receives notification intents emitted by the engine.
// Calls happen inside the mutating transaction, so a dispatch error aborts the
// whole operation and a rolled-back operation leaves no notification behind.
type NotificationDispatcher interface {
	Notify(ctx context.Context, userID uuid.UUID, message string, ntype NotificationType) error
}

// StoreDispatcher persists notification intents as unread inbox rows.
type StoreDispatcher struct {
	store Store
	clock clock.Clock
}

func NewStoreDispatcher(store Store, clk clock.Clock) *StoreDispatcher {
	return &StoreDispatcher{store: store, clock: clk}
}

func (d *StoreDispatcher) Notify(ctx context.Context, userID uuid.UUID, message string, ntype NotificationType) error {
	return d.store.InsertNotification(ctx, &Notification{
		UserID:    userID,
		Message:   message,
		Type:      ntype,
		CreatedAt: d.clock.Now(),
	})
}

// Engine coordinates the calendar, slot registry, and room allocator behind
// the booking state machine. Every mutating operation acquires the affected
// per-key locks for a bounded wait and then runs in a single serializable
// transaction, so concurrent callers on the same slot are linearized and
// exactly one wins.
type Engine struct {
	store    Store
	locker   lock.Locker
	registry *SlotRegistry
	calendar *Calendar
	alloc    *Allocator
	notifier NotificationDispatcher
	clock    clock.Clock
	cfg      config.Config
	log      zerolog.Logger
}

func NewEngine(store Store, locker lock.Locker, notifier NotificationDispatcher, clk clock.Clock, cfg config.Config, log zerolog.Logger) *Engine {
	return &Engine{
		store:    store,
		locker:   locker,
		registry: NewSlotRegistry(store),
		calendar: NewCalendar(store, clk, cfg),
		alloc:    NewAllocator(store),
		notifier: notifier,
		clock:    clk,
		cfg:      cfg,
		log:      log.With().Str("component", "engine").Logger(),
	}
}

func slotLockKey(doctorID uuid.UUID, startAt time.Time) string {
	return fmt.Sprintf("lock:slot:%s:%d", doctorID, startAt.Unix())
}

func patientLockKey(patientID uuid.UUID, startAt time.Time) string {
	return fmt.Sprintf("lock:patient:%s:%d", patientID, startAt.Unix())
}

// opErr normalizes errors leaving the engine. Domain errors pass through
// untouched, lock contention surfaces as ErrBusy, and everything else is
// logged with full context and wrapped so callers see a generic failure.
func (e *Engine) opErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, lock.ErrNotAcquired) {
		return ErrBusy
	}
	if isDomainErr(err) {
		return err
	}
	var te *TransactionError
	if errors.As(err, &te) {
		return err
	}
	e.log.Error().Err(err).Str("op", op).Msg("scheduling operation failed")
	return &TransactionError{Op: op, Err: err}
}

// validateStart rejects start times the doctor's calendar does not offer.
func (e *Engine) validateStart(ctx context.Context, doctorID uuid.UUID, startAt time.Time) error {
	if !startAt.After(e.clock.Now()) {
		return NewValidationError("time", "must be in the future")
	}
	day := StartOfDay(startAt)
	if !e.calendar.WithinHorizon(day) {
		return NewValidationError("date", fmt.Sprintf("must be within %d days", e.cfg.HorizonDays))
	}
	slots, err := e.calendar.SlotsFor(ctx, doctorID, day)
	if err != nil {
		return err
	}
	for _, s := range slots {
		if s.Equal(startAt) {
			return nil
		}
	}
	return NewValidationError("time", "is not in the doctor's calendar")
}

// scheduledOnly gates cancel and reschedule. A cancelled appointment is gone
// as far as further mutation is concerned.
func scheduledOnly(s AppointmentStatus) error {
	switch s {
	case StatusCancelled:
		return ErrAppointmentNotFound
	case StatusCompleted:
		return ErrAlreadyCompleted
	}
	return nil
}

// checkCancelWindow enforces the cancellation lead time against the slot
// being vacated. Acting exactly at the boundary is still allowed. Admins
// bypass the window when the deployment elevates them.
func (e *Engine) checkCancelWindow(startAt time.Time, actor Actor) error {
	if actor.Role == RoleAdmin && e.cfg.AdminLeadTimeBypass {
		return nil
	}
	if e.clock.Now().After(startAt.Add(-e.cfg.CancelLeadTime)) {
		return ErrCancelWindowClosed
	}
	return nil
}

// Book places a new appointment on the doctor's slot at startAt. The slot and
// the patient's own calendar position are locked for the duration; claim,
// room assignment, persistence, and notifications commit or roll back as one.
func (e *Engine) Book(ctx context.Context, patientID, doctorID uuid.UUID, startAt time.Time, reason string) (*Appointment, error) {
	if reason == "" {
		return nil, NewValidationError("reason", "must not be empty")
	}
	if _, err := e.store.GetPatientByID(ctx, patientID); err != nil {
		return nil, e.opErr("book", err)
	}
	if _, err := e.store.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, e.opErr("book", err)
	}
	if err := e.validateStart(ctx, doctorID, startAt); err != nil {
		return nil, e.opErr("book", err)
	}

	var appt *Appointment
	keys := []string{slotLockKey(doctorID, startAt), patientLockKey(patientID, startAt)}
	err := e.locker.WithKeys(ctx, keys, func(ctx context.Context) error {
		return e.store.WithinTx(ctx, func(ctx context.Context) error {
			free, err := e.registry.IsFree(ctx, doctorID, startAt)
			if err != nil {
				return err
			}
			if !free {
				return ErrSlotTaken
			}
			if _, err := e.store.FindPatientScheduledAt(ctx, patientID, startAt); err == nil {
				return ErrPatientBusy
			} else if !errors.Is(err, ErrAppointmentNotFound) {
				return err
			}

			now := e.clock.Now()
			a := &Appointment{
				ID:        uuid.New(),
				PatientID: patientID,
				DoctorID:  doctorID,
				StartAt:   startAt,
				EndAt:     startAt.Add(e.cfg.SlotDuration),
				Status:    StatusScheduled,
				Reason:    reason,
				CreatedAt: now,
				UpdatedAt: now,
			}
			room, err := e.alloc.Assign(ctx, a.StartAt, a.EndAt, "")
			if err != nil {
				return err
			}
			if room != nil {
				a.RoomID = &room.ID
			}
			if err := e.store.InsertAppointment(ctx, a); err != nil {
				return err
			}
			if err := e.registry.Reserve(ctx, doctorID, startAt, a.ID); err != nil {
				return err
			}
			if err := e.emitAppointmentNotices(ctx, a, "appointment-booked", NotificationAppointment); err != nil {
				return err
			}
			e.logEvent(ctx, EventAppointmentBooked, &a.ID, map[string]any{
				"patient_id": a.PatientID,
				"doctor_id":  a.DoctorID,
				"start_at":   a.StartAt,
			})
			appt = a
			return nil
		})
	})
	if err != nil {
		return nil, e.opErr("book", err)
	}
	return appt, nil
}

// Cancel transitions a scheduled appointment to cancelled, frees its slot,
// and drops the room reference.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	appt, err := e.store.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, e.opErr("cancel", err)
	}
	if err := scheduledOnly(appt.Status); err != nil {
		return nil, err
	}
	if err := e.checkCancelWindow(appt.StartAt, actor); err != nil {
		return nil, err
	}

	var out *Appointment
	key := slotLockKey(appt.DoctorID, appt.StartAt)
	err = e.locker.WithKeys(ctx, []string{key}, func(ctx context.Context) error {
		return e.store.WithinTx(ctx, func(ctx context.Context) error {
			// Re-check under the lock: the row may have moved since the
			// unsynchronized read above.
			cur, err := e.store.GetAppointmentByID(ctx, id)
			if err != nil {
				return err
			}
			if err := scheduledOnly(cur.Status); err != nil {
				return err
			}
			if err := e.checkCancelWindow(cur.StartAt, actor); err != nil {
				return err
			}
			upd := *cur
			upd.Status = StatusCancelled
			upd.RoomID = nil
			upd.UpdatedAt = e.clock.Now()
			saved, err := e.store.UpdateAppointmentCAS(ctx, &upd, StatusScheduled)
			if err != nil {
				return err
			}
			if err := e.registry.Release(ctx, cur.DoctorID, cur.StartAt); err != nil {
				return err
			}
			if err := e.emitAppointmentNotices(ctx, saved, "appointment-cancelled", NotificationCancellation); err != nil {
				return err
			}
			e.logEvent(ctx, EventAppointmentCancelled, &saved.ID, map[string]any{
				"actor_id":   actor.ID,
				"actor_role": actor.Role,
			})
			out = saved
			return nil
		})
	})
	if err != nil {
		return nil, e.opErr("cancel", err)
	}
	return out, nil
}

// Reschedule moves a scheduled appointment to newStart, reusing the same
// appointment id. The new slot is validated and claimed before the old one is
// released, and both live in one transaction, so a failed reschedule leaves
// the original appointment fully intact.
func (e *Engine) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, actor Actor) (*Appointment, error) {
	appt, err := e.store.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, e.opErr("reschedule", err)
	}
	if err := scheduledOnly(appt.Status); err != nil {
		return nil, err
	}
	if newStart.Equal(appt.StartAt) {
		return nil, NewValidationError("time", "matches the current appointment")
	}
	if err := e.checkCancelWindow(appt.StartAt, actor); err != nil {
		return nil, err
	}
	if err := e.validateStart(ctx, appt.DoctorID, newStart); err != nil {
		return nil, e.opErr("reschedule", err)
	}

	keys := []string{
		slotLockKey(appt.DoctorID, appt.StartAt),
		slotLockKey(appt.DoctorID, newStart),
		patientLockKey(appt.PatientID, newStart),
	}
	var out *Appointment
	err = e.locker.WithKeys(ctx, keys, func(ctx context.Context) error {
		return e.store.WithinTx(ctx, func(ctx context.Context) error {
			cur, err := e.store.GetAppointmentByID(ctx, id)
			if err != nil {
				return err
			}
			if err := scheduledOnly(cur.Status); err != nil {
				return err
			}
			if err := e.checkCancelWindow(cur.StartAt, actor); err != nil {
				return err
			}
			if conflict, err := e.store.FindPatientScheduledAt(ctx, cur.PatientID, newStart); err == nil {
				if conflict.ID != cur.ID {
					return ErrPatientBusy
				}
			} else if !errors.Is(err, ErrAppointmentNotFound) {
				return err
			}
			// Claim the new slot before touching the old one.
			if err := e.registry.Reserve(ctx, cur.DoctorID, newStart, cur.ID); err != nil {
				return err
			}

			oldStart := cur.StartAt
			upd := *cur
			upd.StartAt = newStart
			upd.EndAt = newStart.Add(e.cfg.SlotDuration)
			upd.UpdatedAt = e.clock.Now()
			room, err := e.alloc.Assign(ctx, upd.StartAt, upd.EndAt, "")
			if err != nil {
				return err
			}
			upd.RoomID = nil
			if room != nil {
				upd.RoomID = &room.ID
			}
			saved, err := e.store.UpdateAppointmentCAS(ctx, &upd, StatusScheduled)
			if err != nil {
				return err
			}
			if err := e.registry.Release(ctx, cur.DoctorID, oldStart); err != nil {
				return err
			}
			if err := e.emitAppointmentNotices(ctx, saved, "appointment-rescheduled", NotificationAppointment); err != nil {
				return err
			}
			e.logEvent(ctx, EventAppointmentRescheduled, &saved.ID, map[string]any{
				"old_start": oldStart,
				"new_start": saved.StartAt,
			})
			out = saved
			return nil
		})
	})
	if err != nil {
		return nil, e.opErr("reschedule", err)
	}
	return out, nil
}

// Complete marks a scheduled appointment completed, optionally attaching
// consultation notes. The slot stays claimed; a used slot is history, not
// inventory.
func (e *Engine) Complete(ctx context.Context, id uuid.UUID, notes string, actor Actor) (*Appointment, error) {
	appt, err := e.store.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, e.opErr("complete", err)
	}
	if err := completableState(appt.Status); err != nil {
		return nil, err
	}

	var out *Appointment
	key := slotLockKey(appt.DoctorID, appt.StartAt)
	err = e.locker.WithKeys(ctx, []string{key}, func(ctx context.Context) error {
		return e.store.WithinTx(ctx, func(ctx context.Context) error {
			cur, err := e.store.GetAppointmentByID(ctx, id)
			if err != nil {
				return err
			}
			if err := completableState(cur.Status); err != nil {
				return err
			}
			upd := *cur
			upd.Status = StatusCompleted
			if notes != "" {
				upd.Notes = &notes
			}
			upd.UpdatedAt = e.clock.Now()
			saved, err := e.store.UpdateAppointmentCAS(ctx, &upd, StatusScheduled)
			if err != nil {
				return err
			}
			e.logEvent(ctx, EventAppointmentCompleted, &saved.ID, map[string]any{
				"actor_id": actor.ID,
			})
			out = saved
			return nil
		})
	})
	if err != nil {
		return nil, e.opErr("complete", err)
	}
	return out, nil
}

func completableState(s AppointmentStatus) error {
	switch s {
	case StatusCompleted:
		return ErrAlreadyCompleted
	case StatusCancelled:
		return ErrInvalidTransition
	}
	return nil
}

// AvailableSlots returns the doctor's open slot starts on date: the calendar
// candidates minus already claimed slots. The answer is advisory; booking
// re-checks under the slot lock.
func (e *Engine) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]time.Time, error) {
	if _, err := e.store.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, e.opErr("slots", err)
	}
	day := StartOfDay(date)
	slots, err := e.calendar.SlotsFor(ctx, doctorID, day)
	if err != nil {
		return nil, e.opErr("slots", err)
	}
	if len(slots) == 0 {
		return nil, nil
	}
	claimed, err := e.registry.ClaimedBetween(ctx, doctorID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, e.opErr("slots", err)
	}
	taken := make(map[int64]bool, len(claimed))
	for at := range claimed {
		taken[at.Unix()] = true
	}
	open := slots[:0]
	for _, s := range slots {
		if !taken[s.Unix()] {
			open = append(open, s)
		}
	}
	return open, nil
}

// ListAppointments applies paging defaults before delegating to the store.
func (e *Engine) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	out, err := e.store.ListAppointments(ctx, f)
	if err != nil {
		return nil, e.opErr("list appointments", err)
	}
	return out, nil
}

func (e *Engine) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	d, err := e.store.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, e.opErr("get appointment", err)
	}
	return d, nil
}

// SetAvailability replaces the doctor's weekly recurring windows. Existing
// appointments are untouched; a shrunk calendar only affects future slot
// generation.
func (e *Engine) SetAvailability(ctx context.Context, doctorID uuid.UUID, windows []AvailabilityWindow) error {
	if _, err := e.store.GetDoctorByID(ctx, doctorID); err != nil {
		return e.opErr("set availability", err)
	}
	for _, w := range windows {
		if w.Weekday < time.Sunday || w.Weekday > time.Saturday {
			return NewValidationError("weekday", "must be between 0 and 6")
		}
		if w.StartMinute < 0 || w.EndMinute > 24*60 || w.StartMinute >= w.EndMinute {
			return NewValidationError("window", "start must precede end within one day")
		}
	}
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		return e.store.ReplaceAvailability(ctx, doctorID, windows)
	})
	return e.opErr("set availability", err)
}

// Availability returns the doctor's configured weekly windows.
func (e *Engine) Availability(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityWindow, error) {
	if _, err := e.store.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, e.opErr("availability", err)
	}
	windows, err := e.store.ListAvailability(ctx, doctorID)
	if err != nil {
		return nil, e.opErr("availability", err)
	}
	return windows, nil
}

func (e *Engine) ListRooms(ctx context.Context) ([]Room, error) {
	rooms, err := e.store.ListRooms(ctx)
	if err != nil {
		return nil, e.opErr("list rooms", err)
	}
	return rooms, nil
}

func (e *Engine) ListEquipment(ctx context.Context, status string) ([]Equipment, error) {
	items, err := e.store.ListEquipment(ctx, status)
	if err != nil {
		return nil, e.opErr("list equipment", err)
	}
	return items, nil
}

func (e *Engine) Notifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	out, err := e.store.ListNotifications(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, e.opErr("list notifications", err)
	}
	return out, nil
}

func (e *Engine) MarkNotificationRead(ctx context.Context, id int64) error {
	return e.opErr("mark notification", e.store.MarkNotificationRead(ctx, id))
}

// emitAppointmentNotices renders the patient and doctor variants of template
// and dispatches both inside the caller's transaction.
func (e *Engine) emitAppointmentNotices(ctx context.Context, a *Appointment, template string, ntype NotificationType) error {
	patient, err := e.store.GetPatientByID(ctx, a.PatientID)
	if err != nil {
		return err
	}
	doctor, err := e.store.GetDoctorByID(ctx, a.DoctorID)
	if err != nil {
		return err
	}
	data := map[string]string{
		"patient": patient.Name,
		"doctor":  doctor.Name,
		"date":    a.StartAt.Format(DateFormat),
		"time":    a.StartAt.Format(TimeFormat),
	}
	msg, err := notify.Render(template+"-patient", data)
	if err != nil {
		return err
	}
	if err := e.notifier.Notify(ctx, a.PatientID, msg, ntype); err != nil {
		return err
	}
	msg, err = notify.Render(template+"-doctor", data)
	if err != nil {
		return err
	}
	return e.notifier.Notify(ctx, a.DoctorID, msg, ntype)
}

// logEvent records an audit row. appointmentID is nil for events that concern
// no appointment. Insert failures are logged, not returned; they do not veto
// the operation on their own.
func (e *Engine) logEvent(ctx context.Context, eventType string, appointmentID *uuid.UUID, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		e.log.Warn().Err(err).Str("event", eventType).Msg("encode event payload")
		return
	}
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       body,
		CreatedAt:     e.clock.Now(),
	}
	if err := e.store.InsertEvent(ctx, ev); err != nil {
		e.log.Warn().Err(err).Str("event", eventType).Msg("record event")
	}
}
