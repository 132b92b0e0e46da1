package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type claimKey struct {
	doctorID  uuid.UUID
	startUnix int64
}

type memTxKey struct{}

func inMemTx(ctx context.Context) bool {
	return ctx.Value(memTxKey{}) != nil
}

// MemStore is a Store kept entirely in process memory. WithinTx serializes
// writers behind one mutex and snapshots the mutable state up front, so a
// failed transaction genuinely rolls back. Used by tests and by the load
// simulator's dry-run mode.
type MemStore struct {
	mu sync.RWMutex

	patients     map[uuid.UUID]Patient
	doctors      map[uuid.UUID]Doctor
	rooms        map[uuid.UUID]Room
	availability map[uuid.UUID][]AvailabilityWindow
	appointments map[uuid.UUID]Appointment
	claims       map[claimKey]SlotClaim
	requests     map[uuid.UUID]BookingRequest

	notifications []Notification
	equipment     []Equipment
	events        []EventLog

	nextNotificationID int64
	nextWindowID       int64
	nextEventID        int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		patients:     make(map[uuid.UUID]Patient),
		doctors:      make(map[uuid.UUID]Doctor),
		rooms:        make(map[uuid.UUID]Room),
		availability: make(map[uuid.UUID][]AvailabilityWindow),
		appointments: make(map[uuid.UUID]Appointment),
		claims:       make(map[claimKey]SlotClaim),
		requests:     make(map[uuid.UUID]BookingRequest),
	}
}

// lock takes the write lock unless the context already runs inside WithinTx,
// which holds it for the whole transaction.
func (s *MemStore) lock(ctx context.Context) func() {
	if inMemTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemStore) rlock(ctx context.Context) func() {
	if inMemTx(ctx) {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

type memSnapshot struct {
	availability map[uuid.UUID][]AvailabilityWindow
	appointments map[uuid.UUID]Appointment
	claims       map[claimKey]SlotClaim
	requests     map[uuid.UUID]BookingRequest

	notifications []Notification
	events        []EventLog

	nextNotificationID int64
	nextWindowID       int64
	nextEventID        int64
}

// snapshot copies the state the engine mutates. Reference data (patients,
// doctors, rooms, equipment) is never written inside a transaction.
func (s *MemStore) snapshot() memSnapshot {
	snap := memSnapshot{
		availability: make(map[uuid.UUID][]AvailabilityWindow, len(s.availability)),
		appointments: make(map[uuid.UUID]Appointment, len(s.appointments)),
		claims:       make(map[claimKey]SlotClaim, len(s.claims)),
		requests:     make(map[uuid.UUID]BookingRequest, len(s.requests)),

		notifications: append([]Notification(nil), s.notifications...),
		events:        append([]EventLog(nil), s.events...),

		nextNotificationID: s.nextNotificationID,
		nextWindowID:       s.nextWindowID,
		nextEventID:        s.nextEventID,
	}
	for k, v := range s.availability {
		snap.availability[k] = append([]AvailabilityWindow(nil), v...)
	}
	for k, v := range s.appointments {
		snap.appointments[k] = v
	}
	for k, v := range s.claims {
		snap.claims[k] = v
	}
	for k, v := range s.requests {
		snap.requests[k] = v
	}
	return snap
}

func (s *MemStore) restore(snap memSnapshot) {
	s.availability = snap.availability
	s.appointments = snap.appointments
	s.claims = snap.claims
	s.requests = snap.requests
	s.notifications = snap.notifications
	s.events = snap.events
	s.nextNotificationID = snap.nextNotificationID
	s.nextWindowID = snap.nextWindowID
	s.nextEventID = snap.nextEventID
}

func (s *MemStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inMemTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// AddPatient seeds reference data. Not part of the Store interface.
func (s *MemStore) AddPatient(p Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p
}

func (s *MemStore) AddDoctor(d Doctor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doctors[d.ID] = d
}

func (s *MemStore) AddRoom(r Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[r.ID] = r
}

func (s *MemStore) AddEquipment(eq Equipment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.equipment = append(s.equipment, eq)
}

func (s *MemStore) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	defer s.rlock(ctx)()
	p, ok := s.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (s *MemStore) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	defer s.rlock(ctx)()
	d, ok := s.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (s *MemStore) ListAvailability(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityWindow, error) {
	defer s.rlock(ctx)()
	windows := append([]AvailabilityWindow(nil), s.availability[doctorID]...)
	sort.Slice(windows, func(i, j int) bool {
		if windows[i].Weekday != windows[j].Weekday {
			return windows[i].Weekday < windows[j].Weekday
		}
		return windows[i].StartMinute < windows[j].StartMinute
	})
	return windows, nil
}

func (s *MemStore) ReplaceAvailability(ctx context.Context, doctorID uuid.UUID, windows []AvailabilityWindow) error {
	defer s.lock(ctx)()
	next := make([]AvailabilityWindow, 0, len(windows))
	for _, w := range windows {
		s.nextWindowID++
		w.ID = s.nextWindowID
		w.DoctorID = doctorID
		next = append(next, w)
	}
	s.availability[doctorID] = next
	return nil
}

func (s *MemStore) ListOpenRooms(ctx context.Context, roomType RoomType) ([]Room, error) {
	defer s.rlock(ctx)()
	var rooms []Room
	for _, r := range s.rooms {
		if !r.Available {
			continue
		}
		if roomType != "" && r.Type != roomType {
			continue
		}
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Number < rooms[j].Number })
	return rooms, nil
}

func (s *MemStore) ListRooms(ctx context.Context) ([]Room, error) {
	defer s.rlock(ctx)()
	rooms := make([]Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Number < rooms[j].Number })
	return rooms, nil
}

func (s *MemStore) FindBusyRoomIDs(ctx context.Context, start, end time.Time) (map[uuid.UUID]bool, error) {
	defer s.rlock(ctx)()
	busy := make(map[uuid.UUID]bool)
	for _, a := range s.appointments {
		if a.RoomID == nil {
			continue
		}
		if a.Status != StatusScheduled && a.Status != StatusCompleted {
			continue
		}
		if a.StartAt.Before(end) && a.EndAt.After(start) {
			busy[*a.RoomID] = true
		}
	}
	return busy, nil
}

func (s *MemStore) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	defer s.rlock(ctx)()
	a, ok := s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (s *MemStore) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	defer s.rlock(ctx)()
	a, ok := s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	p, ok := s.patients[a.PatientID]
	if !ok {
		return nil, ErrPatientNotFound
	}
	d, ok := s.doctors[a.DoctorID]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	detail := &AppointmentDetail{Appointment: a, Patient: &p, Doctor: &d}
	if a.RoomID != nil {
		r, ok := s.rooms[*a.RoomID]
		if !ok {
			return nil, ErrRoomNotFound
		}
		detail.Room = &r
	}
	return detail, nil
}

func (s *MemStore) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	defer s.rlock(ctx)()
	var out []Appointment
	for _, a := range s.appointments {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.From != nil && a.StartAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !a.StartAt.Before(*f.To) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].StartAt.After(out[j].StartAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return append([]Appointment(nil), out...), nil
}

func (s *MemStore) ListScheduledBetween(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	defer s.rlock(ctx)()
	var out []Appointment
	for _, a := range s.appointments {
		if a.Status != StatusScheduled {
			continue
		}
		if a.StartAt.Before(from) || !a.StartAt.Before(to) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (s *MemStore) FindPatientScheduledAt(ctx context.Context, patientID uuid.UUID, startAt time.Time) (*Appointment, error) {
	defer s.rlock(ctx)()
	for _, a := range s.appointments {
		if a.PatientID == patientID && a.Status == StatusScheduled && a.StartAt.Unix() == startAt.Unix() {
			out := a
			return &out, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (s *MemStore) InsertAppointment(ctx context.Context, a *Appointment) error {
	defer s.lock(ctx)()
	s.appointments[a.ID] = *a
	return nil
}

func (s *MemStore) UpdateAppointmentCAS(ctx context.Context, a *Appointment, from AppointmentStatus) (*Appointment, error) {
	defer s.lock(ctx)()
	cur, ok := s.appointments[a.ID]
	if !ok || cur.Status != from {
		return nil, ErrAppointmentNotFound
	}
	s.appointments[a.ID] = *a
	out := *a
	return &out, nil
}

func (s *MemStore) ClaimSlot(ctx context.Context, doctorID uuid.UUID, startAt time.Time, appointmentID uuid.UUID) (uuid.UUID, error) {
	defer s.lock(ctx)()
	key := claimKey{doctorID: doctorID, startUnix: startAt.Unix()}
	if c, ok := s.claims[key]; ok {
		return c.AppointmentID, nil
	}
	s.claims[key] = SlotClaim{DoctorID: doctorID, StartAt: startAt, AppointmentID: appointmentID}
	return appointmentID, nil
}

func (s *MemStore) ReleaseSlot(ctx context.Context, doctorID uuid.UUID, startAt time.Time) error {
	defer s.lock(ctx)()
	delete(s.claims, claimKey{doctorID: doctorID, startUnix: startAt.Unix()})
	return nil
}

func (s *MemStore) GetSlotClaim(ctx context.Context, doctorID uuid.UUID, startAt time.Time) (*SlotClaim, error) {
	defer s.rlock(ctx)()
	c, ok := s.claims[claimKey{doctorID: doctorID, startUnix: startAt.Unix()}]
	if !ok {
		return nil, ErrClaimNotFound
	}
	return &c, nil
}

func (s *MemStore) ListSlotClaims(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]SlotClaim, error) {
	defer s.rlock(ctx)()
	var out []SlotClaim
	for _, c := range s.claims {
		if c.DoctorID != doctorID {
			continue
		}
		if c.StartAt.Before(from) || !c.StartAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (s *MemStore) InsertNotification(ctx context.Context, n *Notification) error {
	defer s.lock(ctx)()
	s.nextNotificationID++
	n.ID = s.nextNotificationID
	s.notifications = append(s.notifications, *n)
	return nil
}

func (s *MemStore) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]Notification, error) {
	defer s.rlock(ctx)()
	var out []Notification
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemStore) MarkNotificationRead(ctx context.Context, id int64) error {
	defer s.lock(ctx)()
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].Read = true
			return nil
		}
	}
	return ErrNotificationNotFound
}

func (s *MemStore) InsertBookingRequest(ctx context.Context, r *BookingRequest) error {
	defer s.lock(ctx)()
	s.requests[r.ID] = *r
	return nil
}

func (s *MemStore) GetBookingRequestByID(ctx context.Context, id uuid.UUID) (*BookingRequest, error) {
	defer s.rlock(ctx)()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return &r, nil
}

func (s *MemStore) ListBookingRequests(ctx context.Context, status RequestStatus, limit, offset int) ([]BookingRequest, error) {
	defer s.rlock(ctx)()
	var out []BookingRequest
	for _, r := range s.requests {
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]BookingRequest(nil), out...), nil
}

func (s *MemStore) UpdateBookingRequestCAS(ctx context.Context, r *BookingRequest, from RequestStatus) (*BookingRequest, error) {
	defer s.lock(ctx)()
	cur, ok := s.requests[r.ID]
	if !ok || cur.Status != from {
		return nil, ErrRequestNotFound
	}
	s.requests[r.ID] = *r
	out := *r
	return &out, nil
}

func (s *MemStore) ListEquipment(ctx context.Context, status string) ([]Equipment, error) {
	defer s.rlock(ctx)()
	var out []Equipment
	for _, eq := range s.equipment {
		if status != "" && eq.Status != status {
			continue
		}
		out = append(out, eq)
	}
	return out, nil
}

func (s *MemStore) InsertEvent(ctx context.Context, ev EventLog) error {
	defer s.lock(ctx)()
	s.nextEventID++
	ev.ID = s.nextEventID
	s.events = append(s.events, ev)
	return nil
}
