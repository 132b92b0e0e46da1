package scheduling

import (
	"time"

	"github.com/google/uuid"
)

const (
	DateFormat = "2006-01-02"
	TimeFormat = "15:04"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type RoomType string

const (
	RoomConsultation RoomType = "consultation"
	RoomOperation    RoomType = "operation"
	RoomEmergency    RoomType = "emergency"
)

type NotificationType string

const (
	NotificationAppointment  NotificationType = "appointment"
	NotificationReminder     NotificationType = "reminder"
	NotificationCancellation NotificationType = "cancellation"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAssigned RequestStatus = "assigned"
	RequestDeclined RequestStatus = "declined"
)

type Role string

const (
	RolePatient      Role = "patient"
	RoleDoctor       Role = "doctor"
	RoleReceptionist Role = "receptionist"
	RoleAdmin        Role = "admin"
)

// Actor identifies who invoked a mutating operation. Policy predicates (the
// cancellation lead-time bypass) key off the role; authentication itself is
// the caller's concern.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AvailabilityWindow is one recurring weekly span of bookable time. Minutes
// are offsets from midnight, weekday follows time.Weekday (0 = Sunday).
type AvailabilityWindow struct {
	ID          int64
	DoctorID    uuid.UUID
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
	Active      bool
}

type Room struct {
	ID        uuid.UUID
	Number    string
	Type      RoomType
	Capacity  int
	Available bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	StartAt   time.Time
	EndAt     time.Time
	Status    AppointmentStatus
	RoomID    *uuid.UUID
	Reason    string
	Notes     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SlotClaim materializes occupancy of a (doctor, start) slot. At most one
// claim exists per slot; it must always agree with the set of non-cancelled
// appointments.
type SlotClaim struct {
	DoctorID      uuid.UUID
	StartAt       time.Time
	AppointmentID uuid.UUID
}

type Notification struct {
	ID        int64
	UserID    uuid.UUID
	Message   string
	Type      NotificationType
	Read      bool
	CreatedAt time.Time
}

// BookingRequest is a patient's free-text appointment request awaiting a
// receptionist to place it onto a concrete slot.
type BookingRequest struct {
	ID             uuid.UUID
	PatientID      uuid.UUID
	Reason         string
	Specialization *string
	PreferredDate  *time.Time
	Status         RequestStatus
	AppointmentID  *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Equipment struct {
	ID           uuid.UUID
	Name         string
	Type         string
	SerialNumber string
	RoomID       *uuid.UUID
	Status       string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type AppointmentDetail struct {
	Appointment
	Patient *Patient
	Doctor  *Doctor
	Room    *Room
}

// AppointmentFilter narrows ListAppointments. Nil fields are ignored.
type AppointmentFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	From      *time.Time
	To        *time.Time
	Status    *AppointmentStatus
	Limit     int
	Offset    int
}
