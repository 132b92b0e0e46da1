package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound      = errors.New("patient not found")
	ErrDoctorNotFound       = errors.New("doctor not found")
	ErrRoomNotFound         = errors.New("room not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrClaimNotFound        = errors.New("slot claim not found")
	ErrRequestNotFound      = errors.New("booking request not found")
	ErrNotificationNotFound = errors.New("notification not found")
)

// Store contains all persistence interactions needed by the engine. WithinTx
// opens a serializable transaction and threads it through the context; every
// other method joins an in-flight transaction when one is present, so
// conflict checks, claims, and room allocation all see one snapshot.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	// Weekly availability
	ListAvailability(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityWindow, error)
	ReplaceAvailability(ctx context.Context, doctorID uuid.UUID, windows []AvailabilityWindow) error

	// Rooms
	ListOpenRooms(ctx context.Context, roomType RoomType) ([]Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	FindBusyRoomIDs(ctx context.Context, start, end time.Time) (map[uuid.UUID]bool, error)

	// Appointments
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)
	ListScheduledBetween(ctx context.Context, from, to time.Time) ([]Appointment, error)
	FindPatientScheduledAt(ctx context.Context, patientID uuid.UUID, startAt time.Time) (*Appointment, error)
	InsertAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointmentCAS(ctx context.Context, a *Appointment, from AppointmentStatus) (*Appointment, error)

	// Slot claims
	ClaimSlot(ctx context.Context, doctorID uuid.UUID, startAt time.Time, appointmentID uuid.UUID) (uuid.UUID, error)
	ReleaseSlot(ctx context.Context, doctorID uuid.UUID, startAt time.Time) error
	GetSlotClaim(ctx context.Context, doctorID uuid.UUID, startAt time.Time) (*SlotClaim, error)
	ListSlotClaims(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]SlotClaim, error)

	// Notification intents
	InsertNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id int64) error

	// Booking requests
	InsertBookingRequest(ctx context.Context, r *BookingRequest) error
	GetBookingRequestByID(ctx context.Context, id uuid.UUID) (*BookingRequest, error)
	ListBookingRequests(ctx context.Context, status RequestStatus, limit, offset int) ([]BookingRequest, error)
	UpdateBookingRequestCAS(ctx context.Context, r *BookingRequest, from RequestStatus) (*BookingRequest, error)

	// Equipment status lookup
	ListEquipment(ctx context.Context, status string) ([]Equipment, error)

	// Audit log
	InsertEvent(ctx context.Context, ev EventLog) error
}
