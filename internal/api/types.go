package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medicore/clinic-scheduling/internal/scheduling"
)

type BookAppointmentRequest struct {
	PatientID string `json:"patient_id"`
	DoctorID  string `json:"doctor_id"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Reason    string `json:"reason"`
}

type RescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type CompleteRequest struct {
	Notes string `json:"notes"`
}

type CreateBookingRequest struct {
	PatientID     string `json:"patient_id"`
	Reason        string `json:"reason"`
	PreferredDate string `json:"preferred_date,omitempty"`
}

type AssignBookingRequest struct {
	DoctorID string `json:"doctor_id"`
	Date     string `json:"date"`
	Time     string `json:"time"`
}

type DeclineBookingRequest struct {
	Note string `json:"note"`
}

type AvailabilityWindowPayload struct {
	Weekday   int    `json:"weekday"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type SetAvailabilityRequest struct {
	Windows []AvailabilityWindowPayload `json:"windows"`
}

type AvailabilityResponse struct {
	DoctorID uuid.UUID                   `json:"doctor_id"`
	Windows  []AvailabilityWindowPayload `json:"windows"`
}

type SlotsResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"date"`
	Slots    []string  `json:"slots"`
}

type AppointmentResponse struct {
	ID        uuid.UUID  `json:"id"`
	PatientID uuid.UUID  `json:"patient_id"`
	DoctorID  uuid.UUID  `json:"doctor_id"`
	Date      string     `json:"date"`
	Time      string     `json:"time"`
	EndTime   string     `json:"end_time"`
	Status    string     `json:"status"`
	RoomID    *uuid.UUID `json:"room_id,omitempty"`
	Reason    string     `json:"reason"`
	Notes     *string    `json:"notes,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	PatientName string  `json:"patient_name"`
	DoctorName  string  `json:"doctor_name"`
	RoomNumber  *string `json:"room_number,omitempty"`
}

type BookingRequestResponse struct {
	ID             uuid.UUID  `json:"id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	Reason         string     `json:"reason"`
	Specialization *string    `json:"specialization,omitempty"`
	PreferredDate  *string    `json:"preferred_date,omitempty"`
	Status         string     `json:"status"`
	AppointmentID  *uuid.UUID `json:"appointment_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type AssignBookingResponse struct {
	Request     BookingRequestResponse `json:"request"`
	Appointment AppointmentResponse    `json:"appointment"`
}

type NotificationResponse struct {
	ID        int64     `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Read      bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

type RoomResponse struct {
	ID        uuid.UUID `json:"id"`
	Number    string    `json:"room_number"`
	Type      string    `json:"room_type"`
	Capacity  int       `json:"capacity"`
	Available bool      `json:"available"`
}

type EquipmentResponse struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Type         string     `json:"equipment_type"`
	SerialNumber string     `json:"serial_number"`
	RoomID       *uuid.UUID `json:"room_id,omitempty"`
	Status       string     `json:"status"`
}

type TriageResponse struct {
	Reason      string   `json:"reason"`
	Suggestions []string `json:"suggestions"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		Date:      a.StartAt.Format(scheduling.DateFormat),
		Time:      a.StartAt.Format(scheduling.TimeFormat),
		EndTime:   a.EndAt.Format(scheduling.TimeFormat),
		Status:    string(a.Status),
		RoomID:    a.RoomID,
		Reason:    a.Reason,
		Notes:     a.Notes,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func toAppointmentDetailResponse(d *scheduling.AppointmentDetail) AppointmentDetailResponse {
	resp := AppointmentDetailResponse{
		AppointmentResponse: toAppointmentResponse(&d.Appointment),
		PatientName:         d.Patient.Name,
		DoctorName:          d.Doctor.Name,
	}
	if d.Room != nil {
		resp.RoomNumber = &d.Room.Number
	}
	return resp
}

func toBookingRequestResponse(r *scheduling.BookingRequest) BookingRequestResponse {
	resp := BookingRequestResponse{
		ID:             r.ID,
		PatientID:      r.PatientID,
		Reason:         r.Reason,
		Specialization: r.Specialization,
		Status:         string(r.Status),
		AppointmentID:  r.AppointmentID,
		CreatedAt:      r.CreatedAt,
	}
	if r.PreferredDate != nil {
		d := r.PreferredDate.Format(scheduling.DateFormat)
		resp.PreferredDate = &d
	}
	return resp
}

func toNotificationResponse(n scheduling.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		Message:   n.Message,
		Type:      string(n.Type),
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}

func toAvailabilityResponse(doctorID uuid.UUID, windows []scheduling.AvailabilityWindow) AvailabilityResponse {
	resp := AvailabilityResponse{
		DoctorID: doctorID,
		Windows:  make([]AvailabilityWindowPayload, 0, len(windows)),
	}
	for _, w := range windows {
		resp.Windows = append(resp.Windows, AvailabilityWindowPayload{
			Weekday:   int(w.Weekday),
			StartTime: minutesToClock(w.StartMinute),
			EndTime:   minutesToClock(w.EndMinute),
		})
	}
	return resp
}

func minutesToClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
