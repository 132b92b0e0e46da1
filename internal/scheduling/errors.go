package scheduling

import (
	"errors"
	"fmt"
)

var (
	ErrSlotTaken   = errors.New("slot already has an active appointment")
	ErrPatientBusy = errors.New("patient already has an appointment at this time")

	ErrCancelWindowClosed = errors.New("cancellation window has closed")

	ErrAlreadyCompleted  = errors.New("appointment is already completed")
	ErrInvalidTransition = errors.New("invalid status transition")

	ErrBusy = errors.New("schedule is busy, please retry")
)

// ValidationError rejects malformed or out-of-range input. It is never
// retried and is surfaced verbatim to the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// TransactionError wraps a persistence failure mid-commit. The operation has
// been rolled back in full; the cause is logged, the caller sees a generic
// failure.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s: transaction failed: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// isDomainErr reports whether err already carries scheduling semantics and
// should pass through to the caller unwrapped.
func isDomainErr(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	switch {
	case errors.Is(err, ErrSlotTaken),
		errors.Is(err, ErrPatientBusy),
		errors.Is(err, ErrCancelWindowClosed),
		errors.Is(err, ErrAlreadyCompleted),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrBusy),
		errors.Is(err, ErrPatientNotFound),
		errors.Is(err, ErrDoctorNotFound),
		errors.Is(err, ErrRoomNotFound),
		errors.Is(err, ErrAppointmentNotFound),
		errors.Is(err, ErrRequestNotFound),
		errors.Is(err, ErrNotificationNotFound):
		return true
	}
	return false
}
