package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SlotRegistry tracks occupancy of concrete (doctor, start) slots through
// materialized claims. It guarantees single-slot consistency only; composing
// reserve/release with conflict checks and appointment persistence into one
// atomic unit is the engine's job.
type SlotRegistry struct {
	store Store
}

func NewSlotRegistry(store Store) *SlotRegistry {
	return &SlotRegistry{store: store}
}

// IsFree reports whether no non-cancelled appointment occupies the slot.
func (r *SlotRegistry) IsFree(ctx context.Context, doctorID uuid.UUID, startAt time.Time) (bool, error) {
	_, err := r.store.GetSlotClaim(ctx, doctorID, startAt)
	if err != nil {
		if errors.Is(err, ErrClaimNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("get slot claim: %w", err)
	}
	return false, nil
}

// Reserve marks the slot occupied by the appointment. Reserving a slot the
// same appointment already holds is a no-op, so retries are tolerated; a slot
// held by a different appointment fails with ErrSlotTaken.
func (r *SlotRegistry) Reserve(ctx context.Context, doctorID uuid.UUID, startAt time.Time, appointmentID uuid.UUID) error {
	holder, err := r.store.ClaimSlot(ctx, doctorID, startAt, appointmentID)
	if err != nil {
		return fmt.Errorf("claim slot: %w", err)
	}
	if holder != appointmentID {
		return ErrSlotTaken
	}
	return nil
}

// Release frees the slot. Releasing an unclaimed slot is a no-op.
func (r *SlotRegistry) Release(ctx context.Context, doctorID uuid.UUID, startAt time.Time) error {
	if err := r.store.ReleaseSlot(ctx, doctorID, startAt); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

// ClaimedBetween returns the claimed starts for a doctor in [from, to),
// keyed by start time.
func (r *SlotRegistry) ClaimedBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (map[time.Time]uuid.UUID, error) {
	claims, err := r.store.ListSlotClaims(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list slot claims: %w", err)
	}

	occupied := make(map[time.Time]uuid.UUID, len(claims))
	for _, c := range claims {
		occupied[c.StartAt] = c.AppointmentID
	}
	return occupied, nil
}
