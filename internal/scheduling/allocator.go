package scheduling

import (
	"context"
	"fmt"
	"time"
)

// Allocator assigns rooms to appointments. Occupancy is derived from the
// scheduled/completed appointments referencing each room, never stored as a
// separate flag, so it cannot diverge from the schedule.
type Allocator struct {
	store Store
}

func NewAllocator(store Store) *Allocator {
	return &Allocator{store: store}
}

// Assign picks the first room of the required type (any type when empty)
// whose availability flag is set and which has no active appointment
// overlapping [start, end). Rooms are scanned in ascending room-number order
// so allocation is deterministic. A nil room with a nil error means every
// candidate is taken; booking proceeds without a room.
func (a *Allocator) Assign(ctx context.Context, start, end time.Time, requiredType RoomType) (*Room, error) {
	rooms, err := a.store.ListOpenRooms(ctx, requiredType)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	if len(rooms) == 0 {
		return nil, nil
	}

	busy, err := a.store.FindBusyRoomIDs(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("find busy rooms: %w", err)
	}

	for i := range rooms {
		if !busy[rooms[i].ID] {
			return &rooms[i], nil
		}
	}

	return nil, nil
}
