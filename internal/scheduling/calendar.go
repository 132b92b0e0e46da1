package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/medicore/clinic-scheduling/internal/clock"
	"github.com/medicore/clinic-scheduling/internal/config"
)

// Calendar derives the candidate start times for a doctor on a date from the
// doctor's weekly recurring availability. It is the sole source of truth for
// which slots legally exist; the engine never accepts a start time absent
// from SlotsFor.
type Calendar struct {
	store   Store
	clock   clock.Clock
	slotDur time.Duration
	horizon int // days
}

func NewCalendar(store Store, clk clock.Clock, cfg config.Config) *Calendar {
	return &Calendar{
		store:   store,
		clock:   clk,
		slotDur: cfg.SlotDuration,
		horizon: cfg.HorizonDays,
	}
}

// SlotsFor returns the ascending candidate start times for the doctor on the
// given date. Past dates, dates beyond the booking horizon, and weekdays
// without an active window all yield an empty sequence. For today, start
// times that are not strictly in the future are dropped.
func (c *Calendar) SlotsFor(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]time.Time, error) {
	now := c.clock.Now()
	day := StartOfDay(date)
	today := StartOfDay(now)

	if day.Before(today) {
		return nil, nil
	}
	if day.After(today.AddDate(0, 0, c.horizon)) {
		return nil, nil
	}

	windows, err := c.store.ListAvailability(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}

	var slots []time.Time
	seen := make(map[time.Time]struct{})

	for _, w := range windows {
		if !w.Active || w.Weekday != day.Weekday() {
			continue
		}

		windowEnd := day.Add(time.Duration(w.EndMinute) * time.Minute)
		t := day.Add(time.Duration(w.StartMinute) * time.Minute)

		for !t.Add(c.slotDur).After(windowEnd) {
			if day.Equal(today) && !t.After(now) {
				t = t.Add(c.slotDur)
				continue
			}
			if _, dup := seen[t]; !dup {
				seen[t] = struct{}{}
				slots = append(slots, t)
			}
			t = t.Add(c.slotDur)
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })

	return slots, nil
}

// WithinHorizon reports whether day falls inside [today, today+horizon].
func (c *Calendar) WithinHorizon(day time.Time) bool {
	today := StartOfDay(c.clock.Now())
	day = StartOfDay(day)
	return !day.Before(today) && !day.After(today.AddDate(0, 0, c.horizon))
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
