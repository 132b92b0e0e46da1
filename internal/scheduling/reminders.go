package scheduling

import (
	"context"

	"github.com/medicore/clinic-scheduling/internal/notify"
)

// SendUpcomingReminders notifies patients whose scheduled appointments start
// within the configured reminder window and returns how many went out. A
// failure on one appointment is logged and skipped so it cannot starve the
// rest of the batch.
func (e *Engine) SendUpcomingReminders(ctx context.Context) (int, error) {
	now := e.clock.Now()
	upcoming, err := e.store.ListScheduledBetween(ctx, now, now.Add(e.cfg.ReminderWindow))
	if err != nil {
		return 0, e.opErr("reminders", err)
	}

	sent := 0
	for _, a := range upcoming {
		doctor, err := e.store.GetDoctorByID(ctx, a.DoctorID)
		if err != nil {
			e.log.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("skip reminder")
			continue
		}
		msg, err := notify.Render("appointment-reminder", map[string]string{
			"doctor": doctor.Name,
			"date":   a.StartAt.Format(DateFormat),
			"time":   a.StartAt.Format(TimeFormat),
		})
		if err != nil {
			return sent, e.opErr("reminders", err)
		}
		if err := e.notifier.Notify(ctx, a.PatientID, msg, NotificationReminder); err != nil {
			e.log.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("skip reminder")
			continue
		}
		sent++
	}
	return sent, nil
}
