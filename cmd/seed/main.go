package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/medicore/clinic-scheduling/internal/db"
)

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

func main() {
	logger.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedDoctors(context.Background(), pool, 40); err != nil {
		logger.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedRooms(context.Background(), pool); err != nil {
		logger.Fatal().Err(err).Msg("seed rooms")
	}
	if err := seedEquipment(context.Background(), pool); err != nil {
		logger.Fatal().Err(err).Msg("seed equipment")
	}
	if err := seedPatients(context.Background(), pool, 5000); err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}
	if err := seedAppointments(context.Background(), pool, 600); err != nil {
		logger.Fatal().Err(err).Msg("seed appointments")
	}

	logger.Info().Msg("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) error {
	logger.Info().Int("count", count).Msg("seeding doctors")

	specialties := []string{
		"Cardiology",
		"Dermatology",
		"Pediatrics",
		"Orthopedics",
		"Neurology",
		"General Medicine",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		spec := specialties[i%len(specialties)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, spec)
		if err != nil {
			return err
		}

		// Monday through Friday, 09:00 to 17:00.
		for weekday := 1; weekday <= 5; weekday++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO doctor_availability (doctor_id, weekday, start_minute, end_minute, active)
				VALUES ($1, $2, $3, $4, true)
			`, id, weekday, 9*60, 17*60)
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Info().Msg("doctors seeded")
	return nil
}

func seedRooms(ctx context.Context, pool *pgxpool.Pool) error {
	rooms := []struct {
		number   string
		roomType string
		capacity int
	}{
		{"101", "consultation", 2},
		{"102", "consultation", 2},
		{"103", "consultation", 2},
		{"104", "consultation", 4},
		{"201", "operation", 6},
		{"202", "operation", 6},
		{"301", "emergency", 8},
	}

	logger.Info().Int("count", len(rooms)).Msg("seeding rooms")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, r := range rooms {
		_, err := tx.Exec(ctx, `
			INSERT INTO rooms (id, room_number, room_type, capacity, available, created_at, updated_at)
			VALUES ($1, $2, $3, $4, true, now(), now())
			ON CONFLICT (room_number) DO NOTHING
		`, uuid.New(), r.number, r.roomType, r.capacity)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Info().Msg("rooms seeded")
	return nil
}

func seedEquipment(ctx context.Context, pool *pgxpool.Pool) error {
	kinds := []struct {
		name  string
		eType string
	}{
		{"ECG Monitor", "monitor"},
		{"Ultrasound Scanner", "imaging"},
		{"Defibrillator", "resuscitation"},
		{"Infusion Pump", "infusion"},
		{"X-Ray Unit", "imaging"},
	}

	logger.Info().Msg("seeding equipment")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, k := range kinds {
		for i := 0; i < 2; i++ {
			serial := gofakeit.UUID()
			_, err := tx.Exec(ctx, `
				INSERT INTO equipment (id, name, equipment_type, serial_number, status)
				VALUES ($1, $2, $3, $4, 'available')
			`, uuid.New(), k.name, k.eType, serial)
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Info().Msg("equipment seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	logger.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info().Int("done", end).Int("total", count).Msg("patients batch committed")
	}

	logger.Info().Msg("patients seeded")
	return nil
}

// seedAppointments inserts a mix of past completed and upcoming scheduled
// appointments on weekday half-hour slots. Every row gets a slot claim;
// completed slots stay claimed so the grid reflects real occupancy.
func seedAppointments(ctx context.Context, pool *pgxpool.Pool, count int) error {
	logger.Info().Int("count", count).Msg("seeding appointments")

	doctors, err := loadIDs(ctx, pool, `SELECT id FROM doctors ORDER BY id`)
	if err != nil {
		return err
	}
	patients, err := loadIDs(ctx, pool, `SELECT id FROM patients ORDER BY id LIMIT 2000`)
	if err != nil {
		return err
	}
	rooms, err := loadIDs(ctx, pool, `SELECT id FROM rooms WHERE available ORDER BY room_number`)
	if err != nil {
		return err
	}
	if len(doctors) == 0 || len(patients) == 0 {
		logger.Warn().Msg("no doctors or patients to book against, skipping appointments")
		return nil
	}

	reasons := []string{
		"chest pain and shortness of breath",
		"persistent skin rash on both arms",
		"child running a fever with a cough",
		"knee pain after a fall",
		"recurring migraine headaches",
		"annual physical checkup",
		"lower back pain",
		"follow-up after blood work",
	}

	const slotMinutes = 30

	doctorSlots := make(map[string]bool)
	patientSlots := make(map[string]bool)
	roomSlots := make(map[string]bool)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	inserted := 0
	for attempts := 0; inserted < count && attempts < count*4; attempts++ {
		doctor := doctors[gofakeit.Number(0, len(doctors)-1)]
		patient := patients[gofakeit.Number(0, len(patients)-1)]

		completed := inserted%2 == 0
		var day time.Time
		if completed {
			day = now.AddDate(0, 0, -gofakeit.Number(1, 30))
		} else {
			day = now.AddDate(0, 0, gofakeit.Number(1, 14))
		}
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		start := time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, day.Location()).
			Add(time.Duration(gofakeit.Number(0, 15)*slotMinutes) * time.Minute)
		end := start.Add(slotMinutes * time.Minute)
		slotStamp := start.Format(time.RFC3339)

		if doctorSlots[doctor.String()+slotStamp] || patientSlots[patient.String()+slotStamp] {
			continue
		}

		var roomID *uuid.UUID
		for _, r := range rooms {
			if !roomSlots[r.String()+slotStamp] {
				roomSlots[r.String()+slotStamp] = true
				room := r
				roomID = &room
				break
			}
		}

		id := uuid.New()
		status := "scheduled"
		var notes *string
		if completed {
			status = "completed"
			n := "visit completed without complications"
			notes = &n
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO appointments (id, patient_id, doctor_id, start_at, end_at, status, room_id, reason, notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		`, id, patient, doctor, start, end, status, roomID, reasons[gofakeit.Number(0, len(reasons)-1)], notes)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO slot_claims (doctor_id, start_at, appointment_id)
			VALUES ($1, $2, $3)
		`, doctor, start, id)
		if err != nil {
			return err
		}

		doctorSlots[doctor.String()+slotStamp] = true
		patientSlots[patient.String()+slotStamp] = true
		inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Info().Int("inserted", inserted).Msg("appointments seeded")
	return nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
