package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// psql builds queries with $N placeholders.
var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

const (
	maxTxAttempts = 3

	sqlstateSerializationFailure = "40001"
)

type pgTxKey struct{}

// queryable is the slice of pgxpool.Pool and pgx.Tx the store runs on.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore is the PostgreSQL-backed Store. WithinTx binds a serializable
// transaction into the context; every method picks it up from there, so all
// reads and writes of one engine operation share a snapshot.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) q(ctx context.Context) queryable {
	if tx, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

func (s *PgStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	for attempt := 1; ; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		if attempt == maxTxAttempts {
			return ErrBusy
		}
	}
}

func (s *PgStore) runTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, pgTxKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlstateSerializationFailure
}

const (
	patientColumns      = `id, name, email, created_at, updated_at`
	doctorColumns       = `id, name, specialty, created_at, updated_at`
	roomColumns         = `id, room_number, room_type, capacity, available, created_at, updated_at`
	appointmentColumns  = `id, patient_id, doctor_id, start_at, end_at, status, room_id, reason, notes, created_at, updated_at`
	claimColumns        = `doctor_id, start_at, appointment_id`
	notificationColumns = `id, user_id, message, type, is_read, created_at`
	requestColumns      = `id, patient_id, reason, specialization, preferred_date, status, appointment_id, created_at, updated_at`
	equipmentColumns    = `id, name, equipment_type, serial_number, room_id, status`
)

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan patient: %w", err)
	}
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Specialty, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDoctorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan doctor: %w", err)
	}
	return &d, nil
}

func scanRoom(row pgx.Row) (*Room, error) {
	var r Room
	err := row.Scan(&r.ID, &r.Number, &r.Type, &r.Capacity, &r.Available, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan room: %w", err)
	}
	return &r, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.StartAt, &a.EndAt, &a.Status,
		&a.RoomID, &a.Reason, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan appointment: %w", err)
	}
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()
	var out []Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.StartAt, &a.EndAt, &a.Status,
			&a.RoomID, &a.Reason, &a.Notes, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanRequest(row pgx.Row) (*BookingRequest, error) {
	var r BookingRequest
	err := row.Scan(&r.ID, &r.PatientID, &r.Reason, &r.Specialization, &r.PreferredDate,
		&r.Status, &r.AppointmentID, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan booking request: %w", err)
	}
	return &r, nil
}

func (s *PgStore) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := s.q(ctx).QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	return scanPatient(row)
}

func (s *PgStore) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := s.q(ctx).QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE id = $1`, id)
	return scanDoctor(row)
}

func (s *PgStore) getRoomByID(ctx context.Context, id uuid.UUID) (*Room, error) {
	row := s.q(ctx).QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id)
	return scanRoom(row)
}

func (s *PgStore) ListAvailability(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityWindow, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT id, doctor_id, weekday, start_minute, end_minute, active
		FROM doctor_availability
		WHERE doctor_id = $1
		ORDER BY weekday, start_minute`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}
	defer rows.Close()

	var windows []AvailabilityWindow
	for rows.Next() {
		var (
			w       AvailabilityWindow
			weekday int16
		)
		if err := rows.Scan(&w.ID, &w.DoctorID, &weekday, &w.StartMinute, &w.EndMinute, &w.Active); err != nil {
			return nil, fmt.Errorf("scan availability window: %w", err)
		}
		w.Weekday = time.Weekday(weekday)
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

func (s *PgStore) ReplaceAvailability(ctx context.Context, doctorID uuid.UUID, windows []AvailabilityWindow) error {
	q := s.q(ctx)
	if _, err := q.Exec(ctx, `DELETE FROM doctor_availability WHERE doctor_id = $1`, doctorID); err != nil {
		return fmt.Errorf("clear availability: %w", err)
	}
	for _, w := range windows {
		_, err := q.Exec(ctx, `
			INSERT INTO doctor_availability (doctor_id, weekday, start_minute, end_minute, active)
			VALUES ($1, $2, $3, $4, $5)`,
			doctorID, int16(w.Weekday), w.StartMinute, w.EndMinute, w.Active)
		if err != nil {
			return fmt.Errorf("insert availability window: %w", err)
		}
	}
	return nil
}

func (s *PgStore) ListOpenRooms(ctx context.Context, roomType RoomType) ([]Room, error) {
	b := psql.Select(roomColumns).From("rooms").
		Where(squirrel.Eq{"available": true}).
		OrderBy("room_number")
	if roomType != "" {
		b = b.Where(squirrel.Eq{"room_type": string(roomType)})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build room query: %w", err)
	}
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list open rooms: %w", err)
	}
	return scanRooms(rows)
}

func (s *PgStore) ListRooms(ctx context.Context) ([]Room, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT `+roomColumns+` FROM rooms ORDER BY room_number`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return scanRooms(rows)
}

func scanRooms(rows pgx.Rows) ([]Room, error) {
	defer rows.Close()
	var out []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Number, &r.Type, &r.Capacity, &r.Available, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PgStore) FindBusyRoomIDs(ctx context.Context, start, end time.Time) (map[uuid.UUID]bool, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT DISTINCT room_id
		FROM appointments
		WHERE room_id IS NOT NULL
		  AND status IN ('scheduled', 'completed')
		  AND start_at < $2
		  AND end_at > $1`, start, end)
	if err != nil {
		return nil, fmt.Errorf("find busy rooms: %w", err)
	}
	defer rows.Close()

	busy := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan room id: %w", err)
		}
		busy[id] = true
	}
	return busy, rows.Err()
}

func (s *PgStore) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.q(ctx).QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (s *PgStore) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	a, err := s.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := s.GetPatientByID(ctx, a.PatientID)
	if err != nil {
		return nil, err
	}
	d, err := s.GetDoctorByID(ctx, a.DoctorID)
	if err != nil {
		return nil, err
	}
	detail := &AppointmentDetail{Appointment: *a, Patient: p, Doctor: d}
	if a.RoomID != nil {
		r, err := s.getRoomByID(ctx, *a.RoomID)
		if err != nil {
			return nil, err
		}
		detail.Room = r
	}
	return detail, nil
}

func (s *PgStore) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	b := psql.Select(appointmentColumns).From("appointments").
		OrderBy("start_at DESC", "id")
	if f.PatientID != nil {
		b = b.Where(squirrel.Eq{"patient_id": *f.PatientID})
	}
	if f.DoctorID != nil {
		b = b.Where(squirrel.Eq{"doctor_id": *f.DoctorID})
	}
	if f.Status != nil {
		b = b.Where(squirrel.Eq{"status": string(*f.Status)})
	}
	if f.From != nil {
		b = b.Where(squirrel.GtOrEq{"start_at": *f.From})
	}
	if f.To != nil {
		b = b.Where(squirrel.Lt{"start_at": *f.To})
	}
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		b = b.Offset(uint64(f.Offset))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build appointment query: %w", err)
	}
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return scanAppointments(rows)
}

func (s *PgStore) ListScheduledBetween(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'scheduled' AND start_at >= $1 AND start_at < $2
		ORDER BY start_at`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list scheduled appointments: %w", err)
	}
	return scanAppointments(rows)
}

func (s *PgStore) FindPatientScheduledAt(ctx context.Context, patientID uuid.UUID, startAt time.Time) (*Appointment, error) {
	row := s.q(ctx).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1 AND start_at = $2 AND status = 'scheduled'`, patientID, startAt)
	return scanAppointment(row)
}

func (s *PgStore) InsertAppointment(ctx context.Context, a *Appointment) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.PatientID, a.DoctorID, a.StartAt, a.EndAt, a.Status,
		a.RoomID, a.Reason, a.Notes, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

// UpdateAppointmentCAS writes the appointment only while its stored status
// still equals from. Zero matched rows reads as not found, which also covers
// losing a status race.
func (s *PgStore) UpdateAppointmentCAS(ctx context.Context, a *Appointment, from AppointmentStatus) (*Appointment, error) {
	row := s.q(ctx).QueryRow(ctx, `
		UPDATE appointments
		SET start_at = $2, end_at = $3, status = $4, room_id = $5, notes = $6, updated_at = $7
		WHERE id = $1 AND status = $8
		RETURNING `+appointmentColumns,
		a.ID, a.StartAt, a.EndAt, a.Status, a.RoomID, a.Notes, a.UpdatedAt, from)
	return scanAppointment(row)
}

// ClaimSlot claims (doctorID, startAt) for appointmentID and returns the
// holder after the attempt. The slot_claims primary key arbitrates races: the
// loser's insert is a no-op and the read reports the winner.
func (s *PgStore) ClaimSlot(ctx context.Context, doctorID uuid.UUID, startAt time.Time, appointmentID uuid.UUID) (uuid.UUID, error) {
	q := s.q(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO slot_claims (doctor_id, start_at, appointment_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (doctor_id, start_at) DO NOTHING`, doctorID, startAt, appointmentID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("claim slot: %w", err)
	}
	var holder uuid.UUID
	err = q.QueryRow(ctx, `
		SELECT appointment_id FROM slot_claims WHERE doctor_id = $1 AND start_at = $2`,
		doctorID, startAt).Scan(&holder)
	if err != nil {
		return uuid.Nil, fmt.Errorf("read slot claim: %w", err)
	}
	return holder, nil
}

func (s *PgStore) ReleaseSlot(ctx context.Context, doctorID uuid.UUID, startAt time.Time) error {
	_, err := s.q(ctx).Exec(ctx, `
		DELETE FROM slot_claims WHERE doctor_id = $1 AND start_at = $2`, doctorID, startAt)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

func (s *PgStore) GetSlotClaim(ctx context.Context, doctorID uuid.UUID, startAt time.Time) (*SlotClaim, error) {
	var c SlotClaim
	err := s.q(ctx).QueryRow(ctx, `
		SELECT `+claimColumns+` FROM slot_claims WHERE doctor_id = $1 AND start_at = $2`,
		doctorID, startAt).Scan(&c.DoctorID, &c.StartAt, &c.AppointmentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrClaimNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan slot claim: %w", err)
	}
	return &c, nil
}

func (s *PgStore) ListSlotClaims(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]SlotClaim, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT `+claimColumns+`
		FROM slot_claims
		WHERE doctor_id = $1 AND start_at >= $2 AND start_at < $3
		ORDER BY start_at`, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list slot claims: %w", err)
	}
	defer rows.Close()

	var out []SlotClaim
	for rows.Next() {
		var c SlotClaim
		if err := rows.Scan(&c.DoctorID, &c.StartAt, &c.AppointmentID); err != nil {
			return nil, fmt.Errorf("scan slot claim: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PgStore) InsertNotification(ctx context.Context, n *Notification) error {
	err := s.q(ctx).QueryRow(ctx, `
		INSERT INTO notifications (user_id, message, type, is_read, created_at)
		VALUES ($1, $2, $3, false, $4)
		RETURNING id`, n.UserID, n.Message, n.Type, n.CreatedAt).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PgStore) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]Notification, error) {
	b := psql.Select(notificationColumns).From("notifications").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("id DESC")
	if unreadOnly {
		b = b.Where(squirrel.Eq{"is_read": false})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build notification query: %w", err)
	}
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.Type, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PgStore) MarkNotificationRead(ctx context.Context, id int64) error {
	tag, err := s.q(ctx).Exec(ctx, `UPDATE notifications SET is_read = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *PgStore) InsertBookingRequest(ctx context.Context, r *BookingRequest) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO booking_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.PatientID, r.Reason, r.Specialization, r.PreferredDate,
		r.Status, r.AppointmentID, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert booking request: %w", err)
	}
	return nil
}

func (s *PgStore) GetBookingRequestByID(ctx context.Context, id uuid.UUID) (*BookingRequest, error) {
	row := s.q(ctx).QueryRow(ctx, `SELECT `+requestColumns+` FROM booking_requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (s *PgStore) ListBookingRequests(ctx context.Context, status RequestStatus, limit, offset int) ([]BookingRequest, error) {
	b := psql.Select(requestColumns).From("booking_requests").
		OrderBy("created_at", "id")
	if status != "" {
		b = b.Where(squirrel.Eq{"status": string(status)})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	if offset > 0 {
		b = b.Offset(uint64(offset))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build request query: %w", err)
	}
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list booking requests: %w", err)
	}
	defer rows.Close()

	var out []BookingRequest
	for rows.Next() {
		var r BookingRequest
		if err := rows.Scan(&r.ID, &r.PatientID, &r.Reason, &r.Specialization, &r.PreferredDate,
			&r.Status, &r.AppointmentID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan booking request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PgStore) UpdateBookingRequestCAS(ctx context.Context, r *BookingRequest, from RequestStatus) (*BookingRequest, error) {
	row := s.q(ctx).QueryRow(ctx, `
		UPDATE booking_requests
		SET status = $2, appointment_id = $3, updated_at = $4
		WHERE id = $1 AND status = $5
		RETURNING `+requestColumns,
		r.ID, r.Status, r.AppointmentID, r.UpdatedAt, from)
	return scanRequest(row)
}

func (s *PgStore) ListEquipment(ctx context.Context, status string) ([]Equipment, error) {
	b := psql.Select(equipmentColumns).From("equipment").OrderBy("name")
	if status != "" {
		b = b.Where(squirrel.Eq{"status": status})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build equipment query: %w", err)
	}
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list equipment: %w", err)
	}
	defer rows.Close()

	var out []Equipment
	for rows.Next() {
		var eq Equipment
		if err := rows.Scan(&eq.ID, &eq.Name, &eq.Type, &eq.SerialNumber, &eq.RoomID, &eq.Status); err != nil {
			return nil, fmt.Errorf("scan equipment: %w", err)
		}
		out = append(out, eq)
	}
	return out, rows.Err()
}

func (s *PgStore) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4)`,
		ev.EventType, ev.AppointmentID, ev.Payload, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}
