package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrCommitConflict is returned when the database-level overlap guard rejects
// an insert or update that raced past the advisory conflict check.
var ErrCommitConflict = errors.New("overlapping appointment rejected at commit")

const exclusionViolation = "23P01"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var doctorID, roomID *uuid.UUID
	var confidence *float64

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&doctorID,
		&roomID,
		&a.StartAt,
		&a.EndAt,
		&a.Status,
		&a.AIOptimized,
		&confidence,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.DoctorID = doctorID
	a.RoomID = roomID
	a.Confidence = confidence
	return &a, nil
}

func mapCommitGuard(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
		return ErrCommitConflict
	}
	return err
}

// Interface methods

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, patient_id, doctor_id, room_id, start_at, end_at, status,
		       ai_optimized, confidence, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListForDay(ctx context.Context, day time.Time) ([]Appointment, error) {
	dayStart := DayOf(day)
	dayEnd := dayStart.Add(24 * time.Hour)

	rows, err := r.pool.Query(ctx, `
		SELECT id, patient_id, doctor_id, room_id, start_at, end_at, status,
		       ai_optimized, confidence, created_at, updated_at
		FROM appointments
		WHERE start_at >= $1 AND start_at < $2
		ORDER BY start_at
	`, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, patient_id, doctor_id, room_id, start_at, end_at, status,
		       ai_optimized, confidence, created_at, updated_at
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) Insert(ctx context.Context, appt *Appointment) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments
			(id, patient_id, doctor_id, room_id, start_at, end_at, status,
			 ai_optimized, confidence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING id, patient_id, doctor_id, room_id, start_at, end_at, status,
		          ai_optimized, confidence, created_at, updated_at
	`, appt.ID, appt.PatientID, appt.DoctorID, appt.RoomID,
		appt.StartAt, appt.EndAt, appt.Status, appt.AIOptimized, appt.Confidence)

	saved, err := scanAppointment(row)
	if err != nil {
		return mapCommitGuard(err)
	}

	*appt = *saved
	return nil
}

func (r *PgRepository) UpdateTimes(ctx context.Context, appt *Appointment) error {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET doctor_id = $2,
		    room_id = $3,
		    start_at = $4,
		    end_at = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING id, patient_id, doctor_id, room_id, start_at, end_at, status,
		          ai_optimized, confidence, created_at, updated_at
	`, appt.ID, appt.DoctorID, appt.RoomID, appt.StartAt, appt.EndAt)

	saved, err := scanAppointment(row)
	if err != nil {
		return mapCommitGuard(err)
	}

	*appt = *saved
	return nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING id, patient_id, doctor_id, room_id, start_at, end_at, status,
		          ai_optimized, confidence, created_at, updated_at
	`, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
