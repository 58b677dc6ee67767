package waitlist

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry

	err := row.Scan(
		&e.ID,
		&e.PatientID,
		&e.PreferredDay,
		&e.PreferredStart,
		&e.PreferredEnd,
		&e.PreferredDoctorID,
		&e.Priority,
		&e.Reason,
		&e.Status,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}

	return &e, nil
}

const entryColumns = `id, patient_id, preferred_day, preferred_start, preferred_end,
	preferred_doctor_id, priority, reason, status, created_at, updated_at`

func (r *PgRepository) Insert(ctx context.Context, e *Entry) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO waitlist_entries
			(id, patient_id, preferred_day, preferred_start, preferred_end,
			 preferred_doctor_id, priority, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'waiting', now(), now())
		RETURNING `+entryColumns,
		e.ID, e.PatientID, e.PreferredDay, e.PreferredStart, e.PreferredEnd,
		e.PreferredDoctorID, e.Priority, e.Reason)

	saved, err := scanEntry(row)
	if err != nil {
		return err
	}

	*e = *saved
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE id = $1
	`, id)
	return scanEntry(row)
}

func (r *PgRepository) ListWaiting(ctx context.Context) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE status = 'waiting'
		ORDER BY priority DESC, created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectEntries(rows)
}

func (r *PgRepository) ListWaitingByPatient(ctx context.Context, patientID uuid.UUID) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE status = 'waiting'
		  AND patient_id = $1
		ORDER BY priority DESC, created_at ASC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	var result []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Entry, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE waitlist_entries
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+entryColumns,
		id, to, from)

	return scanEntry(row)
}
