package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(
		&d.ID,
		&d.Name,
		&specialty,
		&d.Active,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	return &d, nil
}

func scanRoom(row pgx.Row) (*Room, error) {
	var r Room

	err := row.Scan(
		&r.ID,
		&r.Name,
		&r.RoomType,
		&r.Capacity,
		&r.Active,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	return &r, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

// Interface methods

func (d *PgDirectory) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, name, specialty, active, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (d *PgDirectory) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, name, room_type, capacity, active, created_at, updated_at
		FROM rooms
		WHERE id = $1
	`, id)
	return scanRoom(row)
}

func (d *PgDirectory) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (d *PgDirectory) ListActiveDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, name, specialty, active, created_at, updated_at
		FROM doctors
		WHERE active
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		doc, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *doc)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (d *PgDirectory) ListActiveRooms(ctx context.Context, roomType string) ([]Room, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, name, room_type, capacity, active, created_at, updated_at
		FROM rooms
		WHERE active
		  AND ($1 = '' OR room_type = $1)
		ORDER BY id
	`, roomType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *room)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
