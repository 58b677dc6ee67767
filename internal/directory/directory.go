package directory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound  = errors.New("doctor not found")
	ErrRoomNotFound    = errors.New("room not found")
	ErrPatientNotFound = errors.New("patient not found")
)

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Room struct {
	ID        uuid.UUID
	Name      string
	RoomType  string
	Capacity  int
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Directory is the read-only view of clinic resources the scheduling core
// validates references against. Ownership of the data sits outside this module.
type Directory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*Room, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)

	// For the slot recommender
	ListActiveDoctors(ctx context.Context) ([]Doctor, error)
	// ListActiveRooms filters by room type; empty roomType means any.
	ListActiveRooms(ctx context.Context, roomType string) ([]Room, error)
}
