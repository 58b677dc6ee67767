package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidInterval     = errors.New("end time must be after start time")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// Repository contains all DB interactions needed by the detector, recommender
// and ledger service.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ListForDay returns every appointment whose start falls on the given
	// UTC calendar day, cancelled ones included.
	ListForDay(ctx context.Context, day time.Time) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// Creation and updates
	Insert(ctx context.Context, appt *Appointment) error
	UpdateTimes(ctx context.Context, appt *Appointment) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
