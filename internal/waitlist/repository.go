package waitlist

import (
	"context"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the prioritizer.
type Repository interface {
	Insert(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)

	// ListWaiting returns every waiting entry ordered by priority descending
	// then created_at ascending.
	ListWaiting(ctx context.Context) ([]Entry, error)
	ListWaitingByPatient(ctx context.Context, patientID uuid.UUID) ([]Entry, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Entry, error)
}
