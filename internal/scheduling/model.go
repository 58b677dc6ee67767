package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "scheduled"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusNoShow     AppointmentStatus = "no_show"
)

// allowedTransitions encodes the appointment state machine. Missing target
// statuses are terminal.
var allowedTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled:  {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

func CanTransition(from, to AppointmentStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s AppointmentStatus) Terminal() bool {
	return len(allowedTransitions[s]) == 0
}

type Appointment struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	DoctorID    *uuid.UUID
	RoomID      *uuid.UUID
	StartAt     time.Time
	EndAt       time.Time
	Status      AppointmentStatus
	AIOptimized bool
	Confidence  *float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Day is the UTC calendar day the appointment falls on.
func (a Appointment) Day() time.Time {
	return DayOf(a.StartAt)
}

func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// validateInterval enforces the interval contract: half-open, end after start,
// and contained in one UTC calendar day. An end at exactly midnight closes the
// day and is allowed. Cross-day intervals would be invisible to the per-day
// conflict scan, so they are rejected before any booking path sees them.
func validateInterval(start, end time.Time) error {
	if !end.After(start) {
		return fmt.Errorf("interval [%s, %s): %w",
			start.Format(time.RFC3339), end.Format(time.RFC3339), ErrInvalidInterval)
	}
	if end.After(DayOf(start).Add(24 * time.Hour)) {
		return fmt.Errorf("interval [%s, %s) crosses a UTC day boundary: %w",
			start.Format(time.RFC3339), end.Format(time.RFC3339), ErrInvalidInterval)
	}
	return nil
}

type ConflictType string

const (
	ConflictDoctorDoubleBooked  ConflictType = "doctor_double_booked"
	ConflictRoomDoubleBooked    ConflictType = "room_double_booked"
	ConflictPatientDoubleBooked ConflictType = "patient_double_booked"
)

// ConflictReport describes one overlap between a candidate interval and a
// booked appointment, on one contended dimension. A single appointment can
// produce several reports when it collides on more than one dimension.
type ConflictReport struct {
	Type          ConflictType
	AppointmentID uuid.UUID
	OverlapStart  time.Time
	OverlapEnd    time.Time
}

func (r ConflictReport) String() string {
	return fmt.Sprintf("%s with %s over [%s, %s)",
		r.Type, r.AppointmentID,
		r.OverlapStart.Format(time.RFC3339), r.OverlapEnd.Format(time.RFC3339))
}

// ConflictError carries the full conflict list so callers can render each
// collision, not just a boolean failure.
type ConflictError struct {
	Reports []ConflictReport
}

func (e *ConflictError) Error() string {
	if len(e.Reports) == 0 {
		return "scheduling conflict"
	}
	parts := make([]string, len(e.Reports))
	for i, r := range e.Reports {
		parts[i] = r.String()
	}
	return "scheduling conflict: " + strings.Join(parts, "; ")
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// Suggestion is one recommender candidate: a start time plus the doctor/room
// pairing that makes it feasible, scored in [0,1].
type Suggestion struct {
	StartAt           time.Time
	EndAt             time.Time
	Confidence        float64
	SuggestedDoctorID *uuid.UUID
	SuggestedRoomID   *uuid.UUID
}
