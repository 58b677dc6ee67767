package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Candidate is a booking attempt to be checked against the ledger.
// Dimensions left nil are not checked; ExcludeID skips one existing
// appointment, used when rescheduling an appointment against itself.
type Candidate struct {
	Start     time.Time
	End       time.Time
	DoctorID  *uuid.UUID
	RoomID    *uuid.UUID
	PatientID *uuid.UUID
	ExcludeID *uuid.UUID
}

// Detector answers "would this interval collide" against the ledger.
// Pure query, no side effects. The answer is advisory: the authoritative
// gate is the ledger commit under the booking lock.
type Detector struct {
	repo Repository
}

func NewDetector(repo Repository) *Detector {
	return &Detector{repo: repo}
}

func (d *Detector) Detect(ctx context.Context, c Candidate) ([]ConflictReport, error) {
	if err := validateInterval(c.Start, c.End); err != nil {
		return nil, err
	}

	existing, err := d.repo.ListForDay(ctx, DayOf(c.Start))
	if err != nil {
		return nil, fmt.Errorf("list appointments for day: %w", err)
	}

	var reports []ConflictReport
	for _, other := range existing {
		if other.Status == StatusCancelled {
			continue
		}
		if c.ExcludeID != nil && other.ID == *c.ExcludeID {
			continue
		}
		// Half-open overlap: touching boundaries do not collide.
		if !c.Start.Before(other.EndAt) || !other.StartAt.Before(c.End) {
			continue
		}

		overlapStart := laterOf(c.Start, other.StartAt)
		overlapEnd := earlierOf(c.End, other.EndAt)

		// One report per matched dimension. An appointment sharing both
		// the doctor and the room produces two reports.
		if c.DoctorID != nil && other.DoctorID != nil && *c.DoctorID == *other.DoctorID {
			reports = append(reports, ConflictReport{
				Type:          ConflictDoctorDoubleBooked,
				AppointmentID: other.ID,
				OverlapStart:  overlapStart,
				OverlapEnd:    overlapEnd,
			})
		}
		if c.RoomID != nil && other.RoomID != nil && *c.RoomID == *other.RoomID {
			reports = append(reports, ConflictReport{
				Type:          ConflictRoomDoubleBooked,
				AppointmentID: other.ID,
				OverlapStart:  overlapStart,
				OverlapEnd:    overlapEnd,
			})
		}
		if c.PatientID != nil && *c.PatientID == other.PatientID {
			reports = append(reports, ConflictReport{
				Type:          ConflictPatientDoubleBooked,
				AppointmentID: other.ID,
				OverlapStart:  overlapStart,
				OverlapEnd:    overlapEnd,
			})
		}
	}

	return reports, nil
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
