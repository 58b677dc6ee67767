package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careloop/clinic-scheduling/internal/directory"
	"github.com/careloop/clinic-scheduling/internal/notify"
	redisclient "github.com/careloop/clinic-scheduling/internal/redis"
	"github.com/careloop/clinic-scheduling/internal/waitlist"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventStatusChanged          = "APPOINTMENT_STATUS_CHANGED"
)

var (
	// ErrResourceBusy is returned when a concurrent booking holds the
	// doctor-day or room-day lock. Callers should retry shortly.
	ErrResourceBusy = errors.New("doctor or room is currently being booked, please retry")

	ErrDoctorInactive = errors.New("doctor is not active")
	ErrRoomInactive   = errors.New("room is not active")
)

// WaitlistMatcher surfaces waiting entries compatible with a freed slot.
type WaitlistMatcher interface {
	NextCandidates(ctx context.Context, slot waitlist.FreedSlot) ([]waitlist.Entry, error)
}

// Service is the appointment ledger: the sole authority for committing
// bookings. The advisory Detect pre-check can race; Book and Reschedule
// therefore re-run detection inside the per-resource-day lock before writing.
type Service struct {
	repo     Repository
	detector *Detector
	locker   redisclient.Locker
	dir      directory.Directory
	emitter  notify.Emitter
	matcher  WaitlistMatcher
	logger   zerolog.Logger
}

func NewService(
	repo Repository,
	locker redisclient.Locker,
	dir directory.Directory,
	emitter notify.Emitter,
	matcher WaitlistMatcher,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		detector: NewDetector(repo),
		locker:   locker,
		dir:      dir,
		emitter:  emitter,
		matcher:  matcher,
		logger:   logger,
	}
}

// CheckConflicts is the advisory pre-check exposed to callers. The result is
// only guaranteed to hold at the time of the read.
func (s *Service) CheckConflicts(ctx context.Context, c Candidate) ([]ConflictReport, error) {
	return s.detector.Detect(ctx, c)
}

type BookRequest struct {
	PatientID   uuid.UUID
	DoctorID    *uuid.UUID
	RoomID      *uuid.UUID
	StartAt     time.Time
	EndAt       time.Time
	AIOptimized bool
	Confidence  *float64
}

// Book validates the candidate against the directory, then commits it under
// the doctor-day/room-day locks. A conflict fails with *ConflictError
// carrying one report per violated dimension.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if err := validateInterval(req.StartAt, req.EndAt); err != nil {
		return nil, err
	}

	if err := s.validateReferences(ctx, req.PatientID, req.DoctorID, req.RoomID); err != nil {
		return nil, err
	}

	appt := &Appointment{
		ID:          uuid.New(),
		PatientID:   req.PatientID,
		DoctorID:    req.DoctorID,
		RoomID:      req.RoomID,
		StartAt:     req.StartAt.UTC(),
		EndAt:       req.EndAt.UTC(),
		Status:      StatusScheduled,
		AIOptimized: req.AIOptimized,
		Confidence:  req.Confidence,
	}

	err := s.locker.WithLock(ctx, lockKeys(appt.DoctorID, appt.RoomID, appt.Day()), func(lockCtx context.Context) error {
		return s.commitGuarded(lockCtx, appt, Candidate{
			Start:     appt.StartAt,
			End:       appt.EndAt,
			DoctorID:  appt.DoctorID,
			RoomID:    appt.RoomID,
			PatientID: &appt.PatientID,
		}, func(c context.Context) error {
			return s.repo.Insert(c, appt)
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrResourceBusy
		}
		s.emitOnConflict(ctx, err, appt.ID, appt.PatientID)
		return nil, err
	}

	s.logEvent(ctx, appt.ID, EventAppointmentBooked, map[string]any{
		"patient_id": appt.PatientID.String(),
		"start_at":   appt.StartAt,
		"end_at":     appt.EndAt,
	})
	s.emit(ctx, notify.EventConfirmation, appt.ID, appt.PatientID)

	return appt, nil
}

// Changes holds the reschedule edits; nil fields keep their current value.
type Changes struct {
	StartAt  *time.Time
	EndAt    *time.Time
	DoctorID *uuid.UUID
	RoomID   *uuid.UUID
}

// Reschedule edits an appointment's time or resources and re-runs conflict
// detection, excluding the appointment itself.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, ch Changes) (*Appointment, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if current.Status.Terminal() {
		return nil, fmt.Errorf("reschedule %s appointment: %w", current.Status, ErrInvalidTransition)
	}

	next := *current
	if ch.StartAt != nil {
		next.StartAt = ch.StartAt.UTC()
	}
	if ch.EndAt != nil {
		next.EndAt = ch.EndAt.UTC()
	}
	if ch.DoctorID != nil {
		next.DoctorID = ch.DoctorID
	}
	if ch.RoomID != nil {
		next.RoomID = ch.RoomID
	}

	if err := validateInterval(next.StartAt, next.EndAt); err != nil {
		return nil, err
	}

	if err := s.validateReferences(ctx, next.PatientID, ch.DoctorID, ch.RoomID); err != nil {
		return nil, err
	}

	// Lock the old and new resource-days: moving an appointment contends on
	// both sides of the move.
	keys := appendKeys(
		lockKeys(current.DoctorID, current.RoomID, current.Day()),
		lockKeys(next.DoctorID, next.RoomID, next.Day()),
	)

	err = s.locker.WithLock(ctx, keys, func(lockCtx context.Context) error {
		excludeID := id
		return s.commitGuarded(lockCtx, &next, Candidate{
			Start:     next.StartAt,
			End:       next.EndAt,
			DoctorID:  next.DoctorID,
			RoomID:    next.RoomID,
			PatientID: &next.PatientID,
			ExcludeID: &excludeID,
		}, func(c context.Context) error {
			return s.repo.UpdateTimes(c, &next)
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrResourceBusy
		}
		s.emitOnConflict(ctx, err, next.ID, next.PatientID)
		return nil, err
	}

	s.logEvent(ctx, next.ID, EventAppointmentRescheduled, map[string]any{
		"start_at": next.StartAt,
		"end_at":   next.EndAt,
	})
	s.emit(ctx, notify.EventConfirmation, next.ID, next.PatientID)

	return &next, nil
}

// Cancel frees the appointment's slot and surfaces compatible waitlist
// candidates. Cancelling an already-cancelled appointment is a no-op.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) ([]waitlist.Entry, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if appt.Status == StatusCancelled {
		return nil, nil
	}
	if !CanTransition(appt.Status, StatusCancelled) {
		return nil, fmt.Errorf("cancel %s appointment: %w", appt.Status, ErrInvalidTransition)
	}

	if _, err := s.repo.UpdateStatus(ctx, id, appt.Status, StatusCancelled); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Conditional update missed: re-read to distinguish a concurrent
			// cancel (no-op) from a concurrent transition elsewhere.
			latest, getErr := s.repo.GetByID(ctx, id)
			if getErr == nil && latest.Status == StatusCancelled {
				return nil, nil
			}
			return nil, fmt.Errorf("cancel appointment: %w", ErrInvalidTransition)
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.logEvent(ctx, appt.ID, EventAppointmentCancelled, map[string]any{
		"freed_start": appt.StartAt,
		"freed_end":   appt.EndAt,
	})
	s.emit(ctx, notify.EventCancellation, appt.ID, appt.PatientID)

	candidates, err := s.matcher.NextCandidates(ctx, waitlist.FreedSlot{
		Start:    appt.StartAt,
		End:      appt.EndAt,
		DoctorID: appt.DoctorID,
	})
	if err != nil {
		// The cancellation is already committed; a matching failure must not
		// undo it.
		s.logger.Error().Err(err).
			Str("appointment_id", appt.ID.String()).
			Msg("waitlist lookup failed after cancel")
		return nil, nil
	}

	for _, c := range candidates {
		s.emit(ctx, notify.EventWaitlistMatch, appt.ID, c.PatientID)
	}

	return candidates, nil
}

// Transition moves an appointment through the status state machine.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	if to == StatusCancelled {
		if _, err := s.Cancel(ctx, id); err != nil {
			return nil, err
		}
		return s.repo.GetByID(ctx, id)
	}

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if !CanTransition(appt.Status, to) {
		return nil, fmt.Errorf("transition %s -> %s: %w", appt.Status, to, ErrInvalidTransition)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("transition %s -> %s: %w", appt.Status, to, ErrInvalidTransition)
		}
		return nil, fmt.Errorf("transition appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventStatusChanged, map[string]any{
		"from": string(appt.Status),
		"to":   string(to),
	})
	if to == StatusConfirmed {
		s.emit(ctx, notify.EventConfirmation, updated.ID, updated.PatientID)
	}

	return updated, nil
}

// Get retrieves an appointment by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ListByPatient retrieves appointments for a specific patient.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appts, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appts, nil
}

// ListForDay retrieves every appointment on a calendar day.
func (s *Service) ListForDay(ctx context.Context, day time.Time) ([]Appointment, error) {
	appts, err := s.repo.ListForDay(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("list appointments for day: %w", err)
	}
	return appts, nil
}

// commitGuarded re-detects inside the critical section, writes, and maps the
// database overlap guard back to a *ConflictError for losing racers.
func (s *Service) commitGuarded(ctx context.Context, appt *Appointment, c Candidate, write func(context.Context) error) error {
	reports, err := s.detector.Detect(ctx, c)
	if err != nil {
		return err
	}
	if len(reports) > 0 {
		return &ConflictError{Reports: reports}
	}

	if err := write(ctx); err != nil {
		if errors.Is(err, ErrCommitConflict) {
			// A racer that bypassed our lock (e.g. direct DB write) won the
			// commit. Re-detect so the caller still gets structured reports.
			reports, detectErr := s.detector.Detect(ctx, c)
			if detectErr == nil && len(reports) > 0 {
				return &ConflictError{Reports: reports}
			}
			return &ConflictError{}
		}
		return fmt.Errorf("commit appointment: %w", err)
	}

	return nil
}

func (s *Service) validateReferences(ctx context.Context, patientID uuid.UUID, doctorID, roomID *uuid.UUID) error {
	if _, err := s.dir.GetPatient(ctx, patientID); err != nil {
		if errors.Is(err, directory.ErrPatientNotFound) {
			return err
		}
		return fmt.Errorf("load patient: %w", err)
	}

	if doctorID != nil {
		doc, err := s.dir.GetDoctor(ctx, *doctorID)
		if err != nil {
			if errors.Is(err, directory.ErrDoctorNotFound) {
				return err
			}
			return fmt.Errorf("load doctor: %w", err)
		}
		if !doc.Active {
			return ErrDoctorInactive
		}
	}

	if roomID != nil {
		room, err := s.dir.GetRoom(ctx, *roomID)
		if err != nil {
			if errors.Is(err, directory.ErrRoomNotFound) {
				return err
			}
			return fmt.Errorf("load room: %w", err)
		}
		if !room.Active {
			return ErrRoomInactive
		}
	}

	return nil
}

func lockKeys(doctorID, roomID *uuid.UUID, day time.Time) []string {
	var keys []string
	if doctorID != nil {
		keys = append(keys, redisclient.DoctorDayKey(*doctorID, day))
	}
	if roomID != nil {
		keys = append(keys, redisclient.RoomDayKey(*roomID, day))
	}
	return keys
}

func appendKeys(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, k := range append(a, b...) {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// emitOnConflict notifies the patient when a booking attempt lost to an
// existing appointment. Other failures emit nothing.
func (s *Service) emitOnConflict(ctx context.Context, err error, appointmentID, recipient uuid.UUID) {
	var conflictErr *ConflictError
	if errors.As(err, &conflictErr) {
		s.emit(ctx, notify.EventConflict, appointmentID, recipient)
	}
}

func (s *Service) emit(ctx context.Context, typ notify.EventType, appointmentID, recipient uuid.UUID) {
	ev := notify.Event{
		Type:          typ,
		AppointmentID: appointmentID,
		Recipient:     recipient,
		OccurredAt:    time.Now().UTC(),
	}
	if err := s.emitter.Emit(ctx, ev); err != nil {
		s.logger.Error().Err(err).
			Str("event_type", string(typ)).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to emit scheduling event")
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}
