package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/careloop/clinic-scheduling/internal/redis"
)

// Resolution is the terminal outcome of a dequeued entry.
type Resolution string

const (
	ResolutionScheduled Resolution = "scheduled"
	ResolutionCancelled Resolution = "cancelled"
	ResolutionExpired   Resolution = "expired"
)

func (r Resolution) status() (Status, bool) {
	switch r {
	case ResolutionScheduled:
		return StatusScheduled, true
	case ResolutionCancelled:
		return StatusCancelled, true
	case ResolutionExpired:
		return StatusExpired, true
	}
	return "", false
}

// Prioritizer owns the waitlist: strict (priority desc, created asc) ordering
// and matching of waiting entries against freed slots.
type Prioritizer struct {
	repo        Repository
	locker      redisclient.Locker
	waitlistTTL time.Duration
	logger      zerolog.Logger
}

func NewPrioritizer(repo Repository, locker redisclient.Locker, waitlistTTL time.Duration, logger zerolog.Logger) *Prioritizer {
	return &Prioritizer{
		repo:        repo,
		locker:      locker,
		waitlistTTL: waitlistTTL,
		logger:      logger,
	}
}

// Enqueue registers an unmet scheduling request. A patient may not hold two
// waiting entries with overlapping preferences; the check and the insert run
// under a per-patient lock so concurrent enqueues cannot both pass it.
func (p *Prioritizer) Enqueue(ctx context.Context, e Entry) (*Entry, error) {
	if e.PreferredStart != nil && e.PreferredEnd != nil &&
		minuteOf(*e.PreferredEnd) <= minuteOf(*e.PreferredStart) {
		return nil, ErrInvalidPreference
	}

	key := redisclient.WaitlistPatientKey(e.PatientID)
	err := p.locker.WithLock(ctx, []string{key}, func(lockCtx context.Context) error {
		existing, err := p.repo.ListWaitingByPatient(lockCtx, e.PatientID)
		if err != nil {
			return fmt.Errorf("list waiting entries for patient: %w", err)
		}
		for _, other := range existing {
			if e.overlapsPreferences(other) {
				return ErrDuplicateWaitlist
			}
		}

		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.Status = StatusWaiting

		if err := p.repo.Insert(lockCtx, &e); err != nil {
			return fmt.Errorf("insert waitlist entry: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrPatientBusy
		}
		return nil, err
	}

	p.logger.Info().
		Str("entry_id", e.ID.String()).
		Str("patient_id", e.PatientID.String()).
		Int("priority", e.Priority).
		Msg("waitlist entry enqueued")

	return &e, nil
}

// Dequeue resolves an entry. Resolving an already-resolved entry is a no-op.
func (p *Prioritizer) Dequeue(ctx context.Context, id uuid.UUID, res Resolution) error {
	to, ok := res.status()
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidResolution, res)
	}

	entry, err := p.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load waitlist entry: %w", err)
	}
	if entry.Status != StatusWaiting {
		return nil
	}

	_, err = p.repo.UpdateStatus(ctx, id, StatusWaiting, to)
	if err != nil {
		// Lost a race with another resolver; that resolver won, still a no-op.
		if errors.Is(err, ErrEntryNotFound) {
			return nil
		}
		return fmt.Errorf("resolve waitlist entry: %w", err)
	}

	p.logger.Info().
		Str("entry_id", id.String()).
		Str("resolution", string(res)).
		Msg("waitlist entry resolved")

	return nil
}

// NextCandidates returns the waiting entries compatible with the freed slot,
// best candidate first.
func (p *Prioritizer) NextCandidates(ctx context.Context, slot FreedSlot) ([]Entry, error) {
	if !slot.End.After(slot.Start) {
		return nil, fmt.Errorf("freed slot [%s, %s): end must be after start",
			slot.Start.Format(time.RFC3339), slot.End.Format(time.RFC3339))
	}

	waiting, err := p.repo.ListWaiting(ctx)
	if err != nil {
		return nil, fmt.Errorf("list waiting entries: %w", err)
	}

	var matched []Entry
	for _, e := range waiting {
		if e.CompatibleWith(slot) {
			matched = append(matched, e)
		}
	}

	return matched, nil
}

// ExpireStale moves waiting entries whose preferred day has passed, or that
// have waited longer than the configured TTL, into expired. Run by the worker.
func (p *Prioritizer) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	waiting, err := p.repo.ListWaiting(ctx)
	if err != nil {
		return 0, fmt.Errorf("list waiting entries: %w", err)
	}

	today := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC)

	expired := 0
	for _, e := range waiting {
		stale := e.CreatedAt.Before(now.Add(-p.waitlistTTL))
		if e.PreferredDay != nil && e.PreferredDay.Before(today) {
			stale = true
		}
		if !stale {
			continue
		}

		if _, err := p.repo.UpdateStatus(ctx, e.ID, StatusWaiting, StatusExpired); err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				continue
			}
			p.logger.Error().Err(err).
				Str("entry_id", e.ID.String()).
				Msg("failed to expire waitlist entry")
			continue
		}
		expired++
	}

	return expired, nil
}
