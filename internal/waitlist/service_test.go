package waitlist

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/careloop/clinic-scheduling/internal/redis"
)

// memRepo mirrors the Postgres repository's ordering and conditional-update
// behavior in memory.
type memRepo struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
}

func newMemRepo() *memRepo {
	return &memRepo{entries: make(map[uuid.UUID]*Entry)}
}

func (m *memRepo) Insert(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.UpdatedAt = e.CreatedAt
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memRepo) ListWaiting(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Entry
	for _, e := range m.entries {
		if e.Status == StatusWaiting {
			out = append(out, *e)
		}
	}
	sortWaiting(out)
	return out, nil
}

func (m *memRepo) ListWaitingByPatient(_ context.Context, patientID uuid.UUID) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Entry
	for _, e := range m.entries {
		if e.Status == StatusWaiting && e.PatientID == patientID {
			out = append(out, *e)
		}
	}
	sortWaiting(out)
	return out, nil
}

func sortWaiting(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

func (m *memRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.Status != from {
		return nil, ErrEntryNotFound
	}
	e.Status = to
	e.UpdatedAt = time.Now()
	cp := *e
	return &cp, nil
}

// recordingLocker runs critical sections directly and remembers the keys.
type recordingLocker struct {
	mu   sync.Mutex
	keys [][]string
}

func (l *recordingLocker) WithLock(ctx context.Context, keys []string, fn func(context.Context) error) error {
	l.mu.Lock()
	l.keys = append(l.keys, keys)
	l.mu.Unlock()
	return fn(ctx)
}

// heldLocker simulates a concurrent holder of every key.
type heldLocker struct{}

func (heldLocker) WithLock(context.Context, []string, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func newTestPrioritizer(repo Repository) *Prioritizer {
	return NewPrioritizer(repo, &recordingLocker{}, 30*24*time.Hour, zerolog.Nop())
}

func at(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func timePtr(t time.Time) *time.Time { return &t }

func enqueue(t *testing.T, p *Prioritizer, e Entry) *Entry {
	t.Helper()
	saved, err := p.Enqueue(context.Background(), e)
	require.NoError(t, err)
	return saved
}

func TestEnqueue(t *testing.T) {
	p := newTestPrioritizer(newMemRepo())

	saved := enqueue(t, p, Entry{
		PatientID: uuid.New(),
		Priority:  2,
		Reason:    "follow-up",
	})

	assert.NotEqual(t, uuid.Nil, saved.ID)
	assert.Equal(t, StatusWaiting, saved.Status)
}

func TestEnqueueHoldsPatientLock(t *testing.T) {
	locker := &recordingLocker{}
	p := NewPrioritizer(newMemRepo(), locker, 30*24*time.Hour, zerolog.Nop())
	patientID := uuid.New()

	enqueue(t, p, Entry{PatientID: patientID})

	// The duplicate check and the insert ran under the patient's lock, so a
	// concurrent enqueue for the same patient cannot slip past the check.
	require.Len(t, locker.keys, 1)
	assert.Equal(t, []string{redisclient.WaitlistPatientKey(patientID)}, locker.keys[0])
}

func TestEnqueuePatientBusy(t *testing.T) {
	p := NewPrioritizer(newMemRepo(), heldLocker{}, 30*24*time.Hour, zerolog.Nop())

	_, err := p.Enqueue(context.Background(), Entry{PatientID: uuid.New()})
	assert.ErrorIs(t, err, ErrPatientBusy)
}

func TestEnqueueInvalidWindow(t *testing.T) {
	p := newTestPrioritizer(newMemRepo())

	_, err := p.Enqueue(context.Background(), Entry{
		PatientID:      uuid.New(),
		PreferredStart: timePtr(at(2024, 6, 1, 11, 0)),
		PreferredEnd:   timePtr(at(2024, 6, 1, 10, 0)),
	})
	assert.ErrorIs(t, err, ErrInvalidPreference)
}

func TestEnqueueDuplicate(t *testing.T) {
	p := newTestPrioritizer(newMemRepo())
	patientID := uuid.New()

	t.Run("same open preferences", func(t *testing.T) {
		enqueue(t, p, Entry{PatientID: patientID})

		_, err := p.Enqueue(context.Background(), Entry{PatientID: patientID})
		assert.ErrorIs(t, err, ErrDuplicateWaitlist)
	})

	t.Run("different day allowed", func(t *testing.T) {
		patient := uuid.New()
		enqueue(t, p, Entry{
			PatientID:    patient,
			PreferredDay: timePtr(at(2024, 6, 1, 0, 0)),
		})

		_, err := p.Enqueue(context.Background(), Entry{
			PatientID:    patient,
			PreferredDay: timePtr(at(2024, 6, 2, 0, 0)),
		})
		assert.NoError(t, err)
	})

	t.Run("disjoint windows allowed", func(t *testing.T) {
		patient := uuid.New()
		enqueue(t, p, Entry{
			PatientID:      patient,
			PreferredDay:   timePtr(at(2024, 6, 3, 0, 0)),
			PreferredStart: timePtr(at(2024, 6, 3, 9, 0)),
			PreferredEnd:   timePtr(at(2024, 6, 3, 11, 0)),
		})

		_, err := p.Enqueue(context.Background(), Entry{
			PatientID:      patient,
			PreferredDay:   timePtr(at(2024, 6, 3, 0, 0)),
			PreferredStart: timePtr(at(2024, 6, 3, 14, 0)),
			PreferredEnd:   timePtr(at(2024, 6, 3, 16, 0)),
		})
		assert.NoError(t, err)
	})

	t.Run("overlapping windows rejected", func(t *testing.T) {
		patient := uuid.New()
		enqueue(t, p, Entry{
			PatientID:      patient,
			PreferredStart: timePtr(at(2024, 6, 4, 9, 0)),
			PreferredEnd:   timePtr(at(2024, 6, 4, 12, 0)),
		})

		_, err := p.Enqueue(context.Background(), Entry{
			PatientID:      patient,
			PreferredStart: timePtr(at(2024, 6, 4, 11, 0)),
			PreferredEnd:   timePtr(at(2024, 6, 4, 14, 0)),
		})
		assert.ErrorIs(t, err, ErrDuplicateWaitlist)
	})

	t.Run("resolved entries do not block", func(t *testing.T) {
		patient := uuid.New()
		first := enqueue(t, p, Entry{PatientID: patient})
		require.NoError(t, p.Dequeue(context.Background(), first.ID, ResolutionCancelled))

		_, err := p.Enqueue(context.Background(), Entry{PatientID: patient})
		assert.NoError(t, err)
	})
}

func TestDequeueIdempotent(t *testing.T) {
	p := newTestPrioritizer(newMemRepo())

	saved := enqueue(t, p, Entry{PatientID: uuid.New()})

	require.NoError(t, p.Dequeue(context.Background(), saved.ID, ResolutionScheduled))

	// Second resolution of any kind is a no-op, not an error.
	assert.NoError(t, p.Dequeue(context.Background(), saved.ID, ResolutionScheduled))
	assert.NoError(t, p.Dequeue(context.Background(), saved.ID, ResolutionCancelled))

	got, err := p.repo.GetByID(context.Background(), saved.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status)
}

func TestDequeueValidation(t *testing.T) {
	p := newTestPrioritizer(newMemRepo())

	err := p.Dequeue(context.Background(), uuid.New(), Resolution("bogus"))
	assert.ErrorIs(t, err, ErrInvalidResolution)

	err = p.Dequeue(context.Background(), uuid.New(), ResolutionCancelled)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestNextCandidatesOrdering(t *testing.T) {
	repo := newMemRepo()
	p := newTestPrioritizer(repo)

	// Insert directly to control created_at.
	base := at(2024, 5, 1, 12, 0)
	low := Entry{ID: uuid.New(), PatientID: uuid.New(), Priority: 1, Status: StatusWaiting, CreatedAt: base}
	highLate := Entry{ID: uuid.New(), PatientID: uuid.New(), Priority: 3, Status: StatusWaiting, CreatedAt: base.Add(time.Hour)}
	highEarly := Entry{ID: uuid.New(), PatientID: uuid.New(), Priority: 3, Status: StatusWaiting, CreatedAt: base.Add(time.Minute)}
	mid := Entry{ID: uuid.New(), PatientID: uuid.New(), Priority: 2, Status: StatusWaiting, CreatedAt: base}

	for _, e := range []Entry{low, highLate, highEarly, mid} {
		cp := e
		require.NoError(t, repo.Insert(context.Background(), &cp))
	}

	got, err := p.NextCandidates(context.Background(), FreedSlot{
		Start: at(2024, 6, 1, 10, 0),
		End:   at(2024, 6, 1, 10, 30),
	})
	require.NoError(t, err)
	require.Len(t, got, 4)

	// Priority descending, then created_at ascending.
	assert.Equal(t, highEarly.ID, got[0].ID)
	assert.Equal(t, highLate.ID, got[1].ID)
	assert.Equal(t, mid.ID, got[2].ID)
	assert.Equal(t, low.ID, got[3].ID)
}

func TestNextCandidatesCompatibility(t *testing.T) {
	doctorID := uuid.New()
	otherDoctor := uuid.New()
	slot := FreedSlot{
		Start:    at(2024, 6, 1, 10, 0),
		End:      at(2024, 6, 1, 10, 30),
		DoctorID: &doctorID,
	}

	tests := []struct {
		name    string
		entry   Entry
		matches bool
	}{
		{"no preferences", Entry{}, true},
		{"matching day", Entry{PreferredDay: timePtr(at(2024, 6, 1, 0, 0))}, true},
		{"wrong day", Entry{PreferredDay: timePtr(at(2024, 6, 2, 0, 0))}, false},
		{"window contains slot", Entry{
			PreferredStart: timePtr(at(2024, 6, 1, 9, 0)),
			PreferredEnd:   timePtr(at(2024, 6, 1, 12, 0)),
		}, true},
		{"window too early", Entry{
			PreferredStart: timePtr(at(2024, 6, 1, 8, 0)),
			PreferredEnd:   timePtr(at(2024, 6, 1, 10, 15)),
		}, false},
		{"matching doctor", Entry{PreferredDoctorID: &doctorID}, true},
		{"wrong doctor", Entry{PreferredDoctorID: &otherDoctor}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			p := newTestPrioritizer(repo)

			tt.entry.ID = uuid.New()
			tt.entry.PatientID = uuid.New()
			tt.entry.Status = StatusWaiting
			require.NoError(t, repo.Insert(context.Background(), &tt.entry))

			got, err := p.NextCandidates(context.Background(), slot)
			require.NoError(t, err)
			if tt.matches {
				assert.Len(t, got, 1)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestNextCandidatesInvalidSlot(t *testing.T) {
	p := newTestPrioritizer(newMemRepo())

	_, err := p.NextCandidates(context.Background(), FreedSlot{
		Start: at(2024, 6, 1, 10, 0),
		End:   at(2024, 6, 1, 10, 0),
	})
	assert.Error(t, err)
}

func TestExpireStale(t *testing.T) {
	repo := newMemRepo()
	p := newTestPrioritizer(repo)
	now := at(2024, 6, 10, 12, 0)

	pastDay := Entry{
		ID: uuid.New(), PatientID: uuid.New(), Status: StatusWaiting,
		PreferredDay: timePtr(at(2024, 6, 1, 0, 0)),
		CreatedAt:    now.Add(-24 * time.Hour),
	}
	tooOld := Entry{
		ID: uuid.New(), PatientID: uuid.New(), Status: StatusWaiting,
		CreatedAt: now.Add(-60 * 24 * time.Hour),
	}
	fresh := Entry{
		ID: uuid.New(), PatientID: uuid.New(), Status: StatusWaiting,
		PreferredDay: timePtr(at(2024, 6, 20, 0, 0)),
		CreatedAt:    now.Add(-time.Hour),
	}

	for _, e := range []Entry{pastDay, tooOld, fresh} {
		cp := e
		require.NoError(t, repo.Insert(context.Background(), &cp))
	}

	expired, err := p.ExpireStale(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, expired)

	got, err := repo.GetByID(context.Background(), pastDay.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)

	got, err = repo.GetByID(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, got.Status)
}
