package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careloop/clinic-scheduling/internal/directory"
	"github.com/careloop/clinic-scheduling/internal/notify"
	redisclient "github.com/careloop/clinic-scheduling/internal/redis"
	"github.com/careloop/clinic-scheduling/internal/waitlist"
)

// memRepo is an in-memory Repository with the same conditional-update
// semantics as the Postgres implementation.
type memRepo struct {
	mu     sync.Mutex
	appts  map[uuid.UUID]*Appointment
	events []EventLog
}

func newMemRepo() *memRepo {
	return &memRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) ListForDay(_ context.Context, day time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := DayOf(day)

	var out []Appointment
	for _, a := range m.appts {
		if a.Day().Equal(want) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (m *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Appointment
	for _, a := range m.appts {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.After(out[j].StartAt) })

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) Insert(_ context.Context, appt *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	cp := *appt
	m.appts[appt.ID] = &cp
	return nil
}

func (m *memRepo) UpdateTimes(_ context.Context, appt *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.appts[appt.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	cur.DoctorID = appt.DoctorID
	cur.RoomID = appt.RoomID
	cur.StartAt = appt.StartAt
	cur.EndAt = appt.EndAt
	cur.UpdatedAt = time.Now()
	*appt = *cur
	return nil
}

func (m *memRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.appts[id]
	if !ok || cur.Status != from {
		return nil, ErrAppointmentNotFound
	}
	cur.Status = to
	cur.UpdatedAt = time.Now()
	cp := *cur
	return &cp, nil
}

func (m *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memRepo) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.EventType
	}
	return out
}

// fakeDirectory is an in-memory directory collaborator.
type fakeDirectory struct {
	doctors  map[uuid.UUID]directory.Doctor
	rooms    map[uuid.UUID]directory.Room
	patients map[uuid.UUID]directory.Patient
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		doctors:  make(map[uuid.UUID]directory.Doctor),
		rooms:    make(map[uuid.UUID]directory.Room),
		patients: make(map[uuid.UUID]directory.Patient),
	}
}

func (f *fakeDirectory) addDoctor(active bool) uuid.UUID {
	id := uuid.New()
	f.doctors[id] = directory.Doctor{ID: id, Name: "Dr " + id.String()[:8], Active: active}
	return id
}

func (f *fakeDirectory) addRoom(roomType string, active bool) uuid.UUID {
	id := uuid.New()
	f.rooms[id] = directory.Room{ID: id, Name: "Room " + id.String()[:8], RoomType: roomType, Capacity: 1, Active: active}
	return id
}

func (f *fakeDirectory) addPatient() uuid.UUID {
	id := uuid.New()
	f.patients[id] = directory.Patient{ID: id, Name: "Patient " + id.String()[:8]}
	return id
}

func (f *fakeDirectory) GetDoctor(_ context.Context, id uuid.UUID) (*directory.Doctor, error) {
	d, ok := f.doctors[id]
	if !ok {
		return nil, directory.ErrDoctorNotFound
	}
	return &d, nil
}

func (f *fakeDirectory) GetRoom(_ context.Context, id uuid.UUID) (*directory.Room, error) {
	r, ok := f.rooms[id]
	if !ok {
		return nil, directory.ErrRoomNotFound
	}
	return &r, nil
}

func (f *fakeDirectory) GetPatient(_ context.Context, id uuid.UUID) (*directory.Patient, error) {
	p, ok := f.patients[id]
	if !ok {
		return nil, directory.ErrPatientNotFound
	}
	return &p, nil
}

func (f *fakeDirectory) ListActiveDoctors(_ context.Context) ([]directory.Doctor, error) {
	var out []directory.Doctor
	for _, d := range f.doctors {
		if d.Active {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (f *fakeDirectory) ListActiveRooms(_ context.Context, roomType string) ([]directory.Room, error) {
	var out []directory.Room
	for _, r := range f.rooms {
		if r.Active && (roomType == "" || r.RoomType == roomType) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// noopLocker runs the critical section without locking.
type noopLocker struct{}

func (noopLocker) WithLock(ctx context.Context, _ []string, fn func(context.Context) error) error {
	return fn(ctx)
}

// busyLocker simulates a concurrent holder of every key.
type busyLocker struct{}

func (busyLocker) WithLock(context.Context, []string, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

// captureEmitter records emitted events.
type captureEmitter struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *captureEmitter) Emit(_ context.Context, ev notify.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureEmitter) byType(t notify.EventType) []notify.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []notify.Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// stubMatcher returns a fixed candidate list and records lookups.
type stubMatcher struct {
	mu         sync.Mutex
	candidates []waitlist.Entry
	lookups    []waitlist.FreedSlot
}

func (s *stubMatcher) NextCandidates(_ context.Context, slot waitlist.FreedSlot) ([]waitlist.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = append(s.lookups, slot)
	return s.candidates, nil
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// at builds a UTC timestamp on the given day.
func at(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func idPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
