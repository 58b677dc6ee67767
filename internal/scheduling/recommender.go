package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/clinic-scheduling/internal/config"
	"github.com/careloop/clinic-scheduling/internal/directory"
)

// Scoring weights. The absolute values are a policy choice; the contract is
// that the resulting ordering is deterministic and monotonic in desirability.
const (
	weightQuietHours = 0.40
	weightDayLoad    = 0.35
	weightContinuity = 0.25

	// Historically low-wait-time hours; starts near these score higher.
	quietMorningHour   = 10
	quietAfternoonHour = 14
)

type SuggestRequest struct {
	Day      time.Time
	Duration time.Duration
	DoctorID *uuid.UUID
	RoomType string
}

// Recommender proposes ranked candidate start times for a day. Read-only
// against the ledger; callers that navigate away simply drop the result.
type Recommender struct {
	repo Repository
	dir  directory.Directory
	cfg  config.Config
}

func NewRecommender(repo Repository, dir directory.Directory, cfg config.Config) *Recommender {
	return &Recommender{repo: repo, dir: dir, cfg: cfg}
}

type interval struct {
	start, end time.Time
}

func (iv interval) overlaps(start, end time.Time) bool {
	return start.Before(iv.end) && iv.start.Before(end)
}

// Suggest returns at most cfg.MaxSuggestions candidates, best first. A fully
// booked day yields an empty slice, not an error.
func (r *Recommender) Suggest(ctx context.Context, req SuggestRequest) ([]Suggestion, error) {
	if req.Duration <= 0 {
		return nil, fmt.Errorf("duration %s: %w", req.Duration, ErrInvalidInterval)
	}

	doctors, err := r.eligibleDoctors(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	rooms, err := r.dir.ListActiveRooms(ctx, req.RoomType)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	if len(doctors) == 0 || len(rooms) == 0 {
		return nil, nil
	}

	appts, err := r.repo.ListForDay(ctx, DayOf(req.Day))
	if err != nil {
		return nil, fmt.Errorf("list appointments for day: %w", err)
	}

	busyByDoctor := make(map[uuid.UUID][]interval)
	busyByRoom := make(map[uuid.UUID][]interval)
	var booked []interval
	for _, a := range appts {
		if a.Status == StatusCancelled {
			continue
		}
		iv := interval{start: a.StartAt, end: a.EndAt}
		booked = append(booked, iv)
		if a.DoctorID != nil {
			busyByDoctor[*a.DoctorID] = append(busyByDoctor[*a.DoctorID], iv)
		}
		if a.RoomID != nil {
			busyByRoom[*a.RoomID] = append(busyByRoom[*a.RoomID], iv)
		}
	}

	day := DayOf(req.Day)
	open := day.Add(time.Duration(r.cfg.OpeningHour) * time.Hour)
	close := day.Add(time.Duration(r.cfg.ClosingHour) * time.Hour)

	var suggestions []Suggestion
	for start := open; !start.Add(req.Duration).After(close); start = start.Add(r.cfg.SlotGranularity) {
		end := start.Add(req.Duration)

		doctor := pickLeastBooked(doctors, busyByDoctor, start, end)
		room := pickLeastBookedRoom(rooms, busyByRoom, start, end)
		if doctor == nil || room == nil {
			continue
		}

		score := r.score(start, end, booked,
			len(busyByDoctor[doctor.ID])+len(busyByRoom[room.ID]))

		docID := doctor.ID
		roomID := room.ID
		suggestions = append(suggestions, Suggestion{
			StartAt:           start,
			EndAt:             end,
			Confidence:        score,
			SuggestedDoctorID: &docID,
			SuggestedRoomID:   &roomID,
		})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		return suggestions[i].StartAt.Before(suggestions[j].StartAt)
	})

	if len(suggestions) > r.cfg.MaxSuggestions {
		suggestions = suggestions[:r.cfg.MaxSuggestions]
	}

	return suggestions, nil
}

func (r *Recommender) eligibleDoctors(ctx context.Context, doctorID *uuid.UUID) ([]directory.Doctor, error) {
	doctors, err := r.dir.ListActiveDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	if doctorID == nil {
		return doctors, nil
	}
	for _, d := range doctors {
		if d.ID == *doctorID {
			return []directory.Doctor{d}, nil
		}
	}
	// Requested doctor is inactive or unknown: no availability.
	return nil, nil
}

// pickLeastBooked chooses the free doctor with the fewest bookings that day,
// breaking ties by ID so the result is reproducible.
func pickLeastBooked(doctors []directory.Doctor, busy map[uuid.UUID][]interval, start, end time.Time) *directory.Doctor {
	var best *directory.Doctor
	bestLoad := 0
	for i := range doctors {
		d := &doctors[i]
		if anyOverlap(busy[d.ID], start, end) {
			continue
		}
		load := len(busy[d.ID])
		if best == nil || load < bestLoad || (load == bestLoad && d.ID.String() < best.ID.String()) {
			best = d
			bestLoad = load
		}
	}
	return best
}

func pickLeastBookedRoom(rooms []directory.Room, busy map[uuid.UUID][]interval, start, end time.Time) *directory.Room {
	var best *directory.Room
	bestLoad := 0
	for i := range rooms {
		rm := &rooms[i]
		if anyOverlap(busy[rm.ID], start, end) {
			continue
		}
		load := len(busy[rm.ID])
		if best == nil || load < bestLoad || (load == bestLoad && rm.ID.String() < best.ID.String()) {
			best = rm
			bestLoad = load
		}
	}
	return best
}

func anyOverlap(ivs []interval, start, end time.Time) bool {
	for _, iv := range ivs {
		if iv.overlaps(start, end) {
			return true
		}
	}
	return false
}

func (r *Recommender) score(start, end time.Time, booked []interval, resourceLoad int) float64 {
	day := DayOf(start)

	// Proximity to quiet hours, capped at 4h away.
	startMin := start.Sub(day).Minutes()
	distMorning := abs(startMin - quietMorningHour*60)
	distAfternoon := abs(startMin - quietAfternoonHour*60)
	dist := distMorning
	if distAfternoon < dist {
		dist = distAfternoon
	}
	quiet := 1 - clamp(dist/240, 0, 1)

	// Load balance: fewer appointments within an hour either side scores higher.
	nearby := 0
	windowStart := start.Add(-time.Hour)
	windowEnd := end.Add(time.Hour)
	for _, iv := range booked {
		if iv.overlaps(windowStart, windowEnd) {
			nearby++
		}
	}
	load := 1 - clamp(float64(nearby)/6, 0, 1)

	// Continuity: lightly booked doctor/room pairings score higher.
	continuity := 1 - clamp(float64(resourceLoad)/8, 0, 1)

	return clamp(weightQuietHours*quiet+weightDayLoad*load+weightContinuity*continuity, 0, 1)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func clamp(f, lo, hi float64) float64 {
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}
