package waitlist

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEntryNotFound     = errors.New("waitlist entry not found")
	ErrDuplicateWaitlist = errors.New("patient already has a waiting entry with overlapping preferences")
	ErrInvalidResolution = errors.New("invalid waitlist resolution")
	ErrInvalidPreference = errors.New("preferred window end must be after start")
	ErrPatientBusy       = errors.New("patient's waitlist is being updated, please retry")
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

type Entry struct {
	ID                uuid.UUID
	PatientID         uuid.UUID
	PreferredDay      *time.Time // UTC calendar day
	PreferredStart    *time.Time // window start on the preferred day
	PreferredEnd      *time.Time
	PreferredDoctorID *uuid.UUID
	Priority          int // higher = more urgent
	Reason            string
	Status            Status
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// FreedSlot describes an interval that just became available, typically after
// a cancellation.
type FreedSlot struct {
	Start    time.Time
	End      time.Time
	DoctorID *uuid.UUID
}

// CompatibleWith reports whether the entry could take the freed slot. A
// dimension with no preference always matches.
func (e Entry) CompatibleWith(slot FreedSlot) bool {
	if e.PreferredDay != nil {
		if !sameDay(*e.PreferredDay, slot.Start) {
			return false
		}
	}
	if e.PreferredStart != nil && e.PreferredEnd != nil {
		// The freed interval must sit inside the preferred window.
		if slot.Start.Before(minuteOfDayOn(slot.Start, *e.PreferredStart)) ||
			slot.End.After(minuteOfDayOn(slot.Start, *e.PreferredEnd)) {
			return false
		}
	}
	if e.PreferredDoctorID != nil {
		if slot.DoctorID == nil || *slot.DoctorID != *e.PreferredDoctorID {
			return false
		}
	}
	return true
}

// overlapsPreferences reports whether two entries ask for the same thing
// closely enough to count as duplicates: same day preference (or both open)
// and overlapping (or absent) time windows.
func (e Entry) overlapsPreferences(other Entry) bool {
	if e.PreferredDay != nil && other.PreferredDay != nil &&
		!sameDay(*e.PreferredDay, *other.PreferredDay) {
		return false
	}
	if e.PreferredStart != nil && e.PreferredEnd != nil &&
		other.PreferredStart != nil && other.PreferredEnd != nil {
		a1, a2 := minuteOf(*e.PreferredStart), minuteOf(*e.PreferredEnd)
		b1, b2 := minuteOf(*other.PreferredStart), minuteOf(*other.PreferredEnd)
		if a2 <= b1 || b2 <= a1 {
			return false
		}
	}
	return true
}

func sameDay(a, b time.Time) bool {
	au, bu := a.UTC(), b.UTC()
	return au.Year() == bu.Year() && au.Month() == bu.Month() && au.Day() == bu.Day()
}

func minuteOf(t time.Time) int {
	u := t.UTC()
	return u.Hour()*60 + u.Minute()
}

// minuteOfDayOn projects the time-of-day of ref onto the calendar day of anchor.
func minuteOfDayOn(anchor, ref time.Time) time.Time {
	a := anchor.UTC()
	day := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	return day.Add(time.Duration(minuteOf(ref)) * time.Minute)
}
