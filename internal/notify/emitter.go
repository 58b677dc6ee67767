package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventConfirmation  EventType = "confirmation"
	EventCancellation  EventType = "cancellation"
	EventConflict      EventType = "conflict"
	EventWaitlistMatch EventType = "waitlist_match"
)

type Event struct {
	Type          EventType `json:"type"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Recipient     uuid.UUID `json:"recipient"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Emitter delivers scheduling events. Fire-and-forget from the scheduling
// core's perspective: delivery failures are the emitter's concern and are
// never retried by the caller.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// LogEmitter writes events to the structured log. Used in dev and as the
// fallback when no pub/sub backend is configured.
type LogEmitter struct {
	logger zerolog.Logger
}

func NewLogEmitter(logger zerolog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Emit(_ context.Context, ev Event) error {
	e.logger.Info().
		Str("event_type", string(ev.Type)).
		Str("appointment_id", ev.AppointmentID.String()).
		Str("recipient", ev.Recipient.String()).
		Time("occurred_at", ev.OccurredAt).
		Msg("scheduling event")
	return nil
}
