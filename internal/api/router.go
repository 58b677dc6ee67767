package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Scheduler   SchedulerService
	Recommender SlotRecommender
	Waitlist    WaitlistService
	PgPool      *pgxpool.Pool
	Redis       *redis.Client
	Logger      zerolog.Logger
	Env         string
	Version     string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Appointment endpoints
	r.Post("/appointments", bookAppointmentHandler(cfg.Scheduler))
	r.Get("/appointments", listAppointmentsHandler(cfg.Scheduler))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Scheduler))
	r.Patch("/appointments/{id}", rescheduleAppointmentHandler(cfg.Scheduler))
	r.Delete("/appointments/{id}", cancelAppointmentHandler(cfg.Scheduler))
	r.Post("/appointments/{id}/transition", transitionAppointmentHandler(cfg.Scheduler))
	r.Post("/appointments/conflicts", checkConflictsHandler(cfg.Scheduler))

	// Slot recommendation
	r.Get("/slots/suggestions", suggestSlotsHandler(cfg.Recommender))

	// Waitlist endpoints
	r.Post("/waitlist", enqueueWaitlistHandler(cfg.Waitlist))
	r.Delete("/waitlist/{id}", dequeueWaitlistHandler(cfg.Waitlist))
	r.Get("/waitlist/candidates", waitlistCandidatesHandler(cfg.Waitlist))

	return r
}
