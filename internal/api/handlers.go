package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/careloop/clinic-scheduling/internal/directory"
	"github.com/careloop/clinic-scheduling/internal/scheduling"
	"github.com/careloop/clinic-scheduling/internal/waitlist"
)

var validate = validator.New()

// SchedulerService is the slice of the ledger the HTTP layer needs.
type SchedulerService interface {
	Book(ctx context.Context, req scheduling.BookRequest) (*scheduling.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, ch scheduling.Changes) (*scheduling.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID) ([]waitlist.Entry, error)
	Transition(ctx context.Context, id uuid.UUID, to scheduling.AppointmentStatus) (*scheduling.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	ListForDay(ctx context.Context, day time.Time) ([]scheduling.Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]scheduling.Appointment, error)
	CheckConflicts(ctx context.Context, c scheduling.Candidate) ([]scheduling.ConflictReport, error)
}

type SlotRecommender interface {
	Suggest(ctx context.Context, req scheduling.SuggestRequest) ([]scheduling.Suggestion, error)
}

type WaitlistService interface {
	Enqueue(ctx context.Context, e waitlist.Entry) (*waitlist.Entry, error)
	Dequeue(ctx context.Context, id uuid.UUID, res waitlist.Resolution) error
	NextCandidates(ctx context.Context, slot waitlist.FreedSlot) ([]waitlist.Entry, error)
}

func bookAppointmentHandler(svc SchedulerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		patientID, _ := uuid.Parse(req.PatientID)
		doctorID, err := parseOptionalUUID(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		roomID, err := parseOptionalUUID(req.RoomID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_room_id", "room_id must be a valid UUID")
			return
		}

		appt, err := svc.Book(r.Context(), scheduling.BookRequest{
			PatientID:   patientID,
			DoctorID:    doctorID,
			RoomID:      roomID,
			StartAt:     req.StartAt,
			EndAt:       req.EndAt,
			AIOptimized: req.AIOptimized,
			Confidence:  req.Confidence,
		})
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc SchedulerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc SchedulerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if patientStr := r.URL.Query().Get("patient_id"); patientStr != "" {
			patientID, err := uuid.Parse(patientStr)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

			appts, err := svc.ListByPatient(r.Context(), patientID, limit, offset)
			if err != nil {
				handleSchedulingError(w, err)
				return
			}
			writeAppointmentList(w, appts)
			return
		}

		dateStr := r.URL.Query().Get("date")
		if dateStr == "" {
			writeError(w, http.StatusBadRequest, "missing_filter", "date or patient_id query parameter is required")
			return
		}
		day, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		appts, err := svc.ListForDay(r.Context(), day)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeAppointmentList(w, appts)
	}
}

func rescheduleAppointmentHandler(svc SchedulerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req RescheduleAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		doctorID, err := parseOptionalUUID(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		roomID, err := parseOptionalUUID(req.RoomID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_room_id", "room_id must be a valid UUID")
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, scheduling.Changes{
			StartAt:  req.StartAt,
			EndAt:    req.EndAt,
			DoctorID: doctorID,
			RoomID:   roomID,
		})
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc SchedulerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		candidates, err := svc.Cancel(r.Context(), id)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := CancelResponse{
			Status:             string(scheduling.StatusCancelled),
			WaitlistCandidates: make([]WaitlistEntryResponse, 0, len(candidates)),
		}
		for _, c := range candidates {
			resp.WaitlistCandidates = append(resp.WaitlistCandidates, toWaitlistResponse(c))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func transitionAppointmentHandler(svc SchedulerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		appt, err := svc.Transition(r.Context(), id, scheduling.AppointmentStatus(req.Status))
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func checkConflictsHandler(svc SchedulerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConflictCheckRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		cand := scheduling.Candidate{Start: req.StartAt, End: req.EndAt}
		var err error
		if cand.DoctorID, err = parseOptionalUUID(req.DoctorID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		if cand.RoomID, err = parseOptionalUUID(req.RoomID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_room_id", "room_id must be a valid UUID")
			return
		}
		if cand.PatientID, err = parseOptionalUUID(req.PatientID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		if cand.ExcludeID, err = parseOptionalUUID(req.ExcludeID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_exclude_id", "exclude_appointment_id must be a valid UUID")
			return
		}

		reports, err := svc.CheckConflicts(r.Context(), cand)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"conflicts": toConflictResponses(reports),
		})
	}
}

func suggestSlotsHandler(rec SlotRecommender) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		day, err := time.Parse("2006-01-02", q.Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		durationMin, err := strconv.Atoi(q.Get("duration_minutes"))
		if err != nil || durationMin <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_duration", "duration_minutes must be a positive integer")
			return
		}

		req := scheduling.SuggestRequest{
			Day:      day,
			Duration: time.Duration(durationMin) * time.Minute,
			RoomType: q.Get("room_type"),
		}
		if docStr := q.Get("doctor_id"); docStr != "" {
			docID, err := uuid.Parse(docStr)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			req.DoctorID = &docID
		}

		suggestions, err := rec.Suggest(r.Context(), req)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		out := make([]SuggestionResponse, 0, len(suggestions))
		for _, s := range suggestions {
			out = append(out, SuggestionResponse{
				StartAt:           s.StartAt,
				EndAt:             s.EndAt,
				Confidence:        s.Confidence,
				SuggestedDoctorID: s.SuggestedDoctorID,
				SuggestedRoomID:   s.SuggestedRoomID,
			})
		}

		writeJSON(w, http.StatusOK, map[string]any{"suggestions": out})
	}
}

func enqueueWaitlistHandler(svc WaitlistService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EnqueueWaitlistRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		patientID, _ := uuid.Parse(req.PatientID)
		doctorID, err := parseOptionalUUID(req.PreferredDoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "preferred_doctor_id must be a valid UUID")
			return
		}

		entry, err := svc.Enqueue(r.Context(), waitlist.Entry{
			PatientID:         patientID,
			PreferredDay:      req.PreferredDay,
			PreferredStart:    req.PreferredStart,
			PreferredEnd:      req.PreferredEnd,
			PreferredDoctorID: doctorID,
			Priority:          req.Priority,
			Reason:            req.Reason,
		})
		if err != nil {
			handleWaitlistError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toWaitlistResponse(*entry))
	}
}

func dequeueWaitlistHandler(svc WaitlistService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		res := waitlist.Resolution(r.URL.Query().Get("resolution"))
		if res == "" {
			res = waitlist.ResolutionCancelled
		}

		if err := svc.Dequeue(r.Context(), id, res); err != nil {
			handleWaitlistError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func waitlistCandidatesHandler(svc WaitlistService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		start, err := time.Parse(time.RFC3339, q.Get("start_at"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_at", "start_at must be RFC3339")
			return
		}
		end, err := time.Parse(time.RFC3339, q.Get("end_at"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end_at", "end_at must be RFC3339")
			return
		}

		slot := waitlist.FreedSlot{Start: start, End: end}
		if docStr := q.Get("doctor_id"); docStr != "" {
			docID, err := uuid.Parse(docStr)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			slot.DoctorID = &docID
		}

		candidates, err := svc.NextCandidates(r.Context(), slot)
		if err != nil {
			handleWaitlistError(w, err)
			return
		}

		out := make([]WaitlistEntryResponse, 0, len(candidates))
		for _, c := range candidates {
			out = append(out, toWaitlistResponse(c))
		}

		writeJSON(w, http.StatusOK, map[string]any{"candidates": out})
	}
}

// Helpers

func parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseOptionalUUID(s *string) (*uuid.UUID, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func writeAppointmentList(w http.ResponseWriter, appts []scheduling.Appointment) {
	out := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		out = append(out, toAppointmentResponse(&appts[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": out})
}

func handleSchedulingError(w http.ResponseWriter, err error) {
	var conflictErr *scheduling.ConflictError

	switch {
	case errors.As(err, &conflictErr):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:     "scheduling_conflict",
			Details:   "the requested interval collides with existing appointments",
			Conflicts: toConflictResponses(conflictErr.Reports),
		})
	case errors.Is(err, scheduling.ErrInvalidInterval):
		writeError(w, http.StatusBadRequest, "invalid_interval", err.Error())
	case errors.Is(err, scheduling.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, scheduling.ErrResourceBusy):
		writeError(w, http.StatusConflict, "resource_being_booked", "doctor or room is currently being booked, please retry shortly")
	case errors.Is(err, scheduling.ErrDoctorInactive):
		writeError(w, http.StatusConflict, "doctor_inactive", err.Error())
	case errors.Is(err, scheduling.ErrRoomInactive):
		writeError(w, http.StatusConflict, "room_inactive", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, directory.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, directory.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, directory.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room_not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleWaitlistError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, waitlist.ErrDuplicateWaitlist):
		writeError(w, http.StatusConflict, "duplicate_waitlist_entry", err.Error())
	case errors.Is(err, waitlist.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, "waitlist_entry_not_found", err.Error())
	case errors.Is(err, waitlist.ErrInvalidResolution):
		writeError(w, http.StatusBadRequest, "invalid_resolution", err.Error())
	case errors.Is(err, waitlist.ErrInvalidPreference):
		writeError(w, http.StatusBadRequest, "invalid_preference", err.Error())
	case errors.Is(err, waitlist.ErrPatientBusy):
		writeError(w, http.StatusConflict, "waitlist_being_updated", "another waitlist change for this patient is in flight, please retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
