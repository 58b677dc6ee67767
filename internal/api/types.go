package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/careloop/clinic-scheduling/internal/scheduling"
	"github.com/careloop/clinic-scheduling/internal/waitlist"
)

type BookAppointmentRequest struct {
	PatientID   string    `json:"patient_id" validate:"required,uuid"`
	DoctorID    *string   `json:"doctor_id,omitempty" validate:"omitempty,uuid"`
	RoomID      *string   `json:"room_id,omitempty" validate:"omitempty,uuid"`
	StartAt     time.Time `json:"start_at" validate:"required"`
	EndAt       time.Time `json:"end_at" validate:"required,gtfield=StartAt"`
	AIOptimized bool      `json:"ai_optimized"`
	Confidence  *float64  `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
}

type RescheduleAppointmentRequest struct {
	StartAt  *time.Time `json:"start_at,omitempty"`
	EndAt    *time.Time `json:"end_at,omitempty"`
	DoctorID *string    `json:"doctor_id,omitempty" validate:"omitempty,uuid"`
	RoomID   *string    `json:"room_id,omitempty" validate:"omitempty,uuid"`
}

type TransitionRequest struct {
	Status string `json:"status" validate:"required,oneof=confirmed in_progress completed cancelled no_show"`
}

type ConflictCheckRequest struct {
	StartAt   time.Time `json:"start_at" validate:"required"`
	EndAt     time.Time `json:"end_at" validate:"required"`
	DoctorID  *string   `json:"doctor_id,omitempty" validate:"omitempty,uuid"`
	RoomID    *string   `json:"room_id,omitempty" validate:"omitempty,uuid"`
	PatientID *string   `json:"patient_id,omitempty" validate:"omitempty,uuid"`
	ExcludeID *string   `json:"exclude_appointment_id,omitempty" validate:"omitempty,uuid"`
}

type EnqueueWaitlistRequest struct {
	PatientID         string     `json:"patient_id" validate:"required,uuid"`
	PreferredDay      *time.Time `json:"preferred_day,omitempty"`
	PreferredStart    *time.Time `json:"preferred_start,omitempty"`
	PreferredEnd      *time.Time `json:"preferred_end,omitempty"`
	PreferredDoctorID *string    `json:"preferred_doctor_id,omitempty" validate:"omitempty,uuid"`
	Priority          int        `json:"priority" validate:"gte=0"`
	Reason            string     `json:"reason"`
}

type AppointmentResponse struct {
	ID          uuid.UUID  `json:"id"`
	PatientID   uuid.UUID  `json:"patient_id"`
	DoctorID    *uuid.UUID `json:"doctor_id,omitempty"`
	RoomID      *uuid.UUID `json:"room_id,omitempty"`
	StartAt     time.Time  `json:"start_at"`
	EndAt       time.Time  `json:"end_at"`
	Status      string     `json:"status"`
	AIOptimized bool       `json:"ai_optimized"`
	Confidence  *float64   `json:"confidence,omitempty"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		PatientID:   a.PatientID,
		DoctorID:    a.DoctorID,
		RoomID:      a.RoomID,
		StartAt:     a.StartAt,
		EndAt:       a.EndAt,
		Status:      string(a.Status),
		AIOptimized: a.AIOptimized,
		Confidence:  a.Confidence,
	}
}

type ConflictReportResponse struct {
	Type          string    `json:"type"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	OverlapStart  time.Time `json:"overlap_start"`
	OverlapEnd    time.Time `json:"overlap_end"`
}

func toConflictResponses(reports []scheduling.ConflictReport) []ConflictReportResponse {
	out := make([]ConflictReportResponse, 0, len(reports))
	for _, r := range reports {
		out = append(out, ConflictReportResponse{
			Type:          string(r.Type),
			AppointmentID: r.AppointmentID,
			OverlapStart:  r.OverlapStart,
			OverlapEnd:    r.OverlapEnd,
		})
	}
	return out
}

type SuggestionResponse struct {
	StartAt           time.Time  `json:"start_at"`
	EndAt             time.Time  `json:"end_at"`
	Confidence        float64    `json:"confidence"`
	SuggestedDoctorID *uuid.UUID `json:"suggested_doctor_id,omitempty"`
	SuggestedRoomID   *uuid.UUID `json:"suggested_room_id,omitempty"`
}

type WaitlistEntryResponse struct {
	ID                uuid.UUID  `json:"id"`
	PatientID         uuid.UUID  `json:"patient_id"`
	PreferredDay      *time.Time `json:"preferred_day,omitempty"`
	PreferredStart    *time.Time `json:"preferred_start,omitempty"`
	PreferredEnd      *time.Time `json:"preferred_end,omitempty"`
	PreferredDoctorID *uuid.UUID `json:"preferred_doctor_id,omitempty"`
	Priority          int        `json:"priority"`
	Reason            string     `json:"reason,omitempty"`
	Status            string     `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
}

func toWaitlistResponse(e waitlist.Entry) WaitlistEntryResponse {
	return WaitlistEntryResponse{
		ID:                e.ID,
		PatientID:         e.PatientID,
		PreferredDay:      e.PreferredDay,
		PreferredStart:    e.PreferredStart,
		PreferredEnd:      e.PreferredEnd,
		PreferredDoctorID: e.PreferredDoctorID,
		Priority:          e.Priority,
		Reason:            e.Reason,
		Status:            string(e.Status),
		CreatedAt:         e.CreatedAt,
	}
}

type CancelResponse struct {
	Status             string                  `json:"status"`
	WaitlistCandidates []WaitlistEntryResponse `json:"waitlist_candidates"`
}

type ErrorResponse struct {
	Error     string                   `json:"error"`
	Details   string                   `json:"details,omitempty"`
	Conflicts []ConflictReportResponse `json:"conflicts,omitempty"`
}
