package handlers

import (
	"net/http"
	"strings"

	"github.com/zatekoja/patientflow/internal/application/services"
	"github.com/zatekoja/patientflow/internal/domain/entities"
	apperrors "github.com/zatekoja/patientflow/pkg/errors"
)

// QueueHandler handles clinic queue requests
type QueueHandler struct {
	queue *services.QueueService
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(queue *services.QueueService) *QueueHandler {
	return &QueueHandler{queue: queue}
}

type enqueueRequest struct {
	PatientID string `json:"patient_id"`
	ExamType  string `json:"exam_type"`
	Gender    string `json:"gender"`
	Priority  int    `json:"priority"`
	Notes     string `json:"notes"`
}

type patientRequest struct {
	PatientID string `json:"patient_id"`
}

// ListClinics handles GET /api/clinics
func (h *QueueHandler) ListClinics(w http.ResponseWriter, r *http.Request) {
	status := entities.ClinicStatus(r.URL.Query().Get("status"))
	clinics, err := h.queue.ListClinics(r.Context(), status)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, clinics)
}

// Enqueue handles POST /api/clinics/{id}/queue
func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	clinicID := r.PathValue("id")
	var req enqueueRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	meta := services.EnqueueMeta{ExamType: req.ExamType, Priority: req.Priority, Notes: req.Notes}
	if strings.TrimSpace(req.Gender) != "" {
		gender, err := entities.ParseGender(req.Gender)
		if err != nil {
			respondWithReason(w, http.StatusBadRequest, err.Error(), apperrors.ReasonInvalidInput)
			return
		}
		meta.Gender = gender
	}

	result, err := h.queue.Enqueue(r.Context(), clinicID, strings.TrimSpace(req.PatientID), meta)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Existing {
		status = http.StatusOK
	}
	respondWithJSON(w, status, result)
}

// CallNext handles POST /api/clinics/{id}/call-next
func (h *QueueHandler) CallNext(w http.ResponseWriter, r *http.Request) {
	result, err := h.queue.CallNext(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// CheckIn handles POST /api/clinics/{id}/check-in
func (h *QueueHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ticket, err := h.queue.CheckIn(r.Context(), r.PathValue("id"), req.PatientID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ticket)
}

// Complete handles POST /api/clinics/{id}/complete
func (h *QueueHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ticket, err := h.queue.Complete(r.Context(), r.PathValue("id"), req.PatientID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ticket)
}

// ExpireNoShows handles POST /api/clinics/{id}/expire
func (h *QueueHandler) ExpireNoShows(w http.ResponseWriter, r *http.Request) {
	n, err := h.queue.ExpireNoShows(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{"expired": n})
}

// GetQueue handles GET /api/clinics/{id}/queue
func (h *QueueHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	snap, err := h.queue.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, snap)
}
