package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/zatekoja/patientflow/internal/application/services"
	"github.com/zatekoja/patientflow/internal/domain/entities"
	apperrors "github.com/zatekoja/patientflow/pkg/errors"
)

// WorkflowHandler handles patient flow requests
type WorkflowHandler struct {
	workflow *services.WorkflowService
	routing  *services.RoutingService
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(workflow *services.WorkflowService, routing *services.RoutingService) *WorkflowHandler {
	return &WorkflowHandler{workflow: workflow, routing: routing}
}

type routeNextRequest struct {
	ClinicID string `json:"clinic_id"`
}

type scanRequest struct {
	Code string `json:"code"`
}

type ticketActionRequest struct {
	PatientID string `json:"patient_id"`
	Pin       string `json:"pin"`
}

type emergencyRequest struct {
	Code string `json:"code"`
}

func parseGender(w http.ResponseWriter, value string) (entities.Gender, bool) {
	gender, err := entities.ParseGender(value)
	if err != nil {
		respondWithReason(w, http.StatusBadRequest, err.Error(), apperrors.ReasonInvalidInput)
		return "", false
	}
	return gender, true
}

// EnqueuePatient handles POST /api/patients/enqueue
func (h *WorkflowHandler) EnqueuePatient(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ExamType) == "" {
		respondWithReason(w, http.StatusBadRequest, "exam_type is required", apperrors.ReasonInvalidInput)
		return
	}
	gender, ok := parseGender(w, req.Gender)
	if !ok {
		return
	}

	result, err := h.workflow.EnqueuePatient(r.Context(), strings.TrimSpace(req.PatientID), req.ExamType, gender, req.Priority)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, result)
}

// RouteToNext handles POST /api/patients/{id}/route-next
func (h *WorkflowHandler) RouteToNext(w http.ResponseWriter, r *http.Request) {
	var req routeNextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.workflow.RouteToNextClinic(r.Context(), r.PathValue("id"), req.ClinicID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// ScanCode handles POST /api/patients/{id}/scan
func (h *WorkflowHandler) ScanCode(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.workflow.ProcessClinicCode(r.Context(), req.Code, r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// Arrive handles POST /api/tickets/{id}/arrive
func (h *WorkflowHandler) Arrive(w http.ResponseWriter, r *http.Request) {
	var req ticketActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ticket, err := h.workflow.ArriveAtClinic(r.Context(), r.PathValue("id"), req.PatientID, req.Pin)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ticket)
}

// Depart handles POST /api/tickets/{id}/depart
func (h *WorkflowHandler) Depart(w http.ResponseWriter, r *http.Request) {
	var req ticketActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.workflow.DepartClinic(r.Context(), r.PathValue("id"), req.PatientID, req.Pin)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// Emergency handles POST /api/patients/{id}/emergency
func (h *WorkflowHandler) Emergency(w http.ResponseWriter, r *http.Request) {
	var req emergencyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.workflow.HandleEmergency(r.Context(), r.PathValue("id"), req.Code)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// PatientStatus handles GET /api/patients/{id}/status
func (h *WorkflowHandler) PatientStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.workflow.PatientStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// GetExamRoute handles GET /api/routes/{exam}?gender=
func (h *WorkflowHandler) GetExamRoute(w http.ResponseWriter, r *http.Request) {
	gender, ok := parseGender(w, r.URL.Query().Get("gender"))
	if !ok {
		return
	}
	entries, err := h.routing.GetExamRoute(r.Context(), r.PathValue("exam"), gender)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, entries)
}

// PickClinic handles GET /api/routes/{exam}/steps/{step}/clinic?gender=
func (h *WorkflowHandler) PickClinic(w http.ResponseWriter, r *http.Request) {
	gender, ok := parseGender(w, r.URL.Query().Get("gender"))
	if !ok {
		return
	}
	step, err := strconv.Atoi(r.PathValue("step"))
	if err != nil || step < 1 {
		respondWithReason(w, http.StatusBadRequest, "step must be a positive integer", apperrors.ReasonInvalidInput)
		return
	}
	clinicID, err := h.routing.PickClinicForNextStep(r.Context(), r.PathValue("exam"), gender, step)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"clinic_id": clinicID, "step_order": step})
}

// RouteStatus handles GET /api/patients/{id}/route
func (h *WorkflowHandler) RouteStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.routing.RouteStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}
