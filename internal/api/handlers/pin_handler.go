package handlers

import (
	"net/http"

	"github.com/zatekoja/patientflow/internal/application/services"
)

// PinHandler handles clinic PIN requests
type PinHandler struct {
	pins *services.PinService
}

// NewPinHandler creates a new PIN handler
func NewPinHandler(pins *services.PinService) *PinHandler {
	return &PinHandler{pins: pins}
}

type verifyPinRequest struct {
	Pin  string `json:"pin"`
	Date string `json:"date"`
}

// IssuePin handles POST /api/clinics/{id}/pin
func (h *PinHandler) IssuePin(w http.ResponseWriter, r *http.Request) {
	pin, err := h.pins.IssuePin(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, pin)
}

// GetPin handles GET /api/clinics/{id}/pin
func (h *PinHandler) GetPin(w http.ResponseWriter, r *http.Request) {
	pin, err := h.pins.CurrentPin(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, pin)
}

// VerifyPin handles POST /api/clinics/{id}/pin/verify
func (h *PinHandler) VerifyPin(w http.ResponseWriter, r *http.Request) {
	var req verifyPinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.pins.VerifyPin(r.Context(), r.PathValue("id"), req.Pin, req.Date); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"valid": true})
}
