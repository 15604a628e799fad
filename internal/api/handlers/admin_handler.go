package handlers

import (
	"net/http"

	"github.com/zatekoja/patientflow/internal/application/services"
)

// AdminHandler handles system settings and manual scheduler runs
type AdminHandler struct {
	settings  *services.SettingsService
	scheduler *services.SchedulerService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(settings *services.SettingsService, scheduler *services.SchedulerService) *AdminHandler {
	return &AdminHandler{settings: settings, scheduler: scheduler}
}

type settingRequest struct {
	Value string `json:"value"`
}

// GetSettings handles GET /api/admin/settings
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	raw, err := h.settings.Raw(r.Context())
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, raw)
}

// UpdateSetting handles PUT /api/admin/settings/{key}
func (h *AdminHandler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	var req settingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cfg, err := h.settings.Update(r.Context(), r.PathValue("key"), req.Value)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, cfg)
}

// Tick handles POST /api/admin/tick
func (h *AdminHandler) Tick(w http.ResponseWriter, r *http.Request) {
	report, err := h.scheduler.Tick(r.Context())
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}
