package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/zatekoja/patientflow/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/patientflow/pkg/errors"
)

// envelope is the body of every JSON response
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: payload})
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithReason(w, statusCode, message, "")
}

func respondWithReason(w http.ResponseWriter, statusCode int, message, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(envelope{Error: message, Reason: reason})
}

// respondWithAppError maps an error from the services to an HTTP status.
// Store failures are logged and reported generically.
func respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		observability.LoggerFromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("unhandled error")
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	switch appErr.Type {
	case apperrors.ErrorTypeNotFound:
		respondWithReason(w, http.StatusNotFound, appErr.Message, appErr.Reason)
	case apperrors.ErrorTypeValidation:
		respondWithReason(w, http.StatusBadRequest, appErr.Message, appErr.Reason)
	case apperrors.ErrorTypeConflict:
		respondWithReason(w, http.StatusConflict, appErr.Message, appErr.Reason)
	case apperrors.ErrorTypeUnauthorized:
		respondWithReason(w, http.StatusUnauthorized, appErr.Message, appErr.Reason)
	case apperrors.ErrorTypeExternal:
		respondWithReason(w, http.StatusBadGateway, "upstream service unavailable", appErr.Reason)
	default:
		observability.LoggerFromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		respondWithReason(w, http.StatusInternalServerError, "internal server error", appErr.Reason)
	}
}

// decodeJSON reads a JSON request body into dst
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithReason(w, http.StatusBadRequest, "invalid request body", apperrors.ReasonInvalidInput)
		return false
	}
	return true
}
