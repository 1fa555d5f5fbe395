package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"coursestream-backend/internal/models"
	"coursestream-backend/internal/queue"
	"coursestream-backend/internal/repository"
	"coursestream-backend/internal/services"
)

// Shared helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, queue.ErrJobNotFound):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Resource not found", r))
	case errors.Is(err, services.ErrEntitlementDenied):
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "No access to this course", r))
	case errors.Is(err, services.ErrTokenMalformed):
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Malformed token", r))
	case errors.Is(err, queue.ErrJobActive):
		writeJSON(w, http.StatusConflict, errorResp("CONFLICT", "Job is already running", r))
	default:
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Something went wrong", r))
	}
}
