// Package response is the minimal JSON response helper used by the query
// shim, the one HTTP-facing exception the core pipeline exposes.
package response

import (
	"encoding/json"
	"net/http"
	"time"

	apperrors "github.com/reciperun/pipeline/internal/pkg/errors"
)

// Error represents an API error response.
type Error struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ErrorResponse wraps an error in the standard format.
type ErrorResponse struct {
	Error Error `json:"error"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// ErrorJSON sends an error response with the given status code.
func ErrorJSON(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	JSON(w, status, ErrorResponse{Error: Error{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}})
}

func BadRequest(w http.ResponseWriter, message string) {
	ErrorJSON(w, http.StatusBadRequest, apperrors.ErrCodeValidation, message, nil)
}

func NotFound(w http.ResponseWriter, resource string) {
	ErrorJSON(w, http.StatusNotFound, apperrors.ErrCodeNotFound, resource+" not found", nil)
}

func InternalError(w http.ResponseWriter) {
	ErrorJSON(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "An internal error occurred", nil)
}

func ServiceUnavailable(w http.ResponseWriter, service string) {
	ErrorJSON(w, http.StatusServiceUnavailable, apperrors.ErrCodeServiceUnavailable, service+" is currently unavailable", nil)
}

func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}
