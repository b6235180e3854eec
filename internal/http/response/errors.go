package response

import (
	"encoding/json"
	"net/http"

	"github.com/diagnosis/museum-visits/pkg/logger"
)

// ErrorResponse represents a structured JSON error response
type ErrorResponse struct {
	Success        bool     `json:"success"`
	Error          string   `json:"error"`
	Code           string   `json:"code,omitempty"`
	Status         string   `json:"status,omitempty"`
	Details        string   `json:"details,omitempty"`
	MissingFields  []string `json:"missingFields,omitempty"`
	RemainingSlots *int     `json:"remainingSlots,omitempty"`
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// WriteError writes a structured JSON error response
func WriteError(w http.ResponseWriter, statusCode int, message string, code string) {
	Write(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// WriteErrorWithDetails writes a structured JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, message, code, details string) {
	Write(w, statusCode, ErrorResponse{Error: message, Code: code, Details: details})
}

// Write sends a prepared error body; Success is always forced to false.
func Write(w http.ResponseWriter, statusCode int, body ErrorResponse) {
	body.Success = false
	WriteJSON(w, statusCode, body)
}

// Incomplete reports the identity fields that block a check-in.
func Incomplete(w http.ResponseWriter, message string, missing []string) {
	Write(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error:         message,
		Code:          CodeIncomplete,
		Status:        "incomplete",
		MissingFields: missing,
	})
}

// CapacityExceeded reports how many seats are still free in the requested slot.
func CapacityExceeded(w http.ResponseWriter, message string, remaining int) {
	Write(w, http.StatusConflict, ErrorResponse{
		Error:          message,
		Code:           CodeCapacityExceeded,
		RemainingSlots: &remaining,
	})
}

// Common error codes
const (
	CodeInvalidInput      = "validation_error"
	CodeUnauthorized      = "unauthorized"
	CodeForbidden         = "forbidden"
	CodeNotFound          = "not_found"
	CodeConflict          = "conflict"
	CodeInternalError     = "internal_error"
	CodeExpired           = "expired"
	CodeAlreadyCompleted  = "already_completed"
	CodeCancelled         = "cancelled"
	CodeIncomplete        = "incomplete"
	CodeCapacityExceeded  = "capacity_exceeded"
	CodeQrAlreadyUsed     = "qr_already_used"
	CodeIdempotencyReplay = "idempotency_in_progress"
)

// Convenience functions for common errors
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message, CodeInvalidInput)
}

func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message, CodeUnauthorized)
}

func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, message, CodeForbidden)
}

func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message, CodeNotFound)
}

func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message, CodeInternalError)
}

func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, message, CodeConflict)
}
