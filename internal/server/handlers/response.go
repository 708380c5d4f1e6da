package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/ticketdesk/reportd/internal/database"
	"github.com/ticketdesk/reportd/internal/executions"
	"github.com/ticketdesk/reportd/internal/scheduler"
)

// ErrorResponse is the error body. Detail repeats Error for clients that
// only read detail.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Details any    `json:"details,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		}
	}
}

func Error(w http.ResponseWriter, status int, code string, message string) {
	JSON(w, status, ErrorResponse{
		Error:  message,
		Code:   code,
		Detail: message,
	})
}

func ErrorWithDetails(w http.ResponseWriter, status int, code string, message string, details any) {
	JSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Detail:  message,
		Details: details,
	})
}

func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, "NOT_FOUND", message)
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, "BAD_REQUEST", message)
}

func Conflict(w http.ResponseWriter, message string) {
	Error(w, http.StatusConflict, "CONFLICT", message)
}

func ServiceUnavailable(w http.ResponseWriter, message string) {
	Error(w, http.StatusServiceUnavailable, "UNAVAILABLE", message)
}

func InternalError(w http.ResponseWriter, message string) {
	Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}

// WriteError maps domain errors onto status codes. Unknown errors are
// logged and reported as 500 with fallback as the message.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var (
		verr *scheduler.ValidationError
		cerr *database.ConstraintError
	)
	switch {
	case errors.As(err, &verr):
		ErrorWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", verr.Error(), verr.Fields)
	case errors.As(err, &cerr) && errors.Is(cerr, database.ErrUnique):
		Conflict(w, "Record already exists")
	case errors.As(err, &cerr):
		ErrorWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", []scheduler.FieldError{{
			Field:   cerr.Column,
			Message: cerr.Kind.Error(),
		}})
	case errors.Is(err, scheduler.ErrNotFound):
		NotFound(w, "Scheduled report not found")
	case errors.Is(err, executions.ErrNotFound):
		NotFound(w, "Execution not found")
	case errors.Is(err, scheduler.ErrConflict):
		Conflict(w, "Scheduled report has an execution in progress")
	case errors.Is(err, scheduler.ErrPoolStopped):
		ServiceUnavailable(w, "Scheduler is shutting down")
	default:
		log.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg(fallback)
		InternalError(w, fallback)
	}
}
