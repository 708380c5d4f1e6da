package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("schedule not found")
	ErrConflict        = errors.New("schedule has an execution in progress")
	ErrExternalService = errors.New("external service failed")
	ErrScheduling      = errors.New("no upcoming run")
	ErrInvalidSchedule = errors.New("invalid schedule")
)

// FieldError is a single rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every rejected field of a schedule write.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func (e *ValidationError) add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// InvalidScheduleError reports a timing definition the cron evaluator rejects.
type InvalidScheduleError struct {
	Definition string
	Reason     string
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule %q: %s", e.Definition, e.Reason)
}

func (e *InvalidScheduleError) Unwrap() error { return ErrInvalidSchedule }

// SchedulingError reports a definition with no matching instant inside the
// lookahead window.
type SchedulingError struct {
	Definition string
	After      string
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("no run of %q within %s of %s", e.Definition, lookaheadLabel, e.After)
}

func (e *SchedulingError) Unwrap() error { return ErrScheduling }

// ExternalServiceError wraps a collaborator failure during a run.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Is(target error) bool { return target == ErrExternalService }

func (e *ExternalServiceError) Unwrap() error { return e.Err }
