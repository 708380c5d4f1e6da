package executions

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a report execution.
type Status string

const (
	// StatusRunning indicates the execution is in progress.
	StatusRunning Status = "running"
	// StatusSuccess indicates the report was generated and delivered.
	StatusSuccess Status = "success"
	// StatusFailed indicates the execution stopped with an error.
	StatusFailed Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// Trigger records what started an execution.
type Trigger string

const (
	TriggerTimer  Trigger = "timer"
	TriggerManual Trigger = "manual"
)

var (
	ErrNotFound         = errors.New("execution not found")
	ErrAlreadyFinalized = errors.New("execution already finalized")
	ErrInvalidOutcome   = errors.New("invalid execution outcome")
)

// Execution is one attempt to run a scheduled report.
type Execution struct {
	ID              string     `json:"id"`
	ScheduleID      string     `json:"schedule_id"`
	ScheduleName    string     `json:"schedule_name,omitempty"`
	CompanyID       int64      `json:"company_id"`
	Trigger         Trigger    `json:"trigger"`
	Status          Status     `json:"status"`
	ExecutionTime   time.Time  `json:"execution_time"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	TicketsCount    *int       `json:"tickets_count,omitempty"`
	RecipientsCount *int       `json:"recipients_count,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	ArchiveKey      string     `json:"archive_key,omitempty"`
}

// Outcome is the terminal state written when an execution finishes.
type Outcome struct {
	Status          Status
	CompletedAt     time.Time
	Duration        time.Duration
	TicketsCount    int
	RecipientsCount int
	ErrorMessage    string
	ArchiveKey      string
}

// ListFilter narrows the recent executions feed.
type ListFilter struct {
	CompanyID int64
	Status    Status
	Limit     int
	Offset    int
}
