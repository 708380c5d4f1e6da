package executions

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Listener observes execution lifecycle changes.
type Listener func(exec *Execution)

// Recorder writes execution history for the runner and notifies listeners
// (event stream, metrics) of every state change.
type Recorder struct {
	store     *Store
	listeners []Listener
	now       func() time.Time
}

// NewRecorder creates a recorder on top of store.
func NewRecorder(store *Store, listeners ...Listener) *Recorder {
	return &Recorder{
		store:     store,
		listeners: listeners,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Store returns the underlying store.
func (r *Recorder) Store() *Store {
	return r.store
}

// Begin records a new running execution.
func (r *Recorder) Begin(ctx context.Context, scheduleID string, companyID int64, trigger Trigger) (*Execution, error) {
	exec, err := r.store.Start(ctx, scheduleID, companyID, trigger, r.now())
	if err != nil {
		return nil, fmt.Errorf("recording execution start: %w", err)
	}

	log.Debug().
		Str("execution_id", exec.ID).
		Str("schedule_id", scheduleID).
		Str("trigger", string(trigger)).
		Msg("Execution started")

	r.notify(exec)
	return exec, nil
}

// Succeed finalizes exec as successful.
func (r *Recorder) Succeed(ctx context.Context, exec *Execution, ticketsCount, recipientsCount int, archiveKey string) error {
	return r.finish(ctx, exec, Outcome{
		Status:          StatusSuccess,
		TicketsCount:    ticketsCount,
		RecipientsCount: recipientsCount,
		ArchiveKey:      archiveKey,
	})
}

// Fail finalizes exec as failed with cause as the error message.
func (r *Recorder) Fail(ctx context.Context, exec *Execution, cause error) error {
	return r.finish(ctx, exec, Outcome{
		Status:       StatusFailed,
		ErrorMessage: cause.Error(),
	})
}

func (r *Recorder) finish(ctx context.Context, exec *Execution, outcome Outcome) error {
	outcome.CompletedAt = r.now()
	outcome.Duration = outcome.CompletedAt.Sub(exec.ExecutionTime)
	if outcome.Duration < 0 {
		outcome.Duration = 0
	}

	if err := r.store.Finalize(ctx, exec.ID, outcome); err != nil {
		return fmt.Errorf("recording execution result: %w", err)
	}

	completed := outcome.CompletedAt
	seconds := outcome.Duration.Seconds()
	exec.Status = outcome.Status
	exec.CompletedAt = &completed
	exec.DurationSeconds = &seconds
	exec.ErrorMessage = outcome.ErrorMessage
	exec.ArchiveKey = outcome.ArchiveKey
	if outcome.Status == StatusSuccess {
		tickets, recipients := outcome.TicketsCount, outcome.RecipientsCount
		exec.TicketsCount = &tickets
		exec.RecipientsCount = &recipients
	}

	event := log.Info()
	if outcome.Status == StatusFailed {
		event = log.Warn().Str("error", outcome.ErrorMessage)
	}
	event.
		Str("execution_id", exec.ID).
		Str("schedule_id", exec.ScheduleID).
		Str("status", string(outcome.Status)).
		Float64("duration_seconds", seconds).
		Msg("Execution finished")

	r.notify(exec)
	return nil
}

func (r *Recorder) notify(exec *Execution) {
	for _, l := range r.listeners {
		snapshot := *exec
		l(&snapshot)
	}
}
