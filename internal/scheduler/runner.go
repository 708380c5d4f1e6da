package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ticketdesk/reportd/internal/executions"
	"github.com/ticketdesk/reportd/internal/mailer"
	"github.com/ticketdesk/reportd/internal/metrics"
	"github.com/ticketdesk/reportd/internal/report"
	"github.com/ticketdesk/reportd/internal/tickets"
)

// TicketSource returns the tickets a report is built from.
type TicketSource interface {
	Query(ctx context.Context, companyID int64, f tickets.Filters) ([]tickets.Ticket, error)
}

// Archiver keeps a copy of each rendered report.
type Archiver interface {
	Store(ctx context.Context, scheduleID, executionID string, at time.Time, html []byte) (string, error)
}

// RunnerConfig wires the runner's collaborators.
type RunnerConfig struct {
	Store         *Store
	Recorder      *executions.Recorder
	Tickets       TicketSource
	Filters       *tickets.FilterEngine
	Renderer      *report.Renderer
	Mailer        mailer.Sender
	Archive       Archiver
	TicketTimeout time.Duration
	EmailTimeout  time.Duration
}

// Runner performs one execution of a schedule: query tickets, render,
// mail, record the outcome and move next_run.
type Runner struct {
	store         *Store
	recorder      *executions.Recorder
	tickets       TicketSource
	filters       *tickets.FilterEngine
	renderer      *report.Renderer
	mailer        mailer.Sender
	archive       Archiver
	ticketTimeout time.Duration
	emailTimeout  time.Duration
	now           func() time.Time
}

// NewRunner creates a runner. Archive and Filters may be nil.
func NewRunner(cfg RunnerConfig) *Runner {
	r := &Runner{
		store:         cfg.Store,
		recorder:      cfg.Recorder,
		tickets:       cfg.Tickets,
		filters:       cfg.Filters,
		renderer:      cfg.Renderer,
		mailer:        cfg.Mailer,
		archive:       cfg.Archive,
		ticketTimeout: cfg.TicketTimeout,
		emailTimeout:  cfg.EmailTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
	if r.ticketTimeout <= 0 {
		r.ticketTimeout = 30 * time.Second
	}
	if r.emailTimeout <= 0 {
		r.emailTimeout = 60 * time.Second
	}
	return r
}

type runResult struct {
	tickets    int
	recipients int
	archiveKey string
}

// Run executes schedule id once. The caller must hold the schedule's lock.
// Timer runs are checked against the current time, see RunDue.
// Failures inside the run are recorded on the execution, not returned.
func (r *Runner) Run(ctx context.Context, id string, trigger executions.Trigger) (*executions.Execution, error) {
	return r.run(ctx, id, trigger, r.now())
}

// RunDue is the timer path. It runs id only when the schedule is active and
// its next_run is at or before asOf, and otherwise returns (nil, nil)
// without a record. The check happens under the caller's lock, so a run
// that advanced next_run after the due scan is not repeated.
func (r *Runner) RunDue(ctx context.Context, id string, asOf time.Time) (*executions.Execution, error) {
	return r.run(ctx, id, executions.TriggerTimer, asOf)
}

func (r *Runner) run(ctx context.Context, id string, trigger executions.Trigger, asOf time.Time) (exec *executions.Execution, err error) {
	schedule, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if trigger == executions.TriggerTimer {
		switch {
		case !schedule.IsActive:
			log.Debug().
				Str("schedule_id", id).
				Msg("Skipping timer run of inactive schedule")
			return nil, nil
		case schedule.NextRun == nil || schedule.NextRun.After(asOf):
			metrics.RecordSkip("not_due")
			log.Debug().
				Str("schedule_id", id).
				Time("as_of", asOf).
				Msg("Skipping timer run, schedule no longer due")
			return nil, nil
		}
	}

	exec, err = r.recorder.Begin(ctx, schedule.ID, schedule.CompanyID, trigger)
	if err != nil {
		return nil, err
	}

	// Recording must survive shutdown cancelling the run.
	recordCtx := context.WithoutCancel(ctx)

	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Str("schedule_id", id).
				Str("execution_id", exec.ID).
				Str("panic", fmt.Sprint(p)).
				Str("stack", string(debug.Stack())).
				Msg("Execution panicked")
			r.finish(recordCtx, schedule, exec, trigger, runResult{}, fmt.Errorf("internal error: %v", p))
			err = nil
		}
	}()

	result, runErr := r.execute(ctx, schedule, exec)
	r.finish(recordCtx, schedule, exec, trigger, result, runErr)

	return exec, nil
}

func (r *Runner) finish(ctx context.Context, schedule *Schedule, exec *executions.Execution, trigger executions.Trigger, result runResult, runErr error) {
	var err error
	if runErr != nil {
		err = r.recorder.Fail(ctx, exec, runErr)
	} else {
		err = r.recorder.Succeed(ctx, exec, result.tickets, result.recipients, result.archiveKey)
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("execution_id", exec.ID).
			Msg("Failed to record execution outcome")
	}

	var duration time.Duration
	if exec.DurationSeconds != nil {
		duration = time.Duration(*exec.DurationSeconds * float64(time.Second))
	}
	metrics.RecordExecution(string(exec.Status), string(trigger), duration)

	completed := r.now()
	if exec.CompletedAt != nil {
		completed = *exec.CompletedAt
	}
	r.advance(ctx, schedule.ID, completed)
}

func (r *Runner) execute(ctx context.Context, schedule *Schedule, exec *executions.Execution) (runResult, error) {
	queryCtx, cancel := context.WithTimeout(ctx, r.ticketTimeout)
	list, err := r.tickets.Query(queryCtx, schedule.CompanyID, schedule.Filters)
	cancel()
	if err != nil {
		return runResult{}, &ExternalServiceError{Service: "ticket query", Err: err}
	}

	if schedule.Filters.Expression != "" && r.filters != nil {
		if list, err = r.filters.Apply(schedule.Filters.Expression, list); err != nil {
			return runResult{}, fmt.Errorf("ticket filter failed: %w", err)
		}
	}

	loc, err := loadLocation(schedule.Timezone)
	if err != nil {
		loc = time.UTC
	}

	rendered, err := r.renderer.Render(report.Request{
		ScheduleName:    schedule.Name,
		CompanyID:       schedule.CompanyID,
		CompanyName:     schedule.CompanyName,
		Type:            schedule.ReportType,
		Filters:         schedule.Filters,
		SubjectOverride: schedule.EmailSubject,
		BodyOverride:    schedule.EmailBody,
		GeneratedAt:     exec.ExecutionTime,
		Location:        loc,
	}, list)
	if err != nil {
		return runResult{}, fmt.Errorf("report rendering failed: %w", err)
	}

	msg := &mailer.Message{
		To:      schedule.Recipients,
		Cc:      schedule.CCRecipients,
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.emailTimeout)
	err = r.mailer.Send(sendCtx, msg)
	cancel()
	if err != nil {
		metrics.RecordEmail("failed")
		return runResult{}, &ExternalServiceError{Service: "email delivery", Err: err}
	}
	metrics.RecordEmail("sent")

	result := runResult{tickets: len(list), recipients: msg.RecipientCount()}

	if r.archive != nil {
		key, err := r.archive.Store(ctx, schedule.ID, exec.ID, exec.ExecutionTime, []byte(rendered.HTML))
		if err != nil {
			log.Warn().
				Err(err).
				Str("execution_id", exec.ID).
				Msg("Failed to archive report")
		} else {
			result.archiveKey = key
		}
	}

	return result, nil
}

// advance moves next_run past the completed run. A manual run ahead of the
// pending slot consumes that slot, so next_run always strictly increases.
func (r *Runner) advance(ctx context.Context, id string, completed time.Time) {
	schedule, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Debug().Str("schedule_id", id).Msg("Schedule deleted during run")
			return
		}
		log.Error().Err(err).Str("schedule_id", id).Msg("Failed to reload schedule after run")
		return
	}

	next, err := CalculateNextRun(schedule, completed)
	if err == nil && schedule.NextRun != nil && !next.After(*schedule.NextRun) {
		next, err = CalculateNextRun(schedule, *schedule.NextRun)
	}

	if err != nil {
		log.Error().
			Err(err).
			Str("schedule_id", id).
			Msg("Cannot compute next run, flagging schedule")
		if flagErr := r.store.FlagSchedulingError(ctx, id, &completed, err.Error()); flagErr != nil {
			log.Error().Err(flagErr).Str("schedule_id", id).Msg("Failed to flag schedule")
		}
		return
	}

	if err := r.store.SetRunTimes(ctx, id, completed, next); err != nil {
		log.Error().Err(err).Str("schedule_id", id).Msg("Failed to update run times")
		return
	}

	log.Debug().
		Str("schedule_id", id).
		Time("next_run", next).
		Msg("Schedule next_run updated")
}
