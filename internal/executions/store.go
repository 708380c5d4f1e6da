package executions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ticketdesk/reportd/internal/database"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

const selectColumns = `
	SELECT e.id, e.schedule_id, COALESCE(s.name, ''), e.company_id, e.trigger_type,
	       e.status, e.execution_time, e.completed_at, e.tickets_count,
	       e.recipients_count, e.error_message, e.duration_seconds, e.archive_key
	FROM report_executions e
	LEFT JOIN scheduled_reports s ON s.id = e.schedule_id
`

// Store handles database operations for executions.
type Store struct {
	db *sql.DB
}

// NewStore creates a new execution store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db.DB}
}

// Start inserts a new execution in the running state.
func (s *Store) Start(ctx context.Context, scheduleID string, companyID int64, trigger Trigger, at time.Time) (*Execution, error) {
	exec := &Execution{
		ID:            uuid.New().String(),
		ScheduleID:    scheduleID,
		CompanyID:     companyID,
		Trigger:       trigger,
		Status:        StatusRunning,
		ExecutionTime: at.UTC(),
	}

	query := `
		INSERT INTO report_executions (id, schedule_id, company_id, trigger_type, status, execution_time)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		exec.ID,
		exec.ScheduleID,
		exec.CompanyID,
		string(exec.Trigger),
		string(exec.Status),
		database.FormatTime(exec.ExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting execution: %w", database.ClassifyError(err))
	}

	return exec, nil
}

// Finalize moves a running execution to success or failed. An execution can
// only be finalized once.
func (s *Store) Finalize(ctx context.Context, id string, outcome Outcome) error {
	if outcome.Status != StatusSuccess && outcome.Status != StatusFailed {
		return fmt.Errorf("%w: status %q", ErrInvalidOutcome, outcome.Status)
	}

	var tickets, recipients sql.NullInt64
	var errMsg sql.NullString
	if outcome.Status == StatusSuccess {
		tickets = sql.NullInt64{Int64: int64(outcome.TicketsCount), Valid: true}
		recipients = sql.NullInt64{Int64: int64(outcome.RecipientsCount), Valid: true}
	} else {
		errMsg = sql.NullString{String: outcome.ErrorMessage, Valid: true}
	}

	var archiveKey sql.NullString
	if outcome.ArchiveKey != "" {
		archiveKey = sql.NullString{String: outcome.ArchiveKey, Valid: true}
	}

	query := `
		UPDATE report_executions
		SET status = ?, completed_at = ?, tickets_count = ?, recipients_count = ?,
		    error_message = ?, duration_seconds = ?, archive_key = ?
		WHERE id = ? AND status = 'running'
	`

	result, err := s.db.ExecContext(ctx, query,
		string(outcome.Status),
		database.FormatTime(outcome.CompletedAt),
		tickets,
		recipients,
		errMsg,
		outcome.Duration.Seconds(),
		archiveKey,
		id,
	)
	if err != nil {
		return fmt.Errorf("finalizing execution: %w", database.ClassifyError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM report_executions WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking execution: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fmt.Errorf("%w: %s", ErrAlreadyFinalized, id)
}

// Get retrieves an execution by ID.
func (s *Store) Get(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE e.id = ?`, id)

	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("getting execution: %w", err)
	}

	return exec, nil
}

// ListBySchedule returns a schedule's executions, newest first.
func (s *Store) ListBySchedule(ctx context.Context, scheduleID string, limit, offset int) ([]*Execution, error) {
	query := selectColumns + `
		WHERE e.schedule_id = ?
		ORDER BY e.execution_time DESC, e.id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, scheduleID, clampLimit(limit), max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	return scanExecutions(rows)
}

// Recent returns executions across schedules, newest first.
func (s *Store) Recent(ctx context.Context, filter ListFilter) ([]*Execution, error) {
	query := selectColumns + ` WHERE 1=1`
	args := []any{}

	if filter.CompanyID > 0 {
		query += " AND e.company_id = ?"
		args = append(args, filter.CompanyID)
	}
	if filter.Status != "" {
		query += " AND e.status = ?"
		args = append(args, string(filter.Status))
	}

	query += " ORDER BY e.execution_time DESC, e.id DESC LIMIT ? OFFSET ?"
	args = append(args, clampLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying recent executions: %w", err)
	}
	defer rows.Close()

	return scanExecutions(rows)
}

// HasRunning reports whether the schedule has an execution in the running state.
func (s *Store) HasRunning(ctx context.Context, scheduleID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM report_executions WHERE schedule_id = ? AND status = 'running'`,
		scheduleID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking running executions: %w", err)
	}
	return count > 0, nil
}

// FailRunning finalizes every running execution as failed. It is used at
// startup, when no execution can still be in flight.
func (s *Store) FailRunning(ctx context.Context, message string, at time.Time) (int64, error) {
	query := `
		UPDATE report_executions
		SET status = 'failed', error_message = ?, completed_at = ?,
		    duration_seconds = (julianday(?) - julianday(execution_time)) * 86400.0
		WHERE status = 'running'
	`

	completed := database.FormatTime(at)
	result, err := s.db.ExecContext(ctx, query, message, completed, completed)
	if err != nil {
		return 0, fmt.Errorf("failing orphaned executions: %w", err)
	}

	return result.RowsAffected()
}

// DeleteOlderThan removes finished executions that started before cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM report_executions
		WHERE execution_time < ?
		  AND status IN ('success', 'failed')
	`

	result, err := s.db.ExecContext(ctx, query, database.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting old executions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	return rows, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	var exec Execution
	var trigger, status, executionTime string
	var completedAt, errMsg, archiveKey sql.NullString
	var tickets, recipients sql.NullInt64
	var duration sql.NullFloat64

	err := row.Scan(
		&exec.ID,
		&exec.ScheduleID,
		&exec.ScheduleName,
		&exec.CompanyID,
		&trigger,
		&status,
		&executionTime,
		&completedAt,
		&tickets,
		&recipients,
		&errMsg,
		&duration,
		&archiveKey,
	)
	if err != nil {
		return nil, err
	}

	exec.Trigger = Trigger(trigger)
	exec.Status = Status(status)
	exec.ErrorMessage = errMsg.String
	exec.ArchiveKey = archiveKey.String

	if exec.ExecutionTime, err = database.ParseTime(executionTime); err != nil {
		return nil, fmt.Errorf("parsing execution_time: %w", err)
	}
	if exec.CompletedAt, err = database.ParseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("parsing completed_at: %w", err)
	}

	if tickets.Valid {
		n := int(tickets.Int64)
		exec.TicketsCount = &n
	}
	if recipients.Valid {
		n := int(recipients.Int64)
		exec.RecipientsCount = &n
	}
	if duration.Valid {
		d := duration.Float64
		exec.DurationSeconds = &d
	}

	return &exec, nil
}

func scanExecutions(rows *sql.Rows) ([]*Execution, error) {
	execs := []*Execution{}

	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		execs = append(execs, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}

	return execs, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
