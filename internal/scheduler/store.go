package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ticketdesk/reportd/internal/database"
	"github.com/ticketdesk/reportd/internal/report"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

const selectColumns = `
	SELECT id, company_id, company_name, name, description, report_type, schedule_type,
	       cron_expression, interval_minutes, timezone, recipients, cc_recipients, filters,
	       email_subject, email_body, is_active, created_by, last_run, next_run,
	       scheduling_error, created_at, updated_at
	FROM scheduled_reports
`

// CompanyDirectory resolves company display names.
type CompanyDirectory interface {
	CompanyName(ctx context.Context, companyID int64) (string, error)
}

// Store handles database operations for schedules. Writes from clients go
// through Create, Update and Toggle, which validate and maintain next_run.
type Store struct {
	db        *database.DB
	validator *Validator
	companies CompanyDirectory
	now       func() time.Time
}

// NewStore creates a schedule store. companies may be nil.
func NewStore(db *database.DB, validator *Validator, companies CompanyDirectory) *Store {
	return &Store{
		db:        db,
		validator: validator,
		companies: companies,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create validates in and inserts a new schedule with its first next_run.
func (s *Store) Create(ctx context.Context, in *ScheduleInput) (*Schedule, error) {
	now := s.now()

	schedule := &Schedule{
		ReportType: report.TypeDaily,
		Timezone:   "UTC",
		IsActive:   true,
	}
	in.Apply(schedule, true)

	next, err := s.validator.Validate(schedule, now)
	if err != nil {
		return nil, err
	}

	schedule.ID = uuid.New().String()
	schedule.NextRun = &next
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	schedule.CompanyName = s.companyName(ctx, schedule.CompanyID, "")
	schedule.ScheduleDescription = Describe(schedule.Definition())

	recipients, ccRecipients, filters, err := encodeLists(schedule)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO scheduled_reports (
			id, company_id, company_name, name, description, report_type, schedule_type,
			cron_expression, interval_minutes, timezone, recipients, cc_recipients, filters,
			email_subject, email_body, is_active, created_by, last_run, next_run,
			scheduling_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, NULL, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.CompanyID,
		schedule.CompanyName,
		schedule.Name,
		schedule.Description,
		string(schedule.ReportType),
		string(schedule.Kind),
		nullString(schedule.CronExpression),
		nullInt(schedule.IntervalMinutes),
		schedule.Timezone,
		recipients,
		ccRecipients,
		filters,
		schedule.EmailSubject,
		schedule.EmailBody,
		schedule.IsActive,
		schedule.CreatedBy,
		database.FormatTime(next),
		database.FormatTime(now),
		database.FormatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting schedule: %w", database.ClassifyError(err))
	}

	return schedule, nil
}

// Update applies in to an existing schedule. next_run is recomputed from now
// when the timing changed, the schedule was re-activated, or it carried a
// scheduling error.
func (s *Store) Update(ctx context.Context, id string, in *ScheduleInput) (*Schedule, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	schedule := *current
	wasActive := schedule.IsActive
	timingChanged := in.Apply(&schedule, false)

	next, err := s.validator.Validate(&schedule, now)
	if err != nil {
		return nil, err
	}

	if timingChanged || (!wasActive && schedule.IsActive) || schedule.SchedulingError != "" || schedule.NextRun == nil {
		schedule.NextRun = &next
		schedule.SchedulingError = ""
	}
	schedule.UpdatedAt = now
	schedule.CompanyName = s.companyName(ctx, schedule.CompanyID, schedule.CompanyName)
	schedule.ScheduleDescription = Describe(schedule.Definition())

	recipients, ccRecipients, filters, err := encodeLists(&schedule)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE scheduled_reports
		SET company_name = ?, name = ?, description = ?, report_type = ?, schedule_type = ?,
		    cron_expression = ?, interval_minutes = ?, timezone = ?, recipients = ?,
		    cc_recipients = ?, filters = ?, email_subject = ?, email_body = ?, is_active = ?,
		    next_run = ?, scheduling_error = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		schedule.CompanyName,
		schedule.Name,
		schedule.Description,
		string(schedule.ReportType),
		string(schedule.Kind),
		nullString(schedule.CronExpression),
		nullInt(schedule.IntervalMinutes),
		schedule.Timezone,
		recipients,
		ccRecipients,
		filters,
		schedule.EmailSubject,
		schedule.EmailBody,
		schedule.IsActive,
		database.NullTime(schedule.NextRun),
		nullString(schedule.SchedulingError),
		database.FormatTime(now),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating schedule: %w", database.ClassifyError(err))
	}
	if err := requireRow(result, id); err != nil {
		return nil, err
	}

	return &schedule, nil
}

// Toggle flips is_active. Re-activation recomputes next_run from now so no
// backlog of missed runs fires.
func (s *Store) Toggle(ctx context.Context, id string) (*Schedule, error) {
	schedule, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	schedule.IsActive = !schedule.IsActive
	schedule.UpdatedAt = now

	if schedule.IsActive {
		next, err := CalculateNextRun(schedule, now)
		switch {
		case err == nil:
			schedule.NextRun = &next
			schedule.SchedulingError = ""
		case errors.Is(err, ErrScheduling), errors.Is(err, ErrInvalidSchedule):
			schedule.SchedulingError = err.Error()
		default:
			return nil, err
		}
	}

	query := `
		UPDATE scheduled_reports
		SET is_active = ?, next_run = ?, scheduling_error = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		schedule.IsActive,
		database.NullTime(schedule.NextRun),
		nullString(schedule.SchedulingError),
		database.FormatTime(now),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("toggling schedule: %w", err)
	}
	if err := requireRow(result, id); err != nil {
		return nil, err
	}

	return schedule, nil
}

// Delete removes a schedule. Its execution history is kept.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_reports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}
	return requireRow(result, id)
}

// Get retrieves a schedule by ID.
func (s *Store) Get(ctx context.Context, id string) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)

	schedule, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("getting schedule: %w", err)
	}

	return schedule, nil
}

// List returns schedules matching filter, newest first.
func (s *Store) List(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	query := selectColumns + ` WHERE 1=1`
	args := []any{}

	if filter.CompanyID > 0 {
		query += " AND company_id = ?"
		args = append(args, filter.CompanyID)
	}
	if filter.IsActive != nil {
		query += " AND is_active = ?"
		args = append(args, *filter.IsActive)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	return scanSchedules(rows)
}

// GetDue returns active, unflagged schedules whose next_run is at or before now.
func (s *Store) GetDue(ctx context.Context, now time.Time, limit int) ([]*Schedule, error) {
	query := selectColumns + `
		WHERE is_active = 1
		  AND scheduling_error IS NULL
		  AND next_run IS NOT NULL
		  AND next_run <= ?
		ORDER BY next_run ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, database.FormatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("querying due schedules: %w", err)
	}
	defer rows.Close()

	return scanSchedules(rows)
}

// ListStale returns active, unflagged schedules with no next_run or a
// next_run before cutoff.
func (s *Store) ListStale(ctx context.Context, cutoff time.Time) ([]*Schedule, error) {
	query := selectColumns + `
		WHERE is_active = 1
		  AND scheduling_error IS NULL
		  AND (next_run IS NULL OR next_run < ?)
		ORDER BY next_run ASC
	`

	rows, err := s.db.QueryContext(ctx, query, database.FormatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("querying stale schedules: %w", err)
	}
	defer rows.Close()

	return scanSchedules(rows)
}

// SetRunTimes records a finished run and the next slot.
func (s *Store) SetRunTimes(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	query := `
		UPDATE scheduled_reports
		SET last_run = ?, next_run = ?, scheduling_error = NULL, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		database.FormatTime(lastRun),
		database.FormatTime(nextRun),
		database.FormatTime(s.now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating run times: %w", err)
	}
	return requireRow(result, id)
}

// SetNextRun moves next_run without touching last_run.
func (s *Store) SetNextRun(ctx context.Context, id string, nextRun time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_reports SET next_run = ?, updated_at = ? WHERE id = ?`,
		database.FormatTime(nextRun),
		database.FormatTime(s.now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating next_run: %w", err)
	}
	return requireRow(result, id)
}

// FlagSchedulingError records a run and marks the schedule as unable to
// compute its next slot. The stale next_run is kept for operators.
func (s *Store) FlagSchedulingError(ctx context.Context, id string, lastRun *time.Time, message string) error {
	query := `
		UPDATE scheduled_reports
		SET last_run = COALESCE(?, last_run), scheduling_error = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		database.NullTime(lastRun),
		message,
		database.FormatTime(s.now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("flagging schedule: %w", err)
	}
	return requireRow(result, id)
}

func (s *Store) companyName(ctx context.Context, companyID int64, fallback string) string {
	if s.companies == nil {
		return fallback
	}
	name, err := s.companies.CompanyName(ctx, companyID)
	if err != nil {
		log.Warn().
			Err(err).
			Int64("company_id", companyID).
			Msg("Failed to resolve company name")
		return fallback
	}
	return name
}

func requireRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func encodeLists(s *Schedule) (recipients, ccRecipients, filters string, err error) {
	r, err := json.Marshal(s.Recipients)
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling recipients: %w", err)
	}
	cc, err := json.Marshal(s.CCRecipients)
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling cc_recipients: %w", err)
	}
	f, err := json.Marshal(s.Filters)
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling filters: %w", err)
	}
	return string(r), string(cc), string(f), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var s Schedule
	var reportType, kind, recipients, ccRecipients, filters string
	var cronExpr, schedErr, lastRun, nextRun sql.NullString
	var interval sql.NullInt64
	var createdAt, updatedAt string

	err := row.Scan(
		&s.ID,
		&s.CompanyID,
		&s.CompanyName,
		&s.Name,
		&s.Description,
		&reportType,
		&kind,
		&cronExpr,
		&interval,
		&s.Timezone,
		&recipients,
		&ccRecipients,
		&filters,
		&s.EmailSubject,
		&s.EmailBody,
		&s.IsActive,
		&s.CreatedBy,
		&lastRun,
		&nextRun,
		&schedErr,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.ReportType = report.Type(reportType)
	s.Kind = Kind(kind)
	s.CronExpression = cronExpr.String
	s.IntervalMinutes = int(interval.Int64)
	s.SchedulingError = schedErr.String

	if err := json.Unmarshal([]byte(recipients), &s.Recipients); err != nil {
		return nil, fmt.Errorf("unmarshaling recipients: %w", err)
	}
	if err := json.Unmarshal([]byte(ccRecipients), &s.CCRecipients); err != nil {
		return nil, fmt.Errorf("unmarshaling cc_recipients: %w", err)
	}
	if err := json.Unmarshal([]byte(filters), &s.Filters); err != nil {
		return nil, fmt.Errorf("unmarshaling filters: %w", err)
	}

	if s.LastRun, err = database.ParseNullTime(lastRun); err != nil {
		return nil, fmt.Errorf("parsing last_run: %w", err)
	}
	if s.NextRun, err = database.ParseNullTime(nextRun); err != nil {
		return nil, fmt.Errorf("parsing next_run: %w", err)
	}
	if s.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if s.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	s.ScheduleDescription = Describe(s.Definition())
	return &s, nil
}

func scanSchedules(rows *sql.Rows) ([]*Schedule, error) {
	schedules := []*Schedule{}

	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule row: %w", err)
		}
		schedules = append(schedules, schedule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedule rows: %w", err)
	}

	return schedules, nil
}
