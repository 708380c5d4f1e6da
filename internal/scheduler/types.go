package scheduler

import (
	"slices"
	"time"

	"github.com/ticketdesk/reportd/internal/report"
	"github.com/ticketdesk/reportd/internal/tickets"
)

// Kind selects how a schedule's runs are timed.
type Kind string

const (
	KindCron     Kind = "cron"
	KindInterval Kind = "interval"
)

// Schedule is a persisted report schedule.
type Schedule struct {
	ID                  string          `json:"id" yaml:"-"`
	CompanyID           int64           `json:"company_id" validate:"gt=0"`
	CompanyName         string          `json:"company_name,omitempty"`
	Name                string          `json:"name" validate:"required,max=200,single_line"`
	Description         string          `json:"description,omitempty" validate:"max=2000"`
	ReportType          report.Type     `json:"report_type" validate:"required,oneof=daily weekly monthly custom"`
	Kind                Kind            `json:"schedule_type" validate:"required,oneof=cron interval"`
	CronExpression      string          `json:"cron_expression,omitempty" validate:"max=200"`
	IntervalMinutes     int             `json:"interval_minutes,omitempty"`
	Timezone            string          `json:"timezone"`
	ScheduleDescription string          `json:"schedule_description,omitempty"`
	Recipients          []string        `json:"recipients" validate:"required,min=1,max=100,dive,email"`
	CCRecipients        []string        `json:"cc_recipients" validate:"max=100,dive,email"`
	Filters             tickets.Filters `json:"filters"`
	EmailSubject        string          `json:"email_subject,omitempty" validate:"max=500,single_line"`
	EmailBody           string          `json:"email_body,omitempty" validate:"max=20000"`
	IsActive            bool            `json:"is_active"`
	LastRun             *time.Time      `json:"last_run"`
	NextRun             *time.Time      `json:"next_run"`
	SchedulingError     string          `json:"scheduling_error,omitempty"`
	CreatedBy           string          `json:"created_by,omitempty" validate:"max=200"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Definition returns the timing definition evaluated by the cron evaluator.
func (s *Schedule) Definition() Definition {
	return Definition{
		Kind:            s.Kind,
		CronExpression:  s.CronExpression,
		IntervalMinutes: s.IntervalMinutes,
		Timezone:        s.Timezone,
	}
}

// RecipientCount is the number of addresses a run mails.
func (s *Schedule) RecipientCount() int {
	return len(s.Recipients) + len(s.CCRecipients)
}

// ScheduleInput carries client-supplied schedule fields. Nil fields are left
// unchanged on update and defaulted on create.
type ScheduleInput struct {
	CompanyID       *int64           `json:"company_id" yaml:"company_id"`
	Name            *string          `json:"name" yaml:"name"`
	Description     *string          `json:"description" yaml:"description"`
	ReportType      *report.Type     `json:"report_type" yaml:"report_type"`
	Kind            *Kind            `json:"schedule_type" yaml:"schedule_type"`
	CronExpression  *string          `json:"cron_expression" yaml:"cron_expression"`
	IntervalMinutes *int             `json:"interval_minutes" yaml:"interval_minutes"`
	Timezone        *string          `json:"timezone" yaml:"timezone"`
	Recipients      []string         `json:"recipients" yaml:"recipients"`
	CCRecipients    []string         `json:"cc_recipients" yaml:"cc_recipients"`
	Filters         *tickets.Filters `json:"filters" yaml:"filters"`
	EmailSubject    *string          `json:"email_subject" yaml:"email_subject"`
	EmailBody       *string          `json:"email_body" yaml:"email_body"`
	IsActive        *bool            `json:"is_active" yaml:"is_active"`
	CreatedBy       *string          `json:"created_by" yaml:"created_by"`
}

// Apply copies the set fields of in onto s and reports whether the timing
// definition changed. CompanyID and CreatedBy are only honoured on create.
func (in *ScheduleInput) Apply(s *Schedule, creating bool) (timingChanged bool) {
	before := s.Definition()

	if creating {
		if in.CompanyID != nil {
			s.CompanyID = *in.CompanyID
		}
		if in.CreatedBy != nil {
			s.CreatedBy = *in.CreatedBy
		}
	}
	if in.Name != nil {
		s.Name = *in.Name
	}
	if in.Description != nil {
		s.Description = *in.Description
	}
	if in.ReportType != nil {
		s.ReportType = *in.ReportType
	}
	if in.CronExpression != nil {
		s.CronExpression = *in.CronExpression
	}
	if in.IntervalMinutes != nil {
		s.IntervalMinutes = *in.IntervalMinutes
	}
	if in.Kind != nil {
		s.Kind = *in.Kind
		// Switching kinds drops the other kind's field unless it was resent.
		if s.Kind == KindCron && in.IntervalMinutes == nil {
			s.IntervalMinutes = 0
		}
		if s.Kind == KindInterval && in.CronExpression == nil {
			s.CronExpression = ""
		}
	} else if s.Kind == "" {
		switch {
		case s.CronExpression != "":
			s.Kind = KindCron
		case s.IntervalMinutes != 0:
			s.Kind = KindInterval
		}
	}
	if in.Timezone != nil {
		s.Timezone = *in.Timezone
	}
	if in.Recipients != nil {
		s.Recipients = slices.Clone(in.Recipients)
	}
	if in.CCRecipients != nil {
		s.CCRecipients = slices.Clone(in.CCRecipients)
	}
	if in.Filters != nil {
		s.Filters = *in.Filters
	}
	if in.EmailSubject != nil {
		s.EmailSubject = *in.EmailSubject
	}
	if in.EmailBody != nil {
		s.EmailBody = *in.EmailBody
	}
	if in.IsActive != nil {
		s.IsActive = *in.IsActive
	}

	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if s.CCRecipients == nil {
		s.CCRecipients = []string{}
	}

	return s.Definition() != before
}

// ScheduleFilter narrows List.
type ScheduleFilter struct {
	CompanyID int64
	IsActive  *bool
	Limit     int
	Offset    int
}
