// Package tickets is the client side of the ticket query service that
// scheduled reports pull their data from.
package tickets

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidExpression = errors.New("invalid filter expression")
	ErrFilterEvaluation  = errors.New("filter evaluation failed")
)

// Ticket is a ticket as returned by the ticket query service.
type Ticket struct {
	ID            int64  `json:"id"`
	CompanyID     int64  `json:"company_id"`
	TicketID      string `json:"ticket_id"`
	TicketNumber  string `json:"ticket_number"`
	Status        string `json:"status"`
	Category      string `json:"category"`
	Priority      string `json:"priority,omitempty"`
	CreatedBy     string `json:"created_by"`
	AssignedTo    string `json:"assigned_to"`
	Comments      string `json:"comments"`
	CreatedDateTS int64  `json:"created_date_ts"`
	AgeSeconds    int64  `json:"age_seconds"`
}

// Created returns the ticket creation instant.
func (t Ticket) Created() time.Time {
	return time.Unix(t.CreatedDateTS, 0).UTC()
}

// AgeDays returns the ticket age in fractional days.
func (t Ticket) AgeDays() float64 {
	return float64(t.AgeSeconds) / 86400
}

// Filters select the tickets included in a report. Status, Category and
// DateRangeDays are forwarded to the ticket service; Expression is a CEL
// predicate evaluated locally against each returned ticket.
type Filters struct {
	Status        string `json:"status,omitempty" yaml:"status,omitempty"`
	Category      string `json:"category,omitempty" yaml:"category,omitempty"`
	DateRangeDays int    `json:"date_range_days,omitempty" yaml:"date_range_days,omitempty" validate:"gte=0,lte=3650"`
	Expression    string `json:"expression,omitempty" yaml:"expression,omitempty" validate:"max=2000"`
}

// Company is the subset of the company directory used here.
type Company struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// StatusError is returned when the ticket service answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("ticket service returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("ticket service returned HTTP %d: %s", e.StatusCode, e.Detail)
}
