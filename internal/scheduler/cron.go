package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// lookaheadYears bounds the search for the next cron instant.
const (
	lookaheadYears = 4
	lookaheadLabel = "4 years"
)

// Definition is the timing part of a schedule.
type Definition struct {
	Kind            Kind
	CronExpression  string
	IntervalMinutes int
	Timezone        string
}

func (d Definition) String() string {
	if d.Kind == KindInterval {
		return fmt.Sprintf("every %d minutes", d.IntervalMinutes)
	}
	return d.CronExpression
}

// Preset is a named shorthand for a cron expression.
type Preset struct {
	Name        string `json:"name"`
	Expression  string `json:"cron_expression"`
	Description string `json:"description"`
}

// Presets are the named cron shorthands accepted in place of an expression.
var Presets = []Preset{
	{Name: "hourly", Expression: "0 * * * *", Description: "Every hour"},
	{Name: "daily_9am", Expression: "0 9 * * *", Description: "Every day at 9:00 AM"},
	{Name: "daily_midnight", Expression: "0 0 * * *", Description: "Every day at midnight"},
	{Name: "weekly_monday", Expression: "0 9 * * 1", Description: "Every Monday at 9:00 AM"},
	{Name: "monthly", Expression: "0 9 1 * *", Description: "1st of every month at 9:00 AM"},
}

// ResolvePreset returns the cron expression for a preset name, or expr
// unchanged when it is not a preset.
func ResolvePreset(expr string) string {
	name := strings.TrimSpace(expr)
	for _, p := range Presets {
		if p.Name == name {
			return p.Expression
		}
	}
	return expr
}

// CronParser wraps robfig/cron for standard 5-field expressions.
type CronParser struct {
	parser cron.Parser
}

// NewCronParser creates a parser for minute, hour, day-of-month, month and
// day-of-week fields.
func NewCronParser() *CronParser {
	return &CronParser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

var defaultParser = NewCronParser()

// Parse parses a cron expression or preset name.
func (p *CronParser) Parse(expression string) (cron.Schedule, error) {
	resolved := ResolvePreset(expression)

	fields := strings.Fields(resolved)
	if len(fields) != 5 {
		return nil, &InvalidScheduleError{
			Definition: expression,
			Reason:     fmt.Sprintf("expected 5 fields, got %d", len(fields)),
		}
	}

	dow, err := normalizeDow(fields[4])
	if err != nil {
		return nil, &InvalidScheduleError{Definition: expression, Reason: err.Error()}
	}
	fields[4] = dow

	schedule, err := p.parser.Parse(strings.Join(fields, " "))
	if err != nil {
		return nil, &InvalidScheduleError{Definition: expression, Reason: err.Error()}
	}
	return schedule, nil
}

// NextRun returns the first instant strictly after after that satisfies def.
// The result is in UTC.
func (p *CronParser) NextRun(def Definition, after time.Time) (time.Time, error) {
	loc, err := loadLocation(def.Timezone)
	if err != nil {
		return time.Time{}, &InvalidScheduleError{Definition: def.String(), Reason: err.Error()}
	}

	switch def.Kind {
	case KindCron:
		schedule, err := p.Parse(def.CronExpression)
		if err != nil {
			return time.Time{}, err
		}

		next := schedule.Next(after.In(loc))
		if next.IsZero() || next.After(after.AddDate(lookaheadYears, 0, 0)) {
			return time.Time{}, &SchedulingError{
				Definition: def.CronExpression,
				After:      after.UTC().Format(time.RFC3339),
			}
		}
		return next.UTC(), nil

	case KindInterval:
		if def.IntervalMinutes <= 0 {
			return time.Time{}, &InvalidScheduleError{
				Definition: def.String(),
				Reason:     "interval_minutes must be positive",
			}
		}
		return after.Add(time.Duration(def.IntervalMinutes) * time.Minute).UTC(), nil

	default:
		return time.Time{}, &InvalidScheduleError{
			Definition: def.String(),
			Reason:     fmt.Sprintf("unknown schedule type %q", def.Kind),
		}
	}
}

// Upcoming returns up to n successive run instants after after.
func (p *CronParser) Upcoming(def Definition, after time.Time, n int) ([]time.Time, error) {
	runs := make([]time.Time, 0, n)
	for range n {
		next, err := p.NextRun(def, after)
		if err != nil {
			if len(runs) > 0 {
				return runs, nil
			}
			return nil, err
		}
		runs = append(runs, next)
		after = next
	}
	return runs, nil
}

// NextRun evaluates def with the default parser.
func NextRun(def Definition, after time.Time) (time.Time, error) {
	return defaultParser.NextRun(def, after)
}

// CalculateNextRun returns the schedule's next run after after.
func CalculateNextRun(s *Schedule, after time.Time) (time.Time, error) {
	return defaultParser.NextRun(s.Definition(), after)
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q", name)
	}
	return loc, nil
}

// normalizeDow rewrites day-of-week 7 as 0 so both spellings of Sunday parse.
func normalizeDow(field string) (string, error) {
	parts := strings.Split(field, ",")
	out := make([]string, 0, len(parts)+1)

	for _, part := range parts {
		base, step, hasStep := strings.Cut(part, "/")
		lo, hi, isRange := strings.Cut(base, "-")

		switch {
		case !isRange && base == "7":
			if hasStep {
				return "", fmt.Errorf("invalid day-of-week %q", part)
			}
			out = append(out, "0")

		case isRange && hi == "7":
			if lo == "7" {
				out = append(out, "0")
				continue
			}
			start, err := strconv.Atoi(lo)
			if err != nil {
				// Named ranges like MON-7 are left to the parser.
				out = append(out, part)
				continue
			}
			stepN := 1
			if hasStep {
				if stepN, err = strconv.Atoi(step); err != nil || stepN <= 0 {
					return "", fmt.Errorf("invalid day-of-week step %q", part)
				}
			}
			if start <= 6 {
				rebuilt := lo + "-6"
				if hasStep {
					rebuilt += "/" + step
				}
				out = append(out, rebuilt)
			}
			if (7-start)%stepN == 0 {
				out = append(out, "0")
			}

		default:
			out = append(out, part)
		}
	}

	return strings.Join(out, ","), nil
}
