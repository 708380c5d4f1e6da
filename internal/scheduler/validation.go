package scheduler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gobwas/glob"

	"github.com/ticketdesk/reportd/internal/tickets"
)

// Validator checks schedules before they are persisted.
type Validator struct {
	validate *validator.Validate
	parser   *CronParser
	filters  *tickets.FilterEngine
	allowed  []glob.Glob
}

// NewValidator builds a validator. allowedRecipients are glob patterns such
// as "*@example.com"; when empty every well-formed address is accepted.
// filters may be nil to skip expression compilation.
func NewValidator(filters *tickets.FilterEngine, allowedRecipients []string) (*Validator, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("single_line", validateSingleLine); err != nil {
		return nil, fmt.Errorf("registering single_line: %w", err)
	}

	globs := make([]glob.Glob, 0, len(allowedRecipients))
	for _, pattern := range allowedRecipients {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("compiling recipient pattern %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}

	return &Validator{
		validate: v,
		parser:   NewCronParser(),
		filters:  filters,
		allowed:  globs,
	}, nil
}

// validateSingleLine rejects CR and LF, which would break mail headers.
func validateSingleLine(fl validator.FieldLevel) bool {
	return !strings.ContainsAny(fl.Field().String(), "\r\n")
}

// Validate checks s and, when valid, returns its next run after now.
func (v *Validator) Validate(s *Schedule, now time.Time) (time.Time, error) {
	verr := &ValidationError{}

	if err := v.validate.Struct(s); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return time.Time{}, fmt.Errorf("validating schedule: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.Fields = append(verr.Fields, FieldError{
				Field:   fieldPath(fe.Namespace()),
				Message: fieldMessage(fe),
			})
		}
	}

	v.validateTiming(s, verr)
	v.validateRecipients("recipients", s.Recipients, verr)
	v.validateRecipients("cc_recipients", s.CCRecipients, verr)

	if s.Filters.Expression != "" && v.filters != nil {
		if err := v.filters.Compile(s.Filters.Expression); err != nil {
			verr.add("filters.expression", "%v", err)
		}
	}

	if err := verr.orNil(); err != nil {
		return time.Time{}, err
	}

	next, err := v.parser.NextRun(s.Definition(), now)
	if err != nil {
		field := "cron_expression"
		if s.Kind == KindInterval {
			field = "interval_minutes"
		}
		verr.add(field, "%v", err)
		return time.Time{}, verr
	}
	return next, nil
}

func (v *Validator) validateTiming(s *Schedule, verr *ValidationError) {
	switch s.Kind {
	case KindCron:
		if strings.TrimSpace(s.CronExpression) == "" {
			verr.add("cron_expression", "is required when schedule_type is cron")
		} else if _, err := v.parser.Parse(s.CronExpression); err != nil {
			var ise *InvalidScheduleError
			if errors.As(err, &ise) {
				verr.add("cron_expression", "%s", ise.Reason)
			} else {
				verr.add("cron_expression", "%v", err)
			}
		}
		if s.IntervalMinutes != 0 {
			verr.add("interval_minutes", "must be empty when schedule_type is cron")
		}
	case KindInterval:
		if s.IntervalMinutes <= 0 {
			verr.add("interval_minutes", "must be a positive number of minutes when schedule_type is interval")
		}
		if s.CronExpression != "" {
			verr.add("cron_expression", "must be empty when schedule_type is interval")
		}
	}

	if _, err := loadLocation(s.Timezone); err != nil {
		verr.add("timezone", "%v", err)
	}
}

func (v *Validator) validateRecipients(field string, addrs []string, verr *ValidationError) {
	if len(v.allowed) == 0 {
		return
	}
	for i, addr := range addrs {
		if !v.recipientAllowed(addr) {
			verr.add(fmt.Sprintf("%s[%d]", field, i), "address %q is not in the allowed recipients list", addr)
		}
	}
}

func (v *Validator) recipientAllowed(addr string) bool {
	addr = strings.ToLower(strings.TrimSpace(addr))
	for _, g := range v.allowed {
		if g.Match(addr) {
			return true
		}
	}
	return false
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	_, rest, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return rest
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "single_line":
		return "must be a single line"
	case "email":
		return fmt.Sprintf("%q is not a valid email address", fe.Value())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "min":
		if fe.Kind() == reflect.Slice {
			return "must contain at least " + fe.Param() + " entries"
		}
		return "must be at least " + fe.Param() + " characters"
	case "max":
		if fe.Kind() == reflect.Slice {
			return "must contain at most " + fe.Param() + " entries"
		}
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
