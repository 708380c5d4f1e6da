package database

import (
	"errors"
	"regexp"
	"strings"
)

// Constraint sentinels. A *ConstraintError unwraps to one of them.
var (
	ErrUnique  = errors.New("unique constraint violated")
	ErrNotNull = errors.New("not null constraint failed")
	ErrCheck   = errors.New("check constraint failed")
)

// ConstraintError is a write rejected by a table constraint.
type ConstraintError struct {
	Kind   error
	Table  string
	Column string
	// Rule is the CHECK expression when sqlite reports it.
	Rule string
	Err  error
}

func (e *ConstraintError) Error() string {
	switch {
	case e.Column != "":
		return e.Kind.Error() + " on " + e.Column
	case e.Rule != "":
		return e.Kind.Error() + ": " + e.Rule
	default:
		return e.Kind.Error()
	}
}

func (e *ConstraintError) Unwrap() []error { return []error{e.Kind, e.Err} }

var (
	uniqueRe  = regexp.MustCompile(`UNIQUE constraint failed: (\S+)`)
	notNullRe = regexp.MustCompile(`NOT NULL constraint failed: (\S+)`)
	checkRe   = regexp.MustCompile(`CHECK constraint failed:? ?(.*?)(?: \(\d+\))?$`)
	columnRe  = regexp.MustCompile(`^\s*(\w+)\b`)
)

// ClassifyError turns sqlite constraint failures into *ConstraintError and
// returns every other error unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()

	if m := uniqueRe.FindStringSubmatch(msg); m != nil {
		ce := &ConstraintError{Kind: ErrUnique, Err: err}
		// Composite keys are reported as "t.a, t.b"; the first column names it.
		ce.Table, ce.Column = splitColumn(strings.TrimSuffix(m[1], ","))
		return ce
	}
	if m := notNullRe.FindStringSubmatch(msg); m != nil {
		ce := &ConstraintError{Kind: ErrNotNull, Err: err}
		ce.Table, ce.Column = splitColumn(m[1])
		return ce
	}
	if m := checkRe.FindStringSubmatch(msg); m != nil {
		ce := &ConstraintError{Kind: ErrCheck, Rule: strings.TrimSpace(m[1]), Err: err}
		if c := columnRe.FindStringSubmatch(ce.Rule); c != nil {
			ce.Column = c[1]
		}
		return ce
	}
	return err
}

func splitColumn(qualified string) (table, column string) {
	if t, c, ok := strings.Cut(qualified, "."); ok {
		return t, c
	}
	return "", qualified
}
