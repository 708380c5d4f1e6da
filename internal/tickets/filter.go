package tickets

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// FilterEngine compiles and caches CEL ticket predicates. Expressions see
// the ticket fields as top-level variables, e.g.
// `priority == "high" && age_days > 3.0`.
type FilterEngine struct {
	env      *cel.Env
	programs map[string]cel.Program
	mu       sync.RWMutex
}

func NewFilterEngine() (*FilterEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.IntType),
		cel.Variable("ticket_id", cel.StringType),
		cel.Variable("ticket_number", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("priority", cel.StringType),
		cel.Variable("created_by", cel.StringType),
		cel.Variable("assigned_to", cel.StringType),
		cel.Variable("comments", cel.StringType),
		cel.Variable("created", cel.TimestampType),
		cel.Variable("age_seconds", cel.IntType),
		cel.Variable("age_days", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}

	return &FilterEngine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile checks that expr is a valid boolean predicate and caches it.
func (e *FilterEngine) Compile(expr string) error {
	_, err := e.program(expr)
	return err
}

// Apply returns the tickets for which expr evaluates to true. An empty
// expression keeps every ticket.
func (e *FilterEngine) Apply(expr string, in []Ticket) ([]Ticket, error) {
	if expr == "" {
		return in, nil
	}

	prg, err := e.program(expr)
	if err != nil {
		return nil, err
	}

	out := make([]Ticket, 0, len(in))
	for _, t := range in {
		result, _, err := prg.Eval(activation(t))
		if err != nil {
			return nil, fmt.Errorf("%w: ticket %s: %w", ErrFilterEvaluation, t.TicketNumber, err)
		}
		keep, ok := result.Value().(bool)
		if !ok {
			return nil, fmt.Errorf("%w: expression did not return boolean", ErrFilterEvaluation)
		}
		if keep {
			out = append(out, t)
		}
	}
	return out, nil
}

func (e *FilterEngine) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidExpression, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: expression must return bool, got %s", ErrInvalidExpression, ast.OutputType())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("creating program: %w", err)
	}

	e.mu.Lock()
	e.programs[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

func activation(t Ticket) map[string]any {
	return map[string]any{
		"id":            t.ID,
		"ticket_id":     t.TicketID,
		"ticket_number": t.TicketNumber,
		"status":        t.Status,
		"category":      t.Category,
		"priority":      t.Priority,
		"created_by":    t.CreatedBy,
		"assigned_to":   t.AssignedTo,
		"comments":      t.Comments,
		"created":       t.Created(),
		"age_seconds":   t.AgeSeconds,
		"age_days":      t.AgeDays(),
	}
}
