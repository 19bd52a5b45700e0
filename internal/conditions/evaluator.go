// Package conditions evaluates transition predicates against an execution
// context.
package conditions

import (
	"context"
	"sort"
	"sync"

	"github.com/rendis/flowsim/internal/expressions"
	"github.com/rendis/flowsim/pkg/schema"
)

// Built-in operator names.
const (
	OpEquals      = "equals"
	OpNotEquals   = "notEquals"
	OpGreaterThan = "greaterThan"
	OpLessThan    = "lessThan"
	OpContains    = "contains"
)

// Comparator decides an operator for one field. actual is Undefined when the
// field is absent from the context.
type Comparator func(actual, expected any) bool

// UnknownOperatorPolicy decides conditions whose operator is not registered.
type UnknownOperatorPolicy func(operator string) bool

// FailOpen treats an unknown operator as satisfied. It is the default.
func FailOpen(string) bool { return true }

// FailClosed treats an unknown operator as unsatisfied.
func FailClosed(string) bool { return false }

// Scope is what a condition can see. Step is exposed to CEL expressions only.
type Scope struct {
	Context map[string]any
	Step    *schema.WorkflowStep
}

// Evaluator holds the operator table. Safe for concurrent use.
type Evaluator struct {
	mu        sync.RWMutex
	operators map[string]Comparator
	onUnknown UnknownOperatorPolicy
	cel       *expressions.CELEngine
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithUnknownOperatorPolicy replaces FailOpen.
func WithUnknownOperatorPolicy(p UnknownOperatorPolicy) Option {
	return func(e *Evaluator) {
		if p != nil {
			e.onUnknown = p
		}
	}
}

// WithCELEngine sets the engine used for expression conditions.
func WithCELEngine(cel *expressions.CELEngine) Option {
	return func(e *Evaluator) { e.cel = cel }
}

// NewEvaluator returns an Evaluator with the built-in operators registered.
// Without WithCELEngine a private CEL engine is created; if that fails,
// expression conditions evaluate to false.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		operators: map[string]Comparator{
			OpEquals:      strictEqual,
			OpNotEquals:   notEqual,
			OpGreaterThan: greaterThan,
			OpLessThan:    lessThan,
			OpContains:    contains,
		},
		onUnknown: FailOpen,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cel == nil {
		e.cel, _ = expressions.NewCELEngine()
	}
	return e
}

// Register adds an operator. Returns a CONFLICT error on duplicate names.
func (e *Evaluator) Register(name string, cmp Comparator) error {
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "operator name is empty")
	}
	if cmp == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "operator %q has no comparator", name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.operators[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "operator %q already registered", name)
	}
	e.operators[name] = cmp
	return nil
}

// Has reports whether an operator is registered.
func (e *Evaluator) Has(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.operators[name]
	return ok
}

// Operators lists registered operator names, sorted.
func (e *Evaluator) Operators() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.operators))
	for name := range e.operators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CompileExpression reports whether expr is a valid condition expression.
func (e *Evaluator) CompileExpression(expr string) error {
	if e.cel == nil {
		return schema.NewError(schema.ErrCodeExpression, "no CEL engine available")
	}
	return e.cel.Compile(expr)
}

// Evaluate decides cond against data. An empty condition always holds.
func (e *Evaluator) Evaluate(cond *schema.Condition, data map[string]any) bool {
	return e.EvaluateIn(cond, Scope{Context: data})
}

// EvaluateIn is Evaluate with the full scope available to expressions.
func (e *Evaluator) EvaluateIn(cond *schema.Condition, scope Scope) bool {
	switch {
	case cond.IsTriple():
		return e.compare(cond, scope.Context)
	case cond != nil && cond.Expression != "":
		return e.evaluateExpression(cond.Expression, scope)
	default:
		return true
	}
}

func (e *Evaluator) compare(cond *schema.Condition, data map[string]any) bool {
	e.mu.RLock()
	cmp, ok := e.operators[cond.Operator]
	e.mu.RUnlock()

	if !ok {
		return e.onUnknown(cond.Operator)
	}
	return cmp(Lookup(data, cond.Field), cond.Value)
}

func (e *Evaluator) evaluateExpression(expr string, scope Scope) bool {
	if e.cel == nil {
		return false
	}
	data := map[string]any{"context": scope.Context}
	if s := scope.Step; s != nil {
		data["step"] = map[string]any{
			"id":       s.ID,
			"name":     s.Name,
			"stepType": s.StepType,
			"order":    int64(s.Order),
			"config":   schema.CloneMap(s.Config),
		}
	}
	out, err := e.cel.Evaluate(context.Background(), expr, data)
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}

var (
	defaultOnce      sync.Once
	defaultEvaluator *Evaluator
)

// Default returns the shared evaluator with built-in operators and FailOpen.
func Default() *Evaluator {
	defaultOnce.Do(func() { defaultEvaluator = NewEvaluator() })
	return defaultEvaluator
}

// Evaluate decides cond against data using Default().
func Evaluate(cond *schema.Condition, data map[string]any) bool {
	return Default().Evaluate(cond, data)
}
