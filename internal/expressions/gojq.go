package expressions

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"
	"github.com/rendis/flowsim/pkg/schema"
)

// jqVariables are bound next to the query input, which is the execution
// context accumulated so far.
//   - $input:     the caller-supplied input of the execution
//   - $step:      id, name, type and config of the transform step
//   - $execution: the execution id
var jqVariables = []string{"$input", "$step", "$execution"}

// TransformScope is what a transform query sees during a run.
type TransformScope struct {
	Context     map[string]any
	Input       map[string]any
	Step        *schema.WorkflowStep
	ExecutionID string
}

// GoJQEngine runs the jq queries of transform steps. Compiled queries are
// cached; safe for concurrent use.
type GoJQEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewGoJQEngine creates a jq engine.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{
		cache: make(map[string]*gojq.Code),
	}
}

// Name returns the engine identifier.
func (e *GoJQEngine) Name() string {
	return "jq"
}

// Evaluate runs query with data as its input and the run variables bound to
// empty values.
func (e *GoJQEngine) Evaluate(ctx context.Context, query string, data map[string]any) (any, error) {
	return e.Transform(ctx, query, TransformScope{Context: data})
}

// Transform runs query over scope.Context with $input, $step and $execution
// bound from scope. Go integer types anywhere in the scope are accepted. A
// single output is returned as is, several are collected into []any and none
// yields nil.
func (e *GoJQEngine) Transform(ctx context.Context, query string, scope TransformScope) (any, error) {
	code, err := e.compile(query)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, jqValue(nonNil(scope.Context)),
		jqValue(nonNil(scope.Input)), stepVariable(scope.Step), scope.ExecutionID)

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, jqError(schema.ErrCodeExpression, "jq query failed", query, err).
				WithStep(stepID(scope.Step))
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// Compile checks query without running it.
func (e *GoJQEngine) Compile(query string) error {
	_, err := e.compile(query)
	return err
}

func (e *GoJQEngine) compile(query string) (*gojq.Code, error) {
	if query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq query")
	}

	e.mu.RLock()
	code, ok := e.cache[query]
	e.mu.RUnlock()
	if ok {
		return code, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if code, ok := e.cache[query]; ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, jqError(schema.ErrCodeValidation, "jq parse error", query, err)
	}
	code, err = gojq.Compile(parsed,
		gojq.WithVariables(jqVariables),
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, jqError(schema.ErrCodeValidation, "jq compile error", query, err)
	}

	e.cache[query] = code
	return code, nil
}

func jqError(code, what, query string, err error) *schema.FlowError {
	return schema.NewErrorf(code, "%s in %q: %s", what, query, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"query": query})
}

func stepVariable(s *schema.WorkflowStep) map[string]any {
	if s == nil {
		return map[string]any{}
	}
	return map[string]any{
		"id":     s.ID,
		"name":   s.Name,
		"type":   s.StepType,
		"config": jqValue(nonNil(s.Config)),
	}
}

func stepID(s *schema.WorkflowStep) string {
	if s == nil {
		return ""
	}
	return s.ID
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// jqValue copies v into the value types gojq accepts: sized integers become
// int and float32 becomes float64.
func jqValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = jqValue(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = jqValue(v)
		}
		return out
	case int64:
		return int(val)
	case int32:
		return int(val)
	case int16:
		return int(val)
	case int8:
		return int(val)
	case uint32:
		return int(val)
	case uint16:
		return int(val)
	case uint8:
		return int(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

var _ Engine = (*GoJQEngine)(nil)
