package expressions

import "context"

// Engine evaluates expressions against a run's data.
// CEL backs transition conditions, Expr backs the assign step, GoJQ backs
// the transform step.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
