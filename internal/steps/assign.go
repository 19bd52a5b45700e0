package steps

import (
	"context"
	"fmt"
	"sort"

	"github.com/rendis/flowsim/internal/expressions"
	"github.com/rendis/flowsim/pkg/schema"
)

// AssignBehavior evaluates the expr-lang expressions in config.set, one per
// key, with the execution context as environment.
//
//	{"set": {"riskScore": "amount > 10000 ? 80 : 20", "reviewer": "tier == 'gold' ? 'senior' : 'junior'"}}
//
// Expressions see the context as it was before the step; keys are evaluated
// in sorted order so results are deterministic.
type AssignBehavior struct {
	engine *expressions.ExprEngine
}

// NewAssignBehavior creates the assign behavior.
func NewAssignBehavior(engine *expressions.ExprEngine) *AssignBehavior {
	return &AssignBehavior{engine: engine}
}

func (b *AssignBehavior) Type() string { return schema.StepTypeAssign }

func (b *AssignBehavior) Execute(ctx context.Context, in Input) (*Outcome, error) {
	set, ok := in.Step.Config["set"].(map[string]any)
	if !ok || len(set) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "assign step requires a non-empty config.set object").
			WithStep(in.Step.ID)
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	data := make(map[string]any, len(set))
	for _, k := range keys {
		expr, ok := set[k].(string)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "assign expression for %q must be a string", k).
				WithStep(in.Step.ID)
		}
		v, err := b.engine.Evaluate(ctx, expr, in.Context)
		if err != nil {
			return nil, err
		}
		data[k] = v
	}

	return &Outcome{
		Status:  schema.StepStatusCompleted,
		Message: fmt.Sprintf("assign step %q set %d key(s)", in.Step.Name, len(data)),
		Data:    data,
	}, nil
}
