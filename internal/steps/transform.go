package steps

import (
	"context"
	"fmt"

	"github.com/rendis/flowsim/internal/expressions"
	"github.com/rendis/flowsim/pkg/schema"
)

// TransformBehavior runs the jq query in config.query over the execution
// context, with $input, $step and $execution bound. An object result becomes
// the outcome data; any other result is stored under config.target.
//
//	{"query": "[.documents[] | select(.verified)] | length", "target": "verifiedDocuments"}
type TransformBehavior struct {
	engine *expressions.GoJQEngine
}

// NewTransformBehavior creates the transform behavior.
func NewTransformBehavior(engine *expressions.GoJQEngine) *TransformBehavior {
	return &TransformBehavior{engine: engine}
}

func (b *TransformBehavior) Type() string { return schema.StepTypeTransform }

// ValidateConfig rejects a missing or non-compiling config.query.
func (b *TransformBehavior) ValidateConfig(config map[string]any) error {
	query, _ := config["query"].(string)
	if query == "" {
		return schema.NewError(schema.ErrCodeValidation, "transform step requires a non-empty config.query")
	}
	return b.engine.Compile(query)
}

func (b *TransformBehavior) Execute(ctx context.Context, in Input) (*Outcome, error) {
	if err := b.ValidateConfig(in.Step.Config); err != nil {
		return nil, err
	}
	query := in.Step.Config["query"].(string)

	result, err := b.engine.Transform(ctx, query, expressions.TransformScope{
		Context:     in.Context,
		Input:       in.InputData,
		Step:        in.Step,
		ExecutionID: in.ExecutionID,
	})
	if err != nil {
		return nil, err
	}

	data, ok := result.(map[string]any)
	if !ok {
		target, _ := in.Step.Config["target"].(string)
		if target == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"transform query produced %T; config.target is required for non-object results", result).
				WithStep(in.Step.ID)
		}
		data = map[string]any{target: result}
	}

	return &Outcome{
		Status:  schema.StepStatusCompleted,
		Message: fmt.Sprintf("transform step %q produced %d key(s)", in.Step.Name, len(data)),
		Data:    data,
	}, nil
}

var _ ConfigValidator = (*TransformBehavior)(nil)
