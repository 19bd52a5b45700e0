package steps

import (
	"context"
	"fmt"

	"github.com/rendis/flowsim/internal/expressions"
	"github.com/rendis/flowsim/pkg/schema"
)

// RegisterBuiltins registers the approval, notification, data_entry and
// custom behaviors plus the expression-backed transform and assign behaviors.
func RegisterBuiltins(reg *Registry) error {
	all := []Behavior{
		BehaviorFunc{StepType: schema.StepTypeApproval, Fn: approve},
		BehaviorFunc{StepType: schema.StepTypeNotification, Fn: notify},
		BehaviorFunc{StepType: schema.StepTypeDataEntry, Fn: enterData},
		BehaviorFunc{StepType: schema.StepTypeCustom, Fn: runCustom},
		NewTransformBehavior(expressions.NewGoJQEngine()),
		NewAssignBehavior(expressions.NewExprEngine()),
	}

	for _, b := range all {
		if err := reg.Register(b); err != nil {
			return err
		}
	}
	return nil
}

// NewBuiltinRegistry returns a registry holding RegisterBuiltins' behaviors.
func NewBuiltinRegistry() *Registry {
	reg := NewRegistry()
	if err := RegisterBuiltins(reg); err != nil {
		panic(err)
	}
	return reg
}

func approve(_ context.Context, in Input) (*Outcome, error) {
	return &Outcome{
		Status:  schema.StepStatusCompleted,
		Message: fmt.Sprintf("approval step %q approved", in.Step.Name),
		Data:    map[string]any{"approved": true},
	}, nil
}

func notify(_ context.Context, in Input) (*Outcome, error) {
	return &Outcome{
		Status:  schema.StepStatusCompleted,
		Message: fmt.Sprintf("notification sent for step %q", in.Step.Name),
		Data:    map[string]any{"notified": true},
	}, nil
}

// enterData echoes the execution's input as if a user had entered it.
func enterData(_ context.Context, in Input) (*Outcome, error) {
	return &Outcome{
		Status:  schema.StepStatusCompleted,
		Message: fmt.Sprintf("data entry step %q completed", in.Step.Name),
		Data:    schema.CloneMap(in.InputData),
	}, nil
}

func runCustom(_ context.Context, in Input) (*Outcome, error) {
	return &Outcome{
		Status:  schema.StepStatusCompleted,
		Message: fmt.Sprintf("custom step %q executed", in.Step.Name),
		Data:    schema.CloneMap(in.Step.Config),
	}, nil
}
