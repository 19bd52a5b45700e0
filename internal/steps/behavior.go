// Package steps executes workflow steps through a registry of behaviors
// keyed by step type.
package steps

import (
	"context"

	"github.com/rendis/flowsim/pkg/schema"
)

// Behavior simulates the effect of one step type.
type Behavior interface {
	Type() string
	Execute(ctx context.Context, in Input) (*Outcome, error)
}

// ConfigValidator is implemented by behaviors that can reject a step config
// before any run.
type ConfigValidator interface {
	ValidateConfig(config map[string]any) error
}

// Input is what a behavior sees. Context is a copy; changes to it are
// discarded. Only Outcome.Data reaches the execution context.
type Input struct {
	Step        *schema.WorkflowStep
	ExecutionID string
	Context     map[string]any
	InputData   map[string]any
}

// Outcome is the result of one step. An empty Status means COMPLETED.
type Outcome struct {
	Status  schema.StepStatus `json:"status"`
	Message string            `json:"message,omitempty"`
	Data    map[string]any    `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Failed reports whether the outcome stops the run.
func (o *Outcome) Failed() bool {
	return o != nil && o.Status == schema.StepStatusFailed
}

// BehaviorFunc adapts a function to Behavior.
type BehaviorFunc struct {
	StepType string
	Fn       func(ctx context.Context, in Input) (*Outcome, error)
}

func (b BehaviorFunc) Type() string { return b.StepType }

func (b BehaviorFunc) Execute(ctx context.Context, in Input) (*Outcome, error) {
	return b.Fn(ctx, in)
}
