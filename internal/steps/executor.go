package steps

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/flowsim/internal/logging"
	"github.com/rendis/flowsim/pkg/schema"
)

// Executor dispatches steps to behaviors. It never returns an error: every
// failure, including a panicking behavior, becomes a FAILED outcome.
type Executor struct {
	registry *Registry
	delay    time.Duration
	logger   *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithDelay pauses before each step to model processing time.
func WithDelay(d time.Duration) ExecutorOption {
	return func(x *Executor) { x.delay = d }
}

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(x *Executor) { x.logger = l }
}

// NewExecutor creates an executor over reg. A nil registry gets the builtins.
func NewExecutor(reg *Registry, opts ...ExecutorOption) *Executor {
	if reg == nil {
		reg = NewBuiltinRegistry()
	}
	x := &Executor{registry: reg, logger: slog.Default()}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Registry returns the behavior registry.
func (x *Executor) Registry() *Registry {
	return x.registry
}

// Execute runs step and returns its outcome.
func (x *Executor) Execute(ctx context.Context, step *schema.WorkflowStep, executionID string, runCtx, inputData map[string]any) (out *Outcome) {
	log := logging.LogWith(ctx, x.logger).With(
		slog.String("step_type", step.StepType),
		slog.String("step_name", step.Name),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("step behavior panicked", slog.Any("panic", r))
			out = failed(step, fmt.Sprintf("panic: %v", r))
		}
	}()

	if x.delay > 0 {
		timer := time.NewTimer(x.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return failed(step, ctx.Err().Error())
		case <-timer.C:
		}
	}

	b, err := x.registry.Get(step.StepType)
	if err != nil {
		log.Debug("no behavior registered for step type")
		return &Outcome{
			Status:  schema.StepStatusCompleted,
			Message: fmt.Sprintf("step %q executed", step.Name),
		}
	}

	out, err = b.Execute(ctx, Input{
		Step:        step,
		ExecutionID: executionID,
		Context:     schema.CloneMap(runCtx),
		InputData:   inputData,
	})
	if err != nil {
		log.Warn("step behavior failed", slog.String("error", err.Error()))
		return failed(step, err.Error())
	}
	if out == nil {
		out = &Outcome{Message: fmt.Sprintf("step %q executed", step.Name)}
	}
	if out.Status == "" {
		out.Status = schema.StepStatusCompleted
	}
	return out
}

func failed(step *schema.WorkflowStep, msg string) *Outcome {
	return &Outcome{
		Status:  schema.StepStatusFailed,
		Message: fmt.Sprintf("step %q failed", step.Name),
		Error:   msg,
	}
}
