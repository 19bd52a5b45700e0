// Package engine walks workflow graphs: it picks the start step, runs each
// step, resolves transitions and records the audit trail of a simulation.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/flowsim/internal/conditions"
	"github.com/rendis/flowsim/internal/logging"
	"github.com/rendis/flowsim/internal/steps"
	"github.com/rendis/flowsim/internal/streaming"
	"github.com/rendis/flowsim/pkg/schema"
)

// Seeded context keys.
const (
	ContextWorkflowID  = "workflowId"
	ContextClientID    = "clientId"
	ContextExecutionID = "executionId"
)

// GraphStore is the part of the store a run needs. Implementations must be
// safe for concurrent use.
type GraphStore interface {
	LoadWorkflowWithGraph(ctx context.Context, workflowID string) (*schema.WorkflowGraph, error)
	GetClient(ctx context.Context, id string) (*schema.Client, error)
	CreateExecution(ctx context.Context, exec *schema.Execution) error
	AppendExecutionLog(ctx context.Context, log *schema.ExecutionLog) error
	UpdateExecutionStatus(ctx context.Context, id string, status schema.ExecutionStatus, completedAt time.Time) error
	LoadExecutionWithLogs(ctx context.Context, id string) (*schema.Execution, error)
}

// Runner drives simulations. One Runner serves any number of concurrent
// Simulate calls; each call owns its context map and visited set.
type Runner struct {
	store     GraphStore
	executor  *steps.Executor
	evaluator *conditions.Evaluator
	hub       streaming.EventHub
	fsm       *ExecutionFSM
	logger    *slog.Logger
	telemetry *telemetry
	retry     RetryPolicy

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures a Runner.
type Option func(*Runner)

// WithExecutor sets the step executor. Default: builtin behaviors, no delay.
func WithExecutor(x *steps.Executor) Option {
	return func(r *Runner) { r.executor = x }
}

// WithEvaluator sets the condition evaluator. Default: conditions.Default().
func WithEvaluator(ev *conditions.Evaluator) Option {
	return func(r *Runner) { r.evaluator = ev }
}

// WithEventHub publishes live events to hub.
func WithEventHub(hub streaming.EventHub) Option {
	return func(r *Runner) { r.hub = hub }
}

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithStoreRetry retries transient failures of the log and status writes a
// run makes. Default: no retries.
func WithStoreRetry(p RetryPolicy) Option {
	return func(r *Runner) { r.retry = p }
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Runner) { r.tracerProvider = tp }
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(r *Runner) { r.meterProvider = mp }
}

// NewRunner creates a Runner over store.
func NewRunner(store GraphStore, opts ...Option) *Runner {
	r := &Runner{store: store}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.executor == nil {
		r.executor = steps.NewExecutor(nil, steps.WithLogger(r.logger))
	}
	if r.evaluator == nil {
		r.evaluator = conditions.Default()
	}
	r.fsm = NewExecutionFSM(r.hub)
	r.telemetry = newTelemetry(r.tracerProvider, r.meterProvider)
	return r
}

// FSM exposes the execution state machine so callers can register hooks.
func (r *Runner) FSM() *ExecutionFSM {
	return r.fsm
}

// Simulate runs workflowID for clientID and returns the execution with its
// logs as stored. A FAILED step is an outcome, not an error: the execution
// comes back FAILED with a nil error. Errors are reserved for unknown
// workflows or clients (no execution is created) and for failures that
// escape the run, in which case the execution is marked FAILED with a
// run-level log before the error is returned.
func (r *Runner) Simulate(ctx context.Context, workflowID, clientID string, inputData map[string]any) (result *schema.Execution, err error) {
	ctx, span := r.telemetry.startRun(ctx, workflowID, clientID)
	var exec *schema.Execution
	defer func() { r.telemetry.endRun(ctx, span, exec, err) }()

	graph, err := r.store.LoadWorkflowWithGraph(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if _, err := r.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}

	input := schema.CloneMap(inputData)
	exec = &schema.Execution{
		ID:         executionIDFrom(ctx),
		WorkflowID: workflowID,
		ClientID:   clientID,
		Status:     schema.ExecutionStatusPending,
		Metadata:   map[string]any{"simulation": true, "inputData": input},
		StartedAt:  time.Now().UTC(),
	}

	ctx = logging.WithRun(ctx, exec.ID, workflowID, clientID)
	log := logging.LogWith(ctx, r.logger)

	if err := r.fsm.Transition(ctx, exec, schema.ExecutionStatusRunning, ""); err != nil {
		return nil, err
	}
	if err := r.store.CreateExecution(ctx, exec); err != nil {
		r.publish(ctx, schema.StreamEvent{
			Type:        schema.EventExecutionFailed,
			ExecutionID: exec.ID,
			WorkflowID:  workflowID,
			Status:      string(schema.ExecutionStatusFailed),
			Message:     err.Error(),
		})
		exec = nil
		return nil, err
	}
	log.Info("simulation started", slog.Int("steps", len(graph.Steps)))

	if runErr := r.walk(ctx, exec, graph, input); runErr != nil {
		log.Error("simulation aborted", slog.String("error", runErr.Error()))
		r.abort(ctx, exec, runErr)
		return nil, runError(exec.ID, runErr)
	}

	log.Info("simulation finished", slog.String("status", string(exec.Status)))
	return r.store.LoadExecutionWithLogs(ctx, exec.ID)
}

// walk is the run loop. It returns only errors that escape step outcomes.
func (r *Runner) walk(ctx context.Context, exec *schema.Execution, graph *schema.WorkflowGraph, input map[string]any) error {
	current, err := StartStep(graph)
	if err != nil {
		return err
	}

	runCtx := seedContext(input, exec)
	visited := make(map[string]bool, len(graph.Steps))

	for current != nil {
		if visited[current.ID] {
			logging.LogWith(ctx, r.logger).Warn("cycle detected, ending run",
				slog.String("step_id", current.ID), slog.String("step_name", current.Name))
			r.publish(ctx, schema.StreamEvent{
				Type:        schema.EventCycleDetected,
				ExecutionID: exec.ID,
				WorkflowID:  exec.WorkflowID,
				StepID:      current.ID,
				StepName:    current.Name,
				Message:     "step already visited",
			})
			break
		}
		visited[current.ID] = true

		outcome, err := r.runStep(ctx, exec, current, runCtx, input)
		if err != nil {
			return err
		}
		if outcome.Failed() {
			return r.finish(ctx, exec, schema.ExecutionStatusFailed, outcome.Error)
		}

		// Shallow merge, last write wins.
		for k, v := range outcome.Data {
			runCtx[k] = v
		}
		current = ResolveNext(current, graph, r.evaluator, runCtx)
	}

	return r.finish(ctx, exec, schema.ExecutionStatusCompleted, "")
}

// runStep executes one step and appends its log. The log is acknowledged
// before the next step starts.
func (r *Runner) runStep(ctx context.Context, exec *schema.Execution, step *schema.WorkflowStep, runCtx, input map[string]any) (*steps.Outcome, error) {
	stepCtx, span := r.telemetry.startStep(logging.WithStepID(ctx, step.ID), step)
	started := time.Now().UTC()
	outcome := r.executor.Execute(stepCtx, step, exec.ID, runCtx, input)
	r.telemetry.endStep(stepCtx, span, step, outcome.Status, outcome.Error)

	stepID := step.ID
	entry := &schema.ExecutionLog{
		ExecutionID: exec.ID,
		StepID:      &stepID,
		Status:      outcome.Status,
		Message:     outcome.Message,
		Data:        outcome.Data,
		Error:       outcome.Error,
		StartedAt:   started,
	}
	if outcome.Status != schema.StepStatusRunning {
		done := time.Now().UTC()
		entry.CompletedAt = &done
	}
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		return r.store.AppendExecutionLog(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	eventType := schema.EventStepCompleted
	if outcome.Failed() {
		eventType = schema.EventStepFailed
	}
	r.publish(ctx, schema.StreamEvent{
		Type:        eventType,
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		StepID:      step.ID,
		StepName:    step.Name,
		Status:      string(outcome.Status),
		Message:     outcome.Message,
		Data:        outcome.Data,
	})

	logging.LogWith(logging.WithStepID(ctx, step.ID), r.logger).Debug("step finished",
		slog.String("step_name", step.Name),
		slog.String("status", string(outcome.Status)),
		slog.Int64("sequence", entry.Sequence))
	return outcome, nil
}

// finish persists a terminal status, then moves the FSM. The FSM refuses any
// exit from a terminal status, so a FAILED execution is never overwritten.
func (r *Runner) finish(ctx context.Context, exec *schema.Execution, to schema.ExecutionStatus, reason string) error {
	if !CanTransition(exec.Status, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", exec.Status, to)
	}
	at := time.Now().UTC()
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		return r.store.UpdateExecutionStatus(ctx, exec.ID, to, at)
	})
	if err != nil {
		return err
	}
	if err := r.fsm.Transition(ctx, exec, to, reason); err != nil {
		// The stored status is already final.
		exec.Status = to
		return err
	}
	return nil
}

// abort is the failure path for errors that escape the run loop. It is best
// effort: the original error is what the caller sees. An execution whose
// terminal status was already stored is left as it is.
func (r *Runner) abort(ctx context.Context, exec *schema.Execution, cause error) {
	log := logging.LogWith(ctx, r.logger)
	if exec.Status.IsTerminal() {
		log.Error("execution finished with error",
			slog.String("status", string(exec.Status)), slog.String("error", cause.Error()))
		return
	}
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()

	if err := r.store.UpdateExecutionStatus(ctx, exec.ID, schema.ExecutionStatusFailed, now); err != nil {
		log.Error("mark execution failed", slog.String("error", err.Error()))
	}
	if err := r.fsm.Transition(ctx, exec, schema.ExecutionStatusFailed, cause.Error()); err != nil {
		exec.Status = schema.ExecutionStatusFailed
	}

	err := r.store.AppendExecutionLog(ctx, &schema.ExecutionLog{
		ExecutionID: exec.ID,
		Status:      schema.StepStatusFailed,
		Message:     "execution failed",
		Error:       cause.Error(),
		StartedAt:   now,
		CompletedAt: &now,
	})
	if err != nil {
		log.Error("append run-level failure log", slog.String("error", err.Error()))
	}
}

func (r *Runner) publish(ctx context.Context, ev schema.StreamEvent) {
	if r.hub == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := r.hub.Publish(context.WithoutCancel(ctx), ev); err != nil {
		logging.LogWith(ctx, r.logger).Debug("publish event", slog.String("type", ev.Type), slog.String("error", err.Error()))
	}
}

type executionIDKey struct{}

// WithExecutionID makes Simulate on the returned context use id for the
// execution it creates, so a caller can subscribe to its events beforehand.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey{}, id)
}

func executionIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(executionIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// seedContext builds the run context: the input plus run identifiers.
func seedContext(input map[string]any, exec *schema.Execution) map[string]any {
	runCtx := schema.CloneMap(input)
	runCtx[ContextWorkflowID] = exec.WorkflowID
	runCtx[ContextClientID] = exec.ClientID
	runCtx[ContextExecutionID] = exec.ID
	return runCtx
}

// runError wraps an escaped error, keeping the code of a FlowError cause.
func runError(executionID string, err error) *schema.FlowError {
	code := schema.ErrorCode(err)
	if code == "" {
		code = schema.ErrCodeExecution
	}
	return schema.NewErrorf(code, "execution %s failed: %s", executionID, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"execution_id": executionID})
}
