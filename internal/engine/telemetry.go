package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/flowsim/pkg/schema"
)

const instrumentationName = "flowsim/engine"

// telemetry holds the runner's tracer and counters. With no providers
// configured the global (no-op by default) ones are used.
type telemetry struct {
	tracer     trace.Tracer
	executions metric.Int64Counter
	steps      metric.Int64Counter
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) *telemetry {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	t := &telemetry{tracer: tp.Tracer(instrumentationName)}
	var err error
	t.executions, err = meter.Int64Counter("flowsim.executions",
		metric.WithDescription("Finished simulations by final status"))
	if err != nil {
		otel.Handle(err)
	}
	t.steps, err = meter.Int64Counter("flowsim.steps",
		metric.WithDescription("Executed steps by type and outcome status"))
	if err != nil {
		otel.Handle(err)
	}
	return t
}

func (t *telemetry) startRun(ctx context.Context, workflowID, clientID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "simulate",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("flowsim.workflow_id", workflowID),
			attribute.String("flowsim.client_id", clientID),
		))
}

func (t *telemetry) startStep(ctx context.Context, step *schema.WorkflowStep) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "step."+step.Name,
		trace.WithAttributes(
			attribute.String("flowsim.step_id", step.ID),
			attribute.String("flowsim.step_type", step.StepType),
			attribute.Int("flowsim.step_order", step.Order),
		))
}

func (t *telemetry) endStep(ctx context.Context, span trace.Span, step *schema.WorkflowStep, status schema.StepStatus, errMsg string) {
	span.SetAttributes(attribute.String("flowsim.step_status", string(status)))
	if status == schema.StepStatusFailed {
		span.SetStatus(codes.Error, errMsg)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	if t.steps != nil {
		t.steps.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", step.StepType),
			attribute.String("status", string(status)),
		))
	}
}

func (t *telemetry) endRun(ctx context.Context, span trace.Span, exec *schema.Execution, err error) {
	if exec != nil {
		span.SetAttributes(
			attribute.String("flowsim.execution_id", exec.ID),
			attribute.String("flowsim.status", string(exec.Status)),
		)
		if t.executions != nil {
			t.executions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(exec.Status))))
		}
	}
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case exec != nil && exec.Status == schema.ExecutionStatusFailed:
		span.SetStatus(codes.Error, "execution failed")
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
