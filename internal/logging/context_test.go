package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", ExecutionID(ctx))
	assert.Equal(t, "", StepID(ctx))

	ctx = WithRun(ctx, "exec-1", "wf-1", "client-1")
	ctx = WithStepID(ctx, "step-1")

	assert.Equal(t, "exec-1", ExecutionID(ctx))
	assert.Equal(t, "wf-1", WorkflowID(ctx))
	assert.Equal(t, "client-1", ClientID(ctx))
	assert.Equal(t, "step-1", StepID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithRun(context.Background(), "exec-abc", "wf-abc", "")
	LogWith(ctx, logger).Info("step executed")

	out := buf.String()
	assert.Contains(t, out, "execution_id=exec-abc")
	assert.Contains(t, out, "workflow_id=wf-abc")
	assert.NotContains(t, out, "client_id", "empty ids are omitted")
	assert.NotContains(t, out, "step_id")
}

func TestLogWith_NilLoggerUsesDefault(t *testing.T) {
	assert.NotNil(t, LogWith(context.Background(), nil))
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil))).With("component", "runner")

	ctx := WithStepID(WithExecutionID(context.Background(), "exec-9"), "review")
	logger.InfoContext(ctx, "step completed", "status", "COMPLETED")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "exec-9", rec["execution_id"])
	assert.Equal(t, "review", rec["step_id"])
	assert.Equal(t, "runner", rec["component"])
	assert.Equal(t, "COMPLETED", rec["status"])
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "json")

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.WarnContext(WithExecutionID(context.Background(), "e1"), "visible")
	assert.Contains(t, buf.String(), `"execution_id":"e1"`)

	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
}
