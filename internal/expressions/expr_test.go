package expressions

import (
	"context"
	"testing"

	"github.com/rendis/flowsim/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExprEngine_Evaluate(t *testing.T) {
	e := NewExprEngine()
	assert.Equal(t, "expr", e.Name())

	data := map[string]any{
		"amount":   250.0,
		"items":    []any{1.0, 2.0, 3.0},
		"customer": map[string]any{"name": "Acme"},
	}

	tests := []struct {
		name string
		expr string
		want any
	}{
		{"arithmetic", `amount * 2`, 500.0},
		{"builtin", `len(items)`, 3},
		{"predicate", `amount > 100 ? "high" : "low"`, "high"},
		{"member", `customer.name + " Ltd"`, "Acme Ltd"},
		{"undefined variable", `missing ?? "fallback"`, "fallback"},
		{"sum", `sum(items)`, 6.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Evaluate(context.Background(), tt.expr, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestExprEngine_ProgramReusedAcrossEnvs(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `score + 1`, map[string]any{"score": 1})
	require.NoError(t, err)
	assert.Equal(t, 2, out)

	out, err = e.Evaluate(context.Background(), `score + 1`, map[string]any{"score": 41})
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestExprEngine_Errors(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))

	_, err = e.Evaluate(context.Background(), `amount +`, nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))

	_, err = e.Evaluate(context.Background(), `customer.name.first`, map[string]any{"customer": "Acme"})
	assert.Equal(t, schema.ErrCodeExpression, schema.ErrorCode(err))
}
