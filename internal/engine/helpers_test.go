package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rendis/flowsim/internal/store"
	"github.com/rendis/flowsim/pkg/schema"
)

// fixture builds one workflow for one client in a MemoryStore.
type fixture struct {
	t      *testing.T
	store  *store.MemoryStore
	client *schema.Client
	wf     *schema.Workflow
	steps  map[string]*schema.WorkflowStep
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()
	c := &schema.Client{Name: "Acme"}
	require.NoError(t, s.CreateClient(ctx, c))
	wf := &schema.Workflow{Name: "wf", ClientID: c.ID, Status: schema.WorkflowStatusActive}
	require.NoError(t, s.CreateWorkflow(ctx, wf))
	return &fixture{t: t, store: s, client: c, wf: wf, steps: map[string]*schema.WorkflowStep{}}
}

func (f *fixture) step(name, stepType string, order int, config map[string]any) *schema.WorkflowStep {
	f.t.Helper()
	st := &schema.WorkflowStep{WorkflowID: f.wf.ID, Name: name, StepType: stepType, Order: order, Config: config}
	require.NoError(f.t, f.store.AddStep(context.Background(), st))
	f.steps[name] = st
	return st
}

func (f *fixture) link(from, to string, cond *schema.Condition) {
	f.t.Helper()
	f.addTransition(from, to, cond, false)
}

func (f *fixture) fallback(from, to string) {
	f.t.Helper()
	f.addTransition(from, to, nil, true)
}

func (f *fixture) addTransition(from, to string, cond *schema.Condition, isDefault bool) {
	f.t.Helper()
	tr := &schema.WorkflowTransition{
		WorkflowID: f.wf.ID,
		FromStepID: f.steps[from].ID,
		ToStepID:   f.steps[to].ID,
		Condition:  cond,
		IsDefault:  isDefault,
	}
	require.NoError(f.t, f.store.AddTransition(context.Background(), tr))
}

func (f *fixture) simulate(r *Runner, input map[string]any) (*schema.Execution, error) {
	return r.Simulate(context.Background(), f.wf.ID, f.client.ID, input)
}

// visitedNames maps step logs back to step names in sequence order.
func (f *fixture) visitedNames(exec *schema.Execution) []string {
	byID := map[string]string{}
	for name, st := range f.steps {
		byID[st.ID] = name
	}
	var names []string
	for _, l := range exec.Logs {
		if l.StepID != nil {
			names = append(names, byID[*l.StepID])
		}
	}
	return names
}

// flakyStore fails the Nth AppendExecutionLog call (1-based).
type flakyStore struct {
	*store.MemoryStore
	failOn int

	mu    sync.Mutex
	calls int
}

func (s *flakyStore) AppendExecutionLog(ctx context.Context, l *schema.ExecutionLog) error {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	if n == s.failOn {
		return schema.NewError(schema.ErrCodeStore, "disk full").WithCause(errors.New("disk full"))
	}
	return s.MemoryStore.AppendExecutionLog(ctx, l)
}

// statusFailStore refuses to persist one status.
type statusFailStore struct {
	*store.MemoryStore
	refuse schema.ExecutionStatus
}

func (s *statusFailStore) UpdateExecutionStatus(ctx context.Context, id string, status schema.ExecutionStatus, at time.Time) error {
	if status == s.refuse {
		return schema.NewErrorf(schema.ErrCodeStore, "cannot persist %s", status)
	}
	return s.MemoryStore.UpdateExecutionStatus(ctx, id, status, at)
}
