package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowsim/internal/engine"
	"github.com/rendis/flowsim/internal/store"
	"github.com/rendis/flowsim/pkg/schema"
)

// mockSimulator records Simulate calls. When block is set, calls wait on it.
type mockSimulator struct {
	mu    sync.Mutex
	calls []simCall
	err   error
	block chan struct{}
	began chan struct{}
}

type simCall struct {
	WorkflowID string
	ClientID   string
	Input      map[string]any
}

func (m *mockSimulator) Simulate(ctx context.Context, workflowID, clientID string, input map[string]any) (*schema.Execution, error) {
	m.mu.Lock()
	m.calls = append(m.calls, simCall{WorkflowID: workflowID, ClientID: clientID, Input: input})
	n := len(m.calls)
	m.mu.Unlock()

	if m.began != nil {
		m.began <- struct{}{}
	}
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &schema.Execution{
		ID:         "exec-" + string(rune('0'+n)),
		WorkflowID: workflowID,
		ClientID:   clientID,
		Status:     schema.ExecutionStatusCompleted,
	}, nil
}

func (m *mockSimulator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 30, 0, time.UTC)}
}

func hourly(name string) Schedule {
	return Schedule{Name: name, Cron: "0 * * * *", WorkflowID: "wf-1", ClientID: "client-1",
		Input: map[string]any{"source": "cron"}}
}

func TestNew_Validation(t *testing.T) {
	sim := &mockSimulator{}
	tests := []struct {
		name      string
		schedules []Schedule
	}{
		{"missing name", []Schedule{{Cron: "* * * * *", WorkflowID: "w", ClientID: "c"}}},
		{"missing cron", []Schedule{{Name: "a", WorkflowID: "w", ClientID: "c"}}},
		{"missing workflow", []Schedule{{Name: "a", Cron: "* * * * *", ClientID: "c"}}},
		{"bad cron", []Schedule{{Name: "a", Cron: "every tuesday", WorkflowID: "w", ClientID: "c"}}},
		{"duplicate name", []Schedule{hourly("a"), hourly("a")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(sim, tt.schedules, WithLogger(testLogger()))
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
		})
	}
}

func TestNew_NextRunFromClock(t *testing.T) {
	clock := newClock()
	s, err := New(&mockSimulator{}, []Schedule{
		hourly("hourly"),
		{Name: "secs", Cron: "*/15 * * * * *", WorkflowID: "w", ClientID: "c"},
		{Name: "every", Cron: "@every 5m", WorkflowID: "w", ClientID: "c"},
	}, WithClock(clock.Now), WithLogger(testLogger()))
	require.NoError(t, err)

	st := s.Status()
	require.Len(t, st, 3)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), st[0].NextRunAt)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 45, 0, time.UTC), st[1].NextRunAt)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 5, 30, 0, time.UTC), st[2].NextRunAt)
}

func TestTick_RunsDueSchedules(t *testing.T) {
	clock := newClock()
	sim := &mockSimulator{}
	s, err := New(sim, []Schedule{hourly("onboarding")}, WithClock(clock.Now), WithLogger(testLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	s.tick(ctx)
	s.runs.Wait()
	assert.Equal(t, 0, sim.callCount(), "not due yet")

	clock.Advance(time.Hour)
	s.tick(ctx)
	s.runs.Wait()
	require.Equal(t, 1, sim.callCount())
	assert.Equal(t, simCall{WorkflowID: "wf-1", ClientID: "client-1", Input: map[string]any{"source": "cron"}}, sim.calls[0])

	st := s.Status()[0]
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, string(schema.ExecutionStatusCompleted), st.LastStatus)
	assert.Equal(t, "exec-1", st.LastExecutionID)
	assert.Equal(t, time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), st.NextRunAt)

	s.tick(ctx)
	s.runs.Wait()
	assert.Equal(t, 1, sim.callCount(), "one run per slot")
}

func TestTick_InputIsCopiedPerRun(t *testing.T) {
	clock := newClock()
	sim := &mockSimulator{}
	s, err := New(sim, []Schedule{hourly("a")}, WithClock(clock.Now), WithLogger(testLogger()))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	s.tick(context.Background())
	s.runs.Wait()

	sim.calls[0].Input["source"] = "mutated"
	assert.Equal(t, "cron", s.jobs[0].Input["source"])
}

func TestTick_SkipsOverlappingRun(t *testing.T) {
	clock := newClock()
	sim := &mockSimulator{block: make(chan struct{}), began: make(chan struct{}, 1)}
	s, err := New(sim, []Schedule{{Name: "busy", Cron: "* * * * *", WorkflowID: "w", ClientID: "c"}},
		WithClock(clock.Now), WithLogger(testLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	clock.Advance(time.Minute)
	s.tick(ctx)
	<-sim.began

	clock.Advance(time.Minute)
	s.tick(ctx)

	close(sim.block)
	s.runs.Wait()

	assert.Equal(t, 1, sim.callCount())
	st := s.Status()[0]
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, 1, st.Skipped)

	clock.Advance(time.Minute)
	s.tick(ctx)
	<-sim.began
	s.runs.Wait()
	assert.Equal(t, 2, sim.callCount(), "runs again once the previous run returned")
}

func TestRunJob_ErrorKeepsExecutionID(t *testing.T) {
	runErr := schema.NewError(schema.ErrCodeStore, "disk full").
		WithDetails(map[string]any{"execution_id": "exec-42"})
	sim := &mockSimulator{err: runErr}
	s, err := New(sim, []Schedule{hourly("a")}, WithLogger(testLogger()))
	require.NoError(t, err)

	_, err = s.RunNow(context.Background(), "a")
	require.ErrorIs(t, err, runErr)

	st := s.Status()[0]
	assert.Equal(t, StatusError, st.LastStatus)
	assert.Equal(t, "exec-42", st.LastExecutionID)
}

func TestRunNow(t *testing.T) {
	sim := &mockSimulator{}
	s, err := New(sim, []Schedule{hourly("a")}, WithLogger(testLogger()))
	require.NoError(t, err)

	exec, err := s.RunNow(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", exec.WorkflowID)

	_, err = s.RunNow(context.Background(), "nope")
	assert.True(t, schema.IsNotFound(err))
}

func TestRunNow_ConflictWhileRunning(t *testing.T) {
	sim := &mockSimulator{block: make(chan struct{}), began: make(chan struct{}, 1)}
	s, err := New(sim, []Schedule{hourly("a")}, WithLogger(testLogger()))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunNow(context.Background(), "a")
		done <- err
	}()
	<-sim.began

	_, err = s.RunNow(context.Background(), "a")
	assert.Equal(t, schema.ErrCodeConflict, schema.ErrorCode(err))

	close(sim.block)
	assert.NoError(t, <-done)
}

func TestStartStop(t *testing.T) {
	clock := newClock()
	sim := &mockSimulator{began: make(chan struct{}, 8)}
	s, err := New(sim, []Schedule{{Name: "tick", Cron: "* * * * *", WorkflowID: "w", ClientID: "c"}},
		WithClock(clock.Now), WithTickInterval(5*time.Millisecond), WithLogger(testLogger()))
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start is rejected")

	clock.Advance(time.Minute)
	select {
	case <-sim.began:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled run did not start")
	}

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "stop is idempotent")
	assert.Equal(t, 1, s.Status()[0].Runs)
}

func TestStop_CancelsInFlightRuns(t *testing.T) {
	clock := newClock()
	sim := &mockSimulator{block: make(chan struct{}), began: make(chan struct{}, 1)}
	s, err := New(sim, []Schedule{{Name: "slow", Cron: "* * * * *", WorkflowID: "w", ClientID: "c"}},
		WithClock(clock.Now), WithTickInterval(5*time.Millisecond), WithLogger(testLogger()))
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	clock.Advance(time.Minute)
	<-sim.began

	require.NoError(t, s.Stop())
	st := s.Status()[0]
	assert.Equal(t, StatusError, st.LastStatus)
}

func TestScheduler_DrivesRunner(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	c := &schema.Client{Name: "Acme"}
	require.NoError(t, ms.CreateClient(ctx, c))
	wf := &schema.Workflow{Name: "wf", Status: schema.WorkflowStatusActive}
	require.NoError(t, ms.CreateWorkflow(ctx, wf))
	require.NoError(t, ms.AddStep(ctx, &schema.WorkflowStep{WorkflowID: wf.ID, Name: "hello", StepType: schema.StepTypeNotification}))

	runner := engine.NewRunner(ms, engine.WithLogger(testLogger()))
	s, err := New(runner, []Schedule{{Name: "demo", Cron: "@hourly", WorkflowID: wf.ID, ClientID: c.ID}},
		WithLogger(testLogger()))
	require.NoError(t, err)

	exec, err := s.RunNow(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusCompleted, exec.Status)
	assert.Len(t, exec.Logs, 1)

	stored, err := ms.ListExecutions(ctx, store.ExecutionFilter{WorkflowID: wf.ID})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}
