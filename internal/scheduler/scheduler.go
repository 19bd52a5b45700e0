// Package scheduler runs workflow simulations on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/flowsim/pkg/schema"
)

// Simulator is what the scheduler drives. Satisfied by *engine.Runner.
type Simulator interface {
	Simulate(ctx context.Context, workflowID, clientID string, inputData map[string]any) (*schema.Execution, error)
}

// Schedule is one recurring simulation.
type Schedule struct {
	Name       string         `mapstructure:"name" yaml:"name" json:"name"`
	Cron       string         `mapstructure:"cron" yaml:"cron" json:"cron"`
	WorkflowID string         `mapstructure:"workflow_id" yaml:"workflow_id" json:"workflow_id"`
	ClientID   string         `mapstructure:"client_id" yaml:"client_id" json:"client_id"`
	Input      map[string]any `mapstructure:"input" yaml:"input" json:"input,omitempty"`
}

// JobStatus is a snapshot of a schedule's run history.
type JobStatus struct {
	Name            string    `json:"name"`
	Cron            string    `json:"cron"`
	NextRunAt       time.Time `json:"next_run_at"`
	LastRunAt       time.Time `json:"last_run_at,omitempty"`
	LastStatus      string    `json:"last_status,omitempty"`
	LastExecutionID string    `json:"last_execution_id,omitempty"`
	Runs            int       `json:"runs"`
	Skipped         int       `json:"skipped"`
}

// LastStatus values besides execution statuses.
const (
	StatusError = "error"
)

type job struct {
	Schedule
	schedule cron.Schedule
	status   JobStatus
}

// Scheduler checks its schedules on every tick and starts a simulation for
// each one that is due. A schedule whose previous run is still going is
// skipped for that slot.
type Scheduler struct {
	sim      Simulator
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	jobs    []*job
	stateMu sync.Mutex // guards job.status

	mu     sync.Mutex // guards cancel and done
	cancel context.CancelFunc
	done   chan struct{}
	runs   sync.WaitGroup

	inflightMu sync.Mutex
	inflight   map[string]struct{} // schedule names currently running
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTickInterval sets how often schedules are checked. Default: 1s.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New validates schedules and returns a stopped Scheduler. Cron expressions
// take five fields with an optional leading seconds field, or a descriptor
// such as "@hourly" or "@every 5m".
func New(sim Simulator, schedules []Schedule, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		sim:      sim,
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   slog.Default(),
		interval: time.Second,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	seen := make(map[string]bool, len(schedules))
	now := s.now()
	for i, sc := range schedules {
		if err := validateSchedule(sc); err != nil {
			return nil, err.WithDetails(map[string]any{"schedule_index": i})
		}
		if seen[sc.Name] {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate schedule name %q", sc.Name)
		}
		seen[sc.Name] = true

		parsed, err := s.parser.Parse(sc.Cron)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "schedule %q: invalid cron expression %q", sc.Name, sc.Cron).
				WithCause(err)
		}
		s.jobs = append(s.jobs, &job{
			Schedule: sc,
			schedule: parsed,
			status:   JobStatus{Name: sc.Name, Cron: sc.Cron, NextRunAt: parsed.Next(now)},
		})
	}
	return s, nil
}

func validateSchedule(sc Schedule) *schema.FlowError {
	switch {
	case sc.Name == "":
		return schema.NewError(schema.ErrCodeValidation, "schedule name is required")
	case sc.Cron == "":
		return schema.NewErrorf(schema.ErrCodeValidation, "schedule %q has no cron expression", sc.Name)
	case sc.WorkflowID == "" || sc.ClientID == "":
		return schema.NewErrorf(schema.ErrCodeValidation, "schedule %q requires workflow_id and client_id", sc.Name)
	}
	return nil
}

// Start launches the background loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Int("schedules", len(s.jobs)))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts every due schedule and advances its next run time.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	for _, j := range s.jobs {
		s.stateMu.Lock()
		due := !j.status.NextRunAt.After(now)
		if due {
			j.status.NextRunAt = j.schedule.Next(now)
		}
		s.stateMu.Unlock()
		if !due {
			continue
		}

		if !s.tryAcquire(j.Name) {
			s.stateMu.Lock()
			j.status.Skipped++
			s.stateMu.Unlock()
			s.logger.Warn("previous run still in progress, skipping",
				slog.String("schedule", j.Name))
			continue
		}

		s.runs.Add(1)
		go func(j *job) {
			defer s.runs.Done()
			defer s.releaseJob(j.Name)
			s.runJob(ctx, j)
		}(j)
	}
}

// runJob simulates the schedule's workflow and records the outcome.
func (s *Scheduler) runJob(ctx context.Context, j *job) (*schema.Execution, error) {
	log := s.logger.With(
		slog.String("schedule", j.Name),
		slog.String("workflow_id", j.WorkflowID),
		slog.String("client_id", j.ClientID),
	)
	log.Info("running scheduled simulation")

	exec, err := s.sim.Simulate(ctx, j.WorkflowID, j.ClientID, schema.CloneMap(j.Input))

	s.stateMu.Lock()
	j.status.Runs++
	j.status.LastRunAt = s.now()
	switch {
	case err != nil:
		j.status.LastStatus = StatusError
		j.status.LastExecutionID = executionIDOf(err)
	case exec != nil:
		j.status.LastStatus = string(exec.Status)
		j.status.LastExecutionID = exec.ID
	}
	s.stateMu.Unlock()

	if err != nil {
		log.Error("scheduled simulation failed", slog.String("error", err.Error()))
		return nil, err
	}
	log.Info("scheduled simulation finished",
		slog.String("execution_id", exec.ID),
		slog.String("status", string(exec.Status)))
	return exec, nil
}

// executionIDOf extracts the execution id a run error carries, if any.
func executionIDOf(err error) string {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		if id, ok := fe.Details["execution_id"].(string); ok {
			return id
		}
	}
	return ""
}

// RunNow runs the named schedule immediately and waits for it. It honours
// the overlap rule: a schedule already running yields a CONFLICT error.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*schema.Execution, error) {
	var target *job
	for _, j := range s.jobs {
		if j.Name == name {
			target = j
			break
		}
	}
	if target == nil {
		return nil, schema.NotFound("schedule", name)
	}
	if !s.tryAcquire(name) {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "schedule %q is already running", name)
	}
	defer s.releaseJob(name)
	return s.runJob(ctx, target)
}

// Status returns a snapshot of every schedule, in configuration order.
func (s *Scheduler) Status() []JobStatus {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	out := make([]JobStatus, len(s.jobs))
	for i, j := range s.jobs {
		out[i] = j.status
	}
	return out
}

// tryAcquire returns true and marks the schedule in flight if it is not already running.
func (s *Scheduler) tryAcquire(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

func (s *Scheduler) releaseJob(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}

// NextRun computes the next run time for a cron expression.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop cancels the loop and waits for in-flight runs to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.runs.Wait()
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
