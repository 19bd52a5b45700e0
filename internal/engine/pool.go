package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rendis/flowsim/pkg/schema"
)

// PoolMetrics counts simulations run through a Pool.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Errored   int64 `json:"errored"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("simulation pool is shut down")

// Request names one simulation.
type Request struct {
	WorkflowID string         `json:"workflow_id"`
	ClientID   string         `json:"client_id"`
	Input      map[string]any `json:"input,omitempty"`
}

// Result pairs a Request with what Simulate returned.
type Result struct {
	Request   Request           `json:"request"`
	Execution *schema.Execution `json:"execution,omitempty"`
	Err       error             `json:"-"`
}

// Pool runs simulations with bounded concurrency.
type Pool struct {
	runner  *Runner
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics PoolMetrics
	mu      sync.Mutex
	done    chan struct{}
	closed  bool
}

// NewPool creates a pool running at most size simulations at once.
func NewPool(runner *Runner, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		runner: runner,
		sem:    make(chan struct{}, size),
		done:   make(chan struct{}),
	}
}

// Submit starts req once a slot is free. It blocks while the pool is full
// and respects ctx while waiting. onDone, if set, receives the result.
func (p *Pool) Submit(ctx context.Context, req Request, onDone func(Result)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// wg.Add must happen under the lock so Shutdown cannot miss it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Active, 1)
	p.mu.Unlock()

	go func() {
		res := Result{Request: req}
		defer func() {
			if rec := recover(); rec != nil {
				res.Err = schema.NewErrorf(schema.ErrCodeExecution, "simulation panicked: %v", rec)
			}
			p.record(res)
			if onDone != nil {
				onDone(res)
			}
			atomic.AddInt64(&p.metrics.Active, -1)
			<-p.sem
			p.wg.Done()
		}()
		res.Execution, res.Err = p.runner.Simulate(ctx, req.WorkflowID, req.ClientID, req.Input)
	}()
	return nil
}

func (p *Pool) record(res Result) {
	switch {
	case res.Err != nil:
		atomic.AddInt64(&p.metrics.Errored, 1)
	case res.Execution != nil && res.Execution.Status == schema.ExecutionStatusFailed:
		atomic.AddInt64(&p.metrics.Failed, 1)
	default:
		atomic.AddInt64(&p.metrics.Completed, 1)
	}
}

// Wait blocks until all submitted simulations finish.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown stops accepting work and waits for running simulations.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the pool counters.
func (p *Pool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Errored:   atomic.LoadInt64(&p.metrics.Errored),
	}
}

// SimulateAll runs every request through a pool of the given size and
// returns results in request order.
func SimulateAll(ctx context.Context, runner *Runner, reqs []Request, concurrency int) []Result {
	pool := NewPool(runner, concurrency)
	results := make([]Result, len(reqs))
	for i, req := range reqs {
		i := i
		if err := pool.Submit(ctx, req, func(res Result) { results[i] = res }); err != nil {
			results[i] = Result{Request: req, Err: err}
		}
	}
	pool.Shutdown()
	return results
}
