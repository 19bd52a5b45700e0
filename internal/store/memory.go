package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rendis/flowsim/pkg/schema"
)

// MemoryStore is an in-process Store. It keeps insertion order for steps,
// transitions and logs, and returns copies so callers cannot mutate state.
type MemoryStore struct {
	mu sync.RWMutex

	clients     map[string]*schema.Client
	clientOrder []string

	workflows     map[string]*schema.Workflow
	workflowOrder []string
	steps         map[string]*schema.WorkflowStep
	stepsByWF     map[string][]string
	transitions   map[string][]*schema.WorkflowTransition

	executions     map[string]*schema.Execution
	executionOrder []string
	logs           map[string][]*schema.ExecutionLog
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients:     make(map[string]*schema.Client),
		workflows:   make(map[string]*schema.Workflow),
		steps:       make(map[string]*schema.WorkflowStep),
		stepsByWF:   make(map[string][]string),
		transitions: make(map[string][]*schema.WorkflowTransition),
		executions:  make(map[string]*schema.Execution),
		logs:        make(map[string][]*schema.ExecutionLog),
	}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateClient(_ context.Context, c *schema.Client) error {
	if err := prepareClient(c); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[c.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "client %s already exists", c.ID)
	}
	cp := *c
	cp.Metadata = cloneOrNil(c.Metadata)
	m.clients[c.ID] = &cp
	m.clientOrder = append(m.clientOrder, c.ID)
	return nil
}

func (m *MemoryStore) GetClient(_ context.Context, id string) (*schema.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, storeNotFound("client", id)
	}
	cp := *c
	cp.Metadata = cloneOrNil(c.Metadata)
	return &cp, nil
}

func (m *MemoryStore) ListClients(_ context.Context) ([]*schema.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*schema.Client, 0, len(m.clientOrder))
	for _, id := range m.clientOrder {
		cp := *m.clients[id]
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) CreateWorkflow(_ context.Context, wf *schema.Workflow) error {
	if err := prepareWorkflow(wf); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[wf.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %s already exists", wf.ID)
	}
	if wf.ClientID != "" {
		if _, ok := m.clients[wf.ClientID]; !ok {
			return storeNotFound("client", wf.ClientID)
		}
	}
	cp := *wf
	cp.Metadata = cloneOrNil(wf.Metadata)
	m.workflows[wf.ID] = &cp
	m.workflowOrder = append(m.workflowOrder, wf.ID)
	return nil
}

func (m *MemoryStore) GetWorkflow(_ context.Context, id string) (*schema.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, storeNotFound("workflow", id)
	}
	cp := *wf
	return &cp, nil
}

func (m *MemoryStore) ListWorkflows(_ context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*schema.Workflow
	for i := len(m.workflowOrder) - 1; i >= 0; i-- {
		wf := m.workflows[m.workflowOrder[i]]
		if filter.ClientID != "" && wf.ClientID != filter.ClientID {
			continue
		}
		if filter.Status != "" && wf.Status != filter.Status {
			continue
		}
		cp := *wf
		out = append(out, &cp)
	}
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (m *MemoryStore) AddStep(_ context.Context, step *schema.WorkflowStep) error {
	if err := prepareStep(step); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[step.WorkflowID]; !ok {
		return storeNotFound("workflow", step.WorkflowID)
	}
	if _, ok := m.steps[step.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "step %s already exists", step.ID)
	}
	cp := *step
	cp.Config = cloneOrNil(step.Config)
	m.steps[step.ID] = &cp
	m.stepsByWF[step.WorkflowID] = append(m.stepsByWF[step.WorkflowID], step.ID)
	return nil
}

func (m *MemoryStore) AddTransition(_ context.Context, tr *schema.WorkflowTransition) error {
	if err := prepareTransition(tr); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	err := checkTransitionEnds(tr, func(stepID string) (string, error) {
		st, ok := m.steps[stepID]
		if !ok {
			return "", storeNotFound("step", stepID)
		}
		return st.WorkflowID, nil
	})
	if err != nil {
		return err
	}
	cp := *tr
	m.transitions[tr.WorkflowID] = append(m.transitions[tr.WorkflowID], &cp)
	return nil
}

func (m *MemoryStore) LoadWorkflowWithGraph(_ context.Context, workflowID string) (*schema.WorkflowGraph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[workflowID]
	if !ok {
		return nil, storeNotFound("workflow", workflowID)
	}
	wfCopy := *wf
	g := &schema.WorkflowGraph{Workflow: &wfCopy}
	for _, id := range m.stepsByWF[workflowID] {
		cp := *m.steps[id]
		cp.Config = cloneOrNil(cp.Config)
		g.Steps = append(g.Steps, &cp)
	}
	sort.SliceStable(g.Steps, func(i, j int) bool { return g.Steps[i].Order < g.Steps[j].Order })
	for _, tr := range m.transitions[workflowID] {
		cp := *tr
		g.Transitions = append(g.Transitions, &cp)
	}
	return g, nil
}

func (m *MemoryStore) CreateExecution(_ context.Context, exec *schema.Execution) error {
	if err := prepareExecution(exec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[exec.WorkflowID]; !ok {
		return storeNotFound("workflow", exec.WorkflowID)
	}
	if _, ok := m.clients[exec.ClientID]; !ok {
		return storeNotFound("client", exec.ClientID)
	}
	if _, ok := m.executions[exec.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %s already exists", exec.ID)
	}
	cp := *exec
	cp.Metadata = cloneOrNil(exec.Metadata)
	cp.Logs = nil
	m.executions[exec.ID] = &cp
	m.executionOrder = append(m.executionOrder, exec.ID)
	return nil
}

func (m *MemoryStore) AppendExecutionLog(_ context.Context, l *schema.ExecutionLog) error {
	if err := prepareLog(l); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[l.ExecutionID]; !ok {
		return storeNotFound("execution", l.ExecutionID)
	}
	l.Sequence = int64(len(m.logs[l.ExecutionID])) + 1
	cp := *l
	cp.Data = cloneOrNil(l.Data)
	m.logs[l.ExecutionID] = append(m.logs[l.ExecutionID], &cp)
	return nil
}

func (m *MemoryStore) UpdateExecutionStatus(_ context.Context, id string, status schema.ExecutionStatus, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[id]
	if !ok {
		return storeNotFound("execution", id)
	}
	exec.Status = status
	exec.CompletedAt = nil
	if status.IsTerminal() {
		exec.CompletedAt = timePtr(timeOrNow(completedAt))
	}
	return nil
}

func (m *MemoryStore) LoadExecutionWithLogs(_ context.Context, id string) (*schema.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exec, ok := m.executions[id]
	if !ok {
		return nil, storeNotFound("execution", id)
	}
	cp := *exec
	cp.Logs = make([]*schema.ExecutionLog, 0, len(m.logs[id]))
	for _, l := range m.logs[id] {
		lc := *l
		cp.Logs = append(cp.Logs, &lc)
	}
	return &cp, nil
}

func (m *MemoryStore) ListExecutions(_ context.Context, filter ExecutionFilter) ([]*schema.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*schema.Execution
	for i := len(m.executionOrder) - 1; i >= 0; i-- {
		exec := m.executions[m.executionOrder[i]]
		if filter.WorkflowID != "" && exec.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.ClientID != "" && exec.ClientID != filter.ClientID {
			continue
		}
		if filter.Status != nil && exec.Status != *filter.Status {
			continue
		}
		cp := *exec
		out = append(out, &cp)
	}
	return paginate(out, filter.Limit, filter.Offset), nil
}

func cloneOrNil(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return schema.CloneMap(m)
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var _ Store = (*MemoryStore)(nil)
