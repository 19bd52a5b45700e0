package engine

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rendis/flowsim/internal/streaming"
	"github.com/rendis/flowsim/pkg/schema"
)

// TransitionHook is called before or after a status transition.
type TransitionHook func(exec *schema.Execution, from, to schema.ExecutionStatus) error

type hookKey struct {
	from, to schema.ExecutionStatus
}

// ExecutionFSM guards execution status changes and announces them on the
// event hub. The caller persists the new status.
type ExecutionFSM struct {
	mu     sync.Mutex
	hub    streaming.EventHub
	before map[hookKey][]TransitionHook
	after  map[hookKey][]TransitionHook
}

// NewExecutionFSM creates an FSM that publishes to hub. hub may be nil.
func NewExecutionFSM(hub streaming.EventHub) *ExecutionFSM {
	return &ExecutionFSM{
		hub:    hub,
		before: make(map[hookKey][]TransitionHook),
		after:  make(map[hookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition. A hook error aborts it.
func (f *ExecutionFSM) OnBefore(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *ExecutionFSM) OnAfter(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition moves exec to status to. reason is carried on the published
// event. An illegal move returns INVALID_TRANSITION and leaves exec untouched.
func (f *ExecutionFSM) Transition(ctx context.Context, exec *schema.Execution, to schema.ExecutionStatus, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	from := exec.Status
	if !CanTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", from, to).
			WithDetails(map[string]any{"execution_id": exec.ID, "from": string(from), "to": string(to)})
	}

	key := hookKey{from, to}
	for _, hook := range f.before[key] {
		if err := hook(exec, from, to); err != nil {
			return err
		}
	}

	exec.Status = to

	if eventType := executionEventType(to); eventType != "" && f.hub != nil {
		// Delivery is best effort; a cancelled context must not undo the move.
		_ = f.hub.Publish(context.WithoutCancel(ctx), schema.StreamEvent{
			Type:        eventType,
			ExecutionID: exec.ID,
			WorkflowID:  exec.WorkflowID,
			Status:      string(to),
			Message:     reason,
			Timestamp:   time.Now().UTC(),
		})
	}

	for _, hook := range f.after[key] {
		if err := hook(exec, from, to); err != nil {
			return err
		}
	}
	return nil
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to schema.ExecutionStatus) bool {
	return slices.Contains(ValidExecutionTransitions[from], to)
}

func executionEventType(to schema.ExecutionStatus) string {
	switch to {
	case schema.ExecutionStatusRunning:
		return schema.EventExecutionStarted
	case schema.ExecutionStatusCompleted:
		return schema.EventExecutionCompleted
	case schema.ExecutionStatusFailed:
		return schema.EventExecutionFailed
	default:
		return ""
	}
}

// ValidExecutionTransitions defines the allowed execution status changes.
// Terminal statuses have no exits, so a FAILED run can never become COMPLETED.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStatusPending:   {schema.ExecutionStatusRunning, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusRunning:   {schema.ExecutionStatusCompleted, schema.ExecutionStatusFailed, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusCompleted: {},
	schema.ExecutionStatusFailed:    {},
	schema.ExecutionStatusCancelled: {},
}
