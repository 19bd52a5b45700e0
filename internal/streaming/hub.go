// Package streaming fans out live execution events to subscribers.
package streaming

import (
	"context"

	"github.com/rendis/flowsim/pkg/schema"
)

// EventFilter specifies which events a subscriber wants to receive.
// Empty fields match everything.
type EventFilter struct {
	ExecutionID string   `json:"execution_id,omitempty"`
	WorkflowID  string   `json:"workflow_id,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time execution events.
type EventHub interface {
	Publish(ctx context.Context, event schema.StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan schema.StreamEvent, func(), error)
}
