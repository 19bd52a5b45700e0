package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowsim/internal/streaming"
	"github.com/rendis/flowsim/pkg/schema"
)

// Notifier pushes execution events to the session that started the run.
type Notifier interface {
	Notify(ctx context.Context, ev schema.StreamEvent) error
}

// MCPNotifier implements Notifier with MCP server notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes through mcpServer.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends ev as a notifications/message to the watching session.
// Best-effort: returns nil if nobody is watching the execution.
func (n *MCPNotifier) Notify(_ context.Context, ev schema.StreamEvent) error {
	sessionID, ok := n.sessions.SessionFor(ev.ExecutionID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", eventPayload(ev))
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session went away mid-run.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// eventPayload shapes an event as a logging message notification.
func eventPayload(ev schema.StreamEvent) map[string]any {
	level := "info"
	if ev.Type == schema.EventStepFailed || ev.Type == schema.EventExecutionFailed {
		level = "error"
	} else if ev.Type == schema.EventCycleDetected {
		level = "warning"
	}
	return map[string]any{
		"level":  level,
		"logger": "flowsim",
		"data":   ev,
	}
}

// forward relays every event from ch to n until ch closes.
func forward(ctx context.Context, ch <-chan schema.StreamEvent, n Notifier, onErr func(error)) {
	for ev := range ch {
		if err := n.Notify(ctx, ev); err != nil && onErr != nil {
			onErr(err)
		}
	}
}

// watch subscribes to executionID's events and relays them through n. The
// returned stop func ends the subscription and waits for the relay to drain.
func watch(ctx context.Context, hub streaming.EventHub, executionID string, n Notifier, onErr func(error)) (stop func(), err error) {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{ExecutionID: executionID})
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		forward(ctx, ch, n, onErr)
	}()
	return func() {
		cancel()
		<-done
	}, nil
}
