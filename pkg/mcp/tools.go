package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowsim/internal/diagram"
	"github.com/rendis/flowsim/internal/engine"
	"github.com/rendis/flowsim/internal/store"
	"github.com/rendis/flowsim/pkg/schema"
)

// handleSimulate runs a workflow for a client.
func (s *FlowsimServer) handleSimulate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	clientID, err := req.RequireString("client_id")
	if err != nil {
		return mcp.NewToolResultError("client_id is required"), nil
	}
	input := mcp.ParseStringMap(req, "input", nil)

	if s.validator != nil {
		wf, wfErr := s.store.GetWorkflow(ctx, workflowID)
		if wfErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", wfErr)), nil
		}
		if inErr := s.validator.Schema().ValidateWorkflowInput(wf, input); inErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid input: %v", inErr)), nil
		}
	}

	executionID := uuid.NewString()
	ctx = engine.WithExecutionID(ctx, executionID)

	if req.GetBool("notify", true) {
		if stop := s.watchForSession(ctx, executionID); stop != nil {
			defer stop()
		}
	}

	exec, runErr := s.runner.Simulate(ctx, workflowID, clientID, input)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("simulation failed: %v", runErr)), nil
	}
	return marshalResult(exec)
}

// watchForSession relays executionID's events to the calling session. It
// returns nil when there is no hub or no session to notify.
func (s *FlowsimServer) watchForSession(ctx context.Context, executionID string) func() {
	if s.hub == nil {
		return nil
	}
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return nil
	}
	s.sessions.Register(executionID, session.SessionID())

	stop, err := watch(ctx, s.hub, executionID, s.notifier, func(err error) {
		s.logger.Debug("notify session", slog.String("execution_id", executionID), slog.String("error", err.Error()))
	})
	if err != nil {
		s.sessions.Forget(executionID)
		s.logger.Warn("subscribe to execution events", slog.String("error", err.Error()))
		return nil
	}
	return func() {
		stop()
		s.sessions.Forget(executionID)
	}
}

// handleStatus returns an execution, its logs and the context it ended with.
func (s *FlowsimServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	exec, loadErr := s.store.LoadExecutionWithLogs(ctx, executionID)
	if loadErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", loadErr)), nil
	}

	return marshalResult(map[string]any{
		"execution": exec,
		"context":   engine.ReplayContext(exec),
	})
}

// handleDefine validates a definition and, unless dry_run is set, imports it.
func (s *FlowsimServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.importer == nil {
		return mcp.NewToolResultError("definitions are not enabled on this server"), nil
	}

	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}
	data, marshalErr := json.Marshal(defRaw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", marshalErr)), nil
	}

	if req.GetBool("dry_run", false) {
		_, result, parseErr := s.validator.Parse(data)
		if result == nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", parseErr)), nil
		}
		return marshalResult(map[string]any{
			"valid":    result.Valid(),
			"errors":   result.Errors,
			"warnings": result.Warnings,
		})
	}

	imported, importErr := s.importer.ImportDocument(ctx, data)
	if importErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("import failed: %v", importErr)), nil
	}
	return marshalResult(imported)
}

// handleList lists clients, workflows, or executions.
func (s *FlowsimServer) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "clients":
		clients, listErr := s.store.ListClients(ctx)
		if listErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", listErr)), nil
		}
		return marshalResult(map[string]any{"clients": clients})
	case "workflows":
		return s.listWorkflows(ctx, filter)
	case "executions":
		return s.listExecutions(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *FlowsimServer) listWorkflows(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	wf := store.WorkflowFilter{
		ClientID: extractString(filter, "client_id"),
		Limit:    extractInt(filter, "limit", 50),
		Offset:   extractInt(filter, "offset", 0),
	}
	if status := extractString(filter, "status"); status != "" {
		st, err := schema.ParseWorkflowStatus(status)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		wf.Status = st
	}

	workflows, err := s.store.ListWorkflows(ctx, wf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"workflows": workflows})
}

func (s *FlowsimServer) listExecutions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.ExecutionFilter{
		WorkflowID: extractString(filter, "workflow_id"),
		ClientID:   extractString(filter, "client_id"),
		Limit:      extractInt(filter, "limit", 50),
		Offset:     extractInt(filter, "offset", 0),
	}
	if status := extractString(filter, "status"); status != "" {
		st, err := schema.ParseExecutionStatus(status)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		ef.Status = &st
	}

	executions, err := s.store.ListExecutions(ctx, ef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"executions": executions})
}

// handleDiagram draws a workflow, optionally with an execution overlay.
func (s *FlowsimServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be mermaid, ascii, or image"), nil
	}

	graph, graphErr := s.store.LoadWorkflowWithGraph(ctx, workflowID)
	if graphErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow not found: %v", graphErr)), nil
	}

	var exec *schema.Execution
	if executionID := req.GetString("execution_id", ""); executionID != "" {
		exec, err = s.store.LoadExecutionWithLogs(ctx, executionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("execution not found: %v", err)), nil
		}
		if exec.WorkflowID != workflowID {
			return mcp.NewToolResultError(fmt.Sprintf("execution %s belongs to workflow %s", executionID, exec.WorkflowID)), nil
		}
	}

	model, buildErr := diagram.Build(graph, exec)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, imgErr := diagram.RenderImage(ctx, model, diagram.FormatPNG)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultImage(model.Title, base64.StdEncoding.EncodeToString(png), "image/png"), nil
	}
}

// --- Internal helpers ---

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func extractString(filter map[string]any, key string) string {
	s, _ := filter[key].(string)
	return s
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
