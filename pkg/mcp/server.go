package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowsim/internal/store"
	"github.com/rendis/flowsim/internal/streaming"
	"github.com/rendis/flowsim/internal/validation"
	"github.com/rendis/flowsim/pkg/schema"
)

// Simulator runs one workflow for one client. Satisfied by *engine.Runner.
type Simulator interface {
	Simulate(ctx context.Context, workflowID, clientID string, inputData map[string]any) (*schema.Execution, error)
}

// FlowsimServerDeps holds the dependencies for creating a FlowsimServer.
type FlowsimServerDeps struct {
	Runner    Simulator
	Store     store.Store
	Validator *validation.DefinitionValidator // enables flowsim.define and input checks
	Hub       streaming.EventHub              // optional; enables progress notifications
	Logger    *slog.Logger
}

// FlowsimServer wraps an MCP server with flowsim tool handlers.
type FlowsimServer struct {
	runner    Simulator
	store     store.Store
	validator *validation.DefinitionValidator
	importer  *validation.Importer
	hub       streaming.EventHub
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  Notifier
	mcpServer *server.MCPServer
}

// NewFlowsimServer creates a FlowsimServer with all tools registered.
func NewFlowsimServer(deps FlowsimServerDeps) *FlowsimServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &FlowsimServer{
		runner:    deps.Runner,
		store:     deps.Store,
		validator: deps.Validator,
		hub:       deps.Hub,
		logger:    logger,
		sessions:  NewSessionRegistry(),
	}
	if deps.Validator != nil && deps.Store != nil {
		s.importer = validation.NewImporter(deps.Store, deps.Validator, logger)
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"flowsim",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("Flowsim simulates client workflows. Use flowsim.define to import a workflow definition, flowsim.simulate to run it for a client, flowsim.status to read an execution and its step logs, flowsim.diagram to draw a workflow, and flowsim.list to list clients, workflows or executions."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *FlowsimServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowsimServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *FlowsimServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: simulateTool(), Handler: s.handleSimulate},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func simulateTool() mcp.Tool {
	return mcp.NewTool("flowsim.simulate",
		mcp.WithDescription("Simulate a workflow for a client and return the execution with its step logs"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to simulate")),
		mcp.WithString("client_id", mcp.Required(), mcp.Description("ID of the client the run is for")),
		mcp.WithObject("input", mcp.Description("Input data seeded into the run context")),
		mcp.WithBoolean("notify", mcp.Description("Push step events to this session while the run progresses (default: true)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("flowsim.status",
		mcp.WithDescription("Get an execution with its step logs"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to read")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("flowsim.define",
		mcp.WithDescription("Validate and import a workflow definition"),
		mcp.WithObject("definition", mcp.Required(),
			mcp.Description("Definition document: {client?, workflow, steps[{key,name,type,order,config}], transitions[{from,to,condition,is_default}]}")),
		mcp.WithBoolean("dry_run", mcp.Description("Only validate; nothing is written")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("flowsim.list",
		mcp.WithDescription("List clients, workflows, or executions"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("clients", "workflows", "executions"),
			mcp.Description("Type of resource to list"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (workflow_id, client_id, status, limit, offset); status is a workflow status for workflows and an execution status for executions")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("flowsim.diagram",
		mcp.WithDescription("Generate a diagram of a workflow. Returns Mermaid flowchart syntax, ASCII art, or a base64-encoded PNG image"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow to draw")),
		mcp.WithString("execution_id", mcp.Description("Overlay the step statuses and path of this execution")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("mermaid", "ascii", "image"),
			mcp.Description("Output format: mermaid (flowchart syntax), ascii (text), or image (base64 PNG)"),
		),
	)
}
