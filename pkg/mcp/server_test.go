package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFlowsimServer(t *testing.T) {
	s := NewFlowsimServer(FlowsimServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.notifier)
	assert.Nil(t, s.importer, "no importer without a validator and store")
}

func TestToolRegistration(t *testing.T) {
	s := NewFlowsimServer(FlowsimServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 5)

	expectedTools := []string{
		"flowsim.simulate",
		"flowsim.status",
		"flowsim.define",
		"flowsim.list",
		"flowsim.diagram",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"simulate", "flowsim.simulate", "Simulate a workflow for a client and return the execution with its step logs"},
		{"status", "flowsim.status", "Get an execution with its step logs"},
		{"define", "flowsim.define", "Validate and import a workflow definition"},
		{"list", "flowsim.list", "List clients, workflows, or executions"},
	}

	s := NewFlowsimServer(FlowsimServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
