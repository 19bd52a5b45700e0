package store

import (
	"context"
	"time"

	"github.com/rendis/flowsim/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Clients
	CreateClient(ctx context.Context, c *schema.Client) error
	GetClient(ctx context.Context, id string) (*schema.Client, error)
	ListClients(ctx context.Context) ([]*schema.Client, error)

	// Workflow graph
	CreateWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error)
	AddStep(ctx context.Context, step *schema.WorkflowStep) error
	AddTransition(ctx context.Context, tr *schema.WorkflowTransition) error
	LoadWorkflowWithGraph(ctx context.Context, workflowID string) (*schema.WorkflowGraph, error)

	// Executions (logs are append-only)
	CreateExecution(ctx context.Context, exec *schema.Execution) error
	AppendExecutionLog(ctx context.Context, log *schema.ExecutionLog) error
	UpdateExecutionStatus(ctx context.Context, id string, status schema.ExecutionStatus, completedAt time.Time) error
	LoadExecutionWithLogs(ctx context.Context, id string) (*schema.Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
