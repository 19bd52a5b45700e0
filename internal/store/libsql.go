package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/flowsim/pkg/schema"
)

// LibSQLStore implements Store using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/flowsim.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	// A single connection serialises writers, which keeps per-execution
	// log sequences gap free.
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Clients ---

func (s *LibSQLStore) CreateClient(ctx context.Context, c *schema.Client) error {
	if err := prepareClient(c); err != nil {
		return err
	}
	metadata, err := encodeJSON(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal client metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO clients (id, name, email, company, is_active, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, nullStr(c.Email), nullStr(c.Company), c.IsActive, metadata, c.CreatedAt, c.UpdatedAt,
	)
	return storeError("create client", err)
}

func (s *LibSQLStore) GetClient(ctx context.Context, id string) (*schema.Client, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("client", id)
	}
	return c, storeError("get client", err)
}

func (s *LibSQLStore) ListClients(ctx context.Context) ([]*schema.Client, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients ORDER BY name, id`)
	if err != nil {
		return nil, storeError("list clients", err)
	}
	defer rows.Close()

	var clients []*schema.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, storeError("scan client", err)
		}
		clients = append(clients, c)
	}
	return clients, storeError("list clients", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClient(row scanner) (*schema.Client, error) {
	c := &schema.Client{}
	var email, company, metadata sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &email, &company, &c.IsActive, &metadata, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Email = email.String
	c.Company = company.String
	m, err := schema.DecodeMap([]byte(metadata.String))
	if err != nil {
		return nil, fmt.Errorf("unmarshal client metadata: %w", err)
	}
	c.Metadata = m
	return c, nil
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *schema.Workflow) error {
	if err := prepareWorkflow(wf); err != nil {
		return err
	}
	if wf.ClientID != "" {
		if _, err := s.GetClient(ctx, wf.ClientID); err != nil {
			return err
		}
	}
	metadata, err := encodeJSON(wf.Metadata)
	if err != nil {
		return fmt.Errorf("marshal workflow metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, client_id, name, description, version, status, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, nullStr(wf.ClientID), wf.Name, nullStr(wf.Description), wf.Version, string(wf.Status),
		metadata, wf.CreatedAt, wf.UpdatedAt,
	)
	return storeError("create workflow", err)
}

const (
	clientColumns   = `id, name, email, company, is_active, metadata, created_at, updated_at`
	workflowColumns = `id, client_id, name, description, version, status, metadata, created_at, updated_at`
)

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("workflow", id)
	}
	return wf, storeError("get workflow", err)
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	var where []string
	var args []any

	if filter.ClientID != "" {
		where = append(where, "client_id = ?")
		args = append(args, filter.ClientID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	query += limitClause(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list workflows", err)
	}
	defer rows.Close()

	var workflows []*schema.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, storeError("scan workflow", err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, storeError("list workflows", rows.Err())
}

func scanWorkflow(row scanner) (*schema.Workflow, error) {
	wf := &schema.Workflow{}
	var clientID, desc, metadata sql.NullString
	var status string
	if err := row.Scan(&wf.ID, &clientID, &wf.Name, &desc, &wf.Version, &status, &metadata,
		&wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.Status = schema.WorkflowStatus(status)
	wf.ClientID = clientID.String
	wf.Description = desc.String
	m, err := schema.DecodeMap([]byte(metadata.String))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow metadata: %w", err)
	}
	wf.Metadata = m
	return wf, nil
}

func (s *LibSQLStore) AddStep(ctx context.Context, step *schema.WorkflowStep) error {
	if err := prepareStep(step); err != nil {
		return err
	}
	if _, err := s.GetWorkflow(ctx, step.WorkflowID); err != nil {
		return err
	}
	config, err := encodeJSON(step.Config)
	if err != nil {
		return fmt.Errorf("marshal step config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_steps (id, workflow_id, name, step_type, step_order, config, is_required, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.WorkflowID, step.Name, step.StepType, step.Order, config, step.IsRequired, step.CreatedAt,
	)
	return storeError("add step", err)
}

func (s *LibSQLStore) AddTransition(ctx context.Context, tr *schema.WorkflowTransition) error {
	if err := prepareTransition(tr); err != nil {
		return err
	}
	err := checkTransitionEnds(tr, func(stepID string) (string, error) {
		var owner string
		err := s.db.QueryRowContext(ctx, `SELECT workflow_id FROM workflow_steps WHERE id = ?`, stepID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			return "", storeNotFound("step", stepID)
		}
		return owner, storeError("lookup step", err)
	})
	if err != nil {
		return err
	}
	cond, err := encodeJSON(tr.Condition)
	if err != nil {
		return fmt.Errorf("marshal transition condition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_transitions (id, workflow_id, from_step_id, to_step_id, condition, is_default, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.WorkflowID, tr.FromStepID, tr.ToStepID, cond, tr.IsDefault, tr.CreatedAt,
	)
	return storeError("add transition", err)
}

// LoadWorkflowWithGraph returns steps ordered by step_order and transitions
// in insertion order. rowid breaks ties in both.
func (s *LibSQLStore) LoadWorkflowWithGraph(ctx context.Context, workflowID string) (*schema.WorkflowGraph, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	g := &schema.WorkflowGraph{Workflow: wf}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, name, step_type, step_order, config, is_required, created_at
		 FROM workflow_steps WHERE workflow_id = ? ORDER BY step_order ASC, rowid ASC`, workflowID)
	if err != nil {
		return nil, storeError("load steps", err)
	}
	defer rows.Close()
	for rows.Next() {
		st := &schema.WorkflowStep{}
		var config sql.NullString
		if err := rows.Scan(&st.ID, &st.WorkflowID, &st.Name, &st.StepType, &st.Order, &config,
			&st.IsRequired, &st.CreatedAt); err != nil {
			return nil, storeError("scan step", err)
		}
		if st.Config, err = schema.DecodeMap([]byte(config.String)); err != nil {
			return nil, fmt.Errorf("unmarshal step config: %w", err)
		}
		g.Steps = append(g.Steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("load steps", err)
	}

	trows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, from_step_id, to_step_id, condition, is_default, created_at
		 FROM workflow_transitions WHERE workflow_id = ? ORDER BY rowid ASC`, workflowID)
	if err != nil {
		return nil, storeError("load transitions", err)
	}
	defer trows.Close()
	for trows.Next() {
		tr := &schema.WorkflowTransition{}
		var cond sql.NullString
		if err := trows.Scan(&tr.ID, &tr.WorkflowID, &tr.FromStepID, &tr.ToStepID, &cond,
			&tr.IsDefault, &tr.CreatedAt); err != nil {
			return nil, storeError("scan transition", err)
		}
		if tr.Condition, err = decodeCondition([]byte(cond.String)); err != nil {
			return nil, fmt.Errorf("unmarshal transition condition: %w", err)
		}
		g.Transitions = append(g.Transitions, tr)
	}
	return g, storeError("load transitions", trows.Err())
}

// --- Executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, exec *schema.Execution) error {
	if err := prepareExecution(exec); err != nil {
		return err
	}
	metadata, err := encodeJSON(exec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal execution metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, client_id, status, metadata, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowID, exec.ClientID, string(exec.Status), metadata, exec.StartedAt, nullTime(exec.CompletedAt),
	)
	return storeError("create execution", err)
}

// AppendExecutionLog assigns the next per-execution sequence and inserts the
// entry in one transaction.
func (s *LibSQLStore) AppendExecutionLog(ctx context.Context, l *schema.ExecutionLog) error {
	if err := prepareLog(l); err != nil {
		return err
	}
	data, err := encodeJSON(l.Data)
	if err != nil {
		return fmt.Errorf("marshal log data: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin tx", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM executions WHERE id = ?`, l.ExecutionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return storeNotFound("execution", l.ExecutionID)
	}
	if err != nil {
		return storeError("lookup execution", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM execution_logs WHERE execution_id = ?`, l.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return storeError("next log sequence", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO execution_logs (id, execution_id, sequence, step_id, status, message, data, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.ExecutionID, seq, nullPtrStr(l.StepID), string(l.Status), nullStr(l.Message), data,
		nullStr(l.Error), l.StartedAt, nullTime(l.CompletedAt),
	)
	if err != nil {
		return storeError("insert execution log", err)
	}
	if err := tx.Commit(); err != nil {
		return storeError("commit execution log", err)
	}
	l.Sequence = seq
	return nil
}

func (s *LibSQLStore) UpdateExecutionStatus(ctx context.Context, id string, status schema.ExecutionStatus, completedAt time.Time) error {
	var completed any
	if status.IsTerminal() {
		completed = timeOrNow(completedAt)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, completed_at = ? WHERE id = ?`, string(status), completed, id)
	if err != nil {
		return storeError("update execution", err)
	}
	return checkRowsAffected(res, "execution", id)
}

const executionColumns = `id, workflow_id, client_id, status, metadata, started_at, completed_at`

func (s *LibSQLStore) LoadExecutionWithLogs(ctx context.Context, id string) (*schema.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, storeError("get execution", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, sequence, step_id, status, message, data, error, started_at, completed_at
		 FROM execution_logs WHERE execution_id = ? ORDER BY sequence ASC`, id)
	if err != nil {
		return nil, storeError("load execution logs", err)
	}
	defer rows.Close()

	exec.Logs = []*schema.ExecutionLog{}
	for rows.Next() {
		l := &schema.ExecutionLog{}
		var stepID, message, data, errMsg sql.NullString
		var completedAt sql.NullTime
		var status string
		if err := rows.Scan(&l.ID, &l.ExecutionID, &l.Sequence, &stepID, &status, &message, &data, &errMsg,
			&l.StartedAt, &completedAt); err != nil {
			return nil, storeError("scan execution log", err)
		}
		if stepID.Valid {
			l.StepID = &stepID.String
		}
		l.Status = schema.StepStatus(status)
		l.Message = message.String
		l.Error = errMsg.String
		if l.Data, err = schema.DecodeMap([]byte(data.String)); err != nil {
			return nil, fmt.Errorf("unmarshal log data: %w", err)
		}
		if completedAt.Valid {
			l.CompletedAt = timePtr(completedAt.Time)
		}
		exec.Logs = append(exec.Logs, l)
	}
	return exec, storeError("load execution logs", rows.Err())
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.ClientID != "" {
		where = append(where, "client_id = ?")
		args = append(args, filter.ClientID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, rowid DESC"
	query += limitClause(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list executions", err)
	}
	defer rows.Close()

	var out []*schema.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, storeError("scan execution", err)
		}
		out = append(out, exec)
	}
	return out, storeError("list executions", rows.Err())
}

func scanExecution(row scanner) (*schema.Execution, error) {
	exec := &schema.Execution{}
	var status string
	var metadata sql.NullString
	var completedAt sql.NullTime
	if err := row.Scan(&exec.ID, &exec.WorkflowID, &exec.ClientID, &status, &metadata, &exec.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	exec.Status = schema.ExecutionStatus(status)
	m, err := schema.DecodeMap([]byte(metadata.String))
	if err != nil {
		return nil, fmt.Errorf("unmarshal execution metadata: %w", err)
	}
	exec.Metadata = m
	if completedAt.Valid {
		exec.CompletedAt = timePtr(completedAt.Time)
	}
	return exec, nil
}

// --- Helpers ---

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeError("rows affected", err)
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func limitClause(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	clause := fmt.Sprintf(" LIMIT %d", limit)
	if offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", offset)
	}
	return clause
}

var _ Store = (*LibSQLStore)(nil)
