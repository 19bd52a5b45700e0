package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rendis/flowsim/pkg/schema"
)

// PostgresStore implements Store on PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and returns a Store. Call Migrate before use.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreFromPool wraps an existing pool. Close closes the pool.
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Migrate applies pending PostgreSQL migrations, tracked in schema_version.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, m := range postgresMigrations {
		if m.Version <= current {
			continue
		}
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		for _, stmt := range splitStatements(m.SQL) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
			}
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// --- Clients ---

func (s *PostgresStore) CreateClient(ctx context.Context, c *schema.Client) error {
	if err := prepareClient(c); err != nil {
		return err
	}
	metadata, err := encodeJSON(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal client metadata: %w", err)
	}
	const query = `
INSERT INTO clients (id, name, email, company, is_active, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = s.pool.Exec(ctx, query,
		c.ID, c.Name, nullStr(c.Email), nullStr(c.Company), c.IsActive, metadata, c.CreatedAt, c.UpdatedAt)
	return storeError("create client", err)
}

func (s *PostgresStore) GetClient(ctx context.Context, id string) (*schema.Client, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1`, id)
	c, err := scanPgClient(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storeNotFound("client", id)
	}
	return c, storeError("get client", err)
}

func (s *PostgresStore) ListClients(ctx context.Context) ([]*schema.Client, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+clientColumns+` FROM clients ORDER BY name, id`)
	if err != nil {
		return nil, storeError("list clients", err)
	}
	defer rows.Close()

	var clients []*schema.Client
	for rows.Next() {
		c, err := scanPgClient(rows)
		if err != nil {
			return nil, storeError("scan client", err)
		}
		clients = append(clients, c)
	}
	return clients, storeError("list clients", rows.Err())
}

func scanPgClient(row pgx.Row) (*schema.Client, error) {
	c := &schema.Client{}
	var email, company *string
	var metadata []byte
	if err := row.Scan(&c.ID, &c.Name, &email, &company, &c.IsActive, &metadata, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Email = deref(email)
	c.Company = deref(company)
	m, err := schema.DecodeMap(metadata)
	if err != nil {
		return nil, fmt.Errorf("unmarshal client metadata: %w", err)
	}
	c.Metadata = m
	return c, nil
}

// --- Workflows ---

func (s *PostgresStore) CreateWorkflow(ctx context.Context, wf *schema.Workflow) error {
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
	const query = `
INSERT INTO workflows (id, client_id, name, description, version, status, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = s.pool.Exec(ctx, query,
		wf.ID, nullStr(wf.ClientID), wf.Name, nullStr(wf.Description), wf.Version, string(wf.Status),
		metadata, wf.CreatedAt, wf.UpdatedAt)
	return storeError("create workflow", err)
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)
	wf, err := scanPgWorkflow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storeNotFound("workflow", id)
	}
	return wf, storeError("get workflow", err)
}

func (s *PostgresStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	var where []string
	var args []any

	if filter.ClientID != "" {
		args = append(args, filter.ClientID)
		where = append(where, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	query += limitClause(filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeError("list workflows", err)
	}
	defer rows.Close()

	var workflows []*schema.Workflow
	for rows.Next() {
		wf, err := scanPgWorkflow(rows)
		if err != nil {
			return nil, storeError("scan workflow", err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, storeError("list workflows", rows.Err())
}

func scanPgWorkflow(row pgx.Row) (*schema.Workflow, error) {
	wf := &schema.Workflow{}
	var clientID, desc *string
	var metadata []byte
	var status string
	if err := row.Scan(&wf.ID, &clientID, &wf.Name, &desc, &wf.Version, &status, &metadata,
		&wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.Status = schema.WorkflowStatus(status)
	wf.ClientID = deref(clientID)
	wf.Description = deref(desc)
	m, err := schema.DecodeMap(metadata)
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow metadata: %w", err)
	}
	wf.Metadata = m
	return wf, nil
}

func (s *PostgresStore) AddStep(ctx context.Context, step *schema.WorkflowStep) error {
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
	const query = `
INSERT INTO workflow_steps (id, workflow_id, name, step_type, step_order, config, is_required, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = s.pool.Exec(ctx, query,
		step.ID, step.WorkflowID, step.Name, step.StepType, step.Order, config, step.IsRequired, step.CreatedAt)
	return storeError("add step", err)
}

func (s *PostgresStore) AddTransition(ctx context.Context, tr *schema.WorkflowTransition) error {
	if err := prepareTransition(tr); err != nil {
		return err
	}
	err := checkTransitionEnds(tr, func(stepID string) (string, error) {
		var owner string
		err := s.pool.QueryRow(ctx, `SELECT workflow_id FROM workflow_steps WHERE id = $1`, stepID).Scan(&owner)
		if errors.Is(err, pgx.ErrNoRows) {
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
	const query = `
INSERT INTO workflow_transitions (id, workflow_id, from_step_id, to_step_id, condition, is_default, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = s.pool.Exec(ctx, query,
		tr.ID, tr.WorkflowID, tr.FromStepID, tr.ToStepID, cond, tr.IsDefault, tr.CreatedAt)
	return storeError("add transition", err)
}

// LoadWorkflowWithGraph orders steps by step_order and transitions by
// insertion, using the seq column to break ties.
func (s *PostgresStore) LoadWorkflowWithGraph(ctx context.Context, workflowID string) (*schema.WorkflowGraph, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	g := &schema.WorkflowGraph{Workflow: wf}

	rows, err := s.pool.Query(ctx, `
SELECT id, workflow_id, name, step_type, step_order, config, is_required, created_at
FROM workflow_steps
WHERE workflow_id = $1
ORDER BY step_order ASC, seq ASC`, workflowID)
	if err != nil {
		return nil, storeError("load steps", err)
	}
	for rows.Next() {
		st := &schema.WorkflowStep{}
		var config []byte
		if err := rows.Scan(&st.ID, &st.WorkflowID, &st.Name, &st.StepType, &st.Order, &config,
			&st.IsRequired, &st.CreatedAt); err != nil {
			rows.Close()
			return nil, storeError("scan step", err)
		}
		if st.Config, err = schema.DecodeMap(config); err != nil {
			rows.Close()
			return nil, fmt.Errorf("unmarshal step config: %w", err)
		}
		g.Steps = append(g.Steps, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storeError("load steps", err)
	}

	trows, err := s.pool.Query(ctx, `
SELECT id, workflow_id, from_step_id, to_step_id, condition, is_default, created_at
FROM workflow_transitions
WHERE workflow_id = $1
ORDER BY seq ASC`, workflowID)
	if err != nil {
		return nil, storeError("load transitions", err)
	}
	defer trows.Close()
	for trows.Next() {
		tr := &schema.WorkflowTransition{}
		var cond []byte
		if err := trows.Scan(&tr.ID, &tr.WorkflowID, &tr.FromStepID, &tr.ToStepID, &cond,
			&tr.IsDefault, &tr.CreatedAt); err != nil {
			return nil, storeError("scan transition", err)
		}
		if tr.Condition, err = decodeCondition(cond); err != nil {
			return nil, fmt.Errorf("unmarshal transition condition: %w", err)
		}
		g.Transitions = append(g.Transitions, tr)
	}
	return g, storeError("load transitions", trows.Err())
}

// --- Executions ---

func (s *PostgresStore) CreateExecution(ctx context.Context, exec *schema.Execution) error {
	if err := prepareExecution(exec); err != nil {
		return err
	}
	metadata, err := encodeJSON(exec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal execution metadata: %w", err)
	}
	const query = `
INSERT INTO executions (id, workflow_id, client_id, status, metadata, started_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = s.pool.Exec(ctx, query,
		exec.ID, exec.WorkflowID, exec.ClientID, string(exec.Status), metadata, exec.StartedAt, exec.CompletedAt)
	return storeError("create execution", err)
}

// AppendExecutionLog locks the execution row so concurrent appends to the
// same execution get consecutive sequences.
func (s *PostgresStore) AppendExecutionLog(ctx context.Context, l *schema.ExecutionLog) error {
	if err := prepareLog(l); err != nil {
		return err
	}
	data, err := encodeJSON(l.Data)
	if err != nil {
		return fmt.Errorf("marshal log data: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeError("begin tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM executions WHERE id = $1 FOR UPDATE`, l.ExecutionID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return storeNotFound("execution", l.ExecutionID)
	}
	if err != nil {
		return storeError("lock execution", err)
	}

	var seq int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM execution_logs WHERE execution_id = $1`, l.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return storeError("next log sequence", err)
	}

	const query = `
INSERT INTO execution_logs (id, execution_id, sequence, step_id, status, message, data, error, started_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = tx.Exec(ctx, query,
		l.ID, l.ExecutionID, seq, l.StepID, string(l.Status), nullStr(l.Message), data,
		nullStr(l.Error), l.StartedAt, l.CompletedAt)
	if err != nil {
		return storeError("insert execution log", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return storeError("commit execution log", err)
	}
	l.Sequence = seq
	return nil
}

func (s *PostgresStore) UpdateExecutionStatus(ctx context.Context, id string, status schema.ExecutionStatus, completedAt time.Time) error {
	var completed *time.Time
	if status.IsTerminal() {
		completed = timePtr(timeOrNow(completedAt))
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET status = $1, completed_at = $2 WHERE id = $3`, string(status), completed, id)
	if err != nil {
		return storeError("update execution", err)
	}
	if tag.RowsAffected() == 0 {
		return storeNotFound("execution", id)
	}
	return nil
}

func (s *PostgresStore) LoadExecutionWithLogs(ctx context.Context, id string) (*schema.Execution, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	exec, err := scanPgExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, storeError("get execution", err)
	}

	rows, err := s.pool.Query(ctx, `
SELECT id, execution_id, sequence, step_id, status, message, data, error, started_at, completed_at
FROM execution_logs
WHERE execution_id = $1
ORDER BY sequence ASC`, id)
	if err != nil {
		return nil, storeError("load execution logs", err)
	}
	defer rows.Close()

	exec.Logs = []*schema.ExecutionLog{}
	for rows.Next() {
		l := &schema.ExecutionLog{}
		var message, errMsg *string
		var data []byte
		var status string
		if err := rows.Scan(&l.ID, &l.ExecutionID, &l.Sequence, &l.StepID, &status, &message, &data, &errMsg,
			&l.StartedAt, &l.CompletedAt); err != nil {
			return nil, storeError("scan execution log", err)
		}
		l.Status = schema.StepStatus(status)
		l.Message = deref(message)
		l.Error = deref(errMsg)
		if l.Data, err = schema.DecodeMap(data); err != nil {
			return nil, fmt.Errorf("unmarshal log data: %w", err)
		}
		exec.Logs = append(exec.Logs, l)
	}
	return exec, storeError("load execution logs", rows.Err())
}

func (s *PostgresStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		where = append(where, fmt.Sprintf("workflow_id = $%d", len(args)))
	}
	if filter.ClientID != "" {
		args = append(args, filter.ClientID)
		where = append(where, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC"
	query += limitClause(filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeError("list executions", err)
	}
	defer rows.Close()

	var out []*schema.Execution
	for rows.Next() {
		exec, err := scanPgExecution(rows)
		if err != nil {
			return nil, storeError("scan execution", err)
		}
		out = append(out, exec)
	}
	return out, storeError("list executions", rows.Err())
}

func scanPgExecution(row pgx.Row) (*schema.Execution, error) {
	exec := &schema.Execution{}
	var status string
	var metadata []byte
	if err := row.Scan(&exec.ID, &exec.WorkflowID, &exec.ClientID, &status, &metadata,
		&exec.StartedAt, &exec.CompletedAt); err != nil {
		return nil, err
	}
	exec.Status = schema.ExecutionStatus(status)
	m, err := schema.DecodeMap(metadata)
	if err != nil {
		return nil, fmt.Errorf("unmarshal execution metadata: %w", err)
	}
	exec.Metadata = m
	return exec, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ Store = (*PostgresStore)(nil)
