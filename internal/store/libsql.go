package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/leadflow/engine/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

const workflowColumns = `id, workspace_id, name, status, owner_id, nodes, edges, is_template, created_at, updated_at`

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *schema.Workflow) error {
	nodes, edges, err := marshalGraph(wf)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (`+workflowColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.WorkspaceID, wf.Name, string(wf.Status), nullStr(wf.OwnerID),
		nodes, edges, boolInt(wf.IsTemplate),
		timeOrNow(wf.CreatedAt), timeOrNow(wf.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	return wf, err
}

func (s *LibSQLStore) UpdateWorkflow(ctx context.Context, wf *schema.Workflow) error {
	nodes, edges, err := marshalGraph(wf)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET name = ?, status = ?, owner_id = ?, nodes = ?, edges = ?, is_template = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		wf.Name, string(wf.Status), nullStr(wf.OwnerID), nodes, edges, boolInt(wf.IsTemplate), wf.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", wf.ID)
}

func (s *LibSQLStore) UpdateWorkflowStatus(ctx context.Context, id string, status schema.WorkflowStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(status), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	var where []string
	var args []any

	if filter.WorkspaceID != "" {
		where = append(where, "workspace_id = ?")
		args = append(args, filter.WorkspaceID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.IsTemplate != nil {
		where = append(where, "is_template = ?")
		args = append(args, boolInt(*filter.IsTemplate))
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*schema.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *LibSQLStore) ListActiveWorkflows(ctx context.Context, workspaceID string) ([]*schema.Workflow, error) {
	active := schema.WorkflowStatusActive
	return s.ListWorkflows(ctx, WorkflowFilter{WorkspaceID: workspaceID, Status: &active})
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Runs ---

const runColumns = `id, workflow_id, lead_id, test_run, dry_run, status, entry_node_id, next_node_id, wake_at, steps_used, reason, started_at, finished_at`

func (s *LibSQLStore) CreateRun(ctx context.Context, run *schema.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, nullStr(run.LeadID), boolInt(run.TestRun), boolInt(run.DryRun),
		string(run.Status), run.EntryNodeID, nullStr(run.NextNodeID), nullTime(run.WakeAt),
		run.StepsUsed, nullStr(run.Reason), timeOrNow(run.StartedAt), nullTime(run.FinishedAt),
	)
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*schema.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	return run, err
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.NextNodeID != nil {
		sets = append(sets, "next_node_id = ?")
		args = append(args, nullStr(*update.NextNodeID))
	}
	if update.WakeAt != nil {
		sets = append(sets, "wake_at = ?")
		args = append(args, *update.WakeAt)
	} else if update.ClearWake {
		sets = append(sets, "wake_at = NULL")
	}
	if update.StepsUsed != nil {
		sets = append(sets, "steps_used = ?")
		args = append(args, *update.StepsUsed)
	}
	if update.Reason != nil {
		sets = append(sets, "reason = ?")
		args = append(args, nullStr(*update.Reason))
	}
	if update.FinishedAt != nil {
		sets = append(sets, "finished_at = ?")
		args = append(args, *update.FinishedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.Run, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.LeadID != "" {
		where = append(where, "lead_id = ?")
		args = append(args, filter.LeadID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if !filter.IncludeTestRuns {
		where = append(where, "test_run = 0")
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*schema.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *LibSQLStore) ClaimDueRuns(ctx context.Context, now time.Time, limit int) ([]*schema.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM runs WHERE status = ? AND wake_at IS NOT NULL AND wake_at <= ?
		 ORDER BY wake_at ASC LIMIT ?`,
		string(schema.RunStatusSuspended), now, limit,
	)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var claimed []*schema.Run
	for _, id := range ids {
		// Conditional update keeps the claim idempotent across sweepers.
		res, err := tx.ExecContext(ctx,
			`UPDATE runs SET status = ? WHERE id = ? AND status = ?`,
			string(schema.RunStatusPending), id, string(schema.RunStatusSuspended),
		)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		run, err := scanRun(tx.QueryRowContext(ctx,
			`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, run)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return claimed, nil
}

// --- Run trace ---

func (s *LibSQLStore) AppendRunStep(ctx context.Context, step *schema.RunStep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if step.Seq == 0 {
		var seq int
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM run_steps WHERE run_id = ?`, step.RunID,
		).Scan(&seq)
		if err != nil {
			return fmt.Errorf("get next seq: %w", err)
		}
		step.Seq = seq
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO run_steps (run_id, seq, node_id, node_type, status, detail, error, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		step.RunID, step.Seq, step.NodeID, string(step.NodeType), string(step.Status),
		nullStr(step.Detail), nullStr(step.Error), timeOrNow(step.At),
	)
	if err != nil {
		return fmt.Errorf("insert run step: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run step: %w", err)
	}
	return nil
}

func (s *LibSQLStore) ListRunSteps(ctx context.Context, runID string) ([]*schema.RunStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, node_id, node_type, status, detail, error, at
		 FROM run_steps WHERE run_id = ? ORDER BY seq ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*schema.RunStep
	for rows.Next() {
		st := &schema.RunStep{}
		var nodeType, status string
		var detail, errMsg sql.NullString
		if err := rows.Scan(&st.RunID, &st.Seq, &st.NodeID, &nodeType, &status, &detail, &errMsg, &st.At); err != nil {
			return nil, err
		}
		st.NodeType = schema.NodeType(nodeType)
		st.Status = schema.StepStatus(status)
		st.Detail = detail.String
		st.Error = errMsg.String
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// --- Scanning ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*schema.Workflow, error) {
	wf := &schema.Workflow{}
	var (
		status, nodesJSON, edgesJSON string
		ownerID                      sql.NullString
		isTemplate                   int
	)
	err := row.Scan(&wf.ID, &wf.WorkspaceID, &wf.Name, &status, &ownerID,
		&nodesJSON, &edgesJSON, &isTemplate, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, err
	}
	wf.Status = schema.WorkflowStatus(status)
	wf.OwnerID = ownerID.String
	wf.IsTemplate = isTemplate != 0
	if err := json.Unmarshal([]byte(nodesJSON), &wf.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(edgesJSON), &wf.Edges); err != nil {
		return nil, fmt.Errorf("unmarshal edges: %w", err)
	}
	return wf, nil
}

func scanRun(row rowScanner) (*schema.Run, error) {
	run := &schema.Run{}
	var (
		leadID, nextNodeID, reason sql.NullString
		testRun, dryRun            int
		status                     string
		wakeAt, finishedAt         sql.NullTime
	)
	err := row.Scan(&run.ID, &run.WorkflowID, &leadID, &testRun, &dryRun, &status,
		&run.EntryNodeID, &nextNodeID, &wakeAt, &run.StepsUsed, &reason,
		&run.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	run.LeadID = leadID.String
	run.TestRun = testRun != 0
	run.DryRun = dryRun != 0
	run.Status = schema.RunStatus(status)
	run.NextNodeID = nextNodeID.String
	run.Reason = reason.String
	if wakeAt.Valid {
		run.WakeAt = &wakeAt.Time
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return run, nil
}

// --- Helpers ---

func marshalGraph(wf *schema.Workflow) (string, string, error) {
	nodes, err := json.Marshal(wf.Nodes)
	if err != nil {
		return "", "", fmt.Errorf("marshal nodes: %w", err)
	}
	edges, err := json.Marshal(wf.Edges)
	if err != nil {
		return "", "", fmt.Errorf("marshal edges: %w", err)
	}
	return string(nodes), string(edges), nil
}

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
