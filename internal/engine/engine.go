package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/leadflow/engine/internal/actions"
	"github.com/leadflow/engine/internal/collab"
	"github.com/leadflow/engine/internal/expressions"
	"github.com/leadflow/engine/internal/graph"
	"github.com/leadflow/engine/internal/logging"
	"github.com/leadflow/engine/internal/store"
	"github.com/leadflow/engine/pkg/schema"
)

const (
	// DefaultStepBudget caps the number of node visits in a single run.
	DefaultStepBudget = 500

	// DefaultMaxIterations bounds loop nodes that do not set their own cap.
	DefaultMaxIterations = 100
)

// Config holds engine tunables.
type Config struct {
	StepBudget int
}

// StartOptions controls how a run is started.
type StartOptions struct {
	// DryRun makes every action return a synthetic result without touching
	// collaborators.
	DryRun bool
	// TestRun marks the run so it is excluded from default run listings.
	// Test runs may start against non-active workflows.
	TestRun bool
}

// Engine walks workflow graphs against individual leads. It owns run
// persistence and the per-lead execution lock; everything with side effects
// goes through the action registry.
type Engine struct {
	store   store.Store
	actions *actions.Registry
	leads   collab.LeadStore
	expr    *expressions.ExprEngine
	logger  *slog.Logger
	locks   *keyedMutex
	budget  int
}

// New creates an Engine. A nil logger falls back to slog.Default.
func New(s store.Store, registry *actions.Registry, leads collab.LeadStore, cfg Config, logger *slog.Logger) *Engine {
	if cfg.StepBudget <= 0 {
		cfg.StepBudget = DefaultStepBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   s,
		actions: registry,
		leads:   leads,
		expr:    expressions.NewExprEngine(),
		logger:  logger,
		locks:   newKeyedMutex(),
		budget:  cfg.StepBudget,
	}
}

// Start creates a run at the given trigger node and executes it to its first
// terminal or suspension point. Action failures are contained: the run ends
// as failed and Start still returns the run with a nil error. A non-nil
// error means the run could not be set up or persisted at all.
func (e *Engine) Start(ctx context.Context, wf *schema.Workflow, entryNodeID, leadID string, opts StartOptions) (*schema.Run, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}
	if wf.Status != schema.WorkflowStatusActive && !opts.TestRun {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "workflow %s is %s, not active", wf.ID, wf.Status)
	}

	g := graph.Build(wf)
	entry, ok := g.Node(entryNodeID)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "entry node %q not found in workflow %s", entryNodeID, wf.ID)
	}
	if !entry.Type.IsTrigger() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "entry node %q is %s, not a trigger", entryNodeID, entry.Type)
	}

	run := &schema.Run{
		ID:          uuid.NewString(),
		WorkflowID:  wf.ID,
		LeadID:      leadID,
		TestRun:     opts.TestRun,
		DryRun:      opts.DryRun,
		Status:      schema.RunStatusPending,
		EntryNodeID: entryNodeID,
		StartedAt:   time.Now().UTC(),
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create run: %s", err.Error()).WithCause(err)
	}

	ctx = logging.WithIDs(ctx, run.ID, "", leadID)
	e.logger.InfoContext(ctx, "run started",
		slog.String("workflow_id", wf.ID),
		slog.Bool("dry_run", opts.DryRun),
		slog.Bool("test_run", opts.TestRun))

	if leadID != "" {
		e.locks.Lock(leadID)
		defer e.locks.Unlock(leadID)
	}

	if err := e.setRunning(ctx, run); err != nil {
		return nil, err
	}
	if err := e.execute(ctx, run, g, entry.ID); err != nil {
		return nil, err
	}
	return run, nil
}

// Resume continues a suspended run from its persisted next node. The
// workflow status is re-fetched: a workflow paused or archived while the
// run slept fails the run with reason workflow_deactivated.
func (e *Engine) Resume(ctx context.Context, runID string) (*schema.Run, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !schema.CanTransition(run.Status, schema.RunStatusRunning) {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition, "cannot resume run in status %s", run.Status)
	}

	ctx = logging.WithIDs(ctx, run.ID, "", run.LeadID)

	wf, err := e.store.GetWorkflow(ctx, run.WorkflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != schema.WorkflowStatusActive {
		e.logger.InfoContext(ctx, "run resumed against deactivated workflow",
			slog.String("workflow_id", wf.ID),
			slog.String("workflow_status", string(wf.Status)))
		if err := e.finish(ctx, run, schema.RunStatusFailed, schema.ReasonWorkflowDeactivated); err != nil {
			return nil, err
		}
		return run, nil
	}

	if run.LeadID != "" {
		e.locks.Lock(run.LeadID)
		defer e.locks.Unlock(run.LeadID)
	}

	next := run.NextNodeID
	run.WakeAt = nil
	run.NextNodeID = ""
	if err := e.setRunning(ctx, run); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "run resumed", slog.String("next_node_id", next))

	g := graph.Build(wf)
	if next == "" {
		// Suspended at a trailing delay with nothing after it.
		if err := e.finish(ctx, run, schema.RunStatusSucceeded, ""); err != nil {
			return nil, err
		}
		return run, nil
	}
	if err := e.execute(ctx, run, g, next); err != nil {
		return nil, err
	}
	return run, nil
}

// execute drives the walk and translates its outcome into a final run state.
// Suspension persists inside the walk; everything else is finalized here.
func (e *Engine) execute(ctx context.Context, run *schema.Run, g *graph.Graph, from string) error {
	outcome, err := e.walk(ctx, run, g, from, "")
	if err != nil {
		return err
	}
	switch outcome.result {
	case walkDone:
		return e.finish(ctx, run, schema.RunStatusSucceeded, "")
	case walkFailed:
		return e.finish(ctx, run, schema.RunStatusFailed, outcome.reason)
	case walkSuspended:
		return nil
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "walk ended in unexpected state %d", outcome.result)
	}
}

// checkTransition guards every persisted status change with the shared
// transition table.
func (e *Engine) checkTransition(run *schema.Run, to schema.RunStatus) error {
	if !schema.CanTransition(run.Status, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"run %s cannot move from %s to %s", run.ID, run.Status, to)
	}
	return nil
}

func (e *Engine) setRunning(ctx context.Context, run *schema.Run) error {
	running := schema.RunStatusRunning
	if err := e.checkTransition(run, running); err != nil {
		return err
	}
	update := store.RunUpdate{Status: &running}
	if run.WakeAt == nil {
		update.ClearWake = true
	}
	if run.NextNodeID == "" {
		empty := ""
		update.NextNodeID = &empty
	}
	if err := e.store.UpdateRun(ctx, run.ID, update); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "update run: %s", err.Error()).WithCause(err)
	}
	run.Status = running
	return nil
}

func (e *Engine) finish(ctx context.Context, run *schema.Run, status schema.RunStatus, reason string) error {
	if err := e.checkTransition(run, status); err != nil {
		return err
	}
	now := time.Now().UTC()
	run.Status = status
	run.Reason = reason
	run.FinishedAt = &now
	update := store.RunUpdate{
		Status:     &status,
		Reason:     &reason,
		StepsUsed:  &run.StepsUsed,
		FinishedAt: &now,
		ClearWake:  true,
	}
	if err := e.store.UpdateRun(ctx, run.ID, update); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "finish run: %s", err.Error()).WithCause(err)
	}
	e.logger.InfoContext(ctx, "run finished",
		slog.String("status", string(status)),
		slog.String("reason", reason),
		slog.Int("steps_used", run.StepsUsed))
	return nil
}

// suspend persists the run as suspended with a wake time and the node to
// continue from.
func (e *Engine) suspend(ctx context.Context, run *schema.Run, nextNodeID string, wakeAt time.Time) error {
	suspended := schema.RunStatusSuspended
	if err := e.checkTransition(run, suspended); err != nil {
		return err
	}
	run.Status = suspended
	run.NextNodeID = nextNodeID
	run.WakeAt = &wakeAt
	update := store.RunUpdate{
		Status:     &suspended,
		NextNodeID: &nextNodeID,
		WakeAt:     &wakeAt,
		StepsUsed:  &run.StepsUsed,
	}
	if err := e.store.UpdateRun(ctx, run.ID, update); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "suspend run: %s", err.Error()).WithCause(err)
	}
	e.logger.InfoContext(ctx, "run suspended",
		slog.String("next_node_id", nextNodeID),
		slog.Time("wake_at", wakeAt))
	return nil
}

func (e *Engine) recordStep(ctx context.Context, run *schema.Run, node *schema.Node, status schema.StepStatus, detail, errMsg string) {
	// Seq is left zero so the store assigns the next sequence number.
	step := &schema.RunStep{
		RunID:    run.ID,
		NodeID:   node.ID,
		NodeType: node.Type,
		Status:   status,
		Detail:   detail,
		Error:    errMsg,
		At:       time.Now().UTC(),
	}
	if err := e.store.AppendRunStep(ctx, step); err != nil {
		e.logger.WarnContext(ctx, "append run step failed",
			slog.String("node_id", node.ID),
			slog.String("error", err.Error()))
	}
}

// snapshot fetches the lead fresh. Runs without a lead get an empty snapshot
// so conditions over lead fields evaluate against missing values instead of
// failing.
func (e *Engine) snapshot(ctx context.Context, run *schema.Run) (*collab.LeadSnapshot, error) {
	if run.LeadID == "" {
		return &collab.LeadSnapshot{}, nil
	}
	lead, err := e.leads.Get(ctx, run.LeadID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAction, "fetch lead %s: %s", run.LeadID, err.Error()).WithCause(err)
	}
	return lead, nil
}
