package store

import (
	"context"
	"time"

	"github.com/leadflow/engine/pkg/schema"
)

// WorkflowFilter narrows ListWorkflows results.
type WorkflowFilter struct {
	WorkspaceID string
	Status      *schema.WorkflowStatus
	IsTemplate  *bool
	Limit       int
	Offset      int
}

// RunFilter narrows ListRuns results. Test runs are excluded unless
// IncludeTestRuns is set.
type RunFilter struct {
	WorkflowID      string
	LeadID          string
	Status          *schema.RunStatus
	IncludeTestRuns bool
	Since           *time.Time
	Limit           int
	Offset          int
}

// RunUpdate carries a partial update to a run record. Nil fields are left
// untouched.
type RunUpdate struct {
	Status     *schema.RunStatus
	NextNodeID *string
	WakeAt     *time.Time
	ClearWake  bool
	StepsUsed  *int
	Reason     *string
	FinishedAt *time.Time
}

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	CreateWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *schema.Workflow) error
	UpdateWorkflowStatus(ctx context.Context, id string, status schema.WorkflowStatus) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error)
	ListActiveWorkflows(ctx context.Context, workspaceID string) ([]*schema.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Runs
	CreateRun(ctx context.Context, run *schema.Run) error
	GetRun(ctx context.Context, id string) (*schema.Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*schema.Run, error)

	// ClaimDueRuns atomically moves suspended runs whose wake time has
	// passed into pending status and returns them. A run claimed once is
	// not returned to later callers.
	ClaimDueRuns(ctx context.Context, now time.Time, limit int) ([]*schema.Run, error)

	// Run trace (append-only)
	AppendRunStep(ctx context.Context, step *schema.RunStep) error
	ListRunSteps(ctx context.Context, runID string) ([]*schema.RunStep, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
