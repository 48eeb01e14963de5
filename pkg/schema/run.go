package schema

import "time"

// RunStatus is the lifecycle state of a single execution.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusSuspended RunStatus = "suspended"
)

// Terminal reports whether s is a final run state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// Well-known failure reasons. BUDGET_EXCEEDED and WORKFLOW_DEACTIVATED are
// kept distinct from plain action failures so an operator can tell "bug in
// workflow" from "external call failed".
const (
	ReasonBudgetExceeded      = "budget_exceeded"
	ReasonWorkflowDeactivated = "workflow_deactivated"
)

// Run is one execution instance of a workflow against one lead, from trigger
// to terminal status. It is an immutable audit record once terminal; a
// suspended run is resumed under the same id from NextNodeID.
type Run struct {
	ID          string     `json:"id"`
	WorkflowID  string     `json:"workflow_id"`
	LeadID      string     `json:"lead_id,omitempty"`
	TestRun     bool       `json:"test_run,omitempty"`
	DryRun      bool       `json:"dry_run,omitempty"`
	Status      RunStatus  `json:"status"`
	EntryNodeID string     `json:"entry_node_id"`
	NextNodeID  string     `json:"next_node_id,omitempty"`
	WakeAt      *time.Time `json:"wake_at,omitempty"`
	StepsUsed   int        `json:"steps_used"`
	Reason      string     `json:"reason,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// StepStatus is the outcome of a single node in a run trace.
type StepStatus string

const (
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSuspended StepStatus = "suspended"
	StepStatusSkipped   StepStatus = "skipped"
)

// RunStep is one entry in a run's ordered per-node trace.
type RunStep struct {
	RunID    string     `json:"run_id"`
	Seq      int        `json:"seq"`
	NodeID   string     `json:"node_id"`
	NodeType NodeType   `json:"node_type"`
	Status   StepStatus `json:"status"`
	Detail   string     `json:"detail,omitempty"`
	Error    string     `json:"error,omitempty"`
	At       time.Time  `json:"at"`
}

// ValidRunTransitions defines the allowed run state transitions. A sweep
// claim moves a due suspended run back to pending before resuming it.
var ValidRunTransitions = map[RunStatus][]RunStatus{
	RunStatusPending:   {RunStatusRunning, RunStatusFailed},
	RunStatusRunning:   {RunStatusSucceeded, RunStatusFailed, RunStatusSuspended},
	RunStatusSuspended: {RunStatusPending, RunStatusRunning, RunStatusFailed},
	RunStatusSucceeded: {},
	RunStatusFailed:    {},
}

// CanTransition reports whether from -> to is a legal run transition.
func CanTransition(from, to RunStatus) bool {
	for _, a := range ValidRunTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}
