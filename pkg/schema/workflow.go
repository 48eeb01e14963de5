package schema

import (
	"encoding/json"
	"time"
)

// WorkflowStatus is the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusPaused   WorkflowStatus = "paused"
	WorkflowStatusArchived WorkflowStatus = "archived"
)

// Workflow is a directed graph of trigger, condition, and action nodes,
// defined per workspace and executed against individual leads.
type Workflow struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	Name        string         `json:"name"`
	Status      WorkflowStatus `json:"status"`
	OwnerID     string         `json:"owner_id,omitempty"`
	Nodes       []Node         `json:"nodes"`
	Edges       []Edge         `json:"edges"`
	IsTemplate  bool           `json:"is_template,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NodeType enumerates the kinds of nodes in a workflow graph.
type NodeType string

// Trigger node types. These are the graph entry points; the trigger matcher
// maps external events onto them.
const (
	NodeTriggerStageEntry  NodeType = "trigger.stage_entry"
	NodeTriggerScoreChange NodeType = "trigger.score_change"
	NodeTriggerFieldChange NodeType = "trigger.field_change"
	NodeTriggerTimeReached NodeType = "trigger.time_reached"
	NodeTriggerWebhook     NodeType = "trigger.webhook"
	NodeTriggerManual      NodeType = "trigger.manual"
)

// Action node types, dispatched through the action registry.
const (
	NodeActionSendMessage    NodeType = "action.send_message"
	NodeActionAddTag         NodeType = "action.add_tag"
	NodeActionRemoveTag      NodeType = "action.remove_tag"
	NodeActionAssignUser     NodeType = "action.assign_user"
	NodeActionChangeStage    NodeType = "action.change_stage"
	NodeActionUpdateField    NodeType = "action.update_field"
	NodeActionAgentTask      NodeType = "action.agent_task"
	NodeActionSendWebhook    NodeType = "action.send_webhook"
	NodeActionAddAudience    NodeType = "action.add_audience"
	NodeActionRemoveAudience NodeType = "action.remove_audience"
	NodeActionWaitUntil      NodeType = "action.wait_until"
	NodeActionIncrementScore NodeType = "action.increment_score"
	NodeActionDecrementScore NodeType = "action.decrement_score"
)

// Flow-control node types.
const (
	NodeCondition NodeType = "condition"
	NodeDelay     NodeType = "delay"
	NodeLoop      NodeType = "loop"
	NodeEnd       NodeType = "end"
)

// IsTrigger reports whether t is a trigger node type.
func (t NodeType) IsTrigger() bool {
	switch t {
	case NodeTriggerStageEntry, NodeTriggerScoreChange, NodeTriggerFieldChange,
		NodeTriggerTimeReached, NodeTriggerWebhook, NodeTriggerManual:
		return true
	}
	return false
}

// IsAction reports whether t is an action node type.
func (t NodeType) IsAction() bool {
	switch t {
	case NodeActionSendMessage, NodeActionAddTag, NodeActionRemoveTag,
		NodeActionAssignUser, NodeActionChangeStage, NodeActionUpdateField,
		NodeActionAgentTask, NodeActionSendWebhook, NodeActionAddAudience,
		NodeActionRemoveAudience, NodeActionWaitUntil,
		NodeActionIncrementScore, NodeActionDecrementScore:
		return true
	}
	return false
}

// Known reports whether t is any recognized node type.
func (t NodeType) Known() bool {
	return t.IsTrigger() || t.IsAction() ||
		t == NodeCondition || t == NodeDelay || t == NodeLoop || t == NodeEnd
}

// Position is cosmetic editor metadata, ignored by execution.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a single vertex in the workflow graph. Config is a type-specific
// payload decoded into one of the typed config structs (see config.go).
type Node struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	Type       NodeType        `json:"type"`
	Config     json.RawMessage `json:"config,omitempty"`
	Position   Position        `json:"position"`
}

// EdgeLabel selects a branch on the outgoing edges of condition and loop nodes.
type EdgeLabel string

const (
	EdgeLabelNone  EdgeLabel = ""
	EdgeLabelTrue  EdgeLabel = "true"
	EdgeLabelFalse EdgeLabel = "false"
	EdgeLabelBody  EdgeLabel = "body"
	EdgeLabelDone  EdgeLabel = "done"
)

// Edge is a directed connection between two nodes of the same workflow.
// Labels are only meaningful on condition (true/false) and loop (body/done)
// sources; all other nodes have a single unlabeled outgoing edge at most.
type Edge struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	SourceID   string    `json:"source_id"`
	TargetID   string    `json:"target_id"`
	Label      EdgeLabel `json:"label,omitempty"`
}
