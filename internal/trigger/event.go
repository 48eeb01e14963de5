package trigger

import (
	"encoding/json"
	"time"

	"github.com/leadflow/engine/pkg/schema"
)

// EventKind discriminates the external events that can start workflows.
type EventKind string

const (
	EventStageEntry      EventKind = "stage_entry"
	EventScoreChange     EventKind = "score_change"
	EventFieldChange     EventKind = "field_change"
	EventTimeReached     EventKind = "time_reached"
	EventWebhookReceived EventKind = "webhook_received"
	EventManual          EventKind = "manual"
)

// Event is a lead-state change (or time/webhook/manual signal) handed to the
// matcher. Only the fields relevant to Kind are populated.
type Event struct {
	Kind        EventKind       `json:"kind"`
	WorkspaceID string          `json:"workspace_id"`
	LeadID      string          `json:"lead_id,omitempty"`
	StageID     string          `json:"stage_id,omitempty"`
	OldScore    float64         `json:"old_score,omitempty"`
	NewScore    float64         `json:"new_score,omitempty"`
	Field       string          `json:"field,omitempty"`
	OldValue    string          `json:"old_value,omitempty"`
	NewValue    string          `json:"new_value,omitempty"`
	Now         time.Time       `json:"now,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	// WorkflowID targets one workflow directly; set for manual and webhook
	// events, which bypass workspace-wide scanning.
	WorkflowID string `json:"workflow_id,omitempty"`
}

// Match pairs a workflow with the entry node that should begin execution.
// A lead may match zero, one, or many workflows; each match produces an
// independent run.
type Match struct {
	Workflow  *schema.Workflow `json:"workflow"`
	EntryNode *schema.Node     `json:"entry_node"`
	// LeadID is the lead the run executes against. For webhook events it is
	// extracted from the payload; otherwise it echoes the event's lead.
	LeadID string `json:"lead_id"`
}
