package schema

import (
	"encoding/json"
	"time"
)

// Typed node config payloads. Each node type decodes its Config into exactly
// one of these structs, so invalid field combinations are unrepresentable.

// StageEntryTriggerConfig fires when a lead enters the configured stage.
type StageEntryTriggerConfig struct {
	StageID string `json:"stage_id"`
}

// ScoreDirection selects which way a score threshold must be crossed.
type ScoreDirection string

const (
	ScoreUp   ScoreDirection = "up"
	ScoreDown ScoreDirection = "down"
)

// ScoreChangeTriggerConfig fires when a lead's score crosses Threshold in
// the configured direction.
type ScoreChangeTriggerConfig struct {
	Threshold float64        `json:"threshold"`
	Direction ScoreDirection `json:"direction"`
}

// FieldChangeTriggerConfig fires when the named lead field changes. If Value
// is non-empty the new value must equal it.
type FieldChangeTriggerConfig struct {
	Field string `json:"field"`
	Value string `json:"value,omitempty"`
}

// TimeReachedTriggerConfig fires when the cron schedule is due.
type TimeReachedTriggerConfig struct {
	Cron string `json:"cron"`
}

// WebhookTriggerConfig fires on an inbound webhook. Filter is an optional
// CEL expression over the payload; LeadIDPath is a jq expression that
// extracts the lead id from the payload (defaults to ".lead_id").
type WebhookTriggerConfig struct {
	Filter     string `json:"filter,omitempty"`
	LeadIDPath string `json:"lead_id_path,omitempty"`
}

// ManualTriggerConfig has no parameters; manual triggers target one
// workflow directly.
type ManualTriggerConfig struct{}

// ConditionOperator is the fixed comparison operator set for condition nodes.
type ConditionOperator string

const (
	OpEq          ConditionOperator = "eq"
	OpNe          ConditionOperator = "ne"
	OpGt          ConditionOperator = "gt"
	OpGte         ConditionOperator = "gte"
	OpLt          ConditionOperator = "lt"
	OpLte         ConditionOperator = "lte"
	OpContains    ConditionOperator = "contains"
	OpNotContains ConditionOperator = "not_contains"
	OpIsEmpty     ConditionOperator = "is_empty"
	OpIsNotEmpty  ConditionOperator = "is_not_empty"
)

// ConditionConfig evaluates (Field, Operator, Operand) against the current
// lead snapshot. Expression, when set, replaces the triple with a free-form
// expr-lang expression over the snapshot and must evaluate to a boolean.
type ConditionConfig struct {
	Field      string            `json:"field,omitempty"`
	Operator   ConditionOperator `json:"operator,omitempty"`
	Operand    any               `json:"operand,omitempty"`
	Expression string            `json:"expression,omitempty"`
}

// DelayConfig suspends the run. Exactly one of DelaySeconds or DelayUntil
// should be set; DelayUntil wins when both are.
type DelayConfig struct {
	DelaySeconds int        `json:"delay_seconds,omitempty"`
	DelayUntil   *time.Time `json:"delay_until,omitempty"`
}

// LoopSource selects where loop items come from.
type LoopSource string

const (
	LoopSourceList     LoopSource = "list"
	LoopSourceAudience LoopSource = "audience"
	LoopSourceCustom   LoopSource = "custom"
)

// LoopConfig iterates the loop body once per item, bounded by MaxIterations.
// A zero or negative MaxIterations is capped to the engine default; loops
// are never executed unbounded.
type LoopConfig struct {
	Source        LoopSource `json:"source"`
	Items         []string   `json:"items,omitempty"`
	MaxIterations int        `json:"max_iterations,omitempty"`
}

// MessagePriority orders outbound messages in the external queue.
type MessagePriority string

const (
	PriorityLow    MessagePriority = "low"
	PriorityNormal MessagePriority = "normal"
	PriorityHigh   MessagePriority = "high"
)

// SendMessageConfig enqueues a templated message for the lead.
type SendMessageConfig struct {
	Platform    string          `json:"platform"`
	TemplateID  string          `json:"template_id"`
	MessageType string          `json:"message_type,omitempty"`
	Priority    MessagePriority `json:"priority,omitempty"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
}

// TagConfig names the tag for add_tag / remove_tag actions.
type TagConfig struct {
	TagID string `json:"tag_id"`
}

// AssignUserConfig assigns the lead to a user.
type AssignUserConfig struct {
	UserID string `json:"user_id"`
}

// ChangeStageConfig moves the lead to a pipeline stage.
type ChangeStageConfig struct {
	StageID string `json:"stage_id"`
}

// UpdateFieldConfig sets a lead field to a value.
type UpdateFieldConfig struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// AgentTaskConfig enqueues an opaque handoff task for a human or agent.
type AgentTaskConfig struct {
	TaskType string `json:"task_type"`
	Note     string `json:"note,omitempty"`
}

// SendWebhookConfig posts a secret-signed payload to an external endpoint.
type SendWebhookConfig struct {
	URL            string `json:"url"`
	Secret         string `json:"secret,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// AudienceConfig names the audience for add_audience / remove_audience.
type AudienceConfig struct {
	AudienceID string `json:"audience_id"`
}

// WaitUntilConfig delegates to the delay mechanism with an absolute wake time.
type WaitUntilConfig struct {
	Until time.Time `json:"until"`
}

// ScoreDeltaConfig adjusts the lead's score. Delta is applied as-is for
// increment_score and negated for decrement_score.
type ScoreDeltaConfig struct {
	Delta float64 `json:"delta"`
}

// DecodeConfig unmarshals the node's config payload into v. A nil or empty
// payload leaves v at its zero value.
func (n *Node) DecodeConfig(v any) error {
	if len(n.Config) == 0 {
		return nil
	}
	if err := json.Unmarshal(n.Config, v); err != nil {
		return NewErrorf(ErrCodeValidation, "decode %s config: %s", n.Type, err.Error()).
			WithNode(n.ID).WithCause(err)
	}
	return nil
}
