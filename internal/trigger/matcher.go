package trigger

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/leadflow/engine/internal/expressions"
	"github.com/leadflow/engine/internal/graph"
	"github.com/leadflow/engine/pkg/schema"
)

// defaultLeadIDPath extracts the lead id from a webhook payload when the
// trigger config does not override it.
const defaultLeadIDPath = ".lead_id"

// WorkflowSource provides the workflows the matcher scans. Satisfied by the
// run store and test fakes.
type WorkflowSource interface {
	ListActiveWorkflows(ctx context.Context, workspaceID string) ([]*schema.Workflow, error)
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
}

// Matcher maps external events to the (workflow, entry node) pairs that
// should begin execution. Matching is pure: it never touches lead records.
type Matcher struct {
	source WorkflowSource
	parser cron.Parser
	cel    *expressions.CELEngine
	jq     *expressions.GoJQEngine
	logger *slog.Logger
}

// NewMatcher creates a Matcher. The CEL engine may be nil, in which case
// webhook filter expressions are treated as match errors.
func NewMatcher(source WorkflowSource, cel *expressions.CELEngine, jq *expressions.GoJQEngine, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		source: source,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		cel:    cel,
		jq:     jq,
		logger: logger,
	}
}

// Match resolves the matches for an event. A malformed trigger config is a
// MATCH_ERROR: it is logged and skipped without blocking other workflows.
func (m *Matcher) Match(ctx context.Context, ev Event) ([]Match, error) {
	// Manual and webhook events target one workflow directly.
	if ev.Kind == EventManual || ev.Kind == EventWebhookReceived {
		return m.matchDirect(ctx, ev)
	}

	workflows, err := m.source.ListActiveWorkflows(ctx, ev.WorkspaceID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list active workflows: %s", err.Error()).WithCause(err)
	}

	var matches []Match
	for _, wf := range workflows {
		g := graph.Build(wf)
		for _, node := range g.NodesByType(triggerTypeFor(ev.Kind)) {
			ok, err := m.evalPredicate(ctx, node, ev)
			if err != nil {
				m.logger.WarnContext(ctx, "skipping trigger with malformed config",
					slog.String("workflow_id", wf.ID),
					slog.String("node_id", node.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if ok {
				matches = append(matches, Match{Workflow: wf, EntryNode: node, LeadID: ev.LeadID})
			}
		}
	}
	return matches, nil
}

// matchDirect handles manual and webhook events, which name their workflow.
func (m *Matcher) matchDirect(ctx context.Context, ev Event) ([]Match, error) {
	if ev.WorkflowID == "" {
		return nil, schema.NewErrorf(schema.ErrCodeMatch, "%s event missing workflow id", ev.Kind)
	}
	wf, err := m.source.GetWorkflow(ctx, ev.WorkflowID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load workflow: %s", err.Error()).WithCause(err)
	}
	if wf == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow not found: %s", ev.WorkflowID)
	}
	if wf.Status != schema.WorkflowStatusActive {
		return nil, nil
	}

	g := graph.Build(wf)
	var matches []Match
	for _, node := range g.NodesByType(triggerTypeFor(ev.Kind)) {
		leadID := ev.LeadID
		if ev.Kind == EventWebhookReceived {
			ok, id, err := m.matchWebhook(ctx, node, ev)
			if err != nil {
				m.logger.WarnContext(ctx, "skipping webhook trigger",
					slog.String("workflow_id", wf.ID),
					slog.String("node_id", node.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !ok {
				continue
			}
			leadID = id
		}
		matches = append(matches, Match{Workflow: wf, EntryNode: node, LeadID: leadID})
	}
	return matches, nil
}

// evalPredicate decodes the trigger config and applies the per-kind rule.
func (m *Matcher) evalPredicate(ctx context.Context, node *schema.Node, ev Event) (bool, error) {
	switch ev.Kind {
	case EventStageEntry:
		var cfg schema.StageEntryTriggerConfig
		if err := node.DecodeConfig(&cfg); err != nil {
			return false, err
		}
		if cfg.StageID == "" {
			return false, schema.NewError(schema.ErrCodeMatch, "stage_entry trigger missing stage_id").WithNode(node.ID)
		}
		return cfg.StageID == ev.StageID, nil

	case EventScoreChange:
		var cfg schema.ScoreChangeTriggerConfig
		if err := node.DecodeConfig(&cfg); err != nil {
			return false, err
		}
		switch cfg.Direction {
		case schema.ScoreUp:
			return ev.OldScore < cfg.Threshold && ev.NewScore >= cfg.Threshold, nil
		case schema.ScoreDown:
			return ev.OldScore > cfg.Threshold && ev.NewScore <= cfg.Threshold, nil
		default:
			return false, schema.NewErrorf(schema.ErrCodeMatch,
				"score_change trigger has invalid direction %q", cfg.Direction).WithNode(node.ID)
		}

	case EventFieldChange:
		var cfg schema.FieldChangeTriggerConfig
		if err := node.DecodeConfig(&cfg); err != nil {
			return false, err
		}
		if cfg.Field == "" {
			return false, schema.NewError(schema.ErrCodeMatch, "field_change trigger missing field").WithNode(node.ID)
		}
		if cfg.Field != ev.Field {
			return false, nil
		}
		if cfg.Value != "" && cfg.Value != ev.NewValue {
			return false, nil
		}
		return true, nil

	case EventTimeReached:
		var cfg schema.TimeReachedTriggerConfig
		if err := node.DecodeConfig(&cfg); err != nil {
			return false, err
		}
		return m.cronDue(cfg.Cron, ev.Now, node.ID)

	default:
		return false, nil
	}
}

// cronDue reports whether the schedule fires at the event's minute.
func (m *Matcher) cronDue(expr string, now time.Time, nodeID string) (bool, error) {
	sched, err := m.parser.Parse(expr)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeMatch,
			"invalid cron expression %q: %s", expr, err.Error()).WithNode(nodeID).WithCause(err)
	}
	minute := now.Truncate(time.Minute)
	next := sched.Next(minute.Add(-time.Second))
	return next.Equal(minute), nil
}

// matchWebhook applies the CEL filter (if any) and extracts the lead id via
// the configured jq path.
func (m *Matcher) matchWebhook(ctx context.Context, node *schema.Node, ev Event) (bool, string, error) {
	var cfg schema.WebhookTriggerConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return false, "", err
	}

	var payload map[string]any
	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return false, "", schema.NewErrorf(schema.ErrCodeMatch,
				"webhook payload is not a JSON object: %s", err.Error()).WithNode(node.ID).WithCause(err)
		}
	}

	if cfg.Filter != "" {
		if m.cel == nil {
			return false, "", schema.NewError(schema.ErrCodeMatch, "webhook filter set but CEL engine unavailable").WithNode(node.ID)
		}
		out, err := m.cel.Evaluate(ctx, cfg.Filter, map[string]any{
			"payload": payload,
			"event":   map[string]any{"workspace_id": ev.WorkspaceID, "received_at": ev.Now.Format(time.RFC3339)},
		})
		if err != nil {
			return false, "", err
		}
		pass, ok := out.(bool)
		if !ok {
			return false, "", schema.NewErrorf(schema.ErrCodeMatch,
				"webhook filter %q returned %T, want bool", cfg.Filter, out).WithNode(node.ID)
		}
		if !pass {
			return false, "", nil
		}
	}

	path := cfg.LeadIDPath
	if path == "" {
		path = defaultLeadIDPath
	}
	leadID, err := m.jq.EvaluateString(ctx, path, payload)
	if err != nil {
		return false, "", err
	}
	return true, leadID, nil
}

func triggerTypeFor(kind EventKind) schema.NodeType {
	switch kind {
	case EventStageEntry:
		return schema.NodeTriggerStageEntry
	case EventScoreChange:
		return schema.NodeTriggerScoreChange
	case EventFieldChange:
		return schema.NodeTriggerFieldChange
	case EventTimeReached:
		return schema.NodeTriggerTimeReached
	case EventWebhookReceived:
		return schema.NodeTriggerWebhook
	case EventManual:
		return schema.NodeTriggerManual
	}
	return ""
}
