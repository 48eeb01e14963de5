package actions

import (
	"context"
	"fmt"

	"github.com/leadflow/engine/internal/collab"
	"github.com/leadflow/engine/pkg/schema"
)

// SendMessage enqueues a templated message for the lead in the external
// message queue. Delivery, retry, and status tracking belong to that
// subsystem.
type SendMessage struct {
	Queue collab.MessageQueue
}

func (a *SendMessage) Kind() schema.NodeType { return schema.NodeActionSendMessage }

func (a *SendMessage) Execute(ctx context.Context, req Request) (*Result, error) {
	var cfg schema.SendMessageConfig
	if err := decodeConfig(a.Kind(), req.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Platform == "" || cfg.TemplateID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "send_message: platform and template_id are required")
	}
	priority := cfg.Priority
	if priority == "" {
		priority = schema.PriorityNormal
	}

	if req.DryRun {
		return &Result{
			Summary: fmt.Sprintf("would enqueue %s message (template %s) for lead %s", cfg.Platform, cfg.TemplateID, req.LeadID),
			Detail: map[string]any{
				"platform":    cfg.Platform,
				"template_id": cfg.TemplateID,
				"priority":    string(priority),
			},
		}, nil
	}

	messageID, err := a.Queue.Enqueue(ctx, req.LeadID, cfg.Platform, cfg.MessageType, cfg.TemplateID, string(priority), cfg.ScheduledAt)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAction, "enqueue message: %s", err.Error()).WithCause(err)
	}
	return &Result{
		Summary: fmt.Sprintf("enqueued %s message for lead %s", cfg.Platform, req.LeadID),
		Detail: map[string]any{
			"message_id":  messageID,
			"platform":    cfg.Platform,
			"template_id": cfg.TemplateID,
			"priority":    string(priority),
		},
	}, nil
}

// AgentTask enqueues an opaque handoff task for a human or agent.
type AgentTask struct {
	Tasks collab.AgentTaskQueue
}

func (a *AgentTask) Kind() schema.NodeType { return schema.NodeActionAgentTask }

func (a *AgentTask) Execute(ctx context.Context, req Request) (*Result, error) {
	var cfg schema.AgentTaskConfig
	if err := decodeConfig(a.Kind(), req.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.TaskType == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "agent_task: missing task_type")
	}

	if req.DryRun {
		return &Result{
			Summary: fmt.Sprintf("would enqueue %s task for lead %s", cfg.TaskType, req.LeadID),
			Detail:  map[string]any{"task_type": cfg.TaskType},
		}, nil
	}

	taskID, err := a.Tasks.Enqueue(ctx, req.LeadID, cfg.TaskType, cfg.Note)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAction, "enqueue agent task: %s", err.Error()).WithCause(err)
	}
	return &Result{
		Summary: fmt.Sprintf("enqueued %s task for lead %s", cfg.TaskType, req.LeadID),
		Detail:  map[string]any{"task_id": taskID, "task_type": cfg.TaskType},
	}, nil
}
