package collab

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process implementation of every collaborator contract.
// It backs standalone daemon mode and integration tests; production
// deployments wire the real CRM services instead.
type Memory struct {
	mu    sync.Mutex
	leads map[string]*LeadSnapshot

	Messages []QueuedMessage
	Tasks    []QueuedTask
}

// QueuedMessage records one MessageQueue.Enqueue call.
type QueuedMessage struct {
	ID          string
	LeadID      string
	Platform    string
	MessageType string
	Content     string
	Priority    string
	ScheduledAt *time.Time
}

// QueuedTask records one AgentTaskQueue.Enqueue call.
type QueuedTask struct {
	ID       string
	LeadID   string
	TaskType string
	Note     string
}

// NewMemory creates an empty in-memory collaborator set.
func NewMemory() *Memory {
	return &Memory{leads: make(map[string]*LeadSnapshot)}
}

// PutLead seeds or replaces a lead record.
func (m *Memory) PutLead(lead *LeadSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *lead
	m.leads[lead.ID] = &cp
}

func (m *Memory) Get(ctx context.Context, leadID string) (*LeadSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[leadID]
	if !ok {
		return nil, fmt.Errorf("lead %q not found", leadID)
	}
	cp := *lead
	cp.Fields = copyFields(lead.Fields)
	cp.Audiences = append([]string(nil), lead.Audiences...)
	return &cp, nil
}

func (m *Memory) Update(ctx context.Context, leadID string, fields map[string]any, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[leadID]
	if !ok {
		return fmt.Errorf("lead %q not found", leadID)
	}
	if lead.Version != expectedVersion {
		return ErrVersionConflict
	}
	for k, v := range fields {
		switch k {
		case "stage_id":
			lead.StageID = fmt.Sprintf("%v", v)
		case "owner_id":
			lead.OwnerID = fmt.Sprintf("%v", v)
		default:
			if lead.Fields == nil {
				lead.Fields = make(map[string]any)
			}
			lead.Fields[k] = v
		}
	}
	lead.Version++
	return nil
}

func (m *Memory) Enqueue(ctx context.Context, leadID, platform, messageType, content, priority string, scheduledAt *time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := QueuedMessage{
		ID:          uuid.NewString(),
		LeadID:      leadID,
		Platform:    platform,
		MessageType: messageType,
		Content:     content,
		Priority:    priority,
		ScheduledAt: scheduledAt,
	}
	m.Messages = append(m.Messages, msg)
	return msg.ID, nil
}

func (m *Memory) Attach(ctx context.Context, leadID, tagID string) error {
	return m.setField(leadID, "tag:"+tagID, true)
}

func (m *Memory) Detach(ctx context.Context, leadID, tagID string) error {
	return m.setField(leadID, "tag:"+tagID, nil)
}

func (m *Memory) Adjust(ctx context.Context, leadID string, delta float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[leadID]
	if !ok {
		return 0, fmt.Errorf("lead %q not found", leadID)
	}
	lead.Score += delta
	lead.Version++
	return lead.Score, nil
}

func (m *Memory) Add(ctx context.Context, leadID, audienceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[leadID]
	if !ok {
		return fmt.Errorf("lead %q not found", leadID)
	}
	for _, a := range lead.Audiences {
		if a == audienceID {
			return nil
		}
	}
	lead.Audiences = append(lead.Audiences, audienceID)
	return nil
}

func (m *Memory) Remove(ctx context.Context, leadID, audienceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[leadID]
	if !ok {
		return fmt.Errorf("lead %q not found", leadID)
	}
	kept := lead.Audiences[:0]
	for _, a := range lead.Audiences {
		if a != audienceID {
			kept = append(kept, a)
		}
	}
	lead.Audiences = kept
	return nil
}

// EnqueueTask implements AgentTaskQueue. The method set of Memory already
// uses Enqueue for messages, so tasks get their own name and a thin adapter.
func (m *Memory) EnqueueTask(ctx context.Context, leadID, taskType, note string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task := QueuedTask{
		ID:       uuid.NewString(),
		LeadID:   leadID,
		TaskType: taskType,
		Note:     note,
	}
	m.Tasks = append(m.Tasks, task)
	return task.ID, nil
}

// TaskQueue exposes the Memory as an AgentTaskQueue.
func (m *Memory) TaskQueue() AgentTaskQueue {
	return taskQueueAdapter{m}
}

type taskQueueAdapter struct{ m *Memory }

func (a taskQueueAdapter) Enqueue(ctx context.Context, leadID, taskType, note string) (string, error) {
	return a.m.EnqueueTask(ctx, leadID, taskType, note)
}

func (m *Memory) setField(leadID, key string, val any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[leadID]
	if !ok {
		return fmt.Errorf("lead %q not found", leadID)
	}
	if lead.Fields == nil {
		lead.Fields = make(map[string]any)
	}
	if val == nil {
		delete(lead.Fields, key)
	} else {
		lead.Fields[key] = val
	}
	return nil
}

func copyFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
