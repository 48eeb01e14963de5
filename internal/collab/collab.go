// Package collab declares the contracts the engine consumes from the
// surrounding CRUD system. Implementations live elsewhere; the engine only
// depends on these boundaries.
package collab

import (
	"context"
	"errors"
	"time"
)

// ErrVersionConflict is returned by LeadStore.Update when the expected
// version no longer matches. The engine retries the read-modify-write
// exactly once before failing the step.
var ErrVersionConflict = errors.New("lead version conflict")

// LeadSnapshot is a point-in-time view of a lead record.
type LeadSnapshot struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	StageID     string         `json:"stage_id"`
	OwnerID     string         `json:"owner_id,omitempty"`
	Score       float64        `json:"score"`
	Version     int64          `json:"version"`
	Fields      map[string]any `json:"fields,omitempty"`
	Audiences   []string       `json:"audiences,omitempty"`
}

// LeadStore reads and optimistically updates lead records.
type LeadStore interface {
	Get(ctx context.Context, leadID string) (*LeadSnapshot, error)
	// Update applies the field patch iff the stored version equals
	// expectedVersion; otherwise it returns ErrVersionConflict.
	Update(ctx context.Context, leadID string, fields map[string]any, expectedVersion int64) error
}

// MessageQueue enqueues outbound messages. Delivery statuses are owned by
// the messaging subsystem, not the engine.
type MessageQueue interface {
	Enqueue(ctx context.Context, leadID, platform, messageType, content, priority string, scheduledAt *time.Time) (messageID string, err error)
}

// TagStore attaches and detaches tags. Both operations are idempotent.
type TagStore interface {
	Attach(ctx context.Context, leadID, tagID string) error
	Detach(ctx context.Context, leadID, tagID string) error
}

// Scorer adjusts a lead's score by a delta and returns the new score.
type Scorer interface {
	Adjust(ctx context.Context, leadID string, delta float64) (newScore float64, err error)
}

// AudienceStore manages audience membership. Both operations are idempotent.
type AudienceStore interface {
	Add(ctx context.Context, leadID, audienceID string) error
	Remove(ctx context.Context, leadID, audienceID string) error
}

// AgentTaskQueue hands off an opaque task to a human or agent queue.
type AgentTaskQueue interface {
	Enqueue(ctx context.Context, leadID, taskType, note string) (taskID string, err error)
}
