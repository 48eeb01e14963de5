// Package actions implements the side-effecting node operations. Each action
// kind is one type implementing Action, registered in a lookup table keyed
// by node type, so adding a kind is a local change.
package actions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/leadflow/engine/pkg/schema"
)

// Action is one side-effecting operation kind.
type Action interface {
	Kind() schema.NodeType
	Execute(ctx context.Context, req Request) (*Result, error)
}

// Request is the data provided to an action at execution time. In DryRun
// mode the action must not call any external collaborator; it returns a
// synthetic result describing what it would have done.
type Request struct {
	LeadID string          `json:"lead_id"`
	Config json.RawMessage `json:"config,omitempty"`
	DryRun bool            `json:"dry_run,omitempty"`
}

// Result is the outcome of a single action invocation.
type Result struct {
	Summary string         `json:"summary"`
	Detail  map[string]any `json:"detail,omitempty"`
	// Suspend, when set, asks the engine to suspend the run until the given
	// wake time (wait_until delegates to the delay mechanism this way).
	Suspend *time.Time `json:"suspend,omitempty"`
}

// decodeConfig unmarshals an action config payload into v.
func decodeConfig(kind schema.NodeType, raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: missing config", kind)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: decode config: %s", kind, err.Error()).WithCause(err)
	}
	return nil
}
