package schema

import (
	"time"

	"github.com/google/uuid"
)

// CloneWorkflow deep-copies a workflow into the target workspace, preserving
// node/edge topology under fresh ids. The clone always starts as a draft
// regardless of the source's status.
func CloneWorkflow(src *Workflow, targetWorkspaceID string) *Workflow {
	now := time.Now().UTC()
	clone := &Workflow{
		ID:          uuid.NewString(),
		WorkspaceID: targetWorkspaceID,
		Name:        src.Name,
		Status:      WorkflowStatusDraft,
		OwnerID:     src.OwnerID,
		IsTemplate:  src.IsTemplate,
		Nodes:       make([]Node, 0, len(src.Nodes)),
		Edges:       make([]Edge, 0, len(src.Edges)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	idMap := make(map[string]string, len(src.Nodes))
	for _, n := range src.Nodes {
		newID := uuid.NewString()
		idMap[n.ID] = newID
		cfg := make([]byte, len(n.Config))
		copy(cfg, n.Config)
		clone.Nodes = append(clone.Nodes, Node{
			ID:         newID,
			WorkflowID: clone.ID,
			Type:       n.Type,
			Config:     cfg,
			Position:   n.Position,
		})
	}

	for _, e := range src.Edges {
		srcID, okS := idMap[e.SourceID]
		dstID, okT := idMap[e.TargetID]
		if !okS || !okT {
			continue // dangling edge in the source; validation will flag the original
		}
		clone.Edges = append(clone.Edges, Edge{
			ID:         uuid.NewString(),
			WorkflowID: clone.ID,
			SourceID:   srcID,
			TargetID:   dstID,
			Label:      e.Label,
		})
	}

	return clone
}
