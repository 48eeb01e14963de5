package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/leadflow/engine/internal/collab"
	"github.com/leadflow/engine/pkg/schema"
)

// updateLeadFields performs an optimistic read-modify-write against the lead
// store, retrying exactly once on a version conflict before failing.
func updateLeadFields(ctx context.Context, leads collab.LeadStore, leadID string, fields map[string]any) error {
	for attempt := 0; attempt < 2; attempt++ {
		snap, err := leads.Get(ctx, leadID)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeAction, "load lead %s: %s", leadID, err.Error()).WithCause(err)
		}
		err = leads.Update(ctx, leadID, fields, snap.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, collab.ErrVersionConflict) {
			return schema.NewErrorf(schema.ErrCodeAction, "update lead %s: %s", leadID, err.Error()).WithCause(err)
		}
	}
	return schema.NewErrorf(schema.ErrCodeVersionConflict,
		"lead %s changed concurrently; retry exhausted", leadID)
}

// ChangeStage moves the lead to a pipeline stage.
type ChangeStage struct {
	Leads collab.LeadStore
}

func (a *ChangeStage) Kind() schema.NodeType { return schema.NodeActionChangeStage }

func (a *ChangeStage) Execute(ctx context.Context, req Request) (*Result, error) {
	var cfg schema.ChangeStageConfig
	if err := decodeConfig(a.Kind(), req.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.StageID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "change_stage: missing stage_id")
	}

	if req.DryRun {
		return &Result{
			Summary: fmt.Sprintf("would move lead %s to stage %s", req.LeadID, cfg.StageID),
			Detail:  map[string]any{"stage_id": cfg.StageID},
		}, nil
	}

	if err := updateLeadFields(ctx, a.Leads, req.LeadID, map[string]any{"stage_id": cfg.StageID}); err != nil {
		return nil, err
	}
	return &Result{
		Summary: fmt.Sprintf("moved lead %s to stage %s", req.LeadID, cfg.StageID),
		Detail:  map[string]any{"stage_id": cfg.StageID},
	}, nil
}

// UpdateField sets a single lead field.
type UpdateField struct {
	Leads collab.LeadStore
}

func (a *UpdateField) Kind() schema.NodeType { return schema.NodeActionUpdateField }

func (a *UpdateField) Execute(ctx context.Context, req Request) (*Result, error) {
	var cfg schema.UpdateFieldConfig
	if err := decodeConfig(a.Kind(), req.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Field == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "update_field: missing field")
	}

	if req.DryRun {
		return &Result{
			Summary: fmt.Sprintf("would set %s=%v on lead %s", cfg.Field, cfg.Value, req.LeadID),
			Detail:  map[string]any{"field": cfg.Field, "value": cfg.Value},
		}, nil
	}

	if err := updateLeadFields(ctx, a.Leads, req.LeadID, map[string]any{cfg.Field: cfg.Value}); err != nil {
		return nil, err
	}
	return &Result{
		Summary: fmt.Sprintf("set %s=%v on lead %s", cfg.Field, cfg.Value, req.LeadID),
		Detail:  map[string]any{"field": cfg.Field, "value": cfg.Value},
	}, nil
}

// AssignUser assigns the lead to a user.
type AssignUser struct {
	Leads collab.LeadStore
}

func (a *AssignUser) Kind() schema.NodeType { return schema.NodeActionAssignUser }

func (a *AssignUser) Execute(ctx context.Context, req Request) (*Result, error) {
	var cfg schema.AssignUserConfig
	if err := decodeConfig(a.Kind(), req.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.UserID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "assign_user: missing user_id")
	}

	if req.DryRun {
		return &Result{
			Summary: fmt.Sprintf("would assign lead %s to user %s", req.LeadID, cfg.UserID),
			Detail:  map[string]any{"user_id": cfg.UserID},
		}, nil
	}

	if err := updateLeadFields(ctx, a.Leads, req.LeadID, map[string]any{"owner_id": cfg.UserID}); err != nil {
		return nil, err
	}
	return &Result{
		Summary: fmt.Sprintf("assigned lead %s to user %s", req.LeadID, cfg.UserID),
		Detail:  map[string]any{"user_id": cfg.UserID},
	}, nil
}
