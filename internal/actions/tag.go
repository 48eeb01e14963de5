package actions

import (
	"context"
	"fmt"

	"github.com/leadflow/engine/internal/collab"
	"github.com/leadflow/engine/pkg/schema"
)

// AddTag attaches a tag to the lead. The tag store is idempotent, so
// repeated attaches are harmless.
type AddTag struct {
	Tags collab.TagStore
}

func (a *AddTag) Kind() schema.NodeType { return schema.NodeActionAddTag }

func (a *AddTag) Execute(ctx context.Context, req Request) (*Result, error) {
	cfg, err := tagConfig(a.Kind(), req)
	if err != nil {
		return nil, err
	}
	if req.DryRun {
		return &Result{
			Summary: fmt.Sprintf("would attach tag %s to lead %s", cfg.TagID, req.LeadID),
			Detail:  map[string]any{"tag_id": cfg.TagID},
		}, nil
	}
	if err := a.Tags.Attach(ctx, req.LeadID, cfg.TagID); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAction, "attach tag: %s", err.Error()).WithCause(err)
	}
	return &Result{
		Summary: fmt.Sprintf("attached tag %s to lead %s", cfg.TagID, req.LeadID),
		Detail:  map[string]any{"tag_id": cfg.TagID},
	}, nil
}

// RemoveTag detaches a tag from the lead.
type RemoveTag struct {
	Tags collab.TagStore
}

func (a *RemoveTag) Kind() schema.NodeType { return schema.NodeActionRemoveTag }

func (a *RemoveTag) Execute(ctx context.Context, req Request) (*Result, error) {
	cfg, err := tagConfig(a.Kind(), req)
	if err != nil {
		return nil, err
	}
	if req.DryRun {
		return &Result{
			Summary: fmt.Sprintf("would detach tag %s from lead %s", cfg.TagID, req.LeadID),
			Detail:  map[string]any{"tag_id": cfg.TagID},
		}, nil
	}
	if err := a.Tags.Detach(ctx, req.LeadID, cfg.TagID); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAction, "detach tag: %s", err.Error()).WithCause(err)
	}
	return &Result{
		Summary: fmt.Sprintf("detached tag %s from lead %s", cfg.TagID, req.LeadID),
		Detail:  map[string]any{"tag_id": cfg.TagID},
	}, nil
}

func tagConfig(kind schema.NodeType, req Request) (*schema.TagConfig, error) {
	var cfg schema.TagConfig
	if err := decodeConfig(kind, req.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.TagID == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: missing tag_id", kind)
	}
	return &cfg, nil
}

// AddAudience adds the lead to an audience.
type AddAudience struct {
	Audiences collab.AudienceStore
}

func (a *AddAudience) Kind() schema.NodeType { return schema.NodeActionAddAudience }

func (a *AddAudience) Execute(ctx context.Context, req Request) (*Result, error) {
	cfg, err := audienceConfig(a.Kind(), req)
	if err != nil {
		return nil, err
	}
	if req.DryRun {
		return &Result{
			Summary: fmt.Sprintf("would add lead %s to audience %s", req.LeadID, cfg.AudienceID),
			Detail:  map[string]any{"audience_id": cfg.AudienceID},
		}, nil
	}
	if err := a.Audiences.Add(ctx, req.LeadID, cfg.AudienceID); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAction, "add audience member: %s", err.Error()).WithCause(err)
	}
	return &Result{
		Summary: fmt.Sprintf("added lead %s to audience %s", req.LeadID, cfg.AudienceID),
		Detail:  map[string]any{"audience_id": cfg.AudienceID},
	}, nil
}

// RemoveAudience removes the lead from an audience.
type RemoveAudience struct {
	Audiences collab.AudienceStore
}

func (a *RemoveAudience) Kind() schema.NodeType { return schema.NodeActionRemoveAudience }

func (a *RemoveAudience) Execute(ctx context.Context, req Request) (*Result, error) {
	cfg, err := audienceConfig(a.Kind(), req)
	if err != nil {
		return nil, err
	}
	if req.DryRun {
		return &Result{
			Summary: fmt.Sprintf("would remove lead %s from audience %s", req.LeadID, cfg.AudienceID),
			Detail:  map[string]any{"audience_id": cfg.AudienceID},
		}, nil
	}
	if err := a.Audiences.Remove(ctx, req.LeadID, cfg.AudienceID); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAction, "remove audience member: %s", err.Error()).WithCause(err)
	}
	return &Result{
		Summary: fmt.Sprintf("removed lead %s from audience %s", req.LeadID, cfg.AudienceID),
		Detail:  map[string]any{"audience_id": cfg.AudienceID},
	}, nil
}

func audienceConfig(kind schema.NodeType, req Request) (*schema.AudienceConfig, error) {
	var cfg schema.AudienceConfig
	if err := decodeConfig(kind, req.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.AudienceID == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: missing audience_id", kind)
	}
	return &cfg, nil
}
