package actions

import (
	"context"
	"fmt"

	"github.com/leadflow/engine/internal/collab"
	"github.com/leadflow/engine/pkg/schema"
)

// IncrementScore raises the lead's score via the scoring collaborator.
type IncrementScore struct {
	Scorer collab.Scorer
}

func (a *IncrementScore) Kind() schema.NodeType { return schema.NodeActionIncrementScore }

func (a *IncrementScore) Execute(ctx context.Context, req Request) (*Result, error) {
	return adjustScore(ctx, a.Scorer, a.Kind(), req, 1)
}

// DecrementScore lowers the lead's score via the scoring collaborator.
type DecrementScore struct {
	Scorer collab.Scorer
}

func (a *DecrementScore) Kind() schema.NodeType { return schema.NodeActionDecrementScore }

func (a *DecrementScore) Execute(ctx context.Context, req Request) (*Result, error) {
	return adjustScore(ctx, a.Scorer, a.Kind(), req, -1)
}

func adjustScore(ctx context.Context, scorer collab.Scorer, kind schema.NodeType, req Request, sign float64) (*Result, error) {
	var cfg schema.ScoreDeltaConfig
	if err := decodeConfig(kind, req.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Delta <= 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: delta must be positive", kind)
	}
	delta := sign * cfg.Delta

	if req.DryRun {
		return &Result{
			Summary: fmt.Sprintf("would adjust lead %s score by %+g", req.LeadID, delta),
			Detail:  map[string]any{"delta": delta},
		}, nil
	}

	newScore, err := scorer.Adjust(ctx, req.LeadID, delta)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAction, "adjust score: %s", err.Error()).WithCause(err)
	}
	return &Result{
		Summary: fmt.Sprintf("adjusted lead %s score by %+g", req.LeadID, delta),
		Detail:  map[string]any{"delta": delta, "new_score": newScore},
	}, nil
}
