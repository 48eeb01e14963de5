package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/leadflow/engine/pkg/schema"
)

// WaitUntil suspends the run until a fixed point in time. It performs no
// side effects; the engine persists the wake time and the scheduler resumes
// the run once it is due.
type WaitUntil struct{}

func (a *WaitUntil) Kind() schema.NodeType { return schema.NodeActionWaitUntil }

func (a *WaitUntil) Execute(ctx context.Context, req Request) (*Result, error) {
	var cfg schema.WaitUntilConfig
	if err := decodeConfig(a.Kind(), req.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Until.IsZero() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: until must be set", a.Kind())
	}

	if req.DryRun {
		return &Result{
			Summary: fmt.Sprintf("would wait until %s", cfg.Until.Format(time.RFC3339)),
			Detail:  map[string]any{"until": cfg.Until},
		}, nil
	}

	until := cfg.Until
	return &Result{
		Summary: fmt.Sprintf("waiting until %s", until.Format(time.RFC3339)),
		Detail:  map[string]any{"until": until},
		Suspend: &until,
	}, nil
}
