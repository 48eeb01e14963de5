package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/leadflow/engine/internal/actions"
	"github.com/leadflow/engine/internal/graph"
	"github.com/leadflow/engine/internal/logging"
	"github.com/leadflow/engine/pkg/schema"
)

type walkResult int

const (
	// walkDone means the walk reached an end node or ran off a dangling
	// edge, which counts as normal completion.
	walkDone walkResult = iota
	walkFailed
	walkSuspended
	// walkStopped means a loop body returned control to its loop node.
	walkStopped
)

type walkOutcome struct {
	result walkResult
	reason string
}

var (
	outcomeDone    = walkOutcome{result: walkDone}
	outcomeStopped = walkOutcome{result: walkStopped}
)

func failed(reason string) walkOutcome {
	return walkOutcome{result: walkFailed, reason: reason}
}

// walk advances node by node from cur. When stopAt is non-empty the walk is
// a loop body: reaching stopAt returns control to the caller instead of
// executing the loop node again, and suspension is refused.
func (e *Engine) walk(ctx context.Context, run *schema.Run, g *graph.Graph, cur, stopAt string) (walkOutcome, error) {
	for cur != "" {
		if stopAt != "" && cur == stopAt {
			return outcomeStopped, nil
		}
		node, ok := g.Node(cur)
		if !ok {
			return failed(fmt.Sprintf("node %s not found", cur)), nil
		}

		run.StepsUsed++
		if run.StepsUsed > e.budget {
			e.recordStep(ctx, run, node, schema.StepStatusFailed, "", "step budget exhausted")
			return failed(schema.ReasonBudgetExceeded), nil
		}

		nodeCtx := logging.WithNodeID(ctx, node.ID)

		switch {
		case node.Type.IsTrigger():
			e.recordStep(nodeCtx, run, node, schema.StepStatusSucceeded, "trigger matched", "")
			cur = e.nextID(g, node.ID, schema.EdgeLabelNone)

		case node.Type == schema.NodeCondition:
			next, outcome, err := e.stepCondition(nodeCtx, run, g, node)
			if err != nil || outcome != nil {
				return orOutcome(outcome), err
			}
			cur = next

		case node.Type == schema.NodeDelay:
			outcome, err := e.stepDelay(nodeCtx, run, g, node, stopAt)
			return orOutcome(outcome), err

		case node.Type == schema.NodeLoop:
			next, outcome, err := e.stepLoop(nodeCtx, run, g, node, stopAt)
			if err != nil || outcome != nil {
				return orOutcome(outcome), err
			}
			cur = next

		case node.Type == schema.NodeEnd:
			e.recordStep(nodeCtx, run, node, schema.StepStatusSucceeded, "end", "")
			return outcomeDone, nil

		case node.Type.IsAction():
			next, outcome, err := e.stepAction(nodeCtx, run, g, node, stopAt)
			if err != nil || outcome != nil {
				return orOutcome(outcome), err
			}
			cur = next

		default:
			e.recordStep(nodeCtx, run, node, schema.StepStatusFailed, "", "unknown node type "+string(node.Type))
			return failed(fmt.Sprintf("unknown node type %s", node.Type)), nil
		}
	}
	// Dangling edge or loop body with no explicit end. Treated as success.
	return outcomeDone, nil
}

func orOutcome(o *walkOutcome) walkOutcome {
	if o == nil {
		return walkOutcome{}
	}
	return *o
}

// stepCondition evaluates the node against a fresh lead snapshot and picks
// the labeled branch. A condition with no edge for the chosen label is a
// structural failure: the designer never wired that branch, and silently
// succeeding would hide it.
func (e *Engine) stepCondition(ctx context.Context, run *schema.Run, g *graph.Graph, node *schema.Node) (string, *walkOutcome, error) {
	var cfg schema.ConditionConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		e.recordStep(ctx, run, node, schema.StepStatusFailed, "", err.Error())
		o := failed(err.Error())
		return "", &o, nil
	}
	lead, err := e.snapshot(ctx, run)
	if err != nil {
		e.recordStep(ctx, run, node, schema.StepStatusFailed, "", err.Error())
		o := failed(err.Error())
		return "", &o, nil
	}
	result, err := e.evalCondition(ctx, &cfg, lead)
	if err != nil {
		e.recordStep(ctx, run, node, schema.StepStatusFailed, "", err.Error())
		o := failed(err.Error())
		return "", &o, nil
	}

	label := schema.EdgeLabelFalse
	if result {
		label = schema.EdgeLabelTrue
	}
	next := e.nextID(g, node.ID, label)
	if next == "" {
		branchErr := schema.NewErrorf(schema.ErrCodeStructural,
			"condition node %s has no %s branch", node.ID, label).WithNode(node.ID)
		e.recordStep(ctx, run, node, schema.StepStatusFailed, fmt.Sprintf("condition = %t", result), branchErr.Error())
		o := failed(branchErr.Error())
		return "", &o, nil
	}
	e.recordStep(ctx, run, node, schema.StepStatusSucceeded, fmt.Sprintf("condition = %t", result), "")
	return next, nil, nil
}

// stepDelay suspends the run until the configured wake time. Delays already
// in the past fall through without suspending.
func (e *Engine) stepDelay(ctx context.Context, run *schema.Run, g *graph.Graph, node *schema.Node, stopAt string) (*walkOutcome, error) {
	var cfg schema.DelayConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		e.recordStep(ctx, run, node, schema.StepStatusFailed, "", err.Error())
		o := failed(err.Error())
		return &o, nil
	}

	now := time.Now().UTC()
	var wake time.Time
	switch {
	case cfg.DelayUntil != nil:
		wake = *cfg.DelayUntil
	case cfg.DelaySeconds > 0:
		wake = now.Add(time.Duration(cfg.DelaySeconds) * time.Second)
	default:
		e.recordStep(ctx, run, node, schema.StepStatusFailed, "", "delay: delay_seconds or delay_until required")
		o := failed("delay: delay_seconds or delay_until required")
		return &o, nil
	}

	next := e.nextID(g, node.ID, schema.EdgeLabelNone)

	if run.DryRun || !wake.After(now) {
		// Dry runs never sleep; elapsed delays fall through.
		e.recordStep(ctx, run, node, schema.StepStatusSkipped, fmt.Sprintf("delay until %s elided", wake.Format(time.RFC3339)), "")
		outcome, err := e.walk(ctx, run, g, next, stopAt)
		return &outcome, err
	}

	if stopAt != "" {
		e.recordStep(ctx, run, node, schema.StepStatusFailed, "", "cannot suspend inside a loop body")
		o := failed("cannot suspend inside a loop body")
		return &o, nil
	}

	e.recordStep(ctx, run, node, schema.StepStatusSuspended, fmt.Sprintf("wake at %s", wake.Format(time.RFC3339)), "")
	if err := e.suspend(ctx, run, next, wake); err != nil {
		return nil, err
	}
	o := walkOutcome{result: walkSuspended}
	return &o, nil
}

// stepLoop runs the body sub-graph once per item, bounded by the configured
// cap. Each iteration ends when control returns to the loop node or the
// body terminates on its own.
func (e *Engine) stepLoop(ctx context.Context, run *schema.Run, g *graph.Graph, node *schema.Node, stopAt string) (string, *walkOutcome, error) {
	var cfg schema.LoopConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		e.recordStep(ctx, run, node, schema.StepStatusFailed, "", err.Error())
		o := failed(err.Error())
		return "", &o, nil
	}

	items, err := e.loopItems(ctx, run, &cfg)
	if err != nil {
		e.recordStep(ctx, run, node, schema.StepStatusFailed, "", err.Error())
		o := failed(err.Error())
		return "", &o, nil
	}

	limit := cfg.MaxIterations
	if limit <= 0 {
		limit = DefaultMaxIterations
	}
	iterations := len(items)
	if iterations > limit {
		iterations = limit
	}

	body, hasBody := g.Next(node.ID, schema.EdgeLabelBody)
	if hasBody {
		for i := 0; i < iterations; i++ {
			if i > 0 {
				// Re-entering the loop node costs a step like any other visit.
				run.StepsUsed++
				if run.StepsUsed > e.budget {
					e.recordStep(ctx, run, node, schema.StepStatusFailed, "", "step budget exhausted")
					o := failed(schema.ReasonBudgetExceeded)
					return "", &o, nil
				}
			}
			outcome, err := e.walk(ctx, run, g, body.ID, node.ID)
			if err != nil {
				return "", nil, err
			}
			switch outcome.result {
			case walkStopped, walkDone:
				// Iteration complete.
			default:
				return "", &outcome, nil
			}
		}
	}

	e.recordStep(ctx, run, node, schema.StepStatusSucceeded,
		fmt.Sprintf("loop completed %d of %d items", iterations, len(items)), "")
	return e.nextID(g, node.ID, schema.EdgeLabelDone), nil, nil
}

func (e *Engine) loopItems(ctx context.Context, run *schema.Run, cfg *schema.LoopConfig) ([]string, error) {
	switch cfg.Source {
	case schema.LoopSourceList, schema.LoopSourceCustom, "":
		return cfg.Items, nil
	case schema.LoopSourceAudience:
		lead, err := e.snapshot(ctx, run)
		if err != nil {
			return nil, err
		}
		return lead.Audiences, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "loop: unknown source %q", cfg.Source)
	}
}

// stepAction dispatches to the registered action. Failures are contained to
// the run; a suspend sentinel from wait_until reuses the delay mechanism.
func (e *Engine) stepAction(ctx context.Context, run *schema.Run, g *graph.Graph, node *schema.Node, stopAt string) (string, *walkOutcome, error) {
	act, err := e.actions.Get(node.Type)
	if err != nil {
		e.recordStep(ctx, run, node, schema.StepStatusFailed, "", err.Error())
		o := failed(err.Error())
		return "", &o, nil
	}

	res, err := act.Execute(ctx, actions.Request{
		LeadID: run.LeadID,
		Config: node.Config,
		DryRun: run.DryRun,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "action failed",
			"action", string(node.Type),
			"error", err.Error())
		e.recordStep(ctx, run, node, schema.StepStatusFailed, "", err.Error())
		o := failed(err.Error())
		return "", &o, nil
	}

	next := e.nextID(g, node.ID, schema.EdgeLabelNone)

	if res.Suspend != nil {
		if stopAt != "" {
			e.recordStep(ctx, run, node, schema.StepStatusFailed, "", "cannot suspend inside a loop body")
			o := failed("cannot suspend inside a loop body")
			return "", &o, nil
		}
		e.recordStep(ctx, run, node, schema.StepStatusSuspended, res.Summary, "")
		if err := e.suspend(ctx, run, next, *res.Suspend); err != nil {
			return "", nil, err
		}
		o := walkOutcome{result: walkSuspended}
		return "", &o, nil
	}

	e.recordStep(ctx, run, node, schema.StepStatusSucceeded, res.Summary, "")
	return next, nil, nil
}

func (e *Engine) nextID(g *graph.Graph, nodeID string, label schema.EdgeLabel) string {
	next, ok := g.Next(nodeID, label)
	if !ok {
		return ""
	}
	return next.ID
}
