package expressions

import "context"

// Engine evaluates an expression against lead or payload data. The three
// implementations split by concern: ExprEngine backs condition nodes,
// CELEngine backs webhook trigger filters, and GoJQEngine extracts fields
// from webhook payloads.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
