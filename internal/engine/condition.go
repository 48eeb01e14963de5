package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/leadflow/engine/internal/collab"
	"github.com/leadflow/engine/pkg/schema"
)

// evalCondition resolves a condition node against the current lead snapshot.
// When an expression is configured it takes precedence over the fixed
// operator set.
func (e *Engine) evalCondition(ctx context.Context, cfg *schema.ConditionConfig, lead *collab.LeadSnapshot) (bool, error) {
	if cfg.Expression != "" {
		return e.expr.EvaluateBool(ctx, cfg.Expression, map[string]any{"lead": leadData(lead)})
	}
	if cfg.Field == "" {
		return false, schema.NewError(schema.ErrCodeValidation, "condition: field or expression required")
	}

	val := fieldValue(lead, cfg.Field)
	switch cfg.Operator {
	case schema.OpEq:
		return looseEqual(val, cfg.Operand), nil
	case schema.OpNe:
		return !looseEqual(val, cfg.Operand), nil
	case schema.OpGt, schema.OpGte, schema.OpLt, schema.OpLte:
		a, okA := toFloat(val)
		b, okB := toFloat(cfg.Operand)
		if !okA || !okB {
			return false, schema.NewErrorf(schema.ErrCodeValidation,
				"condition: operator %s requires numeric values for field %q", cfg.Operator, cfg.Field)
		}
		switch cfg.Operator {
		case schema.OpGt:
			return a > b, nil
		case schema.OpGte:
			return a >= b, nil
		case schema.OpLt:
			return a < b, nil
		default:
			return a <= b, nil
		}
	case schema.OpContains:
		return contains(val, cfg.Operand), nil
	case schema.OpNotContains:
		return !contains(val, cfg.Operand), nil
	case schema.OpIsEmpty:
		return isEmpty(val), nil
	case schema.OpIsNotEmpty:
		return !isEmpty(val), nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation, "condition: unknown operator %q", cfg.Operator)
	}
}

// leadData flattens a snapshot into the environment exposed to expressions.
func leadData(lead *collab.LeadSnapshot) map[string]any {
	data := map[string]any{
		"id":        lead.ID,
		"stage_id":  lead.StageID,
		"owner_id":  lead.OwnerID,
		"score":     lead.Score,
		"audiences": lead.Audiences,
	}
	fields := map[string]any{}
	for k, v := range lead.Fields {
		fields[k] = v
	}
	data["fields"] = fields
	return data
}

func fieldValue(lead *collab.LeadSnapshot, field string) any {
	switch field {
	case "id":
		return lead.ID
	case "stage_id":
		return lead.StageID
	case "owner_id":
		return lead.OwnerID
	case "score":
		return lead.Score
	case "audiences":
		return lead.Audiences
	default:
		return lead.Fields[field]
	}
}

func looseEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func contains(val, operand any) bool {
	needle := fmt.Sprintf("%v", operand)
	switch v := val.(type) {
	case string:
		return strings.Contains(v, needle)
	case []string:
		for _, item := range v {
			if item == needle {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if fmt.Sprintf("%v", item) == needle {
				return true
			}
		}
	}
	return false
}

func isEmpty(val any) bool {
	switch v := val.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []string:
		return len(v) == 0
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}
