package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/engine/pkg/schema"
)

func TestNewExprEngine(t *testing.T) {
	e := NewExprEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "expr", e.Name())
}

// --- Interface compliance ---

func TestExprEngine_ImplementsEngine(t *testing.T) {
	var _ Engine = (*ExprEngine)(nil)
}

// --- Basic evaluation ---

func TestExpr_LeadFields(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"lead": map[string]any{
			"score":    85.0,
			"stage_id": "qualified",
			"fields":   map[string]any{"industry": "fintech"},
		},
	}

	t.Run("numeric comparison", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "lead.score >= 80", data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("string equality", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `lead.stage_id == "qualified"`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("nested field", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `lead.fields.industry == "fintech"`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("boolean combinators", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(),
			`lead.score > 50 && lead.stage_id != "won"`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})
}

func TestExpr_UndefinedVariableAllowed(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), "missing == nil", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExpr_EmptyExpression(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "", map[string]any{})
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
}

func TestExpr_CompileError(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "1 +", map[string]any{})
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
}

// --- EvaluateBool ---

func TestExpr_EvaluateBool(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"score": 85.0}

	ok, err := e.EvaluateBool(context.Background(), "score > 50", data)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateBool(context.Background(), "score < 50", data)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpr_EvaluateBoolRejectsNonBool(t *testing.T) {
	e := NewExprEngine()

	_, err := e.EvaluateBool(context.Background(), `"not a bool"`, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want bool")
}

// --- Caching ---

func TestExpr_CacheReuse(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"n": 1}

	for i := 0; i < 3; i++ {
		out, err := e.Evaluate(context.Background(), "n + 1", data)
		require.NoError(t, err)
		assert.Equal(t, 2, out)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}

func TestExpr_ConcurrentEvaluation(t *testing.T) {
	e := NewExprEngine()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "x * 2", map[string]any{"x": 21})
			assert.NoError(t, err)
			assert.Equal(t, 42, out)
		}()
	}
	wg.Wait()
}
