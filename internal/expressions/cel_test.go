package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/engine/pkg/schema"
)

func newCEL(t *testing.T) *CELEngine {
	t.Helper()
	e, err := NewCELEngine()
	require.NoError(t, err)
	return e
}

func TestNewCELEngine(t *testing.T) {
	e := newCEL(t)
	assert.Equal(t, "cel", e.Name())
}

func TestCELEngine_ImplementsEngine(t *testing.T) {
	var _ Engine = (*CELEngine)(nil)
}

func TestCEL_PayloadFilter(t *testing.T) {
	e := newCEL(t)
	data := map[string]any{
		"payload": map[string]any{
			"source": "ads",
			"amount": 120.5,
		},
	}

	t.Run("string match", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `payload.source == "ads"`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("numeric threshold", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `payload.amount > 100.0`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("mismatch", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `payload.source == "organic"`, data)
		require.NoError(t, err)
		assert.Equal(t, false, out)
	})
}

func TestCEL_MissingDataDefaultsToEmptyMaps(t *testing.T) {
	e := newCEL(t)

	out, err := e.Evaluate(context.Background(), `"source" in payload`, nil)
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

func TestCEL_EventMetadata(t *testing.T) {
	e := newCEL(t)
	data := map[string]any{
		"payload": map[string]any{},
		"event":   map[string]any{"workspace_id": "ws-1"},
	}

	out, err := e.Evaluate(context.Background(), `event.workspace_id == "ws-1"`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_EmptyExpression(t *testing.T) {
	e := newCEL(t)

	_, err := e.Evaluate(context.Background(), "", map[string]any{})
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
}

func TestCEL_CompileError(t *testing.T) {
	e := newCEL(t)

	_, err := e.Evaluate(context.Background(), "payload.(((", map[string]any{})
	require.Error(t, err)
}

func TestCEL_CacheReuse(t *testing.T) {
	e := newCEL(t)
	data := map[string]any{"payload": map[string]any{"n": 1.0}}

	for i := 0; i < 3; i++ {
		out, err := e.Evaluate(context.Background(), "payload.n == 1.0", data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}
