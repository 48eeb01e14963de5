package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatusTerminal(t *testing.T) {
	assert.True(t, RunStatusSucceeded.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
	assert.False(t, RunStatusPending.Terminal())
	assert.False(t, RunStatusRunning.Terminal())
	assert.False(t, RunStatusSuspended.Terminal())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to RunStatus
		want     bool
	}{
		{RunStatusPending, RunStatusRunning, true},
		{RunStatusPending, RunStatusFailed, true},
		{RunStatusPending, RunStatusSucceeded, false},
		{RunStatusRunning, RunStatusSucceeded, true},
		{RunStatusRunning, RunStatusFailed, true},
		{RunStatusRunning, RunStatusSuspended, true},
		{RunStatusRunning, RunStatusPending, false},
		{RunStatusSuspended, RunStatusPending, true},
		{RunStatusSuspended, RunStatusRunning, true},
		{RunStatusSuspended, RunStatusFailed, true},
		{RunStatusSucceeded, RunStatusRunning, false},
		{RunStatusFailed, RunStatusRunning, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTerminalStatesHaveNoTransitions(t *testing.T) {
	assert.Empty(t, ValidRunTransitions[RunStatusSucceeded])
	assert.Empty(t, ValidRunTransitions[RunStatusFailed])
}
