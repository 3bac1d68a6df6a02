package forecast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachineHappyPath(t *testing.T) {
	m := NewStateMachine("dre_lancamentos")
	assert.Equal(t, StateIdle, m.Current())

	for _, next := range []State{StateExtracting, StateTraining, StateEvaluating, StatePublished, StateIdle} {
		require.NoError(t, m.Transition(next))
		assert.Equal(t, next, m.Current())
	}
}

func TestStateMachineFailurePaths(t *testing.T) {
	for _, from := range []State{StateExtracting, StateTraining, StateEvaluating} {
		m := NewStateMachine("dre_lancamentos")
		require.NoError(t, m.Transition(StateExtracting))
		if from == StateTraining || from == StateEvaluating {
			require.NoError(t, m.Transition(StateTraining))
		}
		if from == StateEvaluating {
			require.NoError(t, m.Transition(StateEvaluating))
		}

		require.NoError(t, m.Transition(StateFailed))
		assert.Equal(t, StateFailed, m.Current())

		// A failed cycle restarts from Idle.
		require.NoError(t, m.Transition(StateIdle))
	}
}

func TestStateMachineRejectsIllegalTransitions(t *testing.T) {
	m := NewStateMachine("dre_lancamentos")

	err := m.Transition(StatePublished)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal forecast transition")
	assert.Equal(t, StateIdle, m.Current())

	require.NoError(t, m.Transition(StateExtracting))
	assert.Error(t, m.Transition(StatePublished))
	assert.Error(t, m.Transition(StateIdle))
	assert.Equal(t, StateExtracting, m.Current())
}

func TestStateMachineReset(t *testing.T) {
	m := NewStateMachine("dre_lancamentos")
	require.NoError(t, m.Transition(StateExtracting))
	require.NoError(t, m.Transition(StateFailed))

	m.Reset()
	assert.Equal(t, StateIdle, m.Current())

	// Reset never aborts a cycle in flight.
	require.NoError(t, m.Transition(StateExtracting))
	m.Reset()
	assert.Equal(t, StateExtracting, m.Current())
}
