package authclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStateMachineTransitions(t *testing.T) {
	tests := []struct {
		from    State
		to      State
		allowed bool
	}{
		{StateLoading, StateAuthenticated, true},
		{StateLoading, StateUnauthenticated, true},
		{StateLoading, StateLoading, false},
		{StateAuthenticated, StateAuthenticated, true},
		{StateAuthenticated, StateUnauthenticated, true},
		{StateAuthenticated, StateLoading, false},
		{StateUnauthenticated, StateAuthenticated, true},
		{StateUnauthenticated, StateUnauthenticated, true},
		{StateUnauthenticated, StateLoading, false},
	}

	sm := newSessionStateMachine()
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, sm.CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestSessionStateMachineTransition(t *testing.T) {
	sm := newSessionStateMachine()
	assert.Equal(t, StateLoading, sm.Current())

	prev, err := sm.Transition(StateAuthenticated)
	require.NoError(t, err)
	assert.Equal(t, StateLoading, prev)
	assert.Equal(t, StateAuthenticated, sm.Current())

	_, err = sm.Transition(StateLoading)
	require.Error(t, err)
	assert.True(t, hasTextCode(err, TextCodeInvalidTransition))
	assert.Equal(t, StateAuthenticated, sm.Current())

	_, err = sm.Transition("")
	require.Error(t, err)
}
