package authclient

import (
	"sync"
)

// State is the session lifecycle state.
type State string

const (
	// StateLoading is the initial state until Bootstrap settles
	StateLoading State = "loading"
	// StateAuthenticated means an identity and credentials are held
	StateAuthenticated State = "authenticated"
	// StateUnauthenticated means there is no usable session
	StateUnauthenticated State = "unauthenticated"
)

// sessionStateMachine guards the session state with a transition table.
type sessionStateMachine struct {
	mu          sync.RWMutex
	current     State
	transitions map[State]map[State]struct{}
}

func newSessionStateMachine() *sessionStateMachine {
	return &sessionStateMachine{
		current: StateLoading,
		transitions: map[State]map[State]struct{}{
			StateLoading: {
				StateAuthenticated:   {},
				StateUnauthenticated: {},
			},
			StateAuthenticated: {
				StateAuthenticated:   {},
				StateUnauthenticated: {},
			},
			StateUnauthenticated: {
				StateAuthenticated:   {},
				StateUnauthenticated: {},
			},
		},
	}
}

func (sm *sessionStateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// CanTransition reports whether moving from -> to is allowed.
func (sm *sessionStateMachine) CanTransition(from, to State) bool {
	targets, ok := sm.transitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// Transition moves to target and returns the previous state.
func (sm *sessionStateMachine) Transition(target State) (State, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	from := sm.current
	if target == "" {
		return from, newError(ErrInvalidTransition, nil, map[string]any{
			"from":   from,
			"reason": "target state is empty",
		})
	}

	if !sm.CanTransition(from, target) {
		return from, newError(ErrInvalidTransition, nil, map[string]any{
			"from": from,
			"to":   target,
		})
	}

	sm.current = target
	return from, nil
}
