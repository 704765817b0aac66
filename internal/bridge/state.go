package bridge

import (
	"fmt"
)

// State is the bridge lifecycle state. Exactly one State exists per bridge
// instance and only the Service mutates it.
type State string

const (
	// StateUninitialized is the initial state before Initialize is called.
	StateUninitialized State = "uninitialized"
	// StateStarting covers the window between Initialize and the launch outcome.
	StateStarting State = "starting"
	// StateReady means the OS accepted the assistant launch; commands may be sent.
	StateReady State = "ready"
	// StateFailed means launch or context resolution failed. Terminal.
	StateFailed State = "failed"
)

// The lifecycle only ever advances: uninitialized -> starting -> {ready, failed}.
// Ready and Failed are terminal; a bridge is never re-initialized.
var allowedTransitions = map[State]map[State]struct{}{
	StateUninitialized: {
		StateStarting: {},
	},
	StateStarting: {
		StateReady:  {},
		StateFailed: {},
	},
}

func transitionAllowed(from, to State) bool {
	targets, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// IllegalTransitionError is returned for a disallowed lifecycle transition.
type IllegalTransitionError struct {
	From State
	To   State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot transition bridge from %q to %q", e.From, e.To)
}

// Is enables errors.Is checks for illegal transition failures.
func (e *IllegalTransitionError) Is(target error) bool {
	_, ok := target.(*IllegalTransitionError)
	return ok
}
