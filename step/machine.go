package step

import (
	"fmt"

	"github.com/martingalian/stepflow"
	"github.com/martingalian/stepflow/id"
)

// transitions enumerates every legal edge in the step lifecycle. States
// absent from the map accept no outgoing transitions. Running→Running is
// the self edge used by multi-attempt confirmation.
var transitions = map[State][]State{
	StatePending:     {StateDispatched, StateCancelled, StateFailed, StateSkipped},
	StateDispatched:  {StateRunning, StateCancelled, StateFailed},
	StateRunning:     {StateCompleted, StateStopped, StateFailed, StateSkipped, StatePending, StateRunning},
	StateNotRunnable: {StatePending},
}

// CanTransition reports whether the edge from → to is legal.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition applies the edge from the step's current state to target.
// An illegal edge is a programming error, not a retryable condition: the
// returned error wraps stepflow.ErrTerminalState or
// stepflow.ErrInvalidTransition and must not be swallowed by retry logic.
func Transition(s *Step, target State) error {
	if s.State.Terminal() {
		return fmt.Errorf("%w: %s -> %s", stepflow.ErrTerminalState, s.State, target)
	}
	if !CanTransition(s.State, target) {
		return fmt.Errorf("%w: %s -> %s", stepflow.ErrInvalidTransition, s.State, target)
	}
	s.State = target
	return nil
}

// Requeue returns a claimed step to Pending and clears the worker claim
// fields. This is the recovery edge used when a claim is abandoned: a
// local rate-limit handoff or a reaped step whose worker stopped
// heartbeating. It is deliberately kept out of the transitions map so
// executor code can never reach it through Transition.
func Requeue(s *Step) error {
	switch s.State {
	case StateDispatched, StateRunning:
	default:
		return fmt.Errorf("%w: %s -> %s", stepflow.ErrInvalidTransition, s.State, StatePending)
	}
	s.State = StatePending
	s.WorkerID = id.WorkerID{}
	s.HeartbeatAt = nil
	s.StartedAt = nil
	return nil
}
