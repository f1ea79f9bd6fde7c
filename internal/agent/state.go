package agent

import (
	"fmt"
	"slices"
)

// State is a workflow stage.
type State string

const (
	StateIdle       State = "IDLE"
	StateClarifying State = "CLARIFYING"
	StateGenerating State = "GENERATING"
	StateEntrypoint State = "ENTRYPOINT"
	StateImproving  State = "IMPROVING"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

var transitions = map[State][]State{
	StateIdle:       {StateClarifying, StateGenerating, StateEntrypoint, StateImproving, StateFailed},
	StateClarifying: {StateGenerating, StateFailed},
	StateGenerating: {StateEntrypoint, StateDone, StateFailed},
	StateEntrypoint: {StateDone, StateFailed},
	StateImproving:  {StateDone, StateFailed},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// machine tracks the current state and every state visited.
type machine struct {
	state   State
	history []State
	onEnter func(State)
}

func newMachine() *machine {
	return &machine{state: StateIdle, history: []State{StateIdle}}
}

func (m *machine) to(next State) error {
	if !CanTransition(m.state, next) {
		return &WorkflowError{
			State: m.state,
			Err:   fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, next),
		}
	}
	m.state = next
	m.history = append(m.history, next)
	if m.onEnter != nil {
		m.onEnter(next)
	}
	return nil
}

func (m *machine) History() []State {
	return slices.Clone(m.history)
}
