// Package wizard drives a client through service, identity, date/time and confirmation steps.
package wizard

import (
	"fmt"

	"agenda/internal/model"
)

// State represents the current step of the booking wizard.
type State string

const (
	StateServiceSelection  State = "service_selection"
	StateIdentityCapture   State = "identity_capture"
	StateDateTimeSelection State = "date_time_selection"
	StateConfirmation      State = "confirmation"
	StateSuccess           State = "success"
	StateError             State = "error"
)

// ErrInvalidTransition is returned for steps the current state does not allow.
var ErrInvalidTransition = fmt.Errorf("%w: wizard transition not allowed", model.ErrInvalidInput)

// FSM manages state transitions for the wizard.
type FSM struct {
	transitions map[State][]State
	back        map[State]State
}

// NewFSM creates a new FSM with predefined transitions.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[State][]State{
			StateServiceSelection:  {StateIdentityCapture},
			StateIdentityCapture:   {StateDateTimeSelection, StateServiceSelection},
			StateDateTimeSelection: {StateConfirmation, StateIdentityCapture},
			StateConfirmation:      {StateSuccess, StateDateTimeSelection, StateError},
			StateError:             {StateConfirmation},
			StateSuccess:           {},
		},
		back: map[State]State{
			StateIdentityCapture:   StateServiceSelection,
			StateDateTimeSelection: StateIdentityCapture,
			StateConfirmation:      StateDateTimeSelection,
			StateError:             StateConfirmation,
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to State) bool {
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Predecessor returns where Back leads from s.
func (f *FSM) Predecessor(s State) (State, bool) {
	p, ok := f.back[s]
	return p, ok
}

func (f *FSM) transition(from, to State) error {
	if !f.CanTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}
	return nil
}
