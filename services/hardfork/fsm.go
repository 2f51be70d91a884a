package hardfork

import (
	"github.com/looplab/fsm"
)

type FiniteStateMachineState string

const (
	StatePreFork    = "PreFork"
	StateActivating = "Activating"
	StatePostFork   = "PostFork"
)

const (
	EventActivate = "ACTIVATE"
	EventComplete = "COMPLETE"
)

// NewFiniteStateMachine creates the fork state machine.
// The finite state machine has the following states:
// - PreFork
// - Activating
// - PostFork
// The finite state machine has the following events:
// - Activate, the first block at or above the fork height was seen
// - Complete, the first fork block was connected and passed the supply check
func NewFiniteStateMachine(initial string, opts ...func(*fsm.FSM)) *fsm.FSM {
	finiteStateMachine := fsm.NewFSM(
		initial,
		fsm.Events{
			{
				Name: EventActivate,
				Src: []string{
					StatePreFork,
				},
				Dst: StateActivating,
			},
			{
				Name: EventComplete,
				Src: []string{
					StateActivating,
				},
				Dst: StatePostFork,
			},
		},
		fsm.Callbacks{},
	)

	// apply options
	for _, opt := range opts {
		opt(finiteStateMachine)
	}

	return finiteStateMachine
}
