package statemachine

import "context"

// State represents a state in the machine.
type State interface {
	Name() string
}

// Event represents an occurrence that moves the machine between states.
type Event interface {
	Name() string
}

// Action executes side effects during a transition. Returning an error aborts it.
type Action func(ctx context.Context, from, to State, event Event, data any) error

// Guard decides at runtime whether a transition may proceed.
type Guard func(ctx context.Context, from State, event Event, data any) bool

// Transition defines a state change triggered by an event.
type Transition struct {
	From    State
	To      State
	Event   Event
	Guards  []Guard  // all must pass
	Actions []Action // run in order before the target is returned
}

// StringState is a string-backed State.
type StringState string

func (s StringState) Name() string {
	return string(s)
}

// StringEvent is a string-backed Event.
type StringEvent string

func (e StringEvent) Name() string {
	return string(e)
}
