package statemachine

import (
	"context"
	"fmt"
	"sync"
)

// Table is a transition table shared by many entities. It holds no current
// state: callers pass the state an entity is in and receive the next one,
// which suits rows that live in a database rather than in memory.
type Table struct {
	// [from][event] -> candidates in registration order
	transitions map[string]map[string][]Transition
	mu          sync.RWMutex
}

func newTable() *Table {
	return &Table{transitions: make(map[string]map[string][]Transition)}
}

// AddTransition registers a transition. Several transitions may share the same
// from/event pair; the first whose guards pass wins.
func (t *Table) AddTransition(from, to State, event Event, guards []Guard, actions []Action) error {
	if from == nil || to == nil || event == nil {
		return ErrInvalidTransition
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	byEvent, ok := t.transitions[from.Name()]
	if !ok {
		byEvent = make(map[string][]Transition)
		t.transitions[from.Name()] = byEvent
	}
	byEvent[event.Name()] = append(byEvent[event.Name()], Transition{
		From:    from,
		To:      to,
		Event:   event,
		Guards:  guards,
		Actions: actions,
	})
	return nil
}

// Fire evaluates event against from and returns the target state. Actions of
// the chosen transition run before it returns; a failing action aborts.
func (t *Table) Fire(ctx context.Context, from State, event Event, data any) (State, error) {
	if from == nil || event == nil {
		return nil, ErrInvalidEvent
	}

	tr, err := t.match(ctx, from, event, data)
	if err != nil {
		return nil, err
	}

	for _, action := range tr.Actions {
		if action == nil {
			continue
		}
		if err := action(ctx, from, tr.To, event, data); err != nil {
			return nil, fmt.Errorf("action failed: %w", err)
		}
	}
	return tr.To, nil
}

// CanFire reports whether event has a permitted transition out of from.
func (t *Table) CanFire(ctx context.Context, from State, event Event, data any) bool {
	if from == nil || event == nil {
		return false
	}
	_, err := t.match(ctx, from, event, data)
	return err == nil
}

// Events lists the event names registered for from, in no particular order.
func (t *Table) Events(from State) []string {
	if from == nil {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.transitions[from.Name()]))
	for name := range t.transitions[from.Name()] {
		out = append(out, name)
	}
	return out
}

func (t *Table) match(ctx context.Context, from State, event Event, data any) (Transition, error) {
	t.mu.RLock()
	candidates := t.transitions[from.Name()][event.Name()]
	t.mu.RUnlock()

	if len(candidates) == 0 {
		return Transition{}, NewErrNoTransitionAvailable(from.Name(), event.Name())
	}
	for _, tr := range candidates {
		if guardsPass(ctx, tr.Guards, from, event, data) {
			return tr, nil
		}
	}
	return Transition{}, NewErrTransitionRejected(from.Name(), event.Name())
}

func guardsPass(ctx context.Context, guards []Guard, from State, event Event, data any) bool {
	for _, guard := range guards {
		if guard != nil && !guard(ctx, from, event, data) {
			return false
		}
	}
	return true
}
