// Package statemachine provides finite-state-machine transition tables.
//
// A Table maps (state, event) pairs to target states. It keeps no current
// state of its own: the caller passes the state an entity is in and Fire
// returns where the event takes it. One table can therefore serve every row
// of a database table concurrently.
//
// The package revolves around two minimal interfaces, State and Event. Any
// type with a Name method satisfies them; StringState and StringEvent cover
// the common case.
//
// # Usage
//
//	const (
//	    Draft    = statemachine.StringState("draft")
//	    InReview = statemachine.StringState("in_review")
//	    Submit   = statemachine.StringEvent("submit")
//	)
//
//	table := statemachine.MustNew(
//	    statemachine.WithTransition(Draft, InReview, Submit),
//	)
//
//	next, err := table.Fire(ctx, Draft, Submit, nil)
//
// # Guards and Actions
//
// Guards veto a transition based on runtime data. When several transitions
// share a from/event pair the first one whose guards pass is taken:
//
//	isOwner := func(ctx context.Context, from statemachine.State, evt statemachine.Event, data any) bool {
//	    u, ok := data.(*User)
//	    return ok && u.Role == "owner"
//	}
//
// Actions run after the guards and before Fire returns. An action error
// aborts the transition and is returned wrapped.
//
// # Error Handling
//
//	if statemachine.IsNoTransitionAvailableError(err) { /* not defined */ }
//	if statemachine.IsTransitionRejectedError(err)   { /* guard said no */ }
//
// # Concurrency
//
// Table guards its transition map with a RWMutex. Fire and CanFire only take
// the read lock, so lookups from many goroutines do not serialize.
package statemachine
