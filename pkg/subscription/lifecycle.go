package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/tiersync/pkg/logger"
	"github.com/dmitrymomot/tiersync/pkg/statemachine"
)

// Name lets State take part in the lifecycle transition table.
func (s State) Name() string { return string(s) }

// LifecycleEvent moves a subscription between lifecycle states.
type LifecycleEvent string

const (
	LifecycleActivate       LifecycleEvent = "activate"
	LifecycleScheduleCancel LifecycleEvent = "schedule_cancel"
	LifecycleReactivate     LifecycleEvent = "reactivate"
	LifecycleCancel         LifecycleEvent = "cancel"
	LifecycleRemove         LifecycleEvent = "remove"
)

func (e LifecycleEvent) Name() string { return string(e) }

// none -> active -> pending_cancel -> canceled, with reactivation and resubscription.
var lifecycle = statemachine.MustNew(statemachine.WithTransitions([]statemachine.TransitionDef{
	{From: StateNone, To: StateActive, Event: LifecycleActivate},
	{From: StateCanceled, To: StateActive, Event: LifecycleActivate},
	{From: StateNone, To: StatePendingCancel, Event: LifecycleScheduleCancel},
	{From: StateActive, To: StatePendingCancel, Event: LifecycleScheduleCancel},
	{From: StatePendingCancel, To: StateActive, Event: LifecycleReactivate},
	{From: StateActive, To: StateCanceled, Event: LifecycleCancel},
	{From: StatePendingCancel, To: StateCanceled, Event: LifecycleCancel},
	{From: StateActive, To: StateNone, Event: LifecycleRemove},
	{From: StatePendingCancel, To: StateNone, Event: LifecycleRemove},
	{From: StateCanceled, To: StateNone, Event: LifecycleRemove},
}))

// CheckTransition names the lifecycle event that takes a row from one state to
// another and validates it. The event is empty when the state did not change.
// An error means the move is outside the lifecycle, which happens when
// provider deliveries arrive out of order.
func CheckTransition(ctx context.Context, from, to State) (LifecycleEvent, error) {
	var ev LifecycleEvent
	switch to {
	case from:
		return "", nil
	case StateActive:
		ev = LifecycleActivate
		if from == StatePendingCancel {
			ev = LifecycleReactivate
		}
	case StatePendingCancel:
		ev = LifecycleScheduleCancel
	case StateCanceled:
		ev = LifecycleCancel
	default:
		ev = LifecycleRemove
	}

	next, err := lifecycle.Fire(ctx, from, ev, nil)
	if err != nil {
		return ev, err
	}
	if next.Name() != to.Name() {
		return ev, fmt.Errorf("lifecycle %s from %s leads to %s, not %s", ev, from, next.Name(), to)
	}
	return ev, nil
}

// logTransition records the lifecycle move between two versions of a row.
// Writes are never blocked; out-of-lifecycle moves are only reported.
func logTransition(ctx context.Context, log *slog.Logger, before, after *Subscription, now time.Time) {
	from, to := StateAt(before, now), StateAt(after, now)
	ev, err := CheckTransition(ctx, from, to)

	userID := ""
	switch {
	case after != nil:
		userID = after.UserID
	case before != nil:
		userID = before.UserID
	}
	attrs := []any{
		logger.UserID(userID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	}

	switch {
	case err != nil:
		log.WarnContext(ctx, "unexpected subscription lifecycle transition", append(attrs, logger.Error(err))...)
	case ev != "":
		log.DebugContext(ctx, "subscription lifecycle transition", append(attrs, slog.String("event", string(ev)))...)
	}
}
