package statemachine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tiersync/pkg/statemachine"
)

const (
	idle    = statemachine.StringState("idle")
	running = statemachine.StringState("running")
	paused  = statemachine.StringState("paused")
	done    = statemachine.StringState("done")

	start  = statemachine.StringEvent("start")
	pause  = statemachine.StringEvent("pause")
	finish = statemachine.StringEvent("finish")
)

func TestTable_Fire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	table := statemachine.MustNew(
		statemachine.WithTransition(idle, running, start),
		statemachine.WithTransition(running, paused, pause),
		statemachine.WithTransitions([]statemachine.TransitionDef{
			{From: paused, To: running, Event: start},
			{From: running, To: done, Event: finish},
		}),
	)

	t.Run("returns the target state", func(t *testing.T) {
		t.Parallel()
		next, err := table.Fire(ctx, idle, start, nil)
		require.NoError(t, err)
		assert.Equal(t, running, next)

		next, err = table.Fire(ctx, paused, start, nil)
		require.NoError(t, err)
		assert.Equal(t, running, next)
	})

	t.Run("undefined pair", func(t *testing.T) {
		t.Parallel()
		_, err := table.Fire(ctx, done, start, nil)
		require.Error(t, err)
		assert.True(t, statemachine.IsNoTransitionAvailableError(err))
		assert.False(t, table.CanFire(ctx, done, start, nil))
	})

	t.Run("nil arguments", func(t *testing.T) {
		t.Parallel()
		_, err := table.Fire(ctx, nil, start, nil)
		require.ErrorIs(t, err, statemachine.ErrInvalidEvent)
		_, err = table.Fire(ctx, idle, nil, nil)
		require.ErrorIs(t, err, statemachine.ErrInvalidEvent)
	})

	t.Run("lists events out of a state", func(t *testing.T) {
		t.Parallel()
		assert.ElementsMatch(t, []string{"pause", "finish"}, table.Events(running))
		assert.Empty(t, table.Events(done))
	})
}

func TestTable_Guards(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	allowed := func(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
		ok, _ := data.(bool)
		return ok
	}
	table := statemachine.MustNew(
		statemachine.WithTransition(running, done, finish, statemachine.WithGuard(allowed)),
	)

	_, err := table.Fire(ctx, running, finish, false)
	require.Error(t, err)
	assert.True(t, statemachine.IsTransitionRejectedError(err))

	next, err := table.Fire(ctx, running, finish, true)
	require.NoError(t, err)
	assert.Equal(t, done, next)
	assert.True(t, table.CanFire(ctx, running, finish, true))
}

func TestTable_GuardedBranching(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	urgent := func(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
		return data == "urgent"
	}
	table := statemachine.MustNew(
		statemachine.WithTransition(idle, done, start, statemachine.WithGuard(urgent)),
		statemachine.WithTransition(idle, running, start),
	)

	next, err := table.Fire(ctx, idle, start, "urgent")
	require.NoError(t, err)
	assert.Equal(t, done, next)

	next, err = table.Fire(ctx, idle, start, "normal")
	require.NoError(t, err)
	assert.Equal(t, running, next)
}

func TestTable_Actions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("runs in order", func(t *testing.T) {
		t.Parallel()
		var calls []string
		record := func(label string) statemachine.Action {
			return func(_ context.Context, from, to statemachine.State, evt statemachine.Event, _ any) error {
				calls = append(calls, label+":"+from.Name()+"->"+to.Name()+"/"+evt.Name())
				return nil
			}
		}
		table := statemachine.MustNew(statemachine.WithTransition(idle, running, start,
			statemachine.WithAction(record("a")),
			statemachine.WithAction(record("b")),
		))

		_, err := table.Fire(ctx, idle, start, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a:idle->running/start", "b:idle->running/start"}, calls)
	})

	t.Run("failure aborts", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		table := statemachine.MustNew(statemachine.WithTransition(idle, running, start,
			statemachine.WithAction(func(context.Context, statemachine.State, statemachine.State, statemachine.Event, any) error {
				return boom
			}),
		))

		next, err := table.Fire(ctx, idle, start, nil)
		require.ErrorIs(t, err, boom)
		assert.Nil(t, next)
	})
}

func TestNew_InvalidDefinition(t *testing.T) {
	t.Parallel()

	_, err := statemachine.New(statemachine.WithTransition(nil, running, start))
	require.ErrorIs(t, err, statemachine.ErrInvalidTransition)

	_, err = statemachine.New(statemachine.WithTransitions([]statemachine.TransitionDef{
		{From: idle, To: running, Event: start},
		{From: running, Event: finish},
	}))
	require.ErrorIs(t, err, statemachine.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "transition[1] running-><nil> on finish")

	assert.Panics(t, func() {
		statemachine.MustNew(statemachine.WithTransition(idle, nil, start))
	})
}

func TestTable_ConcurrentFire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	table := statemachine.MustNew(statemachine.WithTransition(idle, running, start))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next, err := table.Fire(ctx, idle, start, nil)
			assert.NoError(t, err)
			assert.Equal(t, running, next)
		}()
	}
	wg.Wait()
}
