package xmlmode

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackChangeToken(t *testing.T) {
	token := NewCallbackChangeToken()
	assert.False(t, token.HasChanged())
	assert.True(t, token.ActiveChangeCallbacks())

	var calls, removed atomic.Int32
	token.RegisterChangeCallback(func() { calls.Add(1) })
	unregister := token.RegisterChangeCallback(func() { removed.Add(1) })
	unregister()

	token.SignalChange()
	token.SignalChange()

	assert.True(t, token.HasChanged())
	assert.Equal(t, int32(1), calls.Load(), "callbacks fire once")
	assert.Equal(t, int32(0), removed.Load())
}

func TestCompositeChangeToken(t *testing.T) {
	a, b := NewCallbackChangeToken(), NewCallbackChangeToken()
	composite := NewCompositeChangeToken(a, b)
	assert.False(t, composite.HasChanged())
	assert.True(t, composite.ActiveChangeCallbacks())

	var calls atomic.Int32
	unregister := composite.RegisterChangeCallback(func() { calls.Add(1) })

	b.SignalChange()
	assert.True(t, composite.HasChanged())
	assert.Equal(t, int32(1), calls.Load())

	unregister()
	a.SignalChange()
	assert.Equal(t, int32(1), calls.Load())

	assert.False(t, NewCompositeChangeToken().ActiveChangeCallbacks())
}

func TestOnChange(t *testing.T) {
	t.Run("runs action per token until cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		tokens := make(chan *CallbackChangeToken, 4)
		var actions atomic.Int32
		errCh := make(chan error, 1)
		go func() {
			errCh <- OnChange(ctx,
				func(context.Context) (ChangeToken, error) {
					token := NewCallbackChangeToken()
					tokens <- token
					return token, nil
				},
				func() {
					if actions.Add(1) == 2 {
						cancel()
					}
				},
			)
		}()

		(<-tokens).SignalChange()
		(<-tokens).SignalChange()

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Fatal("OnChange did not return")
		}
		assert.Equal(t, int32(2), actions.Load())
	})

	t.Run("token already changed", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		produced := 0
		err := OnChange(ctx,
			func(context.Context) (ChangeToken, error) {
				produced++
				token := NewCallbackChangeToken()
				if produced == 1 {
					token.SignalChange()
				}
				return token, nil
			},
			cancel,
		)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 2, produced)
	})

	t.Run("round context ends when its token fires", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var rounds []context.Context
		err := OnChange(ctx,
			func(roundCtx context.Context) (ChangeToken, error) {
				rounds = append(rounds, roundCtx)
				token := NewCallbackChangeToken()
				if len(rounds) == 1 {
					token.SignalChange()
				}
				return token, nil
			},
			func() {
				require.Len(t, rounds, 1)
				assert.ErrorIs(t, rounds[0].Err(), context.Canceled)
				cancel()
			},
		)
		assert.ErrorIs(t, err, context.Canceled)
		require.Len(t, rounds, 2)
		assert.ErrorIs(t, rounds[1].Err(), context.Canceled)
	})

	t.Run("producer error", func(t *testing.T) {
		boom := errors.New("boom")
		err := OnChange(context.Background(),
			func(context.Context) (ChangeToken, error) { return nil, boom },
			func() { t.Error("action must not run") },
		)
		require.ErrorIs(t, err, boom)
	})
}
