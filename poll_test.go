package xmlmode_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeaver/xmlmode"
)

func TestPollingChangeToken(t *testing.T) {
	t.Run("signals once the check reports a change", func(t *testing.T) {
		var checks atomic.Int32
		token := xmlmode.NewPollingChangeToken(context.Background(), xmlmode.PollingConfig{
			Interval:  5 * time.Millisecond,
			CheckFunc: func(context.Context) bool { return checks.Add(1) >= 3 },
		})
		defer token.Stop()

		fired := make(chan struct{})
		token.RegisterChangeCallback(func() { close(fired) })

		select {
		case <-fired:
		case <-time.After(2 * time.Second):
			t.Fatal("token did not fire")
		}
		assert.True(t, token.HasChanged())
		assert.GreaterOrEqual(t, checks.Load(), int32(3))
	})

	t.Run("stop ends polling", func(t *testing.T) {
		token := xmlmode.NewPollingChangeToken(context.Background(), xmlmode.PollingConfig{
			Interval:  time.Millisecond,
			CheckFunc: func(context.Context) bool { return false },
		})
		token.Stop()
		token.Stop()
		assert.False(t, token.HasChanged())
	})

	t.Run("cancelled context ends polling", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		token := xmlmode.NewPollingChangeToken(ctx, xmlmode.PollingConfig{})
		cancel()
		token.Stop()
		assert.False(t, token.HasChanged())
	})
}

func TestPollWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newMemorySource(t, map[string]string{
		"conf/a.xml": dtdDoc,
		"notes.txt":  "notes",
	})

	t.Run("ignores documents outside the pattern", func(t *testing.T) {
		token, err := xmlmode.PollWatch(ctx, src, "conf/*.xml", 5*time.Millisecond)
		require.NoError(t, err)
		defer token.Stop()

		require.NoError(t, src.Write(ctx, "notes.txt", strings.NewReader("more notes")))
		time.Sleep(30 * time.Millisecond)
		assert.False(t, token.HasChanged())
	})

	t.Run("sees a modified document", func(t *testing.T) {
		token, err := xmlmode.PollWatch(ctx, src, "conf/*.xml", 5*time.Millisecond)
		require.NoError(t, err)
		defer token.Stop()

		require.NoError(t, src.Write(ctx, "conf/a.xml", strings.NewReader(xsdDoc)))
		assert.Eventually(t, token.HasChanged, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("sees a new document", func(t *testing.T) {
		token, err := xmlmode.PollWatch(ctx, src, "**.xml", 5*time.Millisecond)
		require.NoError(t, err)
		defer token.Stop()

		require.NoError(t, src.Write(ctx, "conf/deep/b.xml", strings.NewReader(xsdDoc)))
		assert.Eventually(t, token.HasChanged, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("invalid pattern", func(t *testing.T) {
		_, err := xmlmode.PollWatch(ctx, src, "[", time.Second)
		assert.Error(t, err)
	})
}
