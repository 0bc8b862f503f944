package xmlmode

import (
	"context"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

// DefaultPollInterval is used when a polling watch is given no interval.
const DefaultPollInterval = 5 * time.Second

// PollingChangeToken is a ChangeToken for sources without native change
// events. It calls a check function every interval until the check
// reports a change, ctx ends or Stop is called.
type PollingChangeToken struct {
	CallbackChangeToken
	cancel context.CancelFunc
	done   chan struct{}
}

// PollingConfig configures a polling change token.
type PollingConfig struct {
	// Interval between polls (default: DefaultPollInterval)
	Interval time.Duration
	// CheckFunc returns true if a change is detected
	CheckFunc func(ctx context.Context) bool
}

// NewPollingChangeToken starts polling. Cancel ctx or call Stop to end
// the polling goroutine.
func NewPollingChangeToken(ctx context.Context, config PollingConfig) *PollingChangeToken {
	if config.Interval <= 0 {
		config.Interval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &PollingChangeToken{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.poll(ctx, config)
	return t
}

func (t *PollingChangeToken) poll(ctx context.Context, config PollingConfig) {
	defer close(t.done)
	ticker := time.NewTicker(config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if config.CheckFunc != nil && config.CheckFunc(ctx) {
				t.SignalChange()
				return
			}
		}
	}
}

// Stop ends polling and waits for the polling goroutine to exit. It is
// safe to call more than once.
func (t *PollingChangeToken) Stop() {
	t.cancel()
	<-t.done
}

type docState struct {
	size    int64
	modTime time.Time
}

// snapshot records size and modification time of every document in src
// matching g.
func snapshot(ctx context.Context, src Source, g glob.Glob) (map[string]docState, error) {
	entries, err := src.ListContents(ctx, "", true)
	if err != nil {
		return nil, err
	}
	state := make(map[string]docState)
	for _, e := range entries {
		if e.IsDir || !g.Match(e.Path) {
			continue
		}
		state[e.Path] = docState{size: e.Size, modTime: e.ModTime}
	}
	return state, nil
}

func statesEqual(a, b map[string]docState) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || v.size != w.size || !v.modTime.Equal(w.modTime) {
			return false
		}
	}
	return true
}

// PollWatch watches src for changes to documents matching pattern by
// listing it every interval and comparing sizes and modification times.
// Remote drivers build their Watch on it. A listing that fails while
// polling is treated as no change.
func PollWatch(ctx context.Context, src Source, pattern string, interval time.Duration) (*PollingChangeToken, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, &PathError{Op: "watch", Path: pattern, Err: err}
	}

	initial, err := snapshot(ctx, src, g)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	return NewPollingChangeToken(ctx, PollingConfig{
		Interval: interval,
		CheckFunc: func(ctx context.Context) bool {
			mu.Lock()
			defer mu.Unlock()
			current, err := snapshot(ctx, src, g)
			if err != nil {
				return false
			}
			return !statesEqual(initial, current)
		},
	}), nil
}

// Ensure PollingChangeToken implements ChangeToken
var _ ChangeToken = (*PollingChangeToken)(nil)
