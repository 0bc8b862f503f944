package xmlmode

import (
	"context"
	"sync"
	"sync/atomic"
)

// CallbackChangeToken is a ChangeToken that supports active callbacks.
// Used by drivers that have native change events (local, memory).
type CallbackChangeToken struct {
	mu        sync.RWMutex
	changed   atomic.Bool
	callbacks []func()
}

// NewCallbackChangeToken creates a new ChangeToken that supports active callbacks.
func NewCallbackChangeToken() *CallbackChangeToken {
	return &CallbackChangeToken{}
}

func (t *CallbackChangeToken) HasChanged() bool {
	return t.changed.Load()
}

func (t *CallbackChangeToken) ActiveChangeCallbacks() bool {
	return true
}

func (t *CallbackChangeToken) RegisterChangeCallback(callback func()) (unregister func()) {
	t.mu.Lock()
	t.callbacks = append(t.callbacks, callback)
	index := len(t.callbacks) - 1
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if index < len(t.callbacks) {
			// Set to nil instead of removing to avoid index shifting
			t.callbacks[index] = nil
		}
	}
}

// SignalChange marks the token as changed and invokes all callbacks.
// Drivers call it when a matching document changes.
func (t *CallbackChangeToken) SignalChange() {
	if t.changed.Swap(true) {
		return
	}

	t.mu.RLock()
	callbacks := make([]func(), len(t.callbacks))
	copy(callbacks, t.callbacks)
	t.mu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb()
		}
	}
}

// CompositeChangeToken combines multiple ChangeTokens into one.
// HasChanged returns true if ANY of the underlying tokens has changed.
// A callback may run once per underlying token that fires.
type CompositeChangeToken struct {
	tokens []ChangeToken
}

// NewCompositeChangeToken creates a token that combines multiple tokens.
func NewCompositeChangeToken(tokens ...ChangeToken) *CompositeChangeToken {
	return &CompositeChangeToken{tokens: tokens}
}

func (c *CompositeChangeToken) HasChanged() bool {
	for _, t := range c.tokens {
		if t.HasChanged() {
			return true
		}
	}
	return false
}

func (c *CompositeChangeToken) ActiveChangeCallbacks() bool {
	// True only if ALL tokens support active callbacks
	for _, t := range c.tokens {
		if !t.ActiveChangeCallbacks() {
			return false
		}
	}
	return len(c.tokens) > 0
}

func (c *CompositeChangeToken) RegisterChangeCallback(callback func()) (unregister func()) {
	unregisters := make([]func(), 0, len(c.tokens))
	for _, t := range c.tokens {
		unregisters = append(unregisters, t.RegisterChangeCallback(callback))
	}

	return func() {
		for _, u := range unregisters {
			u()
		}
	}
}

// OnChange keeps watching until ctx is done: each time the current token
// fires, changeAction runs and a new token is requested from
// tokenProducer. Every token is produced under its own context, which is
// cancelled once that token fires, so watches behind tokens that did not
// fire are released before the next round. It returns when ctx is done or
// tokenProducer fails.
func OnChange(ctx context.Context, tokenProducer func(ctx context.Context) (ChangeToken, error), changeAction func()) error {
	for {
		fired, err := awaitChange(ctx, tokenProducer)
		if !fired {
			return err
		}
		changeAction()
	}
}

// awaitChange produces one token and waits for it to fire or for ctx to
// be done.
func awaitChange(ctx context.Context, tokenProducer func(ctx context.Context) (ChangeToken, error)) (bool, error) {
	roundCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	token, err := tokenProducer(roundCtx)
	if err != nil {
		return false, err
	}

	done := make(chan struct{})
	var once sync.Once
	unregister := token.RegisterChangeCallback(func() {
		once.Do(func() { close(done) })
	})
	defer unregister()
	// The token may have fired before the callback was registered.
	if token.HasChanged() {
		once.Do(func() { close(done) })
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-done:
		return true, nil
	}
}
