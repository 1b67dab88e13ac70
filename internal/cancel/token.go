// Package cancel provides the cooperative cancellation token shared by every
// stage of a deployment.
package cancel

import (
	"context"
	"sync"

	"github.com/waabox/gamedeck/internal/domain"
)

// Token is a one-shot cancellation flag with an ordered callback list.
// Blocking primitives register their abort mechanism with OnCancelled so that
// cancellation becomes observable at their next suspension point.
type Token struct {
	mu        sync.Mutex
	cancelled bool
	nextID    int
	callbacks []callback

	ctx    context.Context
	cancel context.CancelFunc
}

type callback struct {
	id int
	fn func()
}

// New creates a token whose Context derives from parent.
// Cancelling parent cancels the token.
func New(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	t := &Token{ctx: ctx, cancel: cancel}
	context.AfterFunc(ctx, t.Cancel)
	return t
}

// Cancel sets the flag and runs every registered callback exactly once, in
// registration order, on the calling goroutine. Calling it again is a no-op.
func (t *Token) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	pending := t.callbacks
	t.callbacks = nil
	t.mu.Unlock()

	t.cancel()
	for _, cb := range pending {
		cb.fn()
	}
}

// OnCancelled registers fn to run when the token is cancelled. If the token
// is already cancelled fn runs immediately. The returned stop function
// deregisters fn and reports whether it did so before fn was invoked.
func (t *Token) OnCancelled(fn func()) (stop func() bool) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		fn()
		return func() bool { return false }
	}
	t.nextID++
	id := t.nextID
	t.callbacks = append(t.callbacks, callback{id: id, fn: fn})
	t.mu.Unlock()

	return func() bool {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, cb := range t.callbacks {
			if cb.id == id {
				t.callbacks = append(t.callbacks[:i], t.callbacks[i+1:]...)
				return true
			}
		}
		return false
	}
}

// Check returns domain.ErrCancelled once the token has been cancelled.
func (t *Token) Check() error {
	if t.Cancelled() {
		return domain.ErrCancelled
	}
	return nil
}

// Cancelled reports whether Cancel has been called or the parent context
// is done. The parent is seen at once, before its callbacks have run.
func (t *Token) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled || t.ctx.Err() != nil
}

// Done is closed when the token is cancelled.
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Context returns a context cancelled together with the token.
func (t *Token) Context() context.Context {
	return t.ctx
}
