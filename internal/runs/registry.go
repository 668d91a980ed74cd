// Package runs tracks the in-flight run per chat so a new inbound message
// can preempt an in-progress reply instead of queuing behind it.
package runs

import (
	"context"
	"log/slog"
	"sync"
)

// Token is the cancellation handle for one running turn.
type Token struct {
	chatID string
	gen    uint64
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// Context is the run's context; it is cancelled when the run is aborted.
func (t *Token) Context() context.Context { return t.ctx }

// Registry maps chat id → the live token for the currently running turn.
// All check-then-act sequences happen under one mutex, so Abort racing
// Register can never cancel a token registered after the abort observed
// "none present".
type Registry struct {
	mu     sync.Mutex
	active map[string]*Token
	gen    uint64
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*Token)}
}

// Register installs a new token for the chat, cancelling and replacing any
// previous one. The returned token's context is derived from parent.
func (r *Registry) Register(parent context.Context, chatID string) *Token {
	ctx, cancel := context.WithCancelCause(parent)

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.active[chatID]; ok {
		prev.cancel(context.Canceled)
	}
	r.gen++
	tok := &Token{chatID: chatID, gen: r.gen, ctx: ctx, cancel: cancel}
	r.active[chatID] = tok
	return tok
}

// Abort cancels and removes the current token for the chat. Returns
// whether one existed; aborting an idle chat is a no-op, not an error.
func (r *Registry) Abort(chatID string, reason error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.active[chatID]
	if !ok {
		return false
	}
	tok.cancel(reason)
	delete(r.active, chatID)
	slog.Info("run aborted", "chat", chatID, "reason", reason)
	return true
}

// Clear removes the registration only if tok is still the stored token, so
// a finished run cannot clear a newer run's registration.
func (r *Registry) Clear(chatID string, tok *Token) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.active[chatID]; ok && cur == tok {
		delete(r.active, chatID)
	}
	tok.cancel(context.Canceled)
}

// Active reports whether a run is registered for the chat. Test helper.
func (r *Registry) Active(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[chatID]
	return ok
}
