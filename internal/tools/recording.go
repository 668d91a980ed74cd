package tools

import (
	"context"
	"sync"
)

// RecordingInvoker remembers the distinct tool names invoked through it,
// in first-use order. Used to report which tools an agent touched.
type RecordingInvoker struct {
	inner Invoker
	mu    sync.Mutex
	seen  map[string]bool
	order []string
}

func Recording(inner Invoker) *RecordingInvoker {
	return &RecordingInvoker{inner: inner, seen: make(map[string]bool)}
}

func (r *RecordingInvoker) Names() []string { return r.inner.Names() }

func (r *RecordingInvoker) Invoke(ctx context.Context, name string, input map[string]any) (*Result, error) {
	r.mu.Lock()
	if !r.seen[name] {
		r.seen[name] = true
		r.order = append(r.order, name)
	}
	r.mu.Unlock()
	return r.inner.Invoke(ctx, name, input)
}

// Used returns the distinct tool names invoked so far.
func (r *RecordingInvoker) Used() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}
