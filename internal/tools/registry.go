// Package tools defines the tool boundary: name-keyed callables owned by
// capability agents, plus the wrappers that intercept every call for
// governance and budget enforcement.
package tools

import (
	"context"
	"fmt"
	"sync"
)

// Tool is one name-keyed callable exposed to an agent.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, input map[string]any) (*Result, error)
}

// Invoker is the call surface handed to an agent. Wrappers (governance,
// budget) implement it around a Registry.
type Invoker interface {
	Invoke(ctx context.Context, name string, input map[string]any) (*Result, error)
	Names() []string
}

// Registry is a concurrency-safe name → Tool map.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	return names
}

// Invoke executes the named tool. Unknown names come back as a tool error
// result so the agent's reasoning loop can recover.
func (r *Registry) Invoke(ctx context.Context, name string, input map[string]any) (*Result, error) {
	t, ok := r.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name)), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.Execute(ctx, input)
}

// Func adapts a plain function into a Tool.
type Func struct {
	ToolName string
	Desc     string
	Fn       func(ctx context.Context, input map[string]any) (*Result, error)
}

func (f *Func) Name() string        { return f.ToolName }
func (f *Func) Description() string { return f.Desc }
func (f *Func) Execute(ctx context.Context, input map[string]any) (*Result, error) {
	return f.Fn(ctx, input)
}
