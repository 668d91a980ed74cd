package tools

import (
	"context"
	"fmt"
	"sync/atomic"
)

// ReasonBudgetExceeded marks a call rejected by the per-agent budget.
const ReasonBudgetExceeded = "tool_call_budget_exceeded"

// BudgetedInvoker enforces a shared per-agent tool-call budget. The
// counter covers every tool the agent owns; once spent, further calls fail
// fast with a budget error the agent's own loop can observe.
type BudgetedInvoker struct {
	inner Invoker
	max   int
	used  atomic.Int64
}

func Budgeted(inner Invoker, maxCalls int) *BudgetedInvoker {
	return &BudgetedInvoker{inner: inner, max: maxCalls}
}

func (b *BudgetedInvoker) Names() []string { return b.inner.Names() }

// Used reports how many calls were admitted so far.
func (b *BudgetedInvoker) Used() int { return int(b.used.Load()) }

func (b *BudgetedInvoker) Invoke(ctx context.Context, name string, input map[string]any) (*Result, error) {
	if b.max > 0 {
		if n := b.used.Add(1); n > int64(b.max) {
			b.used.Add(-1)
			return BlockedResult(
				fmt.Sprintf("tool %q rejected: tool-call budget of %d exhausted", name, b.max),
				ReasonBudgetExceeded,
			), nil
		}
	}
	return b.inner.Invoke(ctx, name, input)
}
