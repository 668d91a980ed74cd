package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/turnpikehq/turnpike/internal/queue"
	"github.com/turnpikehq/turnpike/internal/tools"
)

// buildToolRegistry registers the built-in tools every agent gets.
// Host-specific tools are added by the embedding process.
func buildToolRegistry(q *queue.Queue) *tools.Registry {
	reg := tools.NewRegistry()

	reg.Register(&tools.Func{
		ToolName: "current_time",
		Desc:     "Returns the current date and time in RFC 3339 format.",
		Fn: func(ctx context.Context, input map[string]any) (*tools.Result, error) {
			return tools.NewResult(time.Now().Format(time.RFC3339)), nil
		},
	})

	reg.Register(&tools.Func{
		ToolName: "queue_status",
		Desc:     "Reports how many turns are waiting and lists the next few.",
		Fn: func(ctx context.Context, input map[string]any) (*tools.Result, error) {
			pending := q.ListPending(5)
			var b strings.Builder
			fmt.Fprintf(&b, "%d pending turn(s)", len(q.ListPending(0)))
			for _, it := range pending {
				fmt.Fprintf(&b, "\n- %s kind=%s attempt=%d next=%s", it.ID, it.Kind, it.Attempt, it.NextAt.Format(time.RFC3339))
			}
			return tools.NewResult(b.String()), nil
		},
	})

	return reg
}
