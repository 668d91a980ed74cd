package cmd

import (
	"context"
	"fmt"

	"github.com/turnpikehq/turnpike/internal/orchestrator"
)

// placeholderAgent stands in until the host wires a model-backed
// executor. It exercises the governed tool path so the full pipeline is
// observable end to end.
type placeholderAgent struct {
	id string
}

func (a *placeholderAgent) ID() string { return a.id }

func (a *placeholderAgent) Execute(ctx context.Context, task orchestrator.Task) (*orchestrator.AgentOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := task.Tools.Invoke(ctx, "current_time", nil)
	if err != nil {
		return nil, err
	}
	when := "unknown time"
	if res != nil && !res.IsError {
		when = res.Content
	}
	return &orchestrator.AgentOutput{
		Text: fmt.Sprintf("[%s] received at %s: %s", a.id, when, task.Prompt),
	}, nil
}

// stubResolver resolves every configured agent id to a placeholder.
func stubResolver(ids []string) orchestrator.AgentResolver {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	return func(id string) (orchestrator.Agent, error) {
		if !known[id] {
			return nil, fmt.Errorf("unknown agent %q", id)
		}
		return &placeholderAgent{id: id}, nil
	}
}
