package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/turnpikehq/turnpike/internal/governance"
	"github.com/turnpikehq/turnpike/internal/store"
	"github.com/turnpikehq/turnpike/internal/tools"
)

var tracer = otel.Tracer("turnpike/orchestrator")

// AgentBudget bounds one capability domain's execution. Zero fields fall
// back to the runner defaults.
type AgentBudget struct {
	MaxSteps     int           `json:"maxSteps,omitempty"`
	MaxToolCalls int           `json:"maxToolCalls,omitempty"`
	Timeout      time.Duration `json:"-"`
	Model        string        `json:"model,omitempty"`        // optional provider/model override
	Instructions string        `json:"instructions,omitempty"` // optional instruction override
}

func (b AgentBudget) mergedWith(def AgentBudget) AgentBudget {
	if b.MaxSteps <= 0 {
		b.MaxSteps = def.MaxSteps
	}
	if b.MaxToolCalls <= 0 {
		b.MaxToolCalls = def.MaxToolCalls
	}
	if b.Timeout <= 0 {
		b.Timeout = def.Timeout
	}
	if b.Model == "" {
		b.Model = def.Model
	}
	if b.Instructions == "" {
		b.Instructions = def.Instructions
	}
	return b
}

// Task is the unit of work handed to a capability agent.
type Task struct {
	Prompt       string
	Tools        tools.Invoker
	MaxSteps     int
	Model        string
	Instructions string
}

// AgentOutput is what a capability agent returns.
type AgentOutput struct {
	Text string
}

// Agent is the capability-domain boundary. Implementations live outside
// this core; the runner only needs Execute to honor ctx cancellation.
type Agent interface {
	ID() string
	Execute(ctx context.Context, task Task) (*AgentOutput, error)
}

// AgentResolver resolves an agent id to its executor.
type AgentResolver func(id string) (Agent, error)

// Status is the terminal state of one planned agent task.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// AgentResult is one agent's outcome within an orchestration run.
type AgentResult struct {
	AgentID   string        `json:"agentId"`
	Text      string        `json:"text,omitempty"`
	ToolsUsed []string      `json:"toolsUsed,omitempty"`
	Status    Status        `json:"status"`
	Err       string        `json:"error,omitempty"`
	Duration  time.Duration `json:"-"`
}

// Result aggregates an orchestration run. Agents holds only the agents
// that succeeded; failures and timeouts are scoped to their agent and
// reported in Failed, never as a call-level error.
type Result struct {
	RunID     string        `json:"runId"`
	Agents    []AgentResult `json:"agents"`
	Failed    []AgentResult `json:"failed,omitempty"`
	ToolsUsed []string      `json:"toolsUsed,omitempty"` // de-duplicated union
	Duration  time.Duration `json:"-"`
}

// RunInput carries the request context shared by all planned agents.
type RunInput struct {
	Prompt  string
	ChatID  string
	UserID  string
	Surface store.ChatKind
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Resolver    AgentResolver
	ToolsFor    func(agentID string) tools.Invoker // per-domain tool set; nil entries get no tools
	Governance  *governance.Engine
	Hooks       governance.Hooks
	Defaults    AgentBudget
	Budgets     map[string]AgentBudget
	Parallelism int // worker pool size, default 1 (sequential)
}

// Runner executes a plan with bounded parallelism and per-agent budgets.
type Runner struct {
	cfg RunnerConfig
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.Defaults.MaxSteps <= 0 {
		cfg.Defaults.MaxSteps = 8
	}
	if cfg.Defaults.MaxToolCalls <= 0 {
		cfg.Defaults.MaxToolCalls = 20
	}
	if cfg.Defaults.Timeout <= 0 {
		cfg.Defaults.Timeout = 2 * time.Minute
	}
	return &Runner{cfg: cfg}
}

// Run executes every planned agent and blocks until all finish or time
// out. A fixed pool of cfg.Parallelism workers pulls entries from the
// plan; one agent's failure never aborts its siblings, but caller-level
// ctx cancellation propagates to every child.
func (r *Runner) Run(ctx context.Context, plan Plan, input RunInput) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "orchestrate")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.Int("plan.agents", len(plan)),
		attribute.String("chat.id", input.ChatID),
	)

	result := &Result{RunID: runID}
	if len(plan) == 0 {
		result.Duration = time.Since(start)
		return result, nil
	}

	outcomes := make([]AgentResult, len(plan))
	jobs := make(chan int)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < r.cfg.Parallelism; w++ {
		g.Go(func() error {
			for i := range jobs {
				outcomes[i] = r.runOne(gctx, plan[i], input)
			}
			return nil
		})
	}

feed:
	for i := range plan {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	_ = g.Wait()

	seen := make(map[string]bool)
	for _, o := range outcomes {
		if o.AgentID == "" {
			continue // never started (caller cancelled)
		}
		if o.Status == StatusSucceeded {
			result.Agents = append(result.Agents, o)
			for _, t := range o.ToolsUsed {
				if !seen[t] {
					seen[t] = true
					result.ToolsUsed = append(result.ToolsUsed, t)
				}
			}
		} else {
			result.Failed = append(result.Failed, o)
		}
	}

	result.Duration = time.Since(start)
	slog.Info("orchestration finished",
		"run", runID,
		"planned", len(plan),
		"succeeded", len(result.Agents),
		"failed", len(result.Failed),
		"tools", len(result.ToolsUsed),
		"elapsed", result.Duration,
	)
	return result, nil
}

// runOne executes a single planned agent under its merged budget.
// pending → running → {succeeded, failed, timed_out}; terminal states are
// final, retries belong to the turn queue.
func (r *Runner) runOne(ctx context.Context, entry PlanEntry, input RunInput) AgentResult {
	res := AgentResult{AgentID: entry.AgentID}
	start := time.Now()

	budget := r.cfg.Budgets[entry.AgentID].mergedWith(r.cfg.Defaults)

	agent, err := r.cfg.Resolver(entry.AgentID)
	if err != nil {
		res.Status = StatusFailed
		res.Err = fmt.Sprintf("resolve agent: %v", err)
		res.Duration = time.Since(start)
		slog.Warn("orchestration: agent not resolvable", "agent", entry.AgentID, "error", err)
		return res
	}

	var base tools.Invoker
	if r.cfg.ToolsFor != nil {
		base = r.cfg.ToolsFor(entry.AgentID)
	}
	if base == nil {
		base = tools.NewRegistry()
	}
	budgeted := tools.Budgeted(
		tools.Governed(base, r.cfg.Governance, r.cfg.Hooks, input.ChatID, input.UserID, input.Surface),
		budget.MaxToolCalls,
	)
	recorder := tools.Recording(budgeted)

	runCtx, cancel := context.WithTimeout(ctx, budget.Timeout)
	defer cancel()

	runCtx, span := tracer.Start(runCtx, "agent."+entry.AgentID)
	defer span.End()

	out, err := agent.Execute(runCtx, Task{
		Prompt:       input.Prompt,
		Tools:        recorder,
		MaxSteps:     budget.MaxSteps,
		Model:        budget.Model,
		Instructions: budget.Instructions,
	})

	res.ToolsUsed = recorder.Used()
	res.Duration = time.Since(start)

	switch {
	case err == nil:
		res.Status = StatusSucceeded
		res.Text = out.Text
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.Status = StatusTimedOut
		res.Err = fmt.Sprintf("timed out after %s", budget.Timeout)
		slog.Warn("orchestration: agent timed out",
			"agent", entry.AgentID, "timeout", budget.Timeout, "tool_calls", budgeted.Used())
	default:
		res.Status = StatusFailed
		res.Err = err.Error()
		slog.Warn("orchestration: agent failed",
			"agent", entry.AgentID, "error", err, "elapsed", res.Duration)
	}
	return res
}
