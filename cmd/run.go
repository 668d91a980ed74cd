package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turnpikehq/turnpike/internal/bus"
	"github.com/turnpikehq/turnpike/internal/config"
	"github.com/turnpikehq/turnpike/internal/consumer"
	"github.com/turnpikehq/turnpike/internal/cron"
	"github.com/turnpikehq/turnpike/internal/governance"
	"github.com/turnpikehq/turnpike/internal/orchestrator"
	"github.com/turnpikehq/turnpike/internal/queue"
	"github.com/turnpikehq/turnpike/internal/runs"
	"github.com/turnpikehq/turnpike/internal/store"
	storefile "github.com/turnpikehq/turnpike/internal/store/file"
	storepg "github.com/turnpikehq/turnpike/internal/store/pg"
	storesqlite "github.com/turnpikehq/turnpike/internal/store/sqlite"
	"github.com/turnpikehq/turnpike/internal/tools"
	"github.com/turnpikehq/turnpike/internal/tracing"
)

func runService() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)
	slog.Info("turnpike starting", "version", Version, "config", cfgPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	qstore, err := openQueueStore(cfg.Storage)
	if err != nil {
		slog.Error("open queue store failed", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}
	defer qstore.Close()

	q, err := queue.New(qstore, queue.Options{
		Lease:     time.Duration(cfg.Queue.LeaseSeconds) * time.Second,
		LedgerCap: cfg.Queue.LedgerCap,
	})
	if err != nil {
		slog.Error("queue init failed", "error", err)
		os.Exit(1)
	}

	engine := governance.NewEngine(governanceFromConfig(cfg.Governance))
	registry := runs.NewRegistry()
	dedupe := bus.NewDedupeCache(
		time.Duration(cfg.Dedupe.TTLMinutes)*time.Minute,
		cfg.Dedupe.MaxPerChat,
	)

	router := orchestrator.NewRouter(orchestrator.RouterConfig{
		Rules:    routingRules(cfg.Routing.Rules),
		AgentIDs: cfg.AgentIDs(),
		Allow:    cfg.Routing.Allow,
		Deny:     cfg.Routing.Deny,
	})

	toolset := buildToolRegistry(q)
	runner := orchestrator.NewRunner(orchestrator.RunnerConfig{
		Resolver:    stubResolver(cfg.AgentIDs()),
		ToolsFor:    func(string) tools.Invoker { return toolset },
		Governance:  engine,
		Hooks:       governance.NopHooks{},
		Defaults:    budgetFromSpec(cfg.Agents.Defaults),
		Budgets:     agentBudgets(cfg.Agents.List),
		Parallelism: cfg.Agents.Parallelism,
	})

	cons := consumer.New(consumer.Config{
		Queue:            q,
		Router:           router,
		Runner:           runner,
		Runs:             registry,
		Dedupe:           dedupe,
		Publisher:        logPublisher{},
		Workers:          cfg.Consumer.Workers,
		BackoffBase:      time.Duration(cfg.Consumer.BackoffBaseMs) * time.Millisecond,
		BackoffCap:       time.Duration(cfg.Consumer.BackoffCapMs) * time.Millisecond,
		MaxAttempts:      cfg.Consumer.MaxAttempts,
		DefaultAgentID:   cfg.ResolveDefaultAgentID(),
		PreemptOnInbound: cfg.Consumer.PreemptOnInbound,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return cons.Run(ctx) })

	if len(cfg.Cron) > 0 {
		sched, err := cron.NewScheduler(q, cronJobs(cfg.Cron), cfg.ResolveDefaultAgentID())
		if err != nil {
			slog.Error("cron init failed", "error", err)
			os.Exit(1)
		}
		g.Go(func() error { return sched.Run(ctx) })
	}

	watcher := config.NewWatcher(cfgPath)
	if err := watcher.Start(ctx); err != nil {
		slog.Warn("config watcher disabled", "error", err)
	} else {
		g.Go(func() error {
			for range watcher.Events() {
				fresh, err := config.Load(cfgPath)
				if err != nil {
					slog.Error("config reload failed", "error", err)
					continue
				}
				engine.UpdateConfig(governanceFromConfig(fresh.Governance))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("service exited", "error", err)
		os.Exit(1)
	}
	slog.Info("turnpike stopped")
}

func openQueueStore(sc config.StorageConfig) (store.QueueStore, error) {
	switch sc.Backend {
	case "", "memory":
		return store.NewMemoryQueueStore(), nil
	case "file":
		path := sc.Path
		if path == "" {
			path = "turnpike-queue.json"
		}
		return storefile.NewQueueStore(path)
	case "sqlite":
		path := sc.Path
		if path == "" {
			path = "turnpike.db"
		}
		return storesqlite.NewQueueStore(path)
	case "postgres":
		if sc.DSN == "" {
			return nil, fmt.Errorf("postgres backend requires storage.dsn")
		}
		return storepg.NewQueueStore(sc.DSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}

func governanceFromConfig(gc config.GovernanceConfig) governance.Config {
	pol := func(p config.PolicyConfig) governance.Policy {
		return governance.Policy{Allow: p.Allow, Deny: p.Deny}
	}
	out := governance.Config{
		Global:          pol(gc.Global),
		RequireApproval: gc.RequireApproval,
		ApprovalTTL:     time.Duration(gc.ApprovalTTLMinutes) * time.Minute,
	}
	if len(gc.Surfaces) > 0 {
		out.Surfaces = make(map[store.ChatKind]governance.Policy, len(gc.Surfaces))
		for k, p := range gc.Surfaces {
			out.Surfaces[store.ChatKind(k)] = pol(p)
		}
	}
	if len(gc.Chats) > 0 {
		out.Chats = make(map[string]governance.Policy, len(gc.Chats))
		for k, p := range gc.Chats {
			out.Chats[k] = pol(p)
		}
	}
	if len(gc.Users) > 0 {
		out.Users = make(map[string]governance.Policy, len(gc.Users))
		for k, p := range gc.Users {
			out.Users[k] = pol(p)
		}
	}
	if len(gc.RateRules) > 0 {
		out.RateRules = make(map[string]governance.RateRule, len(gc.RateRules))
		for k, r := range gc.RateRules {
			out.RateRules[k] = governance.RateRule{Max: r.Max, WindowSeconds: r.WindowSeconds}
		}
	}
	return out
}

func routingRules(rules []config.RoutingRule) []orchestrator.Rule {
	out := make([]orchestrator.Rule, 0, len(rules))
	for _, rc := range rules {
		rule := orchestrator.Rule{
			AgentID:  rc.Agent,
			Keywords: rc.Keywords,
			Reason:   rc.Reason,
		}
		for _, p := range rc.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				slog.Warn("routing: invalid pattern skipped", "agent", rc.Agent, "pattern", p, "error", err)
				continue
			}
			rule.Patterns = append(rule.Patterns, re)
		}
		out = append(out, rule)
	}
	return out
}

func budgetFromSpec(s config.AgentSpec) orchestrator.AgentBudget {
	return orchestrator.AgentBudget{
		MaxSteps:     s.MaxSteps,
		MaxToolCalls: s.MaxToolCalls,
		Timeout:      time.Duration(s.TimeoutSeconds) * time.Second,
		Model:        s.Model,
		Instructions: s.Instructions,
	}
}

func agentBudgets(list map[string]config.AgentSpec) map[string]orchestrator.AgentBudget {
	out := make(map[string]orchestrator.AgentBudget, len(list))
	for id, s := range list {
		out[id] = budgetFromSpec(s)
	}
	return out
}

func cronJobs(jobs []config.CronJobConfig) []cron.Job {
	out := make([]cron.Job, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, cron.Job{
			ID:       j.ID,
			Name:     j.Name,
			Schedule: j.Schedule,
			AgentID:  j.Agent,
			Message:  j.Message,
			Channel:  j.Channel,
			ChatID:   j.ChatID,
		})
	}
	return out
}

// logPublisher is the default outbound sink when no transport is wired;
// hosts embedding the core replace it with a real channel publisher.
type logPublisher struct{}

func (logPublisher) PublishOutbound(msg bus.OutboundMessage) {
	slog.Info("outbound", "channel", msg.Channel, "chat", msg.ChatID, "content", msg.Content)
}
