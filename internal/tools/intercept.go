package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/turnpikehq/turnpike/internal/governance"
	"github.com/turnpikehq/turnpike/internal/store"
)

var tracer = otel.Tracer("turnpike/tools")

// GovernedInvoker intercepts every call with the governance engine and the
// injected hooks. Rejections come back as tool error results carrying the
// machine-readable reason, so the agent loop can react instead of crashing.
type GovernedInvoker struct {
	inner   Invoker
	engine  *governance.Engine
	hooks   governance.Hooks
	chatID  string
	userID  string
	surface store.ChatKind
}

func Governed(inner Invoker, engine *governance.Engine, hooks governance.Hooks, chatID, userID string, surface store.ChatKind) *GovernedInvoker {
	if hooks == nil {
		hooks = governance.NopHooks{}
	}
	return &GovernedInvoker{
		inner:   inner,
		engine:  engine,
		hooks:   hooks,
		chatID:  chatID,
		userID:  userID,
		surface: surface,
	}
}

func (g *GovernedInvoker) Names() []string { return g.inner.Names() }

func (g *GovernedInvoker) Invoke(ctx context.Context, name string, input map[string]any) (*Result, error) {
	ctx, span := tracer.Start(ctx, "tool."+name)
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.name", name),
		attribute.String("chat.id", g.chatID),
	)

	if g.engine != nil {
		d := g.engine.Authorize(governance.Request{
			Tool:    name,
			ChatID:  g.chatID,
			UserID:  g.userID,
			Surface: g.surface,
		})
		if !d.Allowed {
			span.SetStatus(codes.Error, d.Reason)
			msg := fmt.Sprintf("tool %q blocked: %s", name, d.Reason)
			if d.Reason == governance.ReasonRateLimited {
				msg = fmt.Sprintf("tool %q blocked: %s (retry in %dms)", name, d.Reason, d.ResetMs)
			}
			return BlockedResult(msg, d.Reason), nil
		}
	}

	if err := g.hooks.BeforeCall(name, g.chatID, g.userID, input); err != nil {
		span.SetStatus(codes.Error, "hook_rejected")
		return BlockedResult(fmt.Sprintf("tool %q rejected: %v", name, err), "hook_rejected"), nil
	}

	start := time.Now()
	res, err := g.inner.Invoke(ctx, name, input)
	elapsed := time.Since(start)
	g.hooks.AfterCall(name, elapsed, invokeErr(res, err))

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if res.IsError {
		slog.Warn("tool error", "tool", name, "chat", g.chatID, "elapsed", elapsed, "error", truncate(res.Content, 200))
	} else {
		slog.Debug("tool call", "tool", name, "chat", g.chatID, "elapsed", elapsed)
	}
	return res, nil
}

func invokeErr(res *Result, err error) error {
	if err != nil {
		return err
	}
	if res != nil && res.IsError {
		return fmt.Errorf("%s", truncate(res.Content, 200))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
