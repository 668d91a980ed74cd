// Package consumer drains the turn queue: each worker leases a turn,
// routes it to capability agents, runs the plan, and either marks the
// turn processed or requeues it with exponential backoff.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turnpikehq/turnpike/internal/bus"
	"github.com/turnpikehq/turnpike/internal/orchestrator"
	"github.com/turnpikehq/turnpike/internal/queue"
	"github.com/turnpikehq/turnpike/internal/runs"
	"github.com/turnpikehq/turnpike/internal/store"
)

const (
	DefaultBackoffBase = 2 * time.Second
	DefaultBackoffCap  = 5 * time.Minute
	DefaultMaxAttempts = 5

	// defaultIdlePoll bounds how long a worker sleeps when the queue gives
	// no wake hint, so items requeued by another process are still picked up.
	defaultIdlePoll = 2 * time.Second
)

// ErrPreempted is the cancellation cause when a newer inbound message
// aborts the chat's in-flight run.
var ErrPreempted = errors.New("preempted by newer inbound message")

// Config wires a Consumer.
type Config struct {
	Queue     *queue.Queue
	Router    *orchestrator.Router
	Runner    *orchestrator.Runner
	Runs      *runs.Registry
	Dedupe    *bus.DedupeCache
	Publisher bus.Publisher

	Workers     int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxAttempts int

	// DefaultAgentID handles turns whose session key names an unknown agent.
	DefaultAgentID string

	// PreemptOnInbound aborts a chat's in-flight run when a fresh message
	// for the same chat arrives.
	PreemptOnInbound bool
}

// Consumer runs the worker loop and accepts inbound messages.
type Consumer struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Dedupe == nil {
		cfg.Dedupe = bus.NewDedupeCache(0, 0)
	}
	return &Consumer{cfg: cfg, now: time.Now}
}

// Submit is the ingress path for one inbound message. Duplicates within
// the dedupe window are dropped before anything else runs. Control
// commands short-circuit; everything else becomes a durable turn.
func (c *Consumer) Submit(msg bus.InboundMessage) error {
	if c.cfg.Dedupe.ShouldSkip(msg.ChatID, msg.MessageID) {
		slog.Debug("inbound: duplicate skipped", "chat", msg.ChatID, "message_id", msg.MessageID)
		return nil
	}

	if cmd := msg.Metadata["command"]; cmd == "stop" {
		return c.handleStop(msg)
	}

	if c.cfg.PreemptOnInbound && c.cfg.Runs != nil {
		if c.cfg.Runs.Abort(msg.ChatID, ErrPreempted) {
			slog.Info("inbound: preempted in-flight run", "chat", msg.ChatID)
		}
	}

	agentID := msg.AgentID
	if agentID == "" {
		agentID = c.cfg.DefaultAgentID
	}
	kind := msg.ChatKind
	if kind == "" {
		kind = store.ChatPrivate
	}

	item := store.TurnItem{
		ID:         inboundTurnID(msg),
		SessionKey: queue.BuildSessionKey(agentID, msg.Channel, kind, msg.ChatID),
		ChatID:     msg.ChatID,
		ChatKind:   kind,
		Text:       msg.Content,
		Kind:       store.TurnFollowup,
		Meta: map[string]string{
			"channel": msg.Channel,
			"user_id": msg.UserID,
		},
	}
	skipped, err := c.cfg.Queue.Enqueue(item)
	if err != nil {
		return fmt.Errorf("enqueue inbound turn: %w", err)
	}
	if skipped {
		slog.Debug("inbound: turn already queued", "id", item.ID)
	}
	return nil
}

// handleStop aborts the chat's in-flight run and clears its queued
// follow-ups, then reports what happened back to the transport.
func (c *Consumer) handleStop(msg bus.InboundMessage) error {
	aborted := false
	if c.cfg.Runs != nil {
		aborted = c.cfg.Runs.Abort(msg.ChatID, errors.New("stopped by user"))
	}

	agentID := msg.AgentID
	if agentID == "" {
		agentID = c.cfg.DefaultAgentID
	}
	kind := msg.ChatKind
	if kind == "" {
		kind = store.ChatPrivate
	}
	sessionKey := queue.BuildSessionKey(agentID, msg.Channel, kind, msg.ChatID)
	removed, err := c.cfg.Queue.ClearBySessionAndKind(sessionKey, []store.TurnKind{store.TurnFollowup, store.TurnSubagent})
	if err != nil {
		return fmt.Errorf("clear session turns: %w", err)
	}
	slog.Info("inbound: stop command", "chat", msg.ChatID, "aborted", aborted, "cleared", removed)

	if c.cfg.Publisher != nil {
		feedback := "No active task to stop."
		if aborted || removed > 0 {
			feedback = "Task stopped."
		}
		c.cfg.Publisher.PublishOutbound(bus.OutboundMessage{
			Channel:  msg.Channel,
			ChatID:   msg.ChatID,
			Content:  feedback,
			Metadata: msg.Metadata,
		})
	}
	return nil
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("consumer started", "workers", c.cfg.Workers)
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < c.cfg.Workers; w++ {
		g.Go(func() error {
			c.workerLoop(ctx)
			return nil
		})
	}
	err := g.Wait()
	slog.Info("consumer stopped")
	return err
}

func (c *Consumer) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		item, wake, err := c.cfg.Queue.Dequeue()
		if err != nil {
			slog.Error("consumer: dequeue failed", "error", err)
			if !sleep(ctx, defaultIdlePoll) {
				return
			}
			continue
		}
		if item == nil {
			d := defaultIdlePoll
			if wake != nil {
				if until := time.Until(*wake); until < d {
					d = until
				}
			}
			if !sleep(ctx, d) {
				return
			}
			continue
		}
		c.processTurn(ctx, *item)
	}
}

// processTurn runs one leased turn end to end. Terminal outcomes mark the
// turn processed; transient failures requeue it with backoff until the
// attempt budget is spent.
func (c *Consumer) processTurn(ctx context.Context, item store.TurnItem) {
	var runCtx context.Context = ctx
	var tok *runs.Token
	if c.cfg.Runs != nil {
		tok = c.cfg.Runs.Register(ctx, item.ChatID)
		runCtx = tok.Context()
		defer c.cfg.Runs.Clear(item.ChatID, tok)
	}

	reply, err := c.runTurn(runCtx, item)

	switch {
	case err == nil:
		c.publishReply(item, reply)
		c.finish(item)

	case runCtx.Err() != nil && ctx.Err() == nil:
		// The run itself was aborted (stop command or preemption) while the
		// consumer keeps going. The superseding message owns the chat now;
		// retrying the cancelled turn would replay a stale request.
		slog.Info("consumer: turn cancelled", "id", item.ID, "chat", item.ChatID,
			"cause", context.Cause(runCtx))
		c.finish(item)

	case ctx.Err() != nil:
		// Shutdown. Leave the lease to expire so the turn redelivers on the
		// next start.
		slog.Debug("consumer: shutdown during turn", "id", item.ID)

	default:
		c.retryOrDrop(item, err)
	}
}

func (c *Consumer) runTurn(ctx context.Context, item store.TurnItem) (string, error) {
	flags := orchestrator.ContextFlags{Surface: string(item.ChatKind)}
	plan := c.cfg.Router.Route(ctx, item.Text, flags)
	if len(plan) == 0 {
		if c.cfg.DefaultAgentID == "" {
			slog.Info("consumer: no capability matched", "id", item.ID, "chat", item.ChatID)
			return "", nil
		}
		// No rule or classifier claimed the request; the default agent takes it.
		plan = orchestrator.Plan{{AgentID: c.cfg.DefaultAgentID, Reason: "default"}}
	}

	res, err := c.cfg.Runner.Run(ctx, plan, orchestrator.RunInput{
		Prompt:  item.Text,
		ChatID:  item.ChatID,
		UserID:  item.Meta["user_id"],
		Surface: item.ChatKind,
	})
	if err != nil {
		return "", err
	}
	if len(res.Agents) == 0 && len(res.Failed) > 0 {
		// Every planned agent failed; treat as transient so the turn retries.
		return "", fmt.Errorf("all %d agents failed (first: %s)", len(res.Failed), res.Failed[0].Err)
	}

	var reply string
	for _, a := range res.Agents {
		if a.Text == "" {
			continue
		}
		if reply != "" {
			reply += "\n\n"
		}
		reply += a.Text
	}
	return reply, nil
}

func (c *Consumer) publishReply(item store.TurnItem, reply string) {
	if c.cfg.Publisher == nil || reply == "" {
		return
	}
	c.cfg.Publisher.PublishOutbound(bus.OutboundMessage{
		Channel: item.Meta["channel"],
		ChatID:  item.ChatID,
		Content: reply,
	})
}

func (c *Consumer) finish(item store.TurnItem) {
	if err := c.cfg.Queue.MarkProcessed(item.ID); err != nil {
		// The lease still guards against immediate redelivery; the ledger
		// catches the duplicate if it comes back later.
		slog.Error("consumer: mark processed failed", "id", item.ID, "error", err)
	}
}

func (c *Consumer) retryOrDrop(item store.TurnItem, cause error) {
	attempt := item.Attempt + 1
	if attempt >= c.cfg.MaxAttempts {
		slog.Error("consumer: turn failed permanently",
			"id", item.ID, "chat", item.ChatID, "attempts", attempt, "error", cause)
		c.publishReply(item, "Sorry, that request kept failing and was dropped.")
		c.finish(item)
		return
	}

	nextAt := c.now().Add(c.backoff(attempt))
	if err := c.cfg.Queue.Requeue(item, attempt, nextAt); err != nil {
		slog.Error("consumer: requeue failed", "id", item.ID, "error", err)
		return
	}
	slog.Warn("consumer: turn requeued",
		"id", item.ID, "attempt", attempt, "next_at", nextAt, "error", cause)
}

// backoff is base*2^(attempt-1) capped, with up to 20% jitter so retries
// from simultaneous failures spread out.
func (c *Consumer) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffBase
	for i := 1; i < attempt && d < c.cfg.BackoffCap; i++ {
		d *= 2
	}
	if d > c.cfg.BackoffCap {
		d = c.cfg.BackoffCap
	}
	return d + rand.N(d/5+1)
}

// inboundTurnID derives a stable turn id from the transport message id so
// redelivered webhooks dedupe in the queue as well. Transports that give
// no id get a timestamp id, which only the dedupe cache can catch.
func inboundTurnID(msg bus.InboundMessage) string {
	if msg.MessageID != "" {
		return fmt.Sprintf("inbound-%s-%s-%s", msg.Channel, msg.ChatID, msg.MessageID)
	}
	return fmt.Sprintf("inbound-%s-%s-%d", msg.Channel, msg.ChatID, time.Now().UnixNano())
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
