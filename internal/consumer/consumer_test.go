package consumer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/turnpikehq/turnpike/internal/bus"
	"github.com/turnpikehq/turnpike/internal/governance"
	"github.com/turnpikehq/turnpike/internal/orchestrator"
	"github.com/turnpikehq/turnpike/internal/queue"
	"github.com/turnpikehq/turnpike/internal/runs"
	"github.com/turnpikehq/turnpike/internal/store"
)

type capturePublisher struct {
	mu   sync.Mutex
	msgs []bus.OutboundMessage
	ch   chan bus.OutboundMessage
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{ch: make(chan bus.OutboundMessage, 16)}
}

func (p *capturePublisher) PublishOutbound(msg bus.OutboundMessage) {
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
	p.ch <- msg
}

type scriptedAgent struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, task orchestrator.Task) (*orchestrator.AgentOutput, error)
}

func (a *scriptedAgent) ID() string { return "general" }
func (a *scriptedAgent) Execute(ctx context.Context, task orchestrator.Task) (*orchestrator.AgentOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.calls++
	n := a.calls
	a.mu.Unlock()
	return a.fn(n, task)
}

func newTestConsumer(t *testing.T, agent *scriptedAgent, pub bus.Publisher) (*Consumer, *queue.Queue) {
	t.Helper()
	q, err := queue.New(store.NewMemoryQueueStore(), queue.Options{})
	if err != nil {
		t.Fatal(err)
	}

	router := orchestrator.NewRouter(orchestrator.RouterConfig{
		Rules:    []orchestrator.Rule{{AgentID: "general", Keywords: []string{""}}},
		AgentIDs: []string{"general"},
	})
	runner := orchestrator.NewRunner(orchestrator.RunnerConfig{
		Resolver: func(id string) (orchestrator.Agent, error) {
			if id != "general" {
				return nil, errors.New("unknown agent")
			}
			return agent, nil
		},
		Governance: governance.NewEngine(governance.Config{}),
		Hooks:      governance.NopHooks{},
	})

	c := New(Config{
		Queue:            q,
		Router:           router,
		Runner:           runner,
		Runs:             runs.NewRegistry(),
		Dedupe:           bus.NewDedupeCache(time.Minute, 16),
		Publisher:        pub,
		Workers:          1,
		BackoffBase:      10 * time.Millisecond,
		BackoffCap:       50 * time.Millisecond,
		MaxAttempts:      3,
		DefaultAgentID:   "general",
		PreemptOnInbound: true,
	})
	return c, q
}

func inbound(messageID, text string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:   "telegram",
		SenderID:  "sender1",
		ChatID:    "chat1",
		ChatKind:  store.ChatPrivate,
		MessageID: messageID,
		Content:   text,
		UserID:    "user1",
	}
}

func TestSubmitEnqueuesTurn(t *testing.T) {
	agent := &scriptedAgent{fn: func(int, orchestrator.Task) (*orchestrator.AgentOutput, error) {
		return &orchestrator.AgentOutput{Text: "hi"}, nil
	}}
	c, q := newTestConsumer(t, agent, newCapturePublisher())

	if err := c.Submit(inbound("m1", "hello")); err != nil {
		t.Fatal(err)
	}
	pending := q.ListPending(0)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].ID != "inbound-telegram-chat1-m1" {
		t.Errorf("turn id = %q, want stable derived id", pending[0].ID)
	}
	if pending[0].SessionKey != "agent:general:telegram:private:chat1" {
		t.Errorf("session key = %q", pending[0].SessionKey)
	}
}

func TestSubmitDropsDuplicateDelivery(t *testing.T) {
	agent := &scriptedAgent{fn: func(int, orchestrator.Task) (*orchestrator.AgentOutput, error) {
		return &orchestrator.AgentOutput{Text: "hi"}, nil
	}}
	c, q := newTestConsumer(t, agent, newCapturePublisher())

	if err := c.Submit(inbound("m1", "hello")); err != nil {
		t.Fatal(err)
	}
	if err := c.Submit(inbound("m1", "hello")); err != nil {
		t.Fatal(err)
	}
	if got := len(q.ListPending(0)); got != 1 {
		t.Errorf("pending = %d, want duplicate dropped", got)
	}
}

func TestSubmitStopCommand(t *testing.T) {
	agent := &scriptedAgent{fn: func(int, orchestrator.Task) (*orchestrator.AgentOutput, error) {
		return &orchestrator.AgentOutput{Text: "hi"}, nil
	}}
	pub := newCapturePublisher()
	c, q := newTestConsumer(t, agent, pub)

	// Queue a follow-up, then stop the chat.
	if err := c.Submit(inbound("m1", "do something slow")); err != nil {
		t.Fatal(err)
	}
	stop := inbound("m2", "/stop")
	stop.Metadata = map[string]string{"command": "stop"}
	if err := c.Submit(stop); err != nil {
		t.Fatal(err)
	}

	if got := len(q.ListPending(0)); got != 0 {
		t.Errorf("pending = %d, want session cleared", got)
	}
	select {
	case msg := <-pub.ch:
		if !strings.Contains(msg.Content, "stopped") {
			t.Errorf("feedback = %q", msg.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("no stop feedback published")
	}
}

func TestRunProcessesTurnEndToEnd(t *testing.T) {
	agent := &scriptedAgent{fn: func(_ int, task orchestrator.Task) (*orchestrator.AgentOutput, error) {
		return &orchestrator.AgentOutput{Text: "echo: " + task.Prompt}, nil
	}}
	pub := newCapturePublisher()
	c, q := newTestConsumer(t, agent, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()

	if err := c.Submit(inbound("m1", "ping")); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-pub.ch:
		if msg.Content != "echo: ping" || msg.ChatID != "chat1" {
			t.Errorf("outbound = %+v", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reply published")
	}

	// The turn must leave pending and land in the ledger.
	deadline := time.Now().Add(2 * time.Second)
	for len(q.ListPending(0)) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("turn never marked processed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestRunRetriesThenDrops(t *testing.T) {
	agent := &scriptedAgent{fn: func(int, orchestrator.Task) (*orchestrator.AgentOutput, error) {
		return nil, errors.New("flaky upstream")
	}}
	pub := newCapturePublisher()
	c, q := newTestConsumer(t, agent, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	if err := c.Submit(inbound("m1", "ping")); err != nil {
		t.Fatal(err)
	}

	// MaxAttempts=3 with tiny backoff: expect the apology after the budget
	// is spent, and an empty queue afterwards.
	select {
	case msg := <-pub.ch:
		if !strings.Contains(msg.Content, "dropped") {
			t.Errorf("final message = %q", msg.Content)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("failing turn never dropped")
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(q.ListPending(0)) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("dropped turn still pending")
		}
		time.Sleep(10 * time.Millisecond)
	}
	agent.mu.Lock()
	calls := agent.calls
	agent.mu.Unlock()
	if calls != 3 {
		t.Errorf("agent attempts = %d, want MaxAttempts", calls)
	}
}

func TestRunTurnFallsBackToDefaultAgent(t *testing.T) {
	agent := &scriptedAgent{fn: func(_ int, task orchestrator.Task) (*orchestrator.AgentOutput, error) {
		return &orchestrator.AgentOutput{Text: "handled: " + task.Prompt}, nil
	}}
	c, _ := newTestConsumer(t, agent, newCapturePublisher())

	// No rule matches and no classifier is wired; the default agent takes it.
	c.cfg.Router = orchestrator.NewRouter(orchestrator.RouterConfig{
		AgentIDs: []string{"general"},
	})

	reply, err := c.runTurn(context.Background(), store.TurnItem{
		ID:       "t1",
		ChatID:   "chat1",
		ChatKind: store.ChatPrivate,
		Text:     "anything at all",
	})
	if err != nil {
		t.Fatal(err)
	}
	if reply != "handled: anything at all" {
		t.Errorf("reply = %q", reply)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	c := New(Config{BackoffBase: 2 * time.Second, BackoffCap: 10 * time.Second})

	prev := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		d := c.backoff(attempt)
		base := 2 * time.Second << (attempt - 1)
		if base > 10*time.Second {
			base = 10 * time.Second
		}
		if d < base || d > base+base/5+time.Millisecond {
			t.Errorf("attempt %d: backoff = %v, want within [%v, %v+20%%]", attempt, d, base, base)
		}
		if d+base/5 < prev {
			t.Errorf("attempt %d: backoff shrank: %v after %v", attempt, d, prev)
		}
		prev = d
	}
}
