package cron

import (
	"fmt"
	"testing"
	"time"

	"github.com/turnpikehq/turnpike/internal/queue"
	"github.com/turnpikehq/turnpike/internal/store"
)

func newTestScheduler(t *testing.T, jobs []Job) *Scheduler {
	t.Helper()
	q, err := queue.New(store.NewMemoryQueueStore(), queue.Options{})
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewScheduler(q, jobs, "general")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNewSchedulerValidation(t *testing.T) {
	q, err := queue.New(store.NewMemoryQueueStore(), queue.Options{})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		jobs []Job
	}{
		{"missing id", []Job{{Schedule: "* * * * *", Message: "hi"}}},
		{"invalid schedule", []Job{{ID: "j1", Schedule: "not a cron", Message: "hi"}}},
		{"bad job after good one", []Job{
			{ID: "ok", Schedule: "0 * * * *", Message: "hi"},
			{ID: "bad", Schedule: "99 * * * *", Message: "hi"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewScheduler(q, tt.jobs, "general"); err == nil {
				t.Error("expected constructor error")
			}
		})
	}
}

func TestNewSchedulerFillsDefaultAgent(t *testing.T) {
	s := newTestScheduler(t, []Job{
		{ID: "report", Schedule: "0 9 * * *", Message: "daily report"},
		{ID: "ops", Schedule: "0 9 * * *", AgentID: "ops", Message: "check"},
	})
	if s.jobs[0].AgentID != "general" {
		t.Errorf("AgentID = %q, want default filled in", s.jobs[0].AgentID)
	}
	if s.jobs[1].AgentID != "ops" {
		t.Errorf("AgentID = %q, want explicit value kept", s.jobs[1].AgentID)
	}
}

func TestNextDue(t *testing.T) {
	s := newTestScheduler(t, []Job{
		{ID: "hourly", Schedule: "0 * * * *", Message: "a"},
		{ID: "daily", Schedule: "0 9 * * *", Message: "b"},
		{ID: "also-hourly", Schedule: "0 * * * *", Message: "c"},
	})

	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	next, due := s.nextDue(now)

	want := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
	if len(due) != 2 || due[0].ID != "hourly" || due[1].ID != "also-hourly" {
		t.Errorf("due = %v, want both hourly jobs", due)
	}
}

func TestFireEnqueuesStableID(t *testing.T) {
	s := newTestScheduler(t, []Job{
		{ID: "report", Schedule: "0 9 * * *", Message: "daily report", Channel: "telegram", ChatID: "chat9"},
	})

	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.fire(s.jobs[0], at)

	pending := s.q.ListPending(10)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	item := pending[0]
	if want := fmt.Sprintf("cron-report-%d", at.Unix()); item.ID != want {
		t.Errorf("id = %q, want %q", item.ID, want)
	}
	if item.SessionKey != "agent:general:cron:report" {
		t.Errorf("session key = %q", item.SessionKey)
	}
	if item.Kind != store.TurnTask {
		t.Errorf("kind = %q, want task", item.Kind)
	}
	if item.Text != "daily report" || item.ChatID != "chat9" {
		t.Errorf("item = %+v", item)
	}
	if item.Meta["channel"] != "telegram" || item.Meta["cron_job"] != "report" {
		t.Errorf("meta = %v", item.Meta)
	}
}

func TestFireDuplicateAbsorbedByQueue(t *testing.T) {
	s := newTestScheduler(t, []Job{
		{ID: "report", Schedule: "0 9 * * *", Message: "daily report"},
	})

	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.fire(s.jobs[0], at)
	s.fire(s.jobs[0], at) // restart replay of the same firing

	if got := len(s.q.ListPending(10)); got != 1 {
		t.Errorf("pending = %d, want duplicate firing absorbed", got)
	}

	// A later firing has a different id and does enqueue.
	s.fire(s.jobs[0], at.Add(24*time.Hour))
	if got := len(s.q.ListPending(10)); got != 2 {
		t.Errorf("pending = %d, want 2 after next day's firing", got)
	}
}

func TestFireFallbackChatID(t *testing.T) {
	s := newTestScheduler(t, []Job{
		{ID: "sweep", Schedule: "*/5 * * * *", Message: "sweep"},
	})
	s.fire(s.jobs[0], time.Unix(1700000000, 0))

	pending := s.q.ListPending(1)
	if len(pending) != 1 || pending[0].ChatID != "cron:sweep" {
		t.Errorf("pending = %+v, want fallback chat id", pending)
	}
}
