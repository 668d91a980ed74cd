// Package cron turns schedule expressions into queued turns. Each firing
// enqueues a TurnItem whose id embeds the due time, so a restart that
// replays a firing is absorbed by the queue's duplicate check instead of
// running the job twice.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/turnpikehq/turnpike/internal/queue"
	"github.com/turnpikehq/turnpike/internal/store"
)

// Job is one scheduled producer.
type Job struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Schedule string `json:"schedule"` // standard cron expression
	AgentID  string `json:"agentId,omitempty"`
	Message  string `json:"message"`
	Channel  string `json:"channel,omitempty"` // delivery channel, empty = no delivery
	ChatID   string `json:"chatId,omitempty"`  // delivery target
}

// Scheduler enqueues turns for due jobs.
type Scheduler struct {
	q    *queue.Queue
	jobs []Job
	now  func() time.Time
}

// NewScheduler validates every job's expression up front; a bad
// expression is a config error, not something to discover at 3am.
func NewScheduler(q *queue.Queue, jobs []Job, defaultAgentID string) (*Scheduler, error) {
	g := gronx.New()
	for i := range jobs {
		if jobs[i].ID == "" {
			return nil, fmt.Errorf("cron job %d: missing id", i)
		}
		if !g.IsValid(jobs[i].Schedule) {
			return nil, fmt.Errorf("cron job %s: invalid schedule %q", jobs[i].ID, jobs[i].Schedule)
		}
		if jobs[i].AgentID == "" {
			jobs[i].AgentID = defaultAgentID
		}
	}
	return &Scheduler{q: q, jobs: jobs, now: time.Now}, nil
}

// Run blocks until ctx is cancelled, sleeping until the earliest due job
// and enqueuing every job due at that instant.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.jobs) == 0 {
		<-ctx.Done()
		return nil
	}
	slog.Info("cron scheduler started", "jobs", len(s.jobs))

	for {
		now := s.now()
		next, due := s.nextDue(now)
		if next.IsZero() {
			slog.Warn("cron: no job has a future firing, scheduler idle")
			<-ctx.Done()
			return nil
		}

		t := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			t.Stop()
			slog.Info("cron scheduler stopped")
			return nil
		case <-t.C:
		}

		for _, job := range due {
			s.fire(job, next)
		}
	}
}

// nextDue returns the earliest future firing across all jobs and the jobs
// that fire at that instant.
func (s *Scheduler) nextDue(now time.Time) (time.Time, []Job) {
	var next time.Time
	var due []Job
	for _, job := range s.jobs {
		tick, err := gronx.NextTickAfter(job.Schedule, now, false)
		if err != nil {
			slog.Error("cron: next tick failed", "job", job.ID, "error", err)
			continue
		}
		switch {
		case next.IsZero() || tick.Before(next):
			next = tick
			due = []Job{job}
		case tick.Equal(next):
			due = append(due, job)
		}
	}
	return next, due
}

func (s *Scheduler) fire(job Job, at time.Time) {
	item := store.TurnItem{
		ID:         fmt.Sprintf("cron-%s-%d", job.ID, at.Unix()),
		SessionKey: queue.BuildCronSessionKey(job.AgentID, job.ID),
		ChatID:     job.ChatID,
		ChatKind:   store.ChatPrivate,
		Text:       job.Message,
		Kind:       store.TurnTask,
		NextAt:     at,
		Meta: map[string]string{
			"channel":  job.Channel,
			"cron_job": job.ID,
		},
	}
	if item.ChatID == "" {
		item.ChatID = "cron:" + job.ID
	}

	skipped, err := s.q.Enqueue(item)
	if err != nil {
		slog.Error("cron: enqueue failed", "job", job.ID, "error", err)
		return
	}
	if skipped {
		slog.Debug("cron: firing already enqueued", "job", job.ID, "at", at)
		return
	}
	slog.Info("cron: job fired", "job", job.ID, "at", at, "agent", job.AgentID)
}
