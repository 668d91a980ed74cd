// Package queue implements the durable, at-least-once turn queue.
//
// All state lives in one QueueState blob guarded by a single mutex, so
// every read-modify-write (notably the Dequeue lease grab) is indivisible.
// Each mutation is persisted through the QueueStore before it is
// acknowledged; a version conflict from another process triggers one
// reload-and-reapply pass.
package queue

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/turnpikehq/turnpike/internal/store"
)

const (
	// DefaultLease is how long a dequeued item stays invisible to other
	// consumers before it becomes eligible again.
	DefaultLease = 60 * time.Second

	// DefaultLedgerCap bounds the processed-id ledger. Ids older than the
	// cap are forgotten, so an extremely old duplicate could re-process;
	// accepted trade-off for bounded memory within normal retention.
	DefaultLedgerCap = 2000
)

// ValidationError reports a rejected Enqueue. No state was changed.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("turn item missing required field %q", e.Field)
}

// Options configure a Queue.
type Options struct {
	Lease     time.Duration
	LedgerCap int
	Now       func() time.Time // test hook
}

// Queue is the turn queue over a QueueStore.
type Queue struct {
	mu        sync.Mutex
	store     store.QueueStore
	state     *store.QueueState
	lease     time.Duration
	ledgerCap int
	now       func() time.Time
}

func New(st store.QueueStore, opts Options) (*Queue, error) {
	state, err := st.Load()
	if err != nil {
		return nil, fmt.Errorf("load queue state: %w", err)
	}
	if opts.Lease <= 0 {
		opts.Lease = DefaultLease
	}
	if opts.LedgerCap <= 0 {
		opts.LedgerCap = DefaultLedgerCap
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{
		store:     st,
		state:     state,
		lease:     opts.Lease,
		ledgerCap: opts.LedgerCap,
		now:       opts.Now,
	}, nil
}

// persist runs apply against the in-memory state and saves when apply
// reports a change. On a version conflict the state is reloaded and apply
// re-runs once against the fresh copy. Must be called with q.mu held.
func (q *Queue) persist(apply func(*store.QueueState) (changed bool, err error)) error {
	changed, err := apply(q.state)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	saveErr := q.store.Save(q.state)
	if saveErr == nil {
		q.state.Version++
		return nil
	}
	if saveErr != store.ErrConflict {
		// In-memory state may have diverged from storage; resync so the
		// failed mutation is not silently kept.
		if fresh, loadErr := q.store.Load(); loadErr == nil {
			q.state = fresh
		}
		return saveErr
	}

	fresh, loadErr := q.store.Load()
	if loadErr != nil {
		return fmt.Errorf("reload after conflict: %w", loadErr)
	}
	q.state = fresh
	if changed, err = apply(q.state); err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := q.store.Save(q.state); err != nil {
		return fmt.Errorf("save after conflict: %w", err)
	}
	q.state.Version++
	return nil
}

// Enqueue adds an item unless its id is already pending or already in the
// processed ledger, which makes enqueue idempotent for at-least-once
// producers. Returns skipped=true for those duplicates.
func (q *Queue) Enqueue(item store.TurnItem) (skipped bool, err error) {
	switch {
	case item.ID == "":
		return false, &ValidationError{Field: "id"}
	case item.SessionKey == "":
		return false, &ValidationError{Field: "sessionKey"}
	case item.ChatID == "":
		return false, &ValidationError{Field: "chatId"}
	case item.Text == "":
		return false, &ValidationError{Field: "text"}
	}

	now := q.now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.NextAt.IsZero() {
		item.NextAt = now
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	err = q.persist(func(s *store.QueueState) (bool, error) {
		if indexByID(s.Pending, item.ID) >= 0 || contains(s.Processed, item.ID) {
			skipped = true
			return false, nil
		}
		skipped = false
		s.Pending = append(s.Pending, item)
		return true, nil
	})
	if err != nil {
		return false, err
	}
	if skipped {
		slog.Debug("queue: duplicate enqueue skipped", "id", item.ID, "session", item.SessionKey)
	} else {
		slog.Debug("queue: enqueued", "id", item.ID, "session", item.SessionKey, "kind", item.Kind, "next_at", item.NextAt)
	}
	return skipped, nil
}

// Dequeue leases the eligible item with the smallest NextAt. When nothing
// is eligible it returns (nil, wake, nil) where wake is the earliest
// future NextAt across all items, or nil when the queue is empty, so the
// caller can sleep precisely instead of busy-polling.
func (q *Queue) Dequeue() (*store.TurnItem, *time.Time, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var leased *store.TurnItem
	var wake *time.Time

	err := q.persist(func(s *store.QueueState) (bool, error) {
		leased = nil
		wake = nil
		best := -1
		for i := range s.Pending {
			it := &s.Pending[i]
			locked := it.LockedUntil.After(now)
			if it.NextAt.After(now) || locked {
				// Track the earliest moment anything could become eligible.
				candidate := it.NextAt
				if locked && it.LockedUntil.After(candidate) {
					candidate = it.LockedUntil
				}
				if candidate.After(now) && (wake == nil || candidate.Before(*wake)) {
					c := candidate
					wake = &c
				}
				continue
			}
			if best < 0 || it.NextAt.Before(s.Pending[best].NextAt) {
				best = i
			}
		}
		if best < 0 {
			return false, nil
		}
		s.Pending[best].LockedUntil = now.Add(q.lease)
		item := s.Pending[best]
		leased = &item
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if leased != nil {
		slog.Debug("queue: leased", "id", leased.ID, "session", leased.SessionKey, "attempt", leased.Attempt, "locked_until", leased.LockedUntil)
	}
	return leased, wake, nil
}

// Requeue clears the lease and schedules the item for a later attempt.
// If the item is no longer pending (for example the state blob was
// recovered without it) it is re-inserted from the caller's copy. The
// caller computes nextAt with its own backoff policy.
func (q *Queue) Requeue(item store.TurnItem, attempt int, nextAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	err := q.persist(func(s *store.QueueState) (bool, error) {
		i := indexByID(s.Pending, item.ID)
		if i < 0 {
			item.Attempt = attempt
			item.NextAt = nextAt
			item.LockedUntil = time.Time{}
			s.Pending = append(s.Pending, item)
			return true, nil
		}
		if s.Pending[i].SessionKey != item.SessionKey {
			return false, fmt.Errorf("requeue %s: session key mismatch", item.ID)
		}
		s.Pending[i].Attempt = attempt
		s.Pending[i].NextAt = nextAt
		s.Pending[i].LockedUntil = time.Time{}
		return true, nil
	})
	if err != nil {
		return err
	}
	slog.Debug("queue: requeued", "id", item.ID, "attempt", attempt, "next_at", nextAt)
	return nil
}

// MarkProcessed removes the item from pending and records its id in the
// capped ledger. Both updates happen in one Save so there is no window
// where the id is neither pending nor remembered.
func (q *Queue) MarkProcessed(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.persist(func(s *store.QueueState) (bool, error) {
		if i := indexByID(s.Pending, id); i >= 0 {
			s.Pending = append(s.Pending[:i], s.Pending[i+1:]...)
		}
		if !contains(s.Processed, id) {
			s.Processed = append(s.Processed, id)
		}
		if over := len(s.Processed) - q.ledgerCap; over > 0 {
			s.Processed = append([]string(nil), s.Processed[over:]...)
		}
		return true, nil
	})
}

// ClearBySessionAndKind drops pending items for a session whose kind is in
// kinds (all kinds when empty). Used when a conversation resets and its
// stale follow-ups should not fire.
func (q *Queue) ClearBySessionAndKind(sessionKey string, kinds []store.TurnKind) (int, error) {
	kindSet := make(map[store.TurnKind]bool, len(kinds))
	for _, k := range kinds {
		kindSet[k] = true
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	err := q.persist(func(s *store.QueueState) (bool, error) {
		removed = 0
		kept := s.Pending[:0]
		for _, it := range s.Pending {
			if it.SessionKey == sessionKey && (len(kindSet) == 0 || kindSet[it.Kind]) {
				removed++
				continue
			}
			kept = append(kept, it)
		}
		s.Pending = kept
		return removed > 0, nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		slog.Info("queue: cleared pending turns", "session", sessionKey, "removed", removed)
	}
	return removed, nil
}

// ListPending returns a read-only snapshot of up to limit pending items
// (all of them when limit <= 0).
func (q *Queue) ListPending(limit int) []store.TurnItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.state.Pending)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]store.TurnItem, n)
	copy(out, q.state.Pending[:n])
	return out
}

func indexByID(items []store.TurnItem, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
