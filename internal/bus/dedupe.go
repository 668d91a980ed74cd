package bus

import (
	"sync"
	"time"
)

const (
	// DefaultDedupeTTL is how long a seen message id is remembered.
	DefaultDedupeTTL = 20 * time.Minute

	// DefaultDedupeMaxPerChat caps the remembered ids per chat; the oldest
	// entries are evicted first once the cap is exceeded.
	DefaultDedupeMaxPerChat = 64
)

type dedupeEntry struct {
	messageID string
	seenAt    time.Time
}

// DedupeCache filters duplicate inbound deliveries (webhook retries,
// double-taps, poll overlap) with a bounded per-chat TTL window.
// Safe for concurrent use.
type DedupeCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxPerChat int
	chats      map[string][]dedupeEntry
	now        func() time.Time
}

func NewDedupeCache(ttl time.Duration, maxPerChat int) *DedupeCache {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	if maxPerChat <= 0 {
		maxPerChat = DefaultDedupeMaxPerChat
	}
	return &DedupeCache{
		ttl:        ttl,
		maxPerChat: maxPerChat,
		chats:      make(map[string][]dedupeEntry),
		now:        time.Now,
	}
}

// ShouldSkip reports whether (chatID, messageID) was already seen within
// the window. A fresh id is recorded and returns false.
func (d *DedupeCache) ShouldSkip(chatID, messageID string) bool {
	if messageID == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	entries := d.chats[chatID]

	// Drop expired entries first, then the oldest beyond the cap. Entries
	// are appended in arrival order so the slice is already oldest-first.
	kept := entries[:0]
	for _, e := range entries {
		if now.Sub(e.seenAt) < d.ttl {
			kept = append(kept, e)
		}
	}
	if over := len(kept) - d.maxPerChat; over > 0 {
		kept = kept[over:]
	}

	if len(kept) == 0 {
		delete(d.chats, chatID)
	}

	for _, e := range kept {
		if e.messageID == messageID {
			d.chats[chatID] = kept
			return true
		}
	}

	kept = append(kept, dedupeEntry{messageID: messageID, seenAt: now})
	d.chats[chatID] = kept
	return false
}

// Len reports the number of remembered ids for a chat. Test helper.
func (d *DedupeCache) Len(chatID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.chats[chatID])
}
