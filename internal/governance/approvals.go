package governance

import (
	"sync"
	"time"
)

// DefaultApprovalTTL is how long a recorded approval stays valid.
const DefaultApprovalTTL = 30 * time.Minute

type approvalKey struct {
	chatID string
	tool   string
}

// approvalStore holds one-time operator approvals per (chat, tool).
// Records are never auto-renewed; expired entries are evicted lazily on
// lookup.
type approvalStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	records map[approvalKey]time.Time // key → expiresAt
	now     func() time.Time
}

func newApprovalStore(ttl time.Duration, now func() time.Time) *approvalStore {
	if ttl <= 0 {
		ttl = DefaultApprovalTTL
	}
	return &approvalStore{
		ttl:     ttl,
		records: make(map[approvalKey]time.Time),
		now:     now,
	}
}

// record installs or refreshes the approval for (chatID, tool).
func (a *approvalStore) record(chatID, tool string) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	expires := a.now().Add(a.ttl)
	a.records[approvalKey{chatID: chatID, tool: tool}] = expires
	return expires
}

// valid reports whether a non-expired approval exists, evicting it when
// expired.
func (a *approvalStore) valid(chatID, tool string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := approvalKey{chatID: chatID, tool: tool}
	expires, ok := a.records[key]
	if !ok {
		return false
	}
	if !a.now().Before(expires) {
		delete(a.records, key)
		return false
	}
	return true
}
