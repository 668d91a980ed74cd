package store

import (
	"encoding/json"
	"errors"
	"time"
)

// ChatKind distinguishes conversation surfaces for policy scoping.
type ChatKind string

const (
	ChatPrivate   ChatKind = "private"
	ChatGroup     ChatKind = "group"
	ChatBroadcast ChatKind = "broadcast"
)

// TurnKind classifies why a turn was queued.
type TurnKind string

const (
	TurnSystem   TurnKind = "system"
	TurnHook     TurnKind = "hook"
	TurnFollowup TurnKind = "followup"
	TurnAnnounce TurnKind = "announce"
	TurnSubagent TurnKind = "subagent"
	TurnTask     TurnKind = "task"
)

// TurnItem is one unit of deferred conversational work.
type TurnItem struct {
	ID         string   `json:"id"`
	SessionKey string   `json:"sessionKey"`
	ChatID     string   `json:"chatId"`
	ChatKind   ChatKind `json:"chatKind,omitempty"`
	Text       string   `json:"text"`
	Kind       TurnKind `json:"kind,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	NextAt    time.Time `json:"nextAt"`
	Attempt   int       `json:"attempt,omitempty"`

	// LockedUntil is the visibility-timeout deadline while a consumer holds
	// the lease. A zero or past value means the item is eligible again.
	LockedUntil time.Time `json:"lockedUntil,omitempty"`

	// ChannelConfig is passed through untouched to whatever delivers the reply.
	ChannelConfig json.RawMessage   `json:"channelConfig,omitempty"`
	TurnDepth     int               `json:"turnDepth,omitempty"`
	Meta          map[string]string `json:"meta,omitempty"`
}

// QueueState is the whole queue persisted as one versioned blob.
// Pending and the processed-id ledger live together so MarkProcessed can
// move an id between them in a single write.
type QueueState struct {
	Version   int64      `json:"version"`
	Pending   []TurnItem `json:"pending"`
	Processed []string   `json:"processed"`
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (s *QueueState) Clone() *QueueState {
	c := &QueueState{
		Version:   s.Version,
		Pending:   make([]TurnItem, len(s.Pending)),
		Processed: append([]string(nil), s.Processed...),
	}
	copy(c.Pending, s.Pending)
	for i := range c.Pending {
		if m := c.Pending[i].Meta; m != nil {
			cp := make(map[string]string, len(m))
			for k, v := range m {
				cp[k] = v
			}
			c.Pending[i].Meta = cp
		}
	}
	return c
}

// ErrConflict is returned by Save when another writer advanced the state
// version first. The caller reloads and reapplies its mutation.
var ErrConflict = errors.New("queue state version conflict")

// QueueStore is the storage boundary for the turn queue: atomic
// get-modify-put on one logical record. Save must reject writes whose
// base version no longer matches the stored one.
type QueueStore interface {
	Load() (*QueueState, error)
	Save(state *QueueState) error
	Close() error
}
