package governance

import (
	"sync"
	"time"
)

const (
	// maxTrackedKeys caps the number of tracked rate-limit keys so rotating
	// chat/user ids cannot exhaust memory.
	maxTrackedKeys = 4096
)

// RateRule limits one tool to Max calls per WindowSeconds.
type RateRule struct {
	Max           int `json:"max"`
	WindowSeconds int `json:"windowSeconds"`
}

type rateEntry struct {
	windowStart time.Time
	count       int
}

// rateLimiter tracks sliding windows per (tool, chat, user) key. The
// check-and-increment is a single step under the mutex, so concurrent tool
// calls never slip past the limit through a read-then-write gap.
type rateLimiter struct {
	mu      sync.Mutex
	rules   map[string]RateRule
	entries map[string]*rateEntry
	now     func() time.Time
}

func newRateLimiter(rules map[string]RateRule, now func() time.Time) *rateLimiter {
	return &rateLimiter{
		rules:   rules,
		entries: make(map[string]*rateEntry),
		now:     now,
	}
}

func (r *rateLimiter) setRules(rules map[string]RateRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = rules
}

// allow counts one call for key under the tool's rule. When the window is
// exhausted it returns ok=false plus the milliseconds until the window
// resets. Tools without a rule are unlimited.
func (r *rateLimiter) allow(tool, key string) (ok bool, resetMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, has := r.rules[tool]
	if !has || rule.Max <= 0 {
		return true, 0
	}
	window := time.Duration(rule.WindowSeconds) * time.Second
	now := r.now()

	// Prune stale entries when approaching the cap, then hard-evict.
	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= window {
				delete(r.entries, k)
			}
		}
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, okE := r.entries[key]
	if !okE || now.Sub(e.windowStart) >= window {
		r.entries[key] = &rateEntry{windowStart: now, count: 1}
		return true, 0
	}
	if e.count >= rule.Max {
		reset := e.windowStart.Add(window).Sub(now).Milliseconds()
		if reset < 1 {
			reset = 1
		}
		return false, reset
	}
	e.count++
	return true, 0
}
