package governance

import (
	"log/slog"
	"sync"
	"time"

	"github.com/turnpikehq/turnpike/internal/store"
)

// Rejection reasons, machine-readable.
const (
	ReasonPolicyBlocked    = "policy_blocked"
	ReasonApprovalRequired = "approval_required"
	ReasonRateLimited      = "rate_limited"
)

// Decision is the outcome of one authorization check.
type Decision struct {
	Allowed bool
	Reason  string // empty when allowed, Reason* constant otherwise
	ResetMs int64  // for rate_limited: milliseconds until the window clears
}

// Request identifies one tool invocation to authorize.
type Request struct {
	Tool    string
	ChatID  string
	UserID  string
	Surface store.ChatKind // selects the per-surface policy scope
}

// Config is the policy surface of the engine. It is swapped atomically on
// config reload.
type Config struct {
	Global    Policy                    `json:"global,omitempty"`
	Surfaces  map[store.ChatKind]Policy `json:"surfaces,omitempty"` // "private", "group", "broadcast"
	Chats     map[string]Policy         `json:"chats,omitempty"`
	Users     map[string]Policy         `json:"users,omitempty"` // per-sender overrides
	RateRules map[string]RateRule       `json:"rateRules,omitempty"`

	// RequireApproval lists tools gated on an operator approval per chat.
	RequireApproval []string      `json:"requireApproval,omitempty"`
	ApprovalTTL     time.Duration `json:"-"`
}

// Engine evaluates tool authorization for every call in the process.
type Engine struct {
	mu              sync.RWMutex
	global          Policy
	surfaces        map[store.ChatKind]Policy
	chats           map[string]Policy
	users           map[string]Policy
	requireApproval map[string]bool

	approvals *approvalStore
	limiter   *rateLimiter
	now       func() time.Time
}

func NewEngine(cfg Config) *Engine {
	now := time.Now
	e := &Engine{
		approvals: newApprovalStore(cfg.ApprovalTTL, now),
		limiter:   newRateLimiter(cfg.RateRules, now),
		now:       now,
	}
	e.apply(cfg)
	return e
}

func (e *Engine) apply(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.global = cfg.Global
	e.surfaces = cfg.Surfaces
	e.chats = cfg.Chats
	e.users = cfg.Users
	e.requireApproval = make(map[string]bool, len(cfg.RequireApproval))
	for _, t := range cfg.RequireApproval {
		e.requireApproval[t] = true
	}
}

// UpdateConfig swaps the policy surface in place. Approvals and rate
// windows already accumulated are kept.
func (e *Engine) UpdateConfig(cfg Config) {
	e.apply(cfg)
	e.limiter.setRules(cfg.RateRules)
	slog.Info("governance: policy updated",
		"surfaces", len(cfg.Surfaces), "chats", len(cfg.Chats),
		"users", len(cfg.Users), "rate_rules", len(cfg.RateRules),
		"require_approval", len(cfg.RequireApproval))
}

// Authorize runs the evaluation pipeline; the first rejection wins:
// merged scope policy, then sender-specific overrides, then the approval
// gate, then the rate limit. Every decision is logged for audit.
func (e *Engine) Authorize(req Request) Decision {
	start := e.now()
	d := e.evaluate(req)

	attrs := []any{
		"tool", req.Tool, "chat", req.ChatID, "user", req.UserID,
		"surface", req.Surface, "elapsed", time.Since(start),
	}
	if d.Allowed {
		slog.Debug("governance: tool allowed", attrs...)
	} else {
		attrs = append(attrs, "reason", d.Reason)
		if d.ResetMs > 0 {
			attrs = append(attrs, "reset_ms", d.ResetMs)
		}
		slog.Info("governance: tool blocked", attrs...)
	}
	return d
}

func (e *Engine) evaluate(req Request) Decision {
	e.mu.RLock()
	scopes := []Policy{e.global}
	if p, ok := e.surfaces[req.Surface]; ok {
		scopes = append(scopes, p)
	}
	if p, ok := e.chats[req.ChatID]; ok {
		scopes = append(scopes, p)
	}
	userOverride, hasUserOverride := e.users[req.UserID]
	needsApproval := e.requireApproval[req.Tool]
	e.mu.RUnlock()

	merged := MergePolicies(scopes...)
	allowed := merged.Allows(req.Tool)

	// Sender-specific override: an explicit per-user entry beats the
	// general allow-narrowing for that sender only. A scope deny is never
	// overridden, and the override's own deny blocks as well.
	if hasUserOverride {
		if listed(userOverride.Deny, req.Tool) {
			allowed = false
		} else if listed(userOverride.Allow, req.Tool) && !merged.Denies(req.Tool) {
			allowed = true
		}
	}
	if !allowed {
		return Decision{Reason: ReasonPolicyBlocked}
	}

	if needsApproval && !e.approvals.valid(req.ChatID, req.Tool) {
		return Decision{Reason: ReasonApprovalRequired}
	}

	key := req.Tool + "|" + req.ChatID + "|" + req.UserID
	if ok, resetMs := e.limiter.allow(req.Tool, key); !ok {
		return Decision{Reason: ReasonRateLimited, ResetMs: resetMs}
	}

	return Decision{Allowed: true}
}

// RecordApproval installs or refreshes the one-time operator approval for
// (chatID, tool) with the configured TTL.
func (e *Engine) RecordApproval(chatID, tool string) {
	expires := e.approvals.record(chatID, tool)
	slog.Info("governance: approval recorded", "chat", chatID, "tool", tool, "expires", expires)
}

func listed(list []string, tool string) bool {
	for _, t := range list {
		if t == tool {
			return true
		}
	}
	return false
}
