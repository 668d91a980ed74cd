// Package config holds the process configuration: storage backend
// selection, queue tuning, routing rules, governance policy, budgets,
// and cron jobs. Files are JSON5 so operators can comment their config.
package config

import (
	"sync"
)

// Config is the root configuration document.
type Config struct {
	mu sync.RWMutex `json:"-"`

	LogLevel string `json:"logLevel,omitempty"` // debug, info, warn, error

	Storage    StorageConfig    `json:"storage"`
	Queue      QueueConfig      `json:"queue"`
	Dedupe     DedupeConfig     `json:"dedupe"`
	Consumer   ConsumerConfig   `json:"consumer"`
	Agents     AgentsConfig     `json:"agents"`
	Routing    RoutingConfig    `json:"routing"`
	Governance GovernanceConfig `json:"governance"`
	Cron       []CronJobConfig  `json:"cron,omitempty"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
}

// StorageConfig selects the queue state backend.
type StorageConfig struct {
	Backend string `json:"backend"` // memory, file, sqlite, postgres
	Path    string `json:"path,omitempty"`
	DSN     string `json:"dsn,omitempty"`
}

type QueueConfig struct {
	LeaseSeconds int `json:"leaseSeconds,omitempty"`
	LedgerCap    int `json:"ledgerCap,omitempty"`
}

type DedupeConfig struct {
	TTLMinutes int `json:"ttlMinutes,omitempty"`
	MaxPerChat int `json:"maxPerChat,omitempty"`
}

type ConsumerConfig struct {
	Workers          int  `json:"workers,omitempty"`
	BackoffBaseMs    int  `json:"backoffBaseMs,omitempty"`
	BackoffCapMs     int  `json:"backoffCapMs,omitempty"`
	MaxAttempts      int  `json:"maxAttempts,omitempty"`
	PreemptOnInbound bool `json:"preemptOnInbound,omitempty"`
}

// AgentSpec is one capability agent's budget overrides. Zero fields fall
// back to Defaults.
type AgentSpec struct {
	MaxSteps       int    `json:"maxSteps,omitempty"`
	MaxToolCalls   int    `json:"maxToolCalls,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
	Model          string `json:"model,omitempty"`
	Instructions   string `json:"instructions,omitempty"`
}

type AgentsConfig struct {
	Default     string               `json:"default,omitempty"` // fallback agent id
	Parallelism int                  `json:"parallelism,omitempty"`
	Defaults    AgentSpec            `json:"defaults"`
	List        map[string]AgentSpec `json:"list,omitempty"`
}

// RoutingRule maps prompt patterns to a capability agent.
type RoutingRule struct {
	Agent    string   `json:"agent"`
	Keywords []string `json:"keywords,omitempty"`
	Patterns []string `json:"patterns,omitempty"` // regular expressions
	Reason   string   `json:"reason,omitempty"`
}

type RoutingConfig struct {
	Rules []RoutingRule `json:"rules,omitempty"`
	Allow []string      `json:"allow,omitempty"`
	Deny  []string      `json:"deny,omitempty"`
}

// PolicyConfig is an allow/deny tool list for one governance scope.
type PolicyConfig struct {
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
}

type RateRuleConfig struct {
	Max           int `json:"max"`
	WindowSeconds int `json:"windowSeconds"`
}

type GovernanceConfig struct {
	Global             PolicyConfig              `json:"global,omitempty"`
	Surfaces           map[string]PolicyConfig   `json:"surfaces,omitempty"` // private, group, broadcast
	Chats              map[string]PolicyConfig   `json:"chats,omitempty"`
	Users              map[string]PolicyConfig   `json:"users,omitempty"`
	RateRules          map[string]RateRuleConfig `json:"rateRules,omitempty"`
	RequireApproval    []string                  `json:"requireApproval,omitempty"`
	ApprovalTTLMinutes int                       `json:"approvalTtlMinutes,omitempty"`
}

type CronJobConfig struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Schedule string `json:"schedule"`
	Agent    string `json:"agent,omitempty"`
	Message  string `json:"message"`
	Channel  string `json:"channel,omitempty"`
	ChatID   string `json:"chatId,omitempty"`
}

type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"serviceName,omitempty"`
}

// ResolveDefaultAgentID returns the configured fallback agent, or
// "general" when none is set.
func (c *Config) ResolveDefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Agents.Default != "" {
		return c.Agents.Default
	}
	return "general"
}

// AgentIDs returns the configured capability agent ids, always including
// the default.
func (c *Config) AgentIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def := c.Agents.Default
	if def == "" {
		def = "general"
	}
	ids := []string{def}
	for id := range c.Agents.List {
		if id != def {
			ids = append(ids, id)
		}
	}
	return ids
}
