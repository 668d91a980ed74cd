package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Storage: StorageConfig{
			Backend: "memory",
		},
		Queue: QueueConfig{
			LeaseSeconds: 60,
			LedgerCap:    2000,
		},
		Dedupe: DedupeConfig{
			TTLMinutes: 20,
			MaxPerChat: 64,
		},
		Consumer: ConsumerConfig{
			Workers:          2,
			BackoffBaseMs:    2000,
			BackoffCapMs:     300000,
			MaxAttempts:      5,
			PreemptOnInbound: true,
		},
		Agents: AgentsConfig{
			Default:     "general",
			Parallelism: 1,
			Defaults: AgentSpec{
				MaxSteps:       8,
				MaxToolCalls:   20,
				TimeoutSeconds: 120,
			},
		},
		Governance: GovernanceConfig{
			ApprovalTTLMinutes: 30,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "turnpike",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("TURNPIKE_LOG_LEVEL", &c.LogLevel)

	envStr("TURNPIKE_STORAGE_BACKEND", &c.Storage.Backend)
	envStr("TURNPIKE_STORAGE_PATH", &c.Storage.Path)
	envStr("TURNPIKE_POSTGRES_DSN", &c.Storage.DSN)
	if c.Storage.DSN != "" && os.Getenv("TURNPIKE_STORAGE_BACKEND") == "" &&
		strings.HasPrefix(c.Storage.DSN, "postgres") {
		c.Storage.Backend = "postgres"
	}

	envInt("TURNPIKE_QUEUE_LEASE_SECONDS", &c.Queue.LeaseSeconds)
	envInt("TURNPIKE_QUEUE_LEDGER_CAP", &c.Queue.LedgerCap)

	envInt("TURNPIKE_CONSUMER_WORKERS", &c.Consumer.Workers)
	envInt("TURNPIKE_CONSUMER_MAX_ATTEMPTS", &c.Consumer.MaxAttempts)
	envBool("TURNPIKE_CONSUMER_PREEMPT", &c.Consumer.PreemptOnInbound)

	envStr("TURNPIKE_DEFAULT_AGENT", &c.Agents.Default)
	envInt("TURNPIKE_PARALLELISM", &c.Agents.Parallelism)

	envBool("TURNPIKE_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("TURNPIKE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envBool("TURNPIKE_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
	envStr("TURNPIKE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
}
