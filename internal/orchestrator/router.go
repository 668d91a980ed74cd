package orchestrator

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// Rule matches a request against one capability domain. A rule fires when
// any keyword appears in the lowercased prompt or any pattern matches.
type Rule struct {
	AgentID  string
	Keywords []string
	Patterns []*regexp.Regexp
	Reason   string
}

// ContextFlags carry request-level routing hints from the ingress layer.
type ContextFlags struct {
	Surface   string // "private", "group", "broadcast"
	HasMedia  bool
	IsCommand bool
}

// Classifier is the external LLM-assisted classification boundary, used
// only when no rule fires conclusively. Free text in, routed entries out;
// results are validated against the known agent-id set before use.
type Classifier interface {
	Classify(ctx context.Context, prompt string, flags ContextFlags) (Plan, error)
}

// Router produces an execution plan for one request.
type Router struct {
	rules      []Rule
	known      map[string]bool
	classifier Classifier // nil = rules only
	allow      []string
	deny       []string
}

// RouterConfig configures a Router.
type RouterConfig struct {
	Rules      []Rule
	AgentIDs   []string // the fixed enum of valid agent ids
	Classifier Classifier
	Allow      []string
	Deny       []string
}

func NewRouter(cfg RouterConfig) *Router {
	known := make(map[string]bool, len(cfg.AgentIDs))
	for _, id := range cfg.AgentIDs {
		known[id] = true
	}
	return &Router{
		rules:      cfg.Rules,
		known:      known,
		classifier: cfg.Classifier,
		allow:      cfg.Allow,
		deny:       cfg.Deny,
	}
}

// Route classifies the prompt into zero or more capability domains and
// applies the allow/deny agent filters. Rule matching runs first; the
// classifier is consulted only when no rule fires.
func (r *Router) Route(ctx context.Context, prompt string, flags ContextFlags) Plan {
	plan := r.matchRules(prompt)

	if len(plan) == 0 && r.classifier != nil {
		classified, err := r.classifier.Classify(ctx, prompt, flags)
		if err != nil {
			slog.Warn("router: classifier failed, returning empty plan", "error", err)
		} else {
			plan = r.validate(classified)
		}
	}

	plan = ApplyRoutingPolicy(plan, r.allow, r.deny)
	slog.Debug("router: plan built", "agents", plan.AgentIDs(), "prompt_len", len(prompt))
	return plan
}

func (r *Router) matchRules(prompt string) Plan {
	lower := strings.ToLower(prompt)
	var plan Plan
	seen := make(map[string]bool)

	for _, rule := range r.rules {
		if seen[rule.AgentID] {
			continue
		}
		if reason, ok := rule.match(lower, prompt); ok {
			plan = append(plan, PlanEntry{AgentID: rule.AgentID, Reason: reason})
			seen[rule.AgentID] = true
		}
	}
	return plan
}

func (rule Rule) match(lower, original string) (string, bool) {
	for _, kw := range rule.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			if rule.Reason != "" {
				return rule.Reason, true
			}
			return "keyword: " + kw, true
		}
	}
	for _, p := range rule.Patterns {
		if p.MatchString(original) {
			if rule.Reason != "" {
				return rule.Reason, true
			}
			return "pattern: " + p.String(), true
		}
	}
	return "", false
}

// validate drops classifier entries whose agent id is not in the known
// enum, and de-duplicates.
func (r *Router) validate(plan Plan) Plan {
	var out Plan
	seen := make(map[string]bool)
	for _, e := range plan {
		if !r.known[e.AgentID] {
			slog.Warn("router: classifier returned unknown agent", "agent", e.AgentID)
			continue
		}
		if seen[e.AgentID] {
			continue
		}
		seen[e.AgentID] = true
		out = append(out, e)
	}
	return out
}
