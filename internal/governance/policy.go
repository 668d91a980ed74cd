// Package governance gates every tool invocation: layered allow/deny
// policy, per-sender overrides, operator approvals, and per-tool rate
// limits. One engine instance is shared by all concurrent runs.
package governance

// Policy is one allow/deny scope. An empty Allow means "allow everything
// not denied"; a non-empty Allow narrows to only the listed tools. Deny
// always wins.
type Policy struct {
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
}

// MergedPolicy is the effective policy after folding scopes top to bottom
// (global → surface → chat).
type MergedPolicy struct {
	allow map[string]bool // nil = allow all not denied
	deny  map[string]bool
}

// MergePolicies folds scopes in order. Deny entries accumulate across all
// scopes; each non-empty Allow narrows the surviving set further.
func MergePolicies(scopes ...Policy) MergedPolicy {
	m := MergedPolicy{deny: make(map[string]bool)}
	for _, p := range scopes {
		for _, d := range p.Deny {
			m.deny[d] = true
		}
		if len(p.Allow) == 0 {
			continue
		}
		next := make(map[string]bool, len(p.Allow))
		for _, a := range p.Allow {
			if m.allow == nil || m.allow[a] {
				next[a] = true
			}
		}
		m.allow = next
	}
	return m
}

// Denies reports whether any scope explicitly denied the tool.
func (m MergedPolicy) Denies(tool string) bool {
	return m.deny[tool]
}

// Allows reports whether the tool survives the merged policy.
func (m MergedPolicy) Allows(tool string) bool {
	if m.deny[tool] {
		return false
	}
	if m.allow != nil && !m.allow[tool] {
		return false
	}
	return true
}
