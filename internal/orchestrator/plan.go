// Package orchestrator classifies a request into capability domains and
// runs each domain's agent under per-agent budgets with bounded
// parallelism.
package orchestrator

// PlanEntry is one routed capability domain with the signal that chose it.
type PlanEntry struct {
	AgentID string `json:"agentId"`
	Reason  string `json:"reason"`
}

// Plan is the ordered set of domains to run for one request. A plan with
// zero agents is valid; the runner then performs no work.
type Plan []PlanEntry

// AgentIDs returns the plan's agent ids in order.
func (p Plan) AgentIDs() []string {
	ids := make([]string, len(p))
	for i, e := range p {
		ids[i] = e.AgentID
	}
	return ids
}

// ApplyRoutingPolicy filters the plan by agent-id sets: deny removes
// matching entries; when allow is non-empty, only listed entries survive.
func ApplyRoutingPolicy(plan Plan, allow, deny []string) Plan {
	denySet := make(map[string]bool, len(deny))
	for _, id := range deny {
		denySet[id] = true
	}
	allowSet := make(map[string]bool, len(allow))
	for _, id := range allow {
		allowSet[id] = true
	}

	var out Plan
	for _, e := range plan {
		if denySet[e.AgentID] {
			continue
		}
		if len(allowSet) > 0 && !allowSet[e.AgentID] {
			continue
		}
		out = append(out, e)
	}
	return out
}
