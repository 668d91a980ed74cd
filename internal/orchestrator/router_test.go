package orchestrator

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"testing"
)

type stubClassifier struct {
	plan Plan
	err  error
}

func (s *stubClassifier) Classify(ctx context.Context, prompt string, flags ContextFlags) (Plan, error) {
	return s.plan, s.err
}

func TestRouteKeywordRules(t *testing.T) {
	r := NewRouter(RouterConfig{
		Rules: []Rule{
			{AgentID: "calendar", Keywords: []string{"meeting", "schedule"}},
			{AgentID: "search", Keywords: []string{"look up"}},
		},
		AgentIDs: []string{"calendar", "search"},
	})

	tests := []struct {
		name   string
		prompt string
		want   []string
	}{
		{"single keyword", "Schedule a MEETING tomorrow", []string{"calendar"}},
		{"multiple domains", "look up the agenda and schedule it", []string{"calendar", "search"}},
		{"no match", "hello there", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := r.Route(context.Background(), tt.prompt, ContextFlags{})
			got := plan.AgentIDs()
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("agents = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRoutePatternRules(t *testing.T) {
	r := NewRouter(RouterConfig{
		Rules: []Rule{
			{AgentID: "links", Patterns: []*regexp.Regexp{regexp.MustCompile(`https?://\S+`)}},
		},
		AgentIDs: []string{"links"},
	})

	plan := r.Route(context.Background(), "summarize https://example.com/post", ContextFlags{})
	if len(plan) != 1 || plan[0].AgentID != "links" {
		t.Fatalf("plan = %+v, want links", plan)
	}
	if plan[0].Reason == "" {
		t.Error("fired rule should carry a reason")
	}
}

func TestRouteClassifierFallback(t *testing.T) {
	cls := &stubClassifier{plan: Plan{
		{AgentID: "general", Reason: "classified"},
		{AgentID: "impostor", Reason: "made up"},
		{AgentID: "general", Reason: "dup"},
	}}
	r := NewRouter(RouterConfig{
		Rules:      []Rule{{AgentID: "calendar", Keywords: []string{"meeting"}}},
		AgentIDs:   []string{"general", "calendar"},
		Classifier: cls,
	})

	// Rule fires: classifier not consulted.
	plan := r.Route(context.Background(), "plan the meeting", ContextFlags{})
	if got := plan.AgentIDs(); !reflect.DeepEqual(got, []string{"calendar"}) {
		t.Errorf("rule hit should bypass classifier, got %v", got)
	}

	// No rule: classifier output validated against the known set, deduped.
	plan = r.Route(context.Background(), "something else", ContextFlags{})
	if got := plan.AgentIDs(); !reflect.DeepEqual(got, []string{"general"}) {
		t.Errorf("agents = %v, want validated [general]", got)
	}
}

func TestRouteClassifierErrorMeansEmptyPlan(t *testing.T) {
	r := NewRouter(RouterConfig{
		AgentIDs:   []string{"general"},
		Classifier: &stubClassifier{err: errors.New("upstream down")},
	})
	plan := r.Route(context.Background(), "anything", ContextFlags{})
	if len(plan) != 0 {
		t.Errorf("plan = %+v, want empty on classifier failure", plan)
	}
}

func TestApplyRoutingPolicy(t *testing.T) {
	base := Plan{{AgentID: "a"}, {AgentID: "b"}, {AgentID: "c"}}

	tests := []struct {
		name  string
		allow []string
		deny  []string
		want  []string
	}{
		{"no filters", nil, nil, []string{"a", "b", "c"}},
		{"deny removes", nil, []string{"b"}, []string{"a", "c"}},
		{"allow keeps only listed", []string{"c"}, nil, []string{"c"}},
		{"deny beats allow", []string{"a", "b"}, []string{"a"}, []string{"b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyRoutingPolicy(base, tt.allow, tt.deny).AgentIDs()
			want := tt.want
			if len(got) == 0 && len(want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("agents = %v, want %v", got, want)
			}
		})
	}
}
